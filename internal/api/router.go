package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/yourorg/card-orchestrator/internal/idempotency"
	"github.com/yourorg/card-orchestrator/internal/metrics"
	"github.com/yourorg/card-orchestrator/internal/monitor"
)

// RouterOptions configures the middleware around the payment routes.
type RouterOptions struct {
	ServiceName string
	// Contracts are the request schemas keyed by monitor contract name.
	// Routes whose contract is missing skip the schema check.
	Contracts map[string]*monitor.ContractMonitor
	// Idempotency stores replayable responses; nil disables the
	// Idempotency-Key header.
	Idempotency    idempotency.Store
	StaleThreshold time.Duration
	Log            logrus.FieldLogger
}

// NewRouter wires the handlers into a gin engine.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "card-orchestrator"
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 15 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = h.log
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(metrics.PrometheusMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	post := func(contract string, handler gin.HandlerFunc) []gin.HandlerFunc {
		var chain []gin.HandlerFunc
		if cm, ok := opts.Contracts[contract]; ok {
			chain = append(chain, cm.Middleware())
		}
		if opts.Idempotency != nil {
			chain = append(chain, idempotency.Middleware(opts.Idempotency, opts.Log))
		}
		return append(chain, handler)
	}

	payments := r.Group("/payments")
	{
		payments.GET("/health", h.Health)
		payments.POST("/purchase", post(monitor.ContractPayment, h.Purchase)...)
		payments.POST("/authorize", post(monitor.ContractPayment, h.Authorize)...)
		payments.POST("/capture", post(monitor.ContractCapture, h.Capture)...)
		payments.POST("/cancel", post(monitor.ContractCancel, h.Cancel)...)
		payments.POST("/refund", post(monitor.ContractRefund, h.Refund)...)
		payments.GET("/orders/:id", h.Order)
	}

	if h.reporter != nil {
		reports := r.Group("/reports")
		reports.GET("/retrospective", h.Retrospective)
		reports.GET("/stale-pending", func(c *gin.Context) { h.StalePending(c, opts.StaleThreshold) })
	}
	return r
}
