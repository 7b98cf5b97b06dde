package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/card-orchestrator/internal/adapter"
	"github.com/yourorg/card-orchestrator/internal/adapter/authorizenet"
	adaptermock "github.com/yourorg/card-orchestrator/internal/adapter/mock"
	"github.com/yourorg/card-orchestrator/internal/api"
	"github.com/yourorg/card-orchestrator/internal/config"
	"github.com/yourorg/card-orchestrator/internal/events"
	"github.com/yourorg/card-orchestrator/internal/idempotency"
	"github.com/yourorg/card-orchestrator/internal/ledger"
	"github.com/yourorg/card-orchestrator/internal/ledger/postgres"
	"github.com/yourorg/card-orchestrator/internal/monitor"
	"github.com/yourorg/card-orchestrator/internal/orchestrator"
	"github.com/yourorg/card-orchestrator/internal/policy"
	"github.com/yourorg/card-orchestrator/internal/processor"
	"github.com/yourorg/card-orchestrator/internal/processor/circuitbreaker"
	"github.com/yourorg/card-orchestrator/internal/reporting"
	"github.com/yourorg/card-orchestrator/internal/validation"
)

// app is the wired service.
type app struct {
	router   *gin.Engine
	store    ledger.Store
	reporter *reporting.RetrospectiveReporter
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// buildStore opens the configured ledger.
func buildStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (ledger.Store, func() error, error) {
	switch cfg.Ledger.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Ledger.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewStore(log.WithField("component", "ledger"), pool)
		if cfg.Ledger.Migrate {
			if err := store.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return store, func() error { pool.Close(); return nil }, nil
	default:
		log.Warn("Using the in-memory ledger; records are lost on restart")
		return ledger.NewMemoryStore(), func() error { return nil }, nil
	}
}

func buildGateway(cfg *config.Config) adapter.Gateway {
	if cfg.Gateway.Provider == "authorizenet" {
		gw := authorizenet.NewAdapter(&http.Client{Timeout: cfg.Gateway.Timeout})
		if cfg.Gateway.Endpoint != "" {
			gw = gw.WithEndpoint(cfg.Gateway.Endpoint)
		}
		return gw
	}
	return adaptermock.NewMockAdapter("mock")
}

// buildApp wires every component from cfg.
func buildApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	if err := validation.RegisterWithGin(); err != nil {
		return nil, err
	}
	merchant := cfg.Merchant()
	if err := merchant.Validate(); err != nil {
		return nil, err
	}

	a := &app{}
	store, closeStore, err := buildStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	gateway := buildGateway(cfg)
	breaker := circuitbreaker.NewCircuitBreaker(gateway.Name(), cfg.Gateway.Breaker, log.WithField("component", "breaker"))
	proc := processor.NewProcessor(gateway, breaker, log.WithField("component", "processor"))

	opts := []orchestrator.Option{orchestrator.WithLogger(log.WithField("component", "orchestrator"))}
	if len(cfg.Policy.Rules) > 0 {
		enforcer, err := policy.NewPaymentPolicyEnforcer(cfg.Policy.Rules)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("policy: %w", err)
		}
		opts = append(opts, orchestrator.WithPolicy(enforcer))
		log.WithField("rules", enforcer.Len()).Info("Payment policy rules loaded")
	}
	if cfg.Events.Driver == "kafka" {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Events.Brokers, cfg.Events.Topic))
		a.closers = append(a.closers, publisher.Close)
		opts = append(opts, orchestrator.WithPublisher(publisher))
	}

	var idem idempotency.Store
	switch cfg.Idempotency.Driver {
	case "memory":
		idem = idempotency.NewMemoryStore(cfg.Idempotency.TTL)
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Idempotency.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis is not reachable; keyed requests will get 503 until it is")
		}
		a.closers = append(a.closers, rdb.Close)
		idem = idempotency.NewRedisStore(rdb, cfg.Idempotency.TTL)
	}

	orch := orchestrator.NewOrchestrator(store, proc, orchestrator.Config{
		Merchant:             merchant,
		SerializeByReference: cfg.Orchestrator.SerializeByReference,
		EnforceLifecycle:     cfg.Orchestrator.EnforceLifecycle,
	}, opts...)

	contracts, err := monitor.LoadContracts()
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("contracts: %w", err)
	}

	a.reporter = reporting.NewRetrospectiveReporter(store, log.WithField("component", "reporting"))
	handler := api.NewHandler(orch, store, a.reporter, log.WithField("component", "api"))
	a.router = api.NewRouter(handler, api.RouterOptions{
		ServiceName:    serviceName,
		Contracts:      contracts,
		Idempotency:    idem,
		StaleThreshold: cfg.Reconciliation.PendingThreshold,
		Log:            log.WithField("component", "idempotency"),
	})

	log.WithFields(logrus.Fields{
		"provider":    merchant.Provider,
		"environment": merchant.Environment,
		"credentials": merchant.Credentials.Redacted(),
		"ledger":      cfg.Ledger.Driver,
		"events":      cfg.Events.Driver,
		"idempotency": cfg.Idempotency.Driver,
	}).Info("Payment service configured")
	return a, nil
}
