package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	// HeaderKey carries the client's idempotency key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplayed is set on responses served from a stored record.
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength = 255
)

// bodyRecorder copies everything written to the client.
type bodyRecorder struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays stored responses for repeated Idempotency-Key values.
// Requests without the header pass through unchanged. Responses with a 5xx
// status are not stored, so the client may retry them.
func Middleware(store Store, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "idempotency key is too long"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		ctx := c.Request.Context()
		rec, err := store.Reserve(ctx, key, Fingerprint(c.Request.Method, c.FullPath(), body))
		switch {
		case errors.Is(err, ErrInFlight):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"detail": "a request with this idempotency key is in progress"})
			return
		case errors.Is(err, ErrMismatch):
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": "idempotency key was used with a different request"})
			return
		case err != nil:
			log.WithError(err).Error("Idempotency store unavailable")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "idempotency store unavailable"})
			return
		case rec != nil:
			c.Header(HeaderReplayed, "true")
			c.Data(rec.Status, "application/json; charset=utf-8", rec.Body)
			c.Abort()
			return
		}

		recorder := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = recorder
		c.Next()

		status := recorder.Status()
		if status >= http.StatusInternalServerError {
			if err := store.Release(ctx, key); err != nil {
				log.WithError(err).WithField("idempotency_key", key).Warn("Failed to release idempotency key")
			}
			return
		}
		if err := store.Complete(ctx, key, Record{
			Fingerprint: Fingerprint(c.Request.Method, c.FullPath(), body),
			Status:      status,
			Body:        recorder.buf.Bytes(),
		}); err != nil {
			log.WithError(err).WithField("idempotency_key", key).Error("Failed to store idempotent response")
		}
	}
}
