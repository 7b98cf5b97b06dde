// Package idempotency lets clients retry POST requests safely by sending an
// Idempotency-Key header. The first request with a key is executed and its
// response stored; later requests with the same key and body get the stored
// response back instead of creating another payment.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrInFlight is returned by Reserve when another request holds the key.
	ErrInFlight = errors.New("idempotency: request with this key is in progress")
	// ErrMismatch is returned by Reserve when the key was used with a
	// different request.
	ErrMismatch = errors.New("idempotency: key reused with a different request")
)

// Record is the stored state of a key.
type Record struct {
	Fingerprint string `json:"fingerprint"`
	Completed   bool   `json:"completed"`
	Status      int    `json:"status,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Store persists idempotency records.
type Store interface {
	// Reserve claims key for a request with fingerprint. It returns the
	// stored record when the key already completed, ErrInFlight when it is
	// reserved but not complete, and ErrMismatch when the fingerprints
	// differ. A nil record and nil error mean the caller owns the key.
	Reserve(ctx context.Context, key, fingerprint string) (*Record, error)
	// Complete stores the response for a reserved key.
	Complete(ctx context.Context, key string, rec Record) error
	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

// Fingerprint identifies a request by method, route and body.
func Fingerprint(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// check resolves an existing record against a new request.
func check(existing Record, fingerprint string) (*Record, error) {
	if existing.Fingerprint != fingerprint {
		return nil, ErrMismatch
	}
	if !existing.Completed {
		return nil, ErrInFlight
	}
	return &existing, nil
}

const defaultTTL = 24 * time.Hour
