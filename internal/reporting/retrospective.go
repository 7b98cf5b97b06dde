// Package reporting summarises ledger activity and finds transactions left
// pending by an interrupted operation.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/card-orchestrator/internal/ledger"
	"github.com/yourorg/card-orchestrator/internal/metrics"
	"github.com/yourorg/card-orchestrator/internal/outcome"
)

// RetrospectiveReport summarizes payment activity over a set of transactions.
type RetrospectiveReport struct {
	TotalTransactions int                 `json:"total_transactions"`
	Successful        int                 `json:"successful"`
	Failed            int                 `json:"failed"`
	Pending           int                 `json:"pending"`
	ByKind            map[ledger.Kind]int `json:"by_kind"`

	// AmountByCurrency sums successful amounts per currency and kind, so
	// refunds and voids are never added to charges.
	AmountByCurrency   map[string]map[ledger.Kind]decimal.Decimal `json:"amount_by_currency"`
	ErrorBreakdown     map[string]int                             `json:"error_breakdown"` // failure code -> count
	DateFrom           time.Time                                  `json:"date_from"`
	DateTo             time.Time                                  `json:"date_to"`
	ProcessingDuration time.Duration                              `json:"processing_duration"`
}

// StaleReport lists transactions still pending after the threshold.
type StaleReport struct {
	Threshold    time.Duration        `json:"threshold"`
	CheckedAt    time.Time            `json:"checked_at"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// RetrospectiveReporter generates reports from a ledger store.
type RetrospectiveReporter struct {
	store ledger.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// NewRetrospectiveReporter creates a new RetrospectiveReporter.
func NewRetrospectiveReporter(store ledger.Store, log logrus.FieldLogger) *RetrospectiveReporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RetrospectiveReporter{store: store, log: log, now: time.Now}
}

// Generate loads the transactions matching filter and summarizes them,
// resolving each transaction's currency from its order.
func (rr *RetrospectiveReporter) Generate(ctx context.Context, filter ledger.Filter) (*RetrospectiveReport, error) {
	txs, err := rr.store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	currencies := make(map[string]string)
	for _, tx := range txs {
		if _, ok := currencies[tx.OrderID]; ok {
			continue
		}
		order, err := rr.store.FindOrder(ctx, tx.OrderID)
		if err != nil {
			rr.log.WithError(err).WithField("order_id", tx.OrderID).Warn("Order missing for transaction")
			currencies[tx.OrderID] = ""
			continue
		}
		currencies[tx.OrderID] = order.Currency
	}
	return GenerateRetrospective(txs, currencies), nil
}

// GenerateRetrospective analyzes txs and produces a RetrospectiveReport.
// currencies maps order ID to currency; orders missing from it are
// reported under "unknown".
func GenerateRetrospective(txs []ledger.Transaction, currencies map[string]string) *RetrospectiveReport {
	report := &RetrospectiveReport{
		ByKind:           make(map[ledger.Kind]int),
		AmountByCurrency: make(map[string]map[ledger.Kind]decimal.Decimal),
		ErrorBreakdown:   make(map[string]int),
	}
	return report.add(txs, currencies)
}

func (r *RetrospectiveReport) add(txs []ledger.Transaction, currencies map[string]string) *RetrospectiveReport {
	for i, tx := range txs {
		r.TotalTransactions++
		r.ByKind[tx.Kind]++

		if i == 0 || tx.CreatedAt.Before(r.DateFrom) {
			r.DateFrom = tx.CreatedAt
		}
		if i == 0 || tx.CreatedAt.After(r.DateTo) {
			r.DateTo = tx.CreatedAt
		}

		switch tx.Status {
		case ledger.TxSuccess:
			r.Successful++
			cur := currencies[tx.OrderID]
			if cur == "" {
				cur = "unknown"
			}
			byKind, ok := r.AmountByCurrency[cur]
			if !ok {
				byKind = make(map[ledger.Kind]decimal.Decimal)
				r.AmountByCurrency[cur] = byKind
			}
			byKind[tx.Kind] = byKind[tx.Kind].Add(tx.Amount)
		case ledger.TxFailed:
			r.Failed++
			if code := outcome.FailureCode(tx.RawOutcome); code != "" {
				r.ErrorBreakdown[code]++
			}
		case ledger.TxPending:
			r.Pending++
		}
	}
	r.ProcessingDuration = r.DateTo.Sub(r.DateFrom)
	return r
}

// FindStalePending returns the transactions still pending after threshold.
// They mark a gateway call whose outcome was never recorded; nothing is
// re-queried or changed here.
func (rr *RetrospectiveReporter) FindStalePending(ctx context.Context, threshold time.Duration) (*StaleReport, error) {
	now := rr.now().UTC()
	txs, err := rr.store.ListTransactions(ctx, ledger.Filter{
		Status:        ledger.TxPending,
		CreatedBefore: now.Add(-threshold),
	})
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	metrics.StalePendingTransactions.Set(float64(len(txs)))

	for _, tx := range txs {
		rr.log.WithFields(logrus.Fields{
			"transaction_id": tx.ID,
			"order_id":       tx.OrderID,
			"kind":           tx.Kind,
			"created_at":     tx.CreatedAt,
		}).Warn("Stale pending transaction, manual reconciliation required")
	}
	return &StaleReport{Threshold: threshold, CheckedAt: now, Transactions: txs}, nil
}
