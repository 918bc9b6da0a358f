package ports

import (
	"context"

	"github.com/opentrade/opentrade/internal/domain"
)

// Small capability interfaces shared across layers (coordinator/risk/execution).

type SnapshotProvider interface {
	// Snapshot returns the market view for one evaluation cycle.
	Snapshot(ctx context.Context, symbol string) (*domain.MarketSnapshot, error)
}

type OrderSubmitter interface {
	// SubmitOrder sends the order to the venue. The client order id makes the
	// call idempotent on the venue side.
	SubmitOrder(ctx context.Context, order *domain.Order) (venueOrderID string, err error)
}

type OrderCanceler interface {
	CancelOrder(ctx context.Context, clientOrderID string) error
}

type OrderQuerier interface {
	// QueryOrder returns the venue's view of the order, keyed by client order id.
	QueryOrder(ctx context.Context, clientOrderID string) (*domain.Order, error)
}

// Venue is the full exchange surface the execution engine depends on.
type Venue interface {
	OrderSubmitter
	OrderCanceler
	OrderQuerier
}

// TradeReporter receives execution outcomes; the circuit breaker is the
// primary consumer.
type TradeReporter interface {
	ReportTrade(strategyID string, pnl float64)
}

// AuditSink records risk verdicts for later review.
type AuditSink interface {
	RecordVerdict(ctx context.Context, d *domain.Decision, v *domain.Verdict) error
}
