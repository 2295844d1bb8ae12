// Package store defines the relational persistence contract for budget
// limits, spending trackers, emergency stops, and price alerts — the rows
// spec.md §3/§6 calls out as external collaborators of the budget engine
// and price monitor. internal/store/postgres and internal/store/memory
// provide the two implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/riskgateway/platform/internal/money"
)

// ErrNotFound is returned when a lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// BudgetLimits is the per-user cap configuration (spec.md §3).
type BudgetLimits struct {
	UserID           string
	DailyCap         money.Amount
	WeeklyCap        money.Amount
	MonthlyCap       money.Amount
	MaxPerItem       money.Amount
	TotalBudget      money.Amount
	EmergencyStop    money.Amount
	ReserveAmount    money.Amount
	Currency         string
	UpdatedAt        time.Time
}

// SpendingTracker is the per-user accumulator row (spec.md §3). Exactly one
// exists per user at any time.
type SpendingTracker struct {
	UserID             string
	TrackerDate        time.Time
	AccumulatedDaily   money.Amount
	AccumulatedWeekly  money.Amount
	AccumulatedMonthly money.Amount
	AccumulatedTotal   money.Amount
	TransactionCount   int64
	AverageTransaction money.Amount
	LargestTransaction money.Amount
	UpdatedAt          time.Time
}

// EmergencyStop is a trigger/resolution record (spec.md §3).
type EmergencyStop struct {
	ID          string
	UserID      string
	Reason      string
	TriggeredBy string // system|user|external
	Active      bool
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	ResolvedBy  string
}

// PriceAlert is a user-configured watch on a moment or player (spec.md §3).
type PriceAlert struct {
	ID          string
	UserID      string
	MomentID    string
	PlayerID    string
	Type        string // price_drop|price_increase|volume_spike|new_listing|arbitrage
	Threshold   money.Amount
	Current     money.Amount
	Active      bool
	Triggered   bool
	TriggeredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the relational persistence contract consumed by the budget
// engine and price monitor.
type Store interface {
	GetBudgetLimits(ctx context.Context, userID string) (*BudgetLimits, error)
	UpsertBudgetLimits(ctx context.Context, limits *BudgetLimits) error

	GetSpendingTracker(ctx context.Context, userID string) (*SpendingTracker, error)
	UpsertSpendingTracker(ctx context.Context, tracker *SpendingTracker) error
	ResetDailyTrackers(ctx context.Context, asOf time.Time) error
	ResetWeeklyTrackers(ctx context.Context, asOf time.Time) error
	ResetMonthlyTrackers(ctx context.Context, asOf time.Time) error

	CreateEmergencyStop(ctx context.Context, stop *EmergencyStop) error
	GetActiveEmergencyStop(ctx context.Context, userID string) (*EmergencyStop, error)
	ResolveEmergencyStop(ctx context.Context, id, resolvedBy string) error

	CreatePriceAlert(ctx context.Context, alert *PriceAlert) error
	UpdatePriceAlert(ctx context.Context, alert *PriceAlert) error
	GetPriceAlert(ctx context.Context, id string) (*PriceAlert, error)
	ListActivePriceAlerts(ctx context.Context) ([]*PriceAlert, error)
}
