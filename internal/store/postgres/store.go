// Package postgres implements internal/store.Store on PostgreSQL, grounded
// on the pack's jam.PGStore (r3e-network-service_layer/internal/app/jam/store_pg.go):
// plain context-scoped SQL, explicit transactions where a write touches more
// than one row, sql.ErrNoRows translated to the package's sentinel error.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
)

// Store implements store.Store on top of a sqlx.DB connected to Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects to dsn, pings it, and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

type budgetLimitsRow struct {
	UserID        string    `db:"user_id"`
	DailyCap      string    `db:"daily_cap"`
	WeeklyCap     string    `db:"weekly_cap"`
	MonthlyCap    string    `db:"monthly_cap"`
	MaxPerItem    string    `db:"max_per_item"`
	TotalBudget   string    `db:"total_budget"`
	EmergencyStop string    `db:"emergency_stop"`
	ReserveAmount string    `db:"reserve_amount"`
	Currency      string    `db:"currency"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r budgetLimitsRow) toDomain() (*store.BudgetLimits, error) {
	limits := &store.BudgetLimits{UserID: r.UserID, Currency: r.Currency, UpdatedAt: r.UpdatedAt}
	var err error
	if limits.DailyCap, err = money.NewFromString(r.DailyCap); err != nil {
		return nil, err
	}
	if limits.WeeklyCap, err = money.NewFromString(r.WeeklyCap); err != nil {
		return nil, err
	}
	if limits.MonthlyCap, err = money.NewFromString(r.MonthlyCap); err != nil {
		return nil, err
	}
	if limits.MaxPerItem, err = money.NewFromString(r.MaxPerItem); err != nil {
		return nil, err
	}
	if limits.TotalBudget, err = money.NewFromString(r.TotalBudget); err != nil {
		return nil, err
	}
	if limits.EmergencyStop, err = money.NewFromString(r.EmergencyStop); err != nil {
		return nil, err
	}
	if limits.ReserveAmount, err = money.NewFromString(r.ReserveAmount); err != nil {
		return nil, err
	}
	return limits, nil
}

func (s *Store) GetBudgetLimits(ctx context.Context, userID string) (*store.BudgetLimits, error) {
	var row budgetLimitsRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, daily_cap, weekly_cap, monthly_cap, max_per_item,
		       total_budget, emergency_stop, reserve_amount, currency, updated_at
		FROM budget_limits WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) UpsertBudgetLimits(ctx context.Context, limits *store.BudgetLimits) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget_limits
			(user_id, daily_cap, weekly_cap, monthly_cap, max_per_item, total_budget,
			 emergency_stop, reserve_amount, currency, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (user_id) DO UPDATE SET
			daily_cap = EXCLUDED.daily_cap,
			weekly_cap = EXCLUDED.weekly_cap,
			monthly_cap = EXCLUDED.monthly_cap,
			max_per_item = EXCLUDED.max_per_item,
			total_budget = EXCLUDED.total_budget,
			emergency_stop = EXCLUDED.emergency_stop,
			reserve_amount = EXCLUDED.reserve_amount,
			currency = EXCLUDED.currency,
			updated_at = now()
	`, limits.UserID, limits.DailyCap, limits.WeeklyCap, limits.MonthlyCap, limits.MaxPerItem,
		limits.TotalBudget, limits.EmergencyStop, limits.ReserveAmount, limits.Currency)
	return err
}

type spendingTrackerRow struct {
	UserID             string    `db:"user_id"`
	TrackerDate        time.Time `db:"tracker_date"`
	AccumulatedDaily   string    `db:"accumulated_daily"`
	AccumulatedWeekly  string    `db:"accumulated_weekly"`
	AccumulatedMonthly string    `db:"accumulated_monthly"`
	AccumulatedTotal   string    `db:"accumulated_total"`
	TransactionCount   int64     `db:"transaction_count"`
	AverageTransaction string    `db:"average_transaction"`
	LargestTransaction string    `db:"largest_transaction"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (r spendingTrackerRow) toDomain() (*store.SpendingTracker, error) {
	t := &store.SpendingTracker{
		UserID:           r.UserID,
		TrackerDate:      r.TrackerDate,
		TransactionCount: r.TransactionCount,
		UpdatedAt:        r.UpdatedAt,
	}
	var err error
	if t.AccumulatedDaily, err = money.NewFromString(r.AccumulatedDaily); err != nil {
		return nil, err
	}
	if t.AccumulatedWeekly, err = money.NewFromString(r.AccumulatedWeekly); err != nil {
		return nil, err
	}
	if t.AccumulatedMonthly, err = money.NewFromString(r.AccumulatedMonthly); err != nil {
		return nil, err
	}
	if t.AccumulatedTotal, err = money.NewFromString(r.AccumulatedTotal); err != nil {
		return nil, err
	}
	if t.AverageTransaction, err = money.NewFromString(r.AverageTransaction); err != nil {
		return nil, err
	}
	if t.LargestTransaction, err = money.NewFromString(r.LargestTransaction); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) GetSpendingTracker(ctx context.Context, userID string) (*store.SpendingTracker, error) {
	var row spendingTrackerRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, tracker_date, accumulated_daily, accumulated_weekly, accumulated_monthly,
		       accumulated_total, transaction_count, average_transaction, largest_transaction, updated_at
		FROM spending_trackers WHERE user_id = $1
	`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain()
}

func (s *Store) UpsertSpendingTracker(ctx context.Context, t *store.SpendingTracker) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spending_trackers
			(user_id, tracker_date, accumulated_daily, accumulated_weekly, accumulated_monthly,
			 accumulated_total, transaction_count, average_transaction, largest_transaction, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		ON CONFLICT (user_id) DO UPDATE SET
			tracker_date = EXCLUDED.tracker_date,
			accumulated_daily = EXCLUDED.accumulated_daily,
			accumulated_weekly = EXCLUDED.accumulated_weekly,
			accumulated_monthly = EXCLUDED.accumulated_monthly,
			accumulated_total = EXCLUDED.accumulated_total,
			transaction_count = EXCLUDED.transaction_count,
			average_transaction = EXCLUDED.average_transaction,
			largest_transaction = EXCLUDED.largest_transaction,
			updated_at = now()
	`, t.UserID, t.TrackerDate, t.AccumulatedDaily, t.AccumulatedWeekly, t.AccumulatedMonthly,
		t.AccumulatedTotal, t.TransactionCount, t.AverageTransaction, t.LargestTransaction)
	return err
}

func (s *Store) ResetDailyTrackers(ctx context.Context, asOf time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spending_trackers SET accumulated_daily = 0, tracker_date = $1, updated_at = now()
	`, asOf)
	return err
}

func (s *Store) ResetWeeklyTrackers(ctx context.Context, asOf time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spending_trackers SET accumulated_weekly = 0, updated_at = now()
	`)
	_ = asOf
	return err
}

func (s *Store) ResetMonthlyTrackers(ctx context.Context, asOf time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spending_trackers SET accumulated_monthly = 0, updated_at = now()
	`)
	_ = asOf
	return err
}

func (s *Store) CreateEmergencyStop(ctx context.Context, stop *store.EmergencyStop) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO emergency_stops (id, user_id, reason, triggered_by, active, triggered_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, stop.ID, stop.UserID, stop.Reason, stop.TriggeredBy, stop.TriggeredAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetActiveEmergencyStop(ctx context.Context, userID string) (*store.EmergencyStop, error) {
	var stop store.EmergencyStop
	var resolvedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, reason, triggered_by, active, triggered_at, resolved_at, resolved_by
		FROM emergency_stops WHERE user_id = $1 AND active LIMIT 1
	`, userID).Scan(&stop.ID, &stop.UserID, &stop.Reason, &stop.TriggeredBy, &stop.Active,
		&stop.TriggeredAt, &stop.ResolvedAt, &resolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	stop.ResolvedBy = resolvedBy.String
	return &stop, nil
}

func (s *Store) ResolveEmergencyStop(ctx context.Context, id, resolvedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE emergency_stops SET active = false, resolved_at = now(), resolved_by = $2
		WHERE id = $1
	`, id, resolvedBy)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreatePriceAlert(ctx context.Context, alert *store.PriceAlert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_alerts
			(id, user_id, moment_id, player_id, type, threshold, current, active, triggered,
			 triggered_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
	`, alert.ID, alert.UserID, alert.MomentID, alert.PlayerID, alert.Type, alert.Threshold,
		alert.Current, alert.Active, alert.Triggered, alert.TriggeredAt, alert.CreatedAt)
	return err
}

func (s *Store) UpdatePriceAlert(ctx context.Context, alert *store.PriceAlert) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE price_alerts SET current = $2, active = $3, triggered = $4, triggered_at = $5, updated_at = now()
		WHERE id = $1
	`, alert.ID, alert.Current, alert.Active, alert.Triggered, alert.TriggeredAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetPriceAlert(ctx context.Context, id string) (*store.PriceAlert, error) {
	alert := &store.PriceAlert{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, moment_id, player_id, type, threshold, current, active, triggered,
		       triggered_at, created_at, updated_at
		FROM price_alerts WHERE id = $1
	`, id).Scan(&alert.ID, &alert.UserID, &alert.MomentID, &alert.PlayerID, &alert.Type,
		&alert.Threshold, &alert.Current, &alert.Active, &alert.Triggered, &alert.TriggeredAt,
		&alert.CreatedAt, &alert.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return alert, nil
}

func (s *Store) ListActivePriceAlerts(ctx context.Context) ([]*store.PriceAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, moment_id, player_id, type, threshold, current, active, triggered,
		       triggered_at, created_at, updated_at
		FROM price_alerts WHERE active
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*store.PriceAlert
	for rows.Next() {
		alert := &store.PriceAlert{}
		if err := rows.Scan(&alert.ID, &alert.UserID, &alert.MomentID, &alert.PlayerID, &alert.Type,
			&alert.Threshold, &alert.Current, &alert.Active, &alert.Triggered, &alert.TriggeredAt,
			&alert.CreatedAt, &alert.UpdatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

var _ store.Store = (*Store)(nil)
