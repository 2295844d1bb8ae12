package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
)

// ValidateLimits checks the invariants spec.md §3 names for a Budget
// limits row.
func ValidateLimits(l *store.BudgetLimits) error {
	if l.DailyCap.GreaterThan(l.WeeklyCap) {
		return fmt.Errorf("budget: daily cap must not exceed weekly cap")
	}
	if l.WeeklyCap.GreaterThan(l.MonthlyCap) {
		return fmt.Errorf("budget: weekly cap must not exceed monthly cap")
	}
	if l.WeeklyCap.LessThan(l.DailyCap.Mul(money.New(7))) {
		return fmt.Errorf("budget: weekly cap must be at least 7x the daily cap")
	}
	if l.MonthlyCap.LessThan(l.WeeklyCap.Mul(money.New(4))) {
		return fmt.Errorf("budget: monthly cap must be at least 4x the weekly cap")
	}
	if l.EmergencyStop.GreaterThan(l.TotalBudget) {
		return fmt.Errorf("budget: emergency-stop threshold must not exceed total budget")
	}
	if l.ReserveAmount.GreaterThan(l.TotalBudget.Mul(money.New(0.5))) {
		return fmt.Errorf("budget: reserve amount must not exceed half the total budget")
	}
	if l.MaxPerItem.GreaterThan(l.DailyCap) {
		return fmt.Errorf("budget: max-per-item must not exceed the daily cap")
	}
	return nil
}

// pendingChange is a stashed significant limit update awaiting explicit
// confirmation (spec.md §4.I "Limit changes").
type pendingChange struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	New       store.BudgetLimits `json:"new"`
	CreatedAt time.Time          `json:"createdAt"`
}

// significantChangeThresholdHigh / Low are the 2x-increase / 0.5x-decrease
// ratios spec.md §4.I calls a significant change.
const (
	significantChangeThresholdHigh = 2.0
	significantChangeThresholdLow  = 0.5
)

// UpdateLimits validates a requested limits change. If any changed field's
// ratio against its current value exceeds 2x (increase) or drops below
// 0.5x (decrease), the change is stashed as pending and the caller must
// call ConfirmLimitChange; otherwise it's applied immediately.
func (e *Engine) UpdateLimits(ctx context.Context, newLimits store.BudgetLimits) (pendingID string, requiresConfirm bool, err error) {
	if err := ValidateLimits(&newLimits); err != nil {
		return "", false, err
	}

	current, err := e.loadLimits(ctx, newLimits.UserID)
	if err != nil {
		return "", false, err
	}

	if isSignificantChange(current, &newLimits) {
		id := fmt.Sprintf("%s-%d", newLimits.UserID, time.Now().UnixNano())
		pc := pendingChange{ID: id, UserID: newLimits.UserID, New: newLimits, CreatedAt: time.Now().UTC()}
		data, err := json.Marshal(pc)
		if err != nil {
			return "", false, err
		}
		if err := e.cache.Set(ctx, cache.KeyPendingBudgetChanges(newLimits.UserID), data, e.cfg.PendingChangeTTL); err != nil {
			return "", false, fmt.Errorf("budget: stash pending change: %w", err)
		}
		return id, true, nil
	}

	newLimits.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertBudgetLimits(ctx, &newLimits); err != nil {
		return "", false, fmt.Errorf("budget: apply limits: %w", err)
	}
	return "", false, nil
}

func isSignificantChange(current *store.BudgetLimits, next *store.BudgetLimits) bool {
	pairs := [][2]money.Amount{
		{current.DailyCap, next.DailyCap},
		{current.WeeklyCap, next.WeeklyCap},
		{current.MonthlyCap, next.MonthlyCap},
		{current.MaxPerItem, next.MaxPerItem},
		{current.TotalBudget, next.TotalBudget},
		{current.EmergencyStop, next.EmergencyStop},
	}
	for _, p := range pairs {
		from, to := p[0], p[1]
		if from.IsZero() {
			continue
		}
		ratio := to.Float64() / from.Float64()
		if ratio > significantChangeThresholdHigh || ratio < significantChangeThresholdLow {
			return true
		}
	}
	return false
}

// ConfirmLimitChange applies or discards a pending change.
func (e *Engine) ConfirmLimitChange(ctx context.Context, userID, pendingID string, apply bool) error {
	raw, err := e.cache.Get(ctx, cache.KeyPendingBudgetChanges(userID))
	if err != nil {
		return fmt.Errorf("budget: no pending change for user %s", userID)
	}
	var pc pendingChange
	if err := json.Unmarshal(raw, &pc); err != nil {
		return fmt.Errorf("budget: malformed pending change: %w", err)
	}
	if pc.ID != pendingID {
		return fmt.Errorf("budget: pending change id mismatch")
	}

	if err := e.cache.Del(ctx, cache.KeyPendingBudgetChanges(userID)); err != nil {
		return err
	}
	if !apply {
		return nil
	}

	pc.New.UpdatedAt = time.Now().UTC()
	return e.store.UpsertBudgetLimits(ctx, &pc.New)
}
