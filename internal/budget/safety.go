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

// originalLimits is the stashed pre-de-escalation figures (spec.md §4.I
// step 6: "temporarily halve daily and per-item limits for 24h, store
// originals").
type originalLimits struct {
	DailyCap   money.Amount `json:"dailyCap"`
	MaxPerItem money.Amount `json:"maxPerItem"`
	AppliedAt  time.Time    `json:"appliedAt"`
}

const deescalationWindow = 24 * time.Hour

// deescalate halves the user's daily and per-item limits for 24h,
// stashing the originals so they can be restored once the window lapses.
// A second block within the window is a no-op — the originals must not
// be overwritten with already-halved figures.
func (e *Engine) deescalate(ctx context.Context, userID string, limits *store.BudgetLimits) error {
	if _, exists := e.loadOriginalLimits(ctx, userID); exists {
		return nil
	}

	orig := originalLimits{DailyCap: limits.DailyCap, MaxPerItem: limits.MaxPerItem, AppliedAt: time.Now().UTC()}
	data, err := json.Marshal(orig)
	if err != nil {
		return err
	}
	if err := e.cache.Set(ctx, cache.KeyOriginalLimits(userID), data, deescalationWindow); err != nil {
		return fmt.Errorf("budget: stash original limits: %w", err)
	}

	limits.DailyCap = limits.DailyCap.DivInt(2)
	limits.MaxPerItem = limits.MaxPerItem.DivInt(2)
	limits.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertBudgetLimits(ctx, limits); err != nil {
		return fmt.Errorf("budget: apply de-escalated limits: %w", err)
	}

	e.logger.Warn().Str("user_id", userID).Msg("safety de-escalation applied, limits halved for 24h")
	return nil
}

func (e *Engine) loadOriginalLimits(ctx context.Context, userID string) (originalLimits, bool) {
	raw, err := e.cache.Get(ctx, cache.KeyOriginalLimits(userID))
	if err != nil {
		return originalLimits{}, false
	}
	var orig originalLimits
	if err := json.Unmarshal(raw, &orig); err != nil {
		return originalLimits{}, false
	}
	return orig, true
}

// restoreIfExpired reverts limits to their pre-de-escalation figures once
// the 24h window has elapsed. Called on every limits load so restoration
// doesn't depend on a separate scheduled task.
func (e *Engine) restoreIfExpired(ctx context.Context, userID string, limits *store.BudgetLimits) error {
	orig, exists := e.loadOriginalLimits(ctx, userID)
	if !exists {
		return nil
	}
	if time.Since(orig.AppliedAt) < deescalationWindow {
		return nil
	}

	limits.DailyCap = orig.DailyCap
	limits.MaxPerItem = orig.MaxPerItem
	limits.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertBudgetLimits(ctx, limits); err != nil {
		return fmt.Errorf("budget: restore de-escalated limits: %w", err)
	}
	return e.cache.Del(ctx, cache.KeyOriginalLimits(userID))
}
