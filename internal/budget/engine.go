// Package budget implements the spending-approval pipeline of spec.md
// §4.I: window-cap checks, emergency-stop handling, safety de-escalation,
// and the reset scheduler, serialized per user so concurrent requests
// cannot race the same tracker (spec.md §5, §9 "Single-user
// serialisation for budget ops").
package budget

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/riskgateway/platform/internal/apierrors"
	"github.com/riskgateway/platform/internal/budget/suspicious"
	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
)

// Publisher emits critical alerts (emergency-stop triggers) to the
// realtime hub without this package importing internal/hub directly.
type Publisher interface {
	Broadcast(msgType string, payload any)
	SendToUser(userID, msgType string, payload any)
}

// Config holds the engine's tunables, spec.md §4.I / §6.
type Config struct {
	DefaultDailyCap      money.Amount
	DefaultWeeklyCap     money.Amount
	DefaultMonthlyCap    money.Amount
	DefaultTotalBudget   money.Amount
	DefaultMaxPerItem    money.Amount
	DefaultEmergencyStop money.Amount
	DefaultReserveAmount money.Amount
	WarningThreshold     float64
	PendingChangeTTL     time.Duration
}

// Engine runs the approval pipeline.
type Engine struct {
	cfg    Config
	store  store.Store
	cache  cache.Cache
	scorer *suspicious.Scorer
	pub    Publisher
	logger zerolog.Logger
	locks  *keyedMutex
	cron   *cron.Cron

	lastDailyReset   string
	lastWeeklyReset  string
	lastMonthlyReset string
}

// New builds an Engine.
func New(cfg Config, s store.Store, c cache.Cache, scorer *suspicious.Scorer, pub Publisher, logger zerolog.Logger) *Engine {
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.8
	}
	if cfg.PendingChangeTTL <= 0 {
		cfg.PendingChangeTTL = 24 * time.Hour
	}
	return &Engine{
		cfg:    cfg,
		store:  s,
		cache:  c,
		scorer: scorer,
		pub:    pub,
		logger: logger.With().Str("component", "budget_engine").Logger(),
		locks:  newKeyedMutex(),
	}
}

// Approve runs the full check pipeline for req and, if approved and the
// request is a buy, records it against the tracker — all under the
// per-user lock so the check-then-record sequence is atomic (spec.md §5).
func (e *Engine) Approve(ctx context.Context, req Request) (*Approval, error) {
	unlock := e.locks.Lock(req.UserID)
	defer unlock()

	limits, err := e.loadLimits(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	tracker, err := e.loadTracker(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if stop, err := e.store.GetActiveEmergencyStop(ctx, req.UserID); err != nil && err != store.ErrNotFound {
		return nil, fmt.Errorf("budget: load emergency stop: %w", err)
	} else if stop != nil && stop.Active {
		return &Approval{Approved: false, Reason: "emergency stop is active for this user", RiskScore: 100, EmergencyStopActive: true}, nil
	}

	if req.Amount.GreaterThan(limits.MaxPerItem) {
		return &Approval{Approved: false, Reason: "amount exceeds the per-item maximum", RiskScore: 100}, nil
	}

	type windowCheck = struct {
		name        string
		accumulated money.Amount
		cap         money.Amount
		riskScore   float64
	}
	windows := []windowCheck{
		{"daily", tracker.AccumulatedDaily, limits.DailyCap, 90},
		{"weekly", tracker.AccumulatedWeekly, limits.WeeklyCap, 85},
		{"monthly", tracker.AccumulatedMonthly, limits.MonthlyCap, 80},
		{"total", tracker.AccumulatedTotal, limits.TotalBudget, 95},
	}
	for _, w := range windows {
		if windowExceeded(w.accumulated, req.Amount, w.cap) {
			return &Approval{Approved: false, Reason: fmt.Sprintf("%s spending cap would be exceeded", w.name), RiskScore: w.riskScore}, nil
		}
	}

	if windowExceeded(tracker.AccumulatedTotal, req.Amount, limits.EmergencyStop) {
		if err := e.triggerEmergencyStop(ctx, req.UserID, "total accumulated spend would cross the emergency-stop threshold"); err != nil {
			return nil, err
		}
		return &Approval{Approved: false, Reason: "emergency stop triggered", RiskScore: 100, EmergencyStopActive: true}, nil
	}

	hourlyCount, err := e.hourlyTransactionCount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	baseRisk := windowRisk(windows, req.Amount, tracker)

	var suspiciousSummary *SuspiciousResult
	if e.scorer != nil {
		result, err := e.scorer.Evaluate(ctx, req.UserID, req.Amount.Float64(), suspicious.Metadata{
			ClientAddress: req.Metadata.ClientAddress,
			UserAgent:     req.Metadata.UserAgent,
			DeviceID:      req.Metadata.DeviceID,
			Geo:           req.Metadata.Geo,
		}, hourlyCount, int(tracker.TransactionCount))
		if err != nil {
			return nil, fmt.Errorf("budget: suspicious-activity evaluation: %w", err)
		}
		suspiciousSummary = &SuspiciousResult{Score: result.Score, Action: string(result.Action), Reasons: result.Reasons}

		switch result.Action {
		case suspicious.ActionBlock:
			if err := e.deescalate(ctx, req.UserID, limits); err != nil {
				return nil, err
			}
			return &Approval{Approved: false, Reason: "blocked by suspicious-activity check", RiskScore: 100, SuspiciousSummary: suspiciousSummary}, nil
		case suspicious.ActionVerify:
			return &Approval{Approved: false, Reason: "needs manual verification", RiskScore: baseRisk, NeedsVerification: true, SuspiciousSummary: suspiciousSummary}, nil
		}
	}

	remainingDaily := limits.DailyCap.Sub(tracker.AccumulatedDaily)
	if baseRisk >= 70 && !remainingDaily.IsZero() && req.Amount.Float64() > remainingDaily.Float64()*0.5 {
		return &Approval{Approved: false, Reason: "transaction would consume more than half of remaining daily budget", RiskScore: baseRisk, SuspiciousSummary: suspiciousSummary}, nil
	}
	if baseRisk >= 70 && hourlyCount > 10 {
		return &Approval{Approved: false, Reason: "hourly transaction count exceeds the safety threshold", RiskScore: baseRisk, SuspiciousSummary: suspiciousSummary}, nil
	}

	warnings := collectWarnings(windows, req.Amount, e.cfg.WarningThreshold)

	approval := &Approval{Approved: true, RiskScore: baseRisk, Warnings: warnings, SuspiciousSummary: suspiciousSummary}

	if req.Type == SpendBuy {
		if err := e.record(ctx, req, &tracker); err != nil {
			return nil, err
		}
		if err := e.incrHourlyCounter(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	return approval, nil
}

// windowRisk reports the highest per-window risk score among windows the
// request amount would bring to 90% or more of their cap; used as the
// "base risk" the additional safety checks key off of.
func windowRisk(windows []struct {
	name        string
	accumulated money.Amount
	cap         money.Amount
	riskScore   float64
}, amount money.Amount, tracker store.SpendingTracker) float64 {
	var max float64
	for _, w := range windows {
		if w.cap.IsZero() {
			continue
		}
		util := utilization(w.accumulated.Add(amount), w.cap)
		if util >= 0.9 && w.riskScore > max {
			max = w.riskScore
		}
	}
	return max
}

func collectWarnings(windows []struct {
	name        string
	accumulated money.Amount
	cap         money.Amount
	riskScore   float64
}, amount money.Amount, threshold float64) []Warning {
	var warnings []Warning
	for _, w := range windows {
		if w.cap.IsZero() {
			continue
		}
		util := utilization(w.accumulated.Add(amount), w.cap)
		if util >= threshold {
			warnings = append(warnings, Warning{Window: w.name, Utilization: util})
		}
	}
	return warnings
}

// record mutates the tracker for a buy-type approval (spec.md §4.I
// "Recording").
func (e *Engine) record(ctx context.Context, req Request, tracker *store.SpendingTracker) error {
	tracker.AccumulatedDaily = tracker.AccumulatedDaily.Add(req.Amount)
	tracker.AccumulatedWeekly = tracker.AccumulatedWeekly.Add(req.Amount)
	tracker.AccumulatedMonthly = tracker.AccumulatedMonthly.Add(req.Amount)
	tracker.AccumulatedTotal = tracker.AccumulatedTotal.Add(req.Amount)
	tracker.TransactionCount++

	total := tracker.AverageTransaction.Mul(money.New(float64(tracker.TransactionCount - 1))).Add(req.Amount)
	tracker.AverageTransaction = total.DivInt(tracker.TransactionCount)

	if req.Amount.GreaterThan(tracker.LargestTransaction) {
		tracker.LargestTransaction = req.Amount
	}
	tracker.UpdatedAt = time.Now().UTC()
	tracker.UserID = req.UserID

	return e.store.UpsertSpendingTracker(ctx, tracker)
}

func (e *Engine) loadLimits(ctx context.Context, userID string) (*store.BudgetLimits, error) {
	limits, err := e.store.GetBudgetLimits(ctx, userID)
	if err == store.ErrNotFound {
		limits = &store.BudgetLimits{
			UserID:        userID,
			DailyCap:      e.cfg.DefaultDailyCap,
			WeeklyCap:     e.cfg.DefaultWeeklyCap,
			MonthlyCap:    e.cfg.DefaultMonthlyCap,
			MaxPerItem:    e.cfg.DefaultMaxPerItem,
			TotalBudget:   e.cfg.DefaultTotalBudget,
			EmergencyStop: e.cfg.DefaultEmergencyStop,
			ReserveAmount: e.cfg.DefaultReserveAmount,
			Currency:      "USD",
			UpdatedAt:     time.Now().UTC(),
		}
		if err := e.store.UpsertBudgetLimits(ctx, limits); err != nil {
			return nil, fmt.Errorf("budget: create default limits: %w", err)
		}
		return limits, nil
	}
	if err != nil {
		return nil, fmt.Errorf("budget: load limits: %w", err)
	}
	if err := e.restoreIfExpired(ctx, userID, limits); err != nil {
		return nil, err
	}
	return limits, nil
}

func (e *Engine) loadTracker(ctx context.Context, userID string) (store.SpendingTracker, error) {
	tracker, err := e.store.GetSpendingTracker(ctx, userID)
	if err == store.ErrNotFound {
		return store.SpendingTracker{UserID: userID, TrackerDate: time.Now().UTC()}, nil
	}
	if err != nil {
		return store.SpendingTracker{}, fmt.Errorf("budget: load tracker: %w", err)
	}
	return *tracker, nil
}

func (e *Engine) hourlyTransactionCount(ctx context.Context, userID string) (int, error) {
	raw, err := e.cache.Get(ctx, cache.KeyHourlyTransactions(userID))
	if err != nil {
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, nil
	}
	return n, nil
}

func (e *Engine) incrHourlyCounter(ctx context.Context, userID string) error {
	_, err := e.cache.Incr(ctx, cache.KeyHourlyTransactions(userID), cache.TTLHourlyCounter)
	return err
}

func (e *Engine) triggerEmergencyStop(ctx context.Context, userID, reason string) error {
	stop := &store.EmergencyStop{
		UserID:      userID,
		Reason:      reason,
		TriggeredBy: "system",
		Active:      true,
		TriggeredAt: time.Now().UTC(),
	}
	if err := e.store.CreateEmergencyStop(ctx, stop); err != nil {
		return fmt.Errorf("budget: create emergency stop: %w", err)
	}
	if e.pub != nil {
		e.pub.SendToUser(userID, "system_notification", map[string]any{
			"severity": "critical",
			"reason":   reason,
		})
	}
	return nil
}

// ResolveEmergencyStop clears an active emergency stop for the user
// (spec.md §4.I: "until an operator resolves the stop").
func (e *Engine) ResolveEmergencyStop(ctx context.Context, userID, id, resolvedBy string) error {
	return e.store.ResolveEmergencyStop(ctx, id, resolvedBy)
}

// ApprovalError converts an unapproved Approval into a typed
// apierrors.Error for the ingress layer to surface.
func ApprovalError(a *Approval) *apierrors.Error {
	switch {
	case a.EmergencyStopActive:
		return apierrors.New(apierrors.EmergencyStopActive, a.Reason)
	case a.NeedsVerification:
		return apierrors.New(apierrors.NeedsVerification, a.Reason)
	case a.SuspiciousSummary != nil && a.SuspiciousSummary.Action == string(suspicious.ActionBlock):
		return apierrors.New(apierrors.SuspiciousActivityBlock, a.Reason).WithData(map[string]any{"reasons": a.SuspiciousSummary.Reasons})
	default:
		window := "daily"
		switch a.RiskScore {
		case 100:
			window = "per_item"
		case 85:
			window = "weekly"
		case 80:
			window = "monthly"
		case 95:
			window = "total"
		}
		return apierrors.New(apierrors.BudgetExceededKind(window), a.Reason)
	}
}
