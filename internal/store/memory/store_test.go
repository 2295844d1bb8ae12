package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
	"github.com/riskgateway/platform/internal/store/memory"
	"github.com/stretchr/testify/require"
)

func TestBudgetLimitsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.GetBudgetLimits(ctx, "user-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	limits := &store.BudgetLimits{UserID: "user-1", DailyCap: money.New(500), Currency: "USD"}
	require.NoError(t, s.UpsertBudgetLimits(ctx, limits))

	got, err := s.GetBudgetLimits(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, got.DailyCap.Decimal.Equal(money.New(500).Decimal))
	require.False(t, got.UpdatedAt.IsZero())
}

func TestSpendingTrackerResets(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	tracker := &store.SpendingTracker{
		UserID:            "user-1",
		AccumulatedDaily:  money.New(100),
		AccumulatedWeekly: money.New(200),
	}
	require.NoError(t, s.UpsertSpendingTracker(ctx, tracker))

	require.NoError(t, s.ResetDailyTrackers(ctx, time.Now().UTC()))
	got, err := s.GetSpendingTracker(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, got.AccumulatedDaily.IsZero())
	require.True(t, got.AccumulatedWeekly.Decimal.Equal(money.New(200).Decimal))
}

func TestEmergencyStopLifecycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	stop := &store.EmergencyStop{ID: "stop-1", UserID: "user-1", Reason: "over budget", TriggeredBy: "system"}
	require.NoError(t, s.CreateEmergencyStop(ctx, stop))

	active, err := s.GetActiveEmergencyStop(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, active.Active)

	require.NoError(t, s.ResolveEmergencyStop(ctx, "stop-1", "operator-1"))
	_, err = s.GetActiveEmergencyStop(ctx, "user-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestPriceAlertsListOnlyActive(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	require.NoError(t, s.CreatePriceAlert(ctx, &store.PriceAlert{ID: "a1", UserID: "u1", Active: true}))
	require.NoError(t, s.CreatePriceAlert(ctx, &store.PriceAlert{ID: "a2", UserID: "u1", Active: false}))

	active, err := s.ListActivePriceAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "a1", active[0].ID)
}
