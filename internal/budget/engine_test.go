package budget

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/riskgateway/platform/internal/budget/suspicious"
	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCache) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = []byte("1")
	return 1, nil
}

func (f *fakeCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return nil, nil
}

type fakeStore struct {
	mu       sync.Mutex
	limits   map[string]*store.BudgetLimits
	trackers map[string]*store.SpendingTracker
	stops    map[string]*store.EmergencyStop
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		limits:   make(map[string]*store.BudgetLimits),
		trackers: make(map[string]*store.SpendingTracker),
		stops:    make(map[string]*store.EmergencyStop),
	}
}

func (s *fakeStore) GetBudgetLimits(ctx context.Context, userID string) (*store.BudgetLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limits[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *fakeStore) UpsertBudgetLimits(ctx context.Context, limits *store.BudgetLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *limits
	s.limits[limits.UserID] = &cp
	return nil
}

func (s *fakeStore) GetSpendingTracker(ctx context.Context, userID string) (*store.SpendingTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) UpsertSpendingTracker(ctx context.Context, tracker *store.SpendingTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tracker
	s.trackers[tracker.UserID] = &cp
	return nil
}

func (s *fakeStore) ResetDailyTrackers(ctx context.Context, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trackers {
		t.AccumulatedDaily = money.Zero
	}
	return nil
}

func (s *fakeStore) ResetWeeklyTrackers(ctx context.Context, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trackers {
		t.AccumulatedWeekly = money.Zero
	}
	return nil
}

func (s *fakeStore) ResetMonthlyTrackers(ctx context.Context, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trackers {
		t.AccumulatedMonthly = money.Zero
	}
	return nil
}

func (s *fakeStore) CreateEmergencyStop(ctx context.Context, stop *store.EmergencyStop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop.ID = "stop-1"
	cp := *stop
	s.stops[stop.UserID] = &cp
	return nil
}

func (s *fakeStore) GetActiveEmergencyStop(ctx context.Context, userID string) (*store.EmergencyStop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop, ok := s.stops[userID]
	if !ok || !stop.Active {
		return nil, store.ErrNotFound
	}
	cp := *stop
	return &cp, nil
}

func (s *fakeStore) ResolveEmergencyStop(ctx context.Context, id, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stop := range s.stops {
		if stop.ID == id {
			stop.Active = false
			stop.ResolvedBy = resolvedBy
			now := time.Now().UTC()
			stop.ResolvedAt = &now
		}
	}
	return nil
}

func (s *fakeStore) CreatePriceAlert(ctx context.Context, alert *store.PriceAlert) error { return nil }
func (s *fakeStore) UpdatePriceAlert(ctx context.Context, alert *store.PriceAlert) error { return nil }
func (s *fakeStore) GetPriceAlert(ctx context.Context, id string) (*store.PriceAlert, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) ListActivePriceAlerts(ctx context.Context) ([]*store.PriceAlert, error) {
	return nil, nil
}

func testEngine() (*Engine, *fakeStore, *fakeCache) {
	s := newFakeStore()
	c := newFakeCache()
	cfg := Config{
		DefaultDailyCap:      money.New(100),
		DefaultWeeklyCap:     money.New(700),
		DefaultMonthlyCap:    money.New(2800),
		DefaultTotalBudget:   money.New(10000),
		DefaultMaxPerItem:    money.New(50),
		DefaultEmergencyStop: money.New(9000),
		DefaultReserveAmount: money.New(1000),
		WarningThreshold:     0.8,
	}
	scorer := suspicious.New(suspicious.Config{}, c)
	e := New(cfg, s, c, scorer, nil, zerolog.Nop())
	return e, s, c
}

func TestApprove_WithinLimitsIsApproved(t *testing.T) {
	e, _, _ := testEngine()
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(10), Type: SpendBuy})
	require.NoError(t, err)
	require.True(t, approval.Approved)
	require.Equal(t, 0.0, approval.RiskScore)
}

func TestApprove_AmountOverMaxPerItemRejected(t *testing.T) {
	e, _, _ := testEngine()
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(60), Type: SpendBuy})
	require.NoError(t, err)
	require.False(t, approval.Approved)
	require.Equal(t, 100.0, approval.RiskScore)
}

func TestApprove_DailyCapExceededRejected(t *testing.T) {
	e, s, _ := testEngine()
	s.trackers["u1"] = &store.SpendingTracker{UserID: "u1", AccumulatedDaily: money.New(95)}
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(10), Type: SpendBuy})
	require.NoError(t, err)
	require.False(t, approval.Approved)
	require.Equal(t, 90.0, approval.RiskScore)
}

func TestApprove_EmergencyStopActiveRejectsEverything(t *testing.T) {
	e, s, _ := testEngine()
	s.stops["u1"] = &store.EmergencyStop{ID: "stop-1", UserID: "u1", Active: true}
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(1), Type: SpendBuy})
	require.NoError(t, err)
	require.False(t, approval.Approved)
	require.True(t, approval.EmergencyStopActive)
}

func TestApprove_CrossingEmergencyStopThresholdTriggersStop(t *testing.T) {
	e, s, _ := testEngine()
	s.trackers["u1"] = &store.SpendingTracker{UserID: "u1", AccumulatedTotal: money.New(8995)}
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(10), Type: SpendBuy})
	require.NoError(t, err)
	require.False(t, approval.Approved)
	require.True(t, approval.EmergencyStopActive)

	stop, err := s.GetActiveEmergencyStop(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, stop.Active)
}

func TestApprove_SellTypeNeverMutatesTracker(t *testing.T) {
	e, s, _ := testEngine()
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(10), Type: SpendSell})
	require.NoError(t, err)
	require.True(t, approval.Approved)

	_, err = s.GetSpendingTracker(context.Background(), "u1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestApprove_BuyRecordsAgainstTracker(t *testing.T) {
	e, s, _ := testEngine()
	_, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(10), Type: SpendBuy})
	require.NoError(t, err)

	tracker, err := s.GetSpendingTracker(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 10.0, tracker.AccumulatedDaily.Float64())
	require.Equal(t, int64(1), tracker.TransactionCount)
}

func TestApprove_HighUtilizationProducesWarning(t *testing.T) {
	e, s, _ := testEngine()
	s.trackers["u1"] = &store.SpendingTracker{UserID: "u1", AccumulatedDaily: money.New(75)}
	approval, err := e.Approve(context.Background(), Request{UserID: "u1", Amount: money.New(10), Type: SpendBuy})
	require.NoError(t, err)
	require.True(t, approval.Approved)
	require.NotEmpty(t, approval.Warnings)
	require.Equal(t, "daily", approval.Warnings[0].Window)
}

func TestUpdateLimits_InvalidRatioRejected(t *testing.T) {
	e, _, _ := testEngine()
	bad := store.BudgetLimits{
		UserID:        "u1",
		DailyCap:      money.New(100),
		WeeklyCap:     money.New(200),
		MonthlyCap:    money.New(2800),
		MaxPerItem:    money.New(50),
		TotalBudget:   money.New(10000),
		EmergencyStop: money.New(9000),
		ReserveAmount: money.New(1000),
	}
	_, _, err := e.UpdateLimits(context.Background(), bad)
	require.Error(t, err)
}

func TestUpdateLimits_SmallChangeAppliesImmediately(t *testing.T) {
	e, s, _ := testEngine()
	next := store.BudgetLimits{
		UserID:        "u1",
		DailyCap:      money.New(110),
		WeeklyCap:     money.New(770),
		MonthlyCap:    money.New(3080),
		MaxPerItem:    money.New(50),
		TotalBudget:   money.New(10000),
		EmergencyStop: money.New(9000),
		ReserveAmount: money.New(1000),
	}
	id, pending, err := e.UpdateLimits(context.Background(), next)
	require.NoError(t, err)
	require.False(t, pending)
	require.Empty(t, id)

	got, err := s.GetBudgetLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 110.0, got.DailyCap.Float64())
}

func TestUpdateLimits_LargeIncreaseRequiresConfirm(t *testing.T) {
	e, s, _ := testEngine()
	next := store.BudgetLimits{
		UserID:        "u1",
		DailyCap:      money.New(300),
		WeeklyCap:     money.New(2100),
		MonthlyCap:    money.New(8400),
		MaxPerItem:    money.New(50),
		TotalBudget:   money.New(10000),
		EmergencyStop: money.New(9000),
		ReserveAmount: money.New(1000),
	}
	id, pending, err := e.UpdateLimits(context.Background(), next)
	require.NoError(t, err)
	require.True(t, pending)
	require.NotEmpty(t, id)

	unchanged, err := s.GetBudgetLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 100.0, unchanged.DailyCap.Float64())

	require.NoError(t, e.ConfirmLimitChange(context.Background(), "u1", id, true))
	got, err := s.GetBudgetLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 300.0, got.DailyCap.Float64())
}

func TestConfirmLimitChange_DiscardLeavesLimitsUntouched(t *testing.T) {
	e, s, _ := testEngine()
	s.limits["u1"] = &store.BudgetLimits{UserID: "u1", DailyCap: money.New(100)}
	next := store.BudgetLimits{
		UserID:        "u1",
		DailyCap:      money.New(300),
		WeeklyCap:     money.New(2100),
		MonthlyCap:    money.New(8400),
		MaxPerItem:    money.New(50),
		TotalBudget:   money.New(10000),
		EmergencyStop: money.New(9000),
		ReserveAmount: money.New(1000),
	}
	id, pending, err := e.UpdateLimits(context.Background(), next)
	require.NoError(t, err)
	require.True(t, pending)

	require.NoError(t, e.ConfirmLimitChange(context.Background(), "u1", id, false))

	got, err := s.GetBudgetLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 100.0, got.DailyCap.Float64())
}

func TestDeescalate_HalvesLimitsAndRestoresAfterWindow(t *testing.T) {
	e, s, _ := testEngine()
	limits := &store.BudgetLimits{UserID: "u1", DailyCap: money.New(100), MaxPerItem: money.New(50)}
	s.limits["u1"] = limits

	require.NoError(t, e.deescalate(context.Background(), "u1", limits))
	got, err := s.GetBudgetLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 50.0, got.DailyCap.Float64())

	orig, exists := e.loadOriginalLimits(context.Background(), "u1")
	require.True(t, exists)
	orig.AppliedAt = time.Now().UTC().Add(-25 * time.Hour)
	data, err := json.Marshal(orig)
	require.NoError(t, err)
	require.NoError(t, e.cache.Set(context.Background(), cache.KeyOriginalLimits("u1"), data, time.Hour))

	reloaded, err := e.loadLimits(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, 100.0, reloaded.DailyCap.Float64())
}
