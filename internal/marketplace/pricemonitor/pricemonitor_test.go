package pricemonitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/riskgateway/platform/internal/marketplace/adapter"
	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
func (c *fakeCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, nil
}
func (c *fakeCache) Keys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

var errMiss = &fakeErr{msg: "miss"}

type fakeStore struct {
	mu     sync.Mutex
	alerts map[string]*store.PriceAlert
}

func newFakeStore() *fakeStore { return &fakeStore{alerts: make(map[string]*store.PriceAlert)} }

func (s *fakeStore) GetBudgetLimits(ctx context.Context, userID string) (*store.BudgetLimits, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) UpsertBudgetLimits(ctx context.Context, limits *store.BudgetLimits) error {
	return nil
}
func (s *fakeStore) GetSpendingTracker(ctx context.Context, userID string) (*store.SpendingTracker, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) UpsertSpendingTracker(ctx context.Context, tracker *store.SpendingTracker) error {
	return nil
}
func (s *fakeStore) ResetDailyTrackers(ctx context.Context, asOf time.Time) error   { return nil }
func (s *fakeStore) ResetWeeklyTrackers(ctx context.Context, asOf time.Time) error  { return nil }
func (s *fakeStore) ResetMonthlyTrackers(ctx context.Context, asOf time.Time) error { return nil }
func (s *fakeStore) CreateEmergencyStop(ctx context.Context, stop *store.EmergencyStop) error {
	return nil
}
func (s *fakeStore) GetActiveEmergencyStop(ctx context.Context, userID string) (*store.EmergencyStop, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) ResolveEmergencyStop(ctx context.Context, id, resolvedBy string) error {
	return nil
}
func (s *fakeStore) CreatePriceAlert(ctx context.Context, alert *store.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert
	return nil
}
func (s *fakeStore) UpdatePriceAlert(ctx context.Context, alert *store.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = alert
	return nil
}
func (s *fakeStore) GetPriceAlert(ctx context.Context, id string) (*store.PriceAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}
func (s *fakeStore) ListActivePriceAlerts(ctx context.Context) ([]*store.PriceAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.PriceAlert
	for _, a := range s.alerts {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeVenue struct {
	name     string
	listings []adapter.Listing
}

func (v *fakeVenue) Name() string { return v.name }
func (v *fakeVenue) FetchActiveListings(ctx context.Context, momentID string) ([]adapter.Listing, error) {
	return v.listings, nil
}

type fakePublisher struct {
	mu        sync.Mutex
	broadcast []string
}

func (p *fakePublisher) Broadcast(msgType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcast = append(p.broadcast, msgType)
}
func (p *fakePublisher) SendToUser(userID, msgType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcast = append(p.broadcast, msgType)
}

func testMonitor(t *testing.T, c *fakeCache, s *fakeStore, venues []VenueClient, pub Publisher) *Monitor {
	t.Helper()
	return New(Config{
		UpdateInterval:      time.Minute,
		ChangeThresholdPct:  10,
		VolumeSpikeMultiple: 3,
		HistoryRetention:    30 * 24 * time.Hour,
	}, c, s, venues, pub, zerolog.Nop())
}

func TestRefreshMoment_ComputesFloorAndAverage(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	venue := &fakeVenue{name: "v1", listings: []adapter.Listing{
		{ID: "l1", MomentID: "m1", Price: money.New(10)},
		{ID: "l2", MomentID: "m1", Price: money.New(20)},
	}}
	m := testMonitor(t, c, s, []VenueClient{venue}, nil)

	require.NoError(t, m.refreshMoment(context.Background(), "m1"))

	raw, err := c.Get(context.Background(), "price_data:m1")
	require.NoError(t, err)
	var state PriceState
	require.NoError(t, json.Unmarshal(raw, &state))
	require.True(t, state.Floor.Float64() == 10)
	require.True(t, state.Average.Float64() == 15)
	require.Equal(t, 2, state.ListingCount)
}

func TestRefreshMoment_EmitsSignificantPriceChange(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	pub := &fakePublisher{}

	prior := PriceState{MomentID: "m1", Current: money.New(100)}
	raw, _ := json.Marshal(prior)
	require.NoError(t, c.Set(context.Background(), "price_data:m1", raw, time.Hour))

	venue := &fakeVenue{name: "v1", listings: []adapter.Listing{{ID: "l1", MomentID: "m1", Price: money.New(50)}}}
	m := testMonitor(t, c, s, []VenueClient{venue}, pub)

	require.NoError(t, m.refreshMoment(context.Background(), "m1"))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Contains(t, pub.broadcast, "significant_price_change")
}

func TestEvaluateAlerts_PriceDropTriggersOnce(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	pub := &fakePublisher{}

	state := PriceState{MomentID: "m1", Current: money.New(5)}
	raw, _ := json.Marshal(state)
	require.NoError(t, c.Set(context.Background(), "price_data:m1", raw, time.Hour))

	require.NoError(t, s.CreatePriceAlert(context.Background(), &store.PriceAlert{
		ID: "a1", UserID: "u1", MomentID: "m1", Type: "price_drop",
		Threshold: money.New(10), Active: true,
	}))

	m := testMonitor(t, c, s, nil, pub)
	require.NoError(t, m.evaluateAlerts(context.Background()))

	triggered, err := s.GetPriceAlert(context.Background(), "a1")
	require.NoError(t, err)
	require.True(t, triggered.Triggered)
	require.NotNil(t, triggered.TriggeredAt)

	pub.mu.Lock()
	require.Contains(t, pub.broadcast, "price_alert_triggered")
	pub.broadcast = nil
	pub.mu.Unlock()

	// Second evaluation must not re-trigger (idempotent).
	require.NoError(t, m.evaluateAlerts(context.Background()))

	pub.mu.Lock()
	require.Empty(t, pub.broadcast)
	pub.mu.Unlock()
}

func TestActiveMoments_UnionsAlertsAndTrending(t *testing.T) {
	c := newFakeCache()
	s := newFakeStore()
	require.NoError(t, s.CreatePriceAlert(context.Background(), &store.PriceAlert{
		ID: "a1", MomentID: "m1", Type: "price_drop", Active: true,
	}))
	m := testMonitor(t, c, s, nil, nil)
	m.NoteTrending("m2")

	moments, err := m.activeMoments(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"m1", "m2"}, moments)
}
