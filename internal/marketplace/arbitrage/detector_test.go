package arbitrage

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/marketplace/adapter"
	"github.com/riskgateway/platform/internal/money"
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
		return nil, cache.ErrMiss
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

type fakeVenue struct {
	name     string
	listings []adapter.Listing
	healthy  bool
}

func (v *fakeVenue) Name() string { return v.name }
func (v *fakeVenue) FetchActiveListings(ctx context.Context, momentID string) ([]adapter.Listing, error) {
	return v.listings, nil
}
func (v *fakeVenue) Health() (bool, int) { return v.healthy, 0 }

type fakePublisher struct {
	mu   sync.Mutex
	msgs []any
}

func (p *fakePublisher) Broadcast(msgType string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, payload)
}

func testDetector(t *testing.T, c *fakeCache, venues []Venue, pub Publisher) *Detector {
	t.Helper()
	return New(Config{
		ScanInterval:        time.Minute,
		MinProfitPercentage: 5,
		MinProfitAmount:     money.New(1),
		MaxRiskScore:        90,
		OpportunityTTL:      10 * time.Minute,
	}, c, venues, pub, zerolog.Nop())
}

func listing(id, moment string, price float64, serial int) adapter.Listing {
	return adapter.Listing{
		ID: id, MomentID: moment, Price: money.New(price), SerialNumber: serial,
		ListedAt: time.Now().Add(-time.Hour), Status: adapter.StatusActive,
	}
}

func TestRunCycle_DetectsCrossVenueOpportunity(t *testing.T) {
	c := newFakeCache()
	v1 := &fakeVenue{name: "v1", healthy: true, listings: []adapter.Listing{listing("l1", "m1", 10, 5)}}
	v2 := &fakeVenue{name: "v2", healthy: true, listings: []adapter.Listing{listing("l2", "m1", 20, 5)}}
	pub := &fakePublisher{}
	d := testDetector(t, c, []Venue{v1, v2}, pub)

	require.NoError(t, d.RunCycle(context.Background()))

	raw, err := c.Get(context.Background(), cache.KeyArbitrageOpportunities())
	require.NoError(t, err)
	var ids []string
	require.NoError(t, json.Unmarshal(raw, &ids))
	require.Len(t, ids, 1)

	oppRaw, err := c.Get(context.Background(), cache.KeyArbitrage(ids[0]))
	require.NoError(t, err)
	var opp Opportunity
	require.NoError(t, json.Unmarshal(oppRaw, &opp))
	require.Equal(t, "v1", opp.SourceVenue)
	require.Equal(t, "v2", opp.TargetVenue)
	require.True(t, opp.TargetPrice.GreaterThan(opp.SourcePrice))
	require.GreaterOrEqual(t, opp.ProfitPercent, 5.0)
	require.LessOrEqual(t, opp.RiskScore, 90.0)
	require.True(t, opp.ExpiresAt.After(opp.DetectedAt))
	require.Equal(t, StatusActive, opp.Status)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.msgs, 1)
}

func TestRunCycle_SkipsUnhealthyVenue(t *testing.T) {
	c := newFakeCache()
	v1 := &fakeVenue{name: "v1", healthy: false, listings: []adapter.Listing{listing("l1", "m1", 10, 5)}}
	v2 := &fakeVenue{name: "v2", healthy: true, listings: []adapter.Listing{listing("l2", "m1", 20, 5)}}
	d := testDetector(t, c, []Venue{v1, v2}, nil)

	require.NoError(t, d.RunCycle(context.Background()))

	_, err := c.Get(context.Background(), cache.KeyArbitrageOpportunities())
	require.Error(t, err)
}

func TestRunCycle_SingleVenueNeverPairs(t *testing.T) {
	c := newFakeCache()
	v1 := &fakeVenue{name: "v1", healthy: true, listings: []adapter.Listing{listing("l1", "m1", 10, 5)}}
	d := testDetector(t, c, []Venue{v1}, nil)

	require.NoError(t, d.RunCycle(context.Background()))
	_, err := c.Get(context.Background(), cache.KeyArbitrageOpportunities())
	require.Error(t, err)
}

func TestExpireStale_MarksPastTTLExpired(t *testing.T) {
	c := newFakeCache()
	d := testDetector(t, c, nil, nil)

	opp := Opportunity{ID: "o1", MomentID: "m1", Status: StatusActive, DetectedAt: time.Now().Add(-time.Hour), ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, d.save(context.Background(), opp))

	require.NoError(t, d.expireStale(context.Background()))

	got, ok := d.load(context.Background(), "o1")
	require.True(t, ok)
	require.Equal(t, StatusExpired, got.Status)
}

func TestRiskScore_MaxComponentsSumTo65(t *testing.T) {
	// age 30 (capped) + price bucket 20 + serial rarity 15.
	require.Equal(t, 65.0, riskScore(100*time.Hour, 5000, 1))
}

func TestConfidence_ClampsToUnitInterval(t *testing.T) {
	require.LessOrEqual(t, confidence(1000, time.Minute, true), 1.0)
	require.GreaterOrEqual(t, confidence(-1000, 100*time.Hour, false), 0.0)
}
