package pricemonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/marketplace/adapter"
	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/store"
)

// Publisher fans out monitor-originated events without internal/hub being
// a direct dependency of this package — cmd/gateway supplies an adapter
// over the realtime hub, the same decoupling internal/ingress uses.
type Publisher interface {
	Broadcast(msgType string, payload any)
	SendToUser(userID, msgType string, payload any)
}

// VenueClient is the subset of *adapter.Adapter the monitor needs, kept as
// an interface so the cycle can be exercised against fakes in tests.
type VenueClient interface {
	Name() string
	FetchActiveListings(ctx context.Context, momentID string) ([]adapter.Listing, error)
}

// Config holds the tunables spec.md §4.G / §6 name.
type Config struct {
	UpdateInterval      time.Duration
	ChangeThresholdPct  float64
	VolumeSpikeMultiple float64
	HistoryRetention    time.Duration
}

// Monitor runs the periodic price/volume/alert cycle (spec.md §4.G).
type Monitor struct {
	cfg       Config
	cache     cache.Cache
	store     store.Store
	adapters  []VenueClient
	publisher Publisher
	logger    zerolog.Logger

	cron *cron.Cron

	trendMu sync.Mutex
	trend   map[string]struct{} // moments seen in recent stream events
}

// New builds a Monitor over the given venue adapters.
func New(cfg Config, c cache.Cache, s store.Store, adapters []VenueClient, pub Publisher, logger zerolog.Logger) *Monitor {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = 60 * time.Second
	}
	if cfg.ChangeThresholdPct <= 0 {
		cfg.ChangeThresholdPct = 10.0
	}
	if cfg.VolumeSpikeMultiple <= 0 {
		cfg.VolumeSpikeMultiple = 3.0
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = 30 * 24 * time.Hour
	}
	return &Monitor{
		cfg:       cfg,
		cache:     c,
		store:     s,
		adapters:  adapters,
		publisher: pub,
		logger:    logger.With().Str("component", "price_monitor").Logger(),
		trend:     make(map[string]struct{}),
	}
}

// NoteTrending adds momentID to the event-driven trending set (spec.md
// §4.G: "event-driven updates from F"), called from a stream adapter's
// OnListingUpdate/OnSale/OnPriceChange handler.
func (m *Monitor) NoteTrending(momentID string) {
	if momentID == "" {
		return
	}
	m.trendMu.Lock()
	m.trend[momentID] = struct{}{}
	m.trendMu.Unlock()
}

// Start registers the periodic cycle with a cron schedule built from
// UpdateInterval, grounded on aristath-sentinel/trader-go's
// internal/scheduler "@every" job registration pattern.
func (m *Monitor) Start() {
	m.cron = cron.New(cron.WithSeconds())
	schedule := fmt.Sprintf("@every %s", m.cfg.UpdateInterval)
	if _, err := m.cron.AddFunc(schedule, m.runCycleSafely); err != nil {
		m.logger.Error().Err(err).Msg("failed to register price monitor cycle")
		return
	}
	m.cron.Start()
	m.logger.Info().Dur("interval", m.cfg.UpdateInterval).Msg("price monitor started")
}

// Stop halts the cron schedule, waiting for any in-flight cycle to finish.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info().Msg("price monitor stopped")
}

func (m *Monitor) runCycleSafely() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.UpdateInterval)
	defer cancel()
	if err := m.RunCycle(ctx); err != nil {
		m.logger.Error().Err(err).Msg("price monitor cycle failed")
	}
}

// activeMoments is the union of moments referenced by active alerts and
// the event-driven trending set (spec.md §4.G: "the active set (union of
// moments referenced by active alerts, and a trending set from the
// venues)").
func (m *Monitor) activeMoments(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	alerts, err := m.store.ListActivePriceAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("price monitor: list active alerts: %w", err)
	}
	for _, a := range alerts {
		if a.MomentID != "" {
			seen[a.MomentID] = struct{}{}
		}
	}

	m.trendMu.Lock()
	for id := range m.trend {
		seen[id] = struct{}{}
	}
	m.trendMu.Unlock()

	moments := make([]string, 0, len(seen))
	for id := range seen {
		moments = append(moments, id)
	}
	return moments, nil
}

// RunCycle executes one full price monitor cycle: refresh state for every
// active moment, diff against cache, evaluate alerts, and prune history.
func (m *Monitor) RunCycle(ctx context.Context) error {
	moments, err := m.activeMoments(ctx)
	if err != nil {
		return err
	}

	for _, momentID := range moments {
		if err := m.refreshMoment(ctx, momentID); err != nil {
			m.logger.Warn().Err(err).Str("moment_id", momentID).Msg("failed to refresh moment price state")
		}
	}

	return m.evaluateAlerts(ctx)
}

// refreshMoment aggregates fresh listings across every venue for momentID,
// diffs the result against the cached prior state, and emits
// significant_price_change / volume_spike events as needed.
func (m *Monitor) refreshMoment(ctx context.Context, momentID string) error {
	prior, _ := m.loadState(ctx, momentID)

	var listings []adapter.Listing
	for _, a := range m.adapters {
		venueListings, err := a.FetchActiveListings(ctx, momentID)
		if err != nil {
			m.logger.Debug().Err(err).Str("venue", a.Name()).Msg("venue fetch failed, skipping")
			continue
		}
		listings = append(listings, venueListings...)
	}
	if len(listings) == 0 {
		return nil
	}

	floor, sum := listings[0].Price, money.Zero
	for _, l := range listings {
		if l.Price.LessThan(floor) {
			floor = l.Price
		}
		sum = sum.Add(l.Price)
	}
	average := sum.DivInt(int64(len(listings)))

	next := PriceState{
		MomentID:     momentID,
		Current:      floor,
		Floor:        floor,
		Average:      average,
		LastSale:     prior.LastSale,
		History:      prior.History,
		Volume24h:    prior.Volume24h,
		Sales24h:     prior.Sales24h,
		ListingCount: len(listings),
		LastUpdated:  time.Now().UTC(),
	}
	next.appendHistory(HistoryPoint{Timestamp: next.LastUpdated, Price: floor, Volume: next.Volume24h}, m.cfg.HistoryRetention)
	next.Volatility = volatility(next.History)

	if !prior.Current.IsZero() {
		next.PercentChange24h = money.PercentChange(prior.Current, next.Current).Float64()
		if abs(next.PercentChange24h) >= m.cfg.ChangeThresholdPct {
			m.publish("significant_price_change", map[string]any{
				"momentId":      momentID,
				"previousPrice": prior.Current,
				"currentPrice":  next.Current,
				"percentChange": next.PercentChange24h,
			}, "")
		}
	}

	if mean := prior.sevenDayVolumeMean(); mean > 0 {
		if float64(next.Volume24h)/mean >= m.cfg.VolumeSpikeMultiple {
			m.publish("volume_spike", map[string]any{
				"momentId":  momentID,
				"volume24h": next.Volume24h,
				"mean":      mean,
			}, "")
		}
	}

	return m.saveState(ctx, next)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (m *Monitor) publish(msgType string, payload map[string]any, userID string) {
	if m.publisher == nil {
		return
	}
	if userID != "" {
		m.publisher.SendToUser(userID, msgType, payload)
		return
	}
	m.publisher.Broadcast(msgType, payload)
}

func (m *Monitor) loadState(ctx context.Context, momentID string) (PriceState, bool) {
	raw, err := m.cache.Get(ctx, cache.KeyPriceData(momentID))
	if err != nil {
		return PriceState{MomentID: momentID}, false
	}
	var s PriceState
	if err := json.Unmarshal(raw, &s); err != nil {
		return PriceState{MomentID: momentID}, false
	}
	return s, true
}

func (m *Monitor) saveState(ctx context.Context, s PriceState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return m.cache.Set(ctx, cache.KeyPriceData(s.MomentID), data, cache.TTLPriceState)
}
