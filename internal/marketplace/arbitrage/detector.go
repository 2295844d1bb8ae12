package arbitrage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/riskgateway/platform/internal/cache"
	"github.com/riskgateway/platform/internal/marketplace/adapter"
	"github.com/riskgateway/platform/internal/money"
)

// Publisher fans out newly detected/updated opportunities, decoupling the
// detector from internal/hub the same way internal/ingress and
// internal/marketplace/pricemonitor do.
type Publisher interface {
	Broadcast(msgType string, payload any)
}

// Venue is the subset of *adapter.Adapter the detector needs.
type Venue interface {
	Name() string
	FetchActiveListings(ctx context.Context, momentID string) ([]adapter.Listing, error)
	Health() (healthy bool, queueDepth int)
}

// Config holds the scan cycle's tunables, spec.md §4.H / §6.
type Config struct {
	ScanInterval        time.Duration
	MinProfitPercentage float64
	MinProfitAmount     money.Amount
	MaxRiskScore        float64
	OpportunityTTL      time.Duration
	// VenueExecutionRisk is the per-venue configured execution-time risk
	// score spec.md §4.H step 8 feeds into the execution-time sub-score.
	VenueExecutionRisk map[string]float64
}

// Detector runs the periodic cross-venue arbitrage scan.
type Detector struct {
	cfg       Config
	cache     cache.Cache
	venues    []Venue
	publisher Publisher
	logger    zerolog.Logger
	cron      *cron.Cron
}

// New builds a Detector over the given venues.
func New(cfg Config, c cache.Cache, venues []Venue, pub Publisher, logger zerolog.Logger) *Detector {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 30 * time.Second
	}
	if cfg.MinProfitPercentage <= 0 {
		cfg.MinProfitPercentage = 5.0
	}
	if cfg.MaxRiskScore <= 0 {
		cfg.MaxRiskScore = 70.0
	}
	if cfg.OpportunityTTL <= 0 {
		cfg.OpportunityTTL = 10 * time.Minute
	}
	if cfg.VenueExecutionRisk == nil {
		cfg.VenueExecutionRisk = map[string]float64{}
	}
	return &Detector{
		cfg:       cfg,
		cache:     c,
		venues:    venues,
		publisher: pub,
		logger:    logger.With().Str("component", "arbitrage_detector").Logger(),
	}
}

// Start registers the scan cycle on a cron schedule derived from
// ScanInterval.
func (d *Detector) Start() {
	d.cron = cron.New(cron.WithSeconds())
	schedule := fmt.Sprintf("@every %s", d.cfg.ScanInterval)
	if _, err := d.cron.AddFunc(schedule, d.runCycleSafely); err != nil {
		d.logger.Error().Err(err).Msg("failed to register arbitrage scan cycle")
		return
	}
	d.cron.Start()
	d.logger.Info().Dur("interval", d.cfg.ScanInterval).Msg("arbitrage detector started")
}

// Stop halts the cron schedule, waiting for any in-flight cycle to finish.
func (d *Detector) Stop() {
	if d.cron == nil {
		return
	}
	ctx := d.cron.Stop()
	<-ctx.Done()
	d.logger.Info().Msg("arbitrage detector stopped")
}

func (d *Detector) runCycleSafely() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ScanInterval)
	defer cancel()
	if err := d.RunCycle(ctx); err != nil {
		d.logger.Error().Err(err).Msg("arbitrage scan cycle failed")
	}
}

// RunCycle executes one full scan (spec.md §4.H steps 1-8).
func (d *Detector) RunCycle(ctx context.Context) error {
	if err := d.expireStale(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("failed to expire stale opportunities")
	}

	byMoment := make(map[string]map[string][]adapter.Listing)
	for _, v := range d.venues {
		if healthy, _ := v.Health(); !healthy {
			continue
		}
		listings, err := v.FetchActiveListings(ctx, "")
		if err != nil {
			d.logger.Debug().Err(err).Str("venue", v.Name()).Msg("skipping venue, fetch failed")
			continue
		}
		for _, l := range listings {
			if byMoment[l.MomentID] == nil {
				byMoment[l.MomentID] = make(map[string][]adapter.Listing)
			}
			byMoment[l.MomentID][v.Name()] = append(byMoment[l.MomentID][v.Name()], l)
		}
	}

	for momentID, venueListings := range byMoment {
		if len(venueListings) < 2 {
			continue
		}
		d.scanMoment(ctx, momentID, venueListings)
	}
	return nil
}

func (d *Detector) scanMoment(ctx context.Context, momentID string, venueListings map[string][]adapter.Listing) {
	venues := make([]string, 0, len(venueListings))
	for name := range venueListings {
		venues = append(venues, name)
	}
	sort.Strings(venues)

	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			d.considerPair(ctx, momentID, venues[i], venueListings[venues[i]], venues[j], venueListings[venues[j]])
			d.considerPair(ctx, momentID, venues[j], venueListings[venues[j]], venues[i], venueListings[venues[i]])
		}
	}
}

// considerPair evaluates buying the minimum-priced listing in buyVenue and
// selling at the maximum-priced listing in sellVenue (spec.md §4.H step 4:
// "take min-price listing in one and max-price listing in the other, in
// both directions").
func (d *Detector) considerPair(ctx context.Context, momentID, buyVenue string, buyListings []adapter.Listing, sellVenue string, sellListings []adapter.Listing) {
	buy := cheapest(buyListings)
	sell := priciest(sellListings)
	if buy == nil || sell == nil {
		return
	}

	profit := sell.Price.Sub(buy.Price)
	if !profit.GreaterThan(money.Zero) {
		return
	}
	pct := money.PercentChange(buy.Price, sell.Price).Float64()
	if pct < d.cfg.MinProfitPercentage || profit.LessThan(d.cfg.MinProfitAmount) {
		return
	}

	age := time.Since(buy.ListedAt)
	risk := riskScore(age, buy.Price.Float64(), buy.SerialNumber)
	if risk > d.cfg.MaxRiskScore {
		return
	}

	sameSerial := buy.SerialNumber != 0 && buy.SerialNumber == sell.SerialNumber
	conf := confidence(pct, age, sameSerial)
	execRisk := executionRisk(buy.Price.Float64(), pct, d.cfg.VenueExecutionRisk[sellVenue])

	now := time.Now().UTC()
	opp := Opportunity{
		ID:            opportunityID(momentID, buyVenue, sellVenue),
		MomentID:      momentID,
		SourceVenue:   buyVenue,
		SourcePrice:   buy.Price,
		TargetVenue:   sellVenue,
		TargetPrice:   sell.Price,
		ProfitAmount:  profit,
		ProfitPercent: pct,
		Confidence:    conf,
		RiskScore:     risk,
		ExecutionRisk: execRisk,
		DetectedAt:    now,
		ExpiresAt:     now.Add(d.cfg.OpportunityTTL),
		Status:        StatusActive,
	}

	if err := d.save(ctx, opp); err != nil {
		d.logger.Error().Err(err).Str("moment_id", momentID).Msg("failed to persist opportunity")
		return
	}
	if d.publisher != nil {
		d.publisher.Broadcast("arbitrage_opportunity", opp)
	}
}

func cheapest(listings []adapter.Listing) *adapter.Listing {
	if len(listings) == 0 {
		return nil
	}
	min := listings[0]
	for _, l := range listings[1:] {
		if l.Price.LessThan(min.Price) {
			min = l
		}
	}
	return &min
}

func priciest(listings []adapter.Listing) *adapter.Listing {
	if len(listings) == 0 {
		return nil
	}
	max := listings[0]
	for _, l := range listings[1:] {
		if l.Price.GreaterThan(max.Price) {
			max = l
		}
	}
	return &max
}

// opportunityID derives a stable id from the dedup key so a rediscovered
// pair resolves to the same cache entry and gets updated in place rather
// than duplicated.
func opportunityID(momentID, source, target string) string {
	sum := sha1.Sum([]byte(dedupeKey(momentID, source, target)))
	return hex.EncodeToString(sum[:])
}

func (d *Detector) save(ctx context.Context, opp Opportunity) error {
	existing, ok := d.load(ctx, opp.ID)
	if ok && existing.Status != StatusActive {
		// a caller already marked this pair executed/invalid; don't
		// resurrect it as active just because it was rediscovered.
		return nil
	}

	data, err := json.Marshal(opp)
	if err != nil {
		return err
	}
	if err := d.cache.Set(ctx, cache.KeyArbitrage(opp.ID), data, cache.TTLArbitrage); err != nil {
		return err
	}
	return d.addToIndex(ctx, opp.ID)
}

func (d *Detector) load(ctx context.Context, id string) (Opportunity, bool) {
	raw, err := d.cache.Get(ctx, cache.KeyArbitrage(id))
	if err != nil {
		return Opportunity{}, false
	}
	var opp Opportunity
	if err := json.Unmarshal(raw, &opp); err != nil {
		return Opportunity{}, false
	}
	return opp, true
}

func (d *Detector) addToIndex(ctx context.Context, id string) error {
	raw, err := d.cache.Get(ctx, cache.KeyArbitrageOpportunities())
	var ids []string
	if err == nil {
		_ = json.Unmarshal(raw, &ids)
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return d.cache.Set(ctx, cache.KeyArbitrageOpportunities(), data, cache.TTLArbitrage)
}

// expireStale walks the opportunity index and marks anything past its TTL
// as expired (spec.md §4 "Lifecycle": "Expiry is time-driven").
func (d *Detector) expireStale(ctx context.Context) error {
	raw, err := d.cache.Get(ctx, cache.KeyArbitrageOpportunities())
	if err != nil {
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return err
	}

	now := time.Now().UTC()
	live := ids[:0]
	for _, id := range ids {
		opp, ok := d.load(ctx, id)
		if !ok {
			continue
		}
		if opp.Status == StatusActive && now.After(opp.ExpiresAt) {
			opp.Status = StatusExpired
			data, err := json.Marshal(opp)
			if err == nil {
				_ = d.cache.Set(ctx, cache.KeyArbitrage(id), data, cache.TTLArbitrage)
			}
			continue
		}
		live = append(live, id)
	}

	data, err := json.Marshal(live)
	if err != nil {
		return err
	}
	return d.cache.Set(ctx, cache.KeyArbitrageOpportunities(), data, cache.TTLArbitrage)
}

// MarkExecuted transitions an opportunity to executed (caller-driven,
// spec.md §4 "Lifecycle").
func (d *Detector) MarkExecuted(ctx context.Context, id string) error {
	return d.transition(ctx, id, StatusExecuted)
}

// MarkInvalid transitions an opportunity to invalid (caller-driven).
func (d *Detector) MarkInvalid(ctx context.Context, id string) error {
	return d.transition(ctx, id, StatusInvalid)
}

func (d *Detector) transition(ctx context.Context, id string, status Status) error {
	opp, ok := d.load(ctx, id)
	if !ok {
		return fmt.Errorf("arbitrage: opportunity %s not found", id)
	}
	opp.Status = status
	data, err := json.Marshal(opp)
	if err != nil {
		return err
	}
	return d.cache.Set(ctx, cache.KeyArbitrage(id), data, cache.TTLArbitrage)
}
