// Package suspicious implements the per-user activity pattern and the
// point-budget scorer of spec.md §4.J, consulted by the budget approval
// pipeline before a spend is approved.
package suspicious

import (
	"context"
	"encoding/json"
	"time"

	"github.com/riskgateway/platform/internal/cache"
)

// Action is the scorer's verdict, a monotone step function of the raw
// score against the 30/60/80 thresholds (spec.md §8 property 8).
type Action string

const (
	ActionAllow  Action = "allow"
	ActionFlag   Action = "flag"
	ActionVerify Action = "require_verification"
	ActionBlock  Action = "block"
)

// Metadata is the optional request context spec.md §4.J names: client
// address, user agent, device fingerprint, coarse geolocation.
type Metadata struct {
	ClientAddress string
	UserAgent     string
	DeviceID      string
	Geo           string
}

// Pattern is the per-user activity history spec.md §3 names, bounded so
// it never grows unboundedly (spec.md §5: "Activity patterns ... bounded
// size per user").
type Pattern struct {
	UserID          string    `json:"userId"`
	TxTimes         []int64   `json:"txTimes"`   // unix seconds, most recent last, capped at 100
	TxAmounts       []float64 `json:"txAmounts"` // parallel to TxTimes, capped at 100
	TypicalHours    []int     `json:"typicalHours"`
	Devices         []string  `json:"devices"` // capped at last 5
	IPs             []string  `json:"ips"`     // capped at last 10
	Geos            []string  `json:"geos"`    // capped at last 10
	LastTxUnix      int64     `json:"lastTxUnix"`
}

const (
	maxTxHistory = 100
	maxDevices   = 5
	maxIPs       = 10
	maxGeos      = 10
)

// Config holds the thresholds spec.md §4.J / §6 names.
type Config struct {
	MaxHourlyTx       int
	MaxDailyTx        int
	AmountRatioThresh float64
	RapidFireSeconds  int
	BlockScore        float64
	VerifyScore       float64
	FlagScore         float64
}

// Scorer evaluates spending requests for suspicious activity.
type Scorer struct {
	cfg   Config
	cache cache.Cache
}

// New builds a Scorer.
func New(cfg Config, c cache.Cache) *Scorer {
	if cfg.MaxHourlyTx <= 0 {
		cfg.MaxHourlyTx = 10
	}
	if cfg.MaxDailyTx <= 0 {
		cfg.MaxDailyTx = 30
	}
	if cfg.AmountRatioThresh <= 0 {
		cfg.AmountRatioThresh = 5.0
	}
	if cfg.RapidFireSeconds <= 0 {
		cfg.RapidFireSeconds = 5
	}
	if cfg.BlockScore <= 0 {
		cfg.BlockScore = 80
	}
	if cfg.VerifyScore <= 0 {
		cfg.VerifyScore = 60
	}
	if cfg.FlagScore <= 0 {
		cfg.FlagScore = 30
	}
	return &Scorer{cfg: cfg, cache: c}
}

// Result is the scorer's verdict plus the reasons that produced it
// (spec.md §7: "the list of reason strings from §4.J is echoed in data").
type Result struct {
	Score   float64  `json:"score"`
	Action  Action   `json:"action"`
	Reasons []string `json:"reasons"`
}

// Evaluate scores one spending request against the user's activity
// pattern, then updates the pattern (spec.md §4.J: "on every request
// update the pattern").
func (s *Scorer) Evaluate(ctx context.Context, userID string, amount float64, meta Metadata, hourlyCount, dailyCount int) (Result, error) {
	pattern, err := s.loadPattern(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	var score float64
	var reasons []string

	add := func(points float64, reason string) {
		score += points
		reasons = append(reasons, reason)
	}

	if hourlyCount >= s.cfg.MaxHourlyTx {
		add(30, "hourly transaction count at or above configured maximum")
	}
	if dailyCount >= s.cfg.MaxDailyTx {
		add(40, "daily transaction count at or above configured maximum")
	}

	if avg := meanAmount(pattern.TxAmounts); avg > 0 {
		ratio := amount / avg
		if ratio > s.cfg.AmountRatioThresh {
			points := ratio * 5
			if points > 25 {
				points = 25
			}
			add(points, "transaction amount far exceeds the user's average")
		}
	}

	now := time.Now().UTC()
	if pattern.LastTxUnix > 0 {
		gap := now.Unix() - pattern.LastTxUnix
		if gap >= 0 && gap < int64(s.cfg.RapidFireSeconds) {
			add(20, "transaction arrived within the rapid-fire threshold of the previous one")
		}
	}

	if dist := hourDistance(now.Hour(), pattern.TypicalHours); dist > 3 {
		points := float64(dist) * 2
		if points > 15 {
			points = 15
		}
		add(points, "current hour is atypical for this user")
	}

	if meta.Geo != "" && !contains(pattern.Geos, meta.Geo) {
		points := 10.0
		if len(pattern.Geos) >= 5 {
			points += 15
		}
		add(points, "transaction originates from a new geolocation")
	}

	if meta.DeviceID != "" && !contains(pattern.Devices, meta.DeviceID) {
		points := 10.0
		if len(pattern.Devices) >= 2 {
			points += 15
		}
		add(points, "transaction originates from a new device")
	}

	if score > 100 {
		score = 100
	}

	action := ActionAllow
	switch {
	case score >= s.cfg.BlockScore:
		action = ActionBlock
	case score >= s.cfg.VerifyScore:
		action = ActionVerify
	case score >= s.cfg.FlagScore:
		action = ActionFlag
	}

	s.updatePattern(&pattern, now, amount, meta)
	if err := s.savePattern(ctx, pattern); err != nil {
		return Result{}, err
	}

	return Result{Score: score, Action: action, Reasons: reasons}, nil
}

func (s *Scorer) updatePattern(p *Pattern, now time.Time, amount float64, meta Metadata) {
	p.TxTimes = append(p.TxTimes, now.Unix())
	p.TxAmounts = append(p.TxAmounts, amount)
	if len(p.TxTimes) > maxTxHistory {
		p.TxTimes = p.TxTimes[len(p.TxTimes)-maxTxHistory:]
		p.TxAmounts = p.TxAmounts[len(p.TxAmounts)-maxTxHistory:]
	}
	p.LastTxUnix = now.Unix()

	hour := now.Hour()
	if !containsInt(p.TypicalHours, hour) {
		p.TypicalHours = append(p.TypicalHours, hour)
	}

	if meta.DeviceID != "" {
		p.Devices = appendBounded(p.Devices, meta.DeviceID, maxDevices)
	}
	if meta.ClientAddress != "" {
		p.IPs = appendBounded(p.IPs, meta.ClientAddress, maxIPs)
	}
	if meta.Geo != "" {
		p.Geos = appendBounded(p.Geos, meta.Geo, maxGeos)
	}
}

func appendBounded(set []string, value string, max int) []string {
	if contains(set, value) {
		return set
	}
	set = append(set, value)
	if len(set) > max {
		set = set[len(set)-max:]
	}
	return set
}

func meanAmount(amounts []float64) float64 {
	if len(amounts) == 0 {
		return 0
	}
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	return sum / float64(len(amounts))
}

func hourDistance(hour int, typical []int) int {
	if len(typical) == 0 {
		return 0
	}
	best := 24
	for _, h := range typical {
		d := hour - h
		if d < 0 {
			d = -d
		}
		if d > 12 {
			d = 24 - d
		}
		if d < best {
			best = d
		}
	}
	return best
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Scorer) loadPattern(ctx context.Context, userID string) (Pattern, error) {
	raw, err := s.cache.Get(ctx, cache.KeyActivityPattern(userID))
	if err != nil {
		return Pattern{UserID: userID}, nil
	}
	var p Pattern
	if err := json.Unmarshal(raw, &p); err != nil {
		return Pattern{UserID: userID}, nil
	}
	return p, nil
}

func (s *Scorer) savePattern(ctx context.Context, p Pattern) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, cache.KeyActivityPattern(p.UserID), data, cache.TTLActivityPattern)
}
