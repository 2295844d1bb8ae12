// Package arbitrage implements the cross-venue scanner of spec.md §4.H:
// pairing cheapest-ask against highest-bid per moment across venues,
// scoring profit against risk, and tracking opportunities with a TTL.
package arbitrage

import (
	"time"

	"github.com/riskgateway/platform/internal/money"
)

// Status is an opportunity's lifecycle state (spec.md §4 "Lifecycle":
// active → executed|invalid|expired; expiry is time-driven, the other two
// transitions are caller-driven).
type Status string

const (
	StatusActive   Status = "active"
	StatusExecuted Status = "executed"
	StatusInvalid  Status = "invalid"
	StatusExpired  Status = "expired"
)

// ExecutionRisk holds the three sub-scores spec.md §4.H step 8 names.
type ExecutionRisk struct {
	Liquidity      float64 `json:"liquidity"`
	PriceMovement  float64 `json:"priceMovement"`
	ExecutionTime  float64 `json:"executionTime"`
}

// Opportunity is a detected cross-venue price gap (spec.md §3
// "Arbitrage opportunity").
type Opportunity struct {
	ID              string        `json:"id"`
	MomentID        string        `json:"momentId"`
	SourceVenue     string        `json:"sourceVenue"`
	SourcePrice     money.Amount  `json:"sourcePrice"`
	TargetVenue     string        `json:"targetVenue"`
	TargetPrice     money.Amount  `json:"targetPrice"`
	ProfitAmount    money.Amount  `json:"profitAmount"`
	ProfitPercent   float64       `json:"profitPercent"`
	Confidence      float64       `json:"confidence"`
	RiskScore       float64       `json:"riskScore"`
	ExecutionRisk   ExecutionRisk `json:"executionRisk"`
	DetectedAt      time.Time     `json:"detectedAt"`
	ExpiresAt       time.Time     `json:"expiresAt"`
	Status          Status        `json:"status"`
}

// dedupeKey identifies an opportunity across rescans so a rediscovered
// pair updates the existing record instead of minting a new one (spec.md
// §4.H: "published once, updated if rediscovered").
func dedupeKey(momentID, source, target string) string {
	return momentID + "|" + source + "|" + target
}
