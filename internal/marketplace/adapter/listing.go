// Package adapter implements the per-venue marketplace client of spec.md
// §4.F: a rate-limited HTTP client plus a persistent stream client, each
// normalizing a venue's heterogeneous payload shape into the canonical
// data model of spec.md §3.
package adapter

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/riskgateway/platform/internal/money"
)

// ListingStatus is the lifecycle state of a Listing (spec.md §3).
type ListingStatus string

const (
	StatusActive    ListingStatus = "active"
	StatusSold      ListingStatus = "sold"
	StatusCancelled ListingStatus = "cancelled"
	StatusExpired   ListingStatus = "expired"
)

// Listing is the canonical marketplace listing spec.md §3 names: "stable
// id, moment id, player id+name, moment type, serial number (integer),
// price (decimal), currency, venue id, seller id, listed-at, updated-at,
// status".
type Listing struct {
	ID           string         `json:"id"`
	MomentID     string         `json:"momentId"`
	PlayerID     string         `json:"playerId"`
	PlayerName   string         `json:"playerName"`
	MomentType   string         `json:"momentType"`
	SerialNumber int            `json:"serialNumber"`
	Price        money.Amount   `json:"price"`
	Currency     string         `json:"currency"`
	VenueID      string         `json:"venueId"`
	SellerID     string         `json:"sellerId"`
	ListedAt     time.Time      `json:"listedAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Status       ListingStatus  `json:"status"`
	Metadata     map[string]any `json:"metadata"`
}

// rawListing accepts every snake_case/camelCase spelling venues are
// observed to use for the same field (spec.md §4.F: "normalise both
// snake-case and camel-case field names; coerce numeric strings").
type rawListing struct {
	ID           string         `json:"id"`
	ListingID    string         `json:"listing_id"`
	MomentID     string         `json:"momentId"`
	MomentIDSnk  string         `json:"moment_id"`
	PlayerID     string         `json:"playerId"`
	PlayerIDSnk  string         `json:"player_id"`
	PlayerName   string         `json:"playerName"`
	PlayerNameSk string         `json:"player_name"`
	MomentType   string         `json:"momentType"`
	MomentTypeSk string         `json:"moment_type"`
	SerialNumber json.Number    `json:"serialNumber"`
	SerialNumSk  json.Number    `json:"serial_number"`
	Price        json.Number    `json:"price"`
	Currency     string         `json:"currency"`
	VenueID      string         `json:"venueId"`
	VenueIDSnk   string         `json:"venue_id"`
	SellerID     string         `json:"sellerId"`
	SellerIDSnk  string         `json:"seller_id"`
	ListedAt     string         `json:"listedAt"`
	ListedAtSnk  string         `json:"listed_at"`
	UpdatedAt    string         `json:"updatedAt"`
	UpdatedAtSnk string         `json:"updated_at"`
	Status       string         `json:"status"`
	Metadata     map[string]any `json:"metadata"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseTimestamp(vals ...string) time.Time {
	for _, v := range vals {
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Now().UTC()
}

// ParseListing normalizes one venue payload into the canonical Listing,
// applying spec.md §4.F's sensible defaults for missing optional fields.
func ParseListing(data []byte, venueID string) (Listing, error) {
	var raw rawListing
	if err := json.Unmarshal(data, &raw); err != nil {
		return Listing{}, err
	}

	serial := raw.SerialNumber
	if serial == "" {
		serial = raw.SerialNumSk
	}
	serialInt := 0
	if serial != "" {
		if n, err := serial.Int64(); err == nil {
			serialInt = int(n)
		}
	}

	price := money.Zero
	if raw.Price != "" {
		if amt, err := money.NewFromString(strings.TrimSpace(raw.Price.String())); err == nil {
			price = amt
		}
	}

	status := ListingStatus(raw.Status)
	if status == "" {
		status = StatusActive
	}

	metadata := raw.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	currency := raw.Currency
	if currency == "" {
		currency = "USD"
	}

	resolvedVenue := firstNonEmpty(raw.VenueID, raw.VenueIDSnk, venueID)

	return Listing{
		ID:           firstNonEmpty(raw.ID, raw.ListingID),
		MomentID:     firstNonEmpty(raw.MomentID, raw.MomentIDSnk),
		PlayerID:     firstNonEmpty(raw.PlayerID, raw.PlayerIDSnk),
		PlayerName:   firstNonEmpty(raw.PlayerName, raw.PlayerNameSk),
		MomentType:   firstNonEmpty(raw.MomentType, raw.MomentTypeSk),
		SerialNumber: serialInt,
		Price:        price,
		Currency:     currency,
		VenueID:      resolvedVenue,
		SellerID:     firstNonEmpty(raw.SellerID, raw.SellerIDSnk),
		ListedAt:     parseTimestamp(raw.ListedAt, raw.ListedAtSnk),
		UpdatedAt:    parseTimestamp(raw.UpdatedAt, raw.UpdatedAtSnk),
		Status:       status,
		Metadata:     metadata,
	}, nil
}
