package adapter

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestParseListing_SnakeCase(t *testing.T) {
	raw := []byte(`{
		"listing_id": "l-1",
		"moment_id": "m-1",
		"player_id": "p-1",
		"player_name": "Player One",
		"moment_type": "dunk",
		"serial_number": "42",
		"price": "12.50",
		"venue_id": "venue-a",
		"seller_id": "s-1",
		"listed_at": "2026-01-01T00:00:00Z",
		"updated_at": "2026-01-02T00:00:00Z",
		"status": "active"
	}`)

	listing, err := ParseListing(raw, "venue-a")
	require.NoError(t, err)
	require.Equal(t, "l-1", listing.ID)
	require.Equal(t, "m-1", listing.MomentID)
	require.Equal(t, 42, listing.SerialNumber)
	require.True(t, listing.Price.Float64() == 12.5)
	require.Equal(t, "USD", listing.Currency)
	require.Equal(t, StatusActive, listing.Status)
}

func TestParseListing_CamelCaseAndNumericPrice(t *testing.T) {
	raw := []byte(`{
		"id": "l-2",
		"momentId": "m-2",
		"playerId": "p-2",
		"serialNumber": 7,
		"price": 99.99,
		"venueId": "venue-b"
	}`)

	listing, err := ParseListing(raw, "venue-b")
	require.NoError(t, err)
	require.Equal(t, "l-2", listing.ID)
	require.Equal(t, 7, listing.SerialNumber)
	require.InDelta(t, 99.99, listing.Price.Float64(), 0.001)
	require.Equal(t, StatusActive, listing.Status) // defaulted
	require.NotNil(t, listing.Metadata)
}

func TestParseListing_VenueIDDefaultsWhenAbsent(t *testing.T) {
	raw := []byte(`{"id": "l-3", "price": "5"}`)
	listing, err := ParseListing(raw, "fallback-venue")
	require.NoError(t, err)
	require.Equal(t, "fallback-venue", listing.VenueID)
}

func TestHealth_NoStreamIsUnhealthy(t *testing.T) {
	a := New(VenueConfig{Name: "v1", HTTPBaseURL: "http://example.invalid"}, Handlers{}, testLogger())
	healthy, depth := a.Health()
	require.False(t, healthy)
	require.Equal(t, 0, depth)
}

func TestBackoffDelay_CapsAtMax(t *testing.T) {
	require.Equal(t, maxReconnectGap, backoffDelay(20))
}
