package routetable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riskgateway/platform/internal/routetable"
)

func TestLookup_ExactAndPrefix(t *testing.T) {
	tbl := routetable.New([]routetable.Entry{
		{Method: "POST", PathPattern: "/api/v1/users/login", Auth: routetable.AuthNone, Service: "user", UpstreamPath: "/login"},
		{PathPattern: "/api/v1/users/*", Auth: routetable.AuthRequired, Service: "user"},
	})

	m, ok := tbl.Lookup("POST", "/api/v1/users/login")
	require.True(t, ok)
	require.Equal(t, "user", m.Entry.Service)
	require.Equal(t, "/login", m.ResolveUpstreamPath())

	m, ok = tbl.Lookup("GET", "/api/v1/users/42/profile")
	require.True(t, ok)
	require.Equal(t, routetable.AuthRequired, m.Entry.Auth)
	require.Equal(t, "/42/profile", m.ResolveUpstreamPath())
}

func TestLookup_DeclarationOrderWins(t *testing.T) {
	tbl := routetable.New([]routetable.Entry{
		{PathPattern: "/api/v1/marketplace/opportunities", Auth: routetable.AuthRequired, Service: "marketplace-monitor"},
		{PathPattern: "/api/v1/marketplace/*", Auth: routetable.AuthOptional, Service: "marketplace-monitor"},
	})

	m, ok := tbl.Lookup("GET", "/api/v1/marketplace/opportunities")
	require.True(t, ok)
	require.Equal(t, routetable.AuthRequired, m.Entry.Auth)

	m, ok = tbl.Lookup("GET", "/api/v1/marketplace/listings")
	require.True(t, ok)
	require.Equal(t, routetable.AuthOptional, m.Entry.Auth)
}

func TestLookup_NoMatch(t *testing.T) {
	tbl := routetable.New(routetable.DefaultEntries())
	_, ok := tbl.Lookup("GET", "/api/v2/users")
	require.False(t, ok)
}

func TestLookup_NamedSegment(t *testing.T) {
	tbl := routetable.New([]routetable.Entry{
		{Method: "GET", PathPattern: "/api/v1/marketplace/alerts/{id}", Auth: routetable.AuthRequired, Service: "marketplace-monitor", UpstreamPath: "/alerts/{id}"},
	})
	m, ok := tbl.Lookup("GET", "/api/v1/marketplace/alerts/abc-123")
	require.True(t, ok)
	require.Equal(t, "abc-123", m.Params["id"])
	require.Equal(t, "/alerts/abc-123", m.ResolveUpstreamPath())
}
