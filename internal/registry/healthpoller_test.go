package registry_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/riskgateway/platform/internal/registry"
)

func TestHealthPollerDetectsHealthyService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := registry.New([]registry.Service{{Name: "trading", BaseURL: srv.URL}})
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	poller := registry.NewHealthPoller(r, pool, zerolog.Nop(), 5*time.Second)

	poller.Start()
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return poller.IsHealthy("trading")
	}, time.Second, 10*time.Millisecond)
}

func TestHealthPollerFallsBackToStatsPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/stats" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := registry.New([]registry.Service{{Name: "trading", BaseURL: srv.URL}})
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	poller := registry.NewHealthPoller(r, pool, zerolog.Nop(), 5*time.Second)

	poller.Start()
	defer poller.Stop()

	require.Eventually(t, func() bool {
		return poller.IsHealthy("trading")
	}, time.Second, 10*time.Millisecond)
}
