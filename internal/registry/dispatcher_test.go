package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/riskgateway/platform/internal/apierrors"
	"github.com/riskgateway/platform/internal/registry"
)

func TestCallUnknownServiceIsConfigurationError(t *testing.T) {
	r := registry.New(nil)
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	d := registry.NewDispatcher(r, pool, zerolog.Nop())

	_, err := d.Call(context.Background(), "does-not-exist", http.MethodGet, "/x", nil, nil, nil)
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierrors.Configuration, apiErr.Kind)
}

func TestCallSucceedsAndEchoesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.NotEmpty(t, req.Header.Get("X-Correlation-Id"))
		require.Equal(t, "1", req.Header.Get("X-Gateway-Version"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	r := registry.New([]registry.Service{
		{Name: "trading", BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 1},
	})
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	d := registry.NewDispatcher(r, pool, zerolog.Nop())

	resp, err := d.Call(context.Background(), "trading", http.MethodGet, "/orders", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestCallDoesNotRetryOnHTTPErrorStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	r := registry.New([]registry.Service{
		{Name: "trading", BaseURL: srv.URL, Timeout: time.Second, MaxRetries: 3},
	})
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	d := registry.NewDispatcher(r, pool, zerolog.Nop())

	resp, err := d.Call(context.Background(), "trading", http.MethodGet, "/orders", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Equal(t, 1, attempts)
}

func TestCallTranslatesConnectionRefused(t *testing.T) {
	r := registry.New([]registry.Service{
		{Name: "trading", BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond, MaxRetries: 0},
	})
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	d := registry.NewDispatcher(r, pool, zerolog.Nop())

	_, err := d.Call(context.Background(), "trading", http.MethodGet, "/x", nil, nil, nil)
	var apiErr *apierrors.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, apierrors.UpstreamUnavailable, apiErr.Kind)
}
