// HealthPoller is adapted from the teacher's provider.HealthPoller
// (services/gateway/provider/healthpoller.go): same background ticker,
// transition detection, and status-change callback, retargeted at the nine
// backend services instead of LLM providers and probing HealthPath with a
// StatsPath fallback (open question i).
package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthStatus is the outcome of one probe.
type HealthStatus struct {
	Healthy bool
	Error   string
	Latency time.Duration
}

// HealthPoller continuously monitors every registered service in the
// background.
type HealthPoller struct {
	registry *Registry
	pool     *ConnectionPool
	logger   zerolog.Logger
	interval time.Duration

	mu             sync.RWMutex
	lastStatus     map[string]bool
	statusChangeCB func(service string, healthy bool, status HealthStatus)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthPoller creates a poller that checks all services at interval
// (minimum 5s).
func NewHealthPoller(registry *Registry, pool *ConnectionPool, logger zerolog.Logger, interval time.Duration) *HealthPoller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &HealthPoller{
		registry:   registry,
		pool:       pool,
		logger:     logger.With().Str("component", "health_poller").Logger(),
		interval:   interval,
		lastStatus: make(map[string]bool),
		done:       make(chan struct{}),
	}
}

// OnStatusChange registers a callback invoked on healthy/unhealthy
// transitions.
func (hp *HealthPoller) OnStatusChange(cb func(service string, healthy bool, status HealthStatus)) {
	hp.statusChangeCB = cb
}

// Start begins the background polling loop.
func (hp *HealthPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	hp.cancel = cancel
	hp.logger.Info().Dur("interval", hp.interval).Msg("starting service health poller")
	go hp.pollLoop(ctx)
}

// Stop gracefully shuts down the poller and waits for it to finish.
func (hp *HealthPoller) Stop() {
	if hp.cancel != nil {
		hp.cancel()
	}
	<-hp.done
	hp.logger.Info().Msg("health poller stopped")
}

func (hp *HealthPoller) pollLoop(ctx context.Context) {
	defer close(hp.done)
	hp.poll(ctx)

	ticker := time.NewTicker(hp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hp.poll(ctx)
		}
	}
}

func (hp *HealthPoller) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, hp.interval/2)
	defer cancel()

	results := make(map[string]HealthStatus)
	for _, name := range hp.registry.Names() {
		svc, _ := hp.registry.Lookup(name)
		results[name] = hp.probe(pollCtx, svc)
	}

	hp.mu.Lock()
	defer hp.mu.Unlock()

	healthy, unhealthy := 0, 0
	for name, status := range results {
		wasHealthy, known := hp.lastStatus[name]
		if known && wasHealthy != status.Healthy {
			transition := "recovered"
			if !status.Healthy {
				transition = "degraded"
			}
			hp.logger.Warn().Str("service", name).Str("transition", transition).
				Str("error", status.Error).Dur("latency", status.Latency).Msg("service status change")
			if hp.statusChangeCB != nil {
				hp.statusChangeCB(name, status.Healthy, status)
			}
		}
		hp.lastStatus[name] = status.Healthy
		if status.Healthy {
			healthy++
		} else {
			unhealthy++
		}
	}

	hp.logger.Debug().Int("healthy", healthy).Int("unhealthy", unhealthy).
		Int("total", len(results)).Msg("health poll complete")
}

// probe tries HealthPath first and falls back to StatsPath on failure,
// since a venue/service advertising only a stats endpoint should not be
// marked unhealthy just because /health is absent.
func (hp *HealthPoller) probe(ctx context.Context, svc Service) HealthStatus {
	start := time.Now()
	client := hp.pool.ClientFor(svc.Name, 5*time.Second)

	if ok, _ := ping(ctx, client, svc.BaseURL+svc.HealthPath); ok {
		return HealthStatus{Healthy: true, Latency: time.Since(start)}
	}
	if ok, errMsg := ping(ctx, client, svc.BaseURL+svc.StatsPath); ok {
		return HealthStatus{Healthy: true, Latency: time.Since(start)}
	} else {
		return HealthStatus{Healthy: false, Error: errMsg, Latency: time.Since(start)}
	}
}

func ping(ctx context.Context, client *http.Client, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, http.StatusText(resp.StatusCode)
}

// IsHealthy returns whether a specific service was healthy at last check.
func (hp *HealthPoller) IsHealthy(name string) bool {
	hp.mu.RLock()
	defer hp.mu.RUnlock()
	healthy, ok := hp.lastStatus[name]
	return ok && healthy
}

// HealthyServices returns the names of currently healthy services.
func (hp *HealthPoller) HealthyServices() []string {
	hp.mu.RLock()
	defer hp.mu.RUnlock()
	var names []string
	for name, healthy := range hp.lastStatus {
		if healthy {
			names = append(names, name)
		}
	}
	return names
}
