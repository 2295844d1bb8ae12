// Command gateway is the control-plane composition root, adapted from the
// teacher's main.go: config -> logger -> stores -> components -> router ->
// HTTP server, with graceful shutdown on SIGINT/SIGTERM. Where the teacher
// wires an LLM provider registry, analytics pipeline, and model syncer,
// this binary wires the service registry/dispatcher, the marketplace
// monitoring core, and the budget/risk core as the same kind of supervised
// background components.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/riskgateway/platform/internal/applog"
	"github.com/riskgateway/platform/internal/budget"
	"github.com/riskgateway/platform/internal/budget/suspicious"
	"github.com/riskgateway/platform/internal/cache"
	cacheredis "github.com/riskgateway/platform/internal/cache/redis"
	"github.com/riskgateway/platform/internal/config"
	"github.com/riskgateway/platform/internal/hub"
	"github.com/riskgateway/platform/internal/ingress"
	"github.com/riskgateway/platform/internal/marketplace/adapter"
	"github.com/riskgateway/platform/internal/marketplace/arbitrage"
	"github.com/riskgateway/platform/internal/marketplace/pricemonitor"
	"github.com/riskgateway/platform/internal/metricsring"
	"github.com/riskgateway/platform/internal/money"
	"github.com/riskgateway/platform/internal/observability"
	"github.com/riskgateway/platform/internal/registry"
	"github.com/riskgateway/platform/internal/routetable"
	cachememory "github.com/riskgateway/platform/internal/cache/memory"
	"github.com/riskgateway/platform/internal/store"
	storememory "github.com/riskgateway/platform/internal/store/memory"
	storepostgres "github.com/riskgateway/platform/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := applog.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("control plane starting")

	cacheImpl := openCache(cfg, log)
	storeImpl := openStore(cfg, log)

	// Service registry + dispatcher (spec.md §4.A).
	reg := registry.New(buildServices(cfg))
	pool := registry.NewConnectionPool(registry.DefaultPoolConfig())
	dispatcher := registry.NewDispatcher(reg, pool, log)

	healthPoller := registry.NewHealthPoller(reg, pool, log, cfg.VenueHealthCheckInterval)
	healthPoller.OnStatusChange(func(name string, healthy bool, status registry.HealthStatus) {
		if healthy {
			log.Info().Str("service", name).Msg("backend service recovered")
		} else {
			log.Warn().Str("service", name).Str("error", status.Error).Msg("backend service degraded")
		}
	})
	healthPoller.Start()

	// Realtime push hub (spec.md §4.C).
	h := hub.New(cfg.HeartbeatInterval, cfg.HeartbeatTimeout, log)
	go h.Run()
	auth := ingress.NewAuthenticator(cfg.JWTSecret)
	pub := hubPublisher{h: h}

	// Metrics ring + Prometheus collectors (spec.md §4.E).
	ring := metricsring.New(cfg.MetricsRingCapacity)
	obs := observability.NewMetrics()

	// Marketplace adapters — one per configured venue (spec.md §4.F).
	adapters := make([]*adapter.Adapter, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		adapters = append(adapters, newVenueAdapter(cfg, v, log))
	}

	priceMonitor := newPriceMonitor(cfg, cacheImpl, storeImpl, adapters, pub, log)
	arbDetector := newArbitrageDetector(cfg, cacheImpl, adapters, pub, log)

	// Attach the price-monitor's event-driven trending hook to every
	// adapter's stream frames. The arbitrage detector takes no stream
	// input; it fetches listings on its own scan schedule.
	for _, a := range adapters {
		a.SetHandlers(adapter.Handlers{
			OnListingUpdate: func(l adapter.Listing) { priceMonitor.NoteTrending(l.MomentID) },
			OnSale:          func(s adapter.SaleEvent) { priceMonitor.NoteTrending(s.MomentID) },
			OnPriceChange:   func(p adapter.PriceChangeEvent) { priceMonitor.NoteTrending(p.MomentID) },
			OnVolumeUpdate:  func(v adapter.VolumeUpdateEvent) { priceMonitor.NoteTrending(v.MomentID) },
		})
	}

	streamCtx, streamCancel := context.WithCancel(context.Background())
	for _, a := range adapters {
		a := a
		go func() {
			if err := a.Connect(streamCtx); err != nil {
				log.Warn().Err(err).Str("venue", a.Name()).Msg("venue stream connect failed")
			}
		}()
	}

	priceMonitor.Start()
	arbDetector.Start()

	// Budget/risk core (spec.md §4.I/§4.J).
	scorer := suspicious.New(suspiciousConfig(cfg), cacheImpl)
	engine := budget.New(budgetConfig(cfg), storeImpl, cacheImpl, scorer, pub, log)
	engine.Start()

	// Ingress pipeline + route table (spec.md §4.B/§4.D) composed last,
	// since it wires every component above into one http.Handler.
	table := routetable.New(routetable.DefaultEntries())
	handler := ingress.New(ingress.Dependencies{
		Config:     cfg,
		Logger:     log,
		Dispatcher: dispatcher,
		Table:      table,
		Ring:       ring,
		Obs:        obs,

		WebsocketHandler: h.ServeWS(auth.VerifyRaw),
		WebsocketStatus:  h.Status,
		WebsocketTest:    h.TestMessage,
		HealthAggregator: ingress.NewHealthAggregator(ingress.HealthAggregatorDeps{
			Ring:      ring,
			Services:  healthPoller,
			Connected: h.ConnectionCount,
		}),
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.ServiceTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("control plane listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	streamCancel()
	for _, a := range adapters {
		a.Disconnect()
	}
	priceMonitor.Stop()
	arbDetector.Stop()
	engine.Stop()
	healthPoller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := h.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("hub shutdown did not finish cleanly")
	}
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("control plane stopped gracefully")
	}

	if closer, ok := storeImpl.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

// buildServices turns the configured service URL map into the registry's
// immutable descriptor table (spec.md §3 "service descriptor").
func buildServices(cfg *config.Config) []registry.Service {
	services := make([]registry.Service, 0, len(cfg.ServiceURLs))
	for name, url := range cfg.ServiceURLs {
		services = append(services, registry.Service{
			Name:       name,
			BaseURL:    url,
			Timeout:    cfg.ServiceTimeout,
			MaxRetries: cfg.ServiceMaxRetries,
		})
	}
	return services
}

func newVenueAdapter(cfg *config.Config, v config.VenueEndpoint, log zerolog.Logger) *adapter.Adapter {
	return adapter.New(adapter.VenueConfig{
		Name:                 v.Name,
		HTTPBaseURL:          v.HTTPBaseURL,
		StreamURL:            v.StreamURL,
		RequestTimeout:       cfg.VenueHealthCheckTimeout,
		MaxReconnectAttempts: cfg.VenueMaxReconnectAttempts,
		QueueDepthThreshold:  cfg.VenueQueueDepthThreshold,
		HeartbeatInterval:    30 * time.Second,
		RequestsPerSecond:    10,
	}, adapter.Handlers{}, log)
}

func newPriceMonitor(cfg *config.Config, c cache.Cache, s store.Store, adapters []*adapter.Adapter, pub pricemonitor.Publisher, log zerolog.Logger) *pricemonitor.Monitor {
	clients := make([]pricemonitor.VenueClient, len(adapters))
	for i, a := range adapters {
		clients[i] = a
	}
	return pricemonitor.New(pricemonitor.Config{
		UpdateInterval:      time.Duration(cfg.PriceUpdateIntervalMs) * time.Millisecond,
		ChangeThresholdPct:  cfg.PriceChangeThresholdPct,
		VolumeSpikeMultiple: cfg.VolumeSpikeMultiple,
		HistoryRetention:    cfg.PriceHistoryRetention,
	}, c, s, clients, pub, log)
}

func newArbitrageDetector(cfg *config.Config, c cache.Cache, adapters []*adapter.Adapter, pub arbitrage.Publisher, log zerolog.Logger) *arbitrage.Detector {
	venues := make([]arbitrage.Venue, len(adapters))
	for i, a := range adapters {
		venues[i] = a
	}
	return arbitrage.New(arbitrage.Config{
		ScanInterval:        time.Duration(cfg.ArbitrageScanIntervalMs) * time.Millisecond,
		MinProfitPercentage: cfg.MinProfitPercentage,
		MinProfitAmount:     money.New(cfg.MinProfitAmount),
		MaxRiskScore:        cfg.MaxRiskScore,
		OpportunityTTL:      cfg.ArbitrageTTL,
	}, c, venues, pub, log)
}

func suspiciousConfig(cfg *config.Config) suspicious.Config {
	return suspicious.Config{
		MaxHourlyTx:       cfg.SuspiciousMaxHourlyTx,
		MaxDailyTx:        cfg.SuspiciousMaxDailyTx,
		AmountRatioThresh: cfg.SuspiciousAmountRatio,
		RapidFireSeconds:  cfg.RapidFireThresholdSec,
		BlockScore:        cfg.SuspiciousBlockScore,
		VerifyScore:       cfg.SuspiciousVerifyScore,
		FlagScore:         cfg.SuspiciousFlagScore,
	}
}

func budgetConfig(cfg *config.Config) budget.Config {
	return budget.Config{
		DefaultDailyCap:      money.New(cfg.DefaultDailyCap),
		DefaultWeeklyCap:     money.New(cfg.DefaultWeeklyCap),
		DefaultMonthlyCap:    money.New(cfg.DefaultMonthlyCap),
		DefaultTotalBudget:   money.New(cfg.DefaultTotalBudget),
		DefaultMaxPerItem:    money.New(cfg.DefaultMaxPerItem),
		DefaultEmergencyStop: money.New(cfg.DefaultEmergencyStop),
		DefaultReserveAmount: money.New(cfg.DefaultReserveAmount),
		WarningThreshold:     cfg.BudgetWarningThreshold,
		PendingChangeTTL:     cfg.PendingChangeTTL,
	}
}

// openCache connects to Redis, falling back to the in-memory cache (and
// logging why) the same way the teacher's main.go continues without Redis
// rather than failing startup.
func openCache(cfg *config.Config, log zerolog.Logger) cache.Cache {
	c, err := cacheredis.New(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — falling back to in-memory cache")
		return cachememory.New()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("redis ping failed — falling back to in-memory cache")
		return cachememory.New()
	}
	log.Info().Msg("redis connected")
	return c
}

// openStore connects to Postgres (applying migrations), falling back to
// the in-memory store for local development when unreachable.
func openStore(cfg *config.Config, log zerolog.Logger) store.Store {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := storepostgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("postgres init failed — falling back to in-memory store")
		return storememory.New()
	}
	log.Info().Msg("postgres connected")
	return s
}

// hubPublisher adapts *hub.Hub onto the Publisher interfaces the budget
// engine, price monitor, and arbitrage detector each declare independently
// (spec.md §4.C "APIs to other components"), keeping those packages free
// of a direct internal/hub dependency.
type hubPublisher struct{ h *hub.Hub }

func (p hubPublisher) Broadcast(msgType string, payload any) {
	p.h.Broadcast(hub.Message{
		Type:      hub.MessageType(msgType),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func (p hubPublisher) SendToUser(userID, msgType string, payload any) {
	p.h.SendToUser(userID, hub.Message{
		Type:      hub.MessageType(msgType),
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		UserID:    userID,
	})
}
