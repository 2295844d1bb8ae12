// Connection pooling adapted from the teacher's provider.ConnectionPool
// (services/gateway/provider/pool.go): one shared *http.Transport per
// backend service rather than per LLM provider, with the same lazy
// double-checked-lock construction and idle-connection tuning. The
// per-provider reuse/error atomics are not carried over; the pool here
// only owns transports and clients and records no metrics.
package registry

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// PoolConfig mirrors the teacher's tuning knobs for a shared transport.
type PoolConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	MaxConnsPerHost       int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	ExpectContinueTimeout time.Duration
}

// DefaultPoolConfig returns the same production defaults the teacher ships.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		DialTimeout:           10 * time.Second,
		KeepAlive:             30 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// ConnectionPool manages one shared *http.Client per backend service.
type ConnectionPool struct {
	mu       sync.RWMutex
	clients  map[string]*http.Client
	defaults PoolConfig
}

// NewConnectionPool creates a pool with the given default config.
func NewConnectionPool(defaults PoolConfig) *ConnectionPool {
	return &ConnectionPool{clients: make(map[string]*http.Client), defaults: defaults}
}

// ClientFor returns the shared client for a service, creating it on first
// access using the service's configured timeout.
func (p *ConnectionPool) ClientFor(serviceName string, timeout time.Duration) *http.Client {
	p.mu.RLock()
	if c, ok := p.clients[serviceName]; ok {
		p.mu.RUnlock()
		return c
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[serviceName]; ok {
		return c
	}

	client := &http.Client{
		Transport: p.createTransport(),
		Timeout:   timeout,
	}
	p.clients[serviceName] = client
	return client
}

func (p *ConnectionPool) createTransport() *http.Transport {
	cfg := p.defaults
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout: cfg.ExpectContinueTimeout,
	}
}

// Close releases idle connections across every pooled client.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.CloseIdleConnections()
	}
}
