// Package registry holds the immutable service descriptor table and the
// dispatcher that routes calls to backend services: the user, ai-scouting,
// marketplace-monitor, trading, notification, risk-management, and strategy
// services, plus the two execution backends (spec.md §4.A/§4.D).
package registry

import "time"

// Service is an immutable descriptor for one backend, looked up by name in
// O(1) after startup.
type Service struct {
	Name        string
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	AuthHeader  string // optional static auth material forwarded to the backend
	HealthPath  string // defaults to "/health"
	StatsPath   string // fallback probe path when HealthPath is unavailable (open question i)
}

// Registry is the read-only, post-startup-immutable service descriptor
// table.
type Registry struct {
	services map[string]Service
}

// New builds a Registry from service descriptors. The table is immutable
// after construction; callers only ever read from it.
func New(services []Service) *Registry {
	r := &Registry{services: make(map[string]Service, len(services))}
	for _, s := range services {
		if s.HealthPath == "" {
			s.HealthPath = "/health"
		}
		if s.StatsPath == "" {
			s.StatsPath = "/stats"
		}
		r.services[s.Name] = s
	}
	return r
}

// Lookup returns the descriptor for name, or false if unregistered.
func (r *Registry) Lookup(name string) (Service, bool) {
	s, ok := r.services[name]
	return s, ok
}

// Names returns every registered service name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	return names
}
