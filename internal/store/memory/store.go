// Package memory provides an in-memory store.Store used by tests and local
// development, mirroring the shape of the Postgres adapter without a
// database dependency.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/riskgateway/platform/internal/store"
)

// Store is a concurrency-safe in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	limits   map[string]store.BudgetLimits
	trackers map[string]store.SpendingTracker
	stops    map[string]store.EmergencyStop
	alerts   map[string]store.PriceAlert
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		limits:   make(map[string]store.BudgetLimits),
		trackers: make(map[string]store.SpendingTracker),
		stops:    make(map[string]store.EmergencyStop),
		alerts:   make(map[string]store.PriceAlert),
	}
}

func (s *Store) GetBudgetLimits(_ context.Context, userID string) (*store.BudgetLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limits[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *Store) UpsertBudgetLimits(_ context.Context, limits *store.BudgetLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	limits.UpdatedAt = time.Now().UTC()
	s.limits[limits.UserID] = *limits
	return nil
}

func (s *Store) GetSpendingTracker(_ context.Context, userID string) (*store.SpendingTracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trackers[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) UpsertSpendingTracker(_ context.Context, t *store.SpendingTracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.UpdatedAt = time.Now().UTC()
	s.trackers[t.UserID] = *t
	return nil
}

func (s *Store) ResetDailyTrackers(_ context.Context, asOf time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.trackers {
		t.AccumulatedDaily = t.AccumulatedDaily.Sub(t.AccumulatedDaily)
		t.TrackerDate = asOf
		t.UpdatedAt = time.Now().UTC()
		s.trackers[id] = t
	}
	return nil
}

func (s *Store) ResetWeeklyTrackers(_ context.Context, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.trackers {
		t.AccumulatedWeekly = t.AccumulatedWeekly.Sub(t.AccumulatedWeekly)
		t.UpdatedAt = time.Now().UTC()
		s.trackers[id] = t
	}
	return nil
}

func (s *Store) ResetMonthlyTrackers(_ context.Context, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.trackers {
		t.AccumulatedMonthly = t.AccumulatedMonthly.Sub(t.AccumulatedMonthly)
		t.UpdatedAt = time.Now().UTC()
		s.trackers[id] = t
	}
	return nil
}

func (s *Store) CreateEmergencyStop(_ context.Context, stop *store.EmergencyStop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop.Active = true
	s.stops[stop.ID] = *stop
	return nil
}

func (s *Store) GetActiveEmergencyStop(_ context.Context, userID string) (*store.EmergencyStop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, stop := range s.stops {
		if stop.UserID == userID && stop.Active {
			cp := stop
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ResolveEmergencyStop(_ context.Context, id, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stop, ok := s.stops[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	stop.Active = false
	stop.ResolvedAt = &now
	stop.ResolvedBy = resolvedBy
	s.stops[id] = stop
	return nil
}

func (s *Store) CreatePriceAlert(_ context.Context, alert *store.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *Store) UpdatePriceAlert(_ context.Context, alert *store.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return store.ErrNotFound
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *Store) GetPriceAlert(_ context.Context, id string) (*store.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListActivePriceAlerts(_ context.Context) ([]*store.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.PriceAlert
	for _, a := range s.alerts {
		if a.Active {
			cp := a
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
