// Package cache defines the key-value cache contract for ephemeral state:
// price snapshots and history, active alerts, arbitrage opportunities,
// per-user transaction counters and activity patterns, and pending budget
// changes (spec.md §6). internal/cache/redis and internal/cache/memory
// provide the two implementations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when a key does not exist (or has expired).
var ErrMiss = errors.New("cache: miss")

// Cache is a generic TTL-bearing key-value store. Every component that
// needs ephemeral state (price monitor, arbitrage detector, budget engine,
// suspicious-activity scorer) works in terms of string keys and raw bytes;
// callers own JSON (de)serialization.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// TTLs named in spec.md §6: price state 1h, alerts 7d, arbitrage 1h, hourly
// counter 1h, pending-change 24h, activity pattern 7d.
const (
	TTLPriceState      = time.Hour
	TTLAlert           = 7 * 24 * time.Hour
	TTLArbitrage       = time.Hour
	TTLHourlyCounter   = time.Hour
	TTLPendingChange   = 24 * time.Hour
	TTLActivityPattern = 7 * 24 * time.Hour
)

// Key builders for the fixed set of cache namespaces spec.md §6 names.
func KeyPriceData(momentID string) string       { return "price_data:" + momentID }
func KeyPriceHistory(momentID string) string     { return "price_history:" + momentID }
func KeyActivePriceAlerts() string               { return "active_price_alerts" }
func KeyAlert(id string) string                  { return "alert:" + id }
func KeyAlertsList() string                      { return "alerts_list" }
func KeyArbitrage(id string) string              { return "arbitrage:" + id }
func KeyArbitrageOpportunities() string          { return "arbitrage_opportunities" }
func KeyHourlyTransactions(userID string) string { return "hourly_transactions:" + userID }
func KeyLastTransaction(userID string) string    { return "last_transaction:" + userID }
func KeyActivityPattern(userID string) string    { return "activity_pattern:" + userID }
func KeyPendingBudgetChanges(userID string) string { return "pending_budget_changes:" + userID }
func KeyOriginalLimits(userID string) string     { return "original_limits:" + userID }
func KeyTransactionReview(id string) string      { return "transaction_review:" + id }
func KeyUserReviews(userID string) string        { return "user_reviews:" + userID }
