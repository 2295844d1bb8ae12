package suspicious

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
func (c *fakeCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, nil
}
func (c *fakeCache) Keys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

var errMiss = &fakeErr{msg: "miss"}

func testScorer(c *fakeCache) *Scorer {
	return New(Config{
		MaxHourlyTx: 10, MaxDailyTx: 30, AmountRatioThresh: 5, RapidFireSeconds: 5,
		BlockScore: 80, VerifyScore: 60, FlagScore: 30,
	}, c)
}

func TestEvaluate_FreshUserAllowed(t *testing.T) {
	c := newFakeCache()
	s := testScorer(c)
	result, err := s.Evaluate(context.Background(), "u1", 100, Metadata{}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, ActionAllow, result.Action)
}

func TestEvaluate_HourlyAndDailyOverLimitRequiresVerification(t *testing.T) {
	c := newFakeCache()
	s := testScorer(c)
	result, err := s.Evaluate(context.Background(), "u1", 100, Metadata{}, 10, 30)
	require.NoError(t, err)
	require.Equal(t, 70.0, result.Score)
	require.Equal(t, ActionVerify, result.Action)
}

func TestEvaluate_MultipleFactorsCombineToBlock(t *testing.T) {
	c := newFakeCache()
	s := testScorer(c)
	_, err := s.Evaluate(context.Background(), "u1", 100, Metadata{}, 0, 0)
	require.NoError(t, err)

	// hourly(30) + daily(40) + rapid-fire(20) = 90, well under the 100 cap.
	result, err := s.Evaluate(context.Background(), "u1", 100, Metadata{}, 50, 50)
	require.NoError(t, err)
	require.Equal(t, 90.0, result.Score)
	require.Equal(t, ActionBlock, result.Action)
}

func TestEvaluate_RapidFireDetectedOnSecondCall(t *testing.T) {
	c := newFakeCache()
	s := testScorer(c)
	_, err := s.Evaluate(context.Background(), "u1", 100, Metadata{}, 0, 0)
	require.NoError(t, err)

	result, err := s.Evaluate(context.Background(), "u1", 100, Metadata{}, 0, 0)
	require.NoError(t, err)
	require.Contains(t, result.Reasons, "transaction arrived within the rapid-fire threshold of the previous one")
}

func TestEvaluate_NewDeviceAfterTwoAddsExtraPoints(t *testing.T) {
	c := newFakeCache()
	s := testScorer(c)
	_, _ = s.Evaluate(context.Background(), "u1", 100, Metadata{DeviceID: "d1"}, 0, 0)
	_, _ = s.Evaluate(context.Background(), "u1", 100, Metadata{DeviceID: "d2"}, 0, 0)
	result, err := s.Evaluate(context.Background(), "u1", 100, Metadata{DeviceID: "d3"}, 0, 0)
	require.NoError(t, err)
	// new-device bonus (10+15=25) plus rapid-fire (20), since these calls
	// land within the same second.
	require.Equal(t, 45.0, result.Score)
	require.Contains(t, result.Reasons, "transaction originates from a new device")
}
