package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"btcwatch.com/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestStore_AllowAndCleanup(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 1, time.Minute)

	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"), "burst=1 第二次被拒")
	assert.True(t, s.Allow("b"), "不同 key 独立计数")
	assert.Equal(t, 2, s.Len())

	s.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
}

func TestStore_WaitHonoursContext(t *testing.T) {
	s := NewStore(rate.Every(time.Hour), 1, time.Minute)
	require.True(t, s.Allow("k"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Wait(ctx, "k"))
}

func TestManager_TripsAndMapsToUnavailable(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, nil)
	boom := errors.New("connection refused")

	calls := 0
	fail := func() error { calls++; return boom }

	assert.ErrorIs(t, m.Do("esplora.balance", fail), boom)
	assert.ErrorIs(t, m.Do("esplora.balance", fail), boom)

	// 熔断打开，不再调用下游
	err := m.Do("esplora.balance", fail)
	assert.Equal(t, 2, calls)
	assert.True(t, xerr.IsUnavailable(err))

	// 其他方法不受影响
	assert.NoError(t, m.Do("coingecko.markets", func() error { return nil }))
}

func TestManager_BusinessErrorsDoNotTrip(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 1, Timeout: time.Minute}, nil)
	notFound := xerr.New(xerr.RecordNotFound, "handle not found")

	for i := 0; i < 3; i++ {
		err := m.Do("esplora.txs", func() error { return notFound })
		assert.True(t, xerr.IsNotFound(err))
	}
}

func TestManager_PerMethodRule(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 100}, map[string]Rule{
		"node.broadcast": {TripConsecutiveFailures: 1, Timeout: time.Minute, MaxRequests: 1},
	})
	boom := errors.New("rpc down")
	_ = m.Do("node.broadcast", func() error { return boom })
	assert.True(t, xerr.IsUnavailable(m.Do("node.broadcast", func() error { return nil })))
}
