package evictor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voskan/disasm-cache/internal/arena"
	"github.com/Voskan/disasm-cache/internal/domain"
	"github.com/Voskan/disasm-cache/internal/ring"
	"github.com/Voskan/disasm-cache/internal/services"
	"github.com/Voskan/disasm-cache/internal/stripe"
	"github.com/Voskan/disasm-cache/internal/userclock"
)

func TestDefaultThresholdsMatchSpecNumbers(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, int64(10_000_000), th.EvictIdleUs)
	assert.Equal(t, uint64(10), th.EvictIdleUserTicks)
	assert.Equal(t, int64(1_000_000), th.ReenqueueMinIntervalUs)
	assert.Equal(t, uint64(10), th.ReenqueueMinUserTicks)
}

func TestSweepOnceEvictsAndReportsViaHooks(t *testing.T) {
	idx := stripe.NewIndex(16, 4, 256, stripe.Hooks{})
	var hash domain.ContentHash
	hash[0] = 1
	params := domain.Params{VAddr: 0x1000, Arch: domain.ArchX64}

	scope := idx.ScopeOpen()
	idx.Lookup(scope, hash, params, 1, 1)
	scope.Close()
	idx.Publish(hash, params, arena.New(0), domain.Info{TextKey: hash, Insts: domain.InstArray{{}}}, 0)

	evictedCount := 0
	ev := New(Deps{
		Index:      idx,
		Ring:       ring.New(1 << 12),
		UserClock:  userclock.New(),
		Watcher:    services.NewStaticWatcher(),
		Thresholds: stripe.Thresholds{EvictIdleUs: 1}, // non-zero so New keeps it: 1µs wall-clock, 0 user ticks
		Hooks:      Hooks{OnEvicted: func(n int) { evictedCount = n }},
		NowUs:      func() int64 { return 1 << 40 },
	})

	ev.sweepOnce()
	assert.Equal(t, 1, evictedCount)
	assert.Equal(t, 0, idx.Len())
}

func TestSweepOnceReenqueuesStaleNodesOntoRing(t *testing.T) {
	idx := stripe.NewIndex(16, 4, 256, stripe.Hooks{})
	var hash domain.ContentHash
	hash[0] = 2
	params := domain.Params{VAddr: 0x2000, Arch: domain.ArchX64}

	scope := idx.ScopeOpen()
	idx.Lookup(scope, hash, params, 1, 1)
	scope.Close()
	idx.Publish(hash, params, arena.New(0), domain.Info{TextKey: hash, Insts: domain.InstArray{{}}}, 1)

	watcher := services.NewStaticWatcher()
	watcher.Bump() // change_gen now 1, equal to the published snapshot (1); bump again to diverge
	watcher.Bump()

	r := ring.New(1 << 12)
	reenqueued := 0
	ev := New(Deps{
		Index:      idx,
		Ring:       r,
		UserClock:  userclock.New(),
		Watcher:    watcher,
		Thresholds: stripe.Thresholds{EvictIdleUs: 1 << 40, EvictIdleUserTicks: 1 << 40},
		Hooks:      Hooks{OnReenqueued: func(n int) { reenqueued = n }},
		NowUs:      func() int64 { return 100 },
	})

	ev.sweepOnce()
	require.Equal(t, 1, reenqueued)
	assert.Greater(t, r.Occupancy(), 0)
}
