package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Voskan/disasm-cache/internal/services"
	"github.com/Voskan/disasm-cache/internal/stripe"
)

func nopBlob(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x90
	}
	return b
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *services.MemHashStore) {
	t.Helper()
	hashStore := services.NewMemHashStore()
	dbgi := services.NewMemDebugInfoService()
	watcher := services.NewStaticWatcher()
	text := services.NewMemTextService(hashStore)

	allOpts := append([]Option{
		WithSlots(64),
		WithWorkerCount(2),
		WithCollaborators(hashStore, dbgi, watcher, text),
	}, opts...)

	c, err := New(allOpts...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Init(ctx))
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	return c, hashStore
}

func waitForPublish(t *testing.T, c *Cache, scope *Scope, hash ContentHash, params Params) Info {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		info := c.InfoFromHashParams(scope, hash, params)
		if !info.Empty() {
			return info
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("entry never published within deadline")
	return Info{}
}

func TestInfoFromHashParamsMissThenHit(t *testing.T) {
	c, hashStore := newTestCache(t)
	hash := hashStore.Put(nopBlob(4))
	params := Params{VAddr: 0x1000, Arch: ArchX64, Syntax: SyntaxIntel, Style: StyleAddresses}

	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	info := waitForPublish(t, c, scope, hash, params)
	assert.Len(t, info.Insts, 4)
	assert.Equal(t, 1, c.Len())
}

func TestInfoFromKeyParamsResolvesNewestRevisionFirst(t *testing.T) {
	// One worker processes work orders in enqueue order, so the newest
	// revision (enqueued first) is always published before the older one.
	c, hashStore := newTestCache(t, WithWorkerCount(1))
	hashStore.SubmitData("main.o", nopBlob(2))
	newest := hashStore.SubmitData("main.o", nopBlob(6))
	params := Params{VAddr: 0x2000, Arch: ArchX64, Syntax: SyntaxIntel, Style: StyleAddresses}

	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	var outHash ContentHash
	deadline := time.Now().Add(2 * time.Second)
	var info Info
	for time.Now().Before(deadline) {
		info = c.InfoFromKeyParams(scope, "main.o", params, &outHash)
		if !info.Empty() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	require.False(t, info.Empty())
	assert.Equal(t, newest, outHash)
	assert.Len(t, info.Insts, 6)
}

func TestInfoFromKeyParamsUnknownKeyReturnsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	scope := c.ScopeOpen()
	defer c.ScopeClose(scope)

	info := c.InfoFromKeyParams(scope, "does-not-exist", Params{}, nil)
	assert.True(t, info.Empty())
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := New(WithSlots(16))
	assert.ErrorIs(t, err, errMissingCollaborators)
}

func TestNewRejectsInvalidSlotCount(t *testing.T) {
	hashStore := services.NewMemHashStore()
	_, err := New(
		WithSlots(0),
		WithCollaborators(hashStore, services.NewMemDebugInfoService(), services.NewStaticWatcher(), services.NewMemTextService(hashStore)),
	)
	assert.ErrorIs(t, err, errInvalidSlots)
}

func TestInitIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t)
	// newTestCache already called Init once; a second call must not panic or
	// spawn a second worker pool.
	assert.NoError(t, c.Init(context.Background()))
}

func TestEvictionReclaimsUntouchedEntry(t *testing.T) {
	c, hashStore := newTestCache(t, WithEvictThresholds(stripe.Thresholds{
		EvictIdleUs:        1, // 1 microsecond: effectively "immediately idle"
		EvictIdleUserTicks: 0,
	}))
	hash := hashStore.Put(nopBlob(2))
	params := Params{VAddr: 0x4000, Arch: ArchX64, Syntax: SyntaxIntel}

	scope := c.ScopeOpen()
	waitForPublish(t, c, scope, hash, params)
	c.ScopeClose(scope) // release the touch so the node becomes evictable

	require.Eventually(t, func() bool {
		return c.Len() == 0
	}, 2*time.Second, 10*time.Millisecond, "evictor should reclaim the idle, untouched node within a couple of sweeps")
}

func TestUserClockTicksMonotonically(t *testing.T) {
	c, _ := newTestCache(t)
	start := c.UserClockIdx()
	assert.Equal(t, start+1, c.UserClockTick())
	assert.Equal(t, start+1, c.UserClockIdx())
}
