// Package cache is disasm-cache's public API: a concurrent, evicting
// disassembly cache (§1). It wires together the striped index
// (internal/stripe), the U2P ring (internal/ring), the worker pool
// (internal/worker) and the evictor (internal/evictor) behind the five
// operations §6 exposes: init, user_clock_tick/idx, scope_open/close, and
// the two lookup variants.
//
// © 2025 disasm-cache authors. MIT License.
package cache

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Voskan/disasm-cache/internal/domain"
	"github.com/Voskan/disasm-cache/internal/evictor"
	"github.com/Voskan/disasm-cache/internal/ring"
	"github.com/Voskan/disasm-cache/internal/stripe"
	"github.com/Voskan/disasm-cache/internal/userclock"
	"github.com/Voskan/disasm-cache/internal/worker"
	"github.com/Voskan/disasm-cache/internal/workorder"
)

// Re-exported domain types: callers need never import an internal package
// to hold a ContentHash, Params, or Info.
type (
	ContentHash = domain.ContentHash
	Params      = domain.Params
	ArchKind    = domain.ArchKind
	SyntaxKind  = domain.SyntaxKind
	StyleFlags  = domain.StyleFlags
	DbgiKey     = domain.DbgiKey
	Info        = domain.Info
	Inst        = domain.Inst
	InstArray   = domain.InstArray
	Scope       = stripe.Scope
)

const (
	ArchX86 = domain.ArchX86
	ArchX64 = domain.ArchX64

	SyntaxIntel = domain.SyntaxIntel
	SyntaxATT   = domain.SyntaxATT

	StyleAddresses        = domain.StyleAddresses
	StyleCodeBytes        = domain.StyleCodeBytes
	StyleSourceFilesNames = domain.StyleSourceFilesNames
	StyleSourceLines      = domain.StyleSourceLines
	StyleSymbolNames      = domain.StyleSymbolNames
)

var ZeroHash = domain.ZeroHash

// Cache is the process-wide disassembly cache (§9: "global state... a
// single init call").
type Cache struct {
	idx     *stripe.Index
	ring    *ring.Ring
	clock   *userclock.Clock
	metrics metricsSink

	cfg *config

	resolveGroup singleflight.Group

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	initOnce sync.Once
}

// New validates opts and constructs a Cache. Init must still be called to
// start the worker pool and evictor.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	c := &Cache{
		ring:    ring.New(int(cfg.ringCapacity.Bytes())),
		clock:   userclock.New(),
		metrics: newMetricsSink(cfg.registry),
		cfg:     cfg,
	}
	c.idx = stripe.NewIndex(cfg.slotsCount, resolveStripeHint(cfg), int(cfg.arenaChunkSize.Bytes()), stripe.Hooks{
		OnHit:  func(int) { c.metrics.incHit() },
		OnMiss: func(int) { c.metrics.incMiss() },
	})

	return c, nil
}

func resolveStripeHint(cfg *config) int {
	if cfg.stripeHint > 0 {
		return cfg.stripeHint
	}
	return runtime.NumCPU()
}

// Init starts the worker pool and evictor goroutines. It is idempotent —
// subsequent calls are no-ops (§6: "init() — idempotent initialization").
func (c *Cache) Init(ctx context.Context) error {
	var err error
	c.initOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		c.cancel = cancel

		deps := worker.Deps{
			Index:            c.idx,
			Ring:             c.ring,
			HashStore:        c.cfg.hashStore,
			Dbgi:             c.cfg.dbgi,
			Watcher:          c.cfg.watcher,
			Text:             c.cfg.text,
			Logger:           c.cfg.logger,
			TextWaitBound:    c.cfg.textWaitTimeout,
			TextPollInterval: c.cfg.textPollInterval,
			Hooks: worker.Hooks{
				OnPublished: func() { c.metrics.incPublish() },
				OnAbandoned: func() { c.metrics.incAbandon() },
			},
		}
		for i := 0; i < c.cfg.workerCount; i++ {
			w := worker.New(deps)
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				w.Run(runCtx)
			}()
		}

		ev := evictor.New(evictor.Deps{
			Index:      c.idx,
			Ring:       c.ring,
			UserClock:  c.clock,
			Watcher:    c.cfg.watcher,
			Thresholds: c.cfg.thresholds,
			Logger:     c.cfg.logger,
			Hooks: evictor.Hooks{
				OnEvicted:    func(n int) { c.metrics.incEvict(n) },
				OnReenqueued: func(n int) { c.metrics.incReenqueue(n) },
			},
		})
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ev.Run(runCtx)
		}()

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reportLoop(runCtx)
		}()
	})
	return err
}

// reportLoop periodically mirrors arena/ring/free-list gauges; cheap enough
// to run unconditionally since noopMetrics makes every call a no-op.
func (c *Cache) reportLoop(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.metrics.setArenaBytes(c.idx.ArenaBytes())
			c.metrics.setRingOccupancy(c.ring.Occupancy())
			c.metrics.setFreeListDepth(c.idx.FreeListDepth())
		}
	}
}

// Close stops the worker pool and evictor and waits for them to exit.
// There is no on-disk state to flush (§6: "no on-disk or on-wire format").
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// UserClockTick advances the user clock by one tick (§4.6).
func (c *Cache) UserClockTick() uint64 { return c.clock.Tick() }

// UserClockIdx returns the user clock's current value without advancing it.
func (c *Cache) UserClockIdx() uint64 { return c.clock.Idx() }

// ScopeOpen opens a new Scope (§4.2).
func (c *Cache) ScopeOpen() *Scope { return c.idx.ScopeOpen() }

// ScopeClose closes scope, releasing every touch it accumulated.
func (c *Cache) ScopeClose(scope *Scope) { scope.Close() }

// InfoFromHashParams implements §4.1's lookup: info_from_hash_params(scope,
// hash, params) -> Info.
func (c *Cache) InfoFromHashParams(scope *Scope, hash ContentHash, params Params) Info {
	nowUs := time.Now().UnixMicro()
	userIdx := c.clock.Idx()

	info, isNew := c.idx.Lookup(scope, hash, params, nowUs, userIdx)
	if isNew {
		c.enqueue(hash, params)
	}
	return info
}

// InfoFromKeyParams implements §6's info_from_key_params(scope, key,
// params, out_hash?) -> Info: it resolves key to up to two historical hash
// revisions (rewind_idx 0 then 1, per §4.1's documented policy) via the
// hash store, returning the first revision whose cached Info has non-empty
// Insts. If outHash is non-nil, the matching hash is written into it.
func (c *Cache) InfoFromKeyParams(scope *Scope, key string, params Params, outHash *ContentHash) Info {
	for rewindIdx := 0; rewindIdx <= 1; rewindIdx++ {
		hash, ok := c.resolveHash(key, rewindIdx)
		if !ok {
			continue
		}
		info := c.InfoFromHashParams(scope, hash, params)
		if len(info.Insts) > 0 {
			if outHash != nil {
				*outHash = hash
			}
			return info
		}
	}
	return Info{}
}

// resolveHash wraps HashStore.HashFromKey in a singleflight group so
// concurrent callers resolving the same (key, rewindIdx) only hit the
// external collaborator once.
func (c *Cache) resolveHash(key string, rewindIdx int) (ContentHash, bool) {
	sfKey := fmt.Sprintf("%s\x00%d", key, rewindIdx)
	v, err, _ := c.resolveGroup.Do(sfKey, func() (any, error) {
		hash, ok := c.cfg.hashStore.HashFromKey(key, rewindIdx)
		return hashResolution{hash: hash, ok: ok}, nil
	})
	if err != nil {
		return ZeroHash, false
	}
	r := v.(hashResolution)
	return r.hash, r.ok
}

type hashResolution struct {
	hash ContentHash
	ok   bool
}

func (c *Cache) enqueue(hash ContentHash, params Params) {
	raw := workorder.Encode(workorder.Order{Hash: hash, Params: params})
	c.ring.Enqueue(ring.NoDeadline, raw)
}

// Len reports the approximate number of live nodes across the whole index.
func (c *Cache) Len() int { return c.idx.Len() }

// ArenaBytes reports total live bump-allocated bytes across every stripe.
func (c *Cache) ArenaBytes() int64 { return c.idx.ArenaBytes() }
