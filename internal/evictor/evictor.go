// Package evictor implements §4.5's background actor: a single goroutine
// that polls every 100 ms, evicts idle nodes, and re-enqueues nodes whose
// debug info has gone stale.
//
// © 2025 disasm-cache authors. MIT License.
package evictor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/disasm-cache/internal/ring"
	"github.com/Voskan/disasm-cache/internal/stripe"
	"github.com/Voskan/disasm-cache/internal/userclock"
	"github.com/Voskan/disasm-cache/internal/workorder"
)

const tickInterval = 100 * time.Millisecond

// Hooks lets the owning cache observe sweep outcomes for metrics.
type Hooks struct {
	OnEvicted    func(n int)
	OnReenqueued func(n int)
}

// Deps bundles everything one sweep needs.
type Deps struct {
	Index      *stripe.Index
	Ring       *ring.Ring
	UserClock  *userclock.Clock
	Watcher    changeGenSource
	Thresholds stripe.Thresholds
	Logger     *zap.Logger
	Hooks      Hooks
	NowUs      func() int64
}

type changeGenSource interface {
	ChangeGen() uint64
}

// DefaultThresholds matches §4.5's literal numbers: 10s/10 ticks to evict,
// 1s/10 ticks between re-enqueue attempts.
func DefaultThresholds() stripe.Thresholds {
	return stripe.Thresholds{
		EvictIdleUs:            int64(10 * time.Second / time.Microsecond),
		EvictIdleUserTicks:     10,
		ReenqueueMinIntervalUs: int64(1 * time.Second / time.Microsecond),
		ReenqueueMinUserTicks:  10,
	}
}

// Evictor runs one sweep loop.
type Evictor struct {
	d Deps
}

// New constructs an Evictor; a nil Logger becomes a no-op logger, and a
// zero Thresholds becomes DefaultThresholds().
func New(d Deps) *Evictor {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.NowUs == nil {
		d.NowUs = func() int64 { return time.Now().UnixMicro() }
	}
	if d.Thresholds == (stripe.Thresholds{}) {
		d.Thresholds = DefaultThresholds()
	}
	return &Evictor{d: d}
}

// Run sleeps tickInterval between sweeps until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.sweepOnce()
		}
	}
}

func (e *Evictor) sweepOnce() {
	changeGen := e.d.Watcher.ChangeGen()
	nowUs := e.d.NowUs()
	userClockIdx := e.d.UserClock.Idx()

	evicted, reenqueue := e.d.Index.Sweep(nowUs, userClockIdx, changeGen, e.d.Thresholds)
	if evicted > 0 && e.d.Hooks.OnEvicted != nil {
		e.d.Hooks.OnEvicted(evicted)
	}

	sent := 0
	for _, item := range reenqueue {
		raw := workorder.Encode(workorder.Order{Hash: item.Hash, Params: item.Params})
		if e.d.Ring.Enqueue(ring.NoDeadline, raw) {
			sent++
		}
	}
	if sent > 0 && e.d.Hooks.OnReenqueued != nil {
		e.d.Hooks.OnReenqueued(sent)
	}
	if sent > 0 {
		e.d.Logger.Debug("evictor re-enqueued stale nodes", zap.Int("count", sent))
	}
}
