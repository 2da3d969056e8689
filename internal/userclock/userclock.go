// Package userclock implements §4.6's User Clock: a process-wide atomic
// counter ticked externally (e.g. once per UI frame) that gives the evictor
// an activity-weighted age axis orthogonal to wall-clock time. Kept as its
// own tiny package — the same way the teacher isolates single-concern
// primitives (internal/genring, internal/clockpro) from the shard that
// consumes them — so the evictor and the public Cache can share one clock
// without either owning it.
//
// © 2025 disasm-cache authors. MIT License.
package userclock

import "sync/atomic"

// Clock is a lone atomic counter; the zero value starts at tick 0.
type Clock struct {
	idx atomic.Uint64
}

// New returns a fresh clock at tick 0.
func New() *Clock { return &Clock{} }

// Tick advances the clock by one and returns the new value.
func (c *Clock) Tick() uint64 { return c.idx.Add(1) }

// Idx returns the current tick count without advancing it.
func (c *Clock) Idx() uint64 { return c.idx.Load() }
