package domain

import (
	"sync/atomic"

	"github.com/Voskan/disasm-cache/internal/arena"
)

// Node is one cache entry (§3 "Node"). Every mutable scalar field is an
// atomic so it can be read without the owning stripe's lock (§5: "scope_ref_
// count, is_working, load_count, last_time_touched_us,
// last_user_clock_idx_touched are updated atomically; they may be read
// without any lock"). Identity (Hash, Params), InfoArena and Info are only
// ever written under the owning stripe's write lock.
type Node struct {
	Hash   ContentHash
	Params Params

	// InfoArena owns the backing memory for Info.Insts once published; nil
	// until the first successful decode (§3 invariant: "info_arena != null
	// iff info.insts.count > 0 (or intentionally empty published result)").
	InfoArena *arena.Arena
	Info      Info

	IsWorking               atomic.Uint32
	ScopeRefCount           atomic.Int64
	LoadCount               atomic.Uint64
	ChangeGen               atomic.Uint64
	LastTimeTouchedUs       atomic.Int64
	LastUserClockTouched    atomic.Uint64
	LastTimeRequestedUs     atomic.Int64
	LastUserClockRequested  atomic.Uint64

	// Next/Prev link this node into its Slot's doubly-linked list; NextFree
	// links reclaimed shells into the owning Stripe's free-list. Both are
	// mutated only under the owning stripe's write lock.
	Next, Prev *Node
	NextFree   *Node
}

// Reset zeroes a node shell for a fresh identity, as done when a Lookup miss
// takes a shell from the stripe free-list (where the evictor put it) or
// allocates a new one. The stripe-arena
// allocation backing the shell itself is never freed (§9).
func (n *Node) Reset(hash ContentHash, params Params) {
	n.Hash = hash
	n.Params = params
	n.InfoArena = nil
	n.Info = Info{}
	n.IsWorking.Store(0)
	n.ScopeRefCount.Store(0)
	n.LoadCount.Store(0)
	n.ChangeGen.Store(0)
	n.LastTimeTouchedUs.Store(0)
	n.LastUserClockTouched.Store(0)
	n.LastTimeRequestedUs.Store(0)
	n.LastUserClockRequested.Store(0)
	n.Next, n.Prev, n.NextFree = nil, nil, nil
}

// TryClaim attempts the single-flight CAS described in §4.4 step 5. It
// returns true if this caller now owns the "materialize this node" duty.
func (n *Node) TryClaim() bool {
	return n.IsWorking.CompareAndSwap(0, 1)
}

// Release clears IsWorking, whether or not the claim resulted in a
// publication (e.g. the node vanished from the index before publish).
func (n *Node) Release() { n.IsWorking.Store(0) }

// Matches reports whether this node's identity equals (hash, params) — the
// equality test used both by stripe lookups and by scope-close touch
// relocation.
func (n *Node) Matches(hash ContentHash, params Params) bool {
	return n.Hash == hash && n.Params == params
}
