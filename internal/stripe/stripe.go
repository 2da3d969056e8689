// Package stripe implements §4.1's striped cache index and §4.2's
// scope/touch tracking: the concurrent hash table the rest of disasm-cache
// is built around. It generalizes the teacher's internal/clockpro +
// pkg/shard.go split — there, a shard owns an RWMutex-guarded map plus a
// CLOCK-Pro eviction ring; here, a fixed, globally-addressed Slot array is
// partitioned across Stripes (RWMutex + bump arena + free-list each), and
// the doubly-linked slot-list splice/unlink routines are adapted directly
// from clockpro.go's append()/remove() — the same circular-list surgery,
// generalized from CLOCK-Pro's hot/cold ring to a plain per-slot chain.
//
// © 2025 disasm-cache authors. MIT License.
package stripe

import (
	"sync"

	"github.com/Voskan/disasm-cache/internal/arena"
	"github.com/Voskan/disasm-cache/internal/domain"
)

// Slot is one bucket of the global slot array: a doubly-linked list of
// nodes hashed to it, traversed head-to-tail (§3 "Slot").
type Slot struct {
	head *domain.Node
}

// Stripe is the shared locking context for the slots mapped to it — every
// slot whose index is congruent to the stripe's index mod stripesCount (§3
// "Stripe"): an RWMutex, a condition variable (reserved for a future
// blocking-lookup variant — today's Lookup never waits on it, matching §5's
// "lookup never waits on a condition"), a bump arena for node shells and
// deep-copied dbgi_key.path bytes, and a singly-linked free-list of
// reclaimed shells.
type Stripe struct {
	mu   sync.RWMutex
	cond *sync.Cond
	ar   *arena.Arena
	free *domain.Node
}

// Hooks lets the owning cache observe stripe events (for metrics) without
// this package importing a metrics backend, mirroring the teacher's
// metricsSink abstraction one layer removed.
type Hooks struct {
	OnHit   func(stripeIdx int)
	OnMiss  func(stripeIdx int)
	OnEvict func(stripeIdx int)
}

// Index is the top-level striped index (§4.1).
type Index struct {
	slotsCount   int
	stripesCount int
	slots        []Slot
	stripes      []*Stripe
	hooks        Hooks
	scopePool    sync.Pool
}

// NewIndex constructs an index with slotsCount slots, striped across
// min(slotsCount, stripeHint) stripes — §4.1: "stripes_count =
// min(slots_count, logical_cpu_count)".
func NewIndex(slotsCount, stripeHint, arenaChunkSize int, hooks Hooks) *Index {
	if slotsCount <= 0 {
		slotsCount = 1024
	}
	stripesCount := stripeHint
	if stripesCount <= 0 || stripesCount > slotsCount {
		stripesCount = slotsCount
	}
	idx := &Index{
		slotsCount:   slotsCount,
		stripesCount: stripesCount,
		slots:        make([]Slot, slotsCount),
		stripes:      make([]*Stripe, stripesCount),
		hooks:        hooks,
	}
	for i := range idx.stripes {
		st := &Stripe{ar: arena.New(arenaChunkSize)}
		st.cond = sync.NewCond(&st.mu)
		idx.stripes[i] = st
	}
	return idx
}

func (idx *Index) slotIndex(hash domain.ContentHash) int {
	return int(hash.Hi() % uint64(idx.slotsCount))
}

func (idx *Index) stripeIndex(slotIdx int) int {
	return slotIdx % idx.stripesCount
}

func (idx *Index) findLocked(slotIdx int, hash domain.ContentHash, params domain.Params) *domain.Node {
	for n := idx.slots[slotIdx].head; n != nil; n = n.Next {
		if n.Matches(hash, params) {
			return n
		}
	}
	return nil
}

// linkTailLocked appends n to the tail of slotIdx's list (§4.1: "new nodes
// are appended at the tail"). Adapted from clockpro.go's circular append();
// the slot list here is a simple non-circular chain since there is no hand
// pointer to keep stable across it.
func (idx *Index) linkTailLocked(slotIdx int, n *domain.Node) {
	head := idx.slots[slotIdx].head
	if head == nil {
		idx.slots[slotIdx].head = n
		return
	}
	tail := head
	for tail.Next != nil {
		tail = tail.Next
	}
	tail.Next = n
	n.Prev = tail
}

// unlinkLocked splices n out of slotIdx's list — adapted from clockpro.go's
// remove().
func (idx *Index) unlinkLocked(slotIdx int, n *domain.Node) {
	if n.Prev != nil {
		n.Prev.Next = n.Next
	} else {
		idx.slots[slotIdx].head = n.Next
	}
	if n.Next != nil {
		n.Next.Prev = n.Prev
	}
	n.Next, n.Prev = nil, nil
}

func popFreeOrAlloc(st *Stripe) *domain.Node {
	if st.free != nil {
		n := st.free
		st.free = n.NextFree
		n.NextFree = nil
		return n
	}
	return arena.NewValue[domain.Node](st.ar)
}

func pushFreeLocked(st *Stripe, n *domain.Node) {
	n.NextFree = st.free
	st.free = n
}

// Lookup implements §4.1's lookup protocol. isNew reports whether a fresh
// placeholder node was just inserted (the caller must enqueue a work
// order); on a hit, a touch is registered against scope and the returned
// Info is a snapshot copy (safe to read after the lock is released — §5/E2:
// "implementations must snapshot/copy the Info fields out of the node while
// the read lock is held").
func (idx *Index) Lookup(scope *Scope, hash domain.ContentHash, params domain.Params, nowUs int64, userClockIdx uint64) (info domain.Info, isNew bool) {
	if hash.IsZero() {
		return domain.Info{}, false
	}

	slotIdx := idx.slotIndex(hash)
	stripeIdx := idx.stripeIndex(slotIdx)
	st := idx.stripes[stripeIdx]

	st.mu.RLock()
	if n := idx.findLocked(slotIdx, hash, params); n != nil {
		info = n.Info
		n.ScopeRefCount.Add(1)
		n.LastTimeTouchedUs.Store(nowUs)
		n.LastUserClockTouched.Store(userClockIdx)
		st.mu.RUnlock()
		scope.touch(hash, params, n)
		idx.fireHit(stripeIdx)
		return info, false
	}
	st.mu.RUnlock()

	st.mu.Lock()
	if n := idx.findLocked(slotIdx, hash, params); n != nil {
		// Lost the race between the read-lock scan and here; someone else
		// already inserted (possibly already published). Treat as a hit —
		// never create a second node for the same identity (P1).
		info = n.Info
		n.ScopeRefCount.Add(1)
		n.LastTimeTouchedUs.Store(nowUs)
		n.LastUserClockTouched.Store(userClockIdx)
		st.mu.Unlock()
		scope.touch(hash, params, n)
		idx.fireHit(stripeIdx)
		return info, false
	}

	n := popFreeOrAlloc(st)
	cp := params
	cp.Dbgi.Path = arena.AllocString(st.ar, params.Dbgi.Path)
	n.Reset(hash, cp)
	idx.linkTailLocked(slotIdx, n)
	st.mu.Unlock()

	idx.fireMiss(stripeIdx)
	return domain.Info{}, true
}

func (idx *Index) fireHit(stripeIdx int) {
	if idx.hooks.OnHit != nil {
		idx.hooks.OnHit(stripeIdx)
	}
}

func (idx *Index) fireMiss(stripeIdx int) {
	if idx.hooks.OnMiss != nil {
		idx.hooks.OnMiss(stripeIdx)
	}
}

// Publish installs a worker's decode result (§4.4 step 9). It re-locates
// the node defensively — it may have been evicted while the worker was
// decoding — and does nothing if the node is gone.
func (idx *Index) Publish(hash domain.ContentHash, params domain.Params, infoArena *arena.Arena, info domain.Info, changeGen uint64) {
	slotIdx := idx.slotIndex(hash)
	stripeIdx := idx.stripeIndex(slotIdx)
	st := idx.stripes[stripeIdx]

	st.mu.Lock()
	defer st.mu.Unlock()
	n := idx.findLocked(slotIdx, hash, params)
	if n == nil {
		return
	}
	n.InfoArena = infoArena
	n.Info = info
	n.ChangeGen.Store(changeGen)
	n.LoadCount.Add(1)
	n.IsWorking.Store(0)
}

// Abandon clears IsWorking without publishing — used when a worker loses
// the single-flight claim or the node vanished before it could publish.
func (idx *Index) Abandon(hash domain.ContentHash, params domain.Params) {
	slotIdx := idx.slotIndex(hash)
	stripeIdx := idx.stripeIndex(slotIdx)
	st := idx.stripes[stripeIdx]

	st.mu.RLock()
	n := idx.findLocked(slotIdx, hash, params)
	st.mu.RUnlock()
	if n != nil {
		n.Release()
	}
}

// Claim performs §4.4 step 5's single-flight CAS against the node owning
// (hash, params). got is false if the node is missing (evicted before the
// worker could claim it) or another worker already owns it.
func (idx *Index) Claim(hash domain.ContentHash, params domain.Params) (node *domain.Node, got bool) {
	slotIdx := idx.slotIndex(hash)
	stripeIdx := idx.stripeIndex(slotIdx)
	st := idx.stripes[stripeIdx]

	st.mu.RLock()
	n := idx.findLocked(slotIdx, hash, params)
	st.mu.RUnlock()
	if n == nil {
		return nil, false
	}
	return n, n.TryClaim()
}

// Len returns the approximate number of live (non-free-listed) entries
// across every slot.
func (idx *Index) Len() int {
	total := 0
	for i, st := range idx.stripes {
		st.mu.RLock()
		for slotIdx := i; slotIdx < idx.slotsCount; slotIdx += idx.stripesCount {
			for n := idx.slots[slotIdx].head; n != nil; n = n.Next {
				total++
			}
		}
		st.mu.RUnlock()
	}
	return total
}

// ArenaBytes sums live bump-allocated bytes across every stripe arena, for
// the arena-bytes metrics gauge and Cache.ArenaBytes.
func (idx *Index) ArenaBytes() int64 {
	var total int64
	for _, st := range idx.stripes {
		st.mu.RLock()
		total += st.ar.LiveBytes()
		st.mu.RUnlock()
	}
	return total
}

// FreeListDepth returns the number of reclaimed node shells waiting on
// free-lists across every stripe.
func (idx *Index) FreeListDepth() int {
	total := 0
	for _, st := range idx.stripes {
		st.mu.RLock()
		for n := st.free; n != nil; n = n.NextFree {
			total++
		}
		st.mu.RUnlock()
	}
	return total
}

// StripesCount reports how many stripes the index was built with.
func (idx *Index) StripesCount() int { return idx.stripesCount }

// SlotsCount reports how many slots the index was built with.
func (idx *Index) SlotsCount() int { return idx.slotsCount }
