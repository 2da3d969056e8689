package stripe

import "github.com/Voskan/disasm-cache/internal/domain"

// Thresholds bundles the tunables §4.5's sweep decisions read from. Ages are
// expressed in the same two axes every node tracks: wall-clock microseconds
// and user-clock ticks.
type Thresholds struct {
	EvictIdleUs        int64  // node must be untouched this long, AND
	EvictIdleUserTicks uint64 // untouched across this many user-clock ticks, to be evictable

	ReenqueueMinIntervalUs  int64  // minimum wall-clock gap between re-enqueue attempts for one node
	ReenqueueMinUserTicks   uint64 // minimum user-clock gap between re-enqueue attempts for one node
}

// ReenqueueItem names a node whose debug info has gone stale (its
// change_gen no longer matches the watcher's current generation) and that
// is due for a fresh work order.
type ReenqueueItem struct {
	Hash   domain.ContentHash
	Params domain.Params
}

func isEvictable(n *domain.Node, nowUs int64, userClockIdx uint64, th Thresholds) bool {
	return n.ScopeRefCount.Load() == 0 &&
		n.IsWorking.Load() == 0 &&
		n.LoadCount.Load() > 0 &&
		n.LastTimeTouchedUs.Load()+th.EvictIdleUs <= nowUs &&
		n.LastUserClockTouched.Load()+th.EvictIdleUserTicks <= userClockIdx
}

func isReenqueueable(n *domain.Node, changeGenSnapshot uint64, nowUs int64, userClockIdx uint64, th Thresholds) bool {
	cg := n.ChangeGen.Load()
	if cg == 0 || cg == changeGenSnapshot {
		return false
	}
	return n.LastTimeRequestedUs.Load()+th.ReenqueueMinIntervalUs <= nowUs &&
		n.LastUserClockRequested.Load()+th.ReenqueueMinUserTicks <= userClockIdx
}

// Sweep implements §4.5's evictor pass over the whole index: one stripe at a
// time, a cheap read-locked scan decides whether any work is needed before
// paying for the write lock, matching §4.1's own double-checked-locking
// idiom. Evicted nodes are unlinked, their published InfoArena freed, and
// their shell pushed onto the stripe free-list for reuse (§9: "stripe-arena
// allocation is never reclaimed — only node shells are recycled"). Nodes
// whose debug info has gone stale are reported for re-enqueue, and their
// last_time_requested_*/last_user_clock_idx_requested fields are updated so
// a subsequent sweep won't re-enqueue them again before the cool-down.
func (idx *Index) Sweep(nowUs int64, userClockIdx uint64, changeGenSnapshot uint64, th Thresholds) (evicted int, reenqueue []ReenqueueItem) {
	for i, st := range idx.stripes {
		for slotIdx := i; slotIdx < idx.slotsCount; slotIdx += idx.stripesCount {
			if !idx.slotNeedsSweep(st, slotIdx, nowUs, userClockIdx, changeGenSnapshot, th) {
				continue
			}
			e, r := idx.sweepSlot(st, slotIdx, nowUs, userClockIdx, changeGenSnapshot, th)
			evicted += e
			reenqueue = append(reenqueue, r...)
		}
	}
	return evicted, reenqueue
}

func (idx *Index) slotNeedsSweep(st *Stripe, slotIdx int, nowUs int64, userClockIdx uint64, changeGenSnapshot uint64, th Thresholds) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for n := idx.slots[slotIdx].head; n != nil; n = n.Next {
		if isEvictable(n, nowUs, userClockIdx, th) || isReenqueueable(n, changeGenSnapshot, nowUs, userClockIdx, th) {
			return true
		}
	}
	return false
}

func (idx *Index) sweepSlot(st *Stripe, slotIdx int, nowUs int64, userClockIdx uint64, changeGenSnapshot uint64, th Thresholds) (evicted int, reenqueue []ReenqueueItem) {
	st.mu.Lock()
	defer st.mu.Unlock()

	n := idx.slots[slotIdx].head
	for n != nil {
		next := n.Next
		switch {
		case isEvictable(n, nowUs, userClockIdx, th):
			idx.unlinkLocked(slotIdx, n)
			if n.InfoArena != nil {
				n.InfoArena.Free()
			}
			pushFreeLocked(st, n)
			evicted++
			if idx.hooks.OnEvict != nil {
				idx.hooks.OnEvict(idx.stripeIndex(slotIdx))
			}
		case isReenqueueable(n, changeGenSnapshot, nowUs, userClockIdx, th):
			reenqueue = append(reenqueue, ReenqueueItem{Hash: n.Hash, Params: n.Params})
			n.LastTimeRequestedUs.Store(nowUs)
			n.LastUserClockRequested.Store(userClockIdx)
		}
		n = next
	}
	return evicted, reenqueue
}
