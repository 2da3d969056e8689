package stripe

import "github.com/Voskan/disasm-cache/internal/arena"
import "github.com/Voskan/disasm-cache/internal/domain"

// touchRecord remembers one Lookup hit for later release at scope close:
// both the node pointer (the fast path) and the full identity (the
// defensive slow path, in case the node has since been reclaimed and its
// shell handed out to a different identity — §4.2/§9).
type touchRecord struct {
	hash   domain.ContentHash
	params domain.Params
	node   *domain.Node
	next   *touchRecord
}

// Scope is the per-caller lease object §4.2 describes: every Lookup hit
// registers a Touch against it, and Close() releases every touch's
// scope_ref_count, making the nodes eligible for eviction again. Scope owns
// a small bump arena for its Touch chain and is recycled through its owning
// Index's sync.Pool, so a
// long-lived worker goroutine that opens/closes scopes in a loop reuses the
// same backing chunk instead of allocating one per iteration.
type Scope struct {
	idx  *Index
	ar   *arena.Arena
	mark arena.Mark
	head *touchRecord
}

// ScopeOpen returns a fresh or recycled Scope ready to accumulate touches.
func (idx *Index) ScopeOpen() *Scope {
	if v := idx.scopePool.Get(); v != nil {
		s := v.(*Scope)
		s.mark = s.ar.Mark()
		s.head = nil
		return s
	}
	s := &Scope{idx: idx, ar: arena.New(0)}
	s.mark = s.ar.Mark()
	return s
}

func (s *Scope) touch(hash domain.ContentHash, params domain.Params, n *domain.Node) {
	t := arena.NewValue[touchRecord](s.ar)
	t.hash = hash
	cp := params
	cp.Dbgi.Path = arena.AllocString(s.ar, params.Dbgi.Path)
	t.params = cp
	t.node = n
	t.next = s.head
	s.head = t
}

// Close releases every touch registered against this scope (decrementing
// scope_ref_count on each node — defensively re-locating it if the pointer
// hint no longer matches) and rewinds the scope's arena for reuse.
func (s *Scope) Close() {
	for t := s.head; t != nil; t = t.next {
		s.idx.releaseTouch(t.hash, t.params, t.node)
	}
	s.ar.RewindTo(s.mark)
	s.head = nil
	s.idx.scopePool.Put(s)
}

// releaseTouch decrements scope_ref_count for (hash, params), preferring
// the cached node pointer but re-locating by identity if it no longer
// matches (the node was reclaimed and its shell reissued) — §4.2: "a stale
// hint is re-validated, never trusted blindly". If the node is genuinely
// gone (evicted and its shell not yet reissued, or reissued to a different
// identity and not found), the release is a silent no-op: there is nothing
// left to decrement.
func (idx *Index) releaseTouch(hash domain.ContentHash, params domain.Params, hint *domain.Node) {
	slotIdx := idx.slotIndex(hash)
	stripeIdx := idx.stripeIndex(slotIdx)
	st := idx.stripes[stripeIdx]

	st.mu.RLock()
	defer st.mu.RUnlock()

	if hint != nil && hint.Matches(hash, params) {
		hint.ScopeRefCount.Add(-1)
		return
	}
	if n := idx.findLocked(slotIdx, hash, params); n != nil {
		n.ScopeRefCount.Add(-1)
	}
}
