// Package arena provides the bump allocator shared by every owner of
// long-lived, GC-invisible memory in disasm-cache: stripes (node shells,
// deep-copied dbgi_key.path bytes) and scopes (touch records).
//
// The teacher's original wrapper (arena-cache) sat on top of Go's
// `goexperiment.arenas` package, which only ever offered bulk Free() and
// never shipped outside an experimental build tag. §4.2 of this system's
// specification requires *scoped rewind* — a scope's arena must be able to
// roll back to a mark taken at ScopeOpen() without disturbing anything a
// stripe allocated in the meantime — which the experimental package cannot
// express. We keep the teacher's thin-wrapper shape (New/Free/NewValue) but
// reimplement the allocator ourselves as a non-moving chunked bump arena:
// allocations live in a slice of chunks (chunkSize bytes each, or larger for
// an allocation that would not fit one), so growing the chunk list (an
// ordinary slice append) never relocates memory already handed out — a
// Mark()/RewindTo() pair is therefore just a (chunk index, offset) pair.
//
// Concurrency
// -----------
// Arena is *not* thread-safe. A stripe's arena is guarded by the stripe's
// own RWMutex (write-locked whenever it is touched); a scope's arena is
// only ever touched by the goroutine that opened the scope.
//
// © 2025 disasm-cache authors. MIT License.
package arena

import (
	"unsafe"

	"github.com/Voskan/disasm-cache/internal/unsafehelpers"
)

const defaultChunkSize = 4096

type chunk struct {
	buf  []byte
	used int
}

// Arena is a growable, non-moving bump allocator.
type Arena struct {
	chunks    []*chunk
	chunkSize int
	liveBytes int64
}

// New constructs an empty arena ready for allocations. chunkSize <= 0
// selects a sane default.
func New(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

// Mark captures the current bump position so a later RewindTo can discard
// everything allocated since.
type Mark struct {
	chunkIdx int // -1 means "arena was empty"
	used     int
}

// Mark returns the current allocation position.
func (a *Arena) Mark() Mark {
	if len(a.chunks) == 0 {
		return Mark{chunkIdx: -1}
	}
	return Mark{chunkIdx: len(a.chunks) - 1, used: a.chunks[len(a.chunks)-1].used}
}

// RewindTo discards every allocation made since m was captured. Pointers
// handed out after m was taken become invalid; the caller is responsible for
// not dereferencing them again (the same discipline §4.2 documents for the
// scope/touch relationship).
func (a *Arena) RewindTo(m Mark) {
	if m.chunkIdx < 0 {
		for _, c := range a.chunks {
			a.liveBytes -= int64(c.used)
		}
		a.chunks = a.chunks[:0]
		return
	}
	for i := m.chunkIdx + 1; i < len(a.chunks); i++ {
		a.liveBytes -= int64(a.chunks[i].used)
	}
	a.liveBytes -= int64(a.chunks[m.chunkIdx].used - m.used)
	a.chunks = a.chunks[:m.chunkIdx+1]
	a.chunks[m.chunkIdx].used = m.used
}

// Free releases every chunk. After Free, any pointer previously returned
// from this arena is invalid. Stripe arenas never call this (§9: "the
// Stripe-arena allocation is never reclaimed") and scope arenas are rewound
// to a mark instead; Free is used for a worker's per-order scratch arena and
// for a node's info arena when the evictor reclaims the node.
func (a *Arena) Free() {
	a.chunks = nil
	a.liveBytes = 0
}

// LiveBytes reports bytes currently bump-allocated, for metrics.
func (a *Arena) LiveBytes() int64 { return a.liveBytes }

func alignUp(x, align int) int {
	return int(unsafehelpers.AlignUp(uintptr(x), uintptr(align)))
}

func (a *Arena) currentChunk() *chunk {
	if len(a.chunks) == 0 {
		a.chunks = append(a.chunks, &chunk{buf: make([]byte, a.chunkSize)})
	}
	return a.chunks[len(a.chunks)-1]
}

// allocRaw returns a zeroed byte slice of length size, aligned to align,
// backed by arena memory that will never move.
func (a *Arena) allocRaw(size, align int) []byte {
	if size == 0 {
		return nil
	}
	for {
		c := a.currentChunk()
		off := alignUp(c.used, align)
		if off+size <= len(c.buf) {
			c.used = off + size
			a.liveBytes += int64(size)
			return c.buf[off : off+size : off+size]
		}
		chunkSize := a.chunkSize
		if size+align > chunkSize {
			chunkSize = size + align
		}
		a.chunks = append(a.chunks, &chunk{buf: make([]byte, chunkSize)})
	}
}

// NewValue allocates a zero-initialised T inside the arena and returns a
// pointer to it. The pointer stays valid until Free() or a RewindTo() that
// predates this allocation's Mark.
func NewValue[T any](a *Arena) *T {
	var zero T
	raw := a.allocRaw(int(unsafe.Sizeof(zero)), int(unsafe.Alignof(zero)))
	if raw == nil {
		return new(T)
	}
	return (*T)(unsafe.Pointer(&raw[0]))
}

// MakeSlice allocates a slice of length==cap==n inside the arena.
func MakeSlice[T any](a *Arena, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	raw := a.allocRaw(int(unsafe.Sizeof(zero))*n, int(unsafe.Alignof(zero)))
	return unsafehelpers.PtrSlice((*T)(unsafe.Pointer(&raw[0])), n)
}

// AllocBytes copies buf into the arena and returns the arena-owned copy.
func AllocBytes(a *Arena, buf []byte) []byte {
	if len(buf) == 0 {
		return nil
	}
	dst := a.allocRaw(len(buf), 1)
	copy(dst, buf)
	return dst
}

// AllocString copies s into the arena and returns a string header pointing
// at the arena-owned bytes — a zero-allocation intern used by the stripe
// index to deep-copy dbgi_key.path (§3 "Parameter equality is structural
// over all fields including byte-equal path") without pinning the caller's
// original string's backing array indefinitely.
func AllocString(a *Arena, s string) string {
	if s == "" {
		return ""
	}
	dst := AllocBytes(a, unsafehelpers.StringToBytes(s))
	return unsafehelpers.BytesToString(dst)
}

// UnsafePointer converts an arena-backed pointer to unsafe.Pointer so it can
// be stored inside cache metadata that must stay free of typed GC pointers.
func UnsafePointer[T any](p *T) unsafe.Pointer { return unsafe.Pointer(p) }
