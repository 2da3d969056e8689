// Package ring implements the U2P ring §3/§4.3 describe: a single,
// process-wide bounded byte ring carrying variable-length frames from
// requesters to workers. It is deliberately payload-agnostic — encoding the
// (hash, params) work order is the internal/workorder package's job — so
// this package stays a small, reusable mutex+condvar ring buffer, grounded
// in the same wrap-around/wait-notify shape the pack's
// sakateka-yanet2/pdump ring buffer uses (there: a shared-memory cgo ring
// with reader/writer index pairs; here: a single mutex-guarded Go byte
// slice, since the ring is process-local and every producer already runs in
// the same address space).
//
// Frames are length-prefixed (4-byte little-endian length) and padded with
// zero bytes up to an 8-byte alignment boundary (§4.3), so the header size
// a reader waits for before parsing is fixed and cheap to check.
//
// © 2025 disasm-cache authors. MIT License.
package ring

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/Voskan/disasm-cache/internal/unsafehelpers"
)

// NoDeadline signals an unbounded wait (§4.3: dequeue is uncancellable,
// "MAX_U64"; enqueue may still pass an absolute deadline).
var NoDeadline = time.Time{}

const frameHeaderSize = 4 // uint32 length prefix

// Ring is a bounded, variable-length-record byte ring.
type Ring struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	buf      []byte
	capacity int
	readPos  uint64 // monotonic counter; physical index is readPos % capacity
	writePos uint64
}

// New constructs a ring with the given byte capacity (§3: "capacity >= 64
// KiB").
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 64 << 10
	}
	r := &Ring{buf: make([]byte, capacity), capacity: capacity}
	r.notEmpty = sync.NewCond(&r.mu)
	r.notFull = sync.NewCond(&r.mu)
	return r
}

func frameSize(payloadLen int) int {
	total := frameHeaderSize + payloadLen
	return int(unsafehelpers.AlignUp(uintptr(total), 8))
}

func (r *Ring) availableLocked() int {
	return r.capacity - int(r.writePos-r.readPos)
}

func (r *Ring) unconsumedLocked() int {
	return int(r.writePos - r.readPos)
}

// Enqueue writes one variable-length frame, blocking (subject to deadline)
// while there isn't enough room. deadline == NoDeadline waits forever.
// Returns false if the deadline elapsed first (§7 "ring-full with expired
// deadline").
func (r *Ring) Enqueue(deadline time.Time, payload []byte) bool {
	need := frameSize(len(payload))
	if need > r.capacity {
		return false // can never fit; fail fast rather than wait forever
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for r.availableLocked() < need {
		if !r.waitLocked(r.notFull, deadline) {
			return false
		}
	}

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	r.writeLocked(hdr[:])
	r.writeLocked(payload)
	padding := need - frameHeaderSize - len(payload)
	if padding > 0 {
		r.writeLocked(make([]byte, padding))
	}

	r.notEmpty.Broadcast()
	return true
}

// Dequeue blocks (subject to deadline) until a full frame is available,
// then returns its payload as a freshly-copied []byte. §4.3: "Readers do not
// broadcast on dequeue" — only notFull is signalled, since dequeuing is the
// only thing that ever creates room.
func (r *Ring) Dequeue(deadline time.Time) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.unconsumedLocked() < frameHeaderSize {
		if !r.waitLocked(r.notEmpty, deadline) {
			return nil, false
		}
	}

	var hdr [frameHeaderSize]byte
	r.peekLocked(hdr[:])
	payloadLen := int(binary.LittleEndian.Uint32(hdr[:]))
	need := frameSize(payloadLen)

	for r.unconsumedLocked() < need {
		if !r.waitLocked(r.notEmpty, deadline) {
			return nil, false
		}
	}

	r.advanceLocked(frameHeaderSize)
	payload := make([]byte, payloadLen)
	r.readLocked(payload)
	padding := need - frameHeaderSize - payloadLen
	if padding > 0 {
		r.advanceLocked(padding)
	}

	r.notFull.Broadcast()
	return payload, true
}

// waitLocked waits on cond (mu already held) until broadcast or deadline.
// Returns false if the deadline has elapsed.
func (r *Ring) waitLocked(cond *sync.Cond, deadline time.Time) bool {
	if deadline.Equal(NoDeadline) {
		cond.Wait()
		return true
	}
	d := time.Until(deadline)
	if d <= 0 {
		return false
	}
	timer := time.AfterFunc(d, func() {
		r.mu.Lock()
		r.notEmpty.Broadcast()
		r.notFull.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
	return !time.Now().After(deadline)
}

func (r *Ring) writeLocked(p []byte) {
	for len(p) > 0 {
		idx := int(r.writePos % uint64(r.capacity))
		n := copy(r.buf[idx:], p)
		p = p[n:]
		r.writePos += uint64(n)
	}
}

func (r *Ring) readLocked(dst []byte) {
	for len(dst) > 0 {
		idx := int(r.readPos % uint64(r.capacity))
		n := copy(dst, r.buf[idx:])
		dst = dst[n:]
		r.readPos += uint64(n)
	}
}

func (r *Ring) peekLocked(dst []byte) {
	start := r.readPos
	r.readLocked(dst)
	r.readPos = start // peek does not consume
}

func (r *Ring) advanceLocked(n int) { r.readPos += uint64(n) }

// Occupancy returns the current unconsumed byte count, for metrics.
func (r *Ring) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unconsumedLocked()
}

// Capacity returns the ring's fixed byte capacity.
func (r *Ring) Capacity() int { return r.capacity }
