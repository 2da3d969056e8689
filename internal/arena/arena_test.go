package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValueZeroed(t *testing.T) {
	a := New(64)
	type point struct{ X, Y int64 }
	p := NewValue[point](a)
	assert.Equal(t, point{}, *p)
	p.X, p.Y = 7, 9
	assert.Equal(t, int64(7), p.X)
}

func TestMakeSliceLenCap(t *testing.T) {
	a := New(64)
	s := MakeSlice[int](a, 10)
	require.Len(t, s, 10)
	for i := range s {
		s[i] = i
	}
	assert.Equal(t, 9, s[9])
}

func TestAllocBytesCopies(t *testing.T) {
	a := New(64)
	src := []byte("hello")
	dst := AllocBytes(a, src)
	require.Equal(t, src, dst)
	src[0] = 'H'
	assert.Equal(t, byte('h'), dst[0], "AllocBytes must copy, not alias")
}

func TestAllocStringRoundTrip(t *testing.T) {
	a := New(64)
	s := AllocString(a, "disasm-cache")
	assert.Equal(t, "disasm-cache", s)
	assert.Equal(t, "", AllocString(a, ""))
}

func TestMarkRewindToDiscardsLaterAllocations(t *testing.T) {
	a := New(64)
	AllocBytes(a, []byte("before"))
	mark := a.Mark()
	before := a.LiveBytes()

	AllocBytes(a, []byte("after-1"))
	AllocBytes(a, []byte("after-2-longer-than-a-chunk-..........................."))
	assert.Greater(t, a.LiveBytes(), before)

	a.RewindTo(mark)
	assert.Equal(t, before, a.LiveBytes())
}

func TestRewindToEmptyMark(t *testing.T) {
	a := New(64)
	mark := a.Mark()
	AllocBytes(a, []byte("x"))
	a.RewindTo(mark)
	assert.Equal(t, int64(0), a.LiveBytes())
}

func TestChunkGrowthDoesNotMoveExistingAllocations(t *testing.T) {
	a := New(16) // tiny chunk size forces multiple chunks quickly
	ptrs := make([]*int64, 0, 64)
	for i := 0; i < 64; i++ {
		p := NewValue[int64](a)
		*p = int64(i)
		ptrs = append(ptrs, p)
	}
	for i, p := range ptrs {
		assert.Equal(t, int64(i), *p, "growing the chunk list must not relocate earlier allocations")
	}
}

func TestFreeResetsLiveBytes(t *testing.T) {
	a := New(64)
	AllocBytes(a, []byte("some bytes"))
	require.Greater(t, a.LiveBytes(), int64(0))
	a.Free()
	assert.Equal(t, int64(0), a.LiveBytes())
}
