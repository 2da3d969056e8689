package ring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	r := New(1 << 12)
	payload := []byte("hello work order")
	require.True(t, r.Enqueue(NoDeadline, payload))

	got, ok := r.Dequeue(time.Now().Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, payload, got)
	assert.Equal(t, 0, r.Occupancy())
}

func TestEnqueuePayloadLargerThanCapacityFailsFast(t *testing.T) {
	r := New(64)
	require.False(t, r.Enqueue(NoDeadline, make([]byte, 128)))
}

func TestDequeueDeadlineElapses(t *testing.T) {
	r := New(1 << 12)
	_, ok := r.Dequeue(time.Now().Add(10 * time.Millisecond))
	assert.False(t, ok)
}

func TestEnqueueBlocksUntilRoomThenSucceeds(t *testing.T) {
	r := New(64) // small enough that a couple of frames fill it
	big := make([]byte, 40)

	require.True(t, r.Enqueue(NoDeadline, big))

	var wg sync.WaitGroup
	wg.Add(1)
	enqueued := make(chan bool, 1)
	go func() {
		defer wg.Done()
		enqueued <- r.Enqueue(time.Now().Add(time.Second), big)
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine block on notFull
	_, ok := r.Dequeue(time.Now().Add(time.Second))
	require.True(t, ok)

	wg.Wait()
	assert.True(t, <-enqueued)
}

func TestFramesPreserveOrder(t *testing.T) {
	r := New(1 << 12)
	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, f := range frames {
		require.True(t, r.Enqueue(NoDeadline, f))
	}
	for _, want := range frames {
		got, ok := r.Dequeue(time.Now().Add(time.Second))
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}
