package heap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/trace"
)

func newTestHeap(size int) *heap.Heap {
	return heap.New(size, trace.NewSink(size, nil))
}

func TestReserveAdvancesTop(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(10)
	loc, err := h.Reserve(3)
	r.NoError(err)
	r.Equal(heap.Loc(1), loc)
	r.Equal(heap.Loc(4), h.Top())
}

func TestReserveFailsWhenExhausted(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(5)
	_, err := h.Reserve(3)
	r.NoError(err)
	_, err = h.Reserve(2)
	r.ErrorIs(err, heap.ErrHeapExhausted)
}

func TestFillingHeapToOneWordShortSucceeds(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(10)
	_, err := h.Reserve(8) // top goes from 1 to 9, one word short of 10
	r.NoError(err)
	r.Equal(heap.Loc(9), h.Top())
	_, err = h.Reserve(1)
	r.NoError(err)
	r.Equal(heap.Loc(10), h.Top())
	_, err = h.Reserve(1)
	r.Error(err)
}

func TestAllocZeroFills(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(10)
	h.PokeWord(1, 0xFFFF)
	loc, err := h.Alloc(2)
	r.NoError(err)
	r.Equal(heap.Loc(1), loc)
	r.Equal(uint16(0), h.PeekWord(1))
	r.Equal(uint16(0), h.PeekWord(2))
}

func TestCopyZeroFillsTail(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(20)
	from, err := h.Alloc(2)
	r.NoError(err)
	h.PokeWord(from, 11)
	h.PokeWord(from+1, 22)

	to, err := h.Copy(from, 2, 4)
	r.NoError(err)
	r.Equal(uint16(11), h.PeekWord(to))
	r.Equal(uint16(22), h.PeekWord(to+1))
	r.Equal(uint16(0), h.PeekWord(to+2))
	r.Equal(uint16(0), h.PeekWord(to+3))
}

func TestMoveInstallsForward(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(20)
	from, err := h.Alloc(2)
	r.NoError(err)
	h.PokeWord(from, uint16(heap.MakeHeader(0, false, heap.TagNum)))
	h.PokeWord(from+1, 42)

	to, err := h.Move(from, 2)
	r.NoError(err)
	r.Equal(uint16(42), h.PeekWord(to+1))
	r.Equal(heap.TagForward, h.ReadHeader(from).Tag())
	r.Equal(uint16(to), h.PeekWord(from+1))
}

func TestMoveSlidingCopiesForwardSafely(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(20)
	_, err := h.Alloc(6) // top is now 7
	r.NoError(err)
	h.PokeWord(3, 7)
	h.PokeWord(4, 8)

	// Simulate a compactor that has already truncated top to the first
	// gap it found (loc 1) before sliding the live object at loc 3 down.
	h.SetTop(1)
	to, err := h.MoveSliding(3, 2)
	r.NoError(err)
	r.Equal(heap.Loc(1), to)
	r.Equal(uint16(7), h.PeekWord(1))
	r.Equal(uint16(8), h.PeekWord(2))
	r.Equal(heap.Loc(3), h.Top())
}

func TestFreeIsNoOpOnZeroSize(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(10)
	h.PokeWord(1, 0xABCD)
	h.Free(1, 0)
	r.Equal(uint16(0xABCD), h.PeekWord(1))
}

func TestFreeOverwritesHeaderAsFreeBlock(t *testing.T) {
	r := require.New(t)
	h := newTestHeap(10)
	loc, err := h.Alloc(3)
	r.NoError(err)
	h.Free(loc, 3)
	r.Equal(heap.TagFree, h.ReadHeader(loc).Tag())
	r.Equal(uint16(3), h.PeekWord(loc+1))
}
