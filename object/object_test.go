package object_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/object"
	"github.com/kenfox/gc-viz/trace"
)

func newHeap(t *testing.T, size int) (*heap.Heap, *trace.Sink) {
	t.Helper()
	sink := trace.NewSink(size, nil)
	return heap.New(size, sink), sink
}

func TestNumRoundTrip(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 10)
	loc, err := h.Alloc(2)
	r.NoError(err)
	object.InitNum(h, sink, loc, 0, -7)

	size, err := object.Size(h, loc)
	r.NoError(err)
	r.Equal(2, size)
	r.Equal(int16(-7), object.ToI(h, loc))
}

func TestTupSizeAndTraverse(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 20)
	loc, err := h.Alloc(4) // header + len + 2 slots
	r.NoError(err)
	object.InitTup(h, sink, loc, 0, 2, func(heap.Loc) {})
	h.PokeWord(loc+2, 5)
	h.PokeWord(loc+3, 6)

	size, err := object.Size(h, loc)
	r.NoError(err)
	r.Equal(4, size)

	var visited []heap.Loc
	r.NoError(object.Traverse(h, loc, func(l heap.Loc) { visited = append(visited, l) }))
	r.Equal([]heap.Loc{5, 6}, visited)
}

func TestVecTraverseVisitsBackingTupOnly(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 20)
	tupLoc, err := h.Alloc(2)
	r.NoError(err)
	object.InitTup(h, sink, tupLoc, 0, 0, func(heap.Loc) {})

	vecLoc, err := h.Alloc(3)
	r.NoError(err)
	object.InitVec(h, sink, vecLoc, 0, tupLoc)

	var visited []heap.Loc
	r.NoError(object.Traverse(h, vecLoc, func(l heap.Loc) { visited = append(visited, l) }))
	r.Equal([]heap.Loc{tupLoc}, visited)
}

func TestFixupReferencesRewritesSlots(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 20)
	loc, err := h.Alloc(4)
	r.NoError(err)
	object.InitTup(h, sink, loc, 0, 2, func(heap.Loc) {})
	h.PokeWord(loc+2, 5)
	h.PokeWord(loc+3, 6)

	r.NoError(object.FixupReferences(h, loc, func(l heap.Loc) heap.Loc {
		if l == 5 {
			return 50
		}
		return l
	}))
	r.Equal(uint16(50), h.PeekWord(loc+2))
	r.Equal(uint16(6), h.PeekWord(loc+3))
}

func TestEqualsSimplifiedStrComparison(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 40)
	a, err := h.Alloc(object.StrSizeNeeded(3))
	r.NoError(err)
	object.InitStr(h, sink, a, 0, []byte("abc"))
	b, err := h.Alloc(object.StrSizeNeeded(3))
	r.NoError(err)
	object.InitStr(h, sink, b, 0, []byte("aXY"))

	// Same length, same first byte: simplified Equals says true even
	// though the strings differ after the first character.
	r.True(object.Equals(h, a, b))
	r.False(object.EqualsExact(h, a, b))
}

func TestToIParsesSignedDecimalStr(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 40)
	loc, err := h.Alloc(object.StrSizeNeeded(3))
	r.NoError(err)
	object.InitStr(h, sink, loc, 0, []byte("-42"))
	r.Equal(int16(-42), object.ToI(h, loc))
}

func TestDumpNestedTuple(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 40)
	n1, err := h.Alloc(2)
	r.NoError(err)
	object.InitNum(h, sink, n1, 0, 15)
	n2, err := h.Alloc(2)
	r.NoError(err)
	object.InitNum(h, sink, n2, 0, -3)

	tup, err := h.Alloc(4)
	r.NoError(err)
	object.InitTup(h, sink, tup, 0, 2, func(heap.Loc) {})
	h.PokeWord(tup+2, uint16(n1))
	h.PokeWord(tup+3, uint16(n2))

	var buf bytes.Buffer
	r.NoError(object.Dump(&buf, h, tup))
	r.Equal("[15,-3]", buf.String())
}

func TestSplitStr(t *testing.T) {
	r := require.New(t)
	h, sink := newHeap(t, 40)
	loc, err := h.Alloc(object.StrSizeNeeded(10))
	r.NoError(err)
	object.InitStr(h, sink, loc, 0, []byte("10,alice,g"))

	begins, ends := object.SplitStr(h, loc, ',')
	r.Equal([]int{0, 3, 9}, begins)
	r.Equal([]int{2, 8, 10}, ends)
}
