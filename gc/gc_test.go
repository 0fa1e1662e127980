package gc_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenfox/gc-viz/gc"
	"github.com/kenfox/gc-viz/handle"
	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/trace"
)

func newRegistry(t *testing.T, size int, mode gc.Mode) (*handle.Registry, *gc.Collector) {
	t.Helper()
	sink := trace.NewSink(size, nil)
	h := heap.New(size, sink)
	reg := handle.New(h, sink, mode == gc.ModeRefCount)
	return reg, gc.New(mode, reg)
}

func TestNilOnlyHeapCollectsToItself(t *testing.T) {
	r := require.New(t)
	reg, col := newRegistry(t, 20, gc.ModeMarkSweep)
	r.NoError(col.Collect())
	r.Equal(heap.Loc(1), reg.Heap().Top())
	r.NoError(col.Collect())
	r.Equal(heap.Loc(1), reg.Heap().Top())
}

func TestMarkSweepReclaimsUnreachableVec(t *testing.T) {
	r := require.New(t)
	reg, col := newRegistry(t, 60, gc.ModeMarkSweep)
	vec, err := reg.NewVec(2)
	r.NoError(err)
	for i := 0; i < 2; i++ {
		n, err := reg.NewNum(42)
		r.NoError(err)
		r.NoError(vec.Push(n))
		n.Release()
	}
	vecLoc := vec.Loc()
	vec.Release()

	r.NoError(col.Collect())
	r.Equal(heap.TagFree, reg.Heap().ReadHeader(vecLoc).Tag())
}

func TestMarkSweepPreservesReachableObjects(t *testing.T) {
	r := require.New(t)
	reg, col := newRegistry(t, 40, gc.ModeMarkSweep)
	n, err := reg.NewNum(7)
	r.NoError(err)
	loc := n.Loc()

	r.NoError(col.Collect())
	r.Equal(heap.TagNum, reg.Heap().ReadHeader(loc).Tag())
	r.Equal(int16(7), n.ToI())
}

func TestMarkCompactSlidesLiveObjectsDown(t *testing.T) {
	r := require.New(t)
	reg, col := newRegistry(t, 40, gc.ModeMarkCompact)
	a, err := reg.NewNum(1)
	r.NoError(err)
	b, err := reg.NewNum(2)
	r.NoError(err)
	c, err := reg.NewNum(3)
	r.NoError(err)
	r.Equal(heap.Loc(1), a.Loc())
	r.Equal(heap.Loc(3), b.Loc())
	r.Equal(heap.Loc(5), c.Loc())

	b.Release()
	r.NoError(col.Collect())

	r.Equal(heap.Loc(1), a.Loc())
	r.Equal(heap.Loc(3), c.Loc())
	r.Equal(heap.Loc(5), reg.Heap().Top())
	r.Equal(int16(1), a.ToI())
	r.Equal(int16(3), c.ToI())
}

func TestCopyEvacuatesLiveObjectsAndFreesOldSemiSpace(t *testing.T) {
	r := require.New(t)
	reg, col := newRegistry(t, 40, gc.ModeCopy) // boundary at 20
	a, err := reg.NewNum(11)
	r.NoError(err)
	b, err := reg.NewNum(22)
	r.NoError(err)

	r.NoError(col.Collect())

	r.True(a.Loc() >= 20, "a should have moved into the high semi-space")
	r.True(b.Loc() >= 20)
	r.Equal(int16(11), a.ToI())
	r.Equal(int16(22), b.ToI())
	r.True(reg.Heap().Top() > 20)
	r.True(reg.Heap().Top() <= reg.Heap().Size())
	r.Equal(heap.TagFree, reg.Heap().ReadHeader(1).Tag())
}

func TestCopyTwiceInARowIsStable(t *testing.T) {
	r := require.New(t)
	reg, col := newRegistry(t, 40, gc.ModeCopy)
	n, err := reg.NewNum(9)
	r.NoError(err)

	r.NoError(col.Collect())
	r.True(n.Loc() >= 20, "first collection should evacuate into the high semi-space")
	r.NoError(col.Collect())
	r.True(n.Loc() < 20, "second collection should flip back into the low semi-space")
	r.Equal(int16(9), n.ToI())
}

func TestLogRootsIncludesNilAndLiveObjects(t *testing.T) {
	r := require.New(t)
	var buf bytes.Buffer
	sink := trace.NewSink(20, &buf)
	reg := handle.New(heap.New(20, sink), sink, false)
	col := gc.New(gc.ModeMarkSweep, reg)
	n, err := reg.NewNum(5)
	r.NoError(err)
	r.Equal(heap.Loc(1), n.Loc())
	col.LogRoots("start")
	r.NoError(reg.Sink().Err())
	r.Contains(buf.String(), "['roots',1,0],\n")
	r.Contains(buf.String(), "['live',0,1],\n")
}
