package handle_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenfox/gc-viz/handle"
	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/trace"
)

func newRegistry(t *testing.T, size int, refCounted bool) *handle.Registry {
	t.Helper()
	sink := trace.NewSink(size, nil)
	h := heap.New(size, sink)
	return handle.New(h, sink, refCounted)
}

func TestNewNumRoundTrip(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 20, false)
	n, err := reg.NewNum(42)
	r.NoError(err)
	r.Equal(int16(42), n.ToI())
}

func TestTupGetSetRoundTrip(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 40, false)
	tup, err := reg.NewTup(2)
	r.NoError(err)
	n1, err := reg.NewNum(7)
	r.NoError(err)
	r.NoError(tup.Set(0, n1))

	got, err := tup.Get(0)
	r.NoError(err)
	r.Equal(int16(7), got.ToI())

	length, err := tup.Len()
	r.NoError(err)
	r.Equal(2, length)
}

func TestVecPushGrowsCapacity(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 200, false)
	vec, err := reg.NewVec(1)
	r.NoError(err)
	for i := 0; i < 5; i++ {
		n, err := reg.NewNum(int16(i))
		r.NoError(err)
		r.NoError(vec.Push(n))
		n.Release()
	}
	length, err := vec.Len()
	r.NoError(err)
	r.Equal(5, length)

	var buf bytes.Buffer
	r.NoError(vec.Dump(&buf))
	r.Equal("[0,1,2,3,4]", buf.String())
}

func TestVecContainsMatchesOnFirstColumn(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 200, false)
	vec, err := reg.NewVec(1)
	r.NoError(err)

	row, err := reg.NewTup(2)
	r.NoError(err)
	name, err := reg.NewStr([]byte("alice"))
	r.NoError(err)
	r.NoError(row.Set(0, name))
	r.NoError(vec.Push(row))

	needle, err := reg.NewStr([]byte("alice"))
	r.NoError(err)
	found, err := vec.Contains(0, needle)
	r.NoError(err)
	r.True(found)

	missing, err := reg.NewStr([]byte("zzzzz"))
	r.NoError(err)
	found, err = vec.Contains(0, missing)
	r.NoError(err)
	r.False(found)
}

func TestSplitProducesFieldVector(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 100, false)
	s, err := reg.NewStr([]byte("10,alice,gold"))
	r.NoError(err)

	fields, err := s.Split(',')
	r.NoError(err)
	length, err := fields.Len()
	r.NoError(err)
	r.Equal(3, length)

	var buf bytes.Buffer
	r.NoError(fields.Dump(&buf))
	r.Equal(`["10","alice","gold"]`, buf.String())
}

func TestReleaseUnderRefCountFreesOnZero(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 40, true)
	n, err := reg.NewNum(9)
	r.NoError(err)
	loc := n.Loc()
	n.Release()
	r.Equal(heap.TagFree, reg.Heap().ReadHeader(loc).Tag())
}

func TestShareKeepsObjectAliveAcrossSiblingRelease(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 40, true)
	n, err := reg.NewNum(9)
	r.NoError(err)
	loc := n.Loc()
	shared := reg.Share(loc)
	n.Release()
	r.Equal(heap.TagNum, reg.Heap().ReadHeader(loc).Tag())
	shared.Release()
	r.Equal(heap.TagFree, reg.Heap().ReadHeader(loc).Tag())
}

func TestCleanupCascadesThroughTupOnRelease(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 60, true)
	tup, err := reg.NewTup(1)
	r.NoError(err)
	n, err := reg.NewNum(3)
	r.NoError(err)
	nLoc := n.Loc()
	r.NoError(tup.Set(0, n))
	n.Release() // tup's slot still holds a reference

	r.Equal(heap.TagNum, reg.Heap().ReadHeader(nLoc).Tag())
	tup.Release()
	r.Equal(heap.TagFree, reg.Heap().ReadHeader(nLoc).Tag())
}

func TestEachVisitsEveryLiveHandle(t *testing.T) {
	r := require.New(t)
	reg := newRegistry(t, 40, false)
	a, err := reg.NewNum(1)
	r.NoError(err)
	b, err := reg.NewNum(2)
	r.NoError(err)

	var seen []heap.Loc
	reg.Each(func(hd *handle.Handle) { seen = append(seen, hd.Loc()) })
	r.Contains(seen, a.Loc())
	r.Contains(seen, b.Loc())
}
