// Package handle implements the intrusive doubly-linked root-handle
// registry: the single type through which the mutator allocates, shares,
// and releases heap objects, and the set the collector enumerates as
// roots.
package handle

import (
	"io"

	"github.com/pkg/errors"

	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/object"
	"github.com/kenfox/gc-viz/trace"
)

// ErrInvalidHandleAccess is returned when a handle whose loc is 0 is
// dereferenced as though it held a live non-Nil object.
var ErrInvalidHandleAccess = errors.New("handle: invalid access")

// Handle wraps a mutable heap.Loc and is itself a node in the process-wide
// intrusive root list: insertion at head, O(1) removal on release.
type Handle struct {
	registry *Registry
	loc      heap.Loc
	prev     *Handle
	next     *Handle
	released bool
}

// Loc returns the handle's current location. A collection may move the
// referent at any safe point, so callers must re-read Loc after any
// operation that can allocate or collect rather than caching it.
func (hd *Handle) Loc() heap.Loc { return hd.loc }

// SetLoc rewrites the handle's location, used by the gc package's root
// fixup step after a Copy or MarkCompact collection relocates the
// referent.
func (hd *Handle) SetLoc(loc heap.Loc) { hd.loc = loc }

// Registry is the process-wide root-handle list plus the heap and trace
// sink every handle mediates access to.
type Registry struct {
	heap       *heap.Heap
	sink       *trace.Sink
	refCounted bool
	root       *Handle
	nilAnchor  *Handle // permanent +1 baseline so Nil's ref_count never reaches 0
}

// New creates a Registry over h, logging through sink. refCounted must be
// true only when the active collector policy is RefCount: it gates
// whether allocation sets an initial refcount of 1 and whether release
// ever triggers eager cleanup+free.
func New(h *heap.Heap, sink *trace.Sink, refCounted bool) *Registry {
	reg := &Registry{heap: h, sink: sink, refCounted: refCounted}
	reg.nilAnchor = reg.adopt(heap.NilLoc, 1)
	return reg
}

func (reg *Registry) link(hd *Handle) {
	hd.prev = nil
	hd.next = reg.root
	if reg.root != nil {
		reg.root.prev = hd
	}
	reg.root = hd
}

func (reg *Registry) unlink(hd *Handle) {
	if hd.next != nil {
		hd.next.prev = hd.prev
	}
	if hd.prev != nil {
		hd.prev.next = hd.next
	}
	if reg.root == hd {
		reg.root = hd.next
	}
	hd.prev = nil
	hd.next = nil
}

// Each calls visit for every live handle in the registry, head to tail.
func (reg *Registry) Each(visit func(*Handle)) {
	for p := reg.root; p != nil; p = p.next {
		visit(p)
	}
}

// Roots returns the current Loc held by every live handle, head to tail.
// This is the direct root set; transitive reachability from it is the gc
// package's job.
func (reg *Registry) Roots() []heap.Loc {
	var roots []heap.Loc
	reg.Each(func(hd *Handle) { roots = append(roots, hd.loc) })
	return roots
}

// Heap exposes the backing heap, used by the gc package's collectors.
func (reg *Registry) Heap() *heap.Heap { return reg.heap }

// Sink exposes the trace sink, used by the gc package's collectors.
func (reg *Registry) Sink() *trace.Sink { return reg.sink }

func (reg *Registry) incRef(loc heap.Loc) {
	if !reg.refCounted {
		return
	}
	hdr := reg.heap.ReadHeader(loc)
	rc := hdr.RefCount() + 1
	reg.heap.PokeWord(loc, uint16(hdr.WithRefCount(rc)))
	reg.sink.RefCount(uint16(loc), int(rc))
}

func (reg *Registry) decAndMaybeFree(loc heap.Loc) {
	if !reg.refCounted {
		return
	}
	hdr := reg.heap.ReadHeader(loc)
	rc := hdr.RefCount() - 1
	reg.heap.PokeWord(loc, uint16(hdr.WithRefCount(rc)))
	reg.sink.RefCount(uint16(loc), int(rc))
	if rc == 0 {
		size, err := object.Size(reg.heap, loc)
		if err != nil {
			return
		}
		_ = object.Cleanup(reg.heap, loc, reg.unshareLoc)
		reg.heap.Free(loc, size)
	}
}

// unshareLoc is the symmetric counterpart of share() for an evicted heap
// slot. Zero-guarded: a slot holding 0 means "empty", not "points at
// Nil" — Nil's own refcount is only ever touched through handle-level
// share/release, never through slot eviction.
func (reg *Registry) unshareLoc(loc heap.Loc) {
	if loc == 0 {
		return
	}
	reg.decAndMaybeFree(loc)
}

// share reads loc through the read barrier and increments its refcount,
// returning the (possibly redirected) loc. Used both directly and as the
// share callback passed into object.TupSet/VecSet.
func (reg *Registry) share(loc heap.Loc) heap.Loc {
	loc = reg.heap.ReadBarrier(loc)
	reg.incRef(loc)
	return loc
}

func (reg *Registry) initialRefCount() uint8 {
	if reg.refCounted {
		return 1
	}
	return 0
}

func (reg *Registry) register(loc heap.Loc) *Handle {
	hd := &Handle{registry: reg, loc: loc}
	reg.link(hd)
	return hd
}

// adopt is the Share construction mode with an explicit number of
// refcount increments, used internally to build Registry.nilAnchor.
func (reg *Registry) adopt(loc heap.Loc, refCount uint8) *Handle {
	loc = reg.heap.ReadBarrier(loc)
	for i := uint8(0); i < refCount; i++ {
		reg.incRef(loc)
	}
	return reg.register(loc)
}

// Share adopts an existing location as a new root handle, read-barriered,
// incrementing its refcount once.
func (reg *Registry) Share(loc heap.Loc) *Handle {
	loc = reg.heap.ReadBarrier(loc)
	reg.incRef(loc)
	return reg.register(loc)
}

// Clone shares another handle's current location.
func (reg *Registry) Clone(other *Handle) *Handle { return reg.Share(other.loc) }

// allocate reserves size words, lets init write the header/payload, and
// registers the resulting handle at the initial refcount for the active
// policy.
func (reg *Registry) allocate(size int, init func(loc heap.Loc, refCount uint8)) (*Handle, error) {
	loc, err := reg.heap.Alloc(size)
	if err != nil {
		return nil, err
	}
	init(loc, reg.initialRefCount())
	return reg.register(loc), nil
}

// NewNum allocates a fresh Num handle holding val.
func (reg *Registry) NewNum(val int16) (*Handle, error) {
	return reg.allocate(object.NumSizeNeeded(), func(loc heap.Loc, rc uint8) {
		object.InitNum(reg.heap, reg.sink, loc, rc, val)
	})
}

// NewStr allocates a fresh Str handle holding a copy of data.
func (reg *Registry) NewStr(data []byte) (*Handle, error) {
	return reg.allocate(object.StrSizeNeeded(len(data)), func(loc heap.Loc, rc uint8) {
		object.InitStr(reg.heap, reg.sink, loc, rc, data)
	})
}

// NewTup allocates a fresh Tup handle with length slots, all initially 0.
func (reg *Registry) NewTup(length int) (*Handle, error) {
	return reg.allocate(object.TupSizeNeeded(length), func(loc heap.Loc, rc uint8) {
		object.InitTup(reg.heap, reg.sink, loc, rc, length, reg.incRef)
	})
}

// NewVec allocates a fresh Vec handle with a backing tuple of the given
// capacity.
func (reg *Registry) NewVec(capacity int) (*Handle, error) {
	if capacity <= 0 {
		capacity = 1
	}
	tup, err := reg.NewTup(capacity)
	if err != nil {
		return nil, err
	}
	tupLoc := reg.share(tup.loc)
	vec, err := reg.allocate(object.VecSizeNeeded(), func(loc heap.Loc, rc uint8) {
		object.InitVec(reg.heap, reg.sink, loc, rc, tupLoc)
	})
	if err != nil {
		return nil, err
	}
	tup.Release()
	return vec, nil
}

// newTupFromCopy allocates a new Tup of newLen slots holding a copy of the
// tuple at src, used by push when capacity is exhausted.
func (reg *Registry) newTupFromCopy(src heap.Loc, newLen int) (*Handle, error) {
	to, err := reg.heap.Copy(src, object.TupSizeNeeded(mustTupLen(reg.heap, src)), object.TupSizeNeeded(newLen))
	if err != nil {
		return nil, err
	}
	object.InitTup(reg.heap, reg.sink, to, reg.initialRefCount(), newLen, reg.incRef)
	return reg.register(to), nil
}

func mustTupLen(h *heap.Heap, loc heap.Loc) int {
	n, err := object.TupLen(h, loc)
	if err != nil {
		return 0
	}
	return n
}

// Len returns the element count of a Tup or Vec handle.
func (hd *Handle) Len() (int, error) {
	switch object.Tag(hd.registry.heap, hd.loc) {
	case heap.TagTup:
		return object.TupLen(hd.registry.heap, hd.loc)
	case heap.TagVec:
		return object.VecLen(hd.registry.heap, hd.loc)
	default:
		return 0, errors.Wrap(object.ErrTypeMismatch, "length is only defined for Tup/Vec")
	}
}

func (hd *Handle) getRawLoc(i int) (heap.Loc, error) {
	switch object.Tag(hd.registry.heap, hd.loc) {
	case heap.TagTup:
		return object.TupGet(hd.registry.heap, hd.loc, i)
	case heap.TagVec:
		return object.VecGet(hd.registry.heap, hd.loc, i)
	default:
		return 0, errors.Wrap(object.ErrTypeMismatch, "get(i) is only defined for Tup/Vec")
	}
}

// Get returns a fresh handle sharing the Loc stored at index i.
func (hd *Handle) Get(i int) (*Handle, error) {
	loc, err := hd.getRawLoc(i)
	if err != nil {
		return nil, err
	}
	return hd.registry.Share(loc), nil
}

// GetNested returns a fresh handle sharing the Loc at [i][j] of a vector
// of tuples or vectors.
func (hd *Handle) GetNested(i, j int) (*Handle, error) {
	if object.Tag(hd.registry.heap, hd.loc) != heap.TagVec {
		return nil, errors.Wrap(object.ErrTypeMismatch, "get(i,j) is only defined for Vec")
	}
	loc, err := object.VecGetNested(hd.registry.heap, hd.loc, i, j)
	if err != nil {
		return nil, err
	}
	return hd.registry.Share(loc), nil
}

// Set overwrites index i with v, using share-then-unshare ordering.
func (hd *Handle) Set(i int, v *Handle) error {
	switch object.Tag(hd.registry.heap, hd.loc) {
	case heap.TagTup:
		return object.TupSet(hd.registry.heap, hd.registry.sink, hd.loc, i, v.loc, hd.registry.share, hd.registry.unshareLoc)
	case heap.TagVec:
		return object.VecSet(hd.registry.heap, hd.registry.sink, hd.loc, i, v.loc, hd.registry.share, hd.registry.unshareLoc)
	default:
		return errors.Wrap(object.ErrTypeMismatch, "set(i,v) is only defined for Tup/Vec")
	}
}

// Push appends v to a Vec, doubling the backing tuple's capacity via
// copy-construct when the current tuple is full.
func (hd *Handle) Push(v *Handle) error {
	if object.Tag(hd.registry.heap, hd.loc) != heap.TagVec {
		return errors.Wrap(object.ErrTypeMismatch, "push is only defined for Vec")
	}
	reg := hd.registry
	length, err := object.VecLen(reg.heap, hd.loc)
	if err != nil {
		return err
	}
	capacity, err := object.VecCapacity(reg.heap, hd.loc)
	if err != nil {
		return err
	}
	if length == capacity {
		oldTup, err := object.VecTup(reg.heap, hd.loc)
		if err != nil {
			return err
		}
		newLen := capacity * 2
		if newLen == 0 {
			newLen = 1
		}
		grown, err := reg.newTupFromCopy(oldTup, newLen)
		if err != nil {
			return err
		}
		newTupLoc := reg.share(grown.loc)
		reg.unshareLoc(oldTup)
		object.VecSetTup(reg.heap, reg.sink, hd.loc, newTupLoc)
		grown.Release()
	}
	tup, err := object.VecTup(reg.heap, hd.loc)
	if err != nil {
		return err
	}
	if err := object.TupSet(reg.heap, reg.sink, tup, length, v.loc, reg.share, reg.unshareLoc); err != nil {
		return err
	}
	object.VecSetLen(reg.heap, reg.sink, hd.loc, length+1)
	return nil
}

// Contains reports whether column j of a Vec of Tup/Vec rows already
// holds an element equal (by Equals) to v, used by the workload's
// grouping phase to avoid re-grouping a key it has already seen.
func (hd *Handle) Contains(j int, v *Handle) (bool, error) {
	length, err := hd.Len()
	if err != nil {
		return false, err
	}
	for i := 0; i < length; i++ {
		loc, err := object.VecGetNested(hd.registry.heap, hd.loc, i, j)
		if err != nil {
			return false, err
		}
		if object.Equals(hd.registry.heap, v.loc, loc) {
			return true, nil
		}
	}
	return false, nil
}

// SetNum overwrites a Num handle's value in place, without reallocating
// or touching the header — used to update a running total.
func (hd *Handle) SetNum(val int16) error {
	if object.Tag(hd.registry.heap, hd.loc) != heap.TagNum {
		return errors.Wrap(object.ErrTypeMismatch, "setNum is only defined for Num")
	}
	object.SetNum(hd.registry.heap, hd.registry.sink, hd.loc, val)
	return nil
}

// ToI parses the handle's referent as a signed integer.
func (hd *Handle) ToI() int16 { return object.ToI(hd.registry.heap, hd.loc) }

// Equals is the simplified structural equality (see object.Equals).
func (hd *Handle) Equals(other *Handle) bool { return object.Equals(hd.registry.heap, hd.loc, other.loc) }

// EqualsExact is full byte-wise equality (see object.EqualsExact).
func (hd *Handle) EqualsExact(other *Handle) bool {
	return object.EqualsExact(hd.registry.heap, hd.loc, other.loc)
}

// Dump writes the handle's referent in the original tool's nested text
// form.
func (hd *Handle) Dump(w io.Writer) error { return object.Dump(w, hd.registry.heap, hd.loc) }

// Split cuts a Str handle on sep and returns a fresh Vec of Str fields.
func (hd *Handle) Split(sep byte) (*Handle, error) {
	if object.Tag(hd.registry.heap, hd.loc) != heap.TagStr {
		return nil, errors.Wrap(object.ErrTypeMismatch, "split is only defined for Str")
	}
	reg := hd.registry
	begins, ends := object.SplitStr(reg.heap, hd.loc, sep)
	fields, err := reg.NewVec(len(begins))
	if err != nil {
		return nil, err
	}
	for k := range begins {
		length := ends[k] - begins[k]
		substr, err := reg.allocate(object.StrSizeNeeded(length), func(loc heap.Loc, rc uint8) {
			object.InitStrOfLength(reg.heap, reg.sink, loc, rc, length)
		})
		if err != nil {
			return nil, err
		}
		object.CopyStrRange(reg.heap, hd.loc, begins[k], ends[k], substr.loc)
		if err := fields.Push(substr); err != nil {
			return nil, err
		}
		substr.Release()
	}
	return fields, nil
}

// Release unlinks the handle from the root list and decrements its
// referent's refcount, cleaning up and freeing the storage if the count
// reaches zero under RefCount.
func (hd *Handle) Release() {
	if hd.released {
		return
	}
	hd.released = true
	hd.registry.unlink(hd)
	hd.registry.decAndMaybeFree(hd.loc)
	hd.loc = 0
}
