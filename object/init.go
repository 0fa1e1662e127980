package object

import (
	"github.com/pkg/errors"

	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/trace"
)

// NumSizeNeeded is the word count of a Num object.
func NumSizeNeeded() int { return 2 }

// TupSizeNeeded is the word count of a Tup object with the given slot
// count.
func TupSizeNeeded(length int) int { return 2 + length }

// VecSizeNeeded is the word count of a Vec object, independent of its
// current length or capacity.
func VecSizeNeeded() int { return 3 }

// StrSizeNeeded is the word count of a Str object with the given byte
// length.
func StrSizeNeeded(length int) int { return 2 + length }

func initHeader(h *heap.Heap, sink *trace.Sink, loc heap.Loc, tag heap.Tag, refCount uint8) {
	hdr := heap.MakeHeader(refCount, false, tag)
	h.PokeWord(loc, uint16(hdr))
	sink.Init(uint16(loc), tag.String())
	if refCount > 0 {
		sink.RefCount(uint16(loc), int(refCount))
	}
}

// InitNum writes a Num header and its signed value at a freshly reserved
// location.
func InitNum(h *heap.Heap, sink *trace.Sink, loc heap.Loc, refCount uint8, val int16) {
	initHeader(h, sink, loc, heap.TagNum, refCount)
	h.PokeWord(loc+1, uint16(val))
	sink.SetInt(uint16(loc+1), int64(val))
}

// SetNum overwrites the value of an already-initialized Num in place,
// without touching its header — dkp.cc's Num::set, used to update a
// running total without reallocating.
func SetNum(h *heap.Heap, sink *trace.Sink, loc heap.Loc, val int16) {
	h.PokeWord(loc+1, uint16(val))
	sink.SetInt(uint16(loc+1), int64(val))
}

// InitTup writes a Tup header and length at a freshly reserved (or
// copy-constructed) location. bumpRef is called for every slot that was
// already nonzero — relevant only when loc was produced by heap.Copy
// (vector growth), where the payload words already hold live references
// whose counts were never bumped by the raw word copy.
func InitTup(h *heap.Heap, sink *trace.Sink, loc heap.Loc, refCount uint8, length int, bumpRef func(heap.Loc)) {
	initHeader(h, sink, loc, heap.TagTup, refCount)
	h.PokeWord(loc+1, uint16(length))
	sink.SetInt(uint16(loc+1), int64(length))
	for i := 0; i < length; i++ {
		slot := heap.Loc(h.PeekWord(loc + 2 + heap.Loc(i)))
		if slot != 0 {
			bumpRef(slot)
		}
	}
}

// InitVec writes a Vec header, zero length, and backing tup reference.
// The caller must already have incremented tup's reference count.
func InitVec(h *heap.Heap, sink *trace.Sink, loc heap.Loc, refCount uint8, tup heap.Loc) {
	initHeader(h, sink, loc, heap.TagVec, refCount)
	h.PokeWord(loc+1, 0)
	sink.SetInt(uint16(loc+1), 0)
	h.PokeWord(loc+2, uint16(tup))
	sink.SetRef(uint16(loc+2), uint16(tup))
}

// InitStr writes a Str header, length, and character payload.
func InitStr(h *heap.Heap, sink *trace.Sink, loc heap.Loc, refCount uint8, data []byte) {
	initHeader(h, sink, loc, heap.TagStr, refCount)
	length := len(data)
	h.PokeWord(loc+1, uint16(length))
	sink.SetInt(uint16(loc+1), int64(length))
	for i, b := range data {
		h.PokeWord(loc+2+heap.Loc(i), uint16(b))
		sink.SetChar(uint16(loc+2+heap.Loc(i)), b)
	}
}

// InitStrOfLength writes a Str header and length only, leaving the
// character payload zeroed for the caller to fill via CopyStrRange (used
// by split, which fills characters through a bulk copy event instead of
// per-character set events).
func InitStrOfLength(h *heap.Heap, sink *trace.Sink, loc heap.Loc, refCount uint8, length int) {
	initHeader(h, sink, loc, heap.TagStr, refCount)
	h.PokeWord(loc+1, uint16(length))
	sink.SetInt(uint16(loc+1), int64(length))
}

// CopyStrRange copies [begin,end) characters from the Str at src into the
// already-initialized Str at dst, as a single bulk copy event.
func CopyStrRange(h *heap.Heap, src heap.Loc, begin, end int, dst heap.Loc) {
	h.CopyWords(dst+2, src+2+heap.Loc(begin), end-begin)
}

// TupLen returns the number of slots in the tuple at loc.
func TupLen(h *heap.Heap, loc heap.Loc) (int, error) {
	if h.ReadHeader(loc).Tag() != heap.TagTup {
		return 0, errors.Wrap(ErrTypeMismatch, "not a tuple")
	}
	return int(h.PeekWord(loc + 1)), nil
}

// TupGet reads (with logging) the raw Loc stored at slot i of the tuple at
// loc. The caller (handle package) is responsible for sharing the result
// into a fresh root handle.
func TupGet(h *heap.Heap, loc heap.Loc, i int) (heap.Loc, error) {
	length, err := TupLen(h, loc)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= length {
		return 0, errors.Errorf("tuple index %d out of range [0,%d)", i, length)
	}
	return heap.Loc(h.GetWord(loc + 2 + heap.Loc(i))), nil
}

// TupSet overwrites slot i of the tuple at loc with newLoc, using
// share-then-unshare ordering: share is called before unshare so
// self-assignment (set(i, get(i))) is safe.
func TupSet(h *heap.Heap, sink *trace.Sink, loc heap.Loc, i int, newLoc heap.Loc, share func(heap.Loc) heap.Loc, unshare func(heap.Loc)) error {
	length, err := TupLen(h, loc)
	if err != nil {
		return err
	}
	if i < 0 || i >= length {
		return errors.Errorf("tuple index %d out of range [0,%d)", i, length)
	}
	tmp := share(newLoc)
	old := heap.Loc(h.PeekWord(loc + 2 + heap.Loc(i)))
	unshare(old)
	h.PokeWord(loc+2+heap.Loc(i), uint16(tmp))
	sink.SetRef(uint16(loc+2+heap.Loc(i)), uint16(tmp))
	return nil
}

// VecLen returns the element count of the vector at loc.
func VecLen(h *heap.Heap, loc heap.Loc) (int, error) {
	if h.ReadHeader(loc).Tag() != heap.TagVec {
		return 0, errors.Wrap(ErrTypeMismatch, "not a vector")
	}
	return int(h.PeekWord(loc + 1)), nil
}

// VecTup returns the backing tuple's Loc (logged, matching dkp.cc's
// Vec::get routing `tup` through log_get_val).
func VecTup(h *heap.Heap, loc heap.Loc) (heap.Loc, error) {
	if h.ReadHeader(loc).Tag() != heap.TagVec {
		return 0, errors.Wrap(ErrTypeMismatch, "not a vector")
	}
	return heap.Loc(h.GetWord(loc + 2)), nil
}

// VecCapacity returns the backing tuple's slot count (which may exceed
// VecLen after amortized growth).
func VecCapacity(h *heap.Heap, loc heap.Loc) (int, error) {
	tup, err := VecTup(h, loc)
	if err != nil {
		return 0, err
	}
	return TupLen(h, tup)
}

// VecGet reads the raw Loc at index i of the vector at loc.
func VecGet(h *heap.Heap, loc heap.Loc, i int) (heap.Loc, error) {
	length, err := VecLen(h, loc)
	if err != nil {
		return 0, err
	}
	if i < 0 || i >= length {
		return 0, errors.Errorf("vector index %d out of range [0,%d)", i, length)
	}
	tup, err := VecTup(h, loc)
	if err != nil {
		return 0, err
	}
	return TupGet(h, tup, i)
}

// VecGetNested dispatches Vec.get(i,j): the element at i must itself be a
// Tup or Vec, and j indexes into it.
func VecGetNested(h *heap.Heap, loc heap.Loc, i, j int) (heap.Loc, error) {
	inner, err := VecGet(h, loc, i)
	if err != nil {
		return 0, err
	}
	switch h.ReadHeader(inner).Tag() {
	case heap.TagTup:
		return TupGet(h, inner, j)
	case heap.TagVec:
		return VecGet(h, inner, j)
	default:
		return 0, errors.Wrapf(ErrTypeMismatch, "get(i,j): element %d is neither Tup nor Vec", i)
	}
}

// VecSet overwrites index i of the vector at loc's backing tuple.
func VecSet(h *heap.Heap, sink *trace.Sink, loc heap.Loc, i int, newLoc heap.Loc, share func(heap.Loc) heap.Loc, unshare func(heap.Loc)) error {
	length, err := VecLen(h, loc)
	if err != nil {
		return err
	}
	if i < 0 || i >= length {
		return errors.Errorf("vector index %d out of range [0,%d)", i, length)
	}
	tup, err := VecTup(h, loc)
	if err != nil {
		return err
	}
	return TupSet(h, sink, tup, i, newLoc, share, unshare)
}

// VecSetTup rewrites the vector's backing-tuple reference, used by push
// after growing into a new tuple. The caller has already shared the new
// tuple and must unshare the old one.
func VecSetTup(h *heap.Heap, sink *trace.Sink, loc heap.Loc, newTup heap.Loc) {
	h.PokeWord(loc+2, uint16(newTup))
	sink.SetRef(uint16(loc+2), uint16(newTup))
}

// VecSetLen rewrites the vector's element count, used by push.
func VecSetLen(h *heap.Heap, sink *trace.Sink, loc heap.Loc, length int) {
	h.PokeWord(loc+1, uint16(length))
	sink.SetInt(uint16(loc+1), int64(length))
}

// SplitStr reports the [begin,end) byte ranges of the fields of the Str at
// loc, cut on sep, matching dkp.cc's Str::split. Unquoted, no escaping.
func SplitStr(h *heap.Heap, loc heap.Loc, sep byte) (begins, ends []int) {
	length := int(h.PeekWord(loc + 1))
	last := 0
	for i := 0; i < length; i++ {
		c := byte(h.GetWord(loc + 2 + heap.Loc(i)))
		if c == sep {
			begins = append(begins, last)
			ends = append(ends, i)
			last = i + 1
		}
	}
	begins = append(begins, last)
	ends = append(ends, length)
	return begins, ends
}
