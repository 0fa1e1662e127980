package heap

import (
	"github.com/pkg/errors"

	"github.com/kenfox/gc-viz/trace"
)

// Loc is a word index into the heap; the canonical form of a heap
// reference. Location 0 is permanently the Nil sentinel.
type Loc uint16

// NilLoc is the permanent address of the Nil sentinel object.
const NilLoc Loc = 0

// ErrHeapExhausted is returned when a reservation would advance top past
// the heap's capacity.
var ErrHeapExhausted = errors.New("heap exhausted")

// Heap is a fixed-size array of machine words with a bump-pointer
// allocator and per-word recency metadata, fed to a trace.Sink so every
// mutation is instrumented for the animation renderer.
type Heap struct {
	words []uint16
	top   Loc
	size  Loc
	semi  Loc
	sink  *trace.Sink
}

// New creates a Heap of size words backed by sink for event recording.
// Location 0 is reserved for Nil and top starts at 1.
func New(size int, sink *trace.Sink) *Heap {
	return &Heap{
		words: make([]uint16, size),
		top:   1,
		size:  Loc(size),
		semi:  Loc(size / 2),
		sink:  sink,
	}
}

// Top is the first unused location.
func (h *Heap) Top() Loc { return h.top }

// SetTop forcibly repositions the bump pointer, used by the Copy
// collector's flip step.
func (h *Heap) SetTop(loc Loc) { h.top = loc }

// Size is the total word capacity of the heap.
func (h *Heap) Size() Loc { return h.size }

// SemiBoundary is HEAP_SIZE/2, the split point between the two semi-spaces
// used by the Copy collector.
func (h *Heap) SemiBoundary() Loc { return h.semi }

// GetWord performs a logged read (metadata + possible snapshot, no
// printed record), matching dkp.cc's log_get_val.
func (h *Heap) GetWord(loc Loc) uint16 {
	h.sink.NoteRead(uint16(loc))
	return h.words[loc]
}

// PeekWord reads a word with no trace side effects, for internal
// bookkeeping paths (fixup, cleanup, equals, dump) that the original
// implementation never routes through log_get_val.
func (h *Heap) PeekWord(loc Loc) uint16 { return h.words[loc] }

// PokeWord writes a word with no trace side effects.
func (h *Heap) PokeWord(loc Loc, v uint16) { h.words[loc] = v }

// ReadHeader reads the object header at loc without logging.
func (h *Heap) ReadHeader(loc Loc) Header { return Header(h.PeekWord(loc)) }

// reserve advances top by n words and returns the old top. A zero or
// negative size is illegal.
func (h *Heap) reserve(n int, logged bool) (Loc, error) {
	if n <= 0 {
		return 0, errors.New("heap: cannot reserve a zero or negative size region")
	}
	if int(h.top)+n > int(h.size) {
		return 0, errors.Wrapf(ErrHeapExhausted, "cannot reserve %d words at %d (heap size %d)", n, h.top, h.size)
	}
	loc := h.top
	h.top += Loc(n)
	if logged {
		h.sink.Alloc(uint16(loc), n)
	}
	return loc, nil
}

// Reserve advances top by n words, emitting an alloc event.
func (h *Heap) Reserve(n int) (Loc, error) { return h.reserve(n, true) }

// ReserveUnlogged advances top by n words without emitting a record, used
// when the caller will log the move through a copy event instead.
func (h *Heap) ReserveUnlogged(n int) (Loc, error) { return h.reserve(n, false) }

// Alloc reserves n words and zero-fills them.
func (h *Heap) Alloc(n int) (Loc, error) {
	loc, err := h.Reserve(n)
	if err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		h.words[loc+Loc(i)] = 0
	}
	return loc, nil
}

// Copy reserves newSize words (or size, the source object's actual size,
// if newSize is 0), copies min(size, newSize) words from the source, and
// zero-fills the remainder. It emits a single copy event for the copied
// range, matching dkp.cc's Mem::copy.
func (h *Heap) Copy(from Loc, size int, newSize int) (Loc, error) {
	if newSize <= 0 {
		newSize = size
	}
	to, err := h.Reserve(newSize)
	if err != nil {
		return 0, err
	}
	n := size
	if newSize < n {
		n = newSize
	}
	for i := 0; i < n; i++ {
		h.words[to+Loc(i)] = h.words[from+Loc(i)]
	}
	for i := n; i < newSize; i++ {
		h.words[to+Loc(i)] = 0
	}
	h.sink.Copy(uint16(to), uint16(from), n)
	return to, nil
}

// CopyWords copies n words from one already-allocated region to another
// without reserving new space, emitting a single copy event. Used for
// Str splitting, where the destination object already exists.
func (h *Heap) CopyWords(to, from Loc, n int) {
	for i := 0; i < n; i++ {
		h.words[to+Loc(i)] = h.words[from+Loc(i)]
	}
	h.sink.Copy(uint16(to), uint16(from), n)
}

// Move reserves the source object's size, copies its words, and overwrites
// the source header in place with a Forward pointing at the destination.
// Used by the Copy collector's evacuation step.
func (h *Heap) Move(from Loc, size int) (Loc, error) {
	to, err := h.Reserve(size)
	if err != nil {
		return 0, err
	}
	for i := 0; i < size; i++ {
		h.words[to+Loc(i)] = h.words[from+Loc(i)]
	}
	h.words[from] = uint16(MakeHeader(0, false, TagForward))
	h.words[from+1] = uint16(to)
	h.sink.Init(uint16(from), TagForward.String())
	h.sink.Copy(uint16(to), uint16(from), size)
	return to, nil
}

// MoveSliding reserves size words without logging an alloc event (the
// destination may overlap the still-unscanned tail of the source region,
// for in-place compaction) and copies the words forward. The destination
// is always at or before the source, so a forward per-word copy is safe.
// It does not install a forwarding header; the caller records the
// from->to mapping externally.
func (h *Heap) MoveSliding(from Loc, size int) (Loc, error) {
	to, err := h.ReserveUnlogged(size)
	if err != nil {
		return 0, err
	}
	for i := 0; i < size; i++ {
		h.words[to+Loc(i)] = h.words[from+Loc(i)]
	}
	h.sink.Copy(uint16(to), uint16(from), size)
	return to, nil
}

// Free overwrites the object at loc with a Free block of the given length
// and emits a free event. A zero-sized region is a no-op.
func (h *Heap) Free(loc Loc, size int) {
	if size <= 0 {
		return
	}
	h.words[loc] = uint16(MakeHeader(0, false, TagFree))
	h.words[loc+1] = uint16(size)
	h.sink.Init(uint16(loc), TagFree.String())
	h.sink.Free(uint16(loc), size)
}

// ReadBarrier is the identity in every current collector mode; it exists
// so a future concurrent-copy algorithm has a single seam to redirect
// from-space reads.
func (h *Heap) ReadBarrier(loc Loc) Loc { return loc }
