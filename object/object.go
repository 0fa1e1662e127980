// Package object codecs the tagged variant layout (header + payload) that
// dkp.cc's Obj/Num/Tup/Vec/Str/FreeBlock/ForwardingAddress classes describe,
// expressed as a discriminated switch over heap.Tag instead of a class
// hierarchy. Every function here operates on a *heap.Heap at an explicit
// heap.Loc; it never allocates — allocation is the handle package's job.
package object

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/kenfox/gc-viz/heap"
)

// ErrCorruptHeap is returned when a size or tag read from the heap is out
// of range, in particular a Forward object encountered outside a Copy
// collection.
var ErrCorruptHeap = errors.New("object: corrupt heap")

// ErrTypeMismatch is returned when a variant-specific operation is called
// on an object of the wrong type.
var ErrTypeMismatch = errors.New("object: type mismatch")

// Size returns the number of words occupied by the object at loc.
func Size(h *heap.Heap, loc heap.Loc) (int, error) {
	hdr := h.ReadHeader(loc)
	switch hdr.Tag() {
	case heap.TagNil:
		return 1, nil
	case heap.TagForward:
		return 2, nil
	case heap.TagFree:
		return int(h.PeekWord(loc + 1)), nil
	case heap.TagNum:
		return 2, nil
	case heap.TagTup:
		return 2 + int(h.PeekWord(loc+1)), nil
	case heap.TagVec:
		return 3, nil
	case heap.TagStr:
		return 2 + int(h.PeekWord(loc+1)), nil
	default:
		return 0, errors.Wrapf(ErrCorruptHeap, "unknown type tag %d at loc %d", hdr.Tag(), loc)
	}
}

// Tag returns the variant discriminator stored at loc.
func Tag(h *heap.Heap, loc heap.Loc) heap.Tag { return h.ReadHeader(loc).Tag() }

// ForwardTarget reads the destination of a Forward placeholder. Callers
// must check Tag first; calling this on a non-Forward object is an error.
func ForwardTarget(h *heap.Heap, loc heap.Loc) (heap.Loc, error) {
	if h.ReadHeader(loc).Tag() != heap.TagForward {
		return 0, errors.Wrap(ErrCorruptHeap, "not a forwarding object")
	}
	return heap.Loc(h.PeekWord(loc + 1)), nil
}

// Traverse invokes visit(loc) for each outgoing Loc stored directly in the
// object at loc: nothing for Nil/Free/Num/Str, each slot for Tup, and the
// backing tuple's Loc for Vec; a Forward object yields ErrCorruptHeap
// without visiting anything. This is a single level of edges —
// reachability closure is the collector's job, built by repeatedly calling
// Traverse on newly discovered locations. Reads are logged, matching
// dkp.cc's traverse() routing every slot access through log_get_val.
func Traverse(h *heap.Heap, loc heap.Loc, visit func(heap.Loc)) error {
	hdr := h.ReadHeader(loc)
	switch hdr.Tag() {
	case heap.TagNil, heap.TagFree, heap.TagNum, heap.TagStr:
		return nil
	case heap.TagForward:
		return errors.Wrap(ErrCorruptHeap, "forward object encountered outside copy collection")
	case heap.TagTup:
		length := int(h.PeekWord(loc + 1))
		for i := 0; i < length; i++ {
			slot := heap.Loc(h.GetWord(loc + 2 + heap.Loc(i)))
			visit(slot)
		}
		return nil
	case heap.TagVec:
		tup := heap.Loc(h.GetWord(loc + 2))
		visit(tup)
		return nil
	default:
		return errors.Wrapf(ErrCorruptHeap, "unknown type tag %d at loc %d", hdr.Tag(), loc)
	}
}

// FixupReferences rewrites every stored outgoing Loc in the object at loc
// via remap. Unlogged: dkp.cc's fixup_references touches fields directly,
// never through log_set_ref.
func FixupReferences(h *heap.Heap, loc heap.Loc, remap func(heap.Loc) heap.Loc) error {
	hdr := h.ReadHeader(loc)
	switch hdr.Tag() {
	case heap.TagTup:
		length := int(h.PeekWord(loc + 1))
		for i := 0; i < length; i++ {
			slot := heap.Loc(h.PeekWord(loc + 2 + heap.Loc(i)))
			h.PokeWord(loc+2+heap.Loc(i), uint16(remap(slot)))
		}
		return nil
	case heap.TagVec:
		tup := heap.Loc(h.PeekWord(loc + 2))
		h.PokeWord(loc+2, uint16(remap(tup)))
		return nil
	case heap.TagNil, heap.TagFree, heap.TagNum, heap.TagStr:
		return nil
	default:
		return errors.Wrapf(ErrCorruptHeap, "cannot fix up references for tag %d", hdr.Tag())
	}
}

// Cleanup unshares every outgoing Loc stored in the object at loc and
// zeros the slot, called when the object dies under RefCount. Unlogged,
// matching dkp.cc's cleanup().
func Cleanup(h *heap.Heap, loc heap.Loc, unshare func(heap.Loc)) error {
	hdr := h.ReadHeader(loc)
	switch hdr.Tag() {
	case heap.TagTup:
		length := int(h.PeekWord(loc + 1))
		for i := 0; i < length; i++ {
			slot := heap.Loc(h.PeekWord(loc + 2 + heap.Loc(i)))
			unshare(slot)
			h.PokeWord(loc+2+heap.Loc(i), 0)
		}
		return nil
	case heap.TagVec:
		tup := heap.Loc(h.PeekWord(loc + 2))
		unshare(tup)
		h.PokeWord(loc+2, 0)
		return nil
	default:
		return nil
	}
}

// Equals is structural equality for Num (by value) and Str (by length and
// first byte only — an intentional simplification reproduced for trace
// compatibility, see EqualsExact); every other type pair is false. Not
// logged: dkp.cc's Obj::equals touches fields directly.
func Equals(h *heap.Heap, a, b heap.Loc) bool {
	ta := h.ReadHeader(a).Tag()
	tb := h.ReadHeader(b).Tag()
	if ta != tb {
		return false
	}
	switch ta {
	case heap.TagNum:
		return int16(h.PeekWord(a+1)) == int16(h.PeekWord(b+1))
	case heap.TagStr:
		la := h.PeekWord(a + 1)
		lb := h.PeekWord(b + 1)
		if la != lb {
			return false
		}
		return la == 0 || h.PeekWord(a+2) == h.PeekWord(b+2)
	default:
		return false
	}
}

// EqualsExact is full byte-wise Str comparison (and ordinary Num
// comparison), offered alongside the simplified Equals per spec.md §9's
// flagged open question.
func EqualsExact(h *heap.Heap, a, b heap.Loc) bool {
	ta := h.ReadHeader(a).Tag()
	tb := h.ReadHeader(b).Tag()
	if ta != tb {
		return false
	}
	switch ta {
	case heap.TagNum:
		return int16(h.PeekWord(a+1)) == int16(h.PeekWord(b+1))
	case heap.TagStr:
		la := h.PeekWord(a + 1)
		lb := h.PeekWord(b + 1)
		if la != lb {
			return false
		}
		for i := heap.Loc(0); i < heap.Loc(la); i++ {
			if h.PeekWord(a+2+i) != h.PeekWord(b+2+i) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToI parses a Num as itself; parses a Str as a signed decimal integer
// (optional leading '-', then digits); every other variant yields 0.
// Logged: dkp.cc routes every character read through log_get_val here.
func ToI(h *heap.Heap, loc heap.Loc) int16 {
	switch h.ReadHeader(loc).Tag() {
	case heap.TagNum:
		return int16(h.GetWord(loc + 1))
	case heap.TagStr:
		return strToI(h, loc)
	default:
		return 0
	}
}

func strToI(h *heap.Heap, loc heap.Loc) int16 {
	length := int(h.PeekWord(loc + 1))
	var n int16
	sign := int16(1)
	i := 0
	for i < length {
		c := h.GetWord(loc + 2 + heap.Loc(i))
		if c == '-' {
			sign = -sign
			i++
			continue
		}
		break
	}
	for i < length {
		c := h.GetWord(loc + 2 + heap.Loc(i))
		if c >= '0' && c <= '9' {
			n = n*10 + int16(c-'0')
			i++
			continue
		}
		break
	}
	return sign * n
}

// Dump writes the nested textual form dkp.cc's Obj::dump() produces:
// "nil", a bare number, a quoted string, or a bracketed, comma-joined list.
// Unlogged.
func Dump(w io.Writer, h *heap.Heap, loc heap.Loc) error {
	switch h.ReadHeader(loc).Tag() {
	case heap.TagNil:
		_, err := io.WriteString(w, "nil")
		return err
	case heap.TagNum:
		_, err := fmt.Fprintf(w, "%d", int16(h.PeekWord(loc+1)))
		return err
	case heap.TagStr:
		return dumpStr(w, h, loc)
	case heap.TagTup:
		length := int(h.PeekWord(loc + 1))
		return dumpTupUpTo(w, h, loc, length)
	case heap.TagVec:
		tup := heap.Loc(h.PeekWord(loc + 2))
		length := int(h.PeekWord(loc + 1))
		return dumpTupUpTo(w, h, tup, length)
	default:
		_, err := fmt.Fprintf(w, "<Obj? type=%d>", h.ReadHeader(loc).Tag())
		return err
	}
}

func dumpStr(w io.Writer, h *heap.Heap, loc heap.Loc) error {
	length := int(h.PeekWord(loc + 1))
	if _, err := io.WriteString(w, `"`); err != nil {
		return err
	}
	for i := 0; i < length; i++ {
		if _, err := fmt.Fprintf(w, "%c", byte(h.PeekWord(loc+2+heap.Loc(i)))); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, `"`)
	return err
}

// dumpTupUpTo writes the bracketed list of the first max slots of the
// tuple at loc, matching dkp.cc's Tup::dump_up_to (used by Vec::dump to
// only show `len` of a backing tuple that may have spare capacity).
func dumpTupUpTo(w io.Writer, h *heap.Heap, loc heap.Loc, max int) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i := 0; i < max; i++ {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		slot := heap.Loc(h.PeekWord(loc + 2 + heap.Loc(i)))
		if err := Dump(w, h, slot); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}
