// Package gc implements the five interchangeable collector policies —
// NoGC, RefCount, MarkSweep, MarkCompact, and Copy — sharing root
// enumeration and object traversal over a handle.Registry.
package gc

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/kenfox/gc-viz/handle"
	"github.com/kenfox/gc-viz/heap"
	"github.com/kenfox/gc-viz/object"
)

// Mode selects a collector policy.
type Mode int

const (
	ModeNoGC Mode = iota
	ModeRefCount
	ModeMarkSweep
	ModeMarkCompact
	ModeCopy
)

func (m Mode) String() string {
	switch m {
	case ModeNoGC:
		return "nogc"
	case ModeRefCount:
		return "refcount"
	case ModeMarkSweep:
		return "marksweep"
	case ModeMarkCompact:
		return "markcompact"
	case ModeCopy:
		return "copy"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// FatalError wraps any error encountered mid-collection. A failed
// reserve or a corrupt heap mid-collection leaves the heap in an
// undefined state, so per spec this is always fatal to the simulator
// rather than something the mutator recovers from.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "gc: fatal error during collection: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Collector runs the policy named by Mode over a registry's handles and
// heap. RefCounted registries must be constructed with the matching
// ModeRefCount; the collector never double-manages refcounts itself —
// RefCount's bookkeeping lives entirely in the handle package.
type Collector struct {
	mode Mode
	reg  *handle.Registry
}

// New creates a Collector for mode over reg.
func New(mode Mode, reg *handle.Registry) *Collector {
	return &Collector{mode: mode, reg: reg}
}

// Mode reports the active policy.
func (c *Collector) Mode() Mode { return c.mode }

// Collect runs one collection cycle. NoGC and RefCount have no global
// collection step, matching spec: RefCount reclaims eagerly through
// handle release, and NoGC never reclaims at all.
func (c *Collector) Collect() error {
	switch c.mode {
	case ModeNoGC, ModeRefCount:
		return nil
	case ModeMarkSweep:
		return c.markSweep()
	case ModeMarkCompact:
		return c.markCompact()
	case ModeCopy:
		return c.copyCollect()
	default:
		return errors.Errorf("gc: unknown mode %d", c.mode)
	}
}

// LogRoots emits a breakpoint record carrying message alongside the
// current root set and the transitive live set, the external
// log_roots(message) control surface.
func (c *Collector) LogRoots(message string) {
	roots := c.reg.Roots()
	live := sortedLocs(c.liveSet())
	c.reg.Sink().Breakpoint(message, locWords(roots), locWords(live))
}

// LogStart resumes trace recording.
func (c *Collector) LogStart() { c.reg.Sink().LogStart() }

// LogStop suspends trace recording.
func (c *Collector) LogStop() { c.reg.Sink().LogStop() }

func locWords(locs []heap.Loc) []uint16 {
	words := make([]uint16, len(locs))
	for i, l := range locs {
		words[i] = uint16(l)
	}
	return words
}

// liveSet computes the transitive closure of the current root set by
// repeatedly calling object.Traverse over a worklist, per spec.md §4.4's
// shared Mark step.
func (c *Collector) liveSet() map[heap.Loc]bool {
	h := c.reg.Heap()
	live := map[heap.Loc]bool{}
	var worklist []heap.Loc
	push := func(loc heap.Loc) {
		if live[loc] {
			return
		}
		live[loc] = true
		worklist = append(worklist, loc)
	}
	for _, root := range c.reg.Roots() {
		push(root)
	}
	for len(worklist) > 0 {
		loc := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		_ = object.Traverse(h, loc, func(child heap.Loc) {
			if child == 0 {
				return
			}
			push(child)
		})
	}
	return live
}

func sortedLocs(set map[heap.Loc]bool) []heap.Loc {
	locs := make([]heap.Loc, 0, len(set))
	for l := range set {
		locs = append(locs, l)
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i] < locs[j] })
	return locs
}

// markSweep reclaims every unreachable object in place, leaving a Free
// block of the same size; top never moves and fragmentation
// accumulates, by design.
func (c *Collector) markSweep() error {
	h := c.reg.Heap()
	live := c.liveSet()
	loc := heap.Loc(1)
	for loc < h.Top() {
		if object.Tag(h, loc) == heap.TagFree {
			loc += heap.Loc(h.PeekWord(loc + 1))
			continue
		}
		size, err := object.Size(h, loc)
		if err != nil {
			return &FatalError{Err: err}
		}
		if !live[loc] {
			h.Free(loc, size)
		}
		loc += heap.Loc(size)
	}
	return nil
}

// markCompact slides every live object down over the gaps left by dead
// ones (and by Free blocks left from earlier MarkSweep cycles), records
// the from->to mapping, fixes up every stored Loc, and reclaims the
// newly contiguous tail in one free event.
func (c *Collector) markCompact() error {
	h := c.reg.Heap()
	live := c.liveSet()
	forward := map[heap.Loc]heap.Loc{}
	oldTop := h.Top()
	scan := heap.Loc(1)
	truncated := false

	for scan < oldTop {
		if object.Tag(h, scan) == heap.TagFree {
			if !truncated {
				h.SetTop(scan)
				truncated = true
			}
			scan += heap.Loc(h.PeekWord(scan + 1))
			continue
		}
		size, err := object.Size(h, scan)
		if err != nil {
			return &FatalError{Err: err}
		}
		if !live[scan] {
			if !truncated {
				h.SetTop(scan)
				truncated = true
			}
			scan += heap.Loc(size)
			continue
		}
		if truncated {
			to, err := h.MoveSliding(scan, size)
			if err != nil {
				return &FatalError{Err: err}
			}
			forward[scan] = to
		} else {
			// No gap seen yet: the object is already where it belongs.
			h.SetTop(scan + heap.Loc(size))
		}
		scan += heap.Loc(size)
	}

	if reclaimed := int(oldTop - h.Top()); reclaimed > 0 {
		h.Free(h.Top(), reclaimed)
	}

	remap := func(loc heap.Loc) heap.Loc {
		if to, ok := forward[loc]; ok {
			return to
		}
		return loc
	}
	c.reg.Each(func(hd *handle.Handle) { hd.SetLoc(remap(hd.Loc())) })

	for loc := heap.Loc(1); loc < h.Top(); {
		size, err := object.Size(h, loc)
		if err != nil {
			return &FatalError{Err: err}
		}
		if err := object.FixupReferences(h, loc, remap); err != nil {
			return &FatalError{Err: err}
		}
		loc += heap.Loc(size)
	}
	return nil
}

// copyCollect evacuates every live object into the inactive semi-space
// in ascending from-address order, leaving a Forward in each vacated
// from-space header, then rewrites every root and every outgoing Loc via
// those Forwards before reclaiming the entire old semi-space in one
// free event.
func (c *Collector) copyCollect() error {
	h := c.reg.Heap()
	live := sortedLocs(c.liveSet())
	boundary := h.SemiBoundary()

	var oldStart, oldEnd, newTop heap.Loc
	if h.Top() <= boundary {
		oldStart, oldEnd, newTop = 1, boundary, boundary
	} else {
		oldStart, oldEnd, newTop = boundary, h.Size(), 1
	}
	h.SetTop(newTop)

	for _, loc := range live {
		if loc == 0 {
			continue // Nil is never moved
		}
		size, err := object.Size(h, loc)
		if err != nil {
			return &FatalError{Err: err}
		}
		if _, err := h.Move(loc, size); err != nil {
			return &FatalError{Err: err}
		}
	}

	remap := func(loc heap.Loc) heap.Loc {
		if loc == 0 {
			return 0
		}
		if object.Tag(h, loc) != heap.TagForward {
			return loc
		}
		target, err := object.ForwardTarget(h, loc)
		if err != nil {
			return loc
		}
		return target
	}
	c.reg.Each(func(hd *handle.Handle) { hd.SetLoc(remap(hd.Loc())) })

	for loc := newTop; loc < h.Top(); {
		size, err := object.Size(h, loc)
		if err != nil {
			return &FatalError{Err: err}
		}
		if err := object.FixupReferences(h, loc, remap); err != nil {
			return &FatalError{Err: err}
		}
		loc += heap.Loc(size)
	}

	h.Free(oldStart, int(oldEnd-oldStart))
	return nil
}
