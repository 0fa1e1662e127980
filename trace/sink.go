package trace

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// ErrTraceIO wraps a write failure to the underlying output stream.
var ErrTraceIO = errors.New("trace: write failed")

type wordInfo struct {
	allocated  bool
	overhead   bool
	lastRead   uint32
	lastWrite  uint32
}

// Snapshotter captures a raster frame of the current heap state. It is
// called after every recorded event while the sink is ready, mirroring
// dkp.cc's Mem::snap() being invoked from inside log_msg.
type Snapshotter interface {
	Capture(info func(loc uint16) (allocated, overhead bool, lastRead, lastWrite uint32, now uint32))
}

// Sink serializes events to w in the frame_content format and keeps the
// per-word recency bookkeeping that feeds the image snapshotter. A Sink
// with a nil writer only maintains bookkeeping and the digest (used by
// tests).
type Sink struct {
	w       io.Writer
	ready   bool
	started bool
	stopped bool
	time    uint32
	words   []wordInfo
	digest  *xxhash.Digest
	snap    Snapshotter
	err     error
}

// NewSink creates a Sink tracking size words of heap metadata, writing the
// framed record stream to w. w may be nil to run bookkeeping-only (tests).
func NewSink(size int, w io.Writer) *Sink {
	return &Sink{
		w:      w,
		words:  make([]wordInfo, size),
		digest: xxhash.New(),
	}
}

// SetSnapshotter attaches an optional raster snapshotter invoked after
// every record emitted while the sink is ready.
func (s *Sink) SetSnapshotter(snap Snapshotter) { s.snap = snap }

// Err returns the first write error encountered, if any.
func (s *Sink) Err() error { return s.err }

// Start opens the frame_content array and begins recording events.
func (s *Sink) Start() error {
	if s.started {
		return nil
	}
	s.started = true
	if err := s.write("var frame_content = [\n"); err != nil {
		return err
	}
	s.ready = true
	return s.err
}

// Stop closes the frame_content array with a terminal ['stop'] record and
// gates off further recording.
func (s *Sink) Stop() error {
	if s.stopped {
		return s.err
	}
	s.ready = false
	s.stopped = true
	return s.write("['stop']];\n")
}

// LogStart resumes recording without re-emitting the frame_content prefix.
func (s *Sink) LogStart() { s.ready = true }

// LogStop suspends recording (bookkeeping continues) without closing the
// stream.
func (s *Sink) LogStop() { s.ready = false }

// Ready reports whether events are currently being recorded.
func (s *Sink) Ready() bool { return s.ready }

func (s *Sink) write(text string) error {
	if s.err != nil {
		return s.err
	}
	if s.w != nil {
		if _, err := io.WriteString(s.w, text); err != nil {
			s.err = errors.Wrap(ErrTraceIO, err.Error())
			return s.err
		}
	}
	_, _ = s.digest.WriteString(text)
	return nil
}

func (s *Sink) emit(text string) {
	if !s.ready {
		return
	}
	if err := s.write(text); err != nil {
		return
	}
	if s.snap != nil {
		s.snap.Capture(s.wordSnapshot)
	}
}

func (s *Sink) wordSnapshot(loc uint16) (bool, bool, uint32, uint32, uint32) {
	i := s.words[loc]
	return i.allocated, i.overhead, i.lastRead, i.lastWrite, s.time
}

func (s *Sink) tick() uint32 {
	s.time++
	return s.time
}

func (s *Sink) markAllocated(loc uint16, n int) {
	for i := 0; i < n; i++ {
		s.words[loc+uint16(i)] = wordInfo{allocated: true}
	}
}

func (s *Sink) markFreed(loc uint16, n int) {
	for i := 0; i < n; i++ {
		s.words[loc+uint16(i)].allocated = false
	}
}

func (s *Sink) markRead(loc uint16) {
	w := &s.words[loc]
	w.lastRead = s.tick()
}

func (s *Sink) markWritten(loc uint16) {
	w := &s.words[loc]
	w.lastWrite = s.tick()
	w.overhead = false
}

func (s *Sink) markOverhead(loc uint16) {
	w := &s.words[loc]
	w.lastWrite = s.tick()
	w.overhead = true
}

// Alloc records a bump allocation of n words starting at loc.
func (s *Sink) Alloc(loc uint16, n int) {
	s.markAllocated(loc, n)
	s.emit(fmt.Sprintf("['alloc',%d,%d],\n", loc, n))
}

// Free records the reclamation of n words starting at loc.
func (s *Sink) Free(loc uint16, n int) {
	s.markFreed(loc, n)
	s.emit(fmt.Sprintf("['free',%d,%d],\n", loc, n))
}

// Init records a header write that sets the type tag at loc.
func (s *Sink) Init(loc uint16, typeName string) {
	if s.ready {
		s.emit(fmt.Sprintf("['init',%d,'%s'],\n", loc, typeName))
	}
}

// RefCount records a change to the reference count stored at loc.
func (s *Sink) RefCount(loc uint16, refCount int) {
	s.markOverhead(loc)
	s.emit(fmt.Sprintf("['ref_count',%d,%d],\n", loc, refCount))
}

// NoteRead marks loc as read without emitting a textual record, matching
// dkp.cc's log_get_val (a snapshot trigger, never a printed event).
func (s *Sink) NoteRead(loc uint16) {
	s.markRead(loc)
	if s.ready && s.snap != nil {
		s.snap.Capture(s.wordSnapshot)
	}
}

// SetValue records a 'set' event at loc with v encoded per its kind (an
// integer literal, a single character, or a bare Loc reference).
func (s *Sink) SetValue(loc uint16, v Value) {
	s.markWritten(loc)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "['set',%d,", loc)
	v.write(&buf)
	buf.WriteString("],\n")
	s.emit(buf.String())
}

// SetInt records an integer literal written to loc.
func (s *Sink) SetInt(loc uint16, v int64) { s.SetValue(loc, IntValue(v)) }

// SetChar records a single raw byte written to loc.
func (s *Sink) SetChar(loc uint16, v byte) { s.SetValue(loc, CharValue(v)) }

// SetRef records a Loc reference written to loc.
func (s *Sink) SetRef(loc uint16, v uint16) { s.SetValue(loc, LocValue(v)) }

// Copy records a bulk word copy of n words from `from` to `to`.
func (s *Sink) Copy(to, from uint16, n int) {
	for i := 0; i < n; i++ {
		s.markRead(from + uint16(i))
		s.markWritten(to + uint16(i))
	}
	s.emit(fmt.Sprintf("['copy',%d,%d,%d],\n", to, from, n))
}

// Breakpoint records a named milestone, followed by the current roots and
// live sets (as computed by the caller). Unlike the other record kinds this
// is unconditional: log_roots in the original is not gated by log_ready, so
// a breakpoint always appears even during the startup phase.
func (s *Sink) Breakpoint(message string, roots, live []uint16) {
	_ = s.write(fmt.Sprintf("['bp','%s'],\n", message))
	_ = s.write(locsRecord("roots", roots))
	_ = s.write(locsRecord("live", live))
}

func locsRecord(name string, locs []uint16) string {
	out := "['" + name + "'"
	for _, loc := range locs {
		out += fmt.Sprintf(",%d", loc)
	}
	out += "],\n"
	return out
}

// Digest returns an xxhash of every byte written to the record stream so
// far, letting tests compare trace determinism as a single integer.
func (s *Sink) Digest() uint64 { return s.digest.Sum64() }
