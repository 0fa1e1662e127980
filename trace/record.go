// Package trace serializes heap mutation and collection events into the
// prefix-form stream consumed by the animation renderer, and tracks the
// per-word read/write recency used by the raster snapshotter.
package trace

import (
	"fmt"
	"io"
)

// ValueKind distinguishes the three shapes a 'set' record's encoded value
// can take.
type ValueKind int

const (
	// ValueInt encodes an integer literal, written as '=N'.
	ValueInt ValueKind = iota
	// ValueChar encodes a single character literal, written as "'c".
	ValueChar
	// ValueLoc encodes a bare heap location reference.
	ValueLoc
)

// Value is the encoded payload of a 'set' record.
type Value struct {
	kind ValueKind
	i    int64
	c    byte
	loc  uint16
}

// IntValue encodes a signed integer literal.
func IntValue(v int64) Value { return Value{kind: ValueInt, i: v} }

// CharValue encodes a single raw byte.
func CharValue(v byte) Value { return Value{kind: ValueChar, c: v} }

// LocValue encodes a bare heap location reference.
func LocValue(v uint16) Value { return Value{kind: ValueLoc, loc: v} }

func (v Value) write(w io.Writer) {
	switch v.kind {
	case ValueInt:
		fmt.Fprintf(w, "'=%d'", v.i)
	case ValueChar:
		fmt.Fprintf(w, "\"'%c\"", v.c)
	case ValueLoc:
		fmt.Fprintf(w, "%d", v.loc)
	}
}
