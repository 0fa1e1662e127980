package trace_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenfox/gc-viz/trace"
)

func TestSinkFramesTheRecordStream(t *testing.T) {
	r := require.New(t)
	var buf bytes.Buffer
	s := trace.NewSink(16, &buf)

	r.NoError(s.Start())
	s.Alloc(1, 2)
	s.Init(1, ":n ")
	s.SetInt(2, -3)
	r.NoError(s.Stop())

	out := buf.String()
	r.True(strings.HasPrefix(out, "var frame_content = [\n"))
	r.True(strings.HasSuffix(out, "['stop']];\n"))
	r.Contains(out, "['alloc',1,2],\n")
	r.Contains(out, "['init',1,':n '],\n")
	r.Contains(out, "['set',2,'=-3'],\n")
}

func TestSinkGatesOnReady(t *testing.T) {
	r := require.New(t)
	var buf bytes.Buffer
	s := trace.NewSink(16, &buf)

	s.Alloc(1, 2) // not started yet: no record, but metadata still updates
	r.NoError(s.Start())
	s.LogStop()
	s.Free(1, 2) // gated off: no record emitted
	s.LogStart()
	s.SetRef(3, 7)
	r.NoError(s.Stop())

	out := buf.String()
	r.NotContains(out, "'free'")
	r.Contains(out, "['set',3,7],\n")
}

func TestSinkEncodesCharValues(t *testing.T) {
	r := require.New(t)
	var buf bytes.Buffer
	s := trace.NewSink(16, &buf)
	r.NoError(s.Start())
	s.SetChar(4, 'a')
	r.NoError(s.Stop())
	r.Contains(buf.String(), `['set',4,"'a"],`)
}

func TestSinkBreakpointIsUnconditional(t *testing.T) {
	r := require.New(t)
	var buf bytes.Buffer
	s := trace.NewSink(16, &buf)
	// Note: Start() not called — breakpoints are unconditional.
	s.Breakpoint("start", []uint16{0}, []uint16{0})
	out := buf.String()
	r.Contains(out, "['bp','start'],\n")
	r.Contains(out, "['roots',0],\n")
	r.Contains(out, "['live',0],\n")
}

func TestSinkDigestIsDeterministic(t *testing.T) {
	r := require.New(t)
	var b1, b2 bytes.Buffer
	s1 := trace.NewSink(16, &b1)
	s2 := trace.NewSink(16, &b2)
	for _, s := range []*trace.Sink{s1, s2} {
		r.NoError(s.Start())
		s.Alloc(1, 2)
		s.SetInt(1, 42)
		r.NoError(s.Stop())
	}
	r.Equal(s1.Digest(), s2.Digest())
}
