// Package snapshot implements the XPM raster writer that captures the
// heap's per-word read/write recency as a small color-coded image,
// driving the animation player's frame-by-frame view of the heap
// alongside the event trace.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// wordPixels and widthWords match the original tool's fixed layout: each
// heap word renders as a 5x5 pixel block, 25 words per image row.
const (
	wordPixels = 5
	widthWords = 25
)

var palette = []string{
	`"  c black"`,
	`"+ c #888888"`,
	`"# c #ff0000"`,
	`"0 c #00ff00"`,
	`"1 c #22cc22"`,
	`"2 c #22aa22"`,
	`"3 c #228822"`,
	`"a c #ffff00"`,
	`"b c #cccc22"`,
	`"c c #aaaa22"`,
	`"d c #888822"`,
}

// WriterFactory opens the output for frame, a monotonically increasing
// index starting at 0.
type WriterFactory func(frame int) (io.WriteCloser, error)

// DirWriterFactory opens "imgNNNNNNNN.xpm" files inside dir, the
// filename pattern the animation player expects.
func DirWriterFactory(dir string) WriterFactory {
	return func(frame int) (io.WriteCloser, error) {
		return os.Create(filepath.Join(dir, fmt.Sprintf("img%08d.xpm", frame)))
	}
}

// XPM is a trace.Snapshotter that renders one frame per capture to a
// fresh writer from newWriter.
type XPM struct {
	heapSize  int
	newWriter WriterFactory
	frame     int
	err       error
}

// New creates an XPM snapshotter over a heap of heapSize words.
func New(heapSize int, newWriter WriterFactory) *XPM {
	return &XPM{heapSize: heapSize, newWriter: newWriter}
}

// Err returns the first write error encountered across all captures, if
// any. A snapshot failure never aborts the simulation; it is purely a
// visualization side channel.
func (x *XPM) Err() error { return x.err }

func imageWidth() int { return widthWords * wordPixels }

func imageHeight(heapSize int) int {
	rows := (heapSize + widthWords - 1) / widthWords
	return rows * wordPixels
}

// colorOf reproduces color_of_mem_loc: unallocated words are blank;
// allocated words never read or written are mid-gray; other allocated
// words are colored by which happened more recently, read or write,
// bucketed into four age bands per channel, with a red overhead marker in
// the youngest band for words whose most recent write was bookkeeping.
func colorOf(allocated, overhead bool, lastRead, lastWrite, now uint32) byte {
	if !allocated {
		return ' '
	}
	var colors string
	var age uint32
	if lastRead > lastWrite {
		colors, age = "0123456789", now-lastRead
	} else {
		colors, age = "abcdefghij", now-lastWrite
	}
	if age == now {
		return '+'
	}
	switch {
	case age < 5:
		if overhead {
			return '#'
		}
		return colors[0]
	case age < 25:
		return colors[1]
	case age < 125:
		return colors[2]
	default:
		return colors[3]
	}
}

// Capture renders one frame, querying info for every word in the heap.
func (x *XPM) Capture(info func(loc uint16) (allocated, overhead bool, lastRead, lastWrite, now uint32)) {
	w, err := x.newWriter(x.frame)
	if err != nil {
		x.err = err
		return
	}
	x.frame++
	defer w.Close()

	width := imageWidth()
	height := imageHeight(x.heapSize)
	fmt.Fprint(w, "/* XPM */\nstatic char * plaid[] =\n{\n")
	fmt.Fprintf(w, "/* width height ncolors chars_per_pixel */\n\"%d %d 11 1\",\n", width, height)
	fmt.Fprint(w, "/* colors */\n")
	for _, p := range palette {
		fmt.Fprintf(w, "%s,\n", p)
	}
	fmt.Fprint(w, "/* pixels */\n")

	rows := make([][]byte, wordPixels)
	for i := range rows {
		rows[i] = make([]byte, width)
	}

	locX := 0
	for loc := 0; loc < x.heapSize; loc++ {
		allocated, overhead, lastRead, lastWrite, now := info(uint16(loc))
		c := colorOf(allocated, overhead, lastRead, lastWrite, now)
		for py := 0; py < wordPixels; py++ {
			for px := 0; px < wordPixels; px++ {
				rows[py][locX+px] = c
			}
		}
		locX += wordPixels
		if locX == width {
			for py := 0; py < wordPixels; py++ {
				fmt.Fprintf(w, "\"%s\",\n", rows[py])
			}
			locX = 0
		}
	}
	if locX > 0 {
		for py := 0; py < wordPixels; py++ {
			for px := locX; px < width; px++ {
				rows[py][px] = ' '
			}
			fmt.Fprintf(w, "\"%s\",\n", rows[py])
		}
	}
	fmt.Fprint(w, "};\n")
}
