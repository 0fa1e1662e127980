//go:build test

package heap

// HeapSize is shrunk under `-tags test`. The tests in this module pass
// their heap sizes to New directly and do not read this constant.
const HeapSize = 40

// HeapSemiSize is the boundary between the two semi-spaces the Copy
// collector splits the heap into.
const HeapSemiSize = HeapSize / 2
