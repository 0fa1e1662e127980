//go:build !test

package heap

// HeapSize is a heap size in words, equal to config.Default's. New takes
// its size as an argument and does not read this constant.
const HeapSize = 2000

// HeapSemiSize is the boundary between the two semi-spaces the Copy
// collector splits the heap into.
const HeapSemiSize = HeapSize / 2
