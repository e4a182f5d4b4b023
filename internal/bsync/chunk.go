package bsync

import (
	"github.com/kch42/buzhash"
)

// chunkSeed is arbitrary but fixed, so the same item sequence always
// chunks the same way on every replica — the property a content-defined
// chunker needs for a Prolly tree's stable-under-insertion shape.
const chunkSeed = 0x62756873 // "buhs"

// Chunking parameters: a chunk boundary falls wherever buzhash of the
// item's bytes has its low normBits bits all zero, giving chunks whose
// expected size is 1<<normBits items. maxChunkItems caps the rare
// unlucky run of hash values so a chunk never grows unbounded;
// minChunkItems is 1, so a single-item chunk is allowed.
const (
	normBits      = 2
	boundaryMask  = 1<<normBits - 1
	minChunkItems = 1
	maxChunkItems = 64
)

// isBoundary reports whether item ends a chunk, given how many items
// have already accumulated in the current (still open) chunk.
func isBoundary(item []byte, itemsSoFar int) bool {
	if itemsSoFar+1 >= maxChunkItems {
		return true
	}
	if itemsSoFar+1 < minChunkItems {
		return false
	}
	h := buzhash.NewBuzHash(chunkSeed)
	_, _ = h.Write(item)
	return h.Sum32()&boundaryMask == 0
}

// chunkBoundaries partitions items into content-defined groups and
// returns the exclusive end index of each group. The same items slice
// always produces the same boundaries, which is what lets two replicas
// that agree on a long unchanged run of items also agree on every chunk
// hash covering it, without communicating.
func chunkBoundaries(items [][]byte) []int {
	if len(items) == 0 {
		return nil
	}
	var bounds []int
	sinceBoundary := 0
	for i, item := range items {
		sinceBoundary++
		if isBoundary(item, sinceBoundary-1) || i == len(items)-1 {
			bounds = append(bounds, i+1)
			sinceBoundary = 0
		}
	}
	return bounds
}
