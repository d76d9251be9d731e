package flate

import (
	"sync"

	"github.com/tinyworks/tinflate/huffman"
)

var (
	fixedOnce      sync.Once
	fixedLitTable  *huffman.Table
	fixedDistTable *huffman.Table
)

// fixedTables lazily builds the RFC 1951 §3.2.6 fixed Huffman tables on
// first use, since a raw-deflate-only stream (the common case for small
// embedded payloads) may never need them.
func fixedTables() (*huffman.Table, *huffman.Table) {
	fixedOnce.Do(func() {
		lens := make([]int, 288)
		for i := 0; i < 144; i++ {
			lens[i] = 8
		}
		for i := 144; i < 256; i++ {
			lens[i] = 9
		}
		for i := 256; i < 280; i++ {
			lens[i] = 7
		}
		for i := 280; i < 288; i++ {
			lens[i] = 8
		}
		lit, err := huffman.Build(lens)
		if err != nil {
			panic("flate: fixed literal/length table is malformed: " + err.Error())
		}

		distLens := make([]int, maxDistSymbols)
		for i := range distLens {
			distLens[i] = 5
		}
		dist, err := huffman.Build(distLens)
		if err != nil {
			panic("flate: fixed distance table is malformed: " + err.Error())
		}

		fixedLitTable, fixedDistTable = lit, dist
	})
	return fixedLitTable, fixedDistTable
}
