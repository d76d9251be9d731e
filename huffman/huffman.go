// Package huffman builds and decodes canonical Huffman codes as specified by
// RFC 1951 §3.2.2, using the two-level chunk/link table layout from zlib's
// inflate (see https://github.com/madler/zlib/raw/master/doc/algorithm.txt),
// generalized here to the bit-reversed low-9-bits table spec.md calls for.
package huffman

import (
	"errors"
	"math/bits"

	"github.com/tinyworks/tinflate/bitio"
)

// ErrInvalidCodeSet is returned when a vector of code lengths does not form
// a valid canonical Huffman code: the Kraft inequality is violated (the code
// is over-subscribed). Incomplete (under-subscribed) codes are accepted.
var ErrInvalidCodeSet = errors.New("huffman: invalid code length set")

const (
	maxCodeLen = 15 // longest DEFLATE code per RFC 1951 §3.2.7

	chunkBits  = 9 // width of the direct-mapped first-level table
	numChunks  = 1 << chunkBits
	countMask  = 0xF // low 4 bits of a chunk: code length
	valueShift = 4   // symbol (or link index) lives above the low 4 bits
)

// Table is a flat, two-level canonical Huffman decode table. chunks holds
// numChunks entries addressed by the bit-reversed low 9 bits of a code; an
// entry whose count exceeds chunkBits points into links instead of carrying
// a symbol directly.
type Table struct {
	min      uint // shortest code length present, 0 if the table is empty
	chunks   [numChunks]uint32
	links    [][]uint32
	linkMask uint32
}

// Build constructs a canonical Huffman decode table from an ordered vector
// of code lengths (lens[i] is the length assigned to symbol i; 0 means the
// symbol is absent). Lengths must not exceed 15. An empty table (no lengths
// at all) is permitted and simply never decodes.
func Build(lens []int) (*Table, error) {
	t := &Table{}

	var count [maxCodeLen + 1]int
	var min, max int
	for _, n := range lens {
		if n == 0 {
			continue
		}
		if n < 0 || n > maxCodeLen {
			return nil, ErrInvalidCodeSet
		}
		if min == 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
		count[n]++
	}

	if max == 0 {
		return t, nil
	}

	code := 0
	var nextCode [maxCodeLen + 1]int
	for i := min; i <= max; i++ {
		code <<= 1
		nextCode[i] = code
		code += count[i]
	}

	// The codes consume code of the 2^max available code points; more than
	// that violates the Kraft inequality. Fewer is an incomplete code, which
	// is accepted: its unused bit patterns simply never decode.
	if code > 1<<uint(max) {
		return nil, ErrInvalidCodeSet
	}

	t.min = uint(min)
	if max > chunkBits {
		numLinks := 1 << uint(max-chunkBits)
		t.linkMask = uint32(numLinks - 1)

		link := nextCode[chunkBits+1] >> 1
		t.links = make([][]uint32, numChunks-link)
		for j := link; j < numChunks; j++ {
			reverse := int(bits.Reverse16(uint16(j)))
			reverse >>= 16 - chunkBits
			off := j - link
			t.chunks[reverse] = uint32(off<<valueShift | (chunkBits + 1))
			t.links[off] = make([]uint32, numLinks)
		}
	}

	for sym, n := range lens {
		if n == 0 {
			continue
		}
		code := nextCode[n]
		nextCode[n]++
		chunk := uint32(sym<<valueShift | n)
		reverse := int(bits.Reverse16(uint16(code)))
		reverse >>= 16 - n

		if n <= chunkBits {
			for off := reverse; off < len(t.chunks); off += 1 << uint(n) {
				t.chunks[off] = chunk
			}
		} else {
			j := reverse & (numChunks - 1)
			value := t.chunks[j] >> valueShift
			linktab := t.links[value]
			reverse >>= chunkBits
			for off := reverse; off < len(linktab); off += 1 << uint(n-chunkBits) {
				linktab[off] = chunk
			}
		}
	}

	return t, nil
}

// Empty reports whether the table has no codes at all (every length was 0).
func (t *Table) Empty() bool { return t.min == 0 }

// MinBits returns the shortest code length present in the table.
func (t *Table) MinBits() uint { return t.min }

// RaiseMin widens the table's minimum-bits hint, so a decoder that knows
// every block must end with a particular long symbol (the end-of-block
// marker) can avoid ever reading past the last byte of the stream.
func (t *Table) RaiseMin(n uint) {
	if n > t.min {
		t.min = n
	}
}

// Decode reads one symbol from br using t. It reports ok == false if the bit
// reader does not currently hold enough bits to resolve a code; the caller
// should Ensure more input and retry rather than treating this as an error.
// It also reports ok == false when the bits match no code of an incomplete
// table, however many bits are available.
//
// The peek-then-maybe-retry shape mirrors zlib's inflate_fast: a lookup on
// the low chunkBits of the accumulator is valid even when fewer than
// chunkBits real bits have arrived, because bitio.Reader zero-fills above
// its current bit count and canonical codes shorter than chunkBits are
// replicated across every setting of the padding bits. Only when the
// returned length exceeds what is actually available does Decode pull more
// input and recheck.
func (t *Table) Decode(br *bitio.Reader) (sym int, ok bool) {
	if t.min == 0 {
		return 0, false
	}
	need := t.min
	for {
		br.Ensure(chunkBits)
		if br.BitsAvailable() < need {
			return 0, false
		}
		chunk := t.chunks[br.Peek(chunkBits)&(numChunks-1)]
		n := uint(chunk & countMask)
		if n > chunkBits {
			br.Ensure(maxCodeLen)
			if br.BitsAvailable() < n {
				return 0, false
			}
			chunk = t.links[chunk>>valueShift][(br.Peek(maxCodeLen)>>chunkBits)&t.linkMask]
			n = uint(chunk & countMask)
		}
		if n == 0 {
			return 0, false
		}
		if n <= br.BitsAvailable() {
			br.Consume(n)
			return int(chunk >> valueShift), true
		}
		need = n
	}
}
