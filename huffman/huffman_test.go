package huffman

import (
	"testing"

	"github.com/tinyworks/tinflate/bitio"
)

// fixedLitLenLengths returns the RFC 1951 §3.2.6 fixed Huffman lengths.
func fixedLitLenLengths() []int {
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
	return lens
}

func TestBuildFixedTables(t *testing.T) {
	lit, err := Build(fixedLitLenLengths())
	if err != nil {
		t.Fatalf("Build(fixed lit/len): %v", err)
	}
	if lit.MinBits() != 7 {
		t.Fatalf("min bits = %d, want 7", lit.MinBits())
	}

	distLens := make([]int, 30)
	for i := range distLens {
		distLens[i] = 5
	}
	dist, err := Build(distLens)
	if err != nil {
		t.Fatalf("Build(fixed dist): %v", err)
	}
	if dist.MinBits() != 5 {
		t.Fatalf("dist min bits = %d, want 5", dist.MinBits())
	}
}

func TestBuildRejectsOversubscribedCode(t *testing.T) {
	// Three length-1 codes need three of the only two 1-bit patterns.
	_, err := Build([]int{1, 1, 1})
	if err != ErrInvalidCodeSet {
		t.Fatalf("err = %v, want ErrInvalidCodeSet", err)
	}
}

func TestBuildAllowsEmptyTable(t *testing.T) {
	tbl, err := Build([]int{0, 0, 0})
	if err != nil {
		t.Fatalf("Build(all zero): %v", err)
	}
	if !tbl.Empty() {
		t.Fatal("expected empty table")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	// Three symbols, canonical lengths 1,2,2: codes 0, 10, 11.
	tbl, err := Build([]int{1, 2, 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Bitstream (LSB first): symbol0(0), symbol1(10), symbol0(0), symbol2(11)
	// bits in transmission order: 0, 1,0, 0, 1,1 -> packed LSB-first per byte.
	bits := []int{0, 1, 0, 0, 1, 1}
	var buf byte
	var nb uint
	var packed []byte
	for _, b := range bits {
		buf |= byte(b) << nb
		nb++
		if nb == 8 {
			packed = append(packed, buf)
			buf, nb = 0, 0
		}
	}
	if nb > 0 {
		packed = append(packed, buf)
	}

	span := &bitio.Span{}
	span.Refill(packed)
	br := bitio.NewReader(span)

	want := []int{0, 1, 0, 2}
	for i, w := range want {
		got, ok := tbl.Decode(br)
		if !ok {
			t.Fatalf("symbol %d: Decode not ok", i)
		}
		if got != w {
			t.Fatalf("symbol %d: got %d, want %d", i, got, w)
		}
	}
}

func TestDecodeNeedsMoreBits(t *testing.T) {
	lens := make([]int, 19)
	for i := range lens {
		lens[i] = 5
	}
	lens[3] = 0
	tbl, err := Build(lens)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	span := &bitio.Span{}
	span.Refill(nil)
	br := bitio.NewReader(span)
	if _, ok := tbl.Decode(br); ok {
		t.Fatal("expected Decode to report not-ok with no input")
	}
}
