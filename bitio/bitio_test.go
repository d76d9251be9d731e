package bitio

import "testing"

func TestEnsurePeekConsume(t *testing.T) {
	span := &Span{}
	span.Refill([]byte{0xA5, 0x3C, 0xFF, 0x00})
	r := NewReader(span)

	if !r.Ensure(8) {
		t.Fatal("expected 8 bits available")
	}
	if got := r.Peek(4); got != 0x5 {
		t.Fatalf("peek(4) = %#x, want 0x5", got)
	}
	r.Consume(4)
	if got := r.Peek(4); got != 0xA {
		t.Fatalf("peek(4) after consume = %#x, want 0xA", got)
	}
	r.Consume(4)
	if r.BitsAvailable() != 0 {
		t.Fatalf("bits available = %d, want 0", r.BitsAvailable())
	}
}

func Test32BitRead(t *testing.T) {
	span := &Span{}
	span.Refill([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	r := NewReader(span)

	if !r.Ensure(32) {
		t.Fatal("expected 32 bits available")
	}
	if got := r.Peek(32); got != 0xFFFFFFFF {
		t.Fatalf("peek(32) = %#x, want 0xFFFFFFFF", got)
	}
	r.Consume(32)
	if r.BitsAvailable() != 0 {
		t.Fatalf("bits available after consuming 32 = %d", r.BitsAvailable())
	}
}

func TestEnsureStarvation(t *testing.T) {
	span := &Span{}
	span.Refill([]byte{0x01})
	r := NewReader(span)

	if r.Ensure(16) {
		t.Fatal("should not be able to ensure 16 bits from a single byte")
	}
	if !r.Ensure(8) {
		t.Fatal("should still be able to ensure the 8 bits that are present")
	}
}

func TestAlignToByte(t *testing.T) {
	span := &Span{}
	span.Refill([]byte{0xAB, 0xCD})
	r := NewReader(span)

	r.Ensure(3)
	r.Consume(3)
	r.AlignToByte()
	if r.BitsAvailable()%8 != 0 {
		t.Fatalf("bits available = %d, want multiple of 8", r.BitsAvailable())
	}
}

func TestClear(t *testing.T) {
	span := &Span{}
	span.Refill([]byte{0xAB, 0xCD})
	r := NewReader(span)
	r.Ensure(8)
	r.Clear()
	if r.BitsAvailable() != 0 {
		t.Fatalf("bits available after Clear = %d, want 0", r.BitsAvailable())
	}
}

func TestRefillResumesAcrossSpans(t *testing.T) {
	span := &Span{}
	span.Refill([]byte{0x0F})
	r := NewReader(span)
	r.Ensure(8)
	r.Consume(4) // 4 bits of 0x0F remain: 0x0

	span.Refill([]byte{0xF0})
	if !r.Ensure(8) {
		t.Fatal("expected 8 bits after refill")
	}
	// low 4 bits from the old byte (0x0) plus low 4 bits of the new byte (0x0) = 0x00
	if got := r.Peek(8); got != 0x00 {
		t.Fatalf("peek(8) across refill = %#x, want 0x00", got)
	}
}
