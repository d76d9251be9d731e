package gzip

import (
	"bytes"
	"io"
	"testing"

	"github.com/tinyworks/tinflate/flate"
)

func TestReadABC(t *testing.T) {
	// spec.md §8 scenario 2.
	raw := []byte{
		0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03,
		0x4B, 0x4C, 0x4A, 0x06, 0x00,
		0xC2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00, 0x00,
	}
	r, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestReadWithFNAME(t *testing.T) {
	// spec.md §8 scenario 5: FNAME = "f.txt".
	raw := []byte{
		0x1F, 0x8B, 0x08, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03,
		0x66, 0x2E, 0x74, 0x78, 0x74, 0x00,
		0x4B, 0x4C, 0x4A, 0x06, 0x00,
		0xC2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00, 0x00,
	}
	r, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Header.Name != "f.txt" {
		t.Fatalf("Header.Name = %q, want %q", r.Header.Name, "f.txt")
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestTrailerChecksumMismatch(t *testing.T) {
	raw := []byte{
		0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03,
		0x4B, 0x4C, 0x4A, 0x06, 0x00,
		0xC2, 0x41, 0x24, 0x36 /* flipped */, 0x03, 0x00, 0x00, 0x00,
	}
	r, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	_, err = io.ReadAll(r)
	ferr, ok := err.(*flate.Error)
	if !ok || ferr.Kind != flate.ErrChecksumMismatch {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
}

// oneByteReader forces every Read to return at most one byte, so the gzip
// body and its trailer never arrive bundled in a single underlying Read the
// way they would from a bytes.Reader or bufio.Reader. This exercises
// verifyTrailer's fallback path (reading the remainder of the trailer
// directly from gr.src) as opposed to the DrainPending path the other tests
// in this file exercise implicitly.
type oneByteReader struct{ r io.Reader }

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestTrailerSplitAcrossReads(t *testing.T) {
	// Same bytes as TestReadABC (spec.md §8 scenario 2), but fed one byte at
	// a time so the trailer is never bundled with the deflate body in the
	// same Read call.
	raw := []byte{
		0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03,
		0x4B, 0x4C, 0x4A, 0x06, 0x00,
		0xC2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00, 0x00,
	}
	r, err := NewReader(oneByteReader{bytes.NewReader(raw)})
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestInvalidMagic(t *testing.T) {
	raw := []byte{0x1F, 0x8C, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03}
	_, err := NewReader(bytes.NewReader(raw))
	ferr, ok := err.(*flate.Error)
	if !ok || ferr.Kind != flate.ErrInvalidMagic {
		t.Fatalf("got %v, want ErrInvalidMagic", err)
	}
}

func TestReadSmallBuffer(t *testing.T) {
	raw := []byte{
		0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x03,
		0x4B, 0x4C, 0x4A, 0x06, 0x00,
		0xC2, 0x41, 0x24, 0x35, 0x03, 0x00, 0x00, 0x00,
	}
	r, err := NewReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	var got []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}
