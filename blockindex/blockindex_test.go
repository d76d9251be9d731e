package blockindex

import (
	"testing"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
)

// openTest opens an Index backed by an in-memory pebble filesystem, pebble's
// own idiom for exercising a *pebble.DB in tests without touching disk.
func openTest(t *testing.T) *Index {
	t.Helper()
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		t.Fatalf("pebble.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Index{db: db}
}

func TestPutNearestExact(t *testing.T) {
	x := openTest(t)
	cp := Checkpoint{CompressedOffset: 100, UncompressedOffset: Span, WindowSnapshot: []byte("hist")}
	if err := x.Put("stream-a", cp); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := x.Nearest("stream-a", Span)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if !ok {
		t.Fatal("Nearest: not found")
	}
	if got.CompressedOffset != cp.CompressedOffset || got.UncompressedOffset != cp.UncompressedOffset {
		t.Fatalf("got %+v, want %+v", got, cp)
	}
	if string(got.WindowSnapshot) != "hist" {
		t.Fatalf("WindowSnapshot = %q", got.WindowSnapshot)
	}
}

func TestNearestPicksHighestBelowTarget(t *testing.T) {
	x := openTest(t)
	for _, off := range []int64{0, Span, 2 * Span, 3 * Span} {
		if err := x.Put("stream-a", Checkpoint{CompressedOffset: off / 2, UncompressedOffset: off}); err != nil {
			t.Fatalf("Put(%d): %v", off, err)
		}
	}

	got, ok, err := x.Nearest("stream-a", 2*Span+500)
	if err != nil || !ok {
		t.Fatalf("Nearest: ok=%v err=%v", ok, err)
	}
	if got.UncompressedOffset != 2*Span {
		t.Fatalf("UncompressedOffset = %d, want %d", got.UncompressedOffset, 2*Span)
	}
}

func TestNearestNoCheckpoints(t *testing.T) {
	x := openTest(t)
	_, ok, err := x.Nearest("nope", 0)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if ok {
		t.Fatal("Nearest: expected ok=false for unknown stream")
	}
}

func TestStreamsDoNotCollide(t *testing.T) {
	x := openTest(t)
	if err := x.Put("a", Checkpoint{UncompressedOffset: 0, WindowSnapshot: []byte("A")}); err != nil {
		t.Fatal(err)
	}
	if err := x.Put("b", Checkpoint{UncompressedOffset: 0, WindowSnapshot: []byte("B")}); err != nil {
		t.Fatal(err)
	}
	got, ok, err := x.Nearest("a", 0)
	if err != nil || !ok {
		t.Fatalf("Nearest(a): ok=%v err=%v", ok, err)
	}
	if string(got.WindowSnapshot) != "A" {
		t.Fatalf("Nearest(a) = %q, want A", got.WindowSnapshot)
	}
}
