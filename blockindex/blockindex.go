// Package blockindex persists resume checkpoints for a long raw DEFLATE
// stream so a flate.Decoder (as driven by blockcache) can restart
// decompression near an arbitrary uncompressed offset instead of from the
// start of the stream. gzip.Reader and zlib.Reader do not use it.
//
// This generalizes the access-point idea in coreos/pkg/zran (one point.b/
// point.hist/point.h1/point.h2 snapshot per span of uncompressed output) and
// the JSON-encoded gsip.Index from the sibling targz example, but trades
// both for a github.com/cockroachdb/pebble/v2 key-value store: checkpoints
// survive process restarts and are looked up by key rather than scanned
// linearly out of a slice.
package blockindex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
)

// Span is the target distance, in uncompressed bytes, between consecutive
// checkpoints. zran uses 1 MiB; tinflate keeps the same default since the
// tradeoff (index size vs. average re-decode distance) is unchanged.
const Span = 1 << 20

// Checkpoint records everything a flate.Decoder needs to resume decoding
// partway through a raw DEFLATE stream: the compressed byte offset to seek
// the source to, and the sliding window contents at that point (via
// flate.Decoder.WindowSnapshot/PrimeWindow). Unlike zran's point, the
// in-flight Huffman tables and bit accumulator are NOT captured — a
// checkpoint is only ever taken where flate.Decoder.Aligned reports true
// (a block header is next and no bits are buffered), so there is no
// partially-consumed Huffman state to save. This costs a handful of
// extra bytes of re-decode per checkpoint (to realign to the next block
// header) in exchange for a far smaller, format-stable snapshot.
type Checkpoint struct {
	CompressedOffset   int64
	UncompressedOffset int64
	WindowSnapshot     []byte
}

// Index is a pebble-backed store of Checkpoints for one or more streams,
// keyed by (stream id, uncompressed offset).
type Index struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a pebble store at dir.
func Open(dir string) (*Index, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("blockindex: open %s: %w", dir, err)
	}
	return &Index{db: db}, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

// key packs (streamID, uncompressedOffset) big-endian so pebble's default
// byte-order iteration visits checkpoints in ascending uncompressed-offset
// order within a stream.
func key(streamID string, uncompressedOffset int64) []byte {
	b := make([]byte, len(streamID)+1+8)
	copy(b, streamID)
	b[len(streamID)] = 0 // NUL separator: stream ids never contain one
	binary.BigEndian.PutUint64(b[len(streamID)+1:], uint64(uncompressedOffset))
	return b
}

// Put records a checkpoint for streamID at cp.UncompressedOffset.
func (x *Index) Put(streamID string, cp Checkpoint) error {
	buf := encode(cp)
	return x.db.Set(key(streamID, cp.UncompressedOffset), buf, pebble.Sync)
}

// Nearest returns the checkpoint for streamID with the greatest
// UncompressedOffset <= target, or ok=false if none has been recorded yet
// (the caller should then decode from the start of the stream).
func (x *Index) Nearest(streamID string, target int64) (cp Checkpoint, ok bool, err error) {
	iter, err := x.db.NewIter(&pebble.IterOptions{
		LowerBound: key(streamID, 0),
		UpperBound: key(streamID, target+1),
	})
	if err != nil {
		return Checkpoint{}, false, err
	}
	defer iter.Close()

	if !iter.Last() {
		return Checkpoint{}, false, nil
	}
	cp, decErr := decode(iter.Value())
	if decErr != nil {
		return Checkpoint{}, false, decErr
	}
	return cp, true, nil
}

var errShortCheckpoint = errors.New("blockindex: truncated checkpoint record")

// encode/decode use a small fixed layout rather than encoding/json: unlike
// gsip.Index (one JSON document for the whole index), each pebble value here
// is a single checkpoint, read and written far more often, so a flat binary
// layout avoids both allocation and the ambiguity of JSON's numeric types.
func encode(cp Checkpoint) []byte {
	buf := make([]byte, 8+8+4+len(cp.WindowSnapshot))
	binary.BigEndian.PutUint64(buf[0:], uint64(cp.CompressedOffset))
	binary.BigEndian.PutUint64(buf[8:], uint64(cp.UncompressedOffset))
	binary.BigEndian.PutUint32(buf[16:], uint32(len(cp.WindowSnapshot)))
	copy(buf[20:], cp.WindowSnapshot)
	return buf
}

func decode(buf []byte) (Checkpoint, error) {
	if len(buf) < 20 {
		return Checkpoint{}, errShortCheckpoint
	}
	n := binary.BigEndian.Uint32(buf[16:])
	if len(buf) < 20+int(n) {
		return Checkpoint{}, errShortCheckpoint
	}
	win := make([]byte, n)
	copy(win, buf[20:20+n])
	return Checkpoint{
		CompressedOffset:   int64(binary.BigEndian.Uint64(buf[0:])),
		UncompressedOffset: int64(binary.BigEndian.Uint64(buf[8:])),
		WindowSnapshot:     win,
	}, nil
}
