// Package blockcache turns a sequential, resumable flate.Decoder into
// random access over a long DEFLATE stream: an io.ReaderAt backed by a
// tinylfu-admission cache of recently decompressed fixed-size blocks, with
// blockindex checkpoints letting a cache miss resume decoding near the
// missed offset instead of from the start of the stream.
//
// The shape is the teacher's internal/spinner.Pool (a tinylfu cache of
// []byte blocks behind a per-Path channel multiplexer) crossed with the
// root-level concurrent.go's blocksize constant, but adapted from "cache
// blocks of an already-sequential file" to "cache blocks of a
// DEFLATE-decoded stream": a miss here costs a decode, not a read.
package blockcache

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/tinyworks/tinflate/blockindex"
	"github.com/tinyworks/tinflate/flate"
)

// BlockSize is the unit of caching, matching RFC 1951's maximum
// window size: a block this size can always be reproduced from a window
// snapshot taken at its start without needing data from further back.
const BlockSize = 1 << 15

// ErrNotFound is returned by ReadAt when the requested offset is beyond the
// end of the decompressed stream.
var ErrNotFound = errors.New("blockcache: offset beyond end of stream")

// Opener returns a fresh, independently seekable view of a stream's
// compressed bytes. Called once per cache miss; Pool never assumes it can
// reuse a reader across misses, mirroring the teacher's own
// OpenFunc-per-organizer pattern in concurrent.go.
type Opener func(streamID string) (io.ReaderAt, error)

type blockKey struct {
	stream string
	block  int64
}

func (k blockKey) hash() uint64 {
	h := xxhash.New()
	h.WriteString(k.stream)
	h.Write([]byte{0})
	var b [8]byte
	for i := range b {
		b[i] = byte(k.block >> (8 * i))
	}
	h.Write(b[:])
	return h.Sum64()
}

// Pool shares a cache of decompressed blocks among any number of streams.
// Safe for concurrent use.
type Pool struct {
	open Opener
	idx  *blockindex.Index

	mu    sync.Mutex
	cache *tinylfu.T[uint64, []byte]
}

// New creates a Pool holding up to nBlocks decompressed blocks at a time.
// idx may be nil, in which case every miss decodes from the start of the
// stream (no checkpoint resume).
func New(nBlocks int, idx *blockindex.Index, open Opener) *Pool {
	p := &Pool{open: open, idx: idx}
	p.cache = tinylfu.New[uint64, []byte](nBlocks, nBlocks*10, identityHash)
	return p
}

// identityHash is the key hasher tinylfu.New requires: our keys are already
// xxhash digests (blockKey.hash), so there is nothing further to mix.
func identityHash(k uint64) uint64 { return k }

// ReaderAt returns an io.ReaderAt over one stream's decompressed bytes.
func (p *Pool) ReaderAt(streamID string) io.ReaderAt {
	return reader{pool: p, streamID: streamID}
}

type reader struct {
	pool     *Pool
	streamID string
}

func (r reader) ReadAt(p []byte, off int64) (n int, err error) {
	for n < len(p) {
		block := (off + int64(n)) / BlockSize
		within := (off + int64(n)) % BlockSize
		buf, eof, err := r.pool.block(r.streamID, block)
		if err != nil {
			return n, err
		}
		if within >= int64(len(buf)) {
			if eof {
				if n == 0 {
					return 0, io.EOF
				}
				return n, io.EOF
			}
			return n, fmt.Errorf("blockcache: short block %d for stream %q", block, r.streamID)
		}
		copied := copy(p[n:], buf[within:])
		n += copied
		if eof && within+int64(copied) >= int64(len(buf)) {
			if n < len(p) {
				return n, io.EOF
			}
		}
	}
	return n, nil
}

// block returns the decompressed bytes of the given block index, decoding
// (and caching every block along the way) on a miss. eof reports whether
// this was the stream's final, possibly short, block.
func (p *Pool) block(streamID string, block int64) (buf []byte, eof bool, err error) {
	key := blockKey{streamID, block}
	if v, ok := p.getCache(key); ok {
		return v, len(v) < BlockSize, nil
	}
	return p.decodeThrough(streamID, block)
}

func (p *Pool) getCache(k blockKey) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.Get(k.hash())
}

func (p *Pool) putCache(k blockKey, v []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Add(k.hash(), v)
}

// decodeThrough decodes streamID starting from the nearest blockindex
// checkpoint at or before block's target offset, caching every full block
// produced along the way, until it has produced the requested block (or hit
// end of stream first).
func (p *Pool) decodeThrough(streamID string, target int64) (buf []byte, eof bool, err error) {
	targetOffset := target * BlockSize

	dec := flate.NewRawDecoder()
	var compressedOffset, uncompressedOffset int64
	var history []byte

	if p.idx != nil {
		if cp, ok, cerr := p.idx.Nearest(streamID, targetOffset); cerr == nil && ok &&
			int64(len(cp.WindowSnapshot)) >= cp.UncompressedOffset%BlockSize {
			dec.PrimeWindow(cp.WindowSnapshot)
			compressedOffset = cp.CompressedOffset
			uncompressedOffset = cp.UncompressedOffset
			history = cp.WindowSnapshot
		}
	}
	// ConsumedOffset counts from where this decoder started reading.
	baseCompressed := compressedOffset

	src, err := p.open(streamID)
	if err != nil {
		return nil, false, fmt.Errorf("blockcache: open %q: %w", streamID, err)
	}

	feed := make([]byte, 64*1024)
	cur := uncompressedOffset
	lastCheckpoint := uncompressedOffset

	// A block can take several Decode calls to fill (a StatusNeedInput can
	// land mid-block), so accumulate into blockBuf across calls rather than
	// caching each call's partial output on its own — a fresh buffer starts
	// whenever the previous one completes, so the cached slice is never
	// aliased by a later partial write.
	// A checkpoint need not fall on a block boundary: the part of its block
	// that precedes it is taken from the tail of the window snapshot.
	fill := int(cur % BlockSize)
	blockStart := cur - int64(fill)
	blockBuf := make([]byte, BlockSize)
	copy(blockBuf, history[len(history)-fill:])

	for {
		n, status, derr := dec.Decode(blockBuf[fill:])
		if derr != nil {
			return nil, false, fmt.Errorf("blockcache: decode %q: %w", streamID, derr)
		}
		if n > 0 {
			fill += n
			cur += int64(n)
		}

		if p.idx != nil && dec.Aligned() && cur-lastCheckpoint >= blockindex.Span {
			cp := blockindex.Checkpoint{
				CompressedOffset:   baseCompressed + dec.ConsumedOffset(),
				UncompressedOffset: cur,
				WindowSnapshot:     dec.WindowSnapshot(),
			}
			if perr := p.idx.Put(streamID, cp); perr != nil {
				slog.Warn("blockcache: checkpoint write failed", "stream", streamID, "err", perr)
			}
			lastCheckpoint = cur
		}

		if fill == BlockSize || status == flate.StatusStreamEnd {
			if fill > 0 {
				chunk := blockBuf[:fill]
				blockIdx := blockStart / BlockSize
				p.putCache(blockKey{streamID, blockIdx}, chunk)
				if blockIdx == target {
					buf = chunk
				}
			}
			if status == flate.StatusStreamEnd {
				if buf != nil {
					return buf, true, nil
				}
				return nil, false, ErrNotFound
			}
			blockStart = cur
			blockBuf = make([]byte, BlockSize)
			fill = 0
			if buf != nil && blockStart/BlockSize > target {
				return buf, false, nil
			}
			continue
		}

		if status == flate.StatusNeedInput {
			n, rerr := src.ReadAt(feed, compressedOffset)
			if n > 0 {
				dec.Feed(feed[:n])
				compressedOffset += int64(n)
			}
			if n == 0 {
				if rerr == nil {
					rerr = io.ErrUnexpectedEOF
				}
				return nil, false, fmt.Errorf("blockcache: reading %q: %w", streamID, rerr)
			}
		}
	}
}
