// Package flate implements the resumable DEFLATE (RFC 1951) inflation
// engine described in spec.md §4.5: a bit-stream state machine that decodes
// stored, fixed-Huffman, and dynamic-Huffman blocks, reconstructs Huffman
// tables from packed code-length lists, resolves LZ77 back-references
// against a sliding window, and suspends at exactly three junctures —
// output buffer full, input exhausted, or stream end — rather than
// blocking on I/O. The zlib framing (RFC 1950) is folded into the engine
// itself as the HEAD/DICTID/CHECK states, matching spec.md's observation
// that the engine's initial state depends on wrapper presence; gzip's
// richer, variable-length header lives one layer up, in package gzip.
package flate

import (
	"github.com/tinyworks/tinflate/bitio"
	"github.com/tinyworks/tinflate/checksum"
	"github.com/tinyworks/tinflate/huffman"
	"github.com/tinyworks/tinflate/window"
)

// Status reports why a Decode call returned.
type Status int

const (
	// StatusOutputFull means the caller's output buffer is full; call
	// Decode again with a fresh buffer to continue.
	StatusOutputFull Status = iota
	// StatusNeedInput means the current state needs more bits than the
	// input span holds; call Feed with more bytes, then Decode again.
	StatusNeedInput
	// StatusStreamEnd means the stream (and, for zlib, its trailer) has
	// been fully decoded. Further Decode calls return (0, StatusStreamEnd, nil).
	StatusStreamEnd
)

// Mode selects which framing, if any, the engine parses itself.
type Mode int

const (
	// ModeRaw decodes a bare DEFLATE stream with a fixed 32 KiB window
	// and no header or trailer. This is what gzip's inner body, and any
	// caller with its own framing, wants.
	ModeRaw Mode = iota
	// ModeZlib decodes the RFC 1950 wrapper (CMF/FLG header, optional
	// dictionary id, Adler-32 trailer) around the DEFLATE stream.
	ModeZlib
)

type engineState int

const (
	stateHead engineState = iota
	stateDictID
	stateNeedDict
	stateType
	stateStored
	stateCopy
	stateTable
	stateLenLens
	stateCodeLens
	stateLen
	stateLenExt
	stateDist
	stateDistExt
	stateMatch
	stateCheck
	stateDone
)

// Decoder is the resumable inflate engine. All mutable decode state lives
// in its fields; two Decoders never share state, so independent instances
// over independent streams are trivially parallelizable (spec.md §5).
type Decoder struct {
	mode  Mode
	state engineState

	span bitio.Span
	br   *bitio.Reader

	win        *window.Window
	windowBits int // log2(window size); 0 until HEAD has resolved it (raw: fixed at 15)

	final bool

	// TABLE / LENLENS / CODELENS scratch
	nlit, ndist, ncode int
	codeLenRaw         [numCodeLenCodes]int
	codeLenTable       *huffman.Table
	clIdx              int
	lens               []int // length nlit+ndist, filled in by CODELENS
	lensFill           int
	prevLen            int
	clPending          int // decoded code-length symbol awaiting its extra bits, -1 if none

	litTable, distTable *huffman.Table

	// LEN / LENEXT / DIST / DISTEXT / MATCH scratch
	length, distance int
	extraNeeded      uint

	// STORED / COPY scratch
	storedRemaining int

	// zlib-only
	dictID          uint32
	needDictionary  bool
	dictionaryFed   bool
	adler           *checksum.Adler32

	err error
}

// NewRawDecoder returns a Decoder for a bare DEFLATE stream: no header, no
// trailer, a fixed 32 KiB window. This is what an envelope with its own
// framing (gzip) drives directly.
func NewRawDecoder() *Decoder {
	d := &Decoder{mode: ModeRaw, state: stateType, windowBits: 15, clPending: -1}
	d.br = bitio.NewReader(&d.span)
	d.ensureWindow()
	return d
}

// NewZlibDecoder returns a Decoder that parses the RFC 1950 wrapper itself,
// starting from HEAD. Used by package zlib.
func NewZlibDecoder() *Decoder {
	d := &Decoder{mode: ModeZlib, state: stateHead, clPending: -1}
	d.br = bitio.NewReader(&d.span)
	d.adler = checksum.NewAdler32()
	return d
}

// Feed supplies the next chunk of compressed input. It must only be called
// when the decoder has reported StatusNeedInput (or before the first
// Decode call); the previous span must already be exhausted, matching
// spec.md §3's InputSpan.Refill contract.
func (d *Decoder) Feed(buf []byte) {
	d.span.Refill(buf)
}

// InputPending reports how many unconsumed input bytes remain buffered.
func (d *Decoder) InputPending() int { return d.span.Avail() }

// NeedsDictionary reports whether the zlib header's FDICT bit was set and
// SetDictionary has not yet been called. DictionaryID returns the four-byte
// id carried in that case.
func (d *Decoder) NeedsDictionary() bool { return d.needDictionary && !d.dictionaryFed }
func (d *Decoder) DictionaryID() uint32  { return d.dictID }

// SetDictionary seeds the sliding window with a preset dictionary's bytes,
// the minimal mechanism needed to act on NeedsDictionary; acquiring the
// dictionary's content from wherever it lives is the caller's problem (spec
// §1 Non-goals: "dictionary-preset handling beyond signaling that one is
// required").
func (d *Decoder) SetDictionary(b []byte) {
	d.PrimeWindow(b)
	d.dictionaryFed = true
}

// PrimeWindow seeds the sliding window directly with known-good history
// bytes, without touching the FDICT bookkeeping SetDictionary also updates.
// blockcache uses this to resume a fresh raw Decoder from a blockindex
// checkpoint's window snapshot rather than decoding from the start of the
// stream.
func (d *Decoder) PrimeWindow(b []byte) {
	d.ensureWindow()
	d.win.Absorb(b)
}

// WindowSnapshot copies out the bytes currently held in the sliding window,
// in emission order, for blockindex to persist as a checkpoint. Returns nil
// while no window is allocated (a zlib decoder before its header) and an
// empty slice if the window holds nothing yet.
func (d *Decoder) WindowSnapshot() []byte {
	if d.win == nil {
		return nil
	}
	return d.win.Snapshot()
}

// Aligned reports whether the engine is currently sitting at a byte boundary
// in the compressed stream with a fresh block about to start (state
// stateType and no bits buffered). blockindex only records a checkpoint at
// such a point, since CompressedOffset must be directly seekable.
func (d *Decoder) Aligned() bool {
	return d.state == stateType && d.br.BitsAvailable() == 0
}

// ConsumedOffset returns the number of compressed bytes consumed so far,
// valid as a seek target only when Aligned reports true.
func (d *Decoder) ConsumedOffset() int64 { return d.span.Consumed() }

// DrainPending returns compressed-stream bytes that a caller's Feed already
// delivered but the DEFLATE decode never consumed: the source's final Read
// commonly returns the stream's last few bytes bundled together with
// whatever immediately follows it (a gzip trailer, for instance), and once
// Decode reports StatusStreamEnd those trailing bytes are stranded inside
// the bit accumulator and the input span rather than visible to the
// envelope layer that needs them next. Call this once, right after
// StatusStreamEnd, before reading anything further from the original
// source. It first aligns to the next byte boundary (padding bits after the
// final block's end-of-block symbol carry no meaning) and drains whole
// bytes already sitting in the accumulator, then appends whatever remains
// unread in the input span.
func (d *Decoder) DrainPending() []byte {
	d.br.AlignToByte()
	var out []byte
	for {
		b, ok := d.br.DrainByte()
		if !ok {
			break
		}
		out = append(out, b)
	}
	return append(out, d.span.DrainAll()...)
}

func (d *Decoder) ensureWindow() {
	if d.win == nil {
		d.win = window.New(1 << uint(d.windowBits))
	}
}

// fail poisons the decoder: this error, and no further progress, is
// reported for every subsequent Decode call.
func (d *Decoder) fail(kind ErrorKind) error {
	d.err = newError(kind, d.span.Consumed())
	d.state = stateDone
	return d.err
}

// Decode consumes as many bits as are available from the fed input and
// writes as many decoded bytes as fit in out, returning how many bytes it
// wrote and why it stopped. out is treated as a fresh OutputSpan for this
// call only: index 0 is where this call's output begins, regardless of how
// many bytes prior calls produced.
func (d *Decoder) Decode(out []byte) (n int, status Status, err error) {
	if d.err != nil {
		return 0, StatusStreamEnd, d.err
	}
	if d.state == stateDone {
		return 0, StatusStreamEnd, nil
	}

	// adlerDone is how much of out[:n] the Adler-32 has already seen; CHECK
	// brings it up to date before comparing, since the trailer can be read
	// in the same call that emitted the stream's last bytes.
	adlerDone := 0
	defer func() {
		if n > 0 {
			if d.win != nil {
				d.win.Absorb(out[:n])
			}
			if d.adler != nil {
				d.adler.Write(out[adlerDone:n])
			}
		}
	}()

	for {
		switch d.state {
		case stateHead:
			if !d.doHead() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateDictID:
			if !d.doDictID() {
				return n, StatusNeedInput, nil
			}
		case stateNeedDict:
			// Blocked until the caller has seeded the window via
			// SetDictionary; NeedsDictionary distinguishes this from a
			// genuine input shortage.
			if d.needDictionary && !d.dictionaryFed {
				return n, StatusNeedInput, nil
			}
			d.state = stateType
		case stateType:
			if !d.doType() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateStored:
			if !d.doStored() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateCopy:
			advanced := d.doCopy(out, &n)
			if d.state == stateCopy {
				// Either output or input ran out; report whichever
				// actually blocked us.
				if n == len(out) {
					return n, StatusOutputFull, nil
				}
				if !advanced && d.err == nil {
					return n, StatusNeedInput, nil
				}
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
			}
		case stateTable:
			if !d.doTable() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateLenLens:
			if !d.doLenLens() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateCodeLens:
			if !d.doCodeLens() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateLen:
			if n == len(out) {
				return n, StatusOutputFull, nil
			}
			if !d.doLen(out, &n) {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateLenExt:
			if !d.doLenExt() {
				return n, StatusNeedInput, nil
			}
		case stateDist:
			if !d.doDist() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateDistExt:
			if !d.doDistExt() {
				return n, StatusNeedInput, nil
			}
		case stateMatch:
			if n == len(out) {
				return n, StatusOutputFull, nil
			}
			if !d.doMatch(out, &n) {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateCheck:
			if d.adler != nil {
				d.adler.Write(out[adlerDone:n])
				adlerDone = n
			}
			if !d.doCheck() {
				if d.err != nil {
					return n, StatusStreamEnd, d.err
				}
				return n, StatusNeedInput, nil
			}
		case stateDone:
			return n, StatusStreamEnd, nil
		}
	}
}
