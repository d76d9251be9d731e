// Package zlib implements the RFC 1950 envelope around a raw DEFLATE
// stream. Unlike gzip, zlib's two-byte CMF/FLG header and four-byte
// Adler-32 trailer are small and fixed enough that flate.Decoder parses
// them itself (spec.md §4.5's HEAD/DICTID/CHECK states); this package is a
// thin io.Reader adapter plus the preset-dictionary signaling spec.md §9
// Open Question 4 calls for.
package zlib

import (
	"fmt"
	"io"

	"github.com/tinyworks/tinflate/flate"
)

// ErrNeedDictionary is returned by Read when the stream's FDICT bit is set
// and SetDictionary has not yet been called. The required dictionary id is
// available via Reader.DictionaryID.
var ErrNeedDictionary = fmt.Errorf("zlib: preset dictionary required")

// Reader decompresses a zlib stream from an underlying io.Reader.
type Reader struct {
	src *flate.Decoder
	in  io.Reader

	rawBuf [4096]byte

	err error
}

// NewReader begins decoding r. If the stream requires a preset dictionary,
// Read returns ErrNeedDictionary (retrievable id via DictionaryID) until
// SetDictionary supplies its bytes.
func NewReader(r io.Reader) (*Reader, error) {
	return &Reader{src: flate.NewZlibDecoder(), in: r}, nil
}

// DictionaryID returns the preset dictionary identifier carried in the
// header, valid once Read has returned ErrNeedDictionary.
func (zr *Reader) DictionaryID() uint32 { return zr.src.DictionaryID() }

// SetDictionary seeds the sliding window with a preset dictionary's bytes.
// Acquiring those bytes from wherever they live is the caller's problem;
// this only performs the seeding once they are in hand.
func (zr *Reader) SetDictionary(b []byte) { zr.src.SetDictionary(b) }

// Read implements io.Reader.
func (zr *Reader) Read(p []byte) (int, error) {
	if zr.err != nil {
		return 0, zr.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if zr.src.NeedsDictionary() {
		return 0, ErrNeedDictionary
	}

	total := 0
	for total < len(p) {
		n, status, err := zr.src.Decode(p[total:])
		total += n
		if err != nil {
			zr.err = err
			return total, errOrNil(total, zr.err)
		}
		switch status {
		case flate.StatusOutputFull:
			return total, nil
		case flate.StatusNeedInput:
			if zr.src.NeedsDictionary() {
				return total, errOrNil(total, ErrNeedDictionary)
			}
			m, rerr := zr.in.Read(zr.rawBuf[:])
			if m > 0 {
				zr.src.Feed(zr.rawBuf[:m])
				continue
			}
			if rerr == io.EOF {
				zr.err = &flate.Error{Kind: flate.ErrUnexpectedEOF, Offset: -1}
			} else {
				zr.err = fmt.Errorf("zlib: reading body: %w", rerr)
			}
			return total, errOrNil(total, zr.err)
		case flate.StatusStreamEnd:
			zr.err = io.EOF
			return total, errOrNil(total, zr.err)
		}
	}
	return total, nil
}

func errOrNil(total int, err error) error {
	if total > 0 {
		return nil
	}
	return err
}
