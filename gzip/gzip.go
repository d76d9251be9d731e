// Package gzip implements the RFC 1952 envelope around a raw DEFLATE
// stream: the fixed 10-byte header plus its optional FEXTRA/FNAME/FCOMMENT/
// FHCRC fields, and the 8-byte CRC-32/ISIZE trailer. Decompression itself is
// delegated entirely to flate.Decoder in raw mode; this package only knows
// how to frame it.
package gzip

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/tinyworks/tinflate/checksum"
	"github.com/tinyworks/tinflate/flate"
)

const (
	magic1 = 0x1F
	magic2 = 0x8B
	cmDeflate = 8

	flagText    = 1 << 0
	flagHCRC    = 1 << 1
	flagExtra   = 1 << 2
	flagName    = 1 << 3
	flagComment = 1 << 4
)

// Header carries the parsed fixed and optional gzip header fields.
type Header struct {
	ModTime time.Time
	OS      byte
	Extra   []byte
	Name    string
	Comment string
}

// Reader decompresses a single gzip member from an underlying io.Reader.
// Multi-member gzip streams are out of scope (spec §9 Open Question 3):
// Reader stops after the first member's trailer and returns io.EOF even if
// trailing bytes remain in the source.
type Reader struct {
	Header Header

	src  io.Reader
	dec  *flate.Decoder
	crc  checksum.CRC32
	size uint32 // decompressed bytes seen so far, mod 2^32

	rawBuf [4096]byte

	err      error
	finished bool
}

// NewReader parses the gzip header from r and returns a Reader positioned
// to decompress the member's body.
func NewReader(r io.Reader) (*Reader, error) {
	gr := &Reader{src: r, dec: flate.NewRawDecoder()}
	if err := gr.readHeader(); err != nil {
		return nil, err
	}
	return gr, nil
}

func (gr *Reader) readHeader() error {
	var hcrc checksum.CRC32

	fixed := make([]byte, 10)
	if _, err := io.ReadFull(gr.src, fixed); err != nil {
		return wrapSourceErr(err)
	}
	hcrc.Write(fixed)

	if fixed[0] != magic1 || fixed[1] != magic2 {
		return &flate.Error{Kind: flate.ErrInvalidMagic, Offset: 0}
	}
	if fixed[2] != cmDeflate {
		return &flate.Error{Kind: flate.ErrUnsupportedMethod, Offset: 2}
	}
	flg := fixed[3]
	mtime := binary.LittleEndian.Uint32(fixed[4:8])
	gr.Header.ModTime = time.Unix(int64(mtime), 0)
	gr.Header.OS = fixed[9]

	if flg&flagExtra != 0 {
		lenBuf := make([]byte, 2)
		if _, err := io.ReadFull(gr.src, lenBuf); err != nil {
			return wrapSourceErr(err)
		}
		hcrc.Write(lenBuf)
		xlen := binary.LittleEndian.Uint16(lenBuf)
		extra := make([]byte, xlen)
		if _, err := io.ReadFull(gr.src, extra); err != nil {
			return wrapSourceErr(err)
		}
		hcrc.Write(extra)
		gr.Header.Extra = extra
	}
	if flg&flagName != 0 {
		s, err := readCString(gr.src, &hcrc)
		if err != nil {
			return err
		}
		gr.Header.Name = s
	}
	if flg&flagComment != 0 {
		s, err := readCString(gr.src, &hcrc)
		if err != nil {
			return err
		}
		gr.Header.Comment = s
	}
	if flg&flagHCRC != 0 {
		want := make([]byte, 2)
		if _, err := io.ReadFull(gr.src, want); err != nil {
			return wrapSourceErr(err)
		}
		got := uint16(hcrc.Sum32())
		if binary.LittleEndian.Uint16(want) != got {
			return &flate.Error{Kind: flate.ErrHeaderChecksum, Offset: -1}
		}
	}
	return nil
}

// readCString reads a NUL-terminated byte string one byte at a time,
// feeding every byte read (including the terminator) into the running
// header checksum.
func readCString(r io.Reader, hcrc *checksum.CRC32) (string, error) {
	var b [1]byte
	var out []byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", wrapSourceErr(err)
		}
		hcrc.Write(b[:])
		if b[0] == 0 {
			break
		}
		out = append(out, b[0])
	}
	return string(out), nil
}

func wrapSourceErr(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return &flate.Error{Kind: flate.ErrUnexpectedEOF, Offset: -1}
	}
	return fmt.Errorf("gzip: reading header: %w", err)
}

// Read implements io.Reader, decompressing the member body and verifying
// the trailer once the DEFLATE stream signals StatusStreamEnd.
func (gr *Reader) Read(p []byte) (int, error) {
	if gr.err != nil {
		return 0, gr.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(p) {
		n, status, err := gr.dec.Decode(p[total:])
		if n > 0 {
			gr.crc.Write(p[total : total+n])
			gr.size += uint32(n)
			total += n
		}
		if err != nil {
			gr.err = err
			return total, errOrNil(total, gr.err)
		}
		switch status {
		case flate.StatusOutputFull:
			return total, nil
		case flate.StatusNeedInput:
			m, rerr := gr.src.Read(gr.rawBuf[:])
			if m > 0 {
				gr.dec.Feed(gr.rawBuf[:m])
				continue
			}
			if rerr == io.EOF {
				gr.err = &flate.Error{Kind: flate.ErrUnexpectedEOF, Offset: -1}
			} else {
				gr.err = fmt.Errorf("gzip: reading body: %w", rerr)
			}
			return total, errOrNil(total, gr.err)
		case flate.StatusStreamEnd:
			if err := gr.verifyTrailer(gr.dec.DrainPending()); err != nil {
				gr.err = err
				return total, errOrNil(total, gr.err)
			}
			gr.err = io.EOF
			return total, errOrNil(total, gr.err)
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

// verifyTrailer reads the 8-byte CRC-32/ISIZE trailer and checks it against
// what was actually decompressed. pending is whatever DrainPending already
// recovered from the decoder's own buffering: gr.src's underlying Read
// calls happen in 4096-byte chunks (gr.rawBuf), so a single Read commonly
// returns the deflate stream's remaining bytes and the trailer together,
// which dec.Feed hands to the decoder as one span. Once the decoder reports
// StatusStreamEnd those trailer bytes are sitting unconsumed inside it, not
// in gr.src, so pending is consulted before falling back to a further read.
func (gr *Reader) verifyTrailer(pending []byte) error {
	trailer := make([]byte, 8)
	n := copy(trailer, pending)
	if n < len(trailer) {
		if _, err := io.ReadFull(gr.src, trailer[n:]); err != nil {
			return wrapSourceErr(err)
		}
	}
	wantCRC := binary.LittleEndian.Uint32(trailer[0:4])
	wantSize := binary.LittleEndian.Uint32(trailer[4:8])
	if wantCRC != gr.crc.Sum32() || wantSize != gr.size {
		return &flate.Error{Kind: flate.ErrChecksumMismatch, Offset: -1}
	}
	return nil
}
