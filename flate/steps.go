package flate

import "github.com/tinyworks/tinflate/huffman"

// Each doX method attempts to make progress from engine state X. It returns
// false when it could not (either it needs more input bits than the span
// currently holds, or it hit a fatal error, distinguished by d.err being
// non-nil). A true return always means the state advanced or output grew;
// the caller's loop in Decode re-evaluates from the top.

func (d *Decoder) doHead() bool {
	if !d.br.Ensure(16) {
		return false
	}
	v := d.br.Peek(16)
	d.br.Consume(16)
	cmf := byte(v)
	flg := byte(v >> 8)

	if cmf&0x0F != 8 {
		d.fail(ErrUnsupportedMethod)
		return false
	}
	cinfo := cmf >> 4
	if cinfo > 7 {
		d.fail(ErrUnsupportedFlags)
		return false
	}
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		d.fail(ErrHeaderChecksum)
		return false
	}

	d.windowBits = int(cinfo) + 8
	if d.windowBits < 9 {
		d.windowBits = 9 // windows below 512 bytes are raised to 512
	}
	d.ensureWindow()

	if flg&0x20 != 0 {
		d.needDictionary = true
		d.state = stateDictID
	} else {
		d.state = stateType
	}
	return true
}

func (d *Decoder) doDictID() bool {
	if !d.br.Ensure(32) {
		return false
	}
	v := uint32(d.br.Peek(32))
	d.br.Consume(32)
	// DICTID is transmitted most-significant byte first; the first byte
	// pulled occupies the accumulator's low bits, so it is the MSB.
	b0, b1, b2, b3 := byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	d.dictID = uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
	d.state = stateNeedDict
	return true
}

func (d *Decoder) doType() bool {
	if !d.br.Ensure(3) {
		return false
	}
	v := d.br.Peek(3)
	d.br.Consume(3)
	d.final = v&1 == 1
	switch (v >> 1) & 0x3 {
	case 0:
		d.state = stateStored
	case 1:
		d.litTable, d.distTable = fixedTables()
		d.state = stateLen
	case 2:
		d.state = stateTable
	default:
		d.fail(ErrInvalidBlockType)
		return false
	}
	return true
}

// blockDone transitions out of a just-finished block, honoring BFINAL: the
// zlib trailer follows the final block directly, raw streams simply end.
func (d *Decoder) blockDone() {
	if !d.final {
		d.state = stateType
		return
	}
	if d.mode == ModeZlib {
		d.state = stateCheck
	} else {
		d.state = stateDone
	}
}

func (d *Decoder) doStored() bool {
	d.br.AlignToByte()
	if !d.br.Ensure(32) {
		return false
	}
	raw := d.br.Peek(32)
	d.br.Consume(32)
	length := raw & 0xFFFF
	nlength := (raw >> 16) & 0xFFFF
	if length != (^nlength)&0xFFFF {
		d.fail(ErrInvalidStoredLength)
		return false
	}
	d.storedRemaining = int(length)
	d.state = stateCopy
	return true
}

func (d *Decoder) doCopy(out []byte, n *int) bool {
	advanced := false
	for d.storedRemaining > 0 && *n < len(out) {
		b, ok := d.br.DrainByte()
		if !ok {
			b, ok = d.span.TakeByte()
		}
		if !ok {
			break
		}
		out[*n] = b
		(*n)++
		d.storedRemaining--
		advanced = true
	}
	if d.storedRemaining == 0 {
		d.blockDone()
	}
	return advanced
}

func (d *Decoder) doTable() bool {
	if !d.br.Ensure(14) {
		return false
	}
	v := d.br.Peek(14)
	d.br.Consume(14)
	d.nlit = int(v&0x1F) + 257
	d.ndist = int((v>>5)&0x1F) + 1
	d.ncode = int((v>>10)&0xF) + 4
	for i := range d.codeLenRaw {
		d.codeLenRaw[i] = 0
	}
	d.clIdx = 0
	d.state = stateLenLens
	return true
}

func (d *Decoder) doLenLens() bool {
	for d.clIdx < d.ncode {
		if !d.br.Ensure(3) {
			return false
		}
		v := d.br.Peek(3)
		d.br.Consume(3)
		d.codeLenRaw[codeLenOrder[d.clIdx]] = int(v)
		d.clIdx++
	}
	tbl, err := huffman.Build(d.codeLenRaw[:numCodeLenCodes])
	if err != nil {
		d.fail(ErrInvalidCodeSet)
		return false
	}
	d.codeLenTable = tbl
	d.lens = make([]int, d.nlit+d.ndist)
	d.lensFill = 0
	d.prevLen = 0
	d.clPending = -1
	d.state = stateCodeLens
	return true
}

func (d *Decoder) doCodeLens() bool {
	total := d.nlit + d.ndist
	for d.lensFill < total {
		if d.clPending < 0 {
			sym, ok := d.codeLenTable.Decode(d.br)
			if !ok {
				return false
			}
			d.clPending = sym
		}
		sym := d.clPending
		switch {
		case sym <= 15:
			d.lens[d.lensFill] = sym
			d.lensFill++
			d.prevLen = sym
			d.clPending = -1

		case sym == 16:
			if !d.br.Ensure(2) {
				return false
			}
			rep := int(d.br.Peek(2)) + 3
			if d.lensFill == 0 {
				d.fail(ErrInvalidRepeatPrefix)
				return false
			}
			if d.lensFill+rep > total {
				d.fail(ErrInvalidCodeSet)
				return false
			}
			d.br.Consume(2)
			for i := 0; i < rep; i++ {
				d.lens[d.lensFill] = d.prevLen
				d.lensFill++
			}
			d.clPending = -1

		case sym == 17:
			if !d.br.Ensure(3) {
				return false
			}
			rep := int(d.br.Peek(3)) + 3
			if d.lensFill+rep > total {
				d.fail(ErrInvalidCodeSet)
				return false
			}
			d.br.Consume(3)
			for i := 0; i < rep; i++ {
				d.lens[d.lensFill] = 0
				d.lensFill++
			}
			d.prevLen = 0
			d.clPending = -1

		case sym == 18:
			if !d.br.Ensure(7) {
				return false
			}
			rep := int(d.br.Peek(7)) + 11
			if d.lensFill+rep > total {
				d.fail(ErrInvalidCodeSet)
				return false
			}
			d.br.Consume(7)
			for i := 0; i < rep; i++ {
				d.lens[d.lensFill] = 0
				d.lensFill++
			}
			d.prevLen = 0
			d.clPending = -1

		default:
			d.fail(ErrInvalidCodeSet)
			return false
		}
	}

	lit, err := huffman.Build(d.lens[:d.nlit])
	if err != nil {
		d.fail(ErrInvalidCodeSet)
		return false
	}
	dist, err := huffman.Build(d.lens[d.nlit:])
	if err != nil {
		d.fail(ErrInvalidCodeSet)
		return false
	}
	d.litTable, d.distTable = lit, dist
	d.lens = nil
	d.state = stateLen
	return true
}

func (d *Decoder) doLen(out []byte, n *int) bool {
	sym, ok := d.litTable.Decode(d.br)
	if !ok {
		return false
	}
	switch {
	case sym < 256:
		out[*n] = byte(sym)
		(*n)++
		return true
	case sym == endOfBlock:
		d.litTable, d.distTable = nil, nil
		d.blockDone()
		return true
	default:
		idx := sym - 257
		if idx < 0 || idx >= len(lenBase) {
			d.fail(ErrInvalidLengthCode)
			return false
		}
		d.length = lenBase[idx]
		d.extraNeeded = lenExtra[idx]
		d.state = stateLenExt
		return true
	}
}

func (d *Decoder) doLenExt() bool {
	if d.extraNeeded == 0 {
		d.state = stateDist
		return true
	}
	if !d.br.Ensure(d.extraNeeded) {
		return false
	}
	extra := d.br.Peek(d.extraNeeded)
	d.br.Consume(d.extraNeeded)
	d.length += int(extra)
	d.state = stateDist
	return true
}

func (d *Decoder) doDist() bool {
	if d.distTable == nil || d.distTable.Empty() {
		d.fail(ErrInvalidDistanceCode)
		return false
	}
	sym, ok := d.distTable.Decode(d.br)
	if !ok {
		return false
	}
	if sym < 0 || sym >= len(distBase) {
		d.fail(ErrInvalidDistanceCode)
		return false
	}
	d.distance = distBase[sym]
	d.extraNeeded = distExtra[sym]
	d.state = stateDistExt
	return true
}

func (d *Decoder) doDistExt() bool {
	if d.extraNeeded == 0 {
		d.state = stateMatch
		return true
	}
	if !d.br.Ensure(d.extraNeeded) {
		return false
	}
	extra := d.br.Peek(d.extraNeeded)
	d.br.Consume(d.extraNeeded)
	d.distance += int(extra)
	d.state = stateMatch
	return true
}

func (d *Decoder) doMatch(out []byte, n *int) bool {
	copied, err := d.win.CopyBack(out, *n, d.distance, d.length)
	if err != nil {
		d.fail(ErrDistanceTooFar)
		return false
	}
	*n += copied
	d.length -= copied
	if d.length == 0 {
		d.state = stateLen
	}
	return true
}

func (d *Decoder) doCheck() bool {
	// The trailer starts on the byte boundary after the final block.
	d.br.AlignToByte()
	if !d.br.Ensure(32) {
		return false
	}
	v := uint32(d.br.Peek(32))
	d.br.Consume(32)
	b0, b1, b2, b3 := byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	want := uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
	var got uint32
	if d.adler != nil {
		got = d.adler.Sum32()
	}
	if want != got {
		d.fail(ErrChecksumMismatch)
		return false
	}
	d.state = stateDone
	return true
}
