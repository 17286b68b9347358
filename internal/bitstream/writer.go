package bitstream

// Writer accumulates an LSB-first bit stream. It is the inverse of Reader and
// exists to build fixtures; nothing in the decode path writes.
type Writer struct {
	buf []byte
	n   int
}

// NewWriter creates a new Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the written bytes; a trailing partial byte is zero padded.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bits written.
func (w *Writer) Len() int {
	return w.n
}

// WriteBits appends the low n bits of v.
func (w *Writer) WriteBits(v uint32, n int) {
	for i := 0; i < n; i++ {
		if w.n&7 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 != 0 {
			w.buf[w.n>>3] |= 1 << uint(w.n&7)
		}
		w.n++
	}
}

// WriteBit appends a single bit.
func (w *Writer) WriteBit(b bool) {
	if b {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
}

// WriteVarUint appends v so that ReadVarUint(base) returns it.
func (w *Writer) WriteVarUint(v uint32, base int) {
	cont := uint32(1) << uint(base)
	mask := cont - 1
	if v < cont {
		w.WriteBits(v, base+1)
		return
	}

	w.WriteBits(v&mask|cont, base+1)
	v >>= uint(base)
	// The reader keeps the first continuation bit in its accumulator, where
	// it lands on bit 0 of the second payload.
	chunk := (v & mask) ^ 1
	for {
		v >>= uint(base)
		if v == 0 {
			w.WriteBits(chunk, base+1)
			return
		}
		w.WriteBits(chunk|cont, base+1)
		chunk = v & mask
	}
}

// WriteVarInt appends a zigzag-mapped signed value.
func (w *Writer) WriteVarInt(v int32, base int) {
	w.WriteVarUint(ZigZag(v), base)
}

// Pad appends zero bits until the stream is n bits long.
func (w *Writer) Pad(n int) {
	for w.n < n {
		w.WriteBits(0, 1)
	}
}

// Append appends every bit written to o.
func (w *Writer) Append(o *Writer) {
	for i := 0; i < o.n; i++ {
		w.WriteBits(uint32(o.buf[i>>3]>>uint(i&7))&1, 1)
	}
}
