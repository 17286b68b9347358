// Package bitstream reads and writes LSB-first bit streams and the
// variable-length integer codec used by GCInfo blobs.
package bitstream

import (
	"errors"
	"fmt"
)

var (
	// ErrUnexpectedEnd is returned when a read runs past the readable region.
	ErrUnexpectedEnd = errors.New("bitstream: unexpected end of data")

	// ErrOverflow is returned when a variable-length value exceeds 32 bits.
	ErrOverflow = errors.New("bitstream: varint overflow")

	// ErrWidth is returned for a field width outside [0, 32].
	ErrWidth = errors.New("bitstream: invalid field width")
)

// MaxFieldBits is the widest field a single read may return.
const MaxFieldBits = 32

// Reader is a bit cursor over an immutable byte slice. Bit k of the stream is
// bit k%8 of byte k/8. The zero value reads nothing.
//
// Reader is a small value type; copying it forks the cursor, which is how
// callers re-enter the stream at a recorded offset without disturbing the
// main decode position.
type Reader struct {
	data  []byte
	pos   int
	limit int
}

// NewReader creates a Reader over data. maxBytes caps the readable region
// when data is larger than any plausible blob; zero or negative means no cap.
func NewReader(data []byte, maxBytes int) Reader {
	n := len(data)
	if maxBytes > 0 && n > maxBytes {
		n = maxBytes
	}
	return Reader{data: data[:n], limit: n * 8}
}

// Position returns the current bit position.
func (r *Reader) Position() int {
	return r.pos
}

// Len returns the number of readable bits.
func (r *Reader) Len() int {
	return r.limit
}

// Remaining returns the number of bits left after the cursor.
func (r *Reader) Remaining() int {
	return r.limit - r.pos
}

// Seek moves the cursor to an absolute bit position.
func (r *Reader) Seek(pos int) error {
	if pos < 0 || pos > r.limit {
		return r.wrapError(pos, ErrUnexpectedEnd)
	}
	r.pos = pos
	return nil
}

// Skip advances the cursor by n bits.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > r.limit {
		return r.wrapError(r.pos, ErrUnexpectedEnd)
	}
	r.pos += n
	return nil
}

// ReadBits reads an n-bit field at the cursor and advances past it.
func (r *Reader) ReadBits(n int) (uint32, error) {
	v, err := r.PeekBitsAt(r.pos, n)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

// ReadBit reads a single bit as a bool.
func (r *Reader) ReadBit() (bool, error) {
	v, err := r.ReadBits(1)
	return v != 0, err
}

// PeekBitsAt reads an n-bit field at absolute position pos without moving
// the cursor.
func (r *Reader) PeekBitsAt(pos, n int) (uint32, error) {
	if n < 0 || n > MaxFieldBits {
		return 0, r.wrapError(pos, ErrWidth)
	}
	if n == 0 {
		return 0, nil
	}
	if pos < 0 || pos+n > r.limit {
		return 0, r.wrapError(pos, ErrUnexpectedEnd)
	}

	// 32 bits starting at any bit offset span at most 5 bytes.
	first := pos >> 3
	last := (pos + n - 1) >> 3
	var word uint64
	for i := last; i >= first; i-- {
		word = word<<8 | uint64(r.data[i])
	}
	word >>= uint(pos & 7)
	return uint32(word & (1<<uint(n) - 1)), nil
}

func (r *Reader) wrapError(pos int, err error) error {
	return fmt.Errorf("at bit %d: %w", pos, err)
}
