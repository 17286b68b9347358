package bitstream

import "math/bits"

// MaxBase is the largest chunk payload width accepted by the varint codec.
const MaxBase = MaxFieldBits - 1

// ReadVarUint decodes an unsigned variable-length integer with chunk payload
// width base.
//
// Each chunk is base+1 bits: base payload bits and a continuation bit on top.
// A single chunk with a clear continuation bit is its own value. Otherwise the
// accumulator starts as the whole first chunk, continuation bit included, and
// every following chunk XORs its payload in at shift base, 2*base, and so on
// until a chunk arrives with its continuation bit clear. A payload whose set
// bits would land past bit 31 fails with ErrOverflow.
func (r *Reader) ReadVarUint(base int) (uint32, error) {
	if base < 1 || base > MaxBase {
		return 0, r.wrapError(r.pos, ErrWidth)
	}
	start := r.pos
	cont := uint32(1) << uint(base)
	mask := cont - 1

	chunk, err := r.ReadBits(base + 1)
	if err != nil {
		return 0, err
	}
	if chunk&cont == 0 {
		return chunk, nil
	}

	acc := chunk
	for shift := base; ; shift += base {
		if shift >= 32 {
			r.pos = start
			return 0, r.wrapError(start, ErrOverflow)
		}
		chunk, err = r.ReadBits(base + 1)
		if err != nil {
			r.pos = start
			return 0, err
		}
		payload := chunk & mask
		if shift+bits.Len32(payload) > 32 {
			r.pos = start
			return 0, r.wrapError(start, ErrOverflow)
		}
		acc ^= payload << uint(shift)
		if chunk&cont == 0 {
			return acc, nil
		}
	}
}

// ReadVarInt decodes a zigzag-mapped signed variable-length integer.
func (r *Reader) ReadVarInt(base int) (int32, error) {
	u, err := r.ReadVarUint(base)
	if err != nil {
		return 0, err
	}
	return UnZigZag(u), nil
}

// ZigZag maps a signed value to an unsigned one: 0, -1, 1, -2 -> 0, 1, 2, 3.
func ZigZag(v int32) uint32 {
	return uint32(v<<1) ^ uint32(v>>31)
}

// UnZigZag inverts ZigZag.
func UnZigZag(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

// VarUintChunks returns how many chunks WriteVarUint emits for v.
func VarUintChunks(v uint32, base int) int {
	n := 1
	for v >>= uint(base); v != 0; v >>= uint(base) {
		n++
	}
	return n
}
