package bitstream

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderReadBitsLSBFirst(t *testing.T) {
	// 0xB5 = 1011_0101, 0x3C = 0011_1100
	r := NewReader([]byte{0xB5, 0x3C}, 0)

	tests := []struct {
		n    int
		want uint32
		pos  int
	}{
		{1, 1, 1},
		{1, 0, 2},
		{3, 0b101, 5}, // bits 2..4 of 0xB5
		{6, 0b100101, 11},
		{5, 0b00111, 16},
	}

	for _, tt := range tests {
		got, err := r.ReadBits(tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "ReadBits(%d)", tt.n)
		assert.Equal(t, tt.pos, r.Position())
	}

	_, err := r.ReadBits(1)
	require.ErrorIs(t, err, ErrUnexpectedEnd)
	assert.Equal(t, 16, r.Position(), "failed read must not move the cursor")
}

func TestReaderReadBitsFullWidth(t *testing.T) {
	data := []byte{0xFF, 0x78, 0x56, 0x34, 0x12}
	r := NewReader(data, 0)
	require.NoError(t, r.Skip(8))

	got, err := r.ReadBits(32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), got)

	// Unaligned 32-bit read spanning five bytes.
	got, err = r.PeekBitsAt(4, 32)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x2345678F), got)
}

func TestReaderPeekDoesNotMove(t *testing.T) {
	r := NewReader([]byte{0xF0, 0x0F}, 0)
	require.NoError(t, r.Skip(3))

	v, err := r.PeekBitsAt(4, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFF), v)
	assert.Equal(t, 3, r.Position())

	_, err = r.PeekBitsAt(10, 8)
	assert.ErrorIs(t, err, ErrUnexpectedEnd)

	_, err = r.PeekBitsAt(0, 33)
	assert.ErrorIs(t, err, ErrWidth)

	v, err = r.PeekBitsAt(16, 0)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestReaderSeekSkip(t *testing.T) {
	r := NewReader(make([]byte, 4), 0)
	assert.Equal(t, 32, r.Len())

	require.NoError(t, r.Seek(20))
	assert.Equal(t, 12, r.Remaining())
	require.NoError(t, r.Skip(12))
	assert.Error(t, r.Skip(1))
	assert.Error(t, r.Seek(33))
	assert.Error(t, r.Seek(-1))
}

func TestReaderMaxBytes(t *testing.T) {
	r := NewReader(make([]byte, 100), 8)
	assert.Equal(t, 64, r.Len())
	_, err := r.PeekBitsAt(60, 8)
	assert.ErrorIs(t, err, ErrUnexpectedEnd)
}

func TestReaderCopyForksCursor(t *testing.T) {
	r := NewReader([]byte{0xAA, 0x55}, 0)
	require.NoError(t, r.Skip(4))

	fork := r
	require.NoError(t, fork.Seek(8))
	_, err := fork.ReadBits(8)
	require.NoError(t, err)

	assert.Equal(t, 4, r.Position())
	assert.Equal(t, 16, fork.Position())
}

func TestWriterRoundTripBits(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b101, 3)
	w.WriteBit(true)
	w.WriteBits(0xABCDE, 20)
	w.WriteBits(0xFFFFFFFF, 32)
	assert.Equal(t, 56, w.Len())

	r := NewReader(w.Bytes(), 0)
	v, _ := r.ReadBits(3)
	assert.Equal(t, uint32(0b101), v)
	b, _ := r.ReadBit()
	assert.True(t, b)
	v, _ = r.ReadBits(20)
	assert.Equal(t, uint32(0xABCDE), v)
	v, _ = r.ReadBits(32)
	assert.Equal(t, uint32(0xFFFFFFFF), v)
}

func TestReadVarUintSingleChunk(t *testing.T) {
	// base 2: 3-bit chunks, continuation in bit 2.
	w := NewWriter()
	w.WriteBits(0b011, 3)
	r := NewReader(w.Bytes(), 0)

	v, err := r.ReadVarUint(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), v)
	assert.Equal(t, 3, r.Position())
}

func TestReadVarUintXORChaining(t *testing.T) {
	// base 2, chunks (low bits first): 0b1_10, 0b1_11, 0b0_01
	// acc = 0b110; acc ^= 0b11<<2; acc ^= 0b01<<4
	w := NewWriter()
	w.WriteBits(0b110, 3)
	w.WriteBits(0b111, 3)
	w.WriteBits(0b001, 3)
	r := NewReader(w.Bytes(), 0)

	v, err := r.ReadVarUint(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b110^(0b11<<2)^(0b01<<4)), v)
	assert.Equal(t, uint32(0b011010), v)
	assert.Equal(t, 9, r.Position())
}

func TestVarUintRoundTrip(t *testing.T) {
	bases := []int{1, 2, 3, 4, 5, 6, 8}

	for _, base := range bases {
		limit := uint64(1) << uint(4*base)
		if limit > 1<<32 {
			limit = 1 << 32
		}

		values := []uint32{0, 1, uint32(1)<<uint(base) - 1, uint32(1) << uint(base)}
		for chunks := 2; chunks <= 4; chunks++ {
			lo := uint32(1) << uint((chunks-1)*base)
			hi := uint64(1)<<uint(chunks*base) - 1
			if hi > 0xFFFFFFFF {
				hi = 0xFFFFFFFF
			}
			values = append(values, lo, uint32(hi), uint32((uint64(lo)+hi)/2))
		}

		f := gofakeit.New(int64(base))
		for i := 0; i < 200; i++ {
			values = append(values, uint32(uint64(f.Uint32())%limit))
		}

		for _, v := range values {
			w := NewWriter()
			w.WriteVarUint(v, base)
			assert.Equal(t, VarUintChunks(v, base)*(base+1), w.Len(), "base %d value %d", base, v)

			r := NewReader(w.Bytes(), 0)
			got, err := r.ReadVarUint(base)
			require.NoError(t, err, "base %d value %d", base, v)
			assert.Equal(t, v, got, "base %d", base)
			assert.Equal(t, w.Len(), r.Position())
		}
	}
}

func TestVarUintChunkCounts(t *testing.T) {
	assert.Equal(t, 1, VarUintChunks(0, 3))
	assert.Equal(t, 1, VarUintChunks(7, 3))
	assert.Equal(t, 2, VarUintChunks(8, 3))
	assert.Equal(t, 3, VarUintChunks(64, 3))
	assert.Equal(t, 4, VarUintChunks(0xFFFFFFFF, 8))
}

func TestVarUintFullRange(t *testing.T) {
	for _, base := range []int{1, 3, 8} {
		w := NewWriter()
		w.WriteVarUint(0xFFFFFFFF, base)
		r := NewReader(w.Bytes(), 0)
		got, err := r.ReadVarUint(base)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xFFFFFFFF), got)
	}
}

func TestVarUintOverflow(t *testing.T) {
	// base 8 allows payloads at shifts 8, 16, 24; a fifth chunk overflows.
	w := NewWriter()
	for i := 0; i < 5; i++ {
		w.WriteBits(0x1FF, 9)
	}
	w.WriteBits(0, 9)

	r := NewReader(w.Bytes(), 0)
	_, err := r.ReadVarUint(8)
	require.ErrorIs(t, err, ErrOverflow)
	assert.Zero(t, r.Position())
}

func TestVarUintOverflowHighBits(t *testing.T) {
	tests := []struct {
		name string
		base int
		last uint32
	}{
		// base 6: fifth payload lands at shift 30, two bits remain.
		{"base 6 full payload", 6, 0x3F},
		{"base 6 third bit", 6, 0x04},
		// base 3: eleventh payload lands at shift 30.
		{"base 3 third bit", 3, 0x4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cont := uint32(1) << uint(tt.base)
			w := NewWriter()
			w.WriteBits(cont, tt.base+1)
			for shift := tt.base; shift+tt.base < 32; shift += tt.base {
				w.WriteBits(cont, tt.base+1)
			}
			w.WriteBits(tt.last, tt.base+1)

			r := NewReader(w.Bytes(), 0)
			_, err := r.ReadVarUint(tt.base)
			require.ErrorIs(t, err, ErrOverflow)
			assert.Zero(t, r.Position())
		})
	}
}

func TestVarUintTopChunkFits(t *testing.T) {
	// Payload bits that stay below bit 32 at the last shift are accepted.
	w := NewWriter()
	w.WriteVarUint(0xFFFFFFFF, 6)
	w.WriteVarUint(1<<31, 2)

	r := NewReader(w.Bytes(), 0)
	v, err := r.ReadVarUint(6)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), v)
	v, err = r.ReadVarUint(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<31), v)
}

func TestVarUintTruncated(t *testing.T) {
	w := NewWriter()
	w.WriteBits(0b1_111, 4) // continuation set, stream ends
	r := NewReader(w.Bytes(), 0)
	r.limit = 4

	_, err := r.ReadVarUint(3)
	require.ErrorIs(t, err, ErrUnexpectedEnd)
	assert.Zero(t, r.Position())
}

func TestVarUintInvalidBase(t *testing.T) {
	r := NewReader([]byte{0}, 0)
	_, err := r.ReadVarUint(0)
	assert.ErrorIs(t, err, ErrWidth)
	_, err = r.ReadVarUint(32)
	assert.ErrorIs(t, err, ErrWidth)
}

func TestZigZag(t *testing.T) {
	assert.Equal(t, uint32(0), ZigZag(0))
	assert.Equal(t, uint32(1), ZigZag(-1))
	assert.Equal(t, uint32(2), ZigZag(1))
	assert.Equal(t, uint32(3), ZigZag(-2))

	for x := int32(-1000); x <= 1000; x++ {
		require.Equal(t, x, UnZigZag(ZigZag(x)))
	}
	assert.Equal(t, int32(-2147483648), UnZigZag(ZigZag(-2147483648)))
	assert.Equal(t, int32(2147483647), UnZigZag(ZigZag(2147483647)))
}

func TestVarIntRoundTrip(t *testing.T) {
	f := gofakeit.New(6)
	values := []int32{0, -1, 1, -32, 31, -33, 32, -4096}
	for i := 0; i < 100; i++ {
		values = append(values, int32(f.Number(-100000, 100000)))
	}

	for _, v := range values {
		w := NewWriter()
		w.WriteVarInt(v, 6)
		r := NewReader(w.Bytes(), 0)
		got, err := r.ReadVarInt(6)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestWriterAppend(t *testing.T) {
	a := NewWriter()
	a.WriteBits(0b101, 3)
	b := NewWriter()
	b.WriteBits(0x3FF, 10)
	b.WriteBit(false)
	b.WriteBit(true)

	a.Append(b)
	a.Append(NewWriter())
	assert.Equal(t, 15, a.Len())

	r := NewReader(a.Bytes(), 0)
	v, err := r.ReadBits(15)
	require.NoError(t, err)
	assert.Equal(t, uint32(0b1_0_1111111111_101), v)
}
