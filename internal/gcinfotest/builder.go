// Package gcinfotest builds GCInfo blobs and unwind records for tests.
//
// Builders panic on inputs the format cannot express; fixtures are written
// by hand and a panic points straight at the bad fixture.
package gcinfotest

import (
	"fmt"
	"math/bits"

	"github.com/wippyai/gcinfo/internal/bitstream"
)

// Register describes a register slot.
type Register struct {
	Number   uint32
	Interior bool
	Pinned   bool
}

// StackSlot describes a stack slot. Offset is in bytes and must be a
// non-negative multiple of 8. Base uses the stream numbering: 0 caller SP,
// 1 SP, 2 frame register.
type StackSlot struct {
	Base     uint32
	Offset   int32
	Interior bool
	Pinned   bool
}

// Range is a half-open interruptible code range.
type Range struct {
	Start uint32
	Stop  uint32
}

// Blob describes a GCInfo blob. Fields that only a fat header can carry
// panic when Fat is false.
type Blob struct {
	Fat bool

	HasGSCookie  bool
	PrologSize   uint32
	EpilogSize   uint32
	GSCookieSlot int32

	GenericsKind        uint32
	GenericsContextSlot int32

	HasStackBaseRegister bool
	StackBaseRegister    uint32

	ReportOnlyLeaf bool

	HasEditAndContinue  bool
	EditAndContinueArea uint32

	HasReversePInvoke  bool
	ReversePInvokeSlot int32

	StackAreaSize uint32

	CodeLength uint32
	SafePoints []uint32
	Ranges     []Range

	Registers  []Register
	StackSlots []StackSlot
	Untracked  []StackSlot

	// Live holds one vector per safe point over the tracked slots,
	// registers first. A nil Live means nothing is live anywhere.
	Live [][]bool
	// Direct selects the direct live-state layout.
	Direct bool
	// PointerWidth forces the indirect pointer entry width; zero picks the
	// narrowest width that fits.
	PointerWidth int
}

// Bytes encodes b.
func (b *Blob) Bytes() []byte {
	return b.Writer().Bytes()
}

// Writer encodes b and returns the writer, so tests can append trailing
// bits or inspect the length.
func (b *Blob) Writer() *bitstream.Writer {
	w := bitstream.NewWriter()
	b.writeHeader(w)
	b.writeSafePoints(w)
	b.writeRanges(w)
	b.writeCounts(w)
	writeRegisters(w, b.Registers)
	writeStackSlots(w, b.StackSlots)
	writeStackSlots(w, b.Untracked)
	b.writeLiveness(w)
	return w
}

// NumTracked returns the number of tracked slots.
func (b *Blob) NumTracked() int {
	return len(b.Registers) + len(b.StackSlots)
}

func (b *Blob) writeHeader(w *bitstream.Writer) {
	w.WriteBit(b.Fat)
	if b.Fat {
		var flags uint32
		if b.HasGSCookie {
			flags |= 1 << 2
		}
		flags |= (b.GenericsKind & 3) << 4
		if b.HasStackBaseRegister {
			flags |= 1 << 6
		}
		if b.ReportOnlyLeaf {
			flags |= 1 << 7
		}
		if b.HasEditAndContinue {
			flags |= 1 << 8
		}
		if b.HasReversePInvoke {
			flags |= 1 << 9
		}
		w.WriteBits(flags, 10)
	} else {
		if b.HasGSCookie || b.GenericsKind != 0 || b.ReportOnlyLeaf || b.HasEditAndContinue ||
			b.HasReversePInvoke || b.StackAreaSize != 0 || len(b.Ranges) != 0 {
			panic("gcinfotest: slim header cannot carry fat-only fields")
		}
		w.WriteBit(b.HasStackBaseRegister)
	}

	w.WriteVarUint(b.CodeLength, 8)

	if b.HasGSCookie {
		if b.PrologSize == 0 {
			panic("gcinfotest: GS cookie needs a non-zero prolog size")
		}
		w.WriteVarUint(b.PrologSize-1, 5)
		w.WriteVarUint(b.EpilogSize, 3)
		w.WriteVarInt(normalize(b.GSCookieSlot), 6)
	}
	if b.GenericsKind != 0 {
		w.WriteVarInt(normalize(b.GenericsContextSlot), 6)
	}
	if b.HasStackBaseRegister && b.Fat {
		w.WriteVarUint(b.StackBaseRegister^5, 3)
	}
	if b.HasEditAndContinue {
		w.WriteVarUint(uint32(normalize(int32(b.EditAndContinueArea))), 4)
	}
	if b.HasReversePInvoke {
		w.WriteVarInt(normalize(b.ReversePInvokeSlot), 6)
	}
	if b.Fat {
		w.WriteVarUint(uint32(normalize(int32(b.StackAreaSize))), 3)
	}

	w.WriteVarUint(uint32(len(b.SafePoints)), 2)
	if b.Fat {
		w.WriteVarUint(uint32(len(b.Ranges)), 1)
	}
}

func (b *Blob) writeSafePoints(w *bitstream.Writer) {
	width := SafePointWidth(b.CodeLength)
	for _, off := range b.SafePoints {
		w.WriteBits(off, width)
	}
}

func (b *Blob) writeRanges(w *bitstream.Writer) {
	var lastStop uint32
	for _, r := range b.Ranges {
		if r.Start < lastStop || r.Stop <= r.Start {
			panic(fmt.Sprintf("gcinfotest: bad interruptible range %+v", r))
		}
		w.WriteVarUint(r.Start-lastStop, 6)
		w.WriteVarUint(r.Stop-r.Start-1, 6)
		lastStop = r.Stop
	}
}

func (b *Blob) writeCounts(w *bitstream.Writer) {
	if len(b.Registers) > 0 {
		w.WriteBit(true)
		w.WriteVarUint(uint32(len(b.Registers)), 2)
	} else {
		w.WriteBit(false)
	}
	if len(b.StackSlots) > 0 || len(b.Untracked) > 0 {
		w.WriteBit(true)
		w.WriteVarUint(uint32(len(b.StackSlots)), 2)
		w.WriteVarUint(uint32(len(b.Untracked)), 1)
	} else {
		w.WriteBit(false)
	}
}

func flagBits(interior, pinned bool) uint32 {
	var f uint32
	if interior {
		f |= 1
	}
	if pinned {
		f |= 2
	}
	return f
}

// writeRegisters picks the delta form whenever the previous slot had no
// flags, as the decoder expects.
func writeRegisters(w *bitstream.Writer, regs []Register) {
	var prev Register
	for i, r := range regs {
		flags := flagBits(r.Interior, r.Pinned)
		if i == 0 || flagBits(prev.Interior, prev.Pinned) != 0 {
			w.WriteVarUint(r.Number, 3)
			w.WriteBits(flags, 2)
		} else {
			if flags != 0 || r.Number <= prev.Number {
				panic(fmt.Sprintf("gcinfotest: register %d cannot be delta coded after %d", i, prev.Number))
			}
			w.WriteVarUint(r.Number-prev.Number-1, 2)
		}
		prev = r
	}
}

func writeStackSlots(w *bitstream.Writer, slots []StackSlot) {
	var prev StackSlot
	for i, s := range slots {
		flags := flagBits(s.Interior, s.Pinned)
		if s.Offset < 0 {
			panic(fmt.Sprintf("gcinfotest: stack slot %d has negative offset %d", i, s.Offset))
		}
		w.WriteBits(s.Base, 2)
		if i == 0 || flagBits(prev.Interior, prev.Pinned) != 0 {
			w.WriteVarUint(uint32(normalize(s.Offset)), 6)
			w.WriteBits(flags, 2)
		} else {
			if flags != 0 || s.Offset < prev.Offset {
				panic(fmt.Sprintf("gcinfotest: stack slot %d cannot be delta coded", i))
			}
			w.WriteVarUint(uint32(normalize(s.Offset-prev.Offset)), 4)
		}
		prev = s
	}
}

func (b *Blob) writeLiveness(w *bitstream.Writer) {
	n := len(b.SafePoints)
	if n == 0 {
		return
	}
	tracked := b.NumTracked()
	live := make([][]bool, n)
	for sp := range live {
		live[sp] = make([]bool, tracked)
		if b.Live != nil {
			if len(b.Live[sp]) != tracked {
				panic(fmt.Sprintf("gcinfotest: safe point %d has %d live bits for %d slots", sp, len(b.Live[sp]), tracked))
			}
			copy(live[sp], b.Live[sp])
		}
	}

	w.WriteBit(!b.Direct)
	if b.Direct {
		for _, vec := range live {
			for _, l := range vec {
				w.WriteBit(l)
			}
		}
		return
	}

	blocks := make([]*bitstream.Writer, n)
	offsets := make([]uint32, n)
	var total uint32
	for sp, vec := range live {
		blocks[sp] = RLE(vec)
		offsets[sp] = total
		total += uint32(blocks[sp].Len())
	}

	width := b.PointerWidth
	if width == 0 {
		width = max(1, bits.Len32(offsets[n-1]))
	}
	w.WriteVarUint(uint32(width-1), 3)
	for _, off := range offsets {
		w.WriteBits(off, width)
	}
	for _, blk := range blocks {
		w.Append(blk)
	}
}

// RLE encodes a live vector as alternating skip and run counts.
func RLE(vec []bool) *bitstream.Writer {
	w := bitstream.NewWriter()
	for i := 0; i < len(vec); {
		skip := 0
		for i+skip < len(vec) && !vec[i+skip] {
			skip++
		}
		w.WriteVarUint(uint32(skip), 4)
		i += skip
		if i == len(vec) {
			break
		}
		run := 0
		for i+run < len(vec) && vec[i+run] {
			run++
		}
		w.WriteVarUint(uint32(run-1), 2)
		i += run
	}
	return w
}

// SafePointWidth is the bit width of one safe-point offset.
func SafePointWidth(codeLength uint32) int {
	if codeLength <= 1 {
		return 1
	}
	return bits.Len32(codeLength - 1)
}

// Vector returns an n-slot live vector with the given indexes set.
func Vector(n int, live ...int) []bool {
	v := make([]bool, n)
	for _, i := range live {
		v[i] = true
	}
	return v
}

// AllLive returns numSafePoints vectors with every slot live.
func AllLive(numSafePoints, numTracked int) [][]bool {
	out := make([][]bool, numSafePoints)
	for i := range out {
		out[i] = make([]bool, numTracked)
		for j := range out[i] {
			out[i][j] = true
		}
	}
	return out
}

func normalize(off int32) int32 {
	if off&7 != 0 {
		panic(fmt.Sprintf("gcinfotest: offset %d is not a multiple of 8", off))
	}
	return off >> 3
}
