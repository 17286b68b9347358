package decoder

import (
	"fmt"
	"math/bits"

	"github.com/wippyai/gcinfo/errors"
	"github.com/wippyai/gcinfo/internal/bitstream"
)

// Live states come in two layouts.
//
// Indirect: a pointer table of numSafePoints fixed-width entries, each a bit
// offset from the start of the live-state area to an RLE block. A block
// alternates skip (not live) and run (live) counts over slot indexes until
// every tracked slot is covered.
//
// Direct: one numTracked-bit vector per safe point, back to back, where bit i
// of vector sp is the liveness of slot i at safe point sp.

func (d *Decoder) decodeLivenessLayout() error {
	const phase = errors.PhaseLiveness
	n := int(d.header.NumSafePoints)
	if n == 0 {
		d.liveStatePos = d.r.Position()
		return nil
	}

	d.hasLiveness = true
	indirect, err := d.readBit(phase, "indirectLiveness")
	if err != nil {
		return err
	}
	d.indirect = indirect

	if indirect {
		pos := d.r.Position()
		w, err := d.readVarUint(phase, "pointerWidth", PointerSizeEncBase)
		if err != nil {
			return err
		}
		if w >= bitstream.MaxFieldBits {
			return errors.New(phase, errors.KindInvalidData).
				Field("pointerWidth").
				BitPos(pos).
				Value(w + 1).
				Detail("pointer entries of %d bits exceed %d", uint64(w)+1, bitstream.MaxFieldBits).
				Build()
		}
		d.pointerWidth = int(w) + 1
		d.pointerTablePos = d.r.Position()
		if err := d.skip(phase, "pointerTable", n*d.pointerWidth); err != nil {
			return err
		}
		d.liveStatePos = d.r.Position()
		return nil
	}

	d.liveStatePos = d.r.Position()
	need := n * d.NumTrackedSlots()
	if need > d.r.Remaining() {
		return errors.Truncated(phase, "liveStates", d.liveStatePos,
			fmt.Errorf("%d direct live-state bits, %d available", need, d.r.Remaining()))
	}
	return nil
}

// IsSlotLiveAtSafePoint reports whether tracked slot holds a live reference
// at safe point sp. Indirect blocks are decoded only as far as slot.
func (d *Decoder) IsSlotLiveAtSafePoint(sp, slot int) (bool, error) {
	if err := d.checkSafePoint(sp); err != nil {
		return false, err
	}
	if slot < 0 || slot >= d.NumTrackedSlots() {
		return false, errors.OutOfBounds(errors.PhaseLiveness, "slot", slot, d.NumTrackedSlots())
	}
	mask, err := d.liveMask(sp, slot+1)
	if err != nil {
		return false, err
	}
	return mask>>uint(slot)&1 == 1, nil
}

// LiveSlots returns the live set at safe point sp as a mask over tracked
// slot indexes.
func (d *Decoder) LiveSlots(sp int) (uint64, error) {
	if err := d.checkSafePoint(sp); err != nil {
		return 0, err
	}
	return d.liveMask(sp, d.NumTrackedSlots())
}

// EnumerateLiveSlots resolves codeOffset to a safe point and calls visit for
// each tracked slot live there, in slot order. It returns the number of slots
// visited. visit may be nil to only count.
func (d *Decoder) EnumerateLiveSlots(codeOffset uint32, visit func(Slot)) (int, error) {
	if d.stage < stageDefinitions {
		return 0, errors.NotDecoded(errors.PhaseLiveness, "slot definitions")
	}
	sp, ok := d.FindSafePointIndex(codeOffset)
	if !ok {
		return 0, errors.NotFound(errors.PhaseLiveness, fmt.Sprintf("no safe point at code offset %#x", codeOffset))
	}
	mask, err := d.LiveSlots(sp)
	if err != nil {
		return 0, err
	}

	count := 0
	for m := mask; m != 0; m &= m - 1 {
		if visit != nil {
			visit(d.slots[bits.TrailingZeros64(m)])
		}
		count++
	}
	return count, nil
}

// EnumerateUntrackedSlots calls visit for every untracked slot. Untracked
// slots are live for the whole function body.
func (d *Decoder) EnumerateUntrackedSlots(visit func(Slot)) int {
	untracked := d.UntrackedSlots()
	for _, s := range untracked {
		visit(s)
	}
	return len(untracked)
}

func (d *Decoder) checkSafePoint(sp int) error {
	if d.stage < stageDefinitions {
		return errors.NotDecoded(errors.PhaseLiveness, "slot definitions")
	}
	if sp < 0 || sp >= d.NumSafePoints() {
		return errors.OutOfBounds(errors.PhaseLiveness, "safePoint", sp, d.NumSafePoints())
	}
	return nil
}

// liveMask decodes the liveness of slots [0, upTo) at safe point sp.
func (d *Decoder) liveMask(sp, upTo int) (uint64, error) {
	if d.indirect {
		return d.liveMaskRLE(sp, upTo)
	}
	return d.liveMaskDirect(sp, upTo)
}

func (d *Decoder) liveMaskDirect(sp, upTo int) (uint64, error) {
	base := d.liveStatePos + sp*d.NumTrackedSlots()
	var mask uint64
	for i := 0; i < upTo; i += bitstream.MaxFieldBits {
		n := min(bitstream.MaxFieldBits, upTo-i)
		v, err := d.r.PeekBitsAt(base+i, n)
		if err != nil {
			return 0, streamError(errors.PhaseLiveness, "liveStates", base+i, err)
		}
		mask |= uint64(v) << uint(i)
	}
	return mask, nil
}

func (d *Decoder) liveMaskRLE(sp, upTo int) (uint64, error) {
	const phase = errors.PhaseLiveness
	entryPos := d.pointerTablePos + sp*d.pointerWidth
	entry, err := d.r.PeekBitsAt(entryPos, d.pointerWidth)
	if err != nil {
		return 0, streamError(phase, "livenessPointer", entryPos, err)
	}

	// A copy of the reader walks the block; the decoder cursor stays put.
	r := d.r
	start := d.liveStatePos + int(entry)
	if err := r.Seek(start); err != nil {
		return 0, streamError(phase, "liveStateBlock", start, err)
	}

	tracked := uint64(d.NumTrackedSlots())
	limit := uint64(upTo)
	var mask, acc uint64
	for acc < limit {
		pos := r.Position()
		skip, err := r.ReadVarUint(LiveStateRLESkipEncBase)
		if err != nil {
			return 0, streamError(phase, "liveStateSkip", pos, err)
		}
		acc += uint64(skip)
		if acc >= limit {
			break
		}

		pos = r.Position()
		run, err := r.ReadVarUint(LiveStateRLERunEncBase)
		if err != nil {
			return 0, streamError(phase, "liveStateRun", pos, err)
		}
		end := acc + uint64(run) + 1
		if end > tracked {
			return 0, errors.New(phase, errors.KindInvalidData).
				Field("liveStateRun").
				BitPos(pos).
				Value(end).
				Detail("run at safe point %d covers slots [%d, %d) of %d", sp, acc, end, tracked).
				Build()
		}
		mask |= bitRange(acc, min(end, limit))
		acc = end
	}
	return mask, nil
}

// bitRange returns a mask with bits [lo, hi) set, for hi <= 64.
func bitRange(lo, hi uint64) uint64 {
	if hi <= lo {
		return 0
	}
	if hi-lo >= 64 {
		return ^uint64(0)
	}
	return (uint64(1)<<(hi-lo) - 1) << lo
}
