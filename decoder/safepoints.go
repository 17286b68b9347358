package decoder

import (
	"math/bits"

	"github.com/wippyai/gcinfo/errors"
)

// safePointWidth is the fixed width of one encoded safe-point offset.
func safePointWidth(codeLength uint32) int {
	if codeLength <= 1 {
		return 1
	}
	return bits.Len32(codeLength - 1)
}

func (d *Decoder) decodeInterruptibleRanges() error {
	const phase = errors.PhaseSafePoints
	n := d.header.NumInterruptibleRanges
	if n > MaxInterruptibleRanges {
		return errors.CapacityExceeded(phase, "interruptibleRanges", n, MaxInterruptibleRanges)
	}

	var lastStop uint64
	for i := range d.ranges[:n] {
		pos := d.r.Position()
		delta1, err := d.readVarUint(phase, "interruptibleRangeStart", InterruptibleRangeDelta1)
		if err != nil {
			return err
		}
		delta2, err := d.readVarUint(phase, "interruptibleRangeLength", InterruptibleRangeDelta2)
		if err != nil {
			return err
		}
		start := lastStop + uint64(delta1)
		stop := start + uint64(delta2) + 1
		if stop > uint64(^uint32(0)) {
			return errors.New(phase, errors.KindOverflow).
				Field("interruptibleRange").
				BitPos(pos).
				Value(stop).
				Detail("range %d ends past 32-bit code offsets", i).
				Build()
		}
		d.ranges[i] = InterruptibleRange{Start: uint32(start), Stop: uint32(stop)}
		lastStop = stop
	}
	return nil
}

func (d *Decoder) decodeSafePoints() error {
	for i := range d.safePoints[:d.header.NumSafePoints] {
		pos := d.safePointsPos + i*d.safePointWidth
		v, err := d.r.PeekBitsAt(pos, d.safePointWidth)
		if err != nil {
			return streamError(errors.PhaseSafePoints, "safePointOffset", pos, err)
		}
		d.safePoints[i] = v
	}
	return nil
}

// SafePoints returns the decoded safe-point offsets in stream order. The
// slice aliases decoder state.
func (d *Decoder) SafePoints() []uint32 {
	if d.stage < stageDefinitions {
		return nil
	}
	return d.safePoints[:d.header.NumSafePoints]
}

// InterruptibleRanges returns the decoded interruptible ranges.
func (d *Decoder) InterruptibleRanges() []InterruptibleRange {
	if d.stage < stageSlotTable {
		return nil
	}
	return d.ranges[:d.header.NumInterruptibleRanges]
}

// IsInterruptible reports whether offset falls inside an interruptible range.
func (d *Decoder) IsInterruptible(offset uint32) bool {
	for _, r := range d.InterruptibleRanges() {
		if r.Contains(offset) {
			return true
		}
	}
	return false
}

// FindSafePointIndex maps a code offset to a safe-point index.
//
// An exact match wins. Otherwise the nearest preceding safe point is used
// when offset lies at most SafePointTolerance bytes past it, which covers a
// return address landing just after its call instruction. The table is
// assumed ascending.
func (d *Decoder) FindSafePointIndex(offset uint32) (int, bool) {
	sps := d.SafePoints()
	lo, hi := 0, len(sps)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch {
		case sps[mid] == offset:
			return mid, true
		case sps[mid] < offset:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	// lo is the first index above offset.
	if lo > 0 && offset-sps[lo-1] <= SafePointTolerance {
		return lo - 1, true
	}
	return -1, false
}
