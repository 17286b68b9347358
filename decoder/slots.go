package decoder

import (
	"math"

	"go.uber.org/zap"

	"github.com/wippyai/gcinfo/errors"
)

// Blob layout after the header:
//
//	safe-point offsets      numSafePoints fixed-width fields
//	interruptible ranges    fat only, delta coded
//	slot counts             registers, stack slots, untracked slots
//	slot definitions        registers, then stack slots, then untracked slots
//	liveness                indirect flag, pointer table, live states

// maxNormalizedOffset keeps denormalized stack offsets inside int32.
const maxNormalizedOffset = math.MaxInt32 >> stackSlotShift

// DecodeSlotTable steps over the safe-point offsets, decodes the
// interruptible ranges and reads the slot counts.
func (d *Decoder) DecodeSlotTable() error {
	if d.stage >= stageSlotTable {
		return nil
	}
	if d.stage < stageHeader {
		return errors.NotDecoded(errors.PhaseSlotTable, "header")
	}
	start := d.r.Position()
	if err := d.decodeSlotTable(); err != nil {
		d.rewind(start)
		return err
	}
	return nil
}

func (d *Decoder) decodeSlotTable() error {
	h := &d.header
	if h.NumSafePoints > MaxSafePoints {
		return errors.CapacityExceeded(errors.PhaseSafePoints, "safePoints", h.NumSafePoints, MaxSafePoints)
	}
	d.safePointWidth = safePointWidth(h.CodeLength)
	d.safePointsPos = d.r.Position()
	if err := d.skip(errors.PhaseSafePoints, "safePointOffsets", int(h.NumSafePoints)*d.safePointWidth); err != nil {
		return err
	}

	if err := d.decodeInterruptibleRanges(); err != nil {
		return err
	}

	const phase = errors.PhaseSlotTable
	hasRegisters, err := d.readBit(phase, "hasRegisters")
	if err != nil {
		return err
	}
	if hasRegisters {
		if d.numRegisters, err = d.readVarUint(phase, "numRegisters", NumRegistersEncBase); err != nil {
			return err
		}
	}

	hasStackSlots, err := d.readBit(phase, "hasStackSlots")
	if err != nil {
		return err
	}
	if hasStackSlots {
		if d.numStackSlots, err = d.readVarUint(phase, "numStackSlots", NumStackSlotsEncBase); err != nil {
			return err
		}
		if d.numUntracked, err = d.readVarUint(phase, "numUntrackedSlots", NumUntrackedSlotsEncBase); err != nil {
			return err
		}
	}

	if tracked := uint64(d.numRegisters) + uint64(d.numStackSlots); tracked > MaxTrackedSlots {
		return errors.CapacityExceeded(phase, "trackedSlots", uint32(min(tracked, math.MaxUint32)), MaxTrackedSlots)
	}
	if d.numUntracked > MaxUntrackedSlots {
		return errors.CapacityExceeded(phase, "untrackedSlots", d.numUntracked, MaxUntrackedSlots)
	}

	d.stage = stageSlotTable

	if ce := Logger().Check(zap.DebugLevel, "decoded gcinfo slot table"); ce != nil {
		ce.Write(
			zap.Uint32("numRegisters", d.numRegisters),
			zap.Uint32("numStackSlots", d.numStackSlots),
			zap.Uint32("numUntrackedSlots", d.numUntracked),
			zap.Int("bitPos", d.r.Position()),
		)
	}
	return nil
}

// DecodeSlotDefinitionsAndSafePoints decodes every slot definition, the
// liveness layout and the safe-point offsets. After it succeeds the decoder
// answers liveness queries.
func (d *Decoder) DecodeSlotDefinitionsAndSafePoints() error {
	if d.stage >= stageDefinitions {
		return nil
	}
	if d.stage < stageSlotTable {
		return errors.NotDecoded(errors.PhaseSlotTable, "slot table")
	}
	start := d.r.Position()
	if err := d.decodeDefinitions(); err != nil {
		d.rewind(start)
		return err
	}
	return nil
}

func (d *Decoder) decodeDefinitions() error {
	if err := d.decodeRegisters(d.slots[:d.numRegisters]); err != nil {
		return err
	}
	stack := d.slots[d.numRegisters : d.numRegisters+d.numStackSlots]
	if err := d.decodeStackSlots(stack, "stackSlot"); err != nil {
		return err
	}
	if err := d.decodeStackSlots(d.untracked[:d.numUntracked], "untrackedSlot"); err != nil {
		return err
	}
	if err := d.decodeLivenessLayout(); err != nil {
		return err
	}
	if err := d.decodeSafePoints(); err != nil {
		return err
	}

	d.stage = stageDefinitions

	if ce := Logger().Check(zap.DebugLevel, "decoded gcinfo slot definitions"); ce != nil {
		ce.Write(
			zap.Int("numTrackedSlots", d.NumTrackedSlots()),
			zap.Bool("indirectLiveness", d.indirect),
			zap.Int("liveStatePos", d.liveStatePos),
		)
	}
	return nil
}

// decodeRegisters decodes register definitions. The first is absolute. Each
// later one is absolute when its predecessor had flags, and otherwise a
// positive delta from the predecessor's number with flags staying zero.
func (d *Decoder) decodeRegisters(out []Slot) error {
	const phase = errors.PhaseSlotTable
	var reg uint64
	var flags uint32

	for i := range out {
		pos := d.r.Position()
		if i == 0 || flags != 0 {
			r, err := d.readVarUint(phase, "register", RegisterEncBase)
			if err != nil {
				return err
			}
			if flags, err = d.readBits(phase, "registerFlags", slotFlagsBits); err != nil {
				return err
			}
			reg = uint64(r)
		} else {
			delta, err := d.readVarUint(phase, "registerDelta", RegisterDeltaEncBase)
			if err != nil {
				return err
			}
			reg += uint64(delta) + 1
		}
		if reg > math.MaxUint8 {
			return errors.New(phase, errors.KindInvalidData).
				Field("register").
				BitPos(pos).
				Value(reg).
				Detail("register number %d in slot %d", reg, i).
				Build()
		}
		out[i] = RegisterSlot(uint8(reg), SlotFlags(flags))
	}
	return nil
}

// decodeStackSlots decodes stack slot definitions. Unlike registers, every
// slot re-reads its base; the offset is absolute or a delta on the same rule.
func (d *Decoder) decodeStackSlots(out []Slot, field string) error {
	const phase = errors.PhaseSlotTable
	var norm uint64
	var flags uint32

	for i := range out {
		pos := d.r.Position()
		b, err := d.readBits(phase, field+"Base", stackBaseBits)
		if err != nil {
			return err
		}
		base, err := ParseStackBase(b)
		if err != nil {
			return errors.New(phase, errors.KindInvalidEnum).
				Field(field + "Base").
				BitPos(pos).
				Value(b).
				Cause(err).
				Build()
		}

		if i == 0 || flags != 0 {
			off, err := d.readVarUint(phase, field+"Offset", StackSlotEncBase)
			if err != nil {
				return err
			}
			if flags, err = d.readBits(phase, field+"Flags", slotFlagsBits); err != nil {
				return err
			}
			norm = uint64(off)
		} else {
			delta, err := d.readVarUint(phase, field+"Delta", StackSlotDeltaEncBase)
			if err != nil {
				return err
			}
			norm += uint64(delta)
		}
		if norm > maxNormalizedOffset {
			return errors.New(phase, errors.KindOverflow).
				Field(field + "Offset").
				BitPos(pos).
				Value(norm).
				Detail("normalized offset %d in slot %d", norm, i).
				Build()
		}
		out[i] = StackSlot(base, int32(norm)<<stackSlotShift, SlotFlags(flags))
	}
	return nil
}
