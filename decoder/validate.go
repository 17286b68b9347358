package decoder

import (
	"fmt"

	"github.com/wippyai/gcinfo/errors"
)

// Validate applies semantic sanity checks to a decoded blob. codeSize is the
// function's machine code size as known from the image.
//
// The format carries no redundancy, so a corrupt blob usually decodes
// without error. Validate catches the common symptoms and returns a
// *errors.ValidationError listing every failed check, or nil.
func (d *Decoder) Validate(codeSize uint32, limits Limits) error {
	if d.stage < stageDefinitions {
		return errors.NotDecoded(errors.PhaseValidate, "slot definitions")
	}

	v := &errors.ValidationError{}
	d.validateCodeLength(v, codeSize, limits)
	d.validateCounts(v, limits)
	d.validateRegisters(v)
	d.validateSafePoints(v)
	d.validateRanges(v)
	return v.Err()
}

// DecodeValidate decodes blob and validates it against codeSize.
// This is a convenience function combining Decode and Validate.
func DecodeValidate(blob []byte, codeSize uint32, limits Limits) (*Decoder, error) {
	d := New(blob)
	if err := d.Decode(); err != nil {
		return nil, err
	}
	if err := d.Validate(codeSize, limits); err != nil {
		return d, err
	}
	return d, nil
}

func (d *Decoder) validateCodeLength(v *errors.ValidationError, codeSize uint32, limits Limits) {
	codeLength := d.header.CodeLength
	if codeLength < codeSize {
		v.Add(errors.Sanity("codeLength", codeLength,
			fmt.Sprintf("code length %d below machine code size %d", codeLength, codeSize)))
	}
	if limits.CodeLengthFactor > 0 && uint64(codeLength) > uint64(codeSize)*uint64(limits.CodeLengthFactor) {
		v.Add(errors.Sanity("codeLength", codeLength,
			fmt.Sprintf("code length %d above %dx machine code size %d", codeLength, limits.CodeLengthFactor, codeSize)))
	}
	if d.header.NumSafePoints > codeLength {
		v.Add(errors.Sanity("numSafePoints", d.header.NumSafePoints,
			fmt.Sprintf("%d safe points in %d bytes of code", d.header.NumSafePoints, codeLength)))
	}
}

func (d *Decoder) validateCounts(v *errors.ValidationError, limits Limits) {
	if tracked := uint32(d.NumTrackedSlots()); tracked > limits.MaxTrackedSlots {
		v.Add(errors.Sanity("numTrackedSlots", tracked,
			fmt.Sprintf("%d tracked slots above limit %d", tracked, limits.MaxTrackedSlots)))
	}
	if d.numRegisters > limits.MaxRegisterSlots {
		v.Add(errors.Sanity("numRegisters", d.numRegisters,
			fmt.Sprintf("%d register slots above limit %d", d.numRegisters, limits.MaxRegisterSlots)))
	}
}

func (d *Decoder) validateRegisters(v *errors.ValidationError) {
	for i, s := range d.Slots() {
		if s.IsRegister() && s.Register >= NumRegisters {
			v.Add(errors.Sanity("register", s.Register,
				fmt.Sprintf("slot %d names register %d of %d", i, s.Register, NumRegisters)))
		}
	}

	reg := d.header.StackBaseRegister
	if d.header.HasStackBaseRegister && (reg < 0 || reg >= NumRegisters) {
		v.Add(errors.Sanity("stackBaseRegister", reg,
			fmt.Sprintf("stack base register %d out of range", reg)))
	}
	if d.header.HasStackBaseRegister {
		return
	}
	for i, s := range d.Slots() {
		if s.Kind == SlotStack && s.Base == FrameRegRelative {
			v.Add(errors.Sanity("stackSlot", s.String(),
				fmt.Sprintf("slot %d is frame relative without a stack base register", i)))
			return
		}
	}
}

func (d *Decoder) validateSafePoints(v *errors.ValidationError) {
	codeLength := d.header.CodeLength
	for i, off := range d.SafePoints() {
		if off >= codeLength {
			v.Add(errors.Sanity("safePoint", off,
				fmt.Sprintf("safe point %d at %#x outside code length %#x", i, off, codeLength)))
		}
		if i > 0 && off <= d.safePoints[i-1] {
			v.Add(errors.Sanity("safePoint", off,
				fmt.Sprintf("safe point %d at %#x not above %#x", i, off, d.safePoints[i-1])))
		}
	}
}

func (d *Decoder) validateRanges(v *errors.ValidationError) {
	codeLength := d.header.CodeLength
	for i, r := range d.InterruptibleRanges() {
		if r.Stop > codeLength {
			v.Add(errors.Sanity("interruptibleRange", r.Stop,
				fmt.Sprintf("range %d [%#x, %#x) ends past code length %#x", i, r.Start, r.Stop, codeLength)))
		}
	}
}
