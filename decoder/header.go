package decoder

import (
	"go.uber.org/zap"

	"github.com/wippyai/gcinfo/errors"
)

// DecodeHeader decodes the fixed-order header at the start of the blob.
//
// Slim headers carry only the stack-base-register flag; every other flag is
// false and the fields they gate, the stack area size and the interruptible
// range count consume no bits at all.
func (d *Decoder) DecodeHeader() error {
	if d.stage >= stageHeader {
		return nil
	}
	if len(d.blob) == 0 {
		return errors.NilInput(errors.PhaseHeader)
	}
	start := d.r.Position()
	if err := d.decodeHeader(); err != nil {
		d.rewind(start)
		return err
	}
	return nil
}

func (d *Decoder) decodeHeader() error {
	const phase = errors.PhaseHeader
	h := Header{StackBaseRegister: NoStackBaseRegister}
	var err error

	if h.Fat, err = d.readBit(phase, "format"); err != nil {
		return err
	}

	if h.Fat {
		flags, err := d.readBits(phase, "flags", headerFlagsBits)
		if err != nil {
			return err
		}
		h.HasGSCookie = flags&flagGSCookie != 0
		h.GenericsKind = GenericsKind(flags >> flagGenericsShift & flagGenericsMask)
		h.HasStackBaseRegister = flags&flagStackBaseRegister != 0
		h.WantsReportOnlyLeaf = flags&flagReportOnlyLeaf != 0
		h.HasEditAndContinue = flags&flagEditAndContinue != 0
		h.HasReversePInvokeFrame = flags&flagReversePInvoke != 0
	} else {
		if h.HasStackBaseRegister, err = d.readBit(phase, "hasStackBaseRegister"); err != nil {
			return err
		}
	}

	// Code offsets are not normalized on AMD64.
	if h.CodeLength, err = d.readVarUint(phase, "codeLength", CodeLengthEncBase); err != nil {
		return err
	}

	if h.HasGSCookie {
		prolog, err := d.readVarUint(phase, "prologSize", NormPrologSizeEncBase)
		if err != nil {
			return err
		}
		h.PrologSize = prolog + 1
		if h.EpilogSize, err = d.readVarUint(phase, "epilogSize", NormEpilogSizeEncBase); err != nil {
			return err
		}
		slot, err := d.readVarInt(phase, "gsCookieStackSlot", GSCookieStackSlotEncBase)
		if err != nil {
			return err
		}
		h.GSCookieStackSlot = slot << stackSlotShift
	}

	if h.GenericsKind != GenericsNone {
		slot, err := d.readVarInt(phase, "genericsContextStackSlot", GenericsContextEncBase)
		if err != nil {
			return err
		}
		h.GenericsContextStackSlot = slot << stackSlotShift
	}

	if h.HasStackBaseRegister {
		if h.Fat {
			reg, err := d.readVarUint(phase, "stackBaseRegister", StackBaseRegisterEncBase)
			if err != nil {
				return err
			}
			h.StackBaseRegister = int32(reg ^ stackBaseRegisterXOR)
		} else {
			h.StackBaseRegister = defaultFramePointerRegister
		}
	}

	if h.HasEditAndContinue {
		size, err := d.readVarUint(phase, "editAndContinuePreservedArea", EditAndContinueEncBase)
		if err != nil {
			return err
		}
		h.EditAndContinuePreservedArea = size << stackSlotShift
	}

	if h.HasReversePInvokeFrame {
		slot, err := d.readVarInt(phase, "reversePInvokeFrameSlot", ReversePInvokeFrameEncBase)
		if err != nil {
			return err
		}
		h.ReversePInvokeFrameSlot = slot << stackSlotShift
	}

	if h.Fat {
		size, err := d.readVarUint(phase, "stackOutgoingAreaSize", SizeOfStackAreaEncBase)
		if err != nil {
			return err
		}
		h.StackOutgoingAreaSize = size << stackSlotShift
	}

	if h.NumSafePoints, err = d.readVarUint(phase, "numSafePoints", NumSafePointsEncBase); err != nil {
		return err
	}

	if h.Fat {
		if h.NumInterruptibleRanges, err = d.readVarUint(phase, "numInterruptibleRanges", NumInterruptibleRangesBase); err != nil {
			return err
		}
	}

	d.header = h
	d.stage = stageHeader

	if ce := Logger().Check(zap.DebugLevel, "decoded gcinfo header"); ce != nil {
		ce.Write(
			zap.Bool("fat", h.Fat),
			zap.Uint32("codeLength", h.CodeLength),
			zap.Uint32("numSafePoints", h.NumSafePoints),
			zap.Uint32("numInterruptibleRanges", h.NumInterruptibleRanges),
			zap.Int32("stackBaseRegister", h.StackBaseRegister),
			zap.Int("bitPos", d.r.Position()),
		)
	}
	return nil
}
