package decoder

import (
	"fmt"
	"strings"

	"github.com/wippyai/gcinfo/errors"
)

// GenericsKind tells where a shared-generic method finds its instantiation context.
type GenericsKind uint8

const (
	GenericsNone GenericsKind = iota
	GenericsMethodTable
	GenericsMethodDesc
	GenericsThis
)

func (k GenericsKind) String() string {
	switch k {
	case GenericsNone:
		return "none"
	case GenericsMethodTable:
		return "methodtable"
	case GenericsMethodDesc:
		return "methoddesc"
	case GenericsThis:
		return "this"
	default:
		return fmt.Sprintf("generics(%d)", uint8(k))
	}
}

// Header holds the fixed-order fields at the start of a blob.
// Stack slots are denormalized byte offsets; area sizes are bytes.
type Header struct {
	Fat                    bool
	HasGSCookie            bool
	HasStackBaseRegister   bool
	WantsReportOnlyLeaf    bool
	HasEditAndContinue     bool
	HasReversePInvokeFrame bool
	GenericsKind           GenericsKind

	CodeLength uint32
	PrologSize uint32
	EpilogSize uint32

	GSCookieStackSlot        int32
	GenericsContextStackSlot int32
	ReversePInvokeFrameSlot  int32
	StackBaseRegister        int32

	EditAndContinuePreservedArea uint32
	StackOutgoingAreaSize        uint32

	NumSafePoints          uint32
	NumInterruptibleRanges uint32
}

// SlotKind distinguishes register slots from stack slots.
type SlotKind uint8

const (
	SlotRegister SlotKind = iota
	SlotStack
)

// StackBase is the anchor a stack slot offset is relative to.
type StackBase uint8

const (
	CallerSPRelative StackBase = iota
	SPRelative
	FrameRegRelative
)

// ParseStackBase converts a 2-bit stream value, rejecting the unused encoding.
func ParseStackBase(v uint32) (StackBase, error) {
	if v > uint32(FrameRegRelative) {
		return 0, errors.InvalidDiscriminant(errors.PhaseSlotTable, "stackBase", v, uint32(FrameRegRelative))
	}
	return StackBase(v), nil
}

func (b StackBase) String() string {
	switch b {
	case CallerSPRelative:
		return "caller-sp"
	case SPRelative:
		return "sp"
	case FrameRegRelative:
		return "frame"
	default:
		return fmt.Sprintf("base(%d)", uint8(b))
	}
}

// SlotFlags qualifies how the collector treats a reference.
type SlotFlags uint8

const (
	FlagInterior SlotFlags = 1 << iota
	FlagPinned
)

// Slot is a register or stack location that may hold an object reference.
// Register is meaningful for SlotRegister; Base and Offset for SlotStack.
type Slot struct {
	Kind     SlotKind
	Register uint8
	Base     StackBase
	Offset   int32
	Flags    SlotFlags
}

// RegisterSlot builds a register slot.
func RegisterSlot(reg uint8, flags SlotFlags) Slot {
	return Slot{Kind: SlotRegister, Register: reg, Flags: flags}
}

// StackSlot builds a stack slot.
func StackSlot(base StackBase, offset int32, flags SlotFlags) Slot {
	return Slot{Kind: SlotStack, Base: base, Offset: offset, Flags: flags}
}

// IsRegister reports whether s lives in a register.
func (s Slot) IsRegister() bool { return s.Kind == SlotRegister }

// IsInterior reports whether s may point into the middle of an object.
func (s Slot) IsInterior() bool { return s.Flags&FlagInterior != 0 }

// IsPinned reports whether the referenced object must not move.
func (s Slot) IsPinned() bool { return s.Flags&FlagPinned != 0 }

// Frame carries the anchors needed to turn stack slots into addresses.
// FrameRegister holds the value of the function's stack base register.
type Frame struct {
	SP            uint64
	CallerSP      uint64
	FrameRegister uint64
}

// StackAddress returns the address of a stack slot within f.
func (s Slot) StackAddress(f Frame) (uint64, bool) {
	if s.Kind != SlotStack {
		return 0, false
	}
	var base uint64
	switch s.Base {
	case CallerSPRelative:
		base = f.CallerSP
	case SPRelative:
		base = f.SP
	case FrameRegRelative:
		base = f.FrameRegister
	default:
		return 0, false
	}
	return base + uint64(int64(s.Offset)), true
}

func (s Slot) String() string {
	var b strings.Builder
	if s.Kind == SlotRegister {
		b.WriteString(RegisterName(int(s.Register)))
	} else {
		fmt.Fprintf(&b, "[%s%+#x]", s.Base, s.Offset)
	}
	if s.IsInterior() {
		b.WriteString(" interior")
	}
	if s.IsPinned() {
		b.WriteString(" pinned")
	}
	return b.String()
}

var registerNames = [NumRegisters]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// RegisterName returns the AMD64 name of register number n.
func RegisterName(n int) string {
	if n >= 0 && n < NumRegisters {
		return registerNames[n]
	}
	return fmt.Sprintf("r?%d", n)
}

// InterruptibleRange is a half-open code range where every instruction is a
// safe point.
type InterruptibleRange struct {
	Start uint32
	Stop  uint32
}

// Contains reports whether offset lies in the range.
func (r InterruptibleRange) Contains(offset uint32) bool {
	return offset >= r.Start && offset < r.Stop
}
