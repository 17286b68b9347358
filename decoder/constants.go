package decoder

// Encoding bases for the AMD64 GCInfo format. Each names the payload width of
// one varint chunk; the chunk itself is one bit wider.
const (
	CodeLengthEncBase           = 8
	NormPrologSizeEncBase       = 5
	NormEpilogSizeEncBase       = 3
	GSCookieStackSlotEncBase    = 6
	GenericsContextEncBase      = 6
	StackBaseRegisterEncBase    = 3
	EditAndContinueEncBase      = 4
	ReversePInvokeFrameEncBase  = 6
	SizeOfStackAreaEncBase      = 3
	NumSafePointsEncBase        = 2
	NumInterruptibleRangesBase  = 1
	InterruptibleRangeDelta1    = 6
	InterruptibleRangeDelta2    = 6
	NumRegistersEncBase         = 2
	NumStackSlotsEncBase        = 2
	NumUntrackedSlotsEncBase    = 1
	RegisterEncBase             = 3
	RegisterDeltaEncBase        = 2
	StackSlotEncBase            = 6
	StackSlotDeltaEncBase       = 4
	PointerSizeEncBase          = 3
	LiveStateRLESkipEncBase     = 4
	LiveStateRLERunEncBase      = 2
	headerFlagsBits             = 10
	slotFlagsBits               = 2
	stackBaseBits               = 2
	stackSlotShift              = 3
	stackBaseRegisterXOR        = 5
	defaultFramePointerRegister = 5
)

// Fat header flag bits, in stream order starting at bit 0.
const (
	flagGSCookie          = 1 << 2
	flagGenericsShift     = 4
	flagGenericsMask      = 3
	flagStackBaseRegister = 1 << 6
	flagReportOnlyLeaf    = 1 << 7
	flagEditAndContinue   = 1 << 8
	flagReversePInvoke    = 1 << 9
)

// Architecture constants.
const (
	// NumRegisters is the general-purpose register count.
	NumRegisters = 16

	// NoStackBaseRegister marks a function without a stack base register.
	NoStackBaseRegister = -1

	// SafePointTolerance is how far past a recorded safe point a code offset
	// may land and still resolve to it. A return address sits right after
	// its call instruction, and no x86 instruction is longer than 15 bytes.
	SafePointTolerance = 15
)

// Fixed decoder capacities. Decoder state is a plain value with arrays of
// these sizes; counts above them are rejected.
const (
	// MaxTrackedSlots also bounds live sets, which are carried as uint64 masks.
	MaxTrackedSlots        = 64
	MaxUntrackedSlots      = 64
	MaxSafePoints          = 256
	MaxInterruptibleRanges = 64
)
