package decoder

import (
	stderrors "errors"

	"github.com/wippyai/gcinfo/errors"
	"github.com/wippyai/gcinfo/internal/bitstream"
)

type stage uint8

const (
	stageNone stage = iota
	stageHeader
	stageSlotTable
	stageDefinitions
)

// Decoder decodes one function's GCInfo blob.
//
// Decoding runs in three steps that must be called in order, since each
// consumes bits where the previous one stopped: DecodeHeader, DecodeSlotTable
// and DecodeSlotDefinitionsAndSafePoints. Decode runs all three. Every step is
// idempotent once it has succeeded; a failed step leaves the cursor where it
// began, so calling it again fails the same way.
//
// A Decoder holds fixed-size arrays instead of slices and can live on the
// caller's stack; Reset rebinds it to another blob. It is not safe for
// concurrent use.
type Decoder struct {
	blob  []byte
	r     bitstream.Reader
	opts  Options
	stage stage

	header Header

	numRegisters  uint32
	numStackSlots uint32
	numUntracked  uint32

	safePointsPos  int
	safePointWidth int

	hasLiveness     bool
	indirect        bool
	pointerWidth    int
	pointerTablePos int
	liveStatePos    int

	slots      [MaxTrackedSlots]Slot
	untracked  [MaxUntrackedSlots]Slot
	safePoints [MaxSafePoints]uint32
	ranges     [MaxInterruptibleRanges]InterruptibleRange
}

// New creates a decoder over blob with default options.
func New(blob []byte) *Decoder {
	return NewWithOptions(blob, DefaultOptions())
}

// NewWithOptions creates a decoder over blob.
func NewWithOptions(blob []byte, opts Options) *Decoder {
	d := &Decoder{}
	d.ResetWithOptions(blob, opts)
	return d
}

// Reset rebinds d to a new blob with default options, discarding all state.
func (d *Decoder) Reset(blob []byte) {
	d.ResetWithOptions(blob, DefaultOptions())
}

// ResetWithOptions rebinds d to a new blob, discarding all state.
func (d *Decoder) ResetWithOptions(blob []byte, opts Options) {
	*d = Decoder{
		blob: blob,
		r:    bitstream.NewReader(blob, opts.MaxBlobSize),
		opts: opts,
	}
}

// Decode runs the full decode pipeline.
func (d *Decoder) Decode() error {
	if err := d.DecodeHeader(); err != nil {
		return err
	}
	if err := d.DecodeSlotTable(); err != nil {
		return err
	}
	return d.DecodeSlotDefinitionsAndSafePoints()
}

// rewind moves the cursor back to where a failed step began and drops what
// that step decoded, so a retry starts from the same bits.
func (d *Decoder) rewind(pos int) {
	_ = d.r.Seek(pos)
	switch d.stage {
	case stageHeader:
		d.numRegisters, d.numStackSlots, d.numUntracked = 0, 0, 0
		d.ranges = [MaxInterruptibleRanges]InterruptibleRange{}
	case stageSlotTable:
		d.hasLiveness, d.indirect = false, false
		d.pointerWidth, d.pointerTablePos, d.liveStatePos = 0, 0, 0
	}
}

// Header returns the decoded header. It is zero until DecodeHeader succeeds.
func (d *Decoder) Header() Header {
	return d.header
}

// CodeLength returns the encoded length of the function's code in bytes.
func (d *Decoder) CodeLength() uint32 {
	return d.header.CodeLength
}

// NumSafePoints returns the number of safe points.
func (d *Decoder) NumSafePoints() int {
	return int(d.header.NumSafePoints)
}

// StackBaseRegister returns the stack base register number, or
// NoStackBaseRegister.
func (d *Decoder) StackBaseRegister() int32 {
	return d.header.StackBaseRegister
}

// NumRegisterSlots returns the number of tracked register slots.
func (d *Decoder) NumRegisterSlots() int {
	return int(d.numRegisters)
}

// NumStackSlots returns the number of tracked stack slots.
func (d *Decoder) NumStackSlots() int {
	return int(d.numStackSlots)
}

// NumTrackedSlots returns registers plus tracked stack slots.
func (d *Decoder) NumTrackedSlots() int {
	return int(d.numRegisters + d.numStackSlots)
}

// NumUntrackedSlots returns the number of untracked stack slots.
func (d *Decoder) NumUntrackedSlots() int {
	return int(d.numUntracked)
}

// Slot returns tracked slot i. Registers come first, then stack slots.
func (d *Decoder) Slot(i int) (Slot, error) {
	if d.stage < stageDefinitions {
		return Slot{}, errors.NotDecoded(errors.PhaseSlotTable, "slot definitions")
	}
	if i < 0 || i >= d.NumTrackedSlots() {
		return Slot{}, errors.OutOfBounds(errors.PhaseSlotTable, "slot", i, d.NumTrackedSlots())
	}
	return d.slots[i], nil
}

// Slots returns the tracked slots. The slice aliases decoder state.
func (d *Decoder) Slots() []Slot {
	if d.stage < stageDefinitions {
		return nil
	}
	return d.slots[:d.NumTrackedSlots()]
}

// UntrackedSlots returns the untracked slots. The slice aliases decoder state.
func (d *Decoder) UntrackedSlots() []Slot {
	if d.stage < stageDefinitions {
		return nil
	}
	return d.untracked[:d.numUntracked]
}

// IsIndirectLiveness reports whether live states are reached through a
// pointer table.
func (d *Decoder) IsIndirectLiveness() bool {
	return d.indirect
}

func (d *Decoder) readBit(phase errors.Phase, field string) (bool, error) {
	pos := d.r.Position()
	v, err := d.r.ReadBit()
	if err != nil {
		return false, streamError(phase, field, pos, err)
	}
	return v, nil
}

func (d *Decoder) readBits(phase errors.Phase, field string, n int) (uint32, error) {
	pos := d.r.Position()
	v, err := d.r.ReadBits(n)
	if err != nil {
		return 0, streamError(phase, field, pos, err)
	}
	return v, nil
}

func (d *Decoder) readVarUint(phase errors.Phase, field string, base int) (uint32, error) {
	pos := d.r.Position()
	v, err := d.r.ReadVarUint(base)
	if err != nil {
		return 0, streamError(phase, field, pos, err)
	}
	return v, nil
}

func (d *Decoder) readVarInt(phase errors.Phase, field string, base int) (int32, error) {
	pos := d.r.Position()
	v, err := d.r.ReadVarInt(base)
	if err != nil {
		return 0, streamError(phase, field, pos, err)
	}
	return v, nil
}

func (d *Decoder) skip(phase errors.Phase, field string, n int) error {
	pos := d.r.Position()
	if err := d.r.Skip(n); err != nil {
		return streamError(phase, field, pos, err)
	}
	return nil
}

func streamError(phase errors.Phase, field string, pos int, err error) error {
	kind := errors.KindOutOfBounds
	if stderrors.Is(err, bitstream.ErrOverflow) {
		kind = errors.KindOverflow
	}
	return errors.New(phase, kind).Field(field).BitPos(pos).Cause(err).Build()
}
