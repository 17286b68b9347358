package decoder_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/gcinfo/decoder"
	"github.com/wippyai/gcinfo/errors"
	"github.com/wippyai/gcinfo/internal/bitstream"
	"github.com/wippyai/gcinfo/internal/gcinfotest"
)

func decode(t *testing.T, b *gcinfotest.Blob) *decoder.Decoder {
	t.Helper()
	d := decoder.New(b.Bytes())
	require.NoError(t, d.Decode())
	return d
}

func requireKind(t *testing.T, err error, kind errors.Kind) *errors.Error {
	t.Helper()
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, kind, e.Kind, "error: %v", err)
	return e
}

func TestEnumerateSingleRegister(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{
		Fat:        true,
		CodeLength: 64,
		SafePoints: []uint32{32},
		Registers:  []gcinfotest.Register{{Number: 3}},
		Live:       gcinfotest.AllLive(1, 1),
	})

	var visited []decoder.Slot
	n, err := d.EnumerateLiveSlots(32, func(s decoder.Slot) {
		visited = append(visited, s)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, visited, 1)
	assert.Equal(t, decoder.RegisterSlot(3, 0), visited[0])
	assert.False(t, visited[0].IsInterior())
	assert.False(t, visited[0].IsPinned())
	assert.Equal(t, "rbx", visited[0].String())
}

func TestFindSafePointIndex(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{
		CodeLength: 200,
		SafePoints: []uint32{10, 50, 120},
	})
	require.Equal(t, []uint32{10, 50, 120}, d.SafePoints())

	tests := []struct {
		offset uint32
		want   int
		ok     bool
	}{
		{50, 1, true},
		{55, 1, true},
		{140, -1, false},
		{10, 0, true},
		{5, -1, false},
		{65, 1, true},
		{66, -1, false},
		{120, 2, true},
		{135, 2, true},
	}
	for _, tt := range tests {
		got, ok := d.FindSafePointIndex(tt.offset)
		assert.Equal(t, tt.ok, ok, "offset %d", tt.offset)
		assert.Equal(t, tt.want, got, "offset %d", tt.offset)
	}
}

func TestFindSafePointIndexEmpty(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{CodeLength: 32})
	_, ok := d.FindSafePointIndex(0)
	assert.False(t, ok)

	_, ok = decoder.New(nil).FindSafePointIndex(0)
	assert.False(t, ok)
}

func TestHeaderFields(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{
		Fat:                  true,
		HasGSCookie:          true,
		PrologSize:           12,
		EpilogSize:           3,
		GSCookieSlot:         -16,
		GenericsKind:         2,
		GenericsContextSlot:  24,
		HasStackBaseRegister: true,
		StackBaseRegister:    6,
		ReportOnlyLeaf:       true,
		HasEditAndContinue:   true,
		EditAndContinueArea:  32,
		HasReversePInvoke:    true,
		ReversePInvokeSlot:   -40,
		StackAreaSize:        32,
		CodeLength:           300,
		Ranges:               []gcinfotest.Range{{Start: 4, Stop: 20}, {Start: 100, Stop: 101}},
	})

	h := d.Header()
	assert.True(t, h.Fat)
	assert.True(t, h.HasGSCookie)
	assert.Equal(t, uint32(12), h.PrologSize)
	assert.Equal(t, uint32(3), h.EpilogSize)
	assert.Equal(t, int32(-16), h.GSCookieStackSlot)
	assert.Equal(t, decoder.GenericsMethodDesc, h.GenericsKind)
	assert.Equal(t, int32(24), h.GenericsContextStackSlot)
	assert.True(t, h.HasStackBaseRegister)
	assert.Equal(t, int32(6), d.StackBaseRegister())
	assert.True(t, h.WantsReportOnlyLeaf)
	assert.True(t, h.HasEditAndContinue)
	assert.Equal(t, uint32(32), h.EditAndContinuePreservedArea)
	assert.True(t, h.HasReversePInvokeFrame)
	assert.Equal(t, int32(-40), h.ReversePInvokeFrameSlot)
	assert.Equal(t, uint32(32), h.StackOutgoingAreaSize)
	assert.Equal(t, uint32(300), d.CodeLength())
	assert.Zero(t, d.NumSafePoints())

	assert.Equal(t, []decoder.InterruptibleRange{{Start: 4, Stop: 20}, {Start: 100, Stop: 101}}, d.InterruptibleRanges())
	assert.True(t, d.IsInterruptible(4))
	assert.True(t, d.IsInterruptible(19))
	assert.False(t, d.IsInterruptible(20))
	assert.True(t, d.IsInterruptible(100))
	assert.False(t, d.IsInterruptible(101))
}

func TestHeaderStackBaseRegister(t *testing.T) {
	tests := []struct {
		name string
		blob gcinfotest.Blob
		want int32
	}{
		{"none", gcinfotest.Blob{CodeLength: 8}, decoder.NoStackBaseRegister},
		{"slim implicit rbp", gcinfotest.Blob{CodeLength: 8, HasStackBaseRegister: true}, 5},
		{"fat rbp", gcinfotest.Blob{Fat: true, CodeLength: 8, HasStackBaseRegister: true, StackBaseRegister: 5}, 5},
		{"fat r12", gcinfotest.Blob{Fat: true, CodeLength: 8, HasStackBaseRegister: true, StackBaseRegister: 12}, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := decode(t, &tt.blob)
			assert.Equal(t, tt.want, d.StackBaseRegister())
		})
	}
}

func TestStackSlotDefinitions(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{
		Fat:        true,
		CodeLength: 128,
		Registers:  []gcinfotest.Register{{Number: 0}, {Number: 6}},
		StackSlots: []gcinfotest.StackSlot{
			{Base: 0, Offset: 8, Interior: true},
			{Base: 1, Offset: 0},
			{Base: 2, Offset: 24}, // delta, base re-read
			{Base: 1, Offset: 24}, // zero delta
		},
		Untracked: []gcinfotest.StackSlot{
			{Base: 1, Offset: 64, Pinned: true},
			{Base: 1, Offset: 72},
			{Base: 1, Offset: 512},
		},
	})

	assert.Equal(t, 2, d.NumRegisterSlots())
	assert.Equal(t, 4, d.NumStackSlots())
	assert.Equal(t, 6, d.NumTrackedSlots())
	assert.Equal(t, 3, d.NumUntrackedSlots())

	assert.Equal(t, []decoder.Slot{
		decoder.RegisterSlot(0, 0),
		decoder.RegisterSlot(6, 0),
		decoder.StackSlot(decoder.CallerSPRelative, 8, decoder.FlagInterior),
		decoder.StackSlot(decoder.SPRelative, 0, 0),
		decoder.StackSlot(decoder.FrameRegRelative, 24, 0),
		decoder.StackSlot(decoder.SPRelative, 24, 0),
	}, d.Slots())

	var untracked []decoder.Slot
	n := d.EnumerateUntrackedSlots(func(s decoder.Slot) { untracked = append(untracked, s) })
	assert.Equal(t, 3, n)
	assert.Equal(t, []decoder.Slot{
		decoder.StackSlot(decoder.SPRelative, 64, decoder.FlagPinned),
		decoder.StackSlot(decoder.SPRelative, 72, 0),
		decoder.StackSlot(decoder.SPRelative, 512, 0),
	}, untracked)

	s, err := d.Slot(4)
	require.NoError(t, err)
	assert.Equal(t, decoder.FrameRegRelative, s.Base)

	_, err = d.Slot(6)
	requireKind(t, err, errors.KindOutOfBounds)
	_, err = d.Slot(-1)
	requireKind(t, err, errors.KindOutOfBounds)
}

func TestLivenessLayouts(t *testing.T) {
	live := [][]bool{
		gcinfotest.Vector(5, 0, 2),
		gcinfotest.Vector(5),
		gcinfotest.Vector(5, 1, 2, 3, 4),
		gcinfotest.Vector(5, 0, 1, 2, 3, 4),
	}
	want := []uint64{0b00101, 0, 0b11110, 0b11111}

	for _, direct := range []bool{false, true} {
		name := "indirect"
		if direct {
			name = "direct"
		}
		t.Run(name, func(t *testing.T) {
			d := decode(t, &gcinfotest.Blob{
				CodeLength: 100,
				SafePoints: []uint32{10, 20, 30, 40},
				Registers:  []gcinfotest.Register{{Number: 1}, {Number: 2}},
				StackSlots: []gcinfotest.StackSlot{{Base: 1, Offset: 0}, {Base: 1, Offset: 8}, {Base: 1, Offset: 16}},
				Live:       live,
				Direct:     direct,
			})
			assert.Equal(t, !direct, d.IsIndirectLiveness())

			for sp, vec := range live {
				mask, err := d.LiveSlots(sp)
				require.NoError(t, err)
				assert.Equal(t, want[sp], mask, "safe point %d", sp)

				for slot, l := range vec {
					got, err := d.IsSlotLiveAtSafePoint(sp, slot)
					require.NoError(t, err)
					assert.Equal(t, l, got, "safe point %d slot %d", sp, slot)
				}
			}

			n, err := d.EnumerateLiveSlots(33, nil)
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestLivenessWidePointerEntries(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{
		CodeLength:   64,
		SafePoints:   []uint32{8, 16},
		Registers:    []gcinfotest.Register{{Number: 3}, {Number: 7}},
		Live:         [][]bool{gcinfotest.Vector(2, 1), gcinfotest.Vector(2, 0)},
		PointerWidth: 13,
	})
	mask, err := d.LiveSlots(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b10), mask)
	mask, err = d.LiveSlots(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b01), mask)
}

func TestQueryErrors(t *testing.T) {
	d := decode(t, &gcinfotest.Blob{
		CodeLength: 64,
		SafePoints: []uint32{32},
		Registers:  []gcinfotest.Register{{Number: 3}},
	})

	_, err := d.IsSlotLiveAtSafePoint(1, 0)
	requireKind(t, err, errors.KindOutOfBounds)
	_, err = d.IsSlotLiveAtSafePoint(0, 1)
	requireKind(t, err, errors.KindOutOfBounds)
	_, err = d.LiveSlots(-1)
	requireKind(t, err, errors.KindOutOfBounds)

	_, err = d.EnumerateLiveSlots(0, nil)
	e := requireKind(t, err, errors.KindNotFound)
	assert.Equal(t, errors.PhaseLiveness, e.Phase)

	n, err := d.EnumerateLiveSlots(32, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNilInput(t *testing.T) {
	for _, blob := range [][]byte{nil, {}} {
		d := decoder.New(blob)
		err := d.DecodeHeader()
		e := requireKind(t, err, errors.KindNilInput)
		assert.Equal(t, errors.PhaseHeader, e.Phase)
		assert.Equal(t, decoder.Header{}, d.Header())
	}
}

func TestOutOfOrderCalls(t *testing.T) {
	blob := (&gcinfotest.Blob{CodeLength: 64, SafePoints: []uint32{32}}).Bytes()

	d := decoder.New(blob)
	requireKind(t, d.DecodeSlotTable(), errors.KindNotDecoded)
	requireKind(t, d.DecodeSlotDefinitionsAndSafePoints(), errors.KindNotDecoded)
	_, err := d.IsSlotLiveAtSafePoint(0, 0)
	requireKind(t, err, errors.KindNotDecoded)
	_, err = d.EnumerateLiveSlots(32, nil)
	requireKind(t, err, errors.KindNotDecoded)
	_, err = d.Slot(0)
	requireKind(t, err, errors.KindNotDecoded)
	assert.Nil(t, d.Slots())
	assert.Nil(t, d.SafePoints())

	require.NoError(t, d.DecodeHeader())
	requireKind(t, d.DecodeSlotDefinitionsAndSafePoints(), errors.KindNotDecoded)
	require.NoError(t, d.DecodeSlotTable())
	require.NoError(t, d.DecodeSlotDefinitionsAndSafePoints())

	// Steps are idempotent once done.
	require.NoError(t, d.DecodeHeader())
	require.NoError(t, d.Decode())
	assert.Equal(t, []uint32{32}, d.SafePoints())
}

func TestCapacityExceeded(t *testing.T) {
	t.Run("safe points", func(t *testing.T) {
		sps := make([]uint32, decoder.MaxSafePoints+1)
		for i := range sps {
			sps[i] = uint32(i)
		}
		d := decoder.New((&gcinfotest.Blob{CodeLength: 1024, SafePoints: sps}).Bytes())
		require.NoError(t, d.DecodeHeader())
		e := requireKind(t, d.DecodeSlotTable(), errors.KindCapacityExceeded)
		assert.Equal(t, uint32(decoder.MaxSafePoints+1), e.Value)
	})

	t.Run("tracked slots", func(t *testing.T) {
		w := bitstream.NewWriter()
		w.WriteBit(false)
		w.WriteBit(false)
		w.WriteVarUint(64, decoder.CodeLengthEncBase)
		w.WriteVarUint(0, decoder.NumSafePointsEncBase)
		w.WriteBit(true)
		w.WriteVarUint(40, decoder.NumRegistersEncBase)
		w.WriteBit(true)
		w.WriteVarUint(25, decoder.NumStackSlotsEncBase)
		w.WriteVarUint(0, decoder.NumUntrackedSlotsEncBase)

		err := decoder.New(w.Bytes()).Decode()
		e := requireKind(t, err, errors.KindCapacityExceeded)
		assert.Equal(t, "trackedSlots", e.Field)
	})

	t.Run("untracked slots", func(t *testing.T) {
		w := bitstream.NewWriter()
		w.WriteBit(false)
		w.WriteBit(false)
		w.WriteVarUint(64, decoder.CodeLengthEncBase)
		w.WriteVarUint(0, decoder.NumSafePointsEncBase)
		w.WriteBit(false)
		w.WriteBit(true)
		w.WriteVarUint(0, decoder.NumStackSlotsEncBase)
		w.WriteVarUint(decoder.MaxUntrackedSlots+1, decoder.NumUntrackedSlotsEncBase)

		err := decoder.New(w.Bytes()).Decode()
		e := requireKind(t, err, errors.KindCapacityExceeded)
		assert.Equal(t, "untrackedSlots", e.Field)
	})

	t.Run("interruptible ranges", func(t *testing.T) {
		ranges := make([]gcinfotest.Range, decoder.MaxInterruptibleRanges+1)
		for i := range ranges {
			ranges[i] = gcinfotest.Range{Start: uint32(2 * i), Stop: uint32(2*i + 1)}
		}
		err := decoder.New((&gcinfotest.Blob{Fat: true, CodeLength: 512, Ranges: ranges}).Bytes()).Decode()
		requireKind(t, err, errors.KindCapacityExceeded)
	})
}

func TestInvalidStackBase(t *testing.T) {
	err := decoder.New((&gcinfotest.Blob{
		CodeLength: 64,
		StackSlots: []gcinfotest.StackSlot{{Base: 1, Offset: 8}, {Base: 3, Offset: 16}},
	}).Bytes()).Decode()
	e := requireKind(t, err, errors.KindInvalidEnum)
	assert.Equal(t, errors.PhaseSlotTable, e.Phase)
	assert.Equal(t, "stackSlotBase", e.Field)
	assert.Positive(t, e.BitPos)
}

func TestTruncatedBlob(t *testing.T) {
	blob := (&gcinfotest.Blob{
		Fat:        true,
		CodeLength: 4000,
		SafePoints: []uint32{100, 200, 300},
		Registers:  []gcinfotest.Register{{Number: 0}, {Number: 1}, {Number: 2}},
		Live:       gcinfotest.AllLive(3, 3),
	}).Bytes()

	// Live states are read on demand, so a short tail only fails the query.
	for cut := 1; cut < len(blob)-1; cut++ {
		d := decoder.New(blob[:cut])
		err := d.Decode()
		for sp := 0; err == nil && sp < d.NumSafePoints(); sp++ {
			_, err = d.LiveSlots(sp)
		}
		require.Error(t, err, "cut at %d", cut)
		requireKind(t, err, errors.KindOutOfBounds)
		assert.ErrorIs(t, err, bitstream.ErrUnexpectedEnd)
	}
}

func TestFailedStepRetriesFromSameBits(t *testing.T) {
	d := decoder.New([]byte{0x01})
	first := requireKind(t, d.DecodeHeader(), errors.KindOutOfBounds)
	again := requireKind(t, d.DecodeHeader(), errors.KindOutOfBounds)
	assert.Equal(t, "flags", first.Field)
	assert.Equal(t, first.Field, again.Field)
	assert.Equal(t, first.BitPos, again.BitPos)

	blob := (&gcinfotest.Blob{
		Fat:        true,
		CodeLength: 4000,
		SafePoints: []uint32{100, 200, 300},
		Ranges:     []gcinfotest.Range{{Start: 10, Stop: 90}},
		Registers:  []gcinfotest.Register{{Number: 0}, {Number: 1, Interior: true}},
		StackSlots: []gcinfotest.StackSlot{{Base: 1, Offset: 0x20}},
		Untracked:  []gcinfotest.StackSlot{{Base: 2, Offset: 0x40}},
		Live:       gcinfotest.AllLive(3, 3),
	}).Bytes()

	for cut := 1; cut < len(blob); cut++ {
		d := decoder.New(blob[:cut])
		steps := []func() error{d.DecodeHeader, d.DecodeSlotTable, d.DecodeSlotDefinitionsAndSafePoints}
		for _, step := range steps {
			err := step()
			if err == nil {
				continue
			}
			assert.Equal(t, err.Error(), step().Error(), "cut at %d", cut)
			break
		}
	}
}

func TestMaxBlobSize(t *testing.T) {
	blob := (&gcinfotest.Blob{
		CodeLength: 4000,
		SafePoints: []uint32{100, 200, 300, 400, 500, 600},
	}).Bytes()
	require.Greater(t, len(blob), 4)

	d := decoder.NewWithOptions(blob, decoder.Options{MaxBlobSize: 4})
	requireKind(t, d.Decode(), errors.KindOutOfBounds)

	d.Reset(blob)
	require.NoError(t, d.Decode())
}

func TestRunPastTrackedSlots(t *testing.T) {
	w := bitstream.NewWriter()
	w.WriteBit(false)
	w.WriteBit(false)
	w.WriteVarUint(16, decoder.CodeLengthEncBase)
	w.WriteVarUint(1, decoder.NumSafePointsEncBase)
	w.WriteBits(4, 4)
	w.WriteBit(true)
	w.WriteVarUint(2, decoder.NumRegistersEncBase)
	w.WriteBit(false)
	w.WriteVarUint(0, decoder.RegisterEncBase)
	w.WriteBits(0, 2)
	w.WriteVarUint(0, decoder.RegisterDeltaEncBase)
	w.WriteBit(true)
	w.WriteVarUint(0, decoder.PointerSizeEncBase)
	w.WriteBits(0, 1)
	w.WriteVarUint(1, decoder.LiveStateRLESkipEncBase)
	w.WriteVarUint(2, decoder.LiveStateRLERunEncBase) // slots [1, 4) of 2

	d := decoder.New(w.Bytes())
	require.NoError(t, d.Decode())

	live, err := d.IsSlotLiveAtSafePoint(0, 0)
	require.NoError(t, err)
	assert.False(t, live)

	_, err = d.IsSlotLiveAtSafePoint(0, 1)
	requireKind(t, err, errors.KindInvalidData)
}

func TestResetReuse(t *testing.T) {
	first := (&gcinfotest.Blob{
		CodeLength: 64,
		SafePoints: []uint32{32},
		Registers:  []gcinfotest.Register{{Number: 3}, {Number: 9}},
		Live:       gcinfotest.AllLive(1, 2),
	}).Bytes()
	second := (&gcinfotest.Blob{CodeLength: 16}).Bytes()

	var d decoder.Decoder
	d.Reset(first)
	require.NoError(t, d.Decode())
	assert.Equal(t, 2, d.NumTrackedSlots())

	d.Reset(second)
	require.NoError(t, d.Decode())
	assert.Zero(t, d.NumTrackedSlots())
	assert.Zero(t, d.NumSafePoints())
	assert.Equal(t, uint32(16), d.CodeLength())
}
