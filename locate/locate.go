// Package locate finds a function's GCInfo blob inside its AMD64 unwind
// record.
//
// An ahead-of-time compiled image stores, for every function, the standard
// x64 unwind info followed by one function-kind byte, up to two optional
// 4-byte RVAs and then the GCInfo blob:
//
//	unwind header (4 bytes)
//	unwind codes  (2 bytes each, count rounded up to even)
//	handler RVA   (4 bytes, UNW_FLAG_EHANDLER or UNW_FLAG_UHANDLER)
//	kind byte     (function kind in bits 0-1, flags above)
//	associated data RVA (4 bytes, optional)
//	EH info RVA         (4 bytes, optional)
//	GCInfo blob
//
// Only root functions own a blob. Handler and filter funclets and chained
// records defer to their parent.
package locate

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/gcinfo/errors"
)

// DefaultImageBase is the preferred load address of a 64-bit PE image.
const DefaultImageBase = 0x140000000

// Unwind info flags, from the high 5 bits of the first header byte.
const (
	FlagEHandler  = 0x01
	FlagUHandler  = 0x02
	FlagChainInfo = 0x04
)

// Kind byte flags.
const (
	KindFlagHasEHInfo         = 0x04
	KindFlagReversePInvoke    = 0x08
	KindFlagHasAssociatedData = 0x10

	kindMask = 0x03
)

const (
	unwindHeaderSize = 4
	unwindCodeSize   = 2
	rvaSize          = 4
)

// FunctionKind classifies a function body.
type FunctionKind uint8

const (
	KindRoot FunctionKind = iota
	KindHandler
	KindFilter
)

// ParseFunctionKind extracts the function kind from a kind byte.
func ParseFunctionKind(b byte) (FunctionKind, error) {
	k := b & kindMask
	if k > byte(KindFilter) {
		return 0, errors.InvalidDiscriminant(errors.PhaseLocate, "functionKind", uint32(k), uint32(KindFilter))
	}
	return FunctionKind(k), nil
}

func (k FunctionKind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindHandler:
		return "handler"
	case KindFilter:
		return "filter"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// UnwindInfo is the fixed part of an x64 unwind record.
type UnwindInfo struct {
	Version             uint8
	Flags               uint8
	PrologSize          uint8
	UnwindCodeCount     uint8
	FrameRegister       uint8
	FrameOffset         uint8
	ExceptionHandlerRVA uint32
}

// ParseUnwindHeader parses the fixed 4-byte unwind header. The result is
// enough for KindOffset; ExceptionHandlerRVA stays zero.
func ParseUnwindHeader(b []byte) (UnwindInfo, error) {
	if len(b) < unwindHeaderSize {
		return UnwindInfo{}, errors.New(errors.PhaseLocate, errors.KindOutOfBounds).
			Field("unwindInfo").
			Detail("record of %d bytes shorter than the %d-byte header", len(b), unwindHeaderSize).
			Build()
	}
	u := UnwindInfo{
		Version:         b[0] & 0x07,
		Flags:           b[0] >> 3,
		PrologSize:      b[1],
		UnwindCodeCount: b[2],
		FrameRegister:   b[3] & 0x0F,
		FrameOffset:     b[3] >> 4,
	}
	if u.Version != 1 && u.Version != 2 {
		return UnwindInfo{}, errors.Unsupported(errors.PhaseLocate, fmt.Sprintf("unwind info version %d", u.Version))
	}
	return u, nil
}

// ParseUnwindInfo parses the fixed unwind header and, when present, the
// exception handler RVA.
func ParseUnwindInfo(b []byte) (UnwindInfo, error) {
	u, err := ParseUnwindHeader(b)
	if err != nil {
		return UnwindInfo{}, err
	}
	if u.HasHandler() {
		off := u.KindOffset() - rvaSize
		if len(b) < off+rvaSize {
			return UnwindInfo{}, errors.OutOfBounds(errors.PhaseLocate, "exceptionHandlerRVA", off, len(b))
		}
		u.ExceptionHandlerRVA = binary.LittleEndian.Uint32(b[off:])
	}
	return u, nil
}

// HasHandler reports whether an exception or termination handler RVA follows
// the unwind codes.
func (u UnwindInfo) HasHandler() bool {
	return u.Flags&(FlagEHandler|FlagUHandler) != 0
}

// IsChained reports whether the record continues a parent's unwind info.
func (u UnwindInfo) IsChained() bool {
	return u.Flags&FlagChainInfo != 0
}

// KindOffset returns the offset of the function-kind byte from the start of
// the unwind record.
func (u UnwindInfo) KindOffset() int {
	codes := (int(u.UnwindCodeCount) + 1) &^ 1
	off := unwindHeaderSize + codes*unwindCodeSize
	if u.HasHandler() {
		off += rvaSize
	}
	return off
}

// Location describes what follows a function's unwind codes.
type Location struct {
	Kind    FunctionKind
	Chained bool
	// HasGCInfo is set for root functions only. Offset and Address are
	// meaningful only when it is set.
	HasGCInfo bool
	// Offset is the blob offset from the start of the unwind record.
	Offset int
	// Address is the blob's virtual address.
	Address uint64

	ReversePInvoke    bool
	HasAssociatedData bool
	AssociatedDataRVA uint32
	HasEHInfo         bool
	EHInfoRVA         uint32
}

// BlobOffset computes, from the unwind info and the kind byte, the offset of
// the GCInfo blob from the start of the unwind record. ok is false for
// chained records and funclets.
func BlobOffset(info UnwindInfo, kind byte) (offset int, ok bool, err error) {
	if info.IsChained() {
		return 0, false, nil
	}
	k, err := ParseFunctionKind(kind)
	if err != nil {
		return 0, false, err
	}
	if k != KindRoot {
		return 0, false, nil
	}
	offset = info.KindOffset() + 1
	if kind&KindFlagHasAssociatedData != 0 {
		offset += rvaSize
	}
	if kind&KindFlagHasEHInfo != 0 {
		offset += rvaSize
	}
	return offset, true, nil
}

// Resolver locates GCInfo blobs in a loaded image.
type Resolver struct {
	ImageBase uint64
}

// NewResolver creates a resolver for an image loaded at imageBase.
func NewResolver(imageBase uint64) *Resolver {
	return &Resolver{ImageBase: imageBase}
}

// Locate examines the unwind record at unwindRVA. record holds the record's
// bytes and at least everything up to the blob.
func (r *Resolver) Locate(unwindRVA uint32, record []byte) (Location, error) {
	info, err := ParseUnwindInfo(record)
	if err != nil {
		return Location{}, err
	}
	if info.IsChained() {
		return Location{Chained: true}, nil
	}

	kindOff := info.KindOffset()
	if kindOff >= len(record) {
		return Location{}, errors.OutOfBounds(errors.PhaseLocate, "functionKind", kindOff, len(record))
	}
	kindByte := record[kindOff]
	kind, err := ParseFunctionKind(kindByte)
	if err != nil {
		return Location{}, err
	}

	loc := Location{
		Kind:              kind,
		ReversePInvoke:    kindByte&KindFlagReversePInvoke != 0,
		HasAssociatedData: kindByte&KindFlagHasAssociatedData != 0,
		HasEHInfo:         kindByte&KindFlagHasEHInfo != 0,
	}
	if kind != KindRoot {
		return loc, nil
	}

	off := kindOff + 1
	if loc.HasAssociatedData {
		if loc.AssociatedDataRVA, err = readRVA(record, off, "associatedDataRVA"); err != nil {
			return Location{}, err
		}
		off += rvaSize
	}
	if loc.HasEHInfo {
		if loc.EHInfoRVA, err = readRVA(record, off, "ehInfoRVA"); err != nil {
			return Location{}, err
		}
		off += rvaSize
	}

	loc.HasGCInfo = true
	loc.Offset = off
	loc.Address = r.ImageBase + uint64(unwindRVA) + uint64(off)
	return loc, nil
}

func readRVA(b []byte, off int, field string) (uint32, error) {
	if off+rvaSize > len(b) {
		return 0, errors.OutOfBounds(errors.PhaseLocate, field, off, len(b))
	}
	return binary.LittleEndian.Uint32(b[off:]), nil
}
