package gcinfotest

import "encoding/binary"

// Unwind describes an AMD64 unwind record followed by the function-kind
// byte and its optional RVAs.
type Unwind struct {
	Version    uint8
	Flags      uint8
	PrologSize uint8
	CodeCount  uint8
	HandlerRVA uint32

	Kind           uint8
	ReversePInvoke bool
	// AssociatedData and EHInfo are written when non-nil.
	AssociatedData *uint32
	EHInfo         *uint32
}

// Bytes encodes u with blob appended after the kind byte and RVAs.
func (u Unwind) Bytes(blob []byte) []byte {
	version := u.Version
	if version == 0 {
		version = 1
	}
	out := []byte{version | u.Flags<<3, u.PrologSize, u.CodeCount, 0}
	codes := (int(u.CodeCount) + 1) &^ 1
	out = append(out, make([]byte, 2*codes)...)
	if u.Flags&3 != 0 {
		out = binary.LittleEndian.AppendUint32(out, u.HandlerRVA)
	}

	kind := u.Kind
	if u.EHInfo != nil {
		kind |= 0x04
	}
	if u.ReversePInvoke {
		kind |= 0x08
	}
	if u.AssociatedData != nil {
		kind |= 0x10
	}
	out = append(out, kind)
	if u.AssociatedData != nil {
		out = binary.LittleEndian.AppendUint32(out, *u.AssociatedData)
	}
	if u.EHInfo != nil {
		out = binary.LittleEndian.AppendUint32(out, *u.EHInfo)
	}
	return append(out, blob...)
}

// RVA returns a pointer to v for the optional Unwind fields.
func RVA(v uint32) *uint32 {
	return &v
}
