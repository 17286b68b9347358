package gcinfo

import (
	"sort"

	"github.com/wippyai/gcinfo/errors"
	"github.com/wippyai/gcinfo/locate"
)

// RuntimeFunction is one exception directory entry: a function's code range
// and the RVA of its unwind record.
type RuntimeFunction struct {
	Begin      uint32
	End        uint32
	UnwindData uint32
}

// Size returns the function's machine code size in bytes.
func (f RuntimeFunction) Size() uint32 {
	return f.End - f.Begin
}

// Contains reports whether rva lies inside the function's code.
func (f RuntimeFunction) Contains(rva uint32) bool {
	return rva >= f.Begin && rva < f.End
}

// Image is a mapped executable image addressed by RVA.
type Image interface {
	Base() uint64
	// Size is the extent of the mapped image; every valid RVA is below it.
	Size() uint32
	// RuntimeFunctions returns the exception directory sorted by Begin.
	RuntimeFunctions() []RuntimeFunction
	// Read returns up to length bytes at rva, fewer when the range runs
	// past the end of mapped data. It fails only when rva is unmapped.
	Read(rva uint32, length uint32) ([]byte, error)
}

// FindFunction returns the index of the function containing rva.
func FindFunction(fns []RuntimeFunction, rva uint32) (int, bool) {
	i := sort.Search(len(fns), func(i int) bool { return fns[i].End > rva })
	if i < len(fns) && fns[i].Contains(rva) {
		return i, true
	}
	return -1, false
}

// unwindPrefix covers the kind byte and both optional RVAs.
const unwindPrefix = 1 + 4 + 4

// Resolve finds fn's GCInfo blob in img. The returned blob runs from the
// blob start to at most maxBlob bytes or the end of mapped data; it is nil
// for funclets and chained records.
func Resolve(img Image, fn RuntimeFunction, maxBlob int) (locate.Location, []byte, error) {
	head, err := img.Read(fn.UnwindData, 4)
	if err != nil {
		return locate.Location{}, nil, err
	}
	info, err := locate.ParseUnwindHeader(head)
	if err != nil {
		return locate.Location{}, nil, err
	}

	record, err := img.Read(fn.UnwindData, uint32(info.KindOffset()+unwindPrefix))
	if err != nil {
		return locate.Location{}, nil, err
	}
	loc, err := locate.NewResolver(img.Base()).Locate(fn.UnwindData, record)
	if err != nil || !loc.HasGCInfo {
		return loc, nil, err
	}

	blob, err := img.Read(fn.UnwindData+uint32(loc.Offset), uint32(maxBlob))
	if err != nil {
		return loc, nil, err
	}
	return loc, blob, nil
}

// MemoryImage is an Image over a flat RVA-indexed byte slice.
type MemoryImage struct {
	ImageBase uint64
	Data      []byte
	Functions []RuntimeFunction
}

func (m *MemoryImage) Base() uint64 { return m.ImageBase }

func (m *MemoryImage) Size() uint32 { return uint32(len(m.Data)) }

func (m *MemoryImage) RuntimeFunctions() []RuntimeFunction { return m.Functions }

func (m *MemoryImage) Read(rva, length uint32) ([]byte, error) {
	if uint64(rva) >= uint64(len(m.Data)) {
		return nil, errors.OutOfBounds(errors.PhaseImage, "rva", int(rva), len(m.Data))
	}
	end := min(uint64(rva)+uint64(length), uint64(len(m.Data)))
	return m.Data[rva:end], nil
}
