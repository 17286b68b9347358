// Package peimage maps a PE32+ (AMD64) executable into an RVA-addressed
// gcinfo.Image and reads its exception directory.
package peimage

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/wippyai/gcinfo"
	"github.com/wippyai/gcinfo/errors"
)

// runtimeFunctionSize is the size of one .pdata entry.
const runtimeFunctionSize = 12

// Section is one mapped section. Bytes past Data up to VirtualSize read as
// zero.
type Section struct {
	Name           string
	VirtualAddress uint32
	VirtualSize    uint32
	Data           []byte
	Executable     bool
}

func (s *Section) extent() uint32 {
	return max(s.VirtualSize, uint32(len(s.Data)))
}

func (s *Section) contains(rva uint32) bool {
	return rva >= s.VirtualAddress && rva-s.VirtualAddress < s.extent()
}

// Image is a PE image held in memory.
type Image struct {
	base      uint64
	size      uint32
	sections  []Section
	functions []gcinfo.RuntimeFunction
	closer    io.Closer
}

var _ gcinfo.Image = (*Image)(nil)

// Open opens and maps the PE file at path.
func Open(path string) (*Image, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseImage, errors.KindInvalidData, err, "open "+path)
	}
	img, err := fromFile(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	img.closer = f
	return img, nil
}

// NewImage maps a PE file read from r.
func NewImage(r io.ReaderAt) (*Image, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseImage, errors.KindInvalidData, err, "parse PE file")
	}
	return fromFile(f)
}

func fromFile(f *pe.File) (*Image, error) {
	if f.Machine != pe.IMAGE_FILE_MACHINE_AMD64 {
		return nil, errors.Unsupported(errors.PhaseImage, fmt.Sprintf("machine %#x", f.Machine))
	}
	oh, ok := f.OptionalHeader.(*pe.OptionalHeader64)
	if !ok {
		return nil, errors.Unsupported(errors.PhaseImage, "PE32 optional header")
	}

	sections := make([]Section, 0, len(f.Sections))
	for _, s := range f.Sections {
		data, err := s.Data()
		if err != nil {
			return nil, errors.Wrap(errors.PhaseImage, errors.KindOutOfBounds, err, "read section "+s.Name)
		}
		sections = append(sections, Section{
			Name:           s.Name,
			VirtualAddress: s.VirtualAddress,
			VirtualSize:    s.VirtualSize,
			Data:           data,
			Executable:     s.Characteristics&pe.IMAGE_SCN_MEM_EXECUTE != 0,
		})
	}

	var exception pe.DataDirectory
	if oh.NumberOfRvaAndSizes > pe.IMAGE_DIRECTORY_ENTRY_EXCEPTION {
		exception = oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXCEPTION]
	}
	return New(oh.ImageBase, oh.SizeOfImage, sections, exception)
}

// New builds an image from already mapped sections. exception locates the
// .pdata table; a zero directory means the image has no functions.
func New(base uint64, size uint32, sections []Section, exception pe.DataDirectory) (*Image, error) {
	img := &Image{base: base, size: size, sections: sections}
	if exception.Size == 0 {
		return img, nil
	}
	b, err := img.Read(exception.VirtualAddress, exception.Size)
	if err != nil {
		return nil, err
	}
	if uint32(len(b)) != exception.Size {
		return nil, errors.New(errors.PhaseImage, errors.KindOutOfBounds).
			Field("exceptionDirectory").
			Value(exception.VirtualAddress).
			Detail("%d-byte directory at %#x crosses a section end", exception.Size, exception.VirtualAddress).
			Build()
	}
	if img.functions, err = ParseRuntimeFunctions(b); err != nil {
		return nil, err
	}
	return img, nil
}

// ParseRuntimeFunctions decodes a .pdata table and sorts it by start RVA.
func ParseRuntimeFunctions(b []byte) ([]gcinfo.RuntimeFunction, error) {
	if len(b)%runtimeFunctionSize != 0 {
		return nil, errors.InvalidData(errors.PhaseImage, "exceptionDirectory",
			fmt.Sprintf("size %d is not a multiple of %d", len(b), runtimeFunctionSize))
	}
	fns := make([]gcinfo.RuntimeFunction, 0, len(b)/runtimeFunctionSize)
	for off := 0; off < len(b); off += runtimeFunctionSize {
		fn := gcinfo.RuntimeFunction{
			Begin:      binary.LittleEndian.Uint32(b[off:]),
			End:        binary.LittleEndian.Uint32(b[off+4:]),
			UnwindData: binary.LittleEndian.Uint32(b[off+8:]),
		}
		if fn.End < fn.Begin {
			return nil, errors.InvalidData(errors.PhaseImage, "runtimeFunction",
				fmt.Sprintf("entry %d ends at %#x before it begins at %#x", off/runtimeFunctionSize, fn.End, fn.Begin))
		}
		fns = append(fns, fn)
	}
	sort.SliceStable(fns, func(i, j int) bool { return fns[i].Begin < fns[j].Begin })
	return fns, nil
}

// Close releases the underlying file, if any.
func (i *Image) Close() error {
	if i.closer == nil {
		return nil
	}
	return i.closer.Close()
}

func (i *Image) Base() uint64 { return i.base }

func (i *Image) Size() uint32 { return i.size }

func (i *Image) RuntimeFunctions() []gcinfo.RuntimeFunction { return i.functions }

// Sections returns the mapped sections.
func (i *Image) Sections() []Section { return i.sections }

// Section returns the section containing rva.
func (i *Image) Section(rva uint32) (*Section, bool) {
	for k := range i.sections {
		if i.sections[k].contains(rva) {
			return &i.sections[k], true
		}
	}
	return nil, false
}

// Read returns up to length bytes at rva, stopping at the end of the
// section that contains rva. The result aliases section data unless it
// reaches into zero-filled space.
func (i *Image) Read(rva, length uint32) ([]byte, error) {
	s, ok := i.Section(rva)
	if !ok {
		return nil, errors.NotFound(errors.PhaseImage, fmt.Sprintf("no section contains rva %#x", rva))
	}
	off := uint64(rva - s.VirtualAddress)
	end := min(off+uint64(length), uint64(s.extent()))
	if end <= uint64(len(s.Data)) {
		return s.Data[off:end], nil
	}
	out := make([]byte, end-off)
	if off < uint64(len(s.Data)) {
		copy(out, s.Data[off:])
	}
	return out, nil
}
