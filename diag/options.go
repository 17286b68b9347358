package diag

import "github.com/wippyai/gcinfo/decoder"

// Options configures Dump and ValidateComprehensive.
type Options struct {
	Limits decoder.Limits

	// CheckCallSites disassembles each function and requires every safe
	// point to sit directly after a CALL instruction.
	CheckCallSites bool

	// Raw adds a structural dump of the decoded header and slot table.
	Raw bool

	// MaxBlobSize caps the bytes handed to the decoder per function.
	MaxBlobSize int

	// Function restricts the walk to the function containing this RVA.
	// Zero walks every function.
	Function uint32
}

// DefaultOptions returns default diagnostic configuration.
func DefaultOptions() Options {
	return Options{
		Limits:      decoder.DefaultLimits(),
		MaxBlobSize: decoder.DefaultOptions().MaxBlobSize,
	}
}

func (o Options) decoderOptions() decoder.Options {
	opts := decoder.DefaultOptions()
	if o.MaxBlobSize > 0 {
		opts.MaxBlobSize = o.MaxBlobSize
	}
	return opts
}

func (o Options) blobLimit() int {
	return o.decoderOptions().MaxBlobSize
}
