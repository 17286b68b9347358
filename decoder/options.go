package decoder

// Options configures decoding.
type Options struct {
	// MaxBlobSize caps how many bytes of the blob slice are ever read. The
	// format has no length field, so this bounds wild reads on corrupt input.
	MaxBlobSize int
}

// DefaultOptions returns default decoding configuration.
func DefaultOptions() Options {
	return Options{
		MaxBlobSize: 64 << 10,
	}
}

// Limits are the sanity bounds applied by Validate.
type Limits struct {
	MaxTrackedSlots  uint32
	MaxRegisterSlots uint32
	// CodeLengthFactor bounds the encoded code length relative to the
	// function's machine code size.
	CodeLengthFactor uint32
}

// DefaultLimits returns the bounds observed on well-formed producers.
func DefaultLimits() Limits {
	return Limits{
		MaxTrackedSlots:  300,
		MaxRegisterSlots: NumRegisters,
		CodeLengthFactor: 10,
	}
}
