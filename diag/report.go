package diag

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/gcinfo"
	"github.com/wippyai/gcinfo/decoder"
	"github.com/wippyai/gcinfo/errors"
	"github.com/wippyai/gcinfo/locate"
)

// Status is the outcome of checking one function.
type Status uint8

const (
	StatusPassed Status = iota
	StatusFailed
	// StatusSkipped marks funclets and chained records, which own no blob.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "ok"
	case StatusFailed:
		return "FAIL"
	case StatusSkipped:
		return "skip"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// FunctionResult is the outcome for one exception directory entry.
type FunctionResult struct {
	Function gcinfo.RuntimeFunction
	Location locate.Location
	Status   Status
	// Decoded is set once the blob decoded; the counts are valid from then.
	Decoded bool

	NumSafePoints   int
	NumTrackedSlots int

	// Err is the locate, decode or validation failure, if any.
	Err error
	// BadCallSites lists safe points that do not follow a CALL.
	BadCallSites []uint32
}

// Report collects the results of a comprehensive validation run.
type Report struct {
	Functions []FunctionResult
	Passed    int
	Failed    int
	Skipped   int
}

// OK reports whether no function failed.
func (r *Report) OK() bool {
	return r.Failed == 0
}

// Failures returns the failed results in image order.
func (r *Report) Failures() []FunctionResult {
	var out []FunctionResult
	for _, f := range r.Functions {
		if f.Status == StatusFailed {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) String() string {
	return fmt.Sprintf("%d functions: %d ok, %d failed, %d skipped",
		len(r.Functions), r.Passed, r.Failed, r.Skipped)
}

func (r *Report) add(res FunctionResult) {
	switch res.Status {
	case StatusPassed:
		r.Passed++
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	}
	r.Functions = append(r.Functions, res)
}

// Functions returns the functions selected by opts.Function.
func Functions(img gcinfo.Image, opts Options) ([]gcinfo.RuntimeFunction, error) {
	fns := img.RuntimeFunctions()
	if opts.Function == 0 {
		return fns, nil
	}
	i, ok := gcinfo.FindFunction(fns, opts.Function)
	if !ok {
		return nil, errors.NotFound(errors.PhaseImage, fmt.Sprintf("no function contains rva %#x", opts.Function))
	}
	return fns[i : i+1], nil
}

// ValidateComprehensive locates, decodes and validates the GCInfo of every
// function in img. Per-function failures land in the report; the error is
// reserved for a Function filter that matches nothing.
func ValidateComprehensive(img gcinfo.Image, opts Options) (*Report, error) {
	fns, err := Functions(img, opts)
	if err != nil {
		return nil, err
	}

	r := &Report{Functions: make([]FunctionResult, 0, len(fns))}
	var d decoder.Decoder
	for _, fn := range fns {
		res := CheckFunction(&d, img, fn, opts)
		if res.Status == StatusFailed {
			Logger().Warn("gcinfo check failed",
				zap.Uint32("begin", fn.Begin),
				zap.Uint32("end", fn.End),
				zap.Error(res.Err),
				zap.Int("badCallSites", len(res.BadCallSites)))
		}
		r.add(res)
	}

	if ce := Logger().Check(zap.InfoLevel, "validated image"); ce != nil {
		ce.Write(zap.Int("functions", len(fns)),
			zap.Int("passed", r.Passed),
			zap.Int("failed", r.Failed),
			zap.Int("skipped", r.Skipped))
	}
	return r, nil
}

// CheckFunction runs the checks for one function, reusing d. On return d
// holds the function's decoded blob when the status is not skipped and
// decoding got that far.
func CheckFunction(d *decoder.Decoder, img gcinfo.Image, fn gcinfo.RuntimeFunction, opts Options) FunctionResult {
	res := FunctionResult{Function: fn}

	loc, blob, err := gcinfo.Resolve(img, fn, opts.blobLimit())
	res.Location = loc
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if !loc.HasGCInfo {
		res.Status = StatusSkipped
		return res
	}

	d.ResetWithOptions(blob, opts.decoderOptions())
	if err := d.Decode(); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	res.Decoded = true
	res.NumSafePoints = d.NumSafePoints()
	res.NumTrackedSlots = d.NumTrackedSlots()

	if ce := Logger().Check(zap.DebugLevel, "decoded function"); ce != nil {
		ce.Write(zap.Uint32("begin", fn.Begin),
			zap.Uint64("blob", loc.Address),
			zap.Uint32("codeLength", d.CodeLength()),
			zap.Int("safePoints", res.NumSafePoints),
			zap.Int("tracked", res.NumTrackedSlots))
	}

	if err := d.Validate(fn.Size(), opts.Limits); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	if opts.CheckCallSites && res.NumSafePoints > 0 {
		code, err := img.Read(fn.Begin, fn.Size())
		if err != nil {
			res.Status, res.Err = StatusFailed, err
			return res
		}
		if res.BadCallSites = CheckCallSites(code, d.SafePoints()); len(res.BadCallSites) > 0 {
			res.Status = StatusFailed
			res.Err = errors.New(errors.PhaseValidate, errors.KindSanity).
				Field("safePoint").
				Value(res.BadCallSites[0]).
				Detail("%d of %d safe points do not follow a call", len(res.BadCallSites), res.NumSafePoints).
				Build()
			return res
		}
	}

	res.Status = StatusPassed
	return res
}
