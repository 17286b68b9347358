package errors

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase indicates which decode step produced the error
type Phase string

const (
	PhaseHeader     Phase = "header"      // fixed-order header fields
	PhaseSlotTable  Phase = "slot_table"  // slot counts and definitions
	PhaseSafePoints Phase = "safe_points" // safe-point offsets and lookup
	PhaseLiveness   Phase = "liveness"    // live-state bitmap
	PhaseLocate     Phase = "locate"      // unwind info to blob offset
	PhaseValidate   Phase = "validate"    // post-decode sanity checks
	PhaseImage      Phase = "image"       // executable image access
)

// Kind categorizes the error
type Kind string

const (
	KindNilInput         Kind = "nil_input"
	KindOutOfBounds      Kind = "out_of_bounds"
	KindInvalidData      Kind = "invalid_data"
	KindInvalidEnum      Kind = "invalid_enum"
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindOverflow         Kind = "overflow"
	KindUnsupported      Kind = "unsupported"
	KindNotFound         Kind = "not_found"
	KindNotDecoded       Kind = "not_decoded"
	KindSanity           Kind = "sanity"
)

// Error is the structured error type used throughout the decoder
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Field  string
	Detail string
	// BitPos is the stream position in bits, or -1 when unknown.
	BitPos int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Field != "" {
		b.WriteString(" at ")
		b.WriteString(e.Field)
	}

	if e.BitPos >= 0 {
		b.WriteString(" (bit ")
		b.WriteString(strconv.Itoa(e.BitPos))
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:  phase,
			Kind:   kind,
			BitPos: -1,
		},
	}
}

// Field sets the name of the field being decoded
func (b *Builder) Field(name string) *Builder {
	b.err.Field = name
	return b
}

// BitPos sets the stream position in bits
func (b *Builder) BitPos(pos int) *Builder {
	b.err.BitPos = pos
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NilInput creates an error for a missing or empty blob
func NilInput(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilInput,
		Detail: "nil or empty blob",
		BitPos: -1,
	}
}

// Truncated wraps a failed stream read of field at bit position pos
func Truncated(phase Phase, field string, pos int, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Field:  field,
		BitPos: pos,
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds error for an index query
func OutOfBounds(phase Phase, field string, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Field:  field,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
		BitPos: -1,
	}
}

// InvalidDiscriminant creates an error for an unrecognized enum encoding
func InvalidDiscriminant(phase Phase, field string, disc uint32, maxValid uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidEnum,
		Field:  field,
		Detail: fmt.Sprintf("discriminant %d out of range (max %d)", disc, maxValid),
		Value:  disc,
		BitPos: -1,
	}
}

// CapacityExceeded creates an error for a count above a fixed decoder ceiling
func CapacityExceeded(phase Phase, what string, count, limit uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCapacityExceeded,
		Field:  what,
		Detail: fmt.Sprintf("count %d exceeds capacity %d", count, limit),
		Value:  count,
		BitPos: -1,
	}
}

// NotDecoded creates an error for a pipeline step invoked before its prerequisite
func NotDecoded(phase Phase, prerequisite string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotDecoded,
		Detail: prerequisite + " has not been decoded",
		BitPos: -1,
	}
}

// NotFound creates a not found error
func NotFound(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: detail,
		BitPos: -1,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
		BitPos: -1,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, field string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Field:  field,
		Detail: detail,
		BitPos: -1,
	}
}

// Sanity creates a semantic validation failure for field
func Sanity(field string, value any, detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindSanity,
		Field:  field,
		Detail: detail,
		Value:  value,
		BitPos: -1,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
		BitPos: -1,
	}
}

// ValidationError is returned when a decoded blob fails one or more sanity checks.
// Decoding succeeded syntactically, but the result must not be trusted.
type ValidationError struct {
	Failures []*Error
}

// Add records a failed check
func (e *ValidationError) Add(f *Error) {
	e.Failures = append(e.Failures, f)
}

// Err returns e when at least one check failed, nil otherwise
func (e *ValidationError) Err() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if len(e.Failures) == 0 {
		return "[validate] sanity: no failures recorded"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[validate] %d sanity check(s) failed:", len(e.Failures))
	for _, f := range e.Failures {
		b.WriteString("\n  ")
		if f.Field != "" {
			b.WriteString(f.Field)
			b.WriteString(": ")
		}
		b.WriteString(f.Detail)
	}
	return b.String()
}

// Unwrap exposes the individual failures to errors.Is/As
func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Is matches any *ValidationError
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// HasField reports whether a failure was recorded for field
func (e *ValidationError) HasField(field string) bool {
	for _, f := range e.Failures {
		if f.Field == field {
			return true
		}
	}
	return false
}
