// Package errors provides structured error types for the GCInfo decoder.
//
// Errors are categorized by Phase (which decode step failed) and Kind (error category).
// The Error type carries the field being decoded, the bit position inside the blob,
// the offending value and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseSlotTable, errors.KindInvalidEnum).
//		Field("stackBase").
//		BitPos(117).
//		Value(3).
//		Detail("unknown stack base %d", 3).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NilInput(errors.PhaseHeader)
//	err := errors.CapacityExceeded(errors.PhaseSlotTable, "tracked slots", 80, 64)
//
// Semantic checks that run after a syntactically successful decode are collected
// into a ValidationError, which lists every failed check rather than the first.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
