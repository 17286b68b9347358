// Package decoder decodes AMD64 GCInfo blobs: the bit-packed per-function
// stack maps an ahead-of-time compiler emits so a precise garbage collector
// can find every live object reference in a suspended frame.
//
// # Decoding
//
// A blob carries no length and no checksum. Decoding runs in three ordered
// steps, each picking up where the previous stopped:
//
//	d := decoder.New(blob)
//	if err := d.Decode(); err != nil {
//	    // abandon precise scanning of this frame
//	}
//
// Decode is DecodeHeader, DecodeSlotTable and
// DecodeSlotDefinitionsAndSafePoints in sequence. A failed step leaves the
// decoder unusable for queries; later steps report errors.KindNotDecoded.
//
// # Queries
//
// The stack walker resolves a return address to a safe point and visits the
// live slots there:
//
//	n, err := d.EnumerateLiveSlots(codeOffset, func(s decoder.Slot) {
//	    addr, ok := s.StackAddress(frame)
//	    ...
//	})
//
// FindSafePointIndex and IsSlotLiveAtSafePoint answer the same question one
// slot at a time.
//
// # Validation
//
// Decoding is syntactic. Validate applies the semantic tier: code length
// against the function's real size, slot counts, register numbers and safe
// point ordering.
//
// # Allocation
//
// Decoder state lives in fixed-size arrays (see MaxTrackedSlots and
// friends). Counts above them fail with errors.KindCapacityExceeded. A
// Decoder declared on the stack and bound with Reset decodes without heap
// allocation.
package decoder
