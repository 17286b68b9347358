// Package diag walks every function of an image and checks its GCInfo.
//
// ValidateComprehensive locates, decodes and validates each blob and
// collects the outcome in a Report; Dump prints the decoded tables. With
// Options.CheckCallSites the function body is disassembled and every safe
// point must be the return address of a CALL, which catches blobs that
// decode cleanly but belong to another function.
package diag
