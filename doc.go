// Package gcinfo decodes the GC stack maps (GCInfo) that an ahead-of-time
// .NET compiler emits for AMD64 code, so a precise collector can find every
// live object reference in a suspended frame.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	gcinfo/              Root package with the Image and RuntimeFunction types
//	├── decoder/         Bit-level GCInfo decoder and liveness queries
//	├── locate/          Finds a blob behind a function's unwind record
//	├── peimage/         PE/COFF image reader (sections, exception directory)
//	├── diag/            Dump and comprehensive validation over whole images
//	├── errors/          Structured error types for debugging
//	└── cmd/gcdump/      Command line dumper with an interactive browser
//
// # Quick Start
//
// Find the live references of a frame stopped at a return address:
//
//	img, err := peimage.Open("app.exe")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer img.Close()
//
//	fns := img.RuntimeFunctions()
//	i, ok := gcinfo.FindFunction(fns, rva)
//	if !ok {
//	    return
//	}
//	loc, blob, err := gcinfo.Resolve(img, fns[i], 64<<10)
//	if err != nil || !loc.HasGCInfo {
//	    return // funclets defer to their parent
//	}
//
//	d := decoder.New(blob)
//	if err := d.Decode(); err != nil {
//	    log.Fatal(err)
//	}
//	d.EnumerateLiveSlots(rva-fns[i].Begin, func(s decoder.Slot) {
//	    fmt.Println(s)
//	})
//
// # Thread Safety
//
// Images are read-only and safe for concurrent use. A Decoder is not; use
// one per frame.
package gcinfo
