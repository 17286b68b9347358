package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/gcinfo/decoder"
	"github.com/wippyai/gcinfo/diag"
	"github.com/wippyai/gcinfo/peimage"
)

func main() {
	var (
		imageFile   = flag.String("image", "", "Path to a PE32+ (AMD64) image")
		validate    = flag.Bool("validate", false, "Validate every function and print a summary")
		funcRVA     = flag.String("func", "", "Only the function containing this RVA (hex with 0x prefix)")
		raw         = flag.Bool("raw", false, "Include a structural dump of decoded tables")
		checkCalls  = flag.Bool("check-calls", false, "Require every safe point to follow a CALL")
		maxBlob     = flag.Int("max-blob", decoder.DefaultOptions().MaxBlobSize, "Maximum bytes read per GCInfo blob")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *imageFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: gcdump -image <file.exe> [-func rva] [-raw] [-check-calls]")
		fmt.Fprintln(os.Stderr, "       gcdump -image <file.exe> -validate")
		fmt.Fprintln(os.Stderr, "       gcdump -image <file.exe> -i  (interactive mode)")
		os.Exit(1)
	}

	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	decoder.SetLogger(log)
	diag.SetLogger(log)

	opts := diag.DefaultOptions()
	opts.Raw = *raw
	opts.CheckCallSites = *checkCalls
	opts.MaxBlobSize = *maxBlob
	if *funcRVA != "" {
		rva, err := strconv.ParseUint(*funcRVA, 0, 32)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: bad -func %q: %v\n", *funcRVA, err)
			os.Exit(1)
		}
		opts.Function = uint32(rva)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			log.Warn("stdout is not a terminal, falling back to a plain dump")
		} else {
			if err := runInteractive(*imageFile, opts); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	ok, err := run(*imageFile, *validate, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(2)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// run dumps or validates the image. ok is false when validation found
// failures.
func run(imageFile string, validate bool, opts diag.Options) (ok bool, err error) {
	img, err := peimage.Open(imageFile)
	if err != nil {
		return false, fmt.Errorf("open image: %w", err)
	}
	defer img.Close()

	fmt.Printf("Image: %s\n", imageFile)
	fmt.Printf("Base: %#x\n", img.Base())
	fmt.Printf("Functions: %d\n\n", len(img.RuntimeFunctions()))

	if !validate {
		if err := diag.Dump(os.Stdout, img, opts); err != nil {
			return false, fmt.Errorf("dump: %w", err)
		}
		return true, nil
	}

	report, err := diag.ValidateComprehensive(img, opts)
	if err != nil {
		return false, fmt.Errorf("validate: %w", err)
	}
	for _, f := range report.Failures() {
		fmt.Printf("%s %#x-%#x: %v\n", f.Status, f.Function.Begin, f.Function.End, f.Err)
	}
	fmt.Printf("\n%s\n", report)
	return report.OK(), nil
}
