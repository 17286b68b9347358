package diag

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"github.com/wippyai/gcinfo"
	"github.com/wippyai/gcinfo/decoder"
)

var rawConfig = spew.ConfigState{
	Indent:                  "  ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	slot  lipgloss.Style
	ok    lipgloss.Style
	bad   lipgloss.Style
	dim   lipgloss.Style
}

// newStyles binds styles to w so that color is only emitted on terminals.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4")),
		label: r.NewStyle().Foreground(lipgloss.Color("#87CEEB")),
		slot:  r.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		ok:    r.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		bad:   r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

// printer keeps the first write error and drops later output.
type printer struct {
	w   io.Writer
	err error
	s   styles
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

// Dump writes a human readable listing of every selected function's GCInfo.
// Decode failures are printed inline; the error reports a failed write or a
// Function filter that matches nothing.
func Dump(w io.Writer, img gcinfo.Image, opts Options) error {
	fns, err := Functions(img, opts)
	if err != nil {
		return err
	}

	p := &printer{w: w, s: newStyles(w)}
	var d decoder.Decoder
	for i, fn := range fns {
		if i > 0 {
			p.printf("\n")
		}
		dumpFunction(p, &d, img, fn, opts)
	}
	return p.err
}

// DumpFunction writes the listing for a single function.
func DumpFunction(w io.Writer, img gcinfo.Image, fn gcinfo.RuntimeFunction, opts Options) error {
	p := &printer{w: w, s: newStyles(w)}
	var d decoder.Decoder
	dumpFunction(p, &d, img, fn, opts)
	return p.err
}

func dumpFunction(p *printer, d *decoder.Decoder, img gcinfo.Image, fn gcinfo.RuntimeFunction, opts Options) {
	p.printf("%s %s\n",
		p.s.title.Render(fmt.Sprintf("function %#x-%#x", fn.Begin, fn.End)),
		p.s.dim.Render(fmt.Sprintf("(%d bytes, unwind %#x)", fn.Size(), fn.UnwindData)))

	res := CheckFunction(d, img, fn, opts)
	loc := res.Location
	switch {
	case res.Status == StatusSkipped && loc.Chained:
		p.printf("  chained unwind info, no GCInfo\n")
		return
	case res.Status == StatusSkipped:
		p.printf("  %s funclet, GCInfo belongs to the parent\n", loc.Kind)
		return
	case !res.Decoded:
		p.printf("  %s %v\n", p.s.bad.Render("error:"), res.Err)
		return
	}

	p.printf("  %s %s blob at %#x", p.s.label.Render("location:"), loc.Kind, loc.Address)
	if loc.HasEHInfo {
		p.printf(", eh info %#x", loc.EHInfoRVA)
	}
	if loc.HasAssociatedData {
		p.printf(", associated data %#x", loc.AssociatedDataRVA)
	}
	if loc.ReversePInvoke {
		p.printf(", reverse p/invoke")
	}
	p.printf("\n")

	dumpHeader(p, d.Header())
	dumpTables(p, d)
	dumpLiveness(p, d)

	if opts.Raw {
		p.printf("  %s\n", p.s.label.Render("raw:"))
		raw := rawConfig.Sdump(d.Header(), d.Slots(), d.UntrackedSlots())
		for _, line := range strings.Split(strings.TrimRight(raw, "\n"), "\n") {
			p.printf("    %s\n", line)
		}
	}

	if res.Err != nil {
		p.printf("  %s %v\n", p.s.bad.Render("error:"), res.Err)
		if len(res.BadCallSites) > 0 {
			dumpCallSites(p, img, fn, res.BadCallSites)
		}
		return
	}
	p.printf("  %s\n", p.s.ok.Render("valid"))
}

func dumpHeader(p *printer, h decoder.Header) {
	form := "slim"
	if h.Fat {
		form = "fat"
	}
	p.printf("  %s %s, code length %d\n", p.s.label.Render("header:"), form, h.CodeLength)
	if h.HasGSCookie {
		p.printf("    gs cookie [%+#x], prolog %d, epilog %d\n", h.GSCookieStackSlot, h.PrologSize, h.EpilogSize)
	}
	if h.GenericsKind != decoder.GenericsNone {
		p.printf("    generics %s at [%+#x]\n", h.GenericsKind, h.GenericsContextStackSlot)
	}
	if h.StackBaseRegister != decoder.NoStackBaseRegister {
		p.printf("    stack base register %s\n", decoder.RegisterName(int(h.StackBaseRegister)))
	}
	if h.WantsReportOnlyLeaf {
		p.printf("    report only leaf\n")
	}
	if h.HasEditAndContinue {
		p.printf("    edit and continue area %d\n", h.EditAndContinuePreservedArea)
	}
	if h.HasReversePInvokeFrame {
		p.printf("    reverse p/invoke frame [%+#x]\n", h.ReversePInvokeFrameSlot)
	}
	if h.StackOutgoingAreaSize != 0 {
		p.printf("    outgoing area %d\n", h.StackOutgoingAreaSize)
	}
}

func dumpTables(p *printer, d *decoder.Decoder) {
	sps := d.SafePoints()
	offsets := make([]string, len(sps))
	for i, sp := range sps {
		offsets[i] = fmt.Sprintf("%#x", sp)
	}
	p.printf("  %s %d [%s]\n", p.s.label.Render("safe points:"), len(sps), strings.Join(offsets, " "))

	for _, r := range d.InterruptibleRanges() {
		p.printf("  %s [%#x, %#x)\n", p.s.label.Render("interruptible:"), r.Start, r.Stop)
	}

	p.printf("  %s %d\n", p.s.label.Render("tracked slots:"), d.NumTrackedSlots())
	for i, s := range d.Slots() {
		p.printf("    %2d %s\n", i, p.s.slot.Render(s.String()))
	}
	if n := d.NumUntrackedSlots(); n > 0 {
		p.printf("  %s %d\n", p.s.label.Render("untracked slots:"), n)
		d.EnumerateUntrackedSlots(func(s decoder.Slot) {
			p.printf("       %s\n", p.s.slot.Render(s.String()))
		})
	}
}

func dumpLiveness(p *printer, d *decoder.Decoder) {
	if d.NumSafePoints() == 0 {
		return
	}
	layout := "direct"
	if d.IsIndirectLiveness() {
		layout = "indirect"
	}
	p.printf("  %s %s\n", p.s.label.Render("liveness:"), layout)

	slots := d.Slots()
	for i, sp := range d.SafePoints() {
		mask, err := d.LiveSlots(i)
		if err != nil {
			p.printf("    %#06x %s %v\n", sp, p.s.bad.Render("error:"), err)
			return
		}
		var live []string
		for k := range slots {
			if mask&(1<<uint(k)) != 0 {
				live = append(live, slots[k].String())
			}
		}
		if len(live) == 0 {
			p.printf("    %#06x %s\n", sp, p.s.dim.Render("-"))
			continue
		}
		p.printf("    %#06x %s\n", sp, p.s.slot.Render(strings.Join(live, ", ")))
	}
}

func dumpCallSites(p *printer, img gcinfo.Image, fn gcinfo.RuntimeFunction, bad []uint32) {
	code, err := img.Read(fn.Begin, fn.Size())
	if err != nil {
		return
	}
	insts := Disassemble(code)
	for _, sp := range bad {
		in, ok := covering(insts, sp-1)
		if sp == 0 || !ok {
			p.printf("    %#06x %s\n", sp, p.s.bad.Render("follows no instruction"))
			continue
		}
		rel := "follows"
		if in.Offset+uint32(in.Len) != sp {
			rel = "inside"
		}
		p.printf("    %#06x %s %s\n", sp, rel, in.Text(img.Base()+uint64(fn.Begin)+uint64(in.Offset)))
	}
}

// covering returns the instruction that contains byte off.
func covering(insts []Instruction, off uint32) (Instruction, bool) {
	i := sort.Search(len(insts), func(i int) bool { return insts[i].Offset+uint32(insts[i].Len) > off })
	if i < len(insts) && insts[i].Offset <= off {
		return insts[i], true
	}
	return Instruction{}, false
}
