package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/gcinfo/diag"
	"github.com/wippyai/gcinfo/peimage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#90EE90"))

	skipStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// listHeight is the number of functions shown at once.
const listHeight = 20

type modelState int

const (
	stateList modelState = iota
	stateFilter
	stateDetail
)

type interactiveModel struct {
	err      error
	img      *peimage.Image
	report   *diag.Report
	opts     diag.Options
	filename string
	visible  []int
	filter   textinput.Model
	detail   viewport.Model
	selected int
	width    int
	height   int
	state    modelState
}

type loadedMsg struct {
	err    error
	img    *peimage.Image
	report *diag.Report
}

func newInteractiveModel(filename string, opts diag.Options) *interactiveModel {
	ti := textinput.New()
	ti.Prompt = "rva: "
	ti.Placeholder = "filter by hex address"
	ti.Width = 24

	return &interactiveModel{
		filename: filename,
		opts:     opts,
		filter:   ti,
		detail:   viewport.New(80, listHeight),
		state:    stateList,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadImage
}

func (m *interactiveModel) loadImage() tea.Msg {
	img, err := peimage.Open(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	report, err := diag.ValidateComprehensive(img, m.opts)
	if err != nil {
		img.Close()
		return loadedMsg{err: err}
	}
	return loadedMsg{img: img, report: report}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.detail.Width = msg.Width
		m.detail.Height = max(msg.Height-4, 1)

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.img = msg.img
		m.report = msg.report
		m.applyFilter()

	case tea.KeyMsg:
		if m.state == stateFilter {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			if m.img != nil {
				m.img.Close()
			}
			return m, tea.Quit

		case "up", "k":
			if m.state == stateList && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateList && m.selected < len(m.visible)-1 {
				m.selected++
			}

		case "/":
			if m.state == stateList {
				m.state = stateFilter
				return m, m.filter.Focus()
			}

		case "enter":
			if m.state == stateList && len(m.visible) > 0 {
				m.showDetail()
				m.state = stateDetail
				return m, nil
			}

		case "esc":
			if m.state == stateDetail {
				m.state = stateList
				return m, nil
			}
		}
	}

	if m.state == stateDetail {
		var cmd tea.Cmd
		m.detail, cmd = m.detail.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		m.filter.Blur()
		m.state = stateList
		return m, nil
	case "ctrl+c":
		if m.img != nil {
			m.img.Close()
		}
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}

// applyFilter keeps the functions whose range label contains the filter
// text.
func (m *interactiveModel) applyFilter() {
	if m.report == nil {
		return
	}
	needle := strings.ToLower(strings.TrimPrefix(m.filter.Value(), "0x"))
	m.visible = m.visible[:0]
	for i, f := range m.report.Functions {
		if needle == "" || strings.Contains(rangeLabel(f), needle) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
}

func (m *interactiveModel) showDetail() {
	f := m.report.Functions[m.visible[m.selected]]
	var b strings.Builder
	if err := diag.DumpFunction(&b, m.img, f.Function, m.opts); err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", err)))
	}
	m.detail.SetContent(b.String())
	m.detail.GotoTop()
}

func rangeLabel(f diag.FunctionResult) string {
	return fmt.Sprintf("%x-%x", f.Function.Begin, f.Function.End)
}

func (m *interactiveModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.report == nil {
		return "Loading image..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("GCInfo Browser"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(m.report.String()))
	b.WriteString("\n\n")

	switch m.state {
	case stateList, stateFilter:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		start := max(m.selected-listHeight+1, 0)
		end := min(start+listHeight, len(m.visible))
		for i := start; i < end; i++ {
			line := m.formatResult(m.report.Functions[m.visible[i]])
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		if len(m.visible) == 0 {
			b.WriteString(helpStyle.Render("  no matching functions"))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.state == stateFilter {
			b.WriteString(helpStyle.Render("type to filter • enter/esc done"))
		} else {
			b.WriteString(helpStyle.Render("↑/↓ select • / filter • enter inspect • q quit"))
		}

	case stateDetail:
		b.WriteString(m.detail.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • esc back • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatResult(f diag.FunctionResult) string {
	var status string
	switch f.Status {
	case diag.StatusPassed:
		status = okStyle.Render(fmt.Sprintf("%-4s", f.Status))
	case diag.StatusSkipped:
		status = skipStyle.Render(fmt.Sprintf("%-4s", f.Status))
	default:
		status = errorStyle.Render(fmt.Sprintf("%-4s", f.Status))
	}
	line := fmt.Sprintf("%s %#08x-%#08x", status, f.Function.Begin, f.Function.End)
	if f.Decoded {
		line += fmt.Sprintf("  %3d safe points  %2d slots", f.NumSafePoints, f.NumTrackedSlots)
	}
	return line
}

func runInteractive(filename string, opts diag.Options) error {
	p := tea.NewProgram(newInteractiveModel(filename, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
