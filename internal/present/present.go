// Package present renders PipelineState for the terminal.
package present

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/threadsum/internal/types"
)

const (
	HintIdle         = "Waiting for an email to be opened..."
	HintThreadClosed = "Open an email to see its summary."
	HintExtracting   = "No email content found. Please make sure an email is fully loaded."
	HintAwaiting     = "Summarizing email... Please wait."

	ToggleHide = "Hide Summary"
	ToggleShow = "Show Summary"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	buttonStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62")).Bold(true)
)

// Title is the panel heading for st.
func Title(st types.PipelineState) string {
	if st.Phase == types.PhaseError {
		return "Error"
	}
	return "Email Summary"
}

// Body is the panel text for st.
func Body(st types.PipelineState) string {
	switch st.Phase {
	case types.PhaseThreadClosed:
		return HintThreadClosed
	case types.PhaseExtracting:
		return HintExtracting
	case types.PhaseAwaitingSummary:
		return HintAwaiting
	case types.PhaseSummary:
		return st.Summary
	case types.PhaseError:
		return fmt.Sprintf("Error: %s. Please try again.", strings.TrimRight(st.Message, "."))
	}
	return HintIdle
}

// ToggleLabel is the label of the visibility button.
func ToggleLabel(visible bool) string {
	if visible {
		return ToggleHide
	}
	return ToggleShow
}

// Render draws the summary panel. A hidden panel shows only its buttons.
// spin, when set, prefixes the awaiting hint.
func Render(st types.PipelineState, visible bool, width int, spin string) string {
	buttons := buttonStyle.Render("[t] "+ToggleLabel(visible)) + "  " + buttonStyle.Render("[r] Refresh") + "  " + dimStyle.Render("[q] Quit")
	if !visible {
		return buttons
	}

	inner := width - 4
	if inner < 20 {
		inner = 20
	}

	title := titleStyle.Render(Title(st))
	body := Body(st)
	switch st.Phase {
	case types.PhaseError:
		title = errStyle.Bold(true).Render(Title(st)) + dimStyle.Render(" ("+st.Kind.String()+")")
		body = errStyle.Render(body)
	case types.PhaseAwaitingSummary:
		if spin != "" {
			body = spin + " " + body
		}
		body = activeStyle.Render(body)
	case types.PhaseIdle, types.PhaseThreadClosed, types.PhaseExtracting:
		body = dimStyle.Render(body)
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 1).
		Width(inner).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body))

	return lipgloss.JoinVertical(lipgloss.Left, panel, buttons)
}

// Plain formats st as a single unstyled line.
func Plain(st types.PipelineState) string {
	body := strings.ReplaceAll(Body(st), "\n", " ")
	return fmt.Sprintf("[%s] %s", st.Phase, body)
}

// Printer writes one plain line per state change, skipping repeats.
type Printer struct {
	w    io.Writer
	last string
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Show prints st unless it renders the same as the previous state.
func (p *Printer) Show(st types.PipelineState) {
	line := Plain(st)
	if line == p.last {
		return
	}
	p.last = line
	fmt.Fprintln(p.w, line)
}
