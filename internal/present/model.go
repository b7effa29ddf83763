package present

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/threadsum/internal/types"
)

// --- Messages ---

type stateMsg struct{ state types.PipelineState }

type statesClosedMsg struct{}

// Model is the interactive presenter. Visibility is its only state of its
// own; the pipeline state arrives on a channel.
type Model struct {
	states  <-chan types.PipelineState
	refresh func()

	state   types.PipelineState
	visible bool
	width   int
	spinner spinner.Model
}

// NewModel renders states as they arrive. refresh is called on the refresh
// key and must not block.
func NewModel(states <-chan types.PipelineState, refresh func()) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	return Model{
		states:  states,
		refresh: refresh,
		state:   types.Idle(),
		visible: true,
		width:   80,
		spinner: s,
	}
}

func listenStates(ch <-chan types.PipelineState) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		if !ok {
			return statesClosedMsg{}
		}
		return stateMsg{state: st}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenStates(m.states))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case stateMsg:
		m.state = msg.state
		return m, listenStates(m.states)

	case statesClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "t":
			m.visible = !m.visible
		case "r":
			if m.refresh != nil {
				m.refresh()
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	spin := ""
	if m.state.Phase == types.PhaseAwaitingSummary {
		spin = m.spinner.View()
	}
	return Render(m.state, m.visible, m.width, spin) + "\n"
}

// State returns the last rendered state.
func (m Model) State() types.PipelineState { return m.state }

// Visible reports whether the panel is shown.
func (m Model) Visible() bool { return m.visible }
