// Package tui renders the QoS panel in a terminal: a progress bar standing in
// for the gauge and a scrolling console.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/donomii/qospanel/panel"
)

// Messages delivered by the panel view.
type (
	mountMsg   struct{}
	unmountMsg struct{}
	gaugeMsg   struct{ option panel.GaugeOption }
	appendMsg  struct{ text string }
	scrollMsg  struct{}
	statusMsg  struct{ text string }
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#06b6d4"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8"))
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#1e3a8a"))
)

// Model is the bubbletea model of the terminal panel.
type Model struct {
	width, height int
	gauge         progress.Model
	console       viewport.Model
	text          strings.Builder
	option        panel.GaugeOption
	mounted       bool
	status        string
}

// NewModel returns an unmounted panel.
func NewModel() *Model {
	g := progress.New(progress.WithSolidFill(panel.DefaultGauge().BandColor()), progress.WithoutPercentage())
	vp := viewport.New(80, 20)
	vp.SetContent("")
	return &Model{
		width:   80,
		height:  24,
		gauge:   g,
		console: vp,
		option:  panel.DefaultGauge(),
		status:  "connecting...",
	}
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
	case mountMsg:
		m.mounted = true
		m.status = "connected"
	case unmountMsg:
		m.mounted = false
		m.text.Reset()
		m.console.SetContent("")
	case gaugeMsg:
		m.option = msg.option
		m.gauge.FullColor = msg.option.BandColor()
		return m, nil
	case appendMsg:
		m.text.WriteString(msg.text)
		m.console.SetContent(m.text.String())
		return m, nil
	case scrollMsg:
		m.console.GotoBottom()
		return m, nil
	case statusMsg:
		m.status = msg.text
		return m, nil
	}
	m.console, cmd = m.console.Update(msg)
	return m, cmd
}

func (m *Model) resize(w, h int) {
	m.width = w
	m.height = h
	m.gauge.Width = max(w-4, 10)
	m.console.Width = max(w-2, 10)
	// Title, gauge, value and status lines plus the console border.
	m.console.Height = max(h-8, 3)
}

func (m *Model) View() string {
	name := "Write Performance"
	if len(m.option.Series) > 0 {
		name = m.option.Series[0].Name
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(name) + "\n")
	sb.WriteString(m.gauge.ViewAs(m.option.Fraction()) + "\n")
	sb.WriteString(fmt.Sprintf("%.1f MB/s", m.option.Value()) + "\n")
	if m.mounted {
		sb.WriteString(borderStyle.Render(m.console.View()) + "\n")
	}
	sb.WriteString(mutedStyle.Render(m.status + "  [q] quit  [up/down] scroll"))
	return sb.String()
}

// ConsoleText is everything appended to the console.
func (m *Model) ConsoleText() string {
	return m.text.String()
}
