package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/donomii/qospanel/panel"
)

func TestModelAppliesPanelUpdates(t *testing.T) {
	m := NewModel()
	m.Update(tea.WindowSizeMsg{Width: 60, Height: 20})

	var sent []tea.Msg
	view := programView{send: func(msg tea.Msg) { sent = append(sent, msg) }}
	c := panel.New(panel.Options{View: view, Dialer: &stubDialer{}})
	require.NoError(t, c.Activate(panel.ContentID))

	view.AppendConsole("dd started\n")
	view.ScrollConsoleToBottom()
	view.SetGauge(panel.DefaultGauge().WithValue(900))

	for _, msg := range sent {
		m.Update(msg)
	}

	require.True(t, m.mounted)
	require.Equal(t, "dd started\n", m.ConsoleText())
	out := m.View()
	require.Contains(t, out, "Write Performance")
	require.Contains(t, out, "900.0 MB/s")
	require.Contains(t, out, "dd started")
	require.Equal(t, "#ff4500", m.gauge.FullColor)
}

func TestUnmountClearsConsole(t *testing.T) {
	m := NewModel()
	m.Update(mountMsg{})
	m.Update(appendMsg{text: "line\n"})
	m.Update(unmountMsg{})

	require.False(t, m.mounted)
	require.Empty(t, m.ConsoleText())
	require.False(t, strings.Contains(m.View(), "line"))
}

func TestQuitKeys(t *testing.T) {
	m := NewModel()
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMountRejectsUnknownContainer(t *testing.T) {
	view := programView{send: func(tea.Msg) {}}
	require.ErrorIs(t, view.Mount("sidebar"), panel.ErrNoSuchElement)
}

type stubDialer struct{}

func (stubDialer) Dial(ctx context.Context, url string, h panel.Handlers) (panel.Socket, error) {
	return stubSocket{}, nil
}

type stubSocket struct{}

func (stubSocket) Send([]byte) error { return nil }
func (stubSocket) Close() error      { return nil }
