package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/donomii/qospanel/panel"
)

// programView is a panel.View that forwards every update to a bubbletea
// program.
type programView struct {
	send func(tea.Msg)
}

func (v programView) Mount(container string) error {
	if container != panel.ContentID {
		return fmt.Errorf("%w: #%s", panel.ErrNoSuchElement, container)
	}
	v.send(mountMsg{})
	return nil
}

func (v programView) SetGauge(opt panel.GaugeOption) { v.send(gaugeMsg{option: opt}) }
func (v programView) AppendConsole(text string)      { v.send(appendMsg{text: text}) }
func (v programView) ScrollConsoleToBottom()         { v.send(scrollMsg{}) }
func (v programView) Unmount()                       { v.send(unmountMsg{}) }
