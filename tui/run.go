package tui

import (
	"context"
	"fmt"
	"io"
	"net/url"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/donomii/qospanel/panel"
)

// Options configure Run.
type Options struct {
	// URL is the page or websocket URL of the panel service.
	URL    string
	Config panel.ConfigSource
	Dialer panel.Dialer
	Logger *zap.SugaredLogger
	Input  io.Reader
	Output io.Writer
}

// Run shows the panel until the user quits or ctx is done.
func Run(ctx context.Context, opts Options) error {
	page, err := url.Parse(opts.URL)
	if err != nil {
		return fmt.Errorf("parse panel url: %w", err)
	}
	if opts.Dialer == nil {
		opts.Dialer = panel.NewWebSocketDialer()
	}

	programOpts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}
	p := tea.NewProgram(NewModel(), programOpts...)

	// Cancelled when the program exits so a pending dial gives up.
	panelCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctrl := panel.New(panel.Options{
		View:    programView{send: p.Send},
		Dialer:  opts.Dialer,
		Config:  opts.Config,
		Page:    page,
		Context: panelCtx,
		Logger:  opts.Logger,
	})
	activated := make(chan struct{})
	go func() {
		defer close(activated)
		if err := ctrl.Activate(panel.ContentID); err != nil {
			p.Send(statusMsg{text: "error: " + err.Error()})
		}
	}()

	_, err = p.Run()
	cancel()
	<-activated
	ctrl.Deactivate()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
