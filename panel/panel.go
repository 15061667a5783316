// Package panel drives the QoS dashboard panel: a write performance gauge and
// a scrolling console, fed by the console websocket.
//
// The controller owns no rendering. It talks to a View, which inserts the
// panel elements into a host page and applies updates, and to a Dialer, which
// opens the socket and reports open, message, error and close events.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/donomii/qospanel/wire"
)

// Element ids used by the panel inside the host page.
const (
	ContentID            = "content"
	NamePanel            = "panel"
	NameConsoleContainer = "console_container"
	NameConsole          = "console"
)

var (
	ErrWebSocketUnsupported = errors.New("websocket is not supported")
	ErrAlreadyActive        = errors.New("panel is already active")
	ErrNoSuchElement        = errors.New("no such element")
	ErrSocketNotOpen        = errors.New("socket is not open")
	ErrSocketClosed         = errors.New("socket is closed")
)

// View renders the panel.
type View interface {
	// Mount inserts the panel, the console container and the console into
	// the container element.
	Mount(container string) error
	// SetGauge replaces the chart option.
	SetGauge(opt GaugeOption)
	AppendConsole(text string)
	ScrollConsoleToBottom()
	// Unmount removes the console container.
	Unmount()
}

// ConfigSource returns the application configuration sent when the socket
// opens.
type ConfigSource func() (interface{}, error)

// Options configure a Controller. A nil Dialer means the environment has no
// websocket support.
type Options struct {
	View    View
	Dialer  Dialer
	Config  ConfigSource
	Page    *url.URL
	Context context.Context
	Logger  *zap.SugaredLogger
}

// Controller is the panel page-module.
type Controller struct {
	opts Options
	log  *zap.SugaredLogger

	mu         sync.Mutex
	active     bool
	generation int
	socket     Socket
	option     GaugeOption
	messages   int
}

// New returns an inactive controller.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	return &Controller{opts: opts, log: log, option: DefaultGauge()}
}

func (c *Controller) configPayload() ([]byte, error) {
	if c.opts.Config == nil {
		return []byte("{}"), nil
	}
	cfg, err := c.opts.Config()
	if err != nil {
		return nil, fmt.Errorf("load panel configuration: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode panel configuration: %w", err)
	}
	return data, nil
}

// Activate renders the panel into the container and opens the console
// socket. Without websocket support nothing is rendered.
func (c *Controller) Activate(container string) error {
	if c.opts.Dialer == nil {
		c.log.Errorf("WebSocket is not supported, no console")
		return ErrWebSocketUnsupported
	}

	// The config source may fetch over the network; keep it outside mu.
	payload, err := c.configPayload()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	if err := c.opts.View.Mount(container); err != nil {
		c.mu.Unlock()
		return err
	}
	c.option = DefaultGauge()
	c.opts.View.SetGauge(c.option)
	c.active = true
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	target := ConsoleURL(c.opts.Page)
	c.log.Debugf("Opening console socket %s", target)
	sock, err := c.opts.Dialer.Dial(c.opts.Context, target, c.handlers(gen, payload))
	if err != nil {
		c.log.Errorf("Failed to open console socket %s: %v", target, err)
		return fmt.Errorf("open console socket: %w", err)
	}

	c.mu.Lock()
	if c.active && c.generation == gen {
		c.socket = sock
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	// Deactivated while dialing.
	sock.Close()
	return nil
}

func (c *Controller) handlers(gen int, payload []byte) Handlers {
	return Handlers{
		OnOpen: func(s Socket) {
			if err := s.Send(payload); err != nil {
				c.log.Warnf("Failed to send panel configuration: %v", err)
			}
		},
		OnMessage: func(data []byte) { c.handleMessage(gen, data) },
		OnError: func(err error) {
			c.log.Warnf("Console socket error: %v", err)
		},
		OnClose: func() {},
	}
}

func (c *Controller) handleMessage(gen int, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		c.log.Warnf("Dropping console message: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || gen != c.generation {
		return
	}
	c.messages++
	c.opts.View.AppendConsole(msg.Console)
	c.opts.View.ScrollConsoleToBottom()
	c.option = c.option.WithValue(msg.Rate)
	c.opts.View.SetGauge(c.option)
}

// Deactivate removes the console container and closes the socket.
func (c *Controller) Deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	sock := c.socket
	c.socket = nil
	c.opts.View.Unmount()
	c.mu.Unlock()

	if sock != nil {
		if err := sock.Close(); err != nil {
			c.log.Debugf("Closing console socket: %v", err)
		}
	}
}

// Active reports whether the panel is rendered.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Rate returns the current gauge value.
func (c *Controller) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.option.Value()
}

// Messages returns how many console messages were applied.
func (c *Controller) Messages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages
}
