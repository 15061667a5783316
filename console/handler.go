// Package console serves the console websocket: it receives the QoS
// configuration from the panel, runs the workflow it describes and streams
// the workflow output and write rate back.
package console

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/donomii/qospanel/metrics"
	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/watchedio"
	"github.com/donomii/qospanel/wire"
)

// RunFunc runs a workflow, writing its output to console.
type RunFunc func(ctx context.Context, cfg qos.Config, console io.Writer) error

// Options tune the handler. Zero values select defaults.
type Options struct {
	Logger  *zap.SugaredLogger
	Metrics *metrics.Collector
	Run     RunFunc
	// Authorize vets a decoded configuration before it runs. An error
	// rejects the session like an invalid configuration.
	Authorize     func(cfg qos.Config) error
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	ConfigTimeout time.Duration
	CloseGrace    time.Duration
	ReadLimit     int64
}

const (
	defaultPingInterval  = 30 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultConfigTimeout = time.Minute
	defaultCloseGrace    = 2 * time.Second
	defaultReadLimit     = 1 << 20
)

// ErrShuttingDown rejects connections after Shutdown.
var ErrShuttingDown = errors.New("console handler is shutting down")

// Handler is the http.Handler for wire.Path.
type Handler struct {
	opts     Options
	log      *zap.SugaredLogger
	upgrader websocket.Upgrader
	sessions Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	sessWait sync.WaitGroup
}

// NewHandler returns a handler. Without opts.Run sessions run qos.Runner.
func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector("console")
	}
	if opts.Run == nil {
		runner := &qos.Runner{Logger: opts.Logger.Named("qos")}
		opts.Run = runner.Run
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.ConfigTimeout <= 0 {
		opts.ConfigTimeout = defaultConfigTimeout
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		opts: opts,
		log:  opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Sessions lists live sessions.
func (h *Handler) Sessions() *Registry {
	return &h.sessions
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}
	h.sessWait.Add(1)
	h.mu.Unlock()
	defer h.sessWait.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.log.Warnf("Websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(h.opts.ReadLimit)

	id := uuid.NewString()
	s := &Session{
		id:      id,
		remote:  r.RemoteAddr,
		started: time.Now(),
		conn:    conn,
		log:     h.log.With("session", id),
		metrics: h.opts.Metrics,
		opts:    &h.opts,
	}
	h.serve(s)
}

func (h *Handler) serve(s *Session) {
	defer s.conn.Close()

	h.sessions.add(s)
	defer h.sessions.remove(s.id)
	h.opts.Metrics.IncrementCounter("console.sessions")
	defer h.opts.Metrics.StartTimer("console.session")()
	s.log.Infof("Console session opened from %s", s.remote)
	defer s.log.Infof("Console session closed")

	cfg, err := s.readConfig()
	if err != nil {
		if errors.Is(err, qos.ErrInvalidConfig) {
			h.reject(s, err)
			return
		}
		h.logError(s, "read configuration", err)
		return
	}
	if h.opts.Authorize != nil {
		if err := h.opts.Authorize(cfg); err != nil {
			h.reject(s, err)
			return
		}
	}

	src, err := newRateSource(cfg.Workload, s.log)
	if err != nil {
		h.reject(s, err)
		return
	}
	out := watchedio.New(nil, func(text string) {
		s.appendConsole(text)
		src.observe(text)
	}, watchedio.WithName("console "+s.id), watchedio.WithLogger(s.log))

	g, gctx := errgroup.WithContext(h.ctx)
	runDone := make(chan error, 1)
	g.Go(func() error {
		runDone <- h.opts.Run(gctx, cfg, out)
		return nil
	})
	g.Go(func() error {
		return s.pump(gctx, runDone, src, cfg.Workload.SampleInterval())
	})
	g.Go(s.readLoop)
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks the read loop when the pump fails.
		s.conn.Close()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, errPeerGone) {
		h.logError(s, "console session", err)
	}
}

func (h *Handler) reject(s *Session, err error) {
	h.opts.Metrics.IncrementCounter("console.invalid_config")
	s.log.Warnf("Rejecting configuration: %v", err)
	text := err.Error()
	if !errors.Is(err, qos.ErrInvalidConfig) {
		text = qos.ErrInvalidConfig.Error() + ": " + text
	}
	if err := s.send(wire.Message{Console: text + "\n"}); err != nil {
		h.logError(s, "send configuration error", err)
		return
	}
	s.closeWith(websocket.CloseNormalClosure, "invalid configuration")
}

func (h *Handler) logError(s *Session, what string, err error) {
	if isTransportError(err) {
		s.log.Debugf("%s: %v", what, err)
		return
	}
	s.log.Warnf("%s: %v", what, err)
}

// Shutdown cancels every session and waits for them to close, or for ctx.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.sessWait.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
