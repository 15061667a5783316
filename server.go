package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/donomii/qospanel/console"
	"github.com/donomii/qospanel/frontend"
	"github.com/donomii/qospanel/metrics"
	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/threadmanager"
	"github.com/donomii/qospanel/wire"
)

const serviceName = "qospanel"

// DefaultListenHost keeps the console, which runs commands over ssh, off the
// network unless configured otherwise.
const DefaultListenHost = "127.0.0.1"

// ServerOpts configure a Server.
type ServerOpts struct {
	// Listen is the host to bind, e.g. 0.0.0.0; empty means DefaultListenHost.
	Listen string
	// HTTPPort is tried first; 0 picks a random port above 30000.
	HTTPPort int
	// Config is handed to the panel page. Console sessions must send a
	// configuration that matches it.
	Config qos.Config
	Logger *zap.SugaredLogger
	// Run overrides the session workflow.
	Run console.RunFunc
	// MetricsInterval is how often the metrics logger writes a summary.
	MetricsInterval time.Duration
}

// Server hosts the panel page, the console websocket and the JSON API.
type Server struct {
	opts    ServerOpts
	log     *zap.SugaredLogger
	started time.Time

	threads  *threadmanager.ThreadManager
	metrics  *metrics.Collector
	rules    *qos.RuleTable
	breakers *qos.HostBreakers
	console  *console.Handler
	ui       *frontend.Frontend

	mu       sync.Mutex
	httpPort int
	server   *http.Server
	listener net.Listener
	stopOnce sync.Once
}

// NewServer wires the components. It fails if the configured rules clash.
func NewServer(opts ServerOpts) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = time.Minute
	}
	if opts.Listen == "" {
		opts.Listen = DefaultListenHost
	}
	trusted := opts.Config.Clone()
	trusted.Normalize()
	rules, err := qos.RulesFromConfig(opts.Config.Rules)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	s := &Server{
		opts:     opts,
		log:      opts.Logger,
		started:  time.Now(),
		metrics:  metrics.NewCollector(serviceName),
		rules:    rules,
		breakers: qos.NewHostBreakers(qos.DefaultBreakerCooldown),
		httpPort: opts.HTTPPort,
	}
	run := opts.Run
	if run == nil {
		runner := &qos.Runner{Logger: opts.Logger.Named("qos"), Breakers: s.breakers}
		run = runner.Run
	}
	s.threads = threadmanager.New(serviceName, threadmanager.WithLogger(opts.Logger.Named("threads")))
	s.console = console.NewHandler(console.Options{
		Logger:    opts.Logger.Named("console"),
		Metrics:   s.metrics,
		Run:       run,
		Authorize: func(cfg qos.Config) error { return cfg.MatchTrusted(trusted) },
	})
	s.ui = frontend.New(s)
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.corsMiddleware(s.ui.HandleIndex))
	mux.HandleFunc("/qos.js", s.corsMiddleware(s.ui.HandleQoSJS))
	mux.HandleFunc("/qos.css", s.corsMiddleware(s.ui.HandleQoSCSS))
	mux.HandleFunc("/metrics", s.corsMiddleware(s.ui.HandleMetricsPage))
	mux.HandleFunc("/metrics.js", s.corsMiddleware(s.ui.HandleMetricsJS))
	// API reference page (exact path only to avoid clobbering other /api/* routes)
	mux.HandleFunc("/api", s.corsMiddleware(s.ui.HandleAPIDocs))
	mux.HandleFunc("/status", s.corsMiddleware(s.handleStatus))
	mux.HandleFunc("/api/config", s.corsMiddleware(s.handleConfig))
	mux.HandleFunc("/api/metrics", s.corsMiddleware(s.handleMetrics))
	mux.HandleFunc("/api/sessions", s.corsMiddleware(s.handleSessions))
	mux.HandleFunc("/api/qos/rules", s.corsMiddleware(s.handleRules))
	// The upgrade hijacks the connection, so the websocket skips the middleware.
	mux.Handle(wire.Path, s.console)
	return mux
}

// corsMiddleware adds CORS headers, counts requests and recovers panics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		s.metrics.IncrementCounter("http.requests")
		defer s.metrics.StartTimer("http.request")()

		defer func() {
			if err := recover(); err != nil {
				s.metrics.IncrementCounter("http.panics")
				s.log.Errorf("[HTTP_PANIC] %s %s: %v", r.Method, r.URL.Path, err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		next(w, r)
	}
}

// listen binds the configured port, falling back to random ports above
// 30000 when it is taken.
func (s *Server) listen() (net.Listener, int, error) {
	port := s.opts.HTTPPort
	if port == 0 {
		port = 30000 + rand.IntN(30000)
	}

	var lastErr error
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		listener, err := net.Listen("tcp", net.JoinHostPort(s.opts.Listen, strconv.Itoa(port)))
		if err == nil {
			return listener, port, nil
		}
		lastErr = err
		oldPort := port
		port = 30000 + rand.IntN(30000)
		s.log.Debugf("Port %d occupied, trying port %d (attempt %d/%d)", oldPort, port, attempt+1, maxAttempts)
	}
	return nil, 0, logerrf("no free port after %d attempts: %v", maxAttempts, lastErr)
}

// Start binds the HTTP port and starts the service threads.
func (s *Server) Start() error {
	listener, port, err := s.listen()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.httpPort = port
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()

	s.log.Infof("Starting %s (HTTP %s)", serviceName, listener.Addr())
	if err := s.threads.StartThread("http-server", s.serveHTTP); err != nil {
		listener.Close()
		return err
	}
	if err := s.threads.StartThread("metrics-logger", s.logMetrics); err != nil {
		return err
	}
	return nil
}

func (s *Server) serveHTTP(ctx context.Context) {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.console.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("Console sessions did not close: %v", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warnf("HTTP shutdown: %v", err)
		}
		<-errCh
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("HTTP server exited: %v", err)
		}
	}
}

// logMetrics writes a one-line summary every MetricsInterval.
func (s *Server) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.opts.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.snapshot()
			s.log.Infof("[METRICS] sessions=%d requests=%d console.messages=%d goroutines=%d",
				s.console.Sessions().Len(), snap.Counters["http.requests"],
				snap.Counters["console.messages"], snap.Runtime.Goroutines)
		}
	}
}

func (s *Server) snapshot() metrics.Snapshot {
	s.metrics.SetGauge("console.active_sessions", float64(s.console.Sessions().Len()))
	s.metrics.SetGauge("qos.rules", float64(s.rules.Len()))
	return s.metrics.Snapshot()
}

// BaseAddr is the host:port local clients reach the panel on. A wildcard
// bind is reached through the loopback address.
func (s *Server) BaseAddr() string {
	host := s.opts.Listen
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = DefaultListenHost
	}
	return net.JoinHostPort(host, strconv.Itoa(s.HTTPPort()))
}

// Stop closes every console session, then the HTTP server and the threads.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.log.Infof("Stopping %s", serviceName)
		if failed := s.threads.Shutdown(); len(failed) > 0 {
			s.log.Warnf("Some threads failed to shutdown: %v", failed)
		}
		// Sessions served through Handler() without Start.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.console.Shutdown(ctx); err != nil {
			s.log.Warnf("Console sessions did not close: %v", err)
		}
		s.log.Infof("%s stopped", serviceName)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"service":    serviceName,
		"version":    version,
		"http_port":  s.HTTPPort(),
		"uptime_sec": int64(time.Since(s.started).Seconds()),
		"sessions":   s.console.Sessions().Len(),
		"rules":      s.rules.Len(),
		"fsname":     s.opts.Config.Fsname,
		"threads":    s.threads.Status(),
		"breakers":   s.breakers.Status(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.PanelConfig())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.console.Sessions().List()
	if sessions == nil {
		sessions = []console.SessionInfo{}
	}
	writeJSON(w, sessions)
}

// handleRules lists the configured rules whose escaped names start with
// ?prefix=.
func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := s.rules.WithPrefix(r.URL.Query().Get("prefix"))
	if rules == nil {
		rules = []qos.Rule{}
	}
	writeJSON(w, rules)
}
