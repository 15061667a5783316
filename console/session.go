package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/donomii/qospanel/metrics"
	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/wire"
)

// errPeerGone ends the read loop.
var errPeerGone = errors.New("console peer gone")

// Session is one connected panel.
type Session struct {
	id      string
	remote  string
	started time.Time
	conn    *websocket.Conn
	log     *zap.SugaredLogger
	metrics *metrics.Collector
	opts    *Options

	mu       sync.Mutex
	fsname   string
	pending  strings.Builder
	sentRate float64
	messages int64
	bytes    int64
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:       s.id,
		Remote:   s.remote,
		Fsname:   s.fsname,
		Started:  s.started,
		Messages: s.messages,
		Bytes:    s.bytes,
		Rate:     s.sentRate,
	}
}

func (s *Session) readConfig() (qos.Config, error) {
	if s.opts.ConfigTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.ConfigTimeout))
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return qos.Config{}, err
	}
	s.conn.SetReadDeadline(time.Time{})
	s.log.Debugf("Received configuration: %s", data)
	cfg, err := qos.DecodeConfig(data)
	if err != nil {
		return qos.Config{}, err
	}
	s.mu.Lock()
	s.fsname = cfg.Fsname
	s.mu.Unlock()
	return cfg, nil
}

func (s *Session) appendConsole(text string) {
	s.mu.Lock()
	s.pending.WriteString(text)
	s.mu.Unlock()
}

// flush sends pending console text and the rate when either changed, or
// always when force is set.
func (s *Session) flush(rate float64, force bool) error {
	s.mu.Lock()
	text := s.pending.String()
	s.pending.Reset()
	if text == "" && rate == s.sentRate && !force {
		s.mu.Unlock()
		return nil
	}
	s.sentRate = rate
	s.messages++
	s.bytes += int64(len(text))
	s.mu.Unlock()

	s.metrics.IncrementCounter("console.messages")
	s.metrics.AddCounter("console.bytes", int64(len(text)))
	s.metrics.SetGauge("console.rate", rate)
	return s.send(wire.Message{Console: text, Rate: rate})
}

func (s *Session) send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode console message: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send console message: %w", err)
	}
	return nil
}

func (s *Session) closeWith(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
}

// readLoop consumes client frames until the connection ends. The panel sends
// nothing after its configuration, so anything else is ignored.
func (s *Session) readLoop() error {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if !isTransportError(err) {
				s.log.Warnf("Console read error: %v", err)
			}
			return errPeerGone
		}
	}
}

// pump flushes console text, pings the client and closes the session once
// the workflow is done. It is the only goroutine writing data frames.
func (s *Session) pump(ctx context.Context, runDone <-chan error, src rateSource, interval time.Duration) error {
	flush := time.NewTicker(interval)
	defer flush.Stop()
	ping := time.NewTicker(s.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeWith(websocket.CloseGoingAway, "session cancelled")
			return nil
		case now := <-flush.C:
			if err := s.flush(src.rate(now), false); err != nil {
				return err
			}
		case <-ping.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		case runErr := <-runDone:
			return s.finish(runErr, src)
		}
	}
}

func (s *Session) finish(runErr error, src rateSource) error {
	if runErr != nil {
		s.log.Warnf("Workflow failed: %v", runErr)
		s.appendConsole(fmt.Sprintf("workflow failed: %v\n", runErr))
	}
	s.appendConsole(fmt.Sprintf("console session closed after %s\n", time.Since(s.started).Round(time.Millisecond)))
	if err := s.flush(src.rate(time.Now()), true); err != nil {
		return err
	}
	if err := s.closeWith(websocket.CloseNormalClosure, ""); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	// Wait for the client's close reply, but not forever.
	s.conn.SetReadDeadline(time.Now().Add(s.opts.CloseGrace))
	return nil
}
