package panel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is an open or opening connection to the console endpoint.
type Socket interface {
	Send(data []byte) error
	Close() error
}

// Handlers are the four socket callbacks. Nil handlers are skipped.
// A Dialer delivers them one at a time, in arrival order, from a single
// goroutine per socket. OnOpen receives the socket so it can send.
type Handlers struct {
	OnOpen    func(s Socket)
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Dialer opens sockets. Dial returns at once; the outcome of connecting is
// reported through the handlers, as a browser WebSocket does.
type Dialer interface {
	Dial(ctx context.Context, url string, h Handlers) (Socket, error)
}

// WebSocketDialer connects with gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewWebSocketDialer returns a dialer with a bounded handshake.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{Dialer: &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string, h Handlers) (Socket, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &wsSocket{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, dialer, url, d.Header, h)
	return s, nil
}

type wsSocket struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *wsSocket) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, h Handlers) {
	defer close(s.done)
	defer func() {
		if h.OnClose != nil {
			h.OnClose()
		}
	}()

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if h.OnError != nil && ctx.Err() == nil {
			h.OnError(err)
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if h.OnOpen != nil {
		h.OnOpen(s)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closed
			s.mu.Unlock()
			if !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && h.OnError != nil {
				h.OnError(err)
			}
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(data)
		}
	}
}

func (s *wsSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSocketClosed
	}
	if s.conn == nil {
		return ErrSocketNotOpen
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSocket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	werr := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	cerr := conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return werr
	}
	return cerr
}

// Done is closed once the socket's event goroutine has delivered OnClose.
func (s *wsSocket) Done() <-chan struct{} { return s.done }
