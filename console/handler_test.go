package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/donomii/qospanel/metrics"
	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/testenv"
	"github.com/donomii/qospanel/wire"
)

func startServer(t *testing.T, opts Options) (*Handler, *httptest.Server) {
	t.Helper()
	testenv.RequireLoopback(t)
	h := NewHandler(opts)
	mux := http.NewServeMux()
	mux.Handle(wire.Path, h)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Shutdown(ctx)
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, config string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + wire.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(config)))
	return conn
}

// readUntilClose collects messages until the connection ends.
func readUntilClose(t *testing.T, conn *websocket.Conn) ([]wire.Message, error) {
	t.Helper()
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var msgs []wire.Message
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return msgs, err
		}
		msg, err := wire.Decode(data)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func consoleText(msgs []wire.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(m.Console)
	}
	return sb.String()
}

func TestInvalidConfigGetsOneMessageThenClose(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	collector := metrics.NewCollector("test")
	ran := make(chan struct{}, 1)
	_, srv := startServer(t, Options{
		Metrics: collector,
		Run: func(ctx context.Context, cfg qos.Config, console io.Writer) error {
			ran <- struct{}{}
			return nil
		},
	})

	msgs, err := readUntilClose(t, dial(t, srv, `{"tbf_type": "bogus"}`))

	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	require.Len(t, msgs, 1)
	require.True(t, strings.HasPrefix(msgs[0].Console, "invalid configuration: "), msgs[0].Console)
	require.Contains(t, msgs[0].Console, `unknown tbf_type "bogus"`)
	require.Zero(t, msgs[0].Rate)
	require.Empty(t, ran)
	require.Equal(t, int64(1), collector.Counter("console.invalid_config"))
}

func TestAuthorizeRejectsBeforeRun(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	collector := metrics.NewCollector("test")
	ran := make(chan struct{}, 1)
	seen := make(chan qos.Config, 1)
	_, srv := startServer(t, Options{
		Metrics: collector,
		Run: func(ctx context.Context, cfg qos.Config, console io.Writer) error {
			ran <- struct{}{}
			return nil
		},
		Authorize: func(cfg qos.Config) error {
			seen <- cfg
			return errors.New("workload is not allowed")
		},
	})

	msgs, err := readUntilClose(t, dial(t, srv, `{"fsname": "lustre", "workload": {"command": "id"}}`))

	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	require.Len(t, msgs, 1)
	require.Equal(t, "invalid configuration: workload is not allowed\n", msgs[0].Console)
	require.Equal(t, "id", (<-seen).Workload.Command)
	require.Empty(t, ran)
	require.Equal(t, int64(1), collector.Counter("console.invalid_config"))
}

func TestCrossOriginUpgradeIsForbidden(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	h, srv := startServer(t, Options{})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + wire.Path

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	conn.Close()
	require.Eventually(t, func() bool { return h.Sessions().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestNonJSONConfigIsRejected(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	_, srv := startServer(t, Options{})

	msgs, err := readUntilClose(t, dial(t, srv, `hello`))

	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Console, "invalid configuration")
}

func TestWorkflowOutputAndRateAreRelayed(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	collector := metrics.NewCollector("test")
	got := make(chan qos.Config, 1)
	_, srv := startServer(t, Options{
		Metrics: collector,
		Run: func(ctx context.Context, cfg qos.Config, console io.Writer) error {
			got <- cfg
			fmt.Fprint(console, "starting dd\n")
			time.Sleep(120 * time.Millisecond)
			fmt.Fprint(console, "104857600 bytes copied, 8.4 s, 12.5 MB/s\n")
			time.Sleep(120 * time.Millisecond)
			fmt.Fprint(console, "done\n")
			return nil
		},
	})

	msgs, err := readUntilClose(t, dial(t, srv, `{
    "fsname": "lustre",
    "workload": {"sample_interval_ms": 50}
}`))

	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	require.Equal(t, "lustre", (<-got).Fsname)
	text := consoleText(msgs)
	require.True(t, strings.HasPrefix(text, "starting dd\n104857600 bytes copied, 8.4 s, 12.5 MB/s\ndone\n"), text)
	require.Contains(t, text, "console session closed after")
	require.Equal(t, 12.5, msgs[len(msgs)-1].Rate)
	require.GreaterOrEqual(t, len(msgs), 2)
	require.Equal(t, int64(len(msgs)), collector.Counter("console.messages"))
	require.Equal(t, int64(1), collector.Counter("console.sessions"))
}

func TestWorkflowErrorIsReported(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	_, srv := startServer(t, Options{
		Run: func(ctx context.Context, cfg qos.Config, console io.Writer) error {
			return errors.New("no MGS host found")
		},
	})

	msgs, err := readUntilClose(t, dial(t, srv, `{}`))

	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	require.Contains(t, consoleText(msgs), "workflow failed: no MGS host found\n")
}

func TestShellWorkloadEndToEnd(t *testing.T) {
	testenv.RequireShell(t)
	t.Cleanup(func() { goleak.VerifyNone(t) })
	_, srv := startServer(t, Options{})

	msgs, err := readUntilClose(t, dial(t, srv, `{
    "workload": {"command": "printf 'one\\ntwo\\n'; echo 7 MB/s", "sample_interval_ms": 50}
}`))

	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error %v", err)
	text := consoleText(msgs)
	require.Contains(t, text, "one\ntwo\n7 MB/s\n")
	require.Less(t, strings.Index(text, "QoS session for"), strings.Index(text, "one\n"))
	require.Equal(t, float64(7), msgs[len(msgs)-1].Rate)
}

func TestClientDisconnectCancelsWorkflow(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	started := make(chan struct{})
	cancelled := make(chan struct{})
	h, srv := startServer(t, Options{
		Run: func(ctx context.Context, cfg qos.Config, console io.Writer) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	})

	conn := dial(t, srv, `{"fsname": "lustre"}`)
	<-started
	require.Eventually(t, func() bool { return h.Sessions().Len() == 1 }, 5*time.Second, 10*time.Millisecond)
	info := h.Sessions().List()[0]
	require.Equal(t, "lustre", info.Fsname)
	_, ok := h.Sessions().Get(info.ID)
	require.True(t, ok)

	conn.Close()

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow was not cancelled after the client left")
	}
	require.Eventually(t, func() bool { return h.Sessions().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownClosesSessions(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	started := make(chan struct{})
	h, srv := startServer(t, Options{
		Run: func(ctx context.Context, cfg qos.Config, console io.Writer) error {
			close(started)
			<-ctx.Done()
			return nil
		},
	})

	conn := dial(t, srv, `{}`)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(ctx))

	_, err := readUntilClose(t, conn)
	require.Error(t, err)

	resp, err := http.Get(srv.URL + wire.Path)
	require.NoError(t, err)
	resp.Body.Close()
	http.DefaultClient.CloseIdleConnections()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestIsTransportError(t *testing.T) {
	require.False(t, isTransportError(nil))
	require.False(t, isTransportError(errors.New("boom")))
	require.True(t, isTransportError(context.Canceled))
	require.True(t, isTransportError(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	require.False(t, isTransportError(&websocket.CloseError{Code: websocket.CloseProtocolError}))
	require.True(t, isTransportError(fmt.Errorf("send: %w", websocket.ErrCloseSent)))
}
