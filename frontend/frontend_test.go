package frontend

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type stubProvider struct {
	httpPort int
	config   interface{}
}

func (s stubProvider) ServiceName() string      { return "qospanel-test" }
func (s stubProvider) HTTPPort() int            { return s.httpPort }
func (s stubProvider) PanelConfig() interface{} { return s.config }

func get(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestIndexEmbedsConfigAndContainer(t *testing.T) {
	ui := New(stubProvider{httpPort: 1234, config: map[string]string{"fsname": "lustre</script>"}})

	rr := get(t, ui.HandleIndex, "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{`<div id="content"></div>`, `src="/qos.js"`, "console_websocket", "qospanel-test"} {
		if !strings.Contains(body, want) {
			t.Fatalf("index missing %q", want)
		}
	}
	if strings.Contains(body, "lustre</script>") {
		t.Fatalf("config was not escaped for the script context")
	}
	if rr := get(t, ui.HandleIndex, "/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rr.Code)
	}
}

func TestAssetsServed(t *testing.T) {
	ui := New(stubProvider{})
	cases := []struct {
		handler     http.HandlerFunc
		contentType string
		contains    string
	}{
		{ui.HandleQoSJS, "application/javascript", "Write Performance"},
		{ui.HandleQoSCSS, "text/css", ".console_container"},
		{ui.HandleMetricsPage, "text/html", "/metrics.js"},
		{ui.HandleMetricsJS, "application/javascript", "/api/metrics"},
	}
	for _, tc := range cases {
		rr := get(t, tc.handler, "/")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, tc.contentType) {
			t.Fatalf("unexpected content type %q", ct)
		}
		if !strings.Contains(rr.Body.String(), tc.contains) {
			t.Fatalf("asset missing %q", tc.contains)
		}
	}
}

func TestAPIDocsListsEndpoints(t *testing.T) {
	ui := New(stubProvider{httpPort: 8080})
	rr := get(t, ui.HandleAPIDocs, "/api")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	for _, want := range []string{"/console_websocket", "/api/sessions", "Port: 8080"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("api docs missing %q", want)
		}
	}
	if rr := get(t, ui.HandleAPIDocs, "/api/other"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestLoadAssetUnknown(t *testing.T) {
	if _, err := loadAsset("missing.html"); err == nil {
		t.Fatal("expected error for unknown asset")
	}
}
