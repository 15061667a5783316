package frontend

import (
	"bytes"
	"net/http"

	"github.com/donomii/qospanel/wire"
)

type indexData struct {
	Service       string
	HTTPPort      int
	Config        interface{}
	WebSocketPath string
}

// HandleIndex serves the host page with the QoS panel.
func (f *Frontend) HandleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var buf bytes.Buffer
	err := f.index.Execute(&buf, indexData{
		Service:       f.provider.ServiceName(),
		HTTPPort:      f.provider.HTTPPort(),
		Config:        f.provider.PanelConfig(),
		WebSocketPath: wire.Path,
	})
	if err != nil {
		http.Error(w, "render page: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

// HandleQoSJS serves the panel page-module.
func (f *Frontend) HandleQoSJS(w http.ResponseWriter, r *http.Request) {
	serveAsset(w, "qos.js", "application/javascript; charset=utf-8")
}

// HandleQoSCSS serves the panel stylesheet.
func (f *Frontend) HandleQoSCSS(w http.ResponseWriter, r *http.Request) {
	serveAsset(w, "qos.css", "text/css; charset=utf-8")
}

func serveAsset(w http.ResponseWriter, name, contentType string) {
	content, err := loadAsset(name)
	if err != nil {
		http.Error(w, name+" not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(content)
}
