package frontend

import "net/http"

// HandleMetricsPage serves the metrics dashboard.
func (f *Frontend) HandleMetricsPage(w http.ResponseWriter, r *http.Request) {
	serveAsset(w, "metrics.html", "text/html; charset=utf-8")
}

// HandleMetricsJS serves the metrics dashboard JavaScript.
func (f *Frontend) HandleMetricsJS(w http.ResponseWriter, r *http.Request) {
	serveAsset(w, "metrics.js", "application/javascript; charset=utf-8")
}
