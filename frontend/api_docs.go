package frontend

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/donomii/qospanel/wire"
)

type endpoint struct {
	verb, path, about, link string
}

var apiSections = []struct {
	title     string
	endpoints []endpoint
}{
	{"Panel", []endpoint{
		{"GET", "/", "Host page with the QoS panel.", "/"},
		{"GET", "/qos.js", "Panel page-module.", ""},
		{"GET", wire.Path, "Console websocket. Send the configuration object once; receive {\"console\", \"rate\"} messages.", ""},
	}},
	{"Service", []endpoint{
		{"GET", "/status", "Service status JSON.", "/status"},
		{"GET", "/api/config", "Configuration sent by the panel.", "/api/config"},
		{"GET", "/api/sessions", "Live console sessions.", "/api/sessions"},
		{"GET", "/api/qos/rules?prefix=...", "Configured TBF rules by escaped name prefix.", "/api/qos/rules"},
	}},
	{"Metrics", []endpoint{
		{"GET", "/metrics", "Metrics dashboard.", "/metrics"},
		{"GET", "/api/metrics", "Metrics snapshot JSON.", "/api/metrics"},
	}},
}

// HandleAPIDocs serves a human-friendly HTML page listing API endpoints.
func (f *Frontend) HandleAPIDocs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api" { // keep exact match so /api/* routes work normally
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	service := html.EscapeString(f.provider.ServiceName())
	httpPort := fmt.Sprintf("%d", f.provider.HTTPPort())

	var sb strings.Builder
	sb.WriteString(`<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>API Reference - ` + service + `</title>
    <style>
        body { font-family: Arial, sans-serif; background: #0f172a; color: #e5e7eb; margin: 0; }
        .container { max-width: 1000px; margin: 0 auto; padding: 30px; }
        .header { text-align: center; margin-bottom: 20px; }
        .card { background: rgba(15, 15, 30, 0.9); border: 1px solid rgba(59,130,246,0.3); border-radius: 10px; padding: 18px; margin: 14px 0; }
        .section h2 { color: #06b6d4; margin: 24px 0 8px; }
        .code { font-family: ui-monospace, SFMono-Regular, Menlo, Monaco, Consolas, monospace; }
        .verb { padding: 2px 6px; border-radius: 4px; font-size: 12px; margin-right: 6px; background: rgba(34,197,94,0.15); border: 1px solid rgba(34,197,94,0.4); }
        a { color: #60a5fa; text-decoration: none; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>API Reference</h1>
            <div style="color:#9ca3af">` + service + ` &bull; Port: ` + httpPort + `</div>
            <div style="margin-top:10px;"><a href="/">&larr; Back to the panel</a></div>
        </div>
`)
	for _, section := range apiSections {
		sb.WriteString(`        <div class="section">
            <h2>` + section.title + `</h2>
`)
		for _, ep := range section.endpoints {
			sb.WriteString(`            <div class="card">
                <div><span class="verb">` + ep.verb + `</span> <span class="code">` + html.EscapeString(ep.path) + `</span></div>
                <div>` + html.EscapeString(ep.about) + `</div>
`)
			if ep.link != "" {
				sb.WriteString(`                <div><a href="` + ep.link + `">Open</a></div>
`)
			}
			sb.WriteString("            </div>\n")
		}
		sb.WriteString("        </div>\n")
	}
	sb.WriteString(`    </div>
</body>
</html>`)

	w.Write([]byte(sb.String()))
}
