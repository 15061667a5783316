package frontend

import "html/template"

// Provider exposes the service state the pages need.
type Provider interface {
	ServiceName() string
	HTTPPort() int
	// PanelConfig is the configuration the panel sends when its socket opens.
	PanelConfig() interface{}
}

// Frontend hosts the HTTP handlers for the HTML UI.
type Frontend struct {
	provider Provider
	index    *template.Template
}

// New returns a frontend bound to the given provider.
func New(provider Provider) *Frontend {
	return &Frontend{
		provider: provider,
		index:    template.Must(template.New("qos.html").Parse(string(embeddedIndex))),
	}
}
