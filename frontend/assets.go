package frontend

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
)

//go:embed qos.html
var embeddedIndex []byte

//go:embed qos.js
var embeddedQoSJS []byte

//go:embed qos.css
var embeddedQoSCSS []byte

//go:embed metrics.html
var embeddedMetrics []byte

//go:embed metrics.js
var embeddedMetricsJS []byte

var embeddedAssets = map[string][]byte{
	"qos.html":     embeddedIndex,
	"qos.js":       embeddedQoSJS,
	"qos.css":      embeddedQoSCSS,
	"metrics.html": embeddedMetrics,
	"metrics.js":   embeddedMetricsJS,
}

// loadAsset returns the embedded asset, falling back to the working tree.
func loadAsset(name string) ([]byte, error) {
	if data, ok := embeddedAssets[name]; ok && len(data) > 0 {
		return data, nil
	}
	if data, err := os.ReadFile(name); err == nil {
		return data, nil
	}
	if data, err := os.ReadFile(filepath.Join("frontend", name)); err == nil {
		return data, nil
	}
	if data, ok := embeddedAssets[name]; ok && len(data) == 0 {
		return nil, errors.New("frontend asset embedded but empty: " + name)
	}
	return nil, errors.New("frontend asset not found: " + name)
}
