package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/donomii/qospanel/httpclient"
	"github.com/donomii/qospanel/panel"
	"github.com/donomii/qospanel/qos"
)

// fileConfig is the YAML configuration file.
type fileConfig struct {
	Server  serverConfig  `yaml:"server"`
	Logging loggingConfig `yaml:"logging"`
	// QoS is the configuration the panel sends when the console opens.
	QoS qos.Config `yaml:"qos"`
}

type serverConfig struct {
	// Listen is the host to bind; it defaults to the loopback address.
	Listen    string `yaml:"listen"`
	HTTPPort  int    `yaml:"http_port"`
	NoDesktop bool   `yaml:"no_desktop"`
}

type loggingConfig struct {
	Debug bool   `yaml:"debug"`
	File  string `yaml:"file"`
	// Quiet drops the stderr output.
	Quiet bool `yaml:"quiet"`
}

// loadConfig reads path. An empty path yields the defaults.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fileConfig{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = parseConfig(data); err != nil {
			return fileConfig{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg.QoS.Normalize()
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListenHost
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		return fileConfig{}, logerrf("http_port %d out of range", cfg.Server.HTTPPort)
	}
	return cfg, nil
}

func parseConfig(data []byte) (fileConfig, error) {
	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return fileConfig{}, err
	}
	return cfg, nil
}

// consoleConfigSource returns the configuration the terminal panel sends:
// the qos section of the config file, or the service's /api/config.
func consoleConfigSource(path, target string) (panel.ConfigSource, error) {
	if path != "" {
		cfg, err := loadConfig(path)
		if err != nil {
			return nil, err
		}
		return func() (interface{}, error) { return cfg.QoS, nil }, nil
	}
	u, err := configURL(target)
	if err != nil {
		return nil, err
	}
	return func() (interface{}, error) { return fetchPanelConfig(u) }, nil
}

// configURL maps a page or websocket URL onto the service's /api/config.
func configURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse panel url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", logerrf("unsupported panel url scheme %q", u.Scheme)
	}
	u.Path = "/api/config"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func fetchPanelConfig(u string) (json.RawMessage, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	data, status, err := httpclient.SimpleGet(context.Background(), client, u, 1<<20,
		httpclient.WithHeader("Accept", "application/json"))
	if err != nil {
		return nil, fmt.Errorf("fetch panel configuration: %w", err)
	}
	if status != http.StatusOK {
		return nil, logerrf("fetch panel configuration: %s returned %d", u, status)
	}
	if !json.Valid(data) {
		return nil, logerrf("fetch panel configuration: %s returned invalid JSON", u)
	}
	return json.RawMessage(data), nil
}
