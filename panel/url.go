package panel

import (
	"net"
	"net/url"
	"strings"

	"github.com/donomii/qospanel/wire"
)

// ConsoleURL derives the console endpoint from the page location: same host
// and port, ws for http pages and wss for https pages.
func ConsoleURL(page *url.URL) string {
	scheme := "ws"
	if page != nil && (page.Scheme == "https" || page.Scheme == "wss") {
		scheme = "wss"
	}
	host := "localhost"
	if page != nil && page.Hostname() != "" {
		host = page.Hostname()
	}
	if page != nil && page.Port() != "" {
		host = net.JoinHostPort(host, page.Port())
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	u := url.URL{Scheme: scheme, Host: host, Path: wire.Path}
	return u.String()
}
