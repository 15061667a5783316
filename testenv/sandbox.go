// Package testenv holds skip helpers for tests that need a shell or local
// networking.
package testenv

import (
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
)

var (
	sandboxOnce sync.Once
	sandbox     bool
)

// IsSandboxed reports whether tests should avoid spawning processes and
// binding sockets.
func IsSandboxed() bool {
	sandboxOnce.Do(func() {
		sandbox = detectSandbox()
	})
	return sandbox
}

// RequireShell skips the calling test when /bin/sh cannot be used.
func RequireShell(tb testing.TB) {
	tb.Helper()
	if IsSandboxed() {
		tb.Skip("skipping shell-dependent test in sandboxed environment (set QOSPANEL_SANDBOX=0 to override)")
	}
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		tb.Skipf("skipping: /bin/sh unavailable: %v", err)
	}
}

// RequireLoopback skips the calling test when nothing can listen on
// 127.0.0.1.
func RequireLoopback(tb testing.TB) {
	tb.Helper()
	if IsSandboxed() {
		tb.Skip("skipping network test in sandboxed environment (set QOSPANEL_SANDBOX=0 to override)")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Skipf("skipping: loopback listen failed: %v", err)
	}
	ln.Close()
}

func detectSandbox() bool {
	if val, ok := os.LookupEnv("QOSPANEL_SANDBOX"); ok {
		return isTruthy(val)
	}
	for _, key := range []string{
		"CODEX_SANDBOX_NETWORK_DISABLED",
		"SANDBOX_MODE",
		"SANDBOX",
	} {
		if val, ok := os.LookupEnv(key); ok {
			return isTruthy(val)
		}
	}
	return false
}

func isTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
