//go:build !cgo

package main

// StartDesktopUI is a no-op when CGO is disabled.
func StartDesktopUI(addr string) {}

// desktopUISupported reports whether the desktop UI is available in this build.
func desktopUISupported() bool { return false }
