//go:build cgo

// desktop_ui.go - Native window showing the QoS panel using the system WebView
package main

import (
	"fmt"
	"runtime"

	webview "github.com/webview/webview_go"
)

// StartDesktopUI opens a native window on the panel page. It blocks until
// the window closes.
func StartDesktopUI(addr string) {
	url := fmt.Sprintf("http://%s/", addr)

	// webview requires main thread on macOS
	if runtime.GOOS == "darwin" {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	w := webview.New(false)
	defer w.Destroy()
	w.SetTitle("QoS Panel")
	w.SetSize(1000, 760, webview.HintNone)
	w.Navigate(url)
	w.Run()
}

// desktopUISupported reports whether the desktop UI is available in this build.
func desktopUISupported() bool { return true }
