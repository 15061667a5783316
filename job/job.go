// Package job runs shell commands with captured, teed output, a timeout and
// escalating termination.
package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrEmptyCommand is returned for a blank command line.
var ErrEmptyCommand = errors.New("empty command")

// DefaultKillGrace is how long a terminated command gets before SIGKILL.
const DefaultKillGrace = 5 * time.Second

// Options tune a single run.
type Options struct {
	// Timeout bounds the run; zero means no limit besides the context.
	Timeout time.Duration
	// StdoutTee and StderrTee receive output as it is produced. Writes to
	// them are serialized, so one writer may be passed for both.
	StdoutTee io.Writer
	StderrTee io.Writer
	Stdin     string
	Dir       string
	Env       []string
	KillGrace time.Duration
}

// Result describes a finished command.
type Result struct {
	ExitStatus int           `json:"exit_status"`
	Stdout     string        `json:"stdout"`
	Stderr     string        `json:"stderr"`
	Duration   time.Duration `json:"duration"`
	Killed     bool          `json:"killed"`
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func sink(buf *bytes.Buffer, tee io.Writer, mu *sync.Mutex) io.Writer {
	if tee == nil {
		return buf
	}
	return io.MultiWriter(buf, lockedWriter{mu: mu, w: tee})
}

// Run executes command with /bin/sh and waits for it. A non-zero exit status
// is reported in the Result, not as an error; errors mean the command could
// not be started.
func Run(ctx context.Context, command string, opts Options) (Result, error) {
	if strings.TrimSpace(command) == "" {
		return Result{ExitStatus: -1}, ErrEmptyCommand
	}
	grace := opts.KillGrace
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	var stdout, stderr bytes.Buffer
	var teeMu sync.Mutex
	cmd.Stdout = sink(&stdout, opts.StdoutTee, &teeMu)
	cmd.Stderr = sink(&stderr, opts.StderrTee, &teeMu)
	if opts.Stdin != "" {
		cmd.Stdin = strings.NewReader(opts.Stdin)
	}
	cmd.WaitDelay = grace
	setProcessGroup(cmd)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitStatus: -1}, fmt.Errorf("start command [%s]: %w", command, err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var expired <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var waitErr error
	killed := false
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		killed = true
		waitErr = terminate(cmd, waitDone, grace)
	case <-expired:
		killed = true
		waitErr = terminate(cmd, waitDone, grace)
	}

	return Result{
		ExitStatus: exitStatus(waitErr),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   time.Since(started),
		Killed:     killed,
	}, nil
}

// terminate asks the process group to stop, then kills it after grace.
func terminate(cmd *exec.Cmd, waitDone <-chan error, grace time.Duration) error {
	interruptGroup(cmd)
	select {
	case err := <-waitDone:
		return err
	case <-time.After(grace):
	}
	killGroup(cmd)
	return <-waitDone
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// IsLocal reports whether host names this machine.
func IsLocal(host string) bool {
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// RemoteCommand wraps command in ssh for host. An empty or local host runs
// the command as is.
func RemoteCommand(host, identityFile, command string) string {
	if IsLocal(host) {
		return command
	}
	var sb strings.Builder
	sb.WriteString("ssh -o BatchMode=yes -o StrictHostKeyChecking=no")
	if identityFile != "" {
		sb.WriteString(" -i ")
		sb.WriteString(ShellQuote(identityFile))
	}
	sb.WriteString(" ")
	sb.WriteString(ShellQuote(host))
	sb.WriteString(" ")
	sb.WriteString(ShellQuote(command))
	return sb.String()
}

// ShellQuote quotes s for /bin/sh.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
