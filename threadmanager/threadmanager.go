// threadmanager.go - named goroutines with restart and bounded shutdown
package threadmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ThreadFunc is the body of a managed goroutine. It must return once ctx is
// done.
type ThreadFunc func(ctx context.Context)

type thread struct {
	name          string
	fn            ThreadFunc
	cleanup       func()
	shouldRestart bool

	// Guarded by ThreadManager.mu.
	startTime    time.Time
	restartCount int
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// ThreadManager runs the service's long-lived goroutines. Threads that exit
// on their own are restarted by a monitor unless started with
// StartThreadOnce.
type ThreadManager struct {
	name            string
	log             *zap.SugaredLogger
	shutdownTimeout time.Duration
	monitorInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	threads      map[string]*thread
	shuttingDown bool

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// Option configures a ThreadManager.
type Option func(*ThreadManager)

// WithShutdownTimeout bounds how long Shutdown waits for threads.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(tm *ThreadManager) { tm.shutdownTimeout = timeout }
}

// WithMonitorInterval sets how often exited threads are restarted.
func WithMonitorInterval(interval time.Duration) Option {
	return func(tm *ThreadManager) { tm.monitorInterval = interval }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(tm *ThreadManager) { tm.log = log }
}

// New creates a thread manager and starts its monitor.
func New(name string, options ...Option) *ThreadManager {
	ctx, cancel := context.WithCancel(context.Background())
	tm := &ThreadManager{
		name:            name,
		log:             zap.NewNop().Sugar(),
		shutdownTimeout: 15 * time.Second,
		monitorInterval: time.Second,
		ctx:             ctx,
		cancel:          cancel,
		threads:         make(map[string]*thread),
		monitorDone:     make(chan struct{}),
	}
	for _, option := range options {
		option(tm)
	}

	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	tm.monitorCancel = monitorCancel
	go tm.monitorThreads(monitorCtx)
	return tm
}

// StartThread starts a goroutine that is restarted if it exits early.
func (tm *ThreadManager) StartThread(name string, fn ThreadFunc) error {
	return tm.StartThreadWithRestart(name, fn, true, nil)
}

// StartThreadOnce starts a goroutine that is not restarted.
func (tm *ThreadManager) StartThreadOnce(name string, fn ThreadFunc) error {
	return tm.StartThreadWithRestart(name, fn, false, nil)
}

// StartThreadWithRestart starts a goroutine. cleanup, if set, runs after
// every exit of fn.
func (tm *ThreadManager) StartThreadWithRestart(name string, fn ThreadFunc, shouldRestart bool, cleanup func()) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.shuttingDown {
		return fmt.Errorf("thread manager %s is shutting down", tm.name)
	}
	restarts := 0
	if existing, ok := tm.threads[name]; ok {
		if existing.running {
			return fmt.Errorf("thread '%s' is already running", name)
		}
		restarts = existing.restartCount + 1
	}
	th := &thread{
		name:          name,
		fn:            fn,
		cleanup:       cleanup,
		shouldRestart: shouldRestart,
		restartCount:  restarts,
	}
	tm.threads[name] = th
	tm.launchLocked(th)
	tm.log.Debugf("Starting thread '%s' (restart count: %d)", name, th.restartCount)
	return nil
}

func (tm *ThreadManager) launchLocked(th *thread) {
	ctx, cancel := context.WithCancel(tm.ctx)
	done := make(chan struct{})
	th.cancel = cancel
	th.done = done
	th.running = true
	th.startTime = time.Now()
	go tm.runThread(th, ctx, done)
}

func (tm *ThreadManager) runThread(th *thread, ctx context.Context, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			tm.log.Errorf("Thread '%s' panicked: %v\nStack: %s", th.name, r, debug.Stack())
		}
		if th.cleanup != nil {
			th.cleanup()
		}
		tm.mu.Lock()
		th.running = false
		restarts := th.restartCount
		tm.mu.Unlock()
		tm.log.Debugf("Thread '%s' stopped (restart count: %d)", th.name, restarts)
		close(done)
	}()
	th.fn(ctx)
}

func (tm *ThreadManager) monitorThreads(ctx context.Context) {
	defer close(tm.monitorDone)
	ticker := time.NewTicker(tm.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.restartExited()
		}
	}
}

func (tm *ThreadManager) restartExited() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.shuttingDown {
		return
	}
	for name, th := range tm.threads {
		if th.running || !th.shouldRestart {
			continue
		}
		tm.log.Warnf("Thread '%s' exited unexpectedly, restarting", name)
		th.restartCount++
		tm.launchLocked(th)
	}
}

// StopThread cancels one thread and waits up to timeout for it. A stopped
// thread is not restarted.
func (tm *ThreadManager) StopThread(name string, timeout time.Duration) error {
	tm.mu.Lock()
	th, ok := tm.threads[name]
	if !ok {
		tm.mu.Unlock()
		return fmt.Errorf("thread '%s' not found", name)
	}
	th.shouldRestart = false
	running, cancel, done := th.running, th.cancel, th.done
	tm.mu.Unlock()

	if !running {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("thread '%s' failed to stop within %v", name, timeout)
	}
}

// WaitForThread waits for a thread's current run to end.
func (tm *ThreadManager) WaitForThread(name string, timeout time.Duration) error {
	tm.mu.Lock()
	th, ok := tm.threads[name]
	var done chan struct{}
	if ok {
		done = th.done
	}
	tm.mu.Unlock()
	if !ok {
		return fmt.Errorf("thread '%s' not found", name)
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for thread '%s'", name)
	}
}

// ThreadStatus represents the status of a thread
type ThreadStatus struct {
	Name          string        `json:"name"`
	IsRunning     bool          `json:"is_running"`
	StartTime     time.Time     `json:"start_time"`
	Uptime        time.Duration `json:"uptime"`
	RestartCount  int           `json:"restart_count"`
	ShouldRestart bool          `json:"should_restart"`
}

// Status reports every thread, sorted by name.
func (tm *ThreadManager) Status() []ThreadStatus {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	out := make([]ThreadStatus, 0, len(tm.threads))
	for _, th := range tm.threads {
		out = append(out, ThreadStatus{
			Name:          th.name,
			IsRunning:     th.running,
			StartTime:     th.startTime,
			Uptime:        time.Since(th.startTime),
			RestartCount:  th.restartCount,
			ShouldRestart: th.shouldRestart,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsThreadRunning checks if a specific thread is running
func (tm *ThreadManager) IsThreadRunning(name string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	th, ok := tm.threads[name]
	return ok && th.running
}

// Context is cancelled when the manager shuts down.
func (tm *ThreadManager) Context() context.Context {
	return tm.ctx
}

// Shutdown cancels every thread and waits up to the shutdown timeout. It
// returns the names of threads that did not stop in time.
func (tm *ThreadManager) Shutdown() []string {
	tm.mu.Lock()
	if tm.shuttingDown {
		tm.mu.Unlock()
		return nil
	}
	tm.shuttingDown = true
	waiting := make(map[string]chan struct{})
	for name, th := range tm.threads {
		if th.running {
			waiting[name] = th.done
		}
	}
	tm.mu.Unlock()

	tm.log.Debugf("Thread manager %s shutting down %d thread(s)", tm.name, len(waiting))
	tm.monitorCancel()
	<-tm.monitorDone
	tm.cancel()

	deadline := time.NewTimer(tm.shutdownTimeout)
	defer deadline.Stop()
	var failed []string
	expired := false
	for name, done := range waiting {
		if expired {
			select {
			case <-done:
			default:
				failed = append(failed, name)
			}
			continue
		}
		select {
		case <-done:
		case <-deadline.C:
			expired = true
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)
	if len(failed) > 0 {
		tm.log.Errorf("Thread manager %s shutdown with %d failed threads: %v", tm.name, len(failed), failed)
	}
	return failed
}
