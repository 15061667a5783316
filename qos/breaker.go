package qos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/donomii/qospanel/job"
	"github.com/donomii/qospanel/syncmap"
)

// DefaultBreakerCooldown is how long a tripped host stays blocked.
const DefaultBreakerCooldown = 30 * time.Second

// ErrCircuitOpen means a host's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// sshConnectFailure is the exit status ssh uses for its own errors.
const sshConnectFailure = 255

type hostBreaker struct {
	open      atomic.Bool
	reason    atomic.Pointer[string]
	trippedAt atomic.Int64
}

// BreakerStatus is one host's breaker state.
type BreakerStatus struct {
	Host      string    `json:"host"`
	Open      bool      `json:"open"`
	Reason    string    `json:"reason,omitempty"`
	TrippedAt time.Time `json:"tripped_at,omitempty"`
}

// HostBreakers short-circuits commands to hosts whose ssh connection failed
// within the cooldown. They are shared across sessions.
type HostBreakers struct {
	cooldown time.Duration
	hosts    *syncmap.SyncMap[string, *hostBreaker]
	now      func() time.Time
}

// NewHostBreakers returns breakers with the given cooldown, or the default
// when cooldown is not positive.
func NewHostBreakers(cooldown time.Duration) *HostBreakers {
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &HostBreakers{
		cooldown: cooldown,
		hosts:    syncmap.New[string, *hostBreaker](),
		now:      time.Now,
	}
}

// Trip opens host's breaker.
func (b *HostBreakers) Trip(host string, cause error) {
	hb, _ := b.hosts.LoadOrStore(host, &hostBreaker{})
	reason := fmt.Sprintf("ssh to %s failed: %v", host, cause)
	hb.reason.Store(&reason)
	hb.trippedAt.Store(b.now().UnixNano())
	hb.open.Store(true)
}

// Reset closes host's breaker.
func (b *HostBreakers) Reset(host string) {
	if hb, ok := b.hosts.Load(host); ok {
		hb.open.Store(false)
		hb.reason.Store(nil)
		hb.trippedAt.Store(0)
	}
}

// Check returns an error wrapping ErrCircuitOpen while host is blocked. An
// expired breaker is reset.
func (b *HostBreakers) Check(host string) error {
	hb, ok := b.hosts.Load(host)
	if !ok || !hb.open.Load() {
		return nil
	}
	trippedAt := time.Unix(0, hb.trippedAt.Load())
	elapsed := b.now().Sub(trippedAt)
	if elapsed >= b.cooldown {
		b.Reset(host)
		return nil
	}
	reason := ""
	if r := hb.reason.Load(); r != nil {
		reason = *r
	}
	return fmt.Errorf("%w for host [%s]; reason: %s; elapsed: %s; cooldown: %s",
		ErrCircuitOpen, host, reason, elapsed.Round(time.Millisecond), b.cooldown)
}

// Status lists every host seen, sorted by name.
func (b *HostBreakers) Status() []BreakerStatus {
	var out []BreakerStatus
	b.hosts.Range(func(host string, hb *hostBreaker) bool {
		st := BreakerStatus{Host: host, Open: hb.open.Load()}
		if r := hb.reason.Load(); r != nil {
			st.Reason = *r
		}
		if ns := hb.trippedAt.Load(); ns != 0 {
			st.TrippedAt = time.Unix(0, ns)
		}
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Wrap guards exec with the breakers. Local hosts are never blocked.
func (b *HostBreakers) Wrap(exec Executor) Executor {
	return &breakerExecutor{next: exec, breakers: b}
}

type breakerExecutor struct {
	next     Executor
	breakers *HostBreakers
}

func (e *breakerExecutor) Exec(ctx context.Context, host, command string, opts job.Options) (job.Result, error) {
	if job.IsLocal(host) {
		return e.next.Exec(ctx, host, command, opts)
	}
	if err := e.breakers.Check(host); err != nil {
		return job.Result{}, err
	}
	res, err := e.next.Exec(ctx, host, command, opts)
	switch {
	case err != nil && ctx.Err() == nil:
		e.breakers.Trip(host, err)
	case err == nil && res.ExitStatus == sshConnectFailure:
		line, _, _ := strings.Cut(res.Stderr, "\n")
		e.breakers.Trip(host, fmt.Errorf("exit status %d: %s", res.ExitStatus, line))
	case err == nil && !res.Killed:
		e.breakers.Reset(host)
	}
	return res, err
}
