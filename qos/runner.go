package qos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/donomii/qospanel/job"
	"github.com/donomii/qospanel/watchedio"
)

// Executor runs a shell command on a host.
type Executor interface {
	Exec(ctx context.Context, host, command string, opts job.Options) (job.Result, error)
}

// ShellExecutor runs commands locally, or through ssh for remote hosts.
type ShellExecutor struct {
	IdentityFile string
}

func (e ShellExecutor) Exec(ctx context.Context, host, command string, opts job.Options) (job.Result, error) {
	return job.Run(ctx, job.RemoteCommand(host, e.IdentityFile, command), opts)
}

// FollowFunc streams text appended to path until ctx is done.
type FollowFunc func(ctx context.Context, path string, fn func(text string)) error

// CommandError is a command that ran but exited non-zero.
type CommandError struct {
	Host    string
	Command string
	Result  job.Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("failed to run command [%s] on host [%s], ret = [%d], stdout = [%s], stderr = [%s]",
		e.Command, e.Host, e.Result.ExitStatus, strings.TrimSpace(e.Result.Stdout), strings.TrimSpace(e.Result.Stderr))
}

// Runner applies a Config and runs its workload, narrating to a console.
type Runner struct {
	Exec   Executor
	Follow FollowFunc
	Logger *zap.SugaredLogger
	// Breakers, when set, guard every remote command.
	Breakers *HostBreakers
}

func (r *Runner) log() *zap.SugaredLogger {
	if r.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return r.Logger
}

func (r *Runner) executor(cfg Config) Executor {
	var exec Executor = ShellExecutor{IdentityFile: cfg.SSHIdentityFile}
	if r.Exec != nil {
		exec = r.Exec
	}
	if r.Breakers != nil {
		exec = r.Breakers.Wrap(exec)
	}
	return exec
}

// Run sets up TBF on the configured servers, then runs the workload. Output
// of every command is written to console as it is produced.
func (r *Runner) Run(ctx context.Context, cfg Config, console io.Writer) error {
	exec := r.executor(cfg)
	fmt.Fprintf(console, "QoS session for %s: %d server(s), %d rule(s)\n", displayFsname(cfg), len(cfg.Servers), len(cfg.Rules))

	var devices []Device
	if len(cfg.Servers) > 0 {
		v, err := r.version(ctx, exec, cfg, console)
		if err != nil {
			return err
		}
		fmt.Fprintf(console, "Lustre version %s\n", v)

		devices, err = r.Detect(ctx, exec, cfg)
		if err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Fprintf(console, "device %s on %s\n", d.Name(cfg.Fsname), d.Host)
		}

		steps, err := Plan(cfg, devices, v)
		if err != nil {
			return err
		}
		if err := r.apply(ctx, exec, cfg.DryRun, steps, console); err != nil {
			return err
		}
	}

	werr := r.workload(ctx, exec, cfg.Workload, console)

	if cfg.RestoreFIFO && len(devices) > 0 {
		// The workload context may be gone; restoring still has to happen.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := r.apply(rctx, exec, cfg.DryRun, RestorePlan(devices), console); err != nil {
			werr = errors.Join(werr, err)
		}
	}
	return werr
}

func displayFsname(cfg Config) string {
	if cfg.Fsname == "" {
		return "(no filesystem)"
	}
	return cfg.Fsname
}

func (r *Runner) version(ctx context.Context, exec Executor, cfg Config, console io.Writer) (Version, error) {
	if cfg.LustreVersion != "" {
		return ParseVersion(cfg.LustreVersion)
	}
	var lowest Version
	for i, host := range cfg.Servers {
		res, err := exec.Exec(ctx, host, VersionCommand, job.Options{})
		if err != nil {
			return Version{}, fmt.Errorf("detect version on host [%s]: %w", host, err)
		}
		if res.ExitStatus != 0 {
			return Version{}, &CommandError{Host: host, Command: VersionCommand, Result: res}
		}
		v, err := ParseVersion(res.Stdout)
		if err != nil {
			return Version{}, fmt.Errorf("host [%s]: %w", host, err)
		}
		r.log().Debugf("Host %s runs Lustre %s (%d)", host, v, v.Value())
		if i == 0 || v.Value() < lowest.Value() {
			if i > 0 {
				fmt.Fprintf(console, "warning: host %s runs older Lustre %s\n", host, v)
			}
			lowest = v
		}
	}
	return lowest, nil
}

// Detect runs "lctl dl" on every server and merges the results.
func (r *Runner) Detect(ctx context.Context, exec Executor, cfg Config) ([]Device, error) {
	var devices []Device
	for _, host := range cfg.Servers {
		r.log().Debugf("Detecting devices on host %s", host)
		res, err := exec.Exec(ctx, host, DetectCommand, job.Options{})
		if err != nil {
			return nil, fmt.Errorf("detect devices on host [%s]: %w", host, err)
		}
		if res.ExitStatus != 0 {
			return nil, &CommandError{Host: host, Command: DetectCommand, Result: res}
		}
		devices, err = MergeDevices(devices, ParseDevices(res.Stdout, cfg.Fsname, host), cfg.Fsname)
		if err != nil {
			return nil, err
		}
	}
	return devices, nil
}

func (r *Runner) apply(ctx context.Context, exec Executor, dryRun bool, steps []Step, console io.Writer) error {
	for _, step := range steps {
		if dryRun {
			fmt.Fprintf(console, "[dry-run] %s\n", step)
			continue
		}
		fmt.Fprintf(console, "%s: %s\n", step.Host, step.Description)
		res, err := exec.Exec(ctx, step.Host, step.Command, job.Options{StdoutTee: console, StderrTee: console})
		if err != nil {
			return fmt.Errorf("%s on host [%s]: %w", step.Description, step.Host, err)
		}
		if res.ExitStatus != 0 {
			return &CommandError{Host: step.Host, Command: step.Command, Result: res}
		}
	}
	return nil
}

func (r *Runner) workload(ctx context.Context, exec Executor, w Workload, console io.Writer) error {
	switch {
	case w.Command != "":
		fmt.Fprintf(console, "$ %s\n", w.Command)
		res, err := exec.Exec(ctx, "", w.Command, job.Options{
			Timeout:   w.Timeout(),
			StdoutTee: console,
			StderrTee: console,
		})
		if err != nil {
			return fmt.Errorf("run workload: %w", err)
		}
		status := fmt.Sprintf("exit status %d", res.ExitStatus)
		if res.Killed {
			status = "killed"
		}
		fmt.Fprintf(console, "workload finished in %s (%s)\n", res.Duration.Round(time.Millisecond), status)
		if res.ExitStatus != 0 && !res.Killed {
			return &CommandError{Host: "localhost", Command: w.Command, Result: res}
		}
		return nil
	case w.Follow != "":
		follow := r.Follow
		if follow == nil {
			follow = watchedio.Follow
		}
		fmt.Fprintf(console, "following %s\n", w.Follow)
		err := follow(ctx, w.Follow, func(text string) { io.WriteString(console, text) })
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("follow %s: %w", w.Follow, err)
		}
		return nil
	}
	return nil
}
