// main.go - QoS panel service launcher
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/donomii/qospanel/qos"
	"github.com/donomii/qospanel/tui"
)

// Populated via -ldflags during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "qospanel",
		Short:         "Lustre TBF QoS dashboard with a live console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	root.AddCommand(
		newServeCmd(&configPath),
		newConsoleCmd(&configPath),
		newPlanCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "qospanel %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	var (
		listen    string
		httpPort  int
		debug     bool
		noDesktop bool
		logFile   string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the QoS panel and the console websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("listen") {
				cfg.Server.Listen = listen
			}
			if flags.Changed("http-port") {
				cfg.Server.HTTPPort = httpPort
			}
			if flags.Changed("debug") {
				cfg.Logging.Debug = debug
			}
			if flags.Changed("no-desktop") {
				cfg.Server.NoDesktop = noDesktop
			}
			if flags.Changed("log-file") {
				cfg.Logging.File = logFile
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", DefaultListenHost, "Host to bind; the console runs commands, so keep it private")
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP port to bind (0 = dynamic near 30000)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose debug logging")
	cmd.Flags().BoolVar(&noDesktop, "no-desktop", false, "Do not open the desktop panel window")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Also write logs to this file")
	return cmd
}

func runServe(ctx context.Context, cfg fileConfig) error {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	srv, err := NewServer(ServerOpts{
		Listen:   cfg.Server.Listen,
		HTTPPort: cfg.Server.HTTPPort,
		Config:   cfg.QoS,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	base := srv.BaseAddr()
	fmt.Printf(`
QoS panel started!
   Panel:   http://%s/
   Metrics: http://%s/metrics
   API:     http://%s/api
   Console: ws://%s/console_websocket

Press Ctrl+C to stop...
`, base, base, base, base)

	if !cfg.Server.NoDesktop {
		switch {
		case !desktopUISupported():
			log.Infof("[UI] Desktop UI support not compiled in, skipping desktop UI")
		case !hasGraphicsEnvironment():
			log.Infof("[UI] No graphics environment detected, skipping desktop UI")
		default:
			go func() {
				<-sigChan
				fmt.Println("\nShutting down...")
				srv.Stop()
				os.Exit(0)
			}()
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Warnf("[UI] Desktop UI panicked: %v", r)
					}
				}()
				StartDesktopUI(base)
			}()
			fmt.Println("\nShutting down...")
			srv.Stop()
			return nil
		}
	}

	select {
	case <-sigChan:
	case <-ctx.Done():
	}
	fmt.Println("\nShutting down...")
	srv.Stop()
	fmt.Println("Goodbye!")
	return nil
}

// hasGraphicsEnvironment checks if a graphics environment is available
func hasGraphicsEnvironment() bool {
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
	case "darwin", "windows":
		return true
	default:
		return false
	}
}

func newConsoleCmd(configPath *string) *cobra.Command {
	var (
		target  string
		debug   bool
		logFile string
	)
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Show the panel in the terminal",
		Long: "Connects to a running panel service, sends the QoS configuration and " +
			"shows the write performance gauge and the console in the terminal.\n" +
			"Without --config the configuration is fetched from the service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				return errors.New("--url is required")
			}
			// The terminal belongs to the panel, so logs only go to a file.
			logger, err := newLogger(loggingConfig{Debug: debug, File: logFile, Quiet: true})
			if err != nil {
				return err
			}
			defer logger.Sync()

			source, err := consoleConfigSource(*configPath, target)
			if err != nil {
				return err
			}
			return tui.Run(cmd.Context(), tui.Options{
				URL:    target,
				Config: source,
				Logger: logger.Sugar().Named("panel"),
			})
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "Panel service URL, e.g. http://localhost:30000/")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose debug logging")
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file")
	return cmd
}

func newPlanCmd(configPath *string) *cobra.Command {
	var (
		devices       []string
		lustreVersion string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the commands a session would run",
		Long: "Builds the TBF plan from saved 'lctl dl' outputs instead of contacting the servers.\n" +
			"Pass one --devices host=file per server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if lustreVersion != "" {
				cfg.QoS.LustreVersion = lustreVersion
			}
			steps, err := planFromFiles(cfg.QoS, devices)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), qos.FormatPlan(steps))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&devices, "devices", nil, "host=file with the output of 'lctl dl' on that host")
	cmd.Flags().StringVar(&lustreVersion, "lustre-version", "", "Lustre version, e.g. 2.14.0.0 (overrides the config)")
	return cmd
}

// planFromFiles merges the devices listed in each host=file pair and plans
// against them.
func planFromFiles(cfg qos.Config, pairs []string) ([]qos.Step, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Fsname == "" {
		return nil, fmt.Errorf("%w: fsname is required", qos.ErrInvalidConfig)
	}
	if len(pairs) == 0 {
		return nil, ErrNoDeviceFiles
	}
	if cfg.LustreVersion == "" {
		return nil, ErrNoLustreVersion
	}
	v, err := qos.ParseVersion(cfg.LustreVersion)
	if err != nil {
		return nil, err
	}

	var devices []qos.Device
	for _, pair := range pairs {
		host, path, ok := strings.Cut(pair, "=")
		if !ok || host == "" || path == "" {
			return nil, logerrf("bad --devices value %q, want host=file", pair)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read devices for %s: %w", host, err)
		}
		found := qos.ParseDevices(string(data), cfg.Fsname, host)
		devices, err = qos.MergeDevices(devices, found, cfg.Fsname)
		if err != nil {
			return nil, err
		}
	}
	return qos.Plan(cfg, devices, v)
}
