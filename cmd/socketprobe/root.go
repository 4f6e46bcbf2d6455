package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/orchestra-mcp/socketprobe/config"
	"github.com/orchestra-mcp/socketprobe/src/bridge"
	"github.com/orchestra-mcp/socketprobe/src/health"
	"github.com/orchestra-mcp/socketprobe/src/report"
	"github.com/orchestra-mcp/socketprobe/src/runner"
	"github.com/orchestra-mcp/socketprobe/src/transport"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// exitCode lets a command choose the process exit status without cobra
// printing an error.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

type probeFlags struct {
	scenarios     string
	jsonOutput    bool
	skipHealth    bool
	allowedOrigin string
	blockedOrigin string
	timeout       time.Duration
	logLevel      string
	envFile       string
}

func newRootCmd() *cobra.Command {
	f := &probeFlags{}
	cmd := &cobra.Command{
		Use:   "socketprobe <base_url>",
		Short: "Verify a real-time service accepts allowed origins and refuses the rest",
		Long: `socketprobe opens Socket.IO connections against <base_url> with different
Origin headers and checks each outcome against its expectation.

Exit status is 0 when every scenario passes and 1 otherwise.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.scenarios, "scenarios", "", "YAML scenario file (default: built-in origin checks)")
	fl.BoolVar(&f.jsonOutput, "json", false, "Write the report as JSON")
	fl.BoolVar(&f.skipHealth, "skip-health", false, "Skip the /health preflight")
	fl.StringVar(&f.allowedOrigin, "allowed-origin", "", "Origin the server must accept")
	fl.StringVar(&f.blockedOrigin, "blocked-origin", "", "Origin the server must refuse")
	fl.DurationVar(&f.timeout, "timeout", 0, "Per-scenario deadline")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&f.envFile, "env-file", ".env", "Dotenv file loaded before PROBE_* variables")

	cmd.AddCommand(newServeMockCmd(f), newWatchCmd(f))
	return cmd
}

// loadConfig resolves configuration: defaults, then env, then flags.
func loadConfig(cmd *cobra.Command, f *probeFlags) *config.ProbeConfig {
	cfg := config.FromEnv(f.envFile)
	fl := cmd.Flags()
	if fl.Changed("skip-health") {
		cfg.SkipHealth = f.skipHealth
	}
	if f.allowedOrigin != "" {
		cfg.AllowedOrigin = f.allowedOrigin
	}
	if f.blockedOrigin != "" {
		cfg.BlockedOrigin = f.blockedOrigin
	}
	if f.timeout > 0 {
		cfg.DefaultDeadline = f.timeout
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg
}

// subcommandLogger loads the env file for commands that do not run scenarios,
// so REDIS_* and PROBE_LOG_LEVEL apply to them too.
func subcommandLogger(w io.Writer, f *probeFlags) zerolog.Logger {
	cfg := config.FromEnv(f.envFile)
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return newLogger(w, cfg.LogLevel)
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}).
		Level(lvl).
		With().Timestamp().Logger()
}

func runProbe(cmd *cobra.Command, base string, f *probeFlags) error {
	cfg := loadConfig(cmd, f)
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	ctx := cmd.Context()

	scenarios, err := loadScenarios(base, f.scenarios, cfg)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config error: %v\n", err)
		return exitCode(report.ExitFailure)
	}

	if !cfg.SkipHealth {
		if err := preflight(ctx, base, cfg, logger); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "health check failed: %v\n", err)
			return exitCode(report.ExitFailure)
		}
	}

	r := runner.New(transport.New(logger, cfg.PollTimeout), logger)
	var fanout bridge.Bridge
	if bridge.Enabled() {
		fanout = startBridge(logger)
	}
	if fanout != nil {
		defer fanout.Stop()
	}

	r.OnResult(func(runID string, res types.ScenarioResult) {
		logger.Debug().Str("scenario", res.Scenario).Int("events", len(res.Events)).Msg("result recorded")
		if fanout != nil {
			if err := fanout.PublishResult(ctx, runID, res); err != nil {
				logger.Warn().Err(err).Msg("publish result")
			}
		}
	})

	summary, err := r.Run(ctx, scenarios)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "config error: %v\n", err)
		return exitCode(report.ExitFailure)
	}
	if fanout != nil {
		if err := fanout.PublishSummary(ctx, summary); err != nil {
			logger.Warn().Err(err).Msg("publish summary")
		}
	}

	format := report.FormatText
	if f.jsonOutput {
		format = report.FormatJSON
	}
	rep, err := report.New(format).Write(cmd.OutOrStdout(), summary)
	if err != nil {
		return err
	}
	if rep.ExitCode != report.ExitOK {
		return exitCode(rep.ExitCode)
	}
	return nil
}

func loadScenarios(base, path string, cfg *config.ProbeConfig) ([]types.Scenario, error) {
	if path != "" {
		return config.LoadScenarios(path, base, cfg)
	}
	return runner.DefaultScenarios(base, runner.Defaults{
		AllowedOrigin: cfg.AllowedOrigin,
		BlockedOrigin: cfg.BlockedOrigin,
		Deadline:      cfg.DefaultDeadline,
		ProbeEvent:    cfg.ProbeEvent,
		ConfirmEvent:  cfg.ConfirmEvent,
		SocketPath:    cfg.SocketPath,
	}), nil
}

// preflight fails only when the health endpoint cannot be read. A degraded
// status is logged and the run continues.
func preflight(ctx context.Context, base string, cfg *config.ProbeConfig, logger zerolog.Logger) error {
	st, err := health.New(logger, cfg.HealthTimeout, health.WithPath(cfg.HealthPath)).Check(ctx, base)
	if err != nil {
		return err
	}
	if !st.Healthy() {
		logger.Warn().
			Str("status", st.Status).
			Strs("unavailable", st.Unavailable()).
			Msg("service reports degraded health")
		return nil
	}
	logger.Info().Str("status", st.Status).Msg("health check passed")
	return nil
}

// startBridge connects the optional Redis fan-out. A failure is logged and
// the run proceeds without it.
func startBridge(logger zerolog.Logger) bridge.Bridge {
	rb := bridge.NewRedisBridge(bridge.RedisConfigFromEnv(), nil, logger)
	if err := rb.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis bridge unavailable, results will not be published")
		_ = rb.Stop()
		return nil
	}
	return rb
}

// execute runs the CLI and returns the process exit status.
func execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return report.ExitOK
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(stderr, err)
	return report.ExitFailure
}
