package main

import (
	"fmt"
	"io"

	"github.com/orchestra-mcp/socketprobe/src/bridge"
	"github.com/orchestra-mcp/socketprobe/src/report"
	"github.com/spf13/cobra"
)

func newWatchCmd(root *probeFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print results published by other socketprobe runs over Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := subcommandLogger(cmd.ErrOrStderr(), root)
			format := report.FormatText
			if jsonOutput {
				format = report.FormatJSON
			}
			out := cmd.OutOrStdout()
			rep := report.New(format)

			rb := bridge.NewRedisBridge(bridge.RedisConfigFromEnv(), bridge.TargetFunc(func(env bridge.Envelope) {
				printEnvelope(out, rep, env)
			}), logger)
			if err := rb.Start(); err != nil {
				_ = rb.Stop()
				return fmt.Errorf("connect to redis: %w", err)
			}
			<-cmd.Context().Done()
			return rb.Stop()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print summaries as JSON")
	return cmd
}

func printEnvelope(w io.Writer, rep *report.Reporter, env bridge.Envelope) {
	switch env.Kind {
	case bridge.KindResult:
		if env.Result == nil {
			return
		}
		verdict := "FAIL"
		if env.Result.Success {
			verdict = "PASS"
		}
		fmt.Fprintf(w, "%s %s: %s (%s)\n", env.RunID, env.Result.Scenario, verdict, env.Result.State)
	case bridge.KindSummary:
		if env.Summary == nil {
			return
		}
		_, _ = rep.Write(w, *env.Summary)
	}
}
