package main

import (
	"fmt"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/mockserver"
	"github.com/spf13/cobra"
)

func newServeMockCmd(root *probeFlags) *cobra.Command {
	var (
		addr          string
		allowOrigins  []string
		rejectConnect bool
		pingInterval  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve-mock",
		Short: "Run an origin-enforcing mock real-time server for dry runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := subcommandLogger(cmd.ErrOrStderr(), root)

			cfg := mockserver.DefaultConfig()
			cfg.AllowedOrigins = allowOrigins
			cfg.RejectConnect = rejectConnect
			if pingInterval > 0 {
				cfg.PingInterval = pingInterval
			}
			srv := mockserver.New(cfg, logger)
			base, err := srv.Start(addr)
			if err != nil {
				return fmt.Errorf("start mock server: %w", err)
			}
			logger.Info().Str("url", base).Strs("allowed_origins", allowOrigins).Msg("mock server listening")
			fmt.Fprintln(cmd.OutOrStdout(), base)

			<-cmd.Context().Done()
			logger.Info().Msg("shutting down")
			return srv.Shutdown()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8085", "Listen address")
	cmd.Flags().StringSliceVar(&allowOrigins, "allow-origin", []string{"http://localhost:3000"}, "Accepted Origin values (repeatable)")
	cmd.Flags().BoolVar(&rejectConnect, "reject-connect", false, "Answer namespace CONNECT with CONNECT_ERROR")
	cmd.Flags().DurationVar(&pingInterval, "ping-interval", 0, "Engine ping interval")
	return cmd
}
