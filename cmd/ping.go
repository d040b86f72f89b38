package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/rail-scheduler/internal/config"
	"github.com/example/rail-scheduler/internal/logger"
)

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Log in to the ticketing backend with RAIL_MEMBER_ID and RAIL_PASSWORD",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			log := logger.New(cfg.LogLevel)
			c, err := login(ctx, cfg, newBackend(cfg, log), log)
			if err != nil {
				return err
			}
			if m, ok := c.(member); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s %s)\n", backendURL(cfg), m.Member().Number, m.Member().Name)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", backendURL(cfg))
			return nil
		},
	}
}
