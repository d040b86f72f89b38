package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/rail-scheduler/internal/config"
	"github.com/example/rail-scheduler/internal/logger"
)

func newStationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stations",
		Short: "List the station names accepted by search and run (per BACKEND)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			for _, s := range newBackend(cfg, logger.New(cfg.LogLevel)).Stations() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			return nil
		},
	}
}
