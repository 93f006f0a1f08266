package main

import (
	"github.com/spf13/cobra"

	"github.com/akibul079/demo-sop-hub/internal/app/bootstrap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return bootstrap.Migrate(cmd.Context(), cfg)
		},
	}
}
