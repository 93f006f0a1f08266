package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akibul079/demo-sop-hub/internal/app/bootstrap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(configPath)
			if err != nil {
				return err
			}
			runtime, err := bootstrap.NewRuntime(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("bootstrap runtime: %w", err)
			}
			return runtime.RunAPI(cmd.Context())
		},
	}
}
