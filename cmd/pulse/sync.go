package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization cycle over all active projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			result, err := a.orchestrator().RunSyncCycle(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Sync cycle complete: %d attempted, %d skipped\n",
				result.Attempted, result.Skipped)
			return nil
		},
	}
}
