package main

import (
	"github.com/spf13/cobra"
)

func newEscalateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escalate",
		Short: "Run one escalation check over all role tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			engine, dispatcher, err := a.escalationEngine(ctx)
			if err != nil {
				return err
			}
			err = engine.RunEscalationCheck(ctx)
			dispatcher.Close()
			return err
		},
	}
}
