package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wp4odoo/bridge/internal/scheduler"
)

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Scheduler operations",
	}

	var (
		dryRun bool
		module string
	)

	run := &cobra.Command{
		Use:   "run",
		Short: "Execute one scheduler pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			processed, err := a.Scheduler.Run(ctx, scheduler.Options{
				Module: module,
				DryRun: dryRun,
			})
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("dry run: %d jobs eligible\n", processed)
			} else {
				fmt.Printf("processed %d jobs\n", processed)
			}
			return nil
		},
	}
	run.Flags().BoolVar(&dryRun, "dry-run", false, "report eligible work without processing it")
	run.Flags().StringVar(&module, "module", "", "restrict the run to one module")

	syncCmd.AddCommand(run)
	return syncCmd
}
