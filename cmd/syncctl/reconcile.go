package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

func newReconcileCmd() *cobra.Command {
	var fix bool

	rec := &cobra.Command{
		Use:   "reconcile <module> <entityType>",
		Short: "Find mappings whose remote record no longer exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Reconciler.Run(ctx, args[0], args[1], fix)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(rep.Orphans))
			for _, m := range rep.Orphans {
				rows = append(rows, []string{
					strconv.FormatUint(m.LocalID, 10),
					strconv.FormatUint(m.RemoteID, 10),
					m.RemoteModel,
				})
			}
			if err := render([]string{"local_id", "remote_id", "remote_model"}, rows, rep); err != nil {
				return err
			}
			if flagFormat == "table" {
				fmt.Printf("checked %d, orphans %d, removed %d\n", rep.Checked, len(rep.Orphans), rep.Removed)
			}
			return nil
		},
	}
	rec.Flags().BoolVar(&fix, "fix", false, "remove orphaned mappings")
	rec.AddCommand(newReconcileStaleCmd())
	return rec
}

func newReconcileStaleCmd() *cobra.Command {
	var hours int

	stale := &cobra.Command{
		Use:   "stale <module> <entityType>",
		Short: "List mappings not verified against the remote recently",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
			maps, err := a.Mappings.GetStalePollMappings(ctx, args[0], args[1], cutoff)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(maps))
			for _, m := range maps {
				polled := "never"
				if m.LastPolledAt != nil {
					polled = m.LastPolledAt.UTC().Format(time.RFC3339)
				}
				rows = append(rows, []string{
					strconv.FormatUint(m.LocalID, 10),
					strconv.FormatUint(m.RemoteID, 10),
					polled,
				})
			}
			return render([]string{"local_id", "remote_id", "last_verified"}, rows, maps)
		},
	}
	stale.Flags().IntVar(&hours, "hours", 24, "verification age cutoff")
	return stale
}

func newCleanupCmd() *cobra.Command {
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Maintenance sweeps",
	}

	var (
		moduleFilter string
		dryRun       bool
	)

	orphans := &cobra.Command{
		Use:   "orphans",
		Short: "Remove mappings whose local entity is gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Reconciler.CleanupOrphans(ctx, a.Registry, moduleFilter, dryRun)
			if err != nil {
				return err
			}

			rows := [][]string{
				{"scanned", strconv.Itoa(rep.Scanned)},
				{"orphans", strconv.Itoa(rep.Orphans)},
				{"removed", strconv.Itoa(rep.Removed)},
			}
			return render([]string{"item", "count"}, rows, rep)
		},
	}
	orphans.Flags().StringVar(&moduleFilter, "module", "", "restrict to one module")
	orphans.Flags().BoolVar(&dryRun, "dry-run", false, "report without removing")

	cleanup.AddCommand(orphans)
	return cleanup
}
