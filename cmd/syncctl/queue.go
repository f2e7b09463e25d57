package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wp4odoo/bridge/internal/domain/job"
	"github.com/wp4odoo/bridge/internal/utils"
)

func newQueueCmd() *cobra.Command {
	queue := &cobra.Command{
		Use:   "queue",
		Short: "Job queue operations",
	}

	queue.AddCommand(newQueueStatsCmd())
	queue.AddCommand(newQueueListCmd())
	queue.AddCommand(newQueueShowCmd())
	queue.AddCommand(newQueueRetryCmd())
	queue.AddCommand(newQueueCleanupCmd())
	queue.AddCommand(newQueueCancelCmd())
	return queue
}

func newQueueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := a.Queue.GetByID(ctx, id)
			if err != nil {
				return err
			}

			lastErr := ""
			if j.LastError != nil {
				lastErr = *j.LastError
			}
			scheduled := ""
			if j.ScheduledAt != nil {
				scheduled = j.ScheduledAt.Format(time.RFC3339)
			}
			rows := [][]string{
				{"id", strconv.FormatInt(j.ID, 10)},
				{"correlation_id", j.CorrelationID},
				{"module", j.Module},
				{"entity_type", j.EntityType},
				{"direction", string(j.Direction)},
				{"action", string(j.Action)},
				{"local_id", strconv.FormatUint(j.LocalID, 10)},
				{"remote_id", strconv.FormatUint(j.RemoteID, 10)},
				{"status", string(j.Status)},
				{"priority", strconv.Itoa(j.Priority)},
				{"attempts", fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts)},
				{"scheduled_at", scheduled},
				{"updated_at", j.UpdatedAt.Format(time.RFC3339)},
				{"last_error", lastErr},
			}
			return render([]string{"field", "value"}, rows, j)
		},
	}
}

func newQueueStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show queue counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Enqueuer.GetStats(ctx)
			if err != nil {
				return err
			}

			rows := [][]string{
				{"pending", strconv.FormatInt(stats.Pending, 10)},
				{"processing", strconv.FormatInt(stats.Processing, 10)},
				{"completed", strconv.FormatInt(stats.Completed, 10)},
				{"failed", strconv.FormatInt(stats.Failed, 10)},
			}
			return render([]string{"status", "count"}, rows, stats)
		},
	}
}

func newQueueListCmd() *cobra.Command {
	var (
		status string
		limit  int
		cursor string
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			// DESC keyset; the zero cursor starts from the top
			afterUpdatedAt := time.Now().UTC().Add(time.Hour)
			afterID := int64(1<<62 - 1)
			if cursor != "" {
				c, err := utils.DecodeJobCursor(cursor)
				if err != nil {
					return fmt.Errorf("invalid cursor: %w", err)
				}
				afterUpdatedAt = c.UpdatedAt
				afterID = c.ID
			}

			var statusFilter *string
			if status != "" {
				if !job.Status(status).IsValid() {
					return fmt.Errorf("invalid status %q", status)
				}
				statusFilter = &status
			}

			items, nextCursor, hasMore, err := a.Queue.ListCursor(ctx, statusFilter, limit, afterUpdatedAt, afterID)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(items))
			for _, j := range items {
				lastErr := ""
				if j.LastError != nil {
					lastErr = *j.LastError
					if len(lastErr) > 60 {
						lastErr = lastErr[:57] + "..."
					}
				}
				rows = append(rows, []string{
					strconv.FormatInt(j.ID, 10),
					j.Module,
					j.EntityType,
					string(j.Direction),
					string(j.Action),
					string(j.Status),
					fmt.Sprintf("%d/%d", j.Attempts, j.MaxAttempts),
					j.UpdatedAt.Format(time.RFC3339),
					lastErr,
				})
			}

			err = render(
				[]string{"id", "module", "entity", "dir", "action", "status", "attempts", "updated", "error"},
				rows,
				map[string]any{"items": items, "nextCursor": nextCursor, "hasMore": hasMore},
			)
			if err != nil {
				return err
			}
			if hasMore && nextCursor != nil && flagFormat == "table" {
				fmt.Printf("more: --cursor %s\n", *nextCursor)
			}
			return nil
		},
	}

	listCmd.Flags().StringVar(&status, "status", "", "filter by status (pending, processing, completed, failed)")
	listCmd.Flags().IntVar(&limit, "limit", 50, "page size")
	listCmd.Flags().StringVar(&cursor, "cursor", "", "resume from a previous page's cursor")
	return listCmd
}

func newQueueRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Requeue every failed job with a fresh attempt budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Enqueuer.RetryFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d jobs\n", n)
			return nil
		},
	}
}

func newQueueCleanupCmd() *cobra.Command {
	var days int

	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Prune completed and failed jobs past retention",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if days <= 0 {
				days = a.Settings.RetentionDays(ctx)
			}
			n, err := a.Enqueuer.Cleanup(ctx, days)
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d jobs older than %d days\n", n, days)
			return nil
		},
	}
	cleanup.Flags().IntVar(&days, "days", 0, "retention in days (default: the configured retention)")
	return cleanup
}

func newQueueCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Remove a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Enqueuer.Cancel(ctx, id); err != nil {
				return err
			}
			fmt.Printf("job %d cancelled\n", id)
			return nil
		},
	}
}
