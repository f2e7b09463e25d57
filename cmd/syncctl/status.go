package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine status: queue, breakers, mappings per module",
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
			health, err := a.Enqueuer.GetHealthMetrics(ctx)
			if err != nil {
				return err
			}
			globalState, _ := a.Global.Snapshot(ctx)
			moduleStates := a.Modules.Snapshot(ctx)
			mappingCounts, err := a.Mappings.CountByModule(ctx)
			if err != nil {
				return err
			}

			rows := [][]string{
				{"queue pending", strconv.FormatInt(stats.Pending, 10)},
				{"queue processing", strconv.FormatInt(stats.Processing, 10)},
				{"queue completed", strconv.FormatInt(stats.Completed, 10)},
				{"queue failed", strconv.FormatInt(stats.Failed, 10)},
				{"success rate (24h)", fmt.Sprintf("%.1f%%", health.SuccessRate*100)},
				{"avg latency (24h)", fmt.Sprintf("%.1fs", health.AvgLatencySec)},
				{"oldest pending", fmt.Sprintf("%.0fs", health.OldestPendingAge)},
				{"breaker global", globalState},
			}
			for _, id := range a.Registry.IDs() {
				state := moduleStates[id]
				if state == "" {
					state = "closed"
				}
				enabled := "enabled"
				if !a.Settings.ModuleEnabled(ctx, id) {
					enabled = "disabled"
				}
				rows = append(rows, []string{
					"module " + id,
					fmt.Sprintf("%s, breaker %s, %d mappings", enabled, state, mappingCounts[id]),
				})
			}

			return render([]string{"item", "value"}, rows, map[string]any{
				"queue":    stats,
				"health":   health,
				"breakers": map[string]any{"global": globalState, "modules": moduleStates},
				"mappings": mappingCounts,
			})
		},
	}
}

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Check connectivity to the database, redis and Odoo",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rows := [][]string{{"database", "ok"}}

			redisState := "unavailable"
			if a.Redis != nil {
				redisState = "ok"
			}
			rows = append(rows, []string{"redis", redisState})

			odooState := "ok"
			version, err := a.RPC.Version(ctx)
			if err != nil {
				odooState = "error: " + err.Error()
			} else {
				odooState = "ok (server " + version + ")"
			}
			rows = append(rows, []string{"odoo", odooState})

			if renderErr := render([]string{"target", "status"}, rows, rows); renderErr != nil {
				return renderErr
			}
			if err != nil {
				return fmt.Errorf("odoo connectivity: %w", err)
			}
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Cache operations",
	}

	cache.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Drop the settings cache and the redis hot keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.Settings.FlushCache()
			a.Cache.Flush()
			if a.Redis != nil {
				if err := a.Redis.Delete(ctx, "wp4odoo:breaker:global", "wp4odoo:breaker:modules"); err != nil {
					return err
				}
			}
			fmt.Println("caches flushed")
			return nil
		},
	})
	return cache
}
