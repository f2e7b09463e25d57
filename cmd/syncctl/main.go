package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wp4odoo/bridge/internal/app"
	"github.com/wp4odoo/bridge/internal/config"
	"github.com/wp4odoo/bridge/internal/observability"
)

var (
	flagFormat string
	flagBlogID int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the wp4odoo sync engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flagFormat, "format", "f", "table", "output format (table, csv, json, yaml, count)")
	root.PersistentFlags().IntVar(&flagBlogID, "blog-id", 0, "override the blog id scoping locks and settings")

	root.AddCommand(newStatusCmd())
	root.AddCommand(newTestCmd())
	root.AddCommand(newSyncCmd())
	root.AddCommand(newQueueCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newModuleCmd())

	return root
}

// newApp boots the engine for one CLI invocation. The CLI logs at warn so
// command output stays parseable.
func newApp(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	if flagBlogID > 0 {
		cfg.BlogID = flagBlogID
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if cfg.Env == "dev" {
		log = observability.NewLogger(cfg.Env)
	}

	return app.New(ctx, cfg, log)
}
