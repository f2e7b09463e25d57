package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newModuleCmd() *cobra.Command {
	mod := &cobra.Command{
		Use:   "module",
		Short: "Manage sync modules",
	}

	mod.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered modules and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			type moduleInfo struct {
				ID       string   `json:"id"`
				Enabled  bool     `json:"enabled"`
				Entities []string `json:"entities"`
			}

			var infos []moduleInfo
			var rows [][]string
			for _, id := range a.Registry.IDs() {
				m, _ := a.Registry.Get(id)
				entities := make([]string, 0, len(m.Models()))
				for entityType, remoteModel := range m.Models() {
					entities = append(entities, entityType+"->"+remoteModel)
				}
				sort.Strings(entities)

				enabled := a.Settings.ModuleEnabled(ctx, id)
				infos = append(infos, moduleInfo{ID: id, Enabled: enabled, Entities: entities})

				state := "enabled"
				if !enabled {
					state = "disabled"
				}
				rows = append(rows, []string{id, state, strings.Join(entities, ", ")})
			}
			return render([]string{"module", "state", "entities"}, rows, infos)
		},
	})

	mod.AddCommand(newModuleToggleCmd("enable", true))
	mod.AddCommand(newModuleToggleCmd("disable", false))
	return mod
}

func newModuleToggleCmd(verb string, enabled bool) *cobra.Command {
	short := "Enable a module's sync processing"
	if !enabled {
		short = "Disable a module's sync processing"
	}
	return &cobra.Command{
		Use:   verb + " <module>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			id := args[0]
			if _, ok := a.Registry.Get(id); !ok {
				return fmt.Errorf("module %q not registered", id)
			}
			if err := a.Settings.SetModuleEnabled(ctx, id, enabled); err != nil {
				return err
			}
			fmt.Printf("module %s %sd\n", id, verb)
			return nil
		},
	}
}
