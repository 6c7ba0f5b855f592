package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	dispatcher "github.com/httprunner/ApkDispatcher"
	"github.com/httprunner/ApkDispatcher/internal/config"
	"github.com/httprunner/ApkDispatcher/internal/env"
)

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channel kinds, their params and configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootConfigPath)
			if err != nil {
				return err
			}
			registry := dispatcher.DefaultRegistry()
			out := cmd.OutOrStdout()

			rows := make([][]string, 0)
			for _, kind := range registry.Kinds() {
				task, err := registry.New(kind, kind, kind, zerolog.Nop())
				if err != nil {
					return err
				}
				names := make([]string, 0)
				envKeys := make([]string, 0)
				for _, p := range task.ParamDefine() {
					names = append(names, p.Name)
					envKeys = append(envKeys, config.EnvKey(kind, p.Name))
				}
				rows = append(rows, []string{kind, strings.Join(names, ", "), strings.Join(envKeys, ", ")})
			}
			fmt.Fprintln(out, renderTable([]string{"Kind", "Params", "Env (channel = kind)"}, rows, nil))
			if path := env.LoadedPath(); path != "" {
				fmt.Fprintf(out, "env loaded from %s\n", path)
			}

			if names := cfg.Names(); len(names) > 0 {
				rows = rows[:0]
				for _, name := range names {
					cc := cfg.Channel(name)
					rows = append(rows, []string{name, cc.Kind, cc.Identify, paramStatus(cfg, registry, name, cc.Kind)})
				}
				fmt.Fprintf(out, "\nconfigured in %s\n", cfg.Path())
				fmt.Fprintln(out, renderTable([]string{"Channel", "Kind", "Identify", "Params"}, rows, nil))
			}
			return nil
		},
	}
}

// paramStatus marks which params of a configured channel resolve to a value.
func paramStatus(cfg *config.Config, registry *dispatcher.Registry, name, kind string) string {
	task, err := registry.New(kind, name, name, zerolog.Nop())
	if err != nil {
		return err.Error()
	}
	parts := make([]string, 0)
	for _, p := range task.ParamDefine() {
		mark := "✗"
		if v := cfg.Lookup(name, p); v != nil && *v != "" {
			mark = "✓"
		}
		parts = append(parts, p.Name+" "+mark)
	}
	return strings.Join(parts, ", ")
}
