package main

import (
	"github.com/spf13/cobra"

	"github.com/finchbot/finch/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Finch CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finch",
		Short: "Finch - a plugin-driven chat bot",
		Long: `Finch is a chat bot launcher built around hot-reloadable Lua plugins.
Plugins declare chat commands in a manifest and can be loaded, unloaded,
and reloaded without restarting the bot.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", xdg.DefaultConfigFile(),
		"config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
