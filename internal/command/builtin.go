// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/finchbot/finch/internal/plugin"
)

// PluginManager is the subset of the plugin registry the builtin
// management commands need. Loading goes through LoadFunc because the
// launcher owns the instance options.
type PluginManager interface {
	Unload(ctx context.Context, name string) bool
	Reload(ctx context.Context, name string) (*plugin.Entry, error)
	LoadedPlugins() []plugin.PluginInfo
}

// LoadFunc loads the plugin at dir with the launcher's instance options.
type LoadFunc func(ctx context.Context, dir string) (*plugin.Entry, error)

// RegisterBuiltins installs the launcher's builtin commands: help and
// plugin listing for everyone, plus admin-only load, unload, and
// reload. pluginsDir is the root the load builtin resolves names under.
func RegisterBuiltins(reg *Registry, manager PluginManager, load LoadFunc, pluginsDir string) {
	reg.RegisterBuiltin("help", "list available commands", "help", false,
		helpHandler(reg))
	reg.RegisterBuiltin("plugins", "list loaded plugins", "plugins", false,
		listHandler(manager))
	reg.RegisterBuiltin("load", "load a plugin by directory name", "load <name>", true,
		loadHandler(reg, load, pluginsDir))
	reg.RegisterBuiltin("unload", "unload a plugin", "unload <name>", true,
		unloadHandler(reg, manager))
	reg.RegisterBuiltin("reload", "reload a plugin from disk", "reload <name>", true,
		reloadHandler(reg, manager))
}

func helpHandler(reg *Registry) Handler {
	return func(_ context.Context, _ *Execution) (*plugin.Reply, error) {
		var b strings.Builder
		b.WriteString("Commands:\n")
		for _, binding := range reg.All() {
			b.WriteString(DefaultPrefix)
			b.WriteString(binding.Command)
			if binding.Description != "" {
				b.WriteString(" - ")
				b.WriteString(binding.Description)
			}
			b.WriteString("\n")
		}
		return &plugin.Reply{Text: strings.TrimRight(b.String(), "\n")}, nil
	}
}

func listHandler(manager PluginManager) Handler {
	return func(_ context.Context, _ *Execution) (*plugin.Reply, error) {
		infos := manager.LoadedPlugins()
		if len(infos) == 0 {
			return &plugin.Reply{Text: "No plugins loaded."}, nil
		}
		var b strings.Builder
		b.WriteString("Loaded plugins:\n")
		for _, info := range infos {
			fmt.Fprintf(&b, "%s %s (loaded %s)\n",
				info.Name, info.Manifest.Version, info.LoadedAt.Format("15:04:05"))
		}
		return &plugin.Reply{Text: strings.TrimRight(b.String(), "\n")}, nil
	}
}

func loadHandler(reg *Registry, load LoadFunc, pluginsDir string) Handler {
	return func(ctx context.Context, exec *Execution) (*plugin.Reply, error) {
		name := strings.TrimSpace(exec.Args)
		if name == "" || name != filepath.Base(name) {
			return nil, ErrInvalidArgs(exec.Command, "load <name>")
		}
		entry, err := load(ctx, filepath.Join(pluginsDir, name))
		if err != nil {
			return nil, err
		}
		reg.BindPlugin(entry)
		return &plugin.Reply{Text: fmt.Sprintf("Loaded %s %s.", entry.Name, entry.Manifest.Version)}, nil
	}
}

func unloadHandler(reg *Registry, manager PluginManager) Handler {
	return func(ctx context.Context, exec *Execution) (*plugin.Reply, error) {
		name := strings.TrimSpace(exec.Args)
		if name == "" {
			return nil, ErrInvalidArgs(exec.Command, "unload <name>")
		}
		// Unbind first so no dispatch races the teardown.
		reg.UnbindPlugin(name)
		if !manager.Unload(ctx, name) {
			return &plugin.Reply{Text: fmt.Sprintf("Plugin %s is not loaded.", name)}, nil
		}
		return &plugin.Reply{Text: fmt.Sprintf("Unloaded %s.", name)}, nil
	}
}

func reloadHandler(reg *Registry, manager PluginManager) Handler {
	return func(ctx context.Context, exec *Execution) (*plugin.Reply, error) {
		name := strings.TrimSpace(exec.Args)
		if name == "" {
			return nil, ErrInvalidArgs(exec.Command, "reload <name>")
		}
		reg.UnbindPlugin(name)
		entry, err := manager.Reload(ctx, name)
		if err != nil {
			return nil, err
		}
		reg.BindPlugin(entry)
		return &plugin.Reply{Text: fmt.Sprintf("Reloaded %s %s.", entry.Name, entry.Manifest.Version)}, nil
	}
}
