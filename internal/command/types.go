// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

// Package command provides the command registry, parser, and dispatch system.
package command

import (
	"context"

	"github.com/finchbot/finch/internal/plugin"
)

// Handler is the function signature for builtin command handlers.
// Builtins run in-process; plugin commands route through the plugin
// registry instead.
type Handler func(ctx context.Context, exec *Execution) (*plugin.Reply, error)

// Binding maps a chat command to the plugin that declared it.
type Binding struct {
	Command     string // command word without prefix (e.g. "qr")
	Plugin      string // registered plugin name
	Description string
	Usage       string
}

// Execution carries the parsed invocation and sender identity for a
// single dispatch.
type Execution struct {
	Command   string
	Args      string
	Raw       string
	Sender    string // sender JID
	Chat      string // chat JID the reply goes to
	RequestID string
}

// PluginSource resolves a plugin name to its live registry entry.
// Satisfied by *plugin.Registry.
type PluginSource interface {
	Entry(name string) *plugin.Entry
	LoadedPlugins() []plugin.PluginInfo
}
