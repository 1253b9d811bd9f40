// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/finchbot/finch/internal/plugin"
)

// Registry manages command-to-plugin bindings and builtin handlers.
// It is thread-safe for concurrent access.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
	builtins map[string]builtinEntry
}

type builtinEntry struct {
	handler     Handler
	description string
	usage       string
	adminOnly   bool
}

// NewRegistry creates a new command registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]Binding),
		builtins: make(map[string]builtinEntry),
	}
}

// BindPlugin registers all commands a plugin's manifest declares.
// If a command name is already bound, it is overwritten and a warning
// is logged. Last loaded wins. Builtin names cannot be shadowed.
func (r *Registry) BindPlugin(entry *plugin.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, spec := range entry.Manifest.Commands {
		if _, ok := r.builtins[spec.Name]; ok {
			slog.Warn("command conflict: plugin command shadows builtin, ignoring",
				"command", spec.Name,
				"plugin", entry.Name)
			continue
		}
		if existing, ok := r.bindings[spec.Name]; ok && existing.Plugin != entry.Name {
			slog.Warn("command conflict: overwriting existing command",
				"command", spec.Name,
				"previous_plugin", existing.Plugin,
				"new_plugin", entry.Name)
		}
		r.bindings[spec.Name] = Binding{
			Command:     spec.Name,
			Plugin:      entry.Name,
			Description: spec.Description,
			Usage:       spec.Usage,
		}
	}
}

// UnbindPlugin removes all bindings owned by the named plugin.
func (r *Registry) UnbindPlugin(pluginName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for cmd, b := range r.bindings {
		if b.Plugin == pluginName {
			delete(r.bindings, cmd)
		}
	}
}

// RegisterBuiltin adds an in-process handler. Builtins take precedence
// over plugin bindings at dispatch time.
func (r *Registry) RegisterBuiltin(name, description, usage string, adminOnly bool, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.builtins[name] = builtinEntry{
		handler:     h,
		description: description,
		usage:       usage,
		adminOnly:   adminOnly,
	}
}

// Lookup retrieves a plugin binding by command name.
func (r *Registry) Lookup(name string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[name]
	return b, ok
}

func (r *Registry) builtin(name string) (builtinEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builtins[name]
	return b, ok
}

// All returns every binding and builtin as a Binding list, sorted by
// command name. Builtins report the reserved plugin name "builtin".
func (r *Registry) All() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.bindings)+len(r.builtins))
	for _, b := range r.bindings {
		out = append(out, b)
	}
	for name, b := range r.builtins {
		out = append(out, Binding{
			Command:     name,
			Plugin:      "builtin",
			Description: b.description,
			Usage:       b.usage,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}
