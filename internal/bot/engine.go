// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

// Package bot wires the transport, command dispatcher, and plugin
// registry into the launcher's run loop.
package bot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/finchbot/finch/internal/command"
	"github.com/finchbot/finch/internal/observability"
	"github.com/finchbot/finch/internal/plugin"
	"github.com/finchbot/finch/internal/store"
	"github.com/finchbot/finch/internal/transport"
)

// shutdownTimeout bounds plugin teardown after the run loop exits.
const shutdownTimeout = 10 * time.Second

// Engine is the launcher's message loop.
type Engine struct {
	transport  transport.Transport
	dispatcher *command.Dispatcher
	plugins    *plugin.Registry
	options    plugin.Options

	groups store.GroupRepository // optional, nil without a database
	users  store.UserRepository  // optional, nil without a database

	metrics *observability.Metrics // optional
	logger  *slog.Logger
	ready   atomic.Bool
}

// EngineOption configures an Engine during construction.
type EngineOption func(*Engine)

// WithDirectoryRepos enables JID directory recording.
func WithDirectoryRepos(groups store.GroupRepository, users store.UserRepository) EngineOption {
	return func(e *Engine) {
		e.groups = groups
		e.users = users
	}
}

// WithMetrics enables message counters.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates the launcher engine. options are the instance
// options every plugin load uses.
func NewEngine(t transport.Transport, d *command.Dispatcher, plugins *plugin.Registry, options plugin.Options, opts ...EngineOption) *Engine {
	e := &Engine{
		transport:  t,
		dispatcher: d,
		plugins:    plugins,
		options:    options,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready reports whether the run loop is consuming messages. Wired to
// the observability readiness probe.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// LoadPlugin loads and initializes the plugin at dir, then binds its
// commands. Used both at startup and by the load builtin.
func (e *Engine) LoadPlugin(ctx context.Context, dir string) (*plugin.Entry, error) {
	entry, err := e.plugins.Load(ctx, dir, e.options)
	if err != nil {
		return nil, err
	}
	if err := entry.Instance.Initialize(ctx); err != nil {
		e.plugins.Unload(ctx, entry.Name)
		return nil, err
	}
	e.dispatcher.Registry().BindPlugin(entry)
	return entry, nil
}

// LoadAll loads the named plugin directories under root. When names is
// empty, every subdirectory of root is loaded. Load failures are
// logged and skipped; the launcher starts with whatever loads cleanly.
func (e *Engine) LoadAll(ctx context.Context, root string, names []string) {
	if len(names) == 0 {
		entries, err := os.ReadDir(root)
		if err != nil {
			e.logger.Error("cannot read plugins directory", "dir", root, "error", err)
			return
		}
		for _, entry := range entries {
			if entry.IsDir() {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)
	}

	for _, name := range names {
		dir := filepath.Join(root, name)
		entry, err := e.LoadPlugin(ctx, dir)
		if err != nil {
			e.logger.Error("plugin load failed, skipping",
				"dir", dir,
				"error", err)
			continue
		}
		e.logger.Info("plugin loaded",
			"plugin", entry.Name,
			"version", entry.Manifest.Version,
			"commands", len(entry.Manifest.Commands))
	}
}

// Run consumes messages until the context is cancelled or the
// transport closes its message channel. All plugins are torn down
// before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	transportErr := make(chan error, 1)
	go func() {
		transportErr <- e.transport.Run(ctx)
	}()

	e.ready.Store(true)
	defer e.ready.Store(false)

	e.logger.Info("engine started")

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-e.transport.Messages():
			if !ok {
				break loop
			}
			e.handleMessage(ctx, msg)
		}
	}

	// Plugin teardown gets its own context; ctx is already cancelled.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	e.plugins.ClearAll(shutdownCtx)

	err := <-transportErr
	e.logger.Info("engine stopped")
	return err
}

func (e *Engine) handleMessage(ctx context.Context, msg transport.Message) {
	if e.metrics != nil {
		kind := "direct"
		if msg.Chat.IsGroup() {
			kind = "group"
		}
		e.metrics.MessagesTotal.WithLabelValues(kind).Inc()
	}

	e.recordSighting(ctx, msg)

	reply, handled, err := e.dispatcher.Dispatch(ctx, msg.Text, msg.Sender.String(), msg.Chat.String())
	if !handled {
		return
	}
	if err != nil {
		// The sender gets a sanitized message; the log keeps the cause.
		e.logger.WarnContext(ctx, "command failed",
			"chat", msg.Chat.String(),
			"error", err)
		reply = &plugin.Reply{Text: command.UserMessage(err)}
	}
	if reply == nil {
		return
	}

	if err := e.transport.Send(ctx, msg.Chat.String(), reply); err != nil {
		observability.RecordReplySendFailure(firstWord(msg.Text))
		e.logger.ErrorContext(ctx, "reply delivery failed",
			"chat", msg.Chat.String(),
			"error", err)
	}
}

// recordSighting refreshes the JID directory from message metadata.
// Failures are logged and ignored; directory data is best-effort.
func (e *Engine) recordSighting(ctx context.Context, msg transport.Message) {
	if e.users == nil {
		return
	}

	if msg.SenderName != "" {
		if err := e.users.Upsert(ctx, msg.Sender.String(), msg.SenderName); err != nil {
			e.logger.DebugContext(ctx, "user sighting not recorded", "error", err)
			return
		}
	}
	if msg.Chat.IsGroup() && e.groups != nil {
		if msg.ChatName != "" {
			if err := e.groups.Upsert(ctx, msg.Chat.String(), msg.ChatName); err != nil {
				e.logger.DebugContext(ctx, "group sighting not recorded", "error", err)
				return
			}
		}
		if msg.SenderName != "" && msg.ChatName != "" {
			if err := e.groups.RecordMember(ctx, msg.Chat.String(), msg.Sender.String()); err != nil {
				e.logger.DebugContext(ctx, "membership not recorded", "error", err)
			}
		}
	}
}

func firstWord(text string) string {
	for i, r := range text {
		if r == ' ' || r == '\t' {
			return text[:i]
		}
	}
	return text
}
