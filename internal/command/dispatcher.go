// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/finchbot/finch/internal/plugin"
)

var tracer = otel.Tracer("finch/command")

// Dispatcher handles command parsing, rate limiting, and execution.
type Dispatcher struct {
	registry    *Registry
	plugins     PluginSource
	prefix      string
	admins      map[string]struct{} // sender JIDs allowed to run admin builtins
	rateLimiter *RateLimiter        // optional, can be nil
}

// DispatcherOption configures a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithPrefix overrides the command prefix. Defaults to DefaultPrefix.
func WithPrefix(prefix string) DispatcherOption {
	return func(d *Dispatcher) {
		d.prefix = prefix
	}
}

// WithAdmins marks the given sender JIDs as admins for admin-only
// builtins.
func WithAdmins(jids []string) DispatcherOption {
	return func(d *Dispatcher) {
		for _, jid := range jids {
			d.admins[jid] = struct{}{}
		}
	}
}

// WithRateLimiter configures the dispatcher to use rate limiting.
// If not provided, rate limiting is disabled.
func WithRateLimiter(rl *RateLimiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.rateLimiter = rl
	}
}

// NewDispatcher creates a new command dispatcher with the given
// registry and plugin source. Returns an error if either is nil.
func NewDispatcher(registry *Registry, plugins PluginSource, opts ...DispatcherOption) (*Dispatcher, error) {
	if registry == nil {
		return nil, errors.New("command: registry cannot be nil")
	}
	if plugins == nil {
		return nil, errors.New("command: plugin source cannot be nil")
	}
	d := &Dispatcher{
		registry: registry,
		plugins:  plugins,
		prefix:   DefaultPrefix,
		admins:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Registry returns the command registry this dispatcher routes through.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch parses and executes a command from a chat message.
//
// Ordinary chat text (no prefix) returns (nil, false, nil): not a
// command, nothing to do. A matched command returns handled=true; the
// reply is nil when the command produced no output.
func (d *Dispatcher) Dispatch(ctx context.Context, text, sender, chat string) (reply *plugin.Reply, handled bool, err error) {
	parsed, isCommand, err := Parse(d.prefix, text)
	if !isCommand {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}

	ctx, span := tracer.Start(ctx, "command.execute",
		trace.WithAttributes(
			attribute.String("command.name", parsed.Name),
			attribute.String("chat.jid", chat),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	// Rate limit before any lookup so unknown-command floods are
	// throttled too. Admins bypass the limiter.
	if d.rateLimiter != nil && !d.isAdmin(sender) {
		allowed, cooldownMs := d.rateLimiter.Allow(sender)
		if !allowed {
			span.SetAttributes(attribute.Bool("command.rate_limited", true))
			span.SetAttributes(attribute.Int64("command.cooldown_ms", cooldownMs))
			RecordCommandExecution(parsed.Name, "", StatusRateLimited)
			err = ErrRateLimited(cooldownMs)
			return nil, true, err
		}
	}

	exec := &Execution{
		Command:   parsed.Name,
		Args:      parsed.Args,
		Raw:       parsed.Raw,
		Sender:    sender,
		Chat:      chat,
		RequestID: ulid.Make().String(),
	}
	span.SetAttributes(attribute.String("request.id", exec.RequestID))

	if builtin, ok := d.registry.builtin(parsed.Name); ok {
		reply, err = d.runBuiltin(ctx, builtin, exec)
		return reply, true, err
	}

	binding, ok := d.registry.Lookup(parsed.Name)
	if !ok {
		RecordCommandExecution(parsed.Name, "", StatusNotFound)
		err = ErrUnknownCommand(parsed.Name)
		return nil, true, err
	}
	span.SetAttributes(attribute.String("plugin.name", binding.Plugin))

	entry := d.plugins.Entry(binding.Plugin)
	if entry == nil {
		RecordCommandExecution(parsed.Name, binding.Plugin, StatusError)
		err = ErrUnavailable(parsed.Name, binding.Plugin)
		return nil, true, err
	}

	start := time.Now()
	reply, err = entry.Instance.Execute(ctx, exec.Command, plugin.Invocation{
		Command:   exec.Command,
		Args:      exec.Args,
		Raw:       exec.Raw,
		Sender:    exec.Sender,
		Chat:      exec.Chat,
		RequestID: exec.RequestID,
	})
	RecordCommandDuration(parsed.Name, binding.Plugin, time.Since(start))

	if err != nil {
		RecordCommandExecution(parsed.Name, binding.Plugin, StatusError)
		slog.WarnContext(ctx, "command execution failed",
			"command", parsed.Name,
			"plugin", binding.Plugin,
			"request_id", exec.RequestID,
			"error", err,
		)
		return nil, true, err
	}

	RecordCommandExecution(parsed.Name, binding.Plugin, StatusSuccess)
	return reply, true, nil
}

func (d *Dispatcher) runBuiltin(ctx context.Context, b builtinEntry, exec *Execution) (*plugin.Reply, error) {
	if b.adminOnly && !d.isAdmin(exec.Sender) {
		RecordCommandExecution(exec.Command, "builtin", StatusNotAuthorized)
		return nil, ErrNotAuthorized(exec.Command, exec.Sender)
	}

	start := time.Now()
	reply, err := b.handler(ctx, exec)
	RecordCommandDuration(exec.Command, "builtin", time.Since(start))

	if err != nil {
		RecordCommandExecution(exec.Command, "builtin", StatusError)
		slog.WarnContext(ctx, "builtin command failed",
			"command", exec.Command,
			"request_id", exec.RequestID,
			"error", err,
		)
		return nil, err
	}

	RecordCommandExecution(exec.Command, "builtin", StatusSuccess)
	return reply, nil
}

func (d *Dispatcher) isAdmin(sender string) bool {
	_, ok := d.admins[sender]
	return ok
}
