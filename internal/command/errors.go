// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"github.com/samber/oops"
)

// Error codes for command dispatch failures.
const (
	CodeEmptyInput     = "EMPTY_INPUT"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeUnavailable    = "PLUGIN_UNAVAILABLE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeNotAuthorized  = "NOT_AUTHORIZED"
	CodeInvalidArgs    = "INVALID_ARGS"
)

// ErrUnknownCommand creates an error for an unknown command.
func ErrUnknownCommand(cmd string) error {
	return oops.Code(CodeUnknownCommand).
		With("command", cmd).
		Errorf("unknown command: %s", cmd)
}

// ErrUnavailable creates an error for a command whose owning plugin is
// no longer loaded. Bindings are removed on unload, so this only
// surfaces when dispatch races an unload.
func ErrUnavailable(cmd, pluginName string) error {
	return oops.Code(CodeUnavailable).
		With("command", cmd).
		With("plugin", pluginName).
		Errorf("plugin %s is not loaded", pluginName)
}

// ErrRateLimited creates an error for rate limiting.
func ErrRateLimited(cooldownMs int64) error {
	return oops.Code(CodeRateLimited).
		With("cooldown_ms", cooldownMs).
		Errorf("too many commands")
}

// ErrNotAuthorized creates an error for admin-only commands.
func ErrNotAuthorized(cmd, sender string) error {
	return oops.Code(CodeNotAuthorized).
		With("command", cmd).
		With("sender", sender).
		Errorf("not authorized for command %s", cmd)
}

// ErrInvalidArgs creates an error for invalid arguments.
func ErrInvalidArgs(cmd, usage string) error {
	return oops.Code(CodeInvalidArgs).
		With("command", cmd).
		With("usage", usage).
		Errorf("invalid arguments")
}

// UserMessage extracts a chat-facing message from an error.
func UserMessage(err error) string {
	if err == nil {
		return "Something went wrong. Try again."
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "Something went wrong. Try again."
	}

	switch oopsErr.Code() {
	case CodeEmptyInput:
		return "No command given. Try '" + DefaultPrefix + "help'."
	case CodeUnknownCommand:
		return "Unknown command. Try '" + DefaultPrefix + "help'."
	case CodeUnavailable:
		return "That command is temporarily unavailable."
	case CodeRateLimited:
		return "Too many commands. Please slow down."
	case CodeNotAuthorized:
		return "You are not allowed to do that."
	case CodeInvalidArgs:
		if usage, ok := oopsErr.Context()["usage"].(string); ok && usage != "" {
			return "Usage: " + usage
		}
		return "Invalid arguments."
	default:
		return "Something went wrong. Try again."
	}
}
