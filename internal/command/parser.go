// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"strings"

	"github.com/samber/oops"
)

// DefaultPrefix marks a chat message as a command invocation.
const DefaultPrefix = "!"

// ParsedCommand represents a parsed command input.
type ParsedCommand struct {
	Name string // command name (first whitespace-delimited token, prefix stripped)
	Args string // unparsed argument string (preserves internal whitespace)
	Raw  string // original input
}

// Parse splits raw input into command name and arguments. The input
// must start with prefix; ordinary chat text returns (nil, false, nil)
// so callers can ignore it without an error path.
func Parse(prefix, input string) (*ParsedCommand, bool, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, prefix) {
		return nil, false, nil
	}

	body := trimmed[len(prefix):]
	if strings.TrimSpace(body) == "" {
		return nil, true, oops.Code(CodeEmptyInput).Errorf("no command provided")
	}

	idx := strings.IndexAny(body, " \t")
	if idx == -1 {
		return &ParsedCommand{
			Name: strings.ToLower(body),
			Args: "",
			Raw:  input,
		}, true, nil
	}

	name := body[:idx]
	// Trim leading whitespace from args but preserve internal whitespace
	args := strings.TrimLeft(body[idx+1:], " \t")

	return &ParsedCommand{
		Name: strings.ToLower(name),
		Args: args,
		Raw:  input,
	}, true, nil
}
