// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "nil error",
			err:  nil,
			want: "Something went wrong. Try again.",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: "Something went wrong. Try again.",
		},
		{
			name: "unknown command",
			err:  ErrUnknownCommand("nope"),
			want: "Unknown command. Try '!help'.",
		},
		{
			name: "empty input",
			err:  func() error { _, _, err := Parse(DefaultPrefix, "!"); return err }(),
			want: "No command given. Try '!help'.",
		},
		{
			name: "rate limited",
			err:  ErrRateLimited(1500),
			want: "Too many commands. Please slow down.",
		},
		{
			name: "not authorized",
			err:  ErrNotAuthorized("reload", "m@s.whatsapp.net"),
			want: "You are not allowed to do that.",
		},
		{
			name: "plugin unavailable",
			err:  ErrUnavailable("qr", "qr"),
			want: "That command is temporarily unavailable.",
		},
		{
			name: "invalid args with usage",
			err:  ErrInvalidArgs("load", "load <name>"),
			want: "Usage: load <name>",
		},
		{
			name: "invalid args without usage",
			err:  ErrInvalidArgs("load", ""),
			want: "Invalid arguments.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}
