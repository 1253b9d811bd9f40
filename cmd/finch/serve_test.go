// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServe_ConsoleEndToEnd drives the full serve wiring over the
// console transport: input hits the dispatcher, the help builtin
// replies, and EOF shuts the engine down.
func TestServe_ConsoleEndToEnd(t *testing.T) {
	pluginsDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "finch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("observability:\n  enabled: false\n"), 0o600))

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader("!help\njust chatting\n"))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"serve",
		"--config", cfgPath,
		"--plugins.dir", pluginsDir,
		"--log.format", "text",
	})

	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "!help - list available commands")
	assert.Contains(t, out.String(), "!plugins - list loaded plugins")
	// non-command chatter produces no reply
	assert.NotContains(t, out.String(), "just chatting]")
}

func TestServe_RejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "finch.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("log:\n  format: xml\n"), 0o600))

	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "--config", cfgPath})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log format")
}

func TestNewServeCmd_FlagsMatchConfigKeys(t *testing.T) {
	cmd := NewServeCmd()
	for _, name := range []string{
		"log.format", "log.level", "database.url",
		"plugins.dir", "command.prefix", "observability.addr",
	} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
}
