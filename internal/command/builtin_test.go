// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchbot/finch/internal/plugin"
)

type stubManager struct {
	loaded      []plugin.PluginInfo
	unloadOK    bool
	unloaded    []string
	reloadEntry *plugin.Entry
	reloadErr   error
	reloaded    []string
}

func (m *stubManager) Unload(_ context.Context, name string) bool {
	m.unloaded = append(m.unloaded, name)
	return m.unloadOK
}

func (m *stubManager) Reload(_ context.Context, name string) (*plugin.Entry, error) {
	m.reloaded = append(m.reloaded, name)
	return m.reloadEntry, m.reloadErr
}

func (m *stubManager) LoadedPlugins() []plugin.PluginInfo { return m.loaded }

func builtinExec(cmd, args, sender string) *Execution {
	return &Execution{Command: cmd, Args: args, Sender: sender, Chat: "room@g.us"}
}

func TestBuiltin_Help(t *testing.T) {
	reg := NewRegistry()
	reg.BindPlugin(pluginEntry("qr", plugin.CommandSpec{Name: "qr", Description: "make a QR code"}))
	RegisterBuiltins(reg, &stubManager{}, nil, "/plugins")

	b, ok := reg.builtin("help")
	require.True(t, ok)

	reply, err := b.handler(context.Background(), builtinExec("help", "", "a@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "!qr - make a QR code")
	assert.Contains(t, reply.Text, "!reload")
}

func TestBuiltin_PluginsList(t *testing.T) {
	manager := &stubManager{
		loaded: []plugin.PluginInfo{
			{
				Name:     "ping",
				Manifest: &plugin.Manifest{Name: "ping", Version: "1.2.0"},
				LoadedAt: time.Date(2026, 8, 30, 9, 15, 0, 0, time.UTC),
			},
		},
	}
	reg := NewRegistry()
	RegisterBuiltins(reg, manager, nil, "/plugins")

	b, _ := reg.builtin("plugins")
	reply, err := b.handler(context.Background(), builtinExec("plugins", "", "a@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "ping 1.2.0")
}

func TestBuiltin_PluginsListEmpty(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, &stubManager{}, nil, "/plugins")

	b, _ := reg.builtin("plugins")
	reply, err := b.handler(context.Background(), builtinExec("plugins", "", "a@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Equal(t, "No plugins loaded.", reply.Text)
}

func TestBuiltin_Load(t *testing.T) {
	var loadedDir string
	load := func(_ context.Context, dir string) (*plugin.Entry, error) {
		loadedDir = dir
		return pluginEntry("qr", plugin.CommandSpec{Name: "qr"}), nil
	}
	reg := NewRegistry()
	RegisterBuiltins(reg, &stubManager{}, load, "/srv/finch/plugins")

	b, _ := reg.builtin("load")
	reply, err := b.handler(context.Background(), builtinExec("load", "qr", "admin@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/finch/plugins", "qr"), loadedDir)
	assert.Contains(t, reply.Text, "Loaded qr 1.0.0")

	_, ok := reg.Lookup("qr")
	assert.True(t, ok, "load should bind the plugin's commands")
}

func TestBuiltin_LoadRejectsPathTraversal(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, &stubManager{}, func(context.Context, string) (*plugin.Entry, error) {
		t.Fatal("load must not be called")
		return nil, nil
	}, "/plugins")

	b, _ := reg.builtin("load")
	for _, args := range []string{"", "../etc", "a/b"} {
		_, err := b.handler(context.Background(), builtinExec("load", args, "admin@s.whatsapp.net"))
		assertCode(t, err, CodeInvalidArgs)
	}
}

func TestBuiltin_Unload(t *testing.T) {
	manager := &stubManager{unloadOK: true}
	reg := NewRegistry()
	reg.BindPlugin(pluginEntry("qr", plugin.CommandSpec{Name: "qr"}))
	RegisterBuiltins(reg, manager, nil, "/plugins")

	b, _ := reg.builtin("unload")
	reply, err := b.handler(context.Background(), builtinExec("unload", "qr", "admin@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Equal(t, "Unloaded qr.", reply.Text)
	assert.Equal(t, []string{"qr"}, manager.unloaded)

	_, ok := reg.Lookup("qr")
	assert.False(t, ok, "unload should remove the plugin's bindings")
}

func TestBuiltin_UnloadNotLoaded(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, &stubManager{unloadOK: false}, nil, "/plugins")

	b, _ := reg.builtin("unload")
	reply, err := b.handler(context.Background(), builtinExec("unload", "ghost", "admin@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Equal(t, "Plugin ghost is not loaded.", reply.Text)
}

func TestBuiltin_Reload(t *testing.T) {
	manager := &stubManager{
		reloadEntry: pluginEntry("qr", plugin.CommandSpec{Name: "qr"}),
	}
	manager.reloadEntry.Manifest.Version = "2.0.0"

	reg := NewRegistry()
	reg.BindPlugin(pluginEntry("qr", plugin.CommandSpec{Name: "qr"}))
	RegisterBuiltins(reg, manager, nil, "/plugins")

	b, _ := reg.builtin("reload")
	reply, err := b.handler(context.Background(), builtinExec("reload", "qr", "admin@s.whatsapp.net"))
	require.NoError(t, err)
	assert.Equal(t, "Reloaded qr 2.0.0.", reply.Text)
	assert.Equal(t, []string{"qr"}, manager.reloaded)

	_, ok := reg.Lookup("qr")
	assert.True(t, ok, "reload should rebind the plugin's commands")
}

func TestBuiltin_ReloadFailureLeavesUnbound(t *testing.T) {
	manager := &stubManager{reloadErr: errors.New("syntax error in index.lua")}
	reg := NewRegistry()
	reg.BindPlugin(pluginEntry("qr", plugin.CommandSpec{Name: "qr"}))
	RegisterBuiltins(reg, manager, nil, "/plugins")

	b, _ := reg.builtin("reload")
	_, err := b.handler(context.Background(), builtinExec("reload", "qr", "admin@s.whatsapp.net"))
	require.Error(t, err)

	_, ok := reg.Lookup("qr")
	assert.False(t, ok, "failed reload leaves the command unbound")
}
