// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package bot

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchbot/finch/internal/command"
	"github.com/finchbot/finch/internal/plugin"
	"github.com/finchbot/finch/internal/transport"
)

type echoInstance struct {
	mu        sync.Mutex
	shutdowns int
}

func (i *echoInstance) Initialize(context.Context) error { return nil }
func (i *echoInstance) Info() plugin.Info                { return plugin.Info{} }
func (i *echoInstance) Commands() []plugin.CommandSpec   { return nil }

func (i *echoInstance) Execute(_ context.Context, _ string, inv plugin.Invocation) (*plugin.Reply, error) {
	if inv.Args == "" {
		return nil, nil
	}
	return &plugin.Reply{Text: inv.Args}, nil
}

func (i *echoInstance) Shutdown(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.shutdowns++
	return nil
}

func (i *echoInstance) shutdownCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.shutdowns
}

type echoHost struct {
	instance *echoInstance
}

func (h *echoHost) Instantiate(_ context.Context, _ plugin.InstanceContext) (plugin.Instance, error) {
	return h.instance, nil
}

func writePluginDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := "name: " + name + "\nversion: 1.0.0\ncommands:\n  - name: " + name + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.lua"), []byte("-- entry\n"), 0o644))
	return dir
}

func fileCache() *plugin.MemoryCache {
	return plugin.NewMemoryCache(func(key string) (any, error) {
		return os.ReadFile(key)
	})
}

func newTestEngine(t *testing.T) (*Engine, *transport.Memory, *echoInstance, string) {
	t.Helper()
	inst := &echoInstance{}
	registry := plugin.NewRegistry(&echoHost{instance: inst}, fileCache())

	cmdReg := command.NewRegistry()
	dispatcher, err := command.NewDispatcher(cmdReg, registry)
	require.NoError(t, err)

	mem := transport.NewMemory(16)
	engine := NewEngine(mem, dispatcher, registry, plugin.Options{})

	root := t.TempDir()
	writePluginDir(t, root, "echo")
	return engine, mem, inst, root
}

func groupMessage(text string) transport.Message {
	return transport.Message{
		ID:        "m1",
		Chat:      transport.NewGroupJID("12036302"),
		Sender:    transport.NewUserJID("12025550100"),
		Text:      text,
		Timestamp: time.Now(),
	}
}

func waitForReplies(t *testing.T, mem *transport.Memory, n int) []transport.Outgoing {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if sent := mem.Sent(); len(sent) >= n {
			return sent
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d replies, got %d", n, len(mem.Sent()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngine_DispatchesAndReplies(t *testing.T) {
	engine, mem, _, root := newTestEngine(t)
	engine.LoadAll(context.Background(), root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.True(t, mem.Inject(groupMessage("!echo hello world")))

	sent := waitForReplies(t, mem, 1)
	assert.Equal(t, "12036302@g.us", sent[0].Chat)
	assert.Equal(t, "hello world", sent[0].Reply.Text)

	cancel()
	require.NoError(t, <-done)
}

func TestEngine_IgnoresPlainText(t *testing.T) {
	engine, mem, _, root := newTestEngine(t)
	engine.LoadAll(context.Background(), root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.True(t, mem.Inject(groupMessage("just chatting")))
	require.True(t, mem.Inject(groupMessage("!echo ping")))

	sent := waitForReplies(t, mem, 1)
	assert.Len(t, sent, 1, "plain text must not produce a reply")
	assert.Equal(t, "ping", sent[0].Reply.Text)

	cancel()
	require.NoError(t, <-done)
}

func TestEngine_ErrorsBecomeUserMessages(t *testing.T) {
	engine, mem, _, root := newTestEngine(t)
	engine.LoadAll(context.Background(), root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	require.True(t, mem.Inject(groupMessage("!unknowncmd")))

	sent := waitForReplies(t, mem, 1)
	assert.Contains(t, sent[0].Reply.Text, "Unknown command")

	cancel()
	require.NoError(t, <-done)
}

func TestEngine_ShutdownTearsDownPlugins(t *testing.T) {
	engine, _, inst, root := newTestEngine(t)
	engine.LoadAll(context.Background(), root, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	// Wait until the loop is consuming before stopping it.
	require.Eventually(t, engine.Ready, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, inst.shutdownCount())
	assert.False(t, engine.Ready())
}

func TestEngine_LoadAllSkipsBroken(t *testing.T) {
	engine, _, _, root := newTestEngine(t)

	// A directory without a manifest must not stop the others.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "broken"), 0o755))
	writePluginDir(t, root, "second")

	engine.LoadAll(context.Background(), root, nil)

	names := make([]string, 0)
	for _, info := range enginePlugins(engine) {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "second"}, names)
}

func TestEngine_LoadPluginInitFailureUnloads(t *testing.T) {
	inst := &failingInitInstance{}
	registry := plugin.NewRegistry(&staticHost{instance: inst}, fileCache())
	dispatcher, err := command.NewDispatcher(command.NewRegistry(), registry)
	require.NoError(t, err)
	engine := NewEngine(transport.NewMemory(1), dispatcher, registry, plugin.Options{})

	root := t.TempDir()
	dir := writePluginDir(t, root, "flaky")

	_, err = engine.LoadPlugin(context.Background(), dir)
	require.Error(t, err)
	assert.False(t, registry.IsLoaded("flaky"), "failed init must not leave the plugin loaded")
}

type failingInitInstance struct{ echoInstance }

func (i *failingInitInstance) Initialize(context.Context) error {
	return assert.AnError
}

type staticHost struct{ instance plugin.Instance }

func (h *staticHost) Instantiate(_ context.Context, _ plugin.InstanceContext) (plugin.Instance, error) {
	return h.instance, nil
}

func enginePlugins(e *Engine) []plugin.PluginInfo {
	return e.plugins.LoadedPlugins()
}
