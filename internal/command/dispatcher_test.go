// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package command

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finchbot/finch/internal/plugin"
)

type stubInstance struct {
	reply   *plugin.Reply
	err     error
	lastInv plugin.Invocation
	lastCmd string
	calls   int
}

func (s *stubInstance) Initialize(context.Context) error { return nil }
func (s *stubInstance) Info() plugin.Info                { return plugin.Info{} }
func (s *stubInstance) Commands() []plugin.CommandSpec   { return nil }

func (s *stubInstance) Execute(_ context.Context, command string, inv plugin.Invocation) (*plugin.Reply, error) {
	s.calls++
	s.lastCmd = command
	s.lastInv = inv
	return s.reply, s.err
}

type stubSource struct {
	entries map[string]*plugin.Entry
}

func (s *stubSource) Entry(name string) *plugin.Entry { return s.entries[name] }

func (s *stubSource) LoadedPlugins() []plugin.PluginInfo {
	out := make([]plugin.PluginInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, plugin.PluginInfo{Name: e.Name, Manifest: e.Manifest})
	}
	return out
}

func newTestDispatcher(t *testing.T, inst *stubInstance, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	entry := pluginEntry("ping", plugin.CommandSpec{Name: "ping", Description: "pong"})
	entry.Instance = inst
	reg.BindPlugin(entry)

	d, err := NewDispatcher(reg, &stubSource{entries: map[string]*plugin.Entry{"ping": entry}}, opts...)
	require.NoError(t, err)
	return d
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, code, oopsErr.Code())
}

func TestNewDispatcher_NilArgs(t *testing.T) {
	_, err := NewDispatcher(nil, &stubSource{})
	assert.Error(t, err)

	_, err = NewDispatcher(NewRegistry(), nil)
	assert.Error(t, err)
}

func TestDispatch_PluginCommand(t *testing.T) {
	inst := &stubInstance{reply: &plugin.Reply{Text: "pong"}}
	d := newTestDispatcher(t, inst)

	reply, handled, err := d.Dispatch(context.Background(), "!ping now", "alice@s.whatsapp.net", "room@g.us")
	require.NoError(t, err)
	require.True(t, handled)
	require.NotNil(t, reply)
	assert.Equal(t, "pong", reply.Text)

	assert.Equal(t, 1, inst.calls)
	assert.Equal(t, "ping", inst.lastCmd)
	assert.Equal(t, "now", inst.lastInv.Args)
	assert.Equal(t, "!ping now", inst.lastInv.Raw)
	assert.Equal(t, "alice@s.whatsapp.net", inst.lastInv.Sender)
	assert.Equal(t, "room@g.us", inst.lastInv.Chat)
	assert.Len(t, inst.lastInv.RequestID, 26)
}

func TestDispatch_PlainTextIgnored(t *testing.T) {
	inst := &stubInstance{}
	d := newTestDispatcher(t, inst)

	reply, handled, err := d.Dispatch(context.Background(), "good morning", "a@s.whatsapp.net", "c@g.us")
	require.NoError(t, err)
	assert.False(t, handled)
	assert.Nil(t, reply)
	assert.Zero(t, inst.calls)
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d := newTestDispatcher(t, &stubInstance{})

	_, handled, err := d.Dispatch(context.Background(), "!nope", "a@s.whatsapp.net", "c@g.us")
	assert.True(t, handled)
	assertCode(t, err, CodeUnknownCommand)
}

func TestDispatch_BarePrefix(t *testing.T) {
	d := newTestDispatcher(t, &stubInstance{})

	_, handled, err := d.Dispatch(context.Background(), "!", "a@s.whatsapp.net", "c@g.us")
	assert.True(t, handled)
	assertCode(t, err, CodeEmptyInput)
}

func TestDispatch_ExecutionError(t *testing.T) {
	inst := &stubInstance{err: errors.New("lua blew up")}
	d := newTestDispatcher(t, inst)

	_, handled, err := d.Dispatch(context.Background(), "!ping", "a@s.whatsapp.net", "c@g.us")
	assert.True(t, handled)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lua blew up")
}

func TestDispatch_PluginGone(t *testing.T) {
	reg := NewRegistry()
	reg.BindPlugin(pluginEntry("ping", plugin.CommandSpec{Name: "ping"}))
	// Source has no entry for "ping": unload raced the dispatch.
	d, err := NewDispatcher(reg, &stubSource{entries: map[string]*plugin.Entry{}})
	require.NoError(t, err)

	_, handled, err := d.Dispatch(context.Background(), "!ping", "a@s.whatsapp.net", "c@g.us")
	assert.True(t, handled)
	assertCode(t, err, CodeUnavailable)
}

func TestDispatch_RateLimited(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{BurstCapacity: 1, SustainedRate: MinSustainedRate})
	defer rl.Close()

	inst := &stubInstance{reply: &plugin.Reply{Text: "pong"}}
	d := newTestDispatcher(t, inst, WithRateLimiter(rl))

	_, _, err := d.Dispatch(context.Background(), "!ping", "a@s.whatsapp.net", "c@g.us")
	require.NoError(t, err)

	_, handled, err := d.Dispatch(context.Background(), "!ping", "a@s.whatsapp.net", "c@g.us")
	assert.True(t, handled)
	assertCode(t, err, CodeRateLimited)
	assert.Equal(t, 1, inst.calls)
}

func TestDispatch_AdminBypassesRateLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{BurstCapacity: 1, SustainedRate: MinSustainedRate})
	defer rl.Close()

	inst := &stubInstance{reply: &plugin.Reply{Text: "pong"}}
	d := newTestDispatcher(t, inst,
		WithRateLimiter(rl),
		WithAdmins([]string{"admin@s.whatsapp.net"}))

	for range 5 {
		_, _, err := d.Dispatch(context.Background(), "!ping", "admin@s.whatsapp.net", "c@g.us")
		require.NoError(t, err)
	}
	assert.Equal(t, 5, inst.calls)
}

func TestDispatch_CustomPrefix(t *testing.T) {
	inst := &stubInstance{reply: &plugin.Reply{Text: "pong"}}
	d := newTestDispatcher(t, inst, WithPrefix("/"))

	_, handled, err := d.Dispatch(context.Background(), "/ping", "a@s.whatsapp.net", "c@g.us")
	require.NoError(t, err)
	assert.True(t, handled)

	_, handled, _ = d.Dispatch(context.Background(), "!ping", "a@s.whatsapp.net", "c@g.us")
	assert.False(t, handled)
}

func TestDispatch_BuiltinPrecedence(t *testing.T) {
	inst := &stubInstance{reply: &plugin.Reply{Text: "from plugin"}}
	d := newTestDispatcher(t, inst)
	d.Registry().RegisterBuiltin("ping", "builtin ping", "ping", false,
		func(context.Context, *Execution) (*plugin.Reply, error) {
			return &plugin.Reply{Text: "from builtin"}, nil
		})

	reply, _, err := d.Dispatch(context.Background(), "!ping", "a@s.whatsapp.net", "c@g.us")
	require.NoError(t, err)
	assert.Equal(t, "from builtin", reply.Text)
	assert.Zero(t, inst.calls)
}

func TestDispatch_AdminOnlyBuiltin(t *testing.T) {
	d := newTestDispatcher(t, &stubInstance{}, WithAdmins([]string{"admin@s.whatsapp.net"}))
	d.Registry().RegisterBuiltin("reload", "reload", "reload <name>", true,
		func(context.Context, *Execution) (*plugin.Reply, error) {
			return &plugin.Reply{Text: "ok"}, nil
		})

	_, _, err := d.Dispatch(context.Background(), "!reload ping", "mallory@s.whatsapp.net", "c@g.us")
	assertCode(t, err, CodeNotAuthorized)

	reply, _, err := d.Dispatch(context.Background(), "!reload ping", "admin@s.whatsapp.net", "c@g.us")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)
}
