// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package lua

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/finchbot/finch/internal/plugin"
	"github.com/finchbot/finch/internal/plugin/capability"
	"github.com/finchbot/finch/internal/plugin/hostfunc"
)

// Compile-time interface checks.
var (
	_ plugin.InstanceHost    = (*Host)(nil)
	_ plugin.Instance        = (*instance)(nil)
	_ plugin.ShutdownCapable = (*instance)(nil)
)

// Host constructs Lua-backed plugin instances. All chunk loading goes
// through the shared ChunkCache, so the registry's purge-by-prefix on
// unload is what forces recompilation from disk.
type Host struct {
	factory   *StateFactory
	cache     *ChunkCache
	hostFuncs *hostfunc.Functions
	enforcer  *capability.Enforcer
	logger    *slog.Logger
}

// HostOption configures the Host.
type HostOption func(*Host)

// WithFunctions sets the host functions exposed to plugin code as the
// finch.* API.
func WithFunctions(hf *hostfunc.Functions) HostOption {
	return func(h *Host) {
		h.hostFuncs = hf
	}
}

// WithEnforcer makes the host grant each plugin's manifest capabilities
// on instantiate and revoke them on shutdown.
func WithEnforcer(e *capability.Enforcer) HostOption {
	return func(h *Host) {
		h.enforcer = e
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost creates a Lua instance host backed by the given chunk cache.
func NewHost(cache *ChunkCache, opts ...HostOption) *Host {
	h := &Host{
		factory: NewStateFactory(),
		cache:   cache,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Instantiate compiles the plugin's entry script through the chunk cache
// and probes it for lifecycle handlers. The script runs once in a
// throwaway state to validate that it executes; each later call runs it
// again in a fresh sandboxed state.
func (h *Host) Instantiate(ctx context.Context, ic plugin.InstanceContext) (plugin.Instance, error) {
	entryPath := Normalize(filepath.Join(ic.SourcePath, plugin.EntryFile))

	protoAny, err := h.cache.Load(ctx, entryPath)
	if err != nil {
		return nil, oops.In("lua").With("plugin", ic.Name).With("operation", "instantiate").Wrap(err)
	}
	proto, ok := protoAny.(*lua.FunctionProto)
	if !ok {
		return nil, oops.In("lua").With("plugin", ic.Name).With("path", entryPath).New("cache returned a non-chunk value")
	}

	if h.enforcer != nil {
		if err := h.enforcer.SetGrants(ic.Name, ic.Manifest.Capabilities); err != nil {
			return nil, oops.In("lua").With("plugin", ic.Name).With("operation", "grant capabilities").Wrap(err)
		}
	}

	L, err := h.newPluginState(ctx, ic)
	if err != nil {
		h.revokeGrants(ic.Name)
		return nil, oops.In("lua").With("plugin", ic.Name).With("operation", "instantiate").Wrap(err)
	}
	defer L.Close()

	if err := runChunk(L, proto); err != nil {
		// A plugin that never registered keeps no grants.
		h.revokeGrants(ic.Name)
		return nil, oops.In("lua").With("plugin", ic.Name).With("entry", plugin.EntryFile).Hint("entry script failed to execute").Wrap(err)
	}

	return &instance{
		host:        h,
		ic:          ic,
		proto:       proto,
		hasInit:     L.GetGlobal("on_init").Type() != lua.LTNil,
		hasCommand:  L.GetGlobal("on_command").Type() != lua.LTNil,
		hasShutdown: L.GetGlobal("on_shutdown").Type() != lua.LTNil,
	}, nil
}

func (h *Host) revokeGrants(name string) {
	if h.enforcer != nil {
		h.enforcer.RemoveGrants(name)
	}
}

// newPluginState creates a sandboxed state with the finch.* API bound to
// the given plugin.
func (h *Host) newPluginState(ctx context.Context, ic plugin.InstanceContext) (*lua.LState, error) {
	L, err := h.factory.NewState(ctx)
	if err != nil {
		return nil, err
	}
	if h.hostFuncs != nil {
		h.hostFuncs.Register(L, ic.Name)
	}
	h.registerLoadModule(L, ic)
	return L, nil
}

// registerLoadModule exposes finch.load_module(relpath): it resolves a
// module file inside the plugin's own directory, compiles it through the
// shared chunk cache, executes it, and returns its value. Populating the
// cache here is what makes nested modules purgeable at unload.
func (h *Host) registerLoadModule(L *lua.LState, ic plugin.InstanceContext) {
	mod, ok := L.GetGlobal("finch").(*lua.LTable)
	if !ok {
		mod = L.NewTable()
		L.SetGlobal("finch", mod)
	}

	L.SetField(mod, "load_module", L.NewFunction(func(L *lua.LState) int {
		rel := L.CheckString(1)
		path := Normalize(filepath.Join(ic.SourcePath, rel))
		if !insideDir(path, ic.SourcePath) {
			L.RaiseError("load_module: %s escapes the plugin directory", rel)
			return 0
		}

		protoAny, err := h.cache.Load(L.Context(), path)
		if err != nil {
			L.RaiseError("load_module: %s: %v", rel, err)
			return 0
		}

		L.Push(L.NewFunctionFromProto(protoAny.(*lua.FunctionProto)))
		if err := L.PCall(0, 1, nil); err != nil {
			L.RaiseError("load_module: %s: %v", rel, err)
			return 0
		}
		return 1
	}))
}

// insideDir reports whether path is dir or nested under it.
func insideDir(path, dir string) bool {
	rel, err := filepath.Rel(Normalize(dir), path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// runChunk executes a compiled chunk on the state's stack.
func runChunk(L *lua.LState, proto *lua.FunctionProto) error {
	L.Push(L.NewFunctionFromProto(proto))
	return L.PCall(0, lua.MultRet, nil)
}

// instance is a loaded Lua plugin. Each Initialize/Execute/Shutdown call
// runs the entry chunk in a fresh sandboxed state, so plugin bugs cannot
// leak state between invocations.
type instance struct {
	host  *Host
	ic    plugin.InstanceContext
	proto *lua.FunctionProto

	hasInit     bool
	hasCommand  bool
	hasShutdown bool

	mu          sync.Mutex
	initialized bool
}

// Initialize runs the script's on_init handler, if defined.
func (i *instance) Initialize(ctx context.Context) error {
	if i.hasInit {
		if err := i.call(ctx, "on_init", nil, 0); err != nil {
			return oops.In("lua").With("plugin", i.ic.Name).With("operation", "on_init").Wrap(err)
		}
	}

	i.mu.Lock()
	i.initialized = true
	i.mu.Unlock()
	return nil
}

// Info reports declared identity and initialization state.
func (i *instance) Info() plugin.Info {
	i.mu.Lock()
	initialized := i.initialized
	i.mu.Unlock()

	return plugin.Info{
		Name:        i.ic.Manifest.Name,
		Version:     i.ic.Manifest.Version,
		Initialized: initialized,
	}
}

// Commands returns the manifest's command descriptors.
func (i *instance) Commands() []plugin.CommandSpec {
	return i.ic.Manifest.Commands
}

// Execute runs the script's on_command handler for one invocation.
func (i *instance) Execute(ctx context.Context, command string, inv plugin.Invocation) (*plugin.Reply, error) {
	if !i.hasCommand {
		return nil, oops.In("lua").With("plugin", i.ic.Name).With("command", command).New("plugin defines no on_command handler")
	}

	L, err := i.host.newPluginState(ctx, i.ic)
	if err != nil {
		return nil, oops.In("lua").With("plugin", i.ic.Name).With("operation", "execute").Wrap(err)
	}
	defer L.Close()

	if err := runChunk(L, i.proto); err != nil {
		return nil, oops.In("lua").With("plugin", i.ic.Name).With("operation", "execute").Wrap(err)
	}

	ctxTable := L.NewTable()
	L.SetField(ctxTable, "command", lua.LString(command))
	L.SetField(ctxTable, "args", lua.LString(inv.Args))
	L.SetField(ctxTable, "raw", lua.LString(inv.Raw))
	L.SetField(ctxTable, "sender", lua.LString(inv.Sender))
	L.SetField(ctxTable, "chat", lua.LString(inv.Chat))
	L.SetField(ctxTable, "request_id", lua.LString(inv.RequestID))

	if err := L.CallByParam(lua.P{
		Fn:      L.GetGlobal("on_command"),
		NRet:    1,
		Protect: true,
	}, ctxTable); err != nil {
		return nil, oops.In("lua").With("plugin", i.ic.Name).With("operation", "on_command").With("command", command).Wrap(err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return parseReply(ret)
}

// Shutdown runs the script's on_shutdown handler, if defined.
func (i *instance) Shutdown(ctx context.Context) error {
	i.mu.Lock()
	i.initialized = false
	i.mu.Unlock()

	if i.host.enforcer != nil {
		defer i.host.enforcer.RemoveGrants(i.ic.Name)
	}
	if !i.hasShutdown {
		return nil
	}
	if err := i.call(ctx, "on_shutdown", nil, 0); err != nil {
		return oops.In("lua").With("plugin", i.ic.Name).With("operation", "on_shutdown").Wrap(err)
	}
	return nil
}

// call runs the chunk in a fresh state and invokes a global handler.
func (i *instance) call(ctx context.Context, handler string, arg lua.LValue, nret int) error {
	L, err := i.host.newPluginState(ctx, i.ic)
	if err != nil {
		return err
	}
	defer L.Close()

	if err := runChunk(L, i.proto); err != nil {
		return err
	}

	fn := L.GetGlobal(handler)
	if fn.Type() == lua.LTNil {
		return nil
	}
	p := lua.P{Fn: fn, NRet: nret, Protect: true}
	if arg != nil {
		return L.CallByParam(p, arg)
	}
	return L.CallByParam(p)
}

// parseReply converts an on_command return value to a Reply.
// nil means no reply; a string is shorthand for {text = ...}.
func parseReply(ret lua.LValue) (*plugin.Reply, error) {
	switch v := ret.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LString:
		return &plugin.Reply{Text: string(v)}, nil
	case *lua.LTable:
		reply := &plugin.Reply{}
		if text, ok := v.RawGetString("text").(lua.LString); ok {
			reply.Text = string(text)
		}
		if media, ok := v.RawGetString("media").(lua.LString); ok {
			reply.Media = []byte(media)
		}
		if mt, ok := v.RawGetString("media_type").(lua.LString); ok {
			reply.MediaType = string(mt)
		}
		return reply, nil
	default:
		return nil, oops.In("lua").With("type", ret.Type().String()).New("on_command returned an unsupported value")
	}
}
