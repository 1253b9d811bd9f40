// Package hostfunc provides host functions to Lua plugins.
//
// Host functions expose bot capabilities to plugins in a controlled way
// under the finch.* global. Functions reaching sensitive resources
// (network, store) require a capability grant from the plugin manifest.
package hostfunc

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	qrcode "github.com/skip2/go-qrcode"
	lua "github.com/yuin/gopher-lua"

	"github.com/finchbot/finch/internal/plugin"
	"github.com/finchbot/finch/internal/plugin/capability"
)

// Capability names checked by host functions.
const (
	CapHTTPGet   = "net.http"
	CapStoreRead = "store.read"
	CapQREncode  = "media.qr"
)

// defaultMaxBodyBytes caps http_get response bodies.
const defaultMaxBodyBytes = 10 << 20

// Config carries the dependencies host functions need.
type Config struct {
	// Directory resolves JIDs to names; nil disables the store lookups.
	Directory plugin.Directory
	// Enforcer checks capability grants. Required.
	Enforcer *capability.Enforcer
	// HTTPClient used by http_get. Defaults to a 15s-timeout client.
	HTTPClient *http.Client
	// MaxBodyBytes caps http_get bodies. Defaults to 10 MiB.
	MaxBodyBytes int64
	// Logger for finch.log. Defaults to slog.Default().
	Logger *slog.Logger
}

// Functions provides host functions to Lua plugins.
type Functions struct {
	directory    plugin.Directory
	enforcer     *capability.Enforcer
	client       *http.Client
	maxBodyBytes int64
	logger       *slog.Logger
}

// New creates host functions. Panics if cfg.Enforcer is nil.
func New(cfg Config) *Functions {
	if cfg.Enforcer == nil {
		panic("hostfunc.New: Enforcer cannot be nil")
	}
	f := &Functions{
		directory:    cfg.Directory,
		enforcer:     cfg.Enforcer,
		client:       cfg.HTTPClient,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger,
	}
	if f.client == nil {
		f.client = &http.Client{Timeout: 15 * time.Second}
	}
	if f.maxBodyBytes <= 0 {
		f.maxBodyBytes = defaultMaxBodyBytes
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	return f
}

// Register adds host functions to a Lua state under the finch global.
func (f *Functions) Register(ls *lua.LState, pluginName string) {
	mod, ok := ls.GetGlobal("finch").(*lua.LTable)
	if !ok {
		mod = ls.NewTable()
		ls.SetGlobal("finch", mod)
	}

	// No capability required.
	ls.SetField(mod, "log", ls.NewFunction(f.logFn(pluginName)))
	ls.SetField(mod, "new_request_id", ls.NewFunction(f.newRequestIDFn()))

	// Capability-gated.
	ls.SetField(mod, "qr_png", ls.NewFunction(f.wrap(pluginName, CapQREncode, f.qrPNGFn())))
	ls.SetField(mod, "http_get", ls.NewFunction(f.wrap(pluginName, CapHTTPGet, f.httpGetFn())))
	ls.SetField(mod, "group_name", ls.NewFunction(f.wrap(pluginName, CapStoreRead, f.groupNameFn())))
	ls.SetField(mod, "user_name", ls.NewFunction(f.wrap(pluginName, CapStoreRead, f.userNameFn())))
}

func (f *Functions) wrap(pluginName, capName string, fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		if !f.enforcer.Check(pluginName, capName) {
			L.RaiseError("capability denied: %s requires %s", pluginName, capName)
			return 0
		}
		return fn(L)
	}
}

func (f *Functions) logFn(pluginName string) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := f.logger.With("plugin", pluginName)
		switch level {
		case "debug":
			logger.Debug(message)
		case "warn":
			logger.Warn(message)
		case "error":
			logger.Error(message)
		default:
			logger.Info(message)
		}
		return 0
	}
}

func (f *Functions) newRequestIDFn() lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LString(ulid.Make().String()))
		return 1
	}
}

// qrPNGFn renders text as a PNG QR code. Returns (png, nil) on success
// and (nil, message) on failure.
func (f *Functions) qrPNGFn() lua.LGFunction {
	return func(L *lua.LState) int {
		text := L.CheckString(1)
		size := L.OptInt(2, 256)

		png, err := qrcode.Encode(text, qrcode.Medium, size)
		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(lua.LString(png))
		L.Push(lua.LNil)
		return 2
	}
}

// httpGetFn fetches a URL and returns (body, nil) or (nil, message).
// The response body is capped at MaxBodyBytes.
func (f *Functions) httpGetFn() lua.LGFunction {
	return func(L *lua.LState) int {
		url := L.CheckString(1)

		req, err := http.NewRequestWithContext(L.Context(), http.MethodGet, url, nil)
		if err != nil {
			return pushErr(L, err.Error())
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return pushErr(L, err.Error())
		}
		defer resp.Body.Close() //nolint:errcheck // read-only body

		if resp.StatusCode >= http.StatusBadRequest {
			return pushErr(L, resp.Status)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
		if err != nil {
			return pushErr(L, err.Error())
		}

		L.Push(lua.LString(body))
		L.Push(lua.LNil)
		return 2
	}
}

func (f *Functions) groupNameFn() lua.LGFunction {
	return func(L *lua.LState) int {
		jid := L.CheckString(1)
		if f.directory == nil {
			return pushErr(L, "no directory configured")
		}
		name, err := f.directory.GroupName(L.Context(), jid)
		if err != nil {
			return pushErr(L, err.Error())
		}
		L.Push(lua.LString(name))
		L.Push(lua.LNil)
		return 2
	}
}

func (f *Functions) userNameFn() lua.LGFunction {
	return func(L *lua.LState) int {
		jid := L.CheckString(1)
		if f.directory == nil {
			return pushErr(L, "no directory configured")
		}
		name, err := f.directory.UserName(L.Context(), jid)
		if err != nil {
			return pushErr(L, err.Error())
		}
		L.Push(lua.LString(name))
		L.Push(lua.LNil)
		return 2
	}
}

func pushErr(L *lua.LState, msg string) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(msg))
	return 2
}
