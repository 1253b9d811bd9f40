// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Finch Contributors

package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/finchbot/finch/pkg/errutil"
)

// KeyStrategy selects how registry keys are derived.
type KeyStrategy int

const (
	// KeyByPath keys entries by the final segment of the source path.
	// A plugin can therefore be registered under a key that disagrees
	// with the name its manifest declares; both are tolerated.
	KeyByPath KeyStrategy = iota

	// KeyByManifestName keys entries by the manifest's name field.
	KeyByManifestName
)

// Entry is the registry's bookkeeping record for one loaded plugin.
// Entries are immutable once registered; reload replaces them wholesale.
type Entry struct {
	Name       string
	SourcePath string
	EntryPath  string // canonical absolute identity of the entry script
	Manifest   *Manifest
	Instance   Instance
	// Modules are cache keys under SourcePath observed at load time.
	// Unload additionally purges by prefix scan to catch modules the
	// instance pulled in lazily after load.
	Modules  []string
	LoadedAt time.Time

	options Options // captured for reload
}

// PluginInfo is a read-only projection of an Entry.
type PluginInfo struct {
	Name       string
	Manifest   *Manifest
	LoadedAt   time.Time
	SourcePath string
}

// Registry discovers, validates, instantiates, and tears down plugins
// without restarting the host process. One instance exists per host
// process; the launcher wires it once at startup.
//
// Concurrency: operations on the same plugin name are serialized by a
// per-name mutex. Operations on distinct names may proceed concurrently.
// The entry map itself is guarded separately so snapshots never observe
// a torn entry.
type Registry struct {
	host     InstanceHost
	cache    ModuleCache
	strategy KeyStrategy
	logger   *slog.Logger
	metrics  *Metrics

	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // insertion order of keys

	opMu sync.Mutex
	ops  map[string]*sync.Mutex
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithKeyStrategy sets the registry key derivation strategy.
func WithKeyStrategy(s KeyStrategy) RegistryOption {
	return func(r *Registry) {
		r.strategy = s
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics enables lifecycle metrics.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a plugin registry backed by the given instance host
// and module cache.
func NewRegistry(host InstanceHost, cache ModuleCache, opts ...RegistryOption) *Registry {
	r := &Registry{
		host:    host,
		cache:   cache,
		logger:  slog.Default(),
		entries: make(map[string]*Entry),
		ops:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load discovers, validates, and instantiates the plugin at sourcePath.
//
// Validation happens before any code is loaded: a manifest failure leaves
// no side effects. The entry script's cache key is purged before
// instantiation so a load always observes current on-disk state, even
// after a crashed partial load.
//
// Loading a name that is already registered replaces it: the previous
// entry is unloaded first, best-effort.
func (r *Registry) Load(ctx context.Context, sourcePath string, opts Options) (*Entry, error) {
	dir, manifest, err := r.discover(sourcePath)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordLoadFailure(errutil.Code(err))
		}
		return nil, err
	}

	key := r.deriveKey(dir, manifest)
	lock := r.nameLock(key)
	lock.Lock()
	defer lock.Unlock()

	entry, err := r.loadLocked(ctx, key, dir, opts)
	if err != nil && r.metrics != nil {
		r.metrics.RecordLoadFailure(errutil.Code(err))
	}
	return entry, err
}

// Unload shuts down and deregisters the named plugin. It returns false,
// without error, when the name is not loaded; unload is idempotent.
//
// A shutdown failure is logged and does not prevent cache or registry
// cleanup; "unloaded" describes registry state, not instance health.
func (r *Registry) Unload(ctx context.Context, name string) bool {
	lock := r.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	return r.unloadLocked(ctx, name)
}

// Reload unloads then freshly loads the named plugin, re-reading its
// manifest and entry script from disk. It fails with a PLUGIN_NOT_LOADED
// error when the name has no current entry.
//
// Reload is not atomic: if the load step fails after unload succeeded,
// the plugin ends up unloaded, not rolled back. Callers must treat a
// reload failure as "plugin currently absent" and may retry.
func (r *Registry) Reload(ctx context.Context, name string) (*Entry, error) {
	lock := r.nameLock(name)
	lock.Lock()
	held := true
	defer func() {
		if held {
			lock.Unlock()
		}
	}()

	r.mu.RLock()
	prev, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotLoaded(name)
	}

	sourcePath := prev.SourcePath
	opts := prev.options

	r.unloadLocked(ctx, name)

	dir, manifest, err := r.discover(sourcePath)
	if err != nil {
		return nil, err
	}

	// The re-read manifest may derive a different key. The old entry is
	// already gone, so release the held lock and re-enter through Load;
	// taking the second lock while still holding the first would deadlock
	// two concurrent reloads whose manifests swap names.
	key := r.deriveKey(dir, manifest)
	if key != name {
		held = false
		lock.Unlock()
		entry, err := r.Load(ctx, sourcePath, opts)
		if err != nil {
			return nil, err
		}
		if r.metrics != nil {
			r.metrics.ReloadsTotal.Inc()
		}
		return entry, nil
	}

	entry, err := r.loadLocked(ctx, key, dir, opts)
	if err != nil {
		return nil, err
	}

	if r.metrics != nil {
		r.metrics.ReloadsTotal.Inc()
	}
	return entry, nil
}

// ClearAll unloads every registered plugin. Individual failures are
// logged per plugin and do not stop the teardown; the registry is empty
// on return regardless of shutdown outcomes.
func (r *Registry) ClearAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	r.mu.RUnlock()

	for _, name := range names {
		r.Unload(ctx, name)
	}
}

// LoadedPlugins returns a snapshot of loaded plugins in insertion order.
// Safe to call concurrently with load and unload.
func (r *Registry) LoadedPlugins() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(r.order))
	for _, name := range r.order {
		e, ok := r.entries[name]
		if !ok {
			continue
		}
		infos = append(infos, PluginInfo{
			Name:       e.Name,
			Manifest:   e.Manifest,
			LoadedAt:   e.LoadedAt,
			SourcePath: e.SourcePath,
		})
	}
	return infos
}

// IsLoaded reports whether name has a current entry.
func (r *Registry) IsLoaded(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Entry returns the registry entry for name, or nil when not loaded.
func (r *Registry) Entry(name string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// discover locates the plugin directory and its manifest, returning the
// cleaned directory path and the parsed, validated manifest. No side
// effects: nothing is registered and no code is loaded.
func (r *Registry) discover(sourcePath string) (string, *Manifest, error) {
	dir, err := filepath.Abs(filepath.Clean(sourcePath))
	if err != nil {
		return "", nil, ErrNotFound(sourcePath, "plugin directory")
	}

	fi, err := os.Stat(dir)
	if err != nil || !fi.IsDir() {
		return "", nil, ErrNotFound(dir, "plugin directory")
	}

	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath) //nolint:gosec // path is rooted in the configured plugins dir
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, ErrNotFound(manifestPath, "plugin manifest")
		}
		return "", nil, ErrManifestParse(manifestPath, err)
	}

	manifest, err := ParseManifest(data)
	if err != nil {
		return "", nil, err
	}

	return dir, manifest, nil
}

// loadLocked performs the side-effecting half of Load. The caller holds
// the per-name lock for key.
func (r *Registry) loadLocked(ctx context.Context, key, dir string, opts Options) (*Entry, error) {
	// Wholesale replacement of an already-loaded name.
	r.mu.RLock()
	_, exists := r.entries[key]
	r.mu.RUnlock()
	if exists {
		r.unloadLocked(ctx, key)
	}

	// Re-read the manifest under the lock so concurrent loads of the
	// same name cannot register a stale one.
	dir, manifest, err := r.discover(dir)
	if err != nil {
		return nil, err
	}

	entryPath := filepath.Join(dir, EntryFile)
	if _, err := os.Stat(entryPath); err != nil {
		return nil, ErrNotFound(entryPath, "plugin entry script")
	}

	// Hot-reload guarantee: a stale cached entry script (prior load,
	// crashed partial load) must never be what gets instantiated.
	if r.cache.Has(entryPath) {
		r.cache.Delete(entryPath)
	}

	instance, err := r.host.Instantiate(ctx, InstanceContext{
		Manifest:   manifest,
		SourcePath: dir,
		Name:       key,
		Options:    opts,
	})
	if err != nil {
		return nil, ErrInstance(key, "instantiate", err)
	}

	entry := &Entry{
		Name:       key,
		SourcePath: dir,
		EntryPath:  entryPath,
		Manifest:   manifest,
		Instance:   instance,
		Modules:    r.keysUnder(dir),
		LoadedAt:   time.Now(),
		options:    opts,
	}

	r.mu.Lock()
	r.entries[key] = entry
	r.order = append(r.order, key)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.LoadsTotal.Inc()
		r.metrics.Loaded.Inc()
	}
	r.logger.Info("loaded plugin",
		"plugin", key,
		"name", manifest.Name,
		"version", manifest.Version,
		"path", dir)

	return entry, nil
}

// unloadLocked removes the entry first, then tears the instance down, so
// no reader ever observes an entry whose instance is already shut down.
func (r *Registry) unloadLocked(ctx context.Context, name string) bool {
	r.mu.Lock()
	entry, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if sc, ok := entry.Instance.(ShutdownCapable); ok {
		if err := sc.Shutdown(ctx); err != nil {
			// Cleanup is unconditional: a broken plugin must not block
			// hot-reload of itself or others.
			errutil.LogError(r.logger, "plugin shutdown failed", ErrInstance(name, "shutdown", err))
			if r.metrics != nil {
				r.metrics.ShutdownFailures.Inc()
			}
		}
	}

	r.purge(entry)

	if r.metrics != nil {
		r.metrics.UnloadsTotal.Inc()
		r.metrics.Loaded.Dec()
	}
	r.logger.Info("unloaded plugin", "plugin", name)
	return true
}

// purge evicts the entry script and every cache key nested under the
// plugin's source directory, so a subsequent load reflects all on-disk
// changes, not just the entry file's. Keys outside the directory are
// never touched; the cache is shared with unrelated code.
func (r *Registry) purge(entry *Entry) {
	r.cache.Delete(entry.EntryPath)
	for _, key := range entry.Modules {
		r.cache.Delete(key)
	}
	for _, key := range r.keysUnder(entry.SourcePath) {
		r.cache.Delete(key)
	}
}

// keysUnder returns cache keys equal to or nested under dir.
func (r *Registry) keysUnder(dir string) []string {
	var keys []string
	for _, key := range r.cache.Keys() {
		if pathWithin(key, dir) {
			keys = append(keys, key)
		}
	}
	return keys
}

// pathWithin reports whether key is dir itself or nested under it.
func pathWithin(key, dir string) bool {
	rel, err := filepath.Rel(dir, key)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// deriveKey applies the configured key strategy.
func (r *Registry) deriveKey(dir string, manifest *Manifest) string {
	if r.strategy == KeyByManifestName {
		return manifest.Name
	}
	return filepath.Base(dir)
}

// nameLock returns the serialization mutex for name, creating it on
// first use. Locks are never removed; the name space is small and
// process-lifetime.
func (r *Registry) nameLock(name string) *sync.Mutex {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	lock, ok := r.ops[name]
	if !ok {
		lock = &sync.Mutex{}
		r.ops[name] = lock
	}
	return lock
}
