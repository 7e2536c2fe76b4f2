package plugin

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediabuilder/mediad/internal/errkind"
	"github.com/mediabuilder/mediad/internal/models"
	"github.com/mediabuilder/mediad/internal/observability"
)

// entry tracks one owned plugin instance plus the state needed to reload it.
type entry struct {
	plugin  Plugin
	factory Factory // nil for plugins without a reload path
	builtin bool
	healthy bool
	path    string // artifact path for dynamic plugins
}

// Registry owns every plugin instance in the daemon and routes jobs to
// them. The registry mutex protects the maps only; it is never held across
// a plugin method call.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // routing order: built-ins first, then lexicographic id

	configPath     string
	apiVersion     string
	healthInterval time.Duration
	logger         *slog.Logger

	probeCancel context.CancelFunc
	probeWG     sync.WaitGroup
}

// NewRegistry creates an empty registry. configPath is handed to each
// plugin's Initialize.
func NewRegistry(configPath, apiVersion string, healthInterval time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if apiVersion == "" {
		apiVersion = APIVersion
	}
	return &Registry{
		entries:        make(map[string]*entry),
		configPath:     configPath,
		apiVersion:     apiVersion,
		healthInterval: healthInterval,
		logger:         logger,
	}
}

// RegisterBuiltin registers and initializes a compiled-in plugin. Built-in
// plugins are pre-registered before any directory scan and win routing
// ties against dynamic plugins.
func (r *Registry) RegisterBuiltin(factory Factory) error {
	return r.register(factory, true, "")
}

func (r *Registry) register(factory Factory, builtin bool, path string) error {
	p := factory()
	desc := p.Descriptor()
	if desc.ID == "" {
		return errkind.E(errkind.Plugin, "plugin descriptor has empty id")
	}

	r.mu.RLock()
	_, exists := r.entries[desc.ID]
	r.mu.RUnlock()
	if exists {
		return errkind.E(errkind.Conflict, "plugin %q already registered", desc.ID)
	}

	// Initialize outside the lock; plugin calls never run under it.
	if err := p.Initialize(r.configPath); err != nil {
		return errkind.Wrap(errkind.Plugin, err, "initializing plugin %q", desc.ID)
	}

	r.mu.Lock()
	r.entries[desc.ID] = &entry{
		plugin:  p,
		factory: factory,
		builtin: builtin,
		healthy: true,
		path:    path,
	}
	r.rebuildOrderLocked()
	r.mu.Unlock()

	r.logger.Info("plugin registered",
		slog.String("plugin_id", desc.ID),
		slog.String("version", desc.Version),
		slog.Bool("built_in", builtin))
	return nil
}

// rebuildOrderLocked recomputes the stable routing order: built-in before
// dynamic, lexicographic plugin id within each group.
func (r *Registry) rebuildOrderLocked() {
	r.order = r.order[:0]
	for id := range r.entries {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool {
		a, b := r.entries[r.order[i]], r.entries[r.order[j]]
		if a.builtin != b.builtin {
			return a.builtin
		}
		return r.order[i] < r.order[j]
	})
}

// ScanDirectory loads every plugin artifact in dir. Individual load
// failures are logged and skipped; the scan itself only fails if the
// directory cannot be read.
func (r *Registry) ScanDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.logger.Info("plugin directory absent, skipping scan", slog.String("dir", dir))
			return nil
		}
		return errkind.Wrap(errkind.Storage, err, "reading plugin directory %q", dir)
	}

	for _, de := range entries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".so") {
			continue
		}
		path := filepath.Join(dir, de.Name())
		if err := r.loadArtifact(path); err != nil {
			r.logger.Error("plugin load failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// loadArtifact opens a shared object, verifies its API version, and
// registers the plugin it exports.
func (r *Registry) loadArtifact(path string) error {
	factory, version, err := openArtifact(path)
	if err != nil {
		return err
	}
	if version != r.apiVersion {
		return errkind.E(errkind.Plugin,
			"plugin %q: version mismatch: artifact declares %q, host expects %q",
			path, version, r.apiVersion)
	}
	return r.register(factory, false, path)
}

// Get returns the plugin with the given id.
func (r *Registry) Get(id string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// FindForJob returns the first plugin that declares the job type and whose
// CanHandle accepts the request. Iteration order is stable across the
// process lifetime. Returns a plugin_error when nothing matches.
func (r *Registry) FindForJob(jobType models.JobType, params models.JobParams) (Plugin, error) {
	// Snapshot candidates under the lock, probe outside it.
	r.mu.RLock()
	candidates := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		desc := e.plugin.Descriptor()
		if desc.HandlesType(jobType) {
			candidates = append(candidates, e.plugin)
		}
	}
	r.mu.RUnlock()

	for _, p := range candidates {
		if p.CanHandle(jobType, params) {
			return p, nil
		}
	}
	return nil, errkind.E(errkind.Plugin, "no plugin can handle job type %q", jobType)
}

// List returns descriptor + runtime state for every plugin, in routing order.
func (r *Registry) List() []models.PluginStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PluginStatus, 0, len(r.order))
	for _, id := range r.order {
		e := r.entries[id]
		out = append(out, models.PluginStatus{
			PluginDescriptor: e.plugin.Descriptor(),
			Loaded:           true,
			Healthy:          e.healthy,
		})
	}
	return out
}

// Reload replaces a plugin with a fresh instance from the same factory.
// The new instance is initialized first; on failure the old instance stays
// in place. In-flight jobs keep their handle to the old instance, which is
// shut down only after the swap.
func (r *Registry) Reload(id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return errkind.E(errkind.NotFound, "plugin %q not found", id)
	}
	if e.factory == nil {
		return errkind.E(errkind.Conflict, "plugin %q has no reload path", id)
	}

	fresh := e.factory()
	if err := fresh.Initialize(r.configPath); err != nil {
		return errkind.Wrap(errkind.Plugin, err, "reloading plugin %q", id)
	}

	r.mu.Lock()
	old := e.plugin
	e.plugin = fresh
	e.healthy = true
	r.mu.Unlock()

	// Old instance drains its in-flight work before shutdown.
	old.Shutdown()

	r.logger.Info("plugin reloaded", slog.String("plugin_id", id))
	return nil
}

// HealthCheck probes every plugin once and returns a map of id to result.
// A probe failure never disables routing; it is surfaced only.
func (r *Registry) HealthCheck() map[string]bool {
	r.mu.RLock()
	snapshot := make(map[string]Plugin, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e.plugin
	}
	r.mu.RUnlock()

	results := make(map[string]bool, len(snapshot))
	for id, p := range snapshot {
		results[id] = p.Healthy()
	}

	r.mu.Lock()
	for id, healthy := range results {
		if e, ok := r.entries[id]; ok {
			e.healthy = healthy
		}
		val := 0.0
		if healthy {
			val = 1.0
		}
		observability.PluginHealthy.WithLabelValues(id).Set(val)
	}
	r.mu.Unlock()

	return results
}

// StartHealthProbe launches the background probe loop.
func (r *Registry) StartHealthProbe() {
	if r.healthInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.probeCancel = cancel

	r.probeWG.Add(1)
	go func() {
		defer r.probeWG.Done()
		ticker := time.NewTicker(r.healthInterval)
		defer ticker.Stop()

		r.HealthCheck()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.HealthCheck()
			}
		}
	}()
}

// Shutdown stops the probe loop and shuts every plugin down.
func (r *Registry) Shutdown() {
	if r.probeCancel != nil {
		r.probeCancel()
		r.probeWG.Wait()
	}

	r.mu.Lock()
	plugins := make([]Plugin, 0, len(r.entries))
	for _, e := range r.entries {
		plugins = append(plugins, e.plugin)
	}
	r.entries = make(map[string]*entry)
	r.order = nil
	r.mu.Unlock()

	for _, p := range plugins {
		p.Shutdown()
	}
	r.logger.Info("plugin registry shut down", slog.Int("plugins", len(plugins)))
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
