package motion

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/nugget/ufvbridge/internal/ufv"
)

type runningCache struct {
	cache  *Cache
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry owns the motion caches, one per NVR identity. It is created
// by the serve routine and handed to whatever needs a cache.
type Registry struct {
	logger *slog.Logger

	mu     sync.Mutex
	caches map[ufv.Identity]*runningCache
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		caches: make(map[ufv.Identity]*runningCache),
	}
}

// Start launches a cache for cfg.Identity, or returns the one already
// running. The boolean reports whether a new cache was started. The
// cache polls until ctx is cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context, cfg CacheConfig) (*Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rc, ok := r.caches[cfg.Identity]; ok {
		r.logger.Debug("motion caching already set up", "nvr", cfg.Name, "identity", cfg.Identity)
		return rc.cache, false
	}

	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	cache := NewCache(cfg)

	runCtx, cancel := context.WithCancel(ctx)
	rc := &runningCache{
		cache:  cache,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.caches[cfg.Identity] = rc

	go func() {
		defer close(rc.done)
		cache.Run(runCtx)
	}()

	r.logger.Info("motion cache started",
		"nvr", cfg.Name,
		"identity", cfg.Identity,
		"cameras", len(cfg.CameraIDs),
		"window", cache.Window().String(),
	)
	return cache, true
}

// Get returns the cache for id, if one is running.
func (r *Registry) Get(id ufv.Identity) (*Cache, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.caches[id]
	if !ok {
		return nil, false
	}
	return rc.cache, true
}

// Stop cancels the cache for id and waits for its poll loop to exit.
// Returns false if no such cache exists.
func (r *Registry) Stop(id ufv.Identity) bool {
	r.mu.Lock()
	rc, ok := r.caches[id]
	delete(r.caches, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	rc.cancel()
	<-rc.done
	r.logger.Info("motion cache stopped", "identity", id)
	return true
}

// StopAll stops every cache and waits for them to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]ufv.Identity, 0, len(r.caches))
	for id := range r.caches {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Stop(id)
	}
}

// Statuses returns the status of every running cache, sorted by name.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	out := make([]Status, 0, len(r.caches))
	for _, rc := range r.caches {
		out = append(out, rc.cache.Status())
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
