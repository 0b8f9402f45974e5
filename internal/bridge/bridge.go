// Package bridge wires discovery, motion caches and the accessory
// registry together at startup.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/ufvbridge/internal/accessory"
	"github.com/nugget/ufvbridge/internal/config"
	"github.com/nugget/ufvbridge/internal/connwatch"
	"github.com/nugget/ufvbridge/internal/discovery"
	"github.com/nugget/ufvbridge/internal/metrics"
	"github.com/nugget/ufvbridge/internal/motion"
	"github.com/nugget/ufvbridge/internal/ufv"
)

// DiscoveryTimeout bounds the bootstrap call for one NVR.
const DiscoveryTimeout = 30 * time.Second

// Source is everything the bridge needs from one NVR. *ufv.Client
// implements it.
type Source interface {
	discovery.BootstrapSource
	ufv.RecordingSource
	Ping(ctx context.Context) error
}

// Config configures a Bridge.
type Config struct {
	NVRs     []config.NVRConfig
	Caches   *motion.Registry
	Registry accessory.Registry

	// NewSource builds the client for one NVR. Defaults to ufv.NewClient.
	NewSource func(cfg config.NVRConfig, logger *slog.Logger) Source

	Logger *slog.Logger
}

// NVRResult summarizes startup for one configured NVR.
type NVRResult struct {
	Name          string `json:"name"`
	Cameras       int    `json:"cameras"`
	MotionSensors int    `json:"motion_sensors"`
	CachesStarted int    `json:"caches_started"`
	Error         string `json:"error,omitempty"`
}

// Bridge owns one Source per configured NVR.
type Bridge struct {
	cfg     Config
	sources []nvrSource
	logger  *slog.Logger
}

type nvrSource struct {
	cfg    config.NVRConfig
	source Source
}

// New creates a Bridge and its NVR clients. No network calls are made.
func New(cfg Config) *Bridge {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewSource == nil {
		cfg.NewSource = func(c config.NVRConfig, logger *slog.Logger) Source {
			return ufv.NewClient(c, logger)
		}
	}

	b := &Bridge{cfg: cfg, logger: cfg.Logger}
	for _, nc := range cfg.NVRs {
		b.sources = append(b.sources, nvrSource{
			cfg:    nc,
			source: cfg.NewSource(nc, cfg.Logger.With("nvr", nc.Label())),
		})
	}
	return b
}

// Setup runs discovery against every NVR concurrently, registers the
// cameras found, starts one motion cache per NVR identity and binds a
// motion sensor to every motion-enabled camera. A failing NVR is
// logged and yields no cameras; the others proceed. Caches run until
// ctx is cancelled.
func (b *Bridge) Setup(ctx context.Context) []NVRResult {
	results := make([]NVRResult, len(b.sources))

	var wg sync.WaitGroup
	for i, src := range b.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b.setupNVR(ctx, src)
		}()
	}
	wg.Wait()

	return results
}

func (b *Bridge) setupNVR(ctx context.Context, src nvrSource) NVRResult {
	label := src.cfg.Label()
	logger := b.logger.With("nvr", label)
	res := NVRResult{Name: label}

	discCtx, cancel := context.WithTimeout(ctx, DiscoveryTimeout)
	defer cancel()

	found, err := discovery.NewResolver(src.cfg, src.source, b.logger).Discover(discCtx)
	metrics.RecordDiscovery(label, len(found), err)
	if err != nil {
		logger.Error("camera discovery failed", "error", err)
		res.Error = err.Error()
		return res
	}

	for _, r := range found {
		if err := b.cfg.Registry.RegisterCamera(r.Camera); err != nil {
			logger.Warn("camera registration failed", "camera", r.Camera.Name, "error", err)
			continue
		}
		res.Cameras++

		if !r.Motion.Enabled {
			logger.Info("skipping motion sensor, motion recording not enabled", "camera", r.Camera.Name)
			continue
		}

		logger.Debug("setting up motion sensor", "camera", r.Camera.Name)
		cache, started := b.cfg.Caches.Start(ctx, motion.CacheConfig{
			Identity:  r.Motion.Identity,
			Name:      cacheName(r.Motion, label),
			Source:    src.source,
			CameraIDs: r.Motion.CameraIDs,
			CoolDown:  r.Motion.CoolDown,
		})
		if started {
			res.CachesStarted++
		}

		sensor := accessory.NewMotionSensor(r.Camera, motion.Evaluator{Cache: cache, CameraID: r.Camera.ID})
		if err := b.cfg.Registry.RegisterMotionSensor(sensor); err != nil {
			if errors.Is(err, accessory.ErrDuplicateSensor) {
				logger.Debug("motion sensor already registered", "sensor", sensor.Name)
			} else {
				logger.Warn("motion sensor registration failed", "sensor", sensor.Name, "error", err)
			}
			continue
		}
		res.MotionSensors++
	}

	logger.Info("published camera accessories",
		"cameras", res.Cameras,
		"motion_sensors", res.MotionSensors,
	)
	return res
}

func cacheName(m discovery.MotionSetup, label string) string {
	if m.NVRName != "" {
		return m.NVRName
	}
	return label
}

// Watch starts a health watcher per NVR on m, probing the NVR's
// server endpoint.
func (b *Bridge) Watch(ctx context.Context, m *connwatch.Manager) {
	for _, src := range b.sources {
		m.Watch(ctx, connwatch.WatcherConfig{
			Name:    "nvr:" + src.cfg.Label(),
			Kind:    connwatch.KindNVR,
			Probe:   src.source.Ping,
			Backoff: connwatch.DefaultBackoffConfig(),
			Logger:  b.logger,
		})
	}
}
