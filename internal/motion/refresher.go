package motion

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/ufvbridge/internal/metrics"
)

// RefresherConfig configures the publish loop for one motion sensor.
type RefresherConfig struct {
	// Name is the sensor's display name, for logs and metrics.
	Name string

	// Detect computes the current motion state.
	Detect func() bool

	// Publish pushes a state to the accessory platform. A failed
	// publish is retried on the next tick.
	Publish func(ctx context.Context, detected bool) error

	// Interval overrides PollInterval. Tests only.
	Interval time.Duration

	Logger *slog.Logger
}

// Refresher re-evaluates a motion sensor every interval and publishes
// only when the state differs from the last published one. The first
// evaluation is always published.
type Refresher struct {
	cfg       RefresherConfig
	last      bool
	published bool
}

// NewRefresher creates a refresher. Call Run to start it.
func NewRefresher(cfg RefresherConfig) *Refresher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = PollInterval
	}
	return &Refresher{cfg: cfg}
}

// Run refreshes until ctx is cancelled. It blocks.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	detected := r.cfg.Detect()
	if r.published && detected == r.last {
		return
	}

	if err := r.cfg.Publish(ctx, detected); err != nil {
		r.cfg.Logger.Debug("motion state publish failed",
			"sensor", r.cfg.Name, "detected", detected, "error", err)
		return
	}

	if r.published {
		metrics.MotionStateChangesTotal.WithLabelValues(r.cfg.Name).Inc()
		r.cfg.Logger.Info("motion sensor state change", "sensor", r.cfg.Name, "detected", detected)
	}
	r.last = detected
	r.published = true
}
