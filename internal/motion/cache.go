// Package motion keeps a per-NVR snapshot of recent motion recordings
// and derives per-camera motion state from it.
package motion

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/ufvbridge/internal/metrics"
	"github.com/nugget/ufvbridge/internal/ufv"
)

const (
	// PollInterval is the fixed cadence of recording polls.
	PollInterval = time.Second

	// PollTimeout bounds a single recording request.
	PollTimeout = 5 * time.Second

	// MinWindow is the shortest lookback used for motion. Servers with a
	// shorter alert cool down still look back this far.
	MinWindow = 3 * time.Minute

	// FutureSkew extends the query window past now to absorb clock
	// drift between the bridge and the NVR.
	FutureSkew = time.Hour
)

// Snapshot is an immutable list of motion recordings, newest first.
// A nil *Snapshot is empty.
type Snapshot struct {
	recordings []ufv.Recording
	fetchedAt  time.Time
}

// Recordings returns a copy of the snapshot's recordings.
func (s *Snapshot) Recordings() []ufv.Recording {
	if s == nil {
		return nil
	}
	out := make([]ufv.Recording, len(s.recordings))
	copy(out, s.recordings)
	return out
}

// Len returns the number of recordings in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.recordings)
}

// FetchedAt returns when the snapshot was fetched. Zero for the
// initial empty snapshot.
func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// CacheConfig configures one NVR's motion cache.
type CacheConfig struct {
	Identity ufv.Identity
	Name     string // NVR name, for logs and metrics

	// Source provides recordings. Usually the NVR's *ufv.Client.
	Source ufv.RecordingSource

	// CameraIDs lists every camera on the NVR.
	CameraIDs []string

	// CoolDown is the server's motion alert cool down. The lookback
	// window is the larger of CoolDown and MinWindow.
	CoolDown time.Duration

	// Interval overrides PollInterval. Tests only.
	Interval time.Duration

	// Now overrides time.Now. Tests only.
	Now func() time.Time

	Logger *slog.Logger
}

// Status is a point-in-time view of a cache for the status API.
type Status struct {
	Identity    ufv.Identity `json:"identity"`
	Name        string       `json:"name"`
	Cameras     int          `json:"cameras"`
	Recordings  int          `json:"recordings"`
	LastSuccess time.Time    `json:"last_success"`
	LastError   string       `json:"last_error,omitempty"`
}

// Cache polls one NVR for motion recordings and publishes each result
// as a new Snapshot. There is a single writer (the poll loop) and any
// number of readers; readers always see a complete snapshot.
type Cache struct {
	cfg      CacheConfig
	snapshot atomic.Pointer[Snapshot]

	mu      sync.Mutex
	lastErr error
}

// NewCache creates a cache with an empty snapshot. Call Run to poll.
func NewCache(cfg CacheConfig) *Cache {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = PollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.Logger = cfg.Logger.With("nvr", cfg.Name)

	c := &Cache{cfg: cfg}
	c.snapshot.Store(&Snapshot{})
	return c
}

// Identity returns the NVR identity this cache serves.
func (c *Cache) Identity() ufv.Identity {
	return c.cfg.Identity
}

// Snapshot returns the current snapshot. Never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.snapshot.Load()
}

// Window returns the lookback duration used for queries.
func (c *Cache) Window() time.Duration {
	return max(c.cfg.CoolDown, MinWindow)
}

// Status reports the cache state.
func (c *Cache) Status() Status {
	snap := c.Snapshot()
	s := Status{
		Identity:    c.cfg.Identity,
		Name:        c.cfg.Name,
		Cameras:     len(c.cfg.CameraIDs),
		Recordings:  snap.Len(),
		LastSuccess: snap.FetchedAt(),
	}
	c.mu.Lock()
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()
	return s
}

// Run polls until ctx is cancelled. It blocks.
//
// Polls run on this goroutine, so at most one request per NVR is in
// flight; ticks that fire during a slow poll are dropped by the ticker
// and the next snapshot simply lands late.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	c.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.poll(ctx)
		}
	}
}

// query builds the recording query for the window around now.
func (c *Cache) query(now time.Time) ufv.RecordingQuery {
	return ufv.RecordingQuery{
		Cameras: c.cfg.CameraIDs,
		Causes:  []string{ufv.EventMotionRecording},
		Start:   now.Add(-c.Window()),
		End:     now.Add(FutureSkew),
	}
}

// poll fetches one window of recordings. On failure the previous
// snapshot stays in place: a flaky NVR must not blank out known
// motion state.
func (c *Cache) poll(ctx context.Context) {
	now := c.cfg.Now()

	pollCtx, cancel := context.WithTimeout(ctx, PollTimeout)
	defer cancel()

	recordings, err := c.cfg.Source.Recordings(pollCtx, c.query(now))
	if err != nil {
		if ctx.Err() != nil {
			return // shutting down
		}
		c.setErr(err)
		metrics.MotionPollsTotal.WithLabelValues(c.cfg.Name, metrics.ResultError).Inc()
		c.cfg.Logger.Warn("motion poll failed, keeping previous snapshot", "error", err)
		return
	}

	c.snapshot.Store(&Snapshot{recordings: recordings, fetchedAt: now})
	c.setErr(nil)

	metrics.MotionPollsTotal.WithLabelValues(c.cfg.Name, metrics.ResultOK).Inc()
	metrics.MotionSnapshotRecordings.WithLabelValues(c.cfg.Name).Set(float64(len(recordings)))
	c.cfg.Logger.Debug("motion snapshot replaced", "recordings", len(recordings))
}

func (c *Cache) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
