package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nugget/ufvbridge/internal/ufv"
)

type mockSource struct {
	mu         sync.Mutex
	recordings []ufv.Recording
	err        error
	queries    []ufv.RecordingQuery
	block      chan struct{} // when set, Recordings waits on it
}

func (m *mockSource) Recordings(ctx context.Context, q ufv.RecordingQuery) ([]ufv.Recording, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	cp := make([]ufv.Recording, len(m.recordings))
	copy(cp, m.recordings)
	return cp, nil
}

func (m *mockSource) set(recs []ufv.Recording, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordings = recs
	m.err = err
}

func (m *mockSource) getQueries() []ufv.RecordingQuery {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ufv.RecordingQuery, len(m.queries))
	copy(cp, m.queries)
	return cp
}

func motionRec(id string, cameras ...string) ufv.Recording {
	return ufv.Recording{ID: id, EventType: ufv.EventMotionRecording, Cameras: cameras}
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestCache(src *mockSource, coolDown time.Duration) *Cache {
	return NewCache(CacheConfig{
		Identity:  ufv.NewIdentity("nvr", "host"),
		Name:      "nvr",
		Source:    src,
		CameraIDs: []string{"cam1", "cam2"},
		CoolDown:  coolDown,
		Interval:  time.Hour, // won't tick in test
		Now:       func() time.Time { return fixedNow },
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCache_InitialSnapshotEmpty(t *testing.T) {
	c := newTestCache(&mockSource{}, 0)
	snap := c.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot() returned nil before first poll")
	}
	if snap.Len() != 0 || !snap.FetchedAt().IsZero() {
		t.Errorf("expected empty initial snapshot, got %d recordings at %v", snap.Len(), snap.FetchedAt())
	}
}

func TestCache_PollReplacesSnapshot(t *testing.T) {
	src := &mockSource{recordings: []ufv.Recording{motionRec("r1", "cam1")}}
	c := newTestCache(src, 0)

	c.poll(context.Background())
	first := c.Snapshot()
	if first.Len() != 1 {
		t.Fatalf("expected 1 recording, got %d", first.Len())
	}
	if !first.FetchedAt().Equal(fixedNow) {
		t.Errorf("FetchedAt = %v, want %v", first.FetchedAt(), fixedNow)
	}

	src.set([]ufv.Recording{motionRec("r2", "cam2"), motionRec("r3", "cam2")}, nil)
	c.poll(context.Background())

	second := c.Snapshot()
	if second.Len() != 2 {
		t.Fatalf("expected 2 recordings, got %d", second.Len())
	}
	// The old snapshot is a value a reader may still hold; it must not change.
	if first.Len() != 1 || first.Recordings()[0].ID != "r1" {
		t.Error("previous snapshot was mutated by replacement")
	}
}

func TestCache_FailureKeepsSnapshot(t *testing.T) {
	src := &mockSource{recordings: []ufv.Recording{motionRec("r1", "cam1")}}
	c := newTestCache(src, 0)
	c.poll(context.Background())

	src.set(nil, &ufv.HTTPStatusError{Op: "/api/2.0/recording", StatusCode: 503})
	c.poll(context.Background())

	if got := c.Snapshot().Len(); got != 1 {
		t.Errorf("expected previous snapshot retained, got %d recordings", got)
	}
	st := c.Status()
	if st.LastError == "" {
		t.Error("expected LastError after failed poll")
	}
	if !st.LastSuccess.Equal(fixedNow) {
		t.Errorf("LastSuccess = %v, want %v", st.LastSuccess, fixedNow)
	}

	src.set([]ufv.Recording{}, nil)
	c.poll(context.Background())
	if st := c.Status(); st.LastError != "" {
		t.Errorf("expected LastError cleared after success, got %q", st.LastError)
	}
	if c.Snapshot().Len() != 0 {
		t.Error("expected empty snapshot after empty poll")
	}
}

func TestCache_Window(t *testing.T) {
	tests := []struct {
		name     string
		coolDown time.Duration
		want     time.Duration
	}{
		{"zero", 0, MinWindow},
		{"shorter than minimum", time.Minute, MinWindow},
		{"equal", 3 * time.Minute, MinWindow},
		{"longer", 10 * time.Minute, 10 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newTestCache(&mockSource{}, tt.coolDown).Window(); got != tt.want {
				t.Errorf("Window() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCache_Query(t *testing.T) {
	src := &mockSource{}
	c := newTestCache(src, 10*time.Minute)
	c.poll(context.Background())

	qs := src.getQueries()
	if len(qs) != 1 {
		t.Fatalf("expected 1 query, got %d", len(qs))
	}
	q := qs[0]
	if !q.Start.Equal(fixedNow.Add(-10 * time.Minute)) {
		t.Errorf("Start = %v, want now-10m", q.Start)
	}
	if !q.End.Equal(fixedNow.Add(FutureSkew)) {
		t.Errorf("End = %v, want now+1h", q.End)
	}
	if len(q.Causes) != 1 || q.Causes[0] != ufv.EventMotionRecording {
		t.Errorf("Causes = %v, want [%s]", q.Causes, ufv.EventMotionRecording)
	}
	if len(q.Cameras) != 2 || q.Cameras[0] != "cam1" || q.Cameras[1] != "cam2" {
		t.Errorf("Cameras = %v, want every camera on the NVR", q.Cameras)
	}
}

func TestCache_ConcurrentReaders(t *testing.T) {
	src := &mockSource{}
	c := newTestCache(src, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := c.Snapshot()
				// A snapshot is either entirely old or entirely new.
				if n := snap.Len(); n != 0 && n != 3 {
					t.Errorf("torn snapshot with %d recordings", n)
					return
				}
				_ = IsMotionDetected("cam1", snap)
			}
		}()
	}

	recs := []ufv.Recording{motionRec("a", "cam1"), motionRec("b", "cam1"), motionRec("c", "cam2")}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			src.set(recs, nil)
		} else {
			src.set(nil, nil)
		}
		c.poll(ctx)
	}
	cancel()
	wg.Wait()
}

func TestCache_RunPollsImmediatelyAndStops(t *testing.T) {
	src := &mockSource{recordings: []ufv.Recording{motionRec("r1", "cam1")}}
	c := newTestCache(src, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return c.Snapshot().Len() == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCache_RunAbandonsInFlightPollOnCancel(t *testing.T) {
	src := &mockSource{block: make(chan struct{})}
	c := newTestCache(src, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return len(src.getQueries()) == 1 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return while a poll was in flight")
	}
	if st := c.Status(); st.LastError != "" {
		t.Errorf("cancellation recorded as error: %q", st.LastError)
	}
}

func TestCache_OnePollInFlight(t *testing.T) {
	src := &mockSource{block: make(chan struct{})}
	c := NewCache(CacheConfig{
		Name:     "nvr",
		Source:   src,
		Interval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	waitFor(t, func() bool { return len(src.getQueries()) == 1 })
	// Many ticks elapse while the first request is stuck.
	time.Sleep(50 * time.Millisecond)
	if n := len(src.getQueries()); n != 1 {
		t.Errorf("expected 1 request in flight, got %d", n)
	}
	close(src.block)
	waitFor(t, func() bool { return len(src.getQueries()) > 1 })
}

func TestIsMotionDetected(t *testing.T) {
	snap := &Snapshot{recordings: []ufv.Recording{
		motionRec("r1", "cam1"),
		{ID: "r2", EventType: "fullTimeRecording", Cameras: []string{"cam3"}},
		motionRec("r3", "cam4", "cam5"),
	}}

	tests := []struct {
		name   string
		camera string
		snap   *Snapshot
		want   bool
	}{
		{"camera in recording", "cam1", snap, true},
		{"camera absent", "cam2", snap, false},
		{"non-motion event", "cam3", snap, false},
		{"multi-camera recording", "cam5", snap, true},
		{"empty snapshot", "cam1", &Snapshot{}, false},
		{"nil snapshot", "cam1", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMotionDetected(tt.camera, tt.snap); got != tt.want {
				t.Errorf("IsMotionDetected(%q) = %v, want %v", tt.camera, got, tt.want)
			}
		})
	}
}

func TestEvaluator_TracksCache(t *testing.T) {
	src := &mockSource{recordings: []ufv.Recording{motionRec("r1", "cam1")}}
	c := newTestCache(src, 0)

	cam1 := Evaluator{Cache: c, CameraID: "cam1"}
	cam2 := Evaluator{Cache: c, CameraID: "cam2"}

	if cam1.MotionDetected() {
		t.Error("expected no motion before first poll")
	}

	c.poll(context.Background())
	if !cam1.MotionDetected() {
		t.Error("expected motion for cam1")
	}
	if cam2.MotionDetected() {
		t.Error("expected no motion for cam2")
	}
	if !cam1.Active() || !cam2.Active() {
		t.Error("sensors should always report active")
	}

	src.set(nil, errors.New("nvr down"))
	c.poll(context.Background())
	if !cam1.MotionDetected() {
		t.Error("failed poll must not clear known motion")
	}
}
