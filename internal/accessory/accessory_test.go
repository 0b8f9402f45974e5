package accessory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/ufvbridge/internal/discovery"
)

func testSensor(cameraName string, detect *atomic.Bool) MotionSensor {
	name := SensorName(cameraName)
	return MotionSensor{
		Name:           name,
		ID:             SensorID(name),
		Camera:         discovery.CameraDescriptor{ID: cameraName + "-id", UUID: cameraName + "-uuid", Name: cameraName},
		MotionDetected: detect.Load,
		StatusActive:   func() bool { return true },
	}
}

type publishLog struct {
	mu     sync.Mutex
	events []string
}

func (p *publishLog) publish(_ context.Context, s MotionSensor, detected bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	state := "off"
	if detected {
		state = "on"
	}
	p.events = append(p.events, s.Camera.Name+":"+state)
	return nil
}

func (p *publishLog) get() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(p.events))
	copy(cp, p.events)
	return cp
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

func TestSensorID_Deterministic(t *testing.T) {
	a := SensorID(SensorName("Porch"))
	b := SensorID(SensorName("Porch"))
	c := SensorID(SensorName("Garage"))
	if a != b {
		t.Errorf("SensorID not stable: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different names produced the same ID")
	}
	if got := SensorName("Porch"); got != "Porch Motion Sensor" {
		t.Errorf("SensorName = %q", got)
	}
}

func TestCatalog_RejectsDuplicateSensor(t *testing.T) {
	c := NewCatalog((&publishLog{}).publish, nil)
	var detect atomic.Bool

	if err := c.RegisterMotionSensor(testSensor("Porch", &detect)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := c.RegisterMotionSensor(testSensor("Porch", &detect))
	if !errors.Is(err, ErrDuplicateSensor) {
		t.Errorf("expected ErrDuplicateSensor, got %v", err)
	}
	if n := len(c.Sensors()); n != 1 {
		t.Errorf("expected 1 sensor, got %d", n)
	}
}

func TestCatalog_RejectsIncompleteSensor(t *testing.T) {
	c := NewCatalog((&publishLog{}).publish, nil)
	tests := []struct {
		name   string
		sensor MotionSensor
	}{
		{"missing id", MotionSensor{Name: "x", MotionDetected: func() bool { return false }, StatusActive: func() bool { return true }}},
		{"missing functions", MotionSensor{Name: "x", ID: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.RegisterMotionSensor(tt.sensor); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCatalog_RegisterCamera(t *testing.T) {
	c := NewCatalog((&publishLog{}).publish, nil)
	cam := discovery.CameraDescriptor{ID: "a", UUID: "u", Name: "A"}
	if err := c.RegisterCamera(cam); err != nil {
		t.Fatalf("RegisterCamera: %v", err)
	}
	if err := c.RegisterCamera(cam); err == nil {
		t.Error("expected error registering the same camera twice")
	}
	if got := c.Cameras(); len(got) != 1 || got[0].Name != "A" {
		t.Errorf("Cameras() = %+v", got)
	}
}

func TestCatalog_RefreshersPublishChanges(t *testing.T) {
	pub := &publishLog{}
	c := NewCatalog(pub.publish, nil)
	c.interval = time.Millisecond

	var porch, garage atomic.Bool
	porch.Store(true)
	if err := c.RegisterMotionSensor(testSensor("Porch", &porch)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	// Registered after Start: starts immediately.
	if err := c.RegisterMotionSensor(testSensor("Garage", &garage)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(pub.get()) == 2 })
	porch.Store(false)
	waitFor(t, func() bool { return len(pub.get()) == 3 })

	cancel()
	c.Wait()

	events := pub.get()
	seen := map[string]int{}
	for _, e := range events {
		seen[e]++
	}
	if seen["Porch:on"] != 1 || seen["Porch:off"] != 1 || seen["Garage:off"] != 1 {
		t.Errorf("unexpected publish sequence: %v", events)
	}

	for _, s := range c.Sensors() {
		if !s.Published {
			t.Errorf("sensor %s not marked published", s.Name)
		}
		if s.ChangedAt.IsZero() {
			t.Errorf("sensor %s has no change time", s.Name)
		}
	}
}

func TestCatalog_Identify(t *testing.T) {
	c := NewCatalog((&publishLog{}).publish, nil)
	var detect atomic.Bool
	s := testSensor("Porch", &detect)
	if err := c.RegisterMotionSensor(s); err != nil {
		t.Fatal(err)
	}

	if err := c.Identify(s.ID); err != nil {
		t.Errorf("Identify(registered) = %v", err)
	}
	if err := c.Identify("nope"); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("Identify(unknown) = %v, want ErrUnknownSensor", err)
	}
}

func TestLogRegistry_ImplementsInterfaces(t *testing.T) {
	r := NewLogRegistry(nil)
	var _ Registry = r
	var _ Inventory = r

	var detect atomic.Bool
	detect.Store(true)
	if err := r.RegisterCamera(discovery.CameraDescriptor{ID: "a", Name: "A"}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterMotionSensor(testSensor("A", &detect)); err != nil {
		t.Fatal(err)
	}

	states := r.Sensors()
	if len(states) != 1 || !states[0].Detected || !states[0].Active {
		t.Errorf("Sensors() = %+v", states)
	}
	if states[0].Published {
		t.Error("sensor reported published before Start")
	}
}
