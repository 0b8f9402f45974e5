package accessory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/ufvbridge/internal/discovery"
	"github.com/nugget/ufvbridge/internal/motion"
)

// PublishFunc pushes one sensor's motion state to the platform.
type PublishFunc func(ctx context.Context, sensor MotionSensor, detected bool) error

type sensorEntry struct {
	sensor    MotionSensor
	detected  bool
	published bool
	changedAt time.Time
}

// Catalog holds registered cameras and sensors and runs one refresher
// per sensor. Registry implementations embed it and supply the
// publish function.
type Catalog struct {
	publish  PublishFunc
	logger   *slog.Logger
	interval time.Duration // zero means motion.PollInterval

	mu      sync.Mutex
	cameras []discovery.CameraDescriptor
	sensors []*sensorEntry
	byID    map[string]*sensorEntry
	runCtx  context.Context // set by Start
	wg      sync.WaitGroup
}

// NewCatalog creates an empty catalog that publishes through publish.
func NewCatalog(publish PublishFunc, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		publish: publish,
		logger:  logger,
		byID:    make(map[string]*sensorEntry),
	}
}

// RegisterCamera records a camera.
func (c *Catalog) RegisterCamera(cam discovery.CameraDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.cameras {
		if existing.UUID == cam.UUID && existing.ID == cam.ID {
			return fmt.Errorf("camera %q already registered", cam.Name)
		}
	}
	c.cameras = append(c.cameras, cam)
	return nil
}

// RegisterMotionSensor records a sensor. A sensor whose ID is already
// registered is rejected with ErrDuplicateSensor. If the catalog is
// already started the sensor's refresher starts immediately.
func (c *Catalog) RegisterMotionSensor(sensor MotionSensor) error {
	if err := sensor.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byID[sensor.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSensor, sensor.Name)
	}
	e := &sensorEntry{sensor: sensor}
	c.byID[sensor.ID] = e
	c.sensors = append(c.sensors, e)

	if c.runCtx != nil {
		c.launch(c.runCtx, e)
	}
	return nil
}

// Start launches refreshers for every registered sensor. Sensors
// registered later start as they arrive. Refreshers stop when ctx is
// cancelled; Wait blocks until they have.
func (c *Catalog) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCtx != nil {
		return
	}
	c.runCtx = ctx
	for _, e := range c.sensors {
		c.launch(ctx, e)
	}
}

// Wait blocks until every refresher has exited.
func (c *Catalog) Wait() {
	c.wg.Wait()
}

// launch must be called with c.mu held.
func (c *Catalog) launch(ctx context.Context, e *sensorEntry) {
	r := motion.NewRefresher(motion.RefresherConfig{
		Name:   e.sensor.Name,
		Detect: e.sensor.MotionDetected,
		Publish: func(ctx context.Context, detected bool) error {
			if err := c.publish(ctx, e.sensor, detected); err != nil {
				return err
			}
			c.mu.Lock()
			if !e.published || e.detected != detected {
				e.changedAt = time.Now()
			}
			e.detected = detected
			e.published = true
			c.mu.Unlock()
			return nil
		},
		Interval: c.interval,
		Logger:   c.logger,
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		r.Run(ctx)
	}()
}

// Cameras returns the registered cameras in registration order.
func (c *Catalog) Cameras() []discovery.CameraDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]discovery.CameraDescriptor, len(c.cameras))
	copy(out, c.cameras)
	return out
}

// Sensors returns the state of every registered sensor. Detected is
// evaluated now; Published reports whether any state reached the
// platform yet.
func (c *Catalog) Sensors() []SensorState {
	c.mu.Lock()
	entries := make([]sensorEntry, len(c.sensors))
	for i, e := range c.sensors {
		entries[i] = *e
	}
	c.mu.Unlock()

	out := make([]SensorState, len(entries))
	for i, e := range entries {
		out[i] = SensorState{
			ID:        e.sensor.ID,
			Name:      e.sensor.Name,
			CameraID:  e.sensor.Camera.ID,
			Detected:  e.sensor.MotionDetected(),
			Active:    e.sensor.StatusActive(),
			Published: e.published,
			ChangedAt: e.changedAt,
		}
	}
	return out
}

// MotionSensors returns the registered sensors in registration order.
func (c *Catalog) MotionSensors() []MotionSensor {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MotionSensor, len(c.sensors))
	for i, e := range c.sensors {
		out[i] = e.sensor
	}
	return out
}

// Sensor returns the registered sensor with the given ID.
func (c *Catalog) Sensor(id string) (MotionSensor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	if !ok {
		return MotionSensor{}, false
	}
	return e.sensor, true
}

// Identify handles a platform identify request by logging the sensor.
func (c *Catalog) Identify(id string) error {
	sensor, ok := c.Sensor(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, id)
	}
	c.logger.Info("identify requested", "sensor", sensor.Name, "sensor_id", sensor.ID, "camera_uuid", sensor.Camera.UUID)
	return nil
}
