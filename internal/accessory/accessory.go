// Package accessory defines the boundary between the bridge and a
// smart-home accessory platform. A Registry receives cameras and
// motion sensors; the platform owns how they are presented.
package accessory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/ufvbridge/internal/discovery"
	"github.com/nugget/ufvbridge/internal/motion"
)

// Manufacturer is reported for every camera and sensor accessory.
const Manufacturer = "Ubiquiti Networks, Inc."

// sensorNamespace scopes sensor IDs derived from display names.
var sensorNamespace = uuid.MustParse("0b8c3a64-5f0e-4b7e-8d3a-77e1c2b9f4d0")

var (
	// ErrDuplicateSensor is returned when a motion sensor with the same
	// ID is already registered. Each camera gets at most one sensor.
	ErrDuplicateSensor = errors.New("motion sensor already registered")

	// ErrUnknownSensor is returned by Identify for an unregistered ID.
	ErrUnknownSensor = errors.New("unknown motion sensor")
)

// Registry accepts discovered cameras and motion sensors. Registration
// happens once at startup; implementations keep any sensor refresh
// loops running until their own Start context is cancelled.
type Registry interface {
	RegisterCamera(cam discovery.CameraDescriptor) error
	RegisterMotionSensor(sensor MotionSensor) error
}

// MotionSensor is a motion-sensing accessory bound to one camera.
type MotionSensor struct {
	Name   string // "<camera> Motion Sensor"
	ID     string // derived from Name
	Camera discovery.CameraDescriptor

	MotionDetected func() bool
	StatusActive   func() bool
}

// SensorName returns the display name of a camera's motion sensor.
func SensorName(cameraName string) string {
	return cameraName + " Motion Sensor"
}

// SensorID returns the deterministic ID for a sensor display name.
func SensorID(name string) string {
	return uuid.NewSHA1(sensorNamespace, []byte(name)).String()
}

// NewMotionSensor binds a camera to an evaluator reading its NVR's
// motion cache.
func NewMotionSensor(cam discovery.CameraDescriptor, ev motion.Evaluator) MotionSensor {
	name := SensorName(cam.Name)
	return MotionSensor{
		Name:           name,
		ID:             SensorID(name),
		Camera:         cam,
		MotionDetected: ev.MotionDetected,
		StatusActive:   ev.Active,
	}
}

func (s MotionSensor) validate() error {
	if s.ID == "" {
		return fmt.Errorf("motion sensor %q: missing id", s.Name)
	}
	if s.MotionDetected == nil || s.StatusActive == nil {
		return fmt.Errorf("motion sensor %q: missing state functions", s.Name)
	}
	return nil
}

// SensorState is a point-in-time view of a registered sensor.
type SensorState struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CameraID  string    `json:"camera_id"`
	Detected  bool      `json:"motion_detected"`
	Active    bool      `json:"status_active"`
	Published bool      `json:"published"`
	ChangedAt time.Time `json:"changed_at"`
}

// Inventory exposes what a registry holds, for the status API.
type Inventory interface {
	Cameras() []discovery.CameraDescriptor
	Sensors() []SensorState
	Identify(id string) error
}
