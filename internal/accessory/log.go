package accessory

import (
	"context"
	"log/slog"

	"github.com/nugget/ufvbridge/internal/discovery"
)

// LogRegistry is the registry used when no accessory platform is
// configured. Registrations and motion state changes are only logged.
type LogRegistry struct {
	*Catalog
	logger *slog.Logger
}

// NewLogRegistry creates a LogRegistry.
func NewLogRegistry(logger *slog.Logger) *LogRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &LogRegistry{logger: logger}
	r.Catalog = NewCatalog(r.publish, logger)
	return r
}

// RegisterCamera records and logs a camera.
func (r *LogRegistry) RegisterCamera(cam discovery.CameraDescriptor) error {
	if err := r.Catalog.RegisterCamera(cam); err != nil {
		return err
	}
	r.logger.Info("camera registered",
		"camera", cam.Name,
		"uuid", cam.UUID,
		"model", cam.Model,
		"max_width", cam.MaxWidth,
		"max_height", cam.MaxHeight,
		"max_fps", cam.MaxFPS,
	)
	return nil
}

// RegisterMotionSensor records and logs a motion sensor.
func (r *LogRegistry) RegisterMotionSensor(sensor MotionSensor) error {
	if err := r.Catalog.RegisterMotionSensor(sensor); err != nil {
		return err
	}
	r.logger.Info("motion sensor registered", "sensor", sensor.Name, "sensor_id", sensor.ID)
	return nil
}

func (r *LogRegistry) publish(_ context.Context, sensor MotionSensor, detected bool) error {
	r.logger.Debug("motion sensor state", "sensor", sensor.Name, "detected", detected)
	return nil
}
