package motion

import "github.com/nugget/ufvbridge/internal/ufv"

// IsMotionDetected reports whether snap holds a motion recording that
// includes cameraID. False for a nil or empty snapshot.
func IsMotionDetected(cameraID string, snap *Snapshot) bool {
	if snap == nil {
		return false
	}
	for _, rec := range snap.recordings {
		if rec.EventType == ufv.EventMotionRecording && rec.HasCamera(cameraID) {
			return true
		}
	}
	return false
}

// IsActive reports whether a motion sensor is armed.
//
// TODO: derive from the camera's recording schedule once arming is
// exposed; until then every sensor reports active.
func IsActive() bool {
	return true
}

// Evaluator binds one camera to its NVR's cache.
type Evaluator struct {
	Cache    *Cache
	CameraID string
}

// MotionDetected evaluates the cache's current snapshot.
func (e Evaluator) MotionDetected() bool {
	return IsMotionDetected(e.CameraID, e.Cache.Snapshot())
}

// Active always reports true; see IsActive.
func (e Evaluator) Active() bool {
	return IsActive()
}
