package mqtt

import (
	"github.com/nugget/ufvbridge/internal/accessory"
	"github.com/nugget/ufvbridge/internal/buildinfo"
	"github.com/nugget/ufvbridge/internal/discovery"
)

// DeviceInfo holds the Home Assistant device registry fields shared
// by the discovery payloads of one device. The bridge itself is one
// device; every camera is another, linked to the bridge by ViaDevice.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor or
// binary_sensor discovery message. It is published (retained) to the
// discovery topic on every broker (re-)connect.
type SensorConfig struct {
	Name                string     `json:"name"`
	ObjectID            string     `json:"object_id,omitempty"`
	HasEntityName       bool       `json:"has_entity_name,omitempty"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	JsonAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	Device              DeviceInfo `json:"device"`
	DeviceClass         string     `json:"device_class,omitempty"`
	Icon                string     `json:"icon,omitempty"`
	PayloadOn           string     `json:"payload_on,omitempty"`
	PayloadOff          string     `json:"payload_off,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
}

// ButtonConfig is the discovery payload for an HA MQTT button.
type ButtonConfig struct {
	Name              string     `json:"name"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	CommandTopic      string     `json:"command_topic"`
	PayloadPress      string     `json:"payload_press"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	DeviceClass       string     `json:"device_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// CameraAttributes is published to a camera's attributes topic.
type CameraAttributes struct {
	CameraID         string `json:"camera_id"`
	StreamSource     string `json:"stream_source"`
	StillImageSource string `json:"still_image_source"`
	MaxWidth         int    `json:"max_width"`
	MaxHeight        int    `json:"max_height"`
	MaxFPS           int    `json:"max_fps"`
	MaxStreams       int    `json:"max_streams"`
}

// NewDeviceInfo creates the bridge's own DeviceInfo from the persistent
// instance ID and the human-readable device name. The instance ID is
// the HA device identifier, so renaming device_name keeps history.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "ufvbridge",
		Model:        "UniFi Video Bridge",
		SWVersion:    buildinfo.Version,
	}
}

// NewCameraDevice creates the HA device for one camera. The hardware
// UUID identifies it, so the camera's motion sensor lands on the same
// device page.
func NewCameraDevice(cam discovery.CameraDescriptor, bridgeID string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{cameraIdentifier(cam)},
		Name:         cam.Name,
		Manufacturer: accessory.Manufacturer,
		Model:        cam.Model,
		SWVersion:    cam.FirmwareVersion,
		SerialNumber: cam.UUID,
		ViaDevice:    bridgeID,
	}
}

// cameraIdentifier falls back to the NVR object id for cameras that
// report no hardware UUID.
func cameraIdentifier(cam discovery.CameraDescriptor) string {
	if cam.UUID != "" {
		return "ufv_" + cam.UUID
	}
	return "ufv_" + cam.ID
}

func newCameraAttributes(cam discovery.CameraDescriptor) CameraAttributes {
	return CameraAttributes{
		CameraID:         cam.ID,
		StreamSource:     cam.StreamSource,
		StillImageSource: cam.StillImageSource,
		MaxWidth:         cam.MaxWidth,
		MaxHeight:        cam.MaxHeight,
		MaxFPS:           cam.MaxFPS,
		MaxStreams:       cam.MaxStreams,
	}
}
