package ufv

import "slices"

// NVR is one entry of the bootstrap response. A bootstrap normally
// contains exactly one NVR.
type NVR struct {
	ID         string     `json:"_id"`
	NVRName    string     `json:"nvrName"`
	SystemInfo SystemInfo `json:"systemInfo"`
	Servers    []Server   `json:"servers"`
	Cameras    []Camera   `json:"cameras"`
}

// SystemInfo carries NVR-wide settings. Pre-3.9 firmware reports the
// RTSP port here rather than per channel.
type SystemInfo struct {
	RTSPPort int `json:"rtspPort"`
}

// Server is the recording server backing an NVR.
type Server struct {
	ID            string        `json:"_id"`
	Name          string        `json:"name"`
	Host          string        `json:"host"`
	AlertSettings AlertSettings `json:"alertSettings"`
}

// AlertSettings holds the server's motion alert configuration.
type AlertSettings struct {
	MotionEmailCoolDownMs int64 `json:"motionEmailCoolDownMs"`
}

// Camera is a managed camera. ID is the NVR object id used by the
// recording endpoint; UUID is the hardware-stable identifier.
type Camera struct {
	ID                string            `json:"_id"`
	UUID              string            `json:"uuid"`
	Name              string            `json:"name"`
	Model             string            `json:"model"`
	FirmwareVersion   string            `json:"firmwareVersion"`
	Channels          []Channel         `json:"channels"`
	RecordingSettings RecordingSettings `json:"recordingSettings"`
}

// RecordingSettings is the subset of a camera's recording config the
// bridge cares about.
type RecordingSettings struct {
	MotionRecordEnabled bool `json:"motionRecordEnabled"`
}

// Channel is one stream profile of a camera.
type Channel struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	IsRTSPEnabled bool     `json:"isRtspEnabled"`
	RTSPAlias     string   `json:"rtspAlias"`
	RTSPPort      int      `json:"rtspPort"`
	RTSPURIs      []string `json:"rtspUris"` // 3.9.0 and later
	Width         int      `json:"width"`
	Height        int      `json:"height"`
	FPS           int      `json:"fps"`
}

// Recording is one entry of the recording endpoint. Times are Unix
// milliseconds.
type Recording struct {
	ID         string   `json:"_id"`
	EventType  string   `json:"eventType"`
	Cameras    []string `json:"cameras"`
	StartTime  int64    `json:"startTime"`
	EndTime    int64    `json:"endTime"`
	InProgress bool     `json:"inProgress"`
}

// HasCamera reports whether the recording includes cameraID.
func (r Recording) HasCamera(cameraID string) bool {
	return slices.Contains(r.Cameras, cameraID)
}
