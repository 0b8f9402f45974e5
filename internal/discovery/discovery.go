// Package discovery turns an NVR bootstrap snapshot into camera
// descriptors and motion setup requests.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/ufvbridge/internal/config"
	"github.com/nugget/ufvbridge/internal/ufv"
)

// MaxStreams is the number of concurrent streams advertised per camera.
const MaxStreams = 2

// CameraDescriptor is everything an accessory registry needs to expose
// one camera. It is immutable once produced.
type CameraDescriptor struct {
	ID               string `json:"id"`   // NVR object id, used by the recording endpoint
	UUID             string `json:"uuid"` // hardware id, used as the accessory serial
	Name             string `json:"name"`
	Model            string `json:"model"`
	FirmwareVersion  string `json:"firmware_version"`
	StreamSource     string `json:"stream_source"`
	StillImageSource string `json:"still_image_source"`
	MaxWidth         int    `json:"max_width"`
	MaxHeight        int    `json:"max_height"`
	MaxFPS           int    `json:"max_fps"`
	MaxStreams       int    `json:"max_streams"`
}

// FFmpegInput renders the stream source as ffmpeg input arguments,
// tunnelling RTSP over HTTP.
func (d CameraDescriptor) FFmpegInput() string {
	return "-rtsp_transport http -re -i " + d.StreamSource
}

// Redacted returns a copy with API keys masked in every URL.
func (d CameraDescriptor) Redacted() CameraDescriptor {
	d.StreamSource = ufv.RedactString(d.StreamSource)
	d.StillImageSource = ufv.RedactString(d.StillImageSource)
	return d
}

// MotionSetup asks the caller to start a motion cache for the camera's
// NVR and bind a motion sensor to it.
type MotionSetup struct {
	Enabled   bool
	Identity  ufv.Identity
	NVRName   string
	CameraIDs []string      // every camera on the NVR, not just this one
	CoolDown  time.Duration // server motion alert cool down
}

// Result pairs a camera with its motion setup request.
type Result struct {
	Camera CameraDescriptor
	Motion MotionSetup
}

// BootstrapSource provides the bootstrap snapshot. *ufv.Client
// implements it.
type BootstrapSource interface {
	Bootstrap(ctx context.Context) ([]ufv.NVR, error)
}

// Resolver discovers streaming-enabled cameras on one NVR.
type Resolver struct {
	cfg    config.NVRConfig
	source BootstrapSource
	logger *slog.Logger
}

// NewResolver creates a resolver for the NVR described by cfg.
func NewResolver(cfg config.NVRConfig, source BootstrapSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		cfg:    cfg,
		source: source,
		logger: logger.With("nvr", cfg.Label()),
	}
}

// Discover fetches the bootstrap once and returns one Result per
// camera that has an RTSP-enabled channel. Cameras without one are
// skipped. A client error yields no results.
func (r *Resolver) Discover(ctx context.Context) ([]Result, error) {
	nvrs, err := r.source.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", r.cfg.Label(), err)
	}

	var results []Result
	for _, nvr := range nvrs {
		r.logger.Debug("discovered NVR", "nvr_name", nvr.NVRName, "cameras", len(nvr.Cameras))
		results = append(results, r.resolveNVR(nvr)...)
	}
	return results, nil
}

func (r *Resolver) resolveNVR(nvr ufv.NVR) []Result {
	// Multi-server NVRs are not supported: the last server listed
	// supplies the motion cool down.
	var server ufv.Server
	for _, s := range nvr.Servers {
		r.logger.Debug("discovered server", "server", s.Name)
		server = s
	}
	if len(nvr.Servers) > 1 {
		r.logger.Debug("NVR reports multiple servers, using the last",
			"nvr_name", nvr.NVRName, "server", server.Name)
	}

	allCameras := make([]string, 0, len(nvr.Cameras))
	for _, cam := range nvr.Cameras {
		allCameras = append(allCameras, cam.ID)
	}

	setup := MotionSetup{
		Identity:  ufv.NewIdentity(nvr.NVRName, r.cfg.APIHost),
		NVRName:   nvr.NVRName,
		CameraIDs: allCameras,
		CoolDown:  time.Duration(server.AlertSettings.MotionEmailCoolDownMs) * time.Millisecond,
	}

	var results []Result
	for _, cam := range nvr.Cameras {
		ch, ok := firstRTSPChannel(cam.Channels)
		if !ok {
			r.logger.Debug("skipping camera without RTSP channel", "camera", cam.Name)
			continue
		}

		streamURI, err := r.streamURI(nvr, ch)
		if err != nil {
			r.logger.Warn("skipping camera with unusable stream URI",
				"camera", cam.Name, "error", err)
			continue
		}

		desc := CameraDescriptor{
			ID:               cam.ID,
			UUID:             cam.UUID,
			Name:             cam.Name,
			Model:            cam.Model,
			FirmwareVersion:  cam.FirmwareVersion,
			StreamSource:     streamURI,
			StillImageSource: r.stillImageURL(cam.ID),
			MaxWidth:         ch.Width,
			MaxHeight:        ch.Height,
			MaxFPS:           ch.FPS,
			MaxStreams:       MaxStreams,
		}
		r.logger.Debug("discovered RTSP enabled camera",
			"camera", cam.Name,
			"uuid", cam.UUID,
			"channel", ch.Name,
			"stream", ufv.RedactString(streamURI),
		)

		ms := setup
		ms.Enabled = cam.RecordingSettings.MotionRecordEnabled
		results = append(results, Result{Camera: desc, Motion: ms})
	}
	return results
}

// firstRTSPChannel returns the first channel with RTSP enabled. Later
// enabled channels are ignored even if they have a better profile.
func firstRTSPChannel(channels []ufv.Channel) (ufv.Channel, bool) {
	for _, ch := range channels {
		if ch.IsRTSPEnabled {
			return ch, true
		}
	}
	return ufv.Channel{}, false
}

// streamURI builds the RTSP URL for a channel. Firmware 3.9 and later
// lists full URIs; only the hostname is replaced, since the NVR
// advertises whatever address it believes it has. Older firmware only
// gives an alias, so the URL is composed from the configured host.
func (r *Resolver) streamURI(nvr ufv.NVR, ch ufv.Channel) (string, error) {
	var u *url.URL

	if len(ch.RTSPURIs) > 0 {
		parsed, err := url.Parse(ch.RTSPURIs[0])
		if err != nil {
			return "", fmt.Errorf("parse rtsp uri: %w", err)
		}
		if port := parsed.Port(); port != "" {
			parsed.Host = net.JoinHostPort(r.cfg.APIHost, port)
		} else if strings.Contains(r.cfg.APIHost, ":") {
			parsed.Host = "[" + r.cfg.APIHost + "]"
		} else {
			parsed.Host = r.cfg.APIHost
		}
		u = parsed
	} else {
		port := nvr.SystemInfo.RTSPPort
		if port == 0 {
			port = ch.RTSPPort
		}
		if port == 0 {
			return "", errors.New("no rtsp port on NVR or channel")
		}
		u = &url.URL{
			Scheme: "rtsp",
			Host:   net.JoinHostPort(r.cfg.APIHost, strconv.Itoa(port)),
			Path:   "/" + ch.RTSPAlias,
		}
	}

	// The source query is kept byte for byte.
	key := url.Values{"apiKey": {r.cfg.APIKey}}.Encode()
	if u.RawQuery != "" {
		u.RawQuery += "&" + key
	} else {
		u.RawQuery = key
	}
	return u.String(), nil
}

// stillImageURL is always synthesized; the bootstrap has no snapshot URL.
func (r *Resolver) stillImageURL(cameraID string) string {
	u := url.URL{
		Scheme:   r.cfg.Scheme(),
		Host:     net.JoinHostPort(r.cfg.APIHost, strconv.Itoa(r.cfg.APIPort)),
		Path:     ufv.BasePath + "/snapshot/camera/" + cameraID,
		RawQuery: url.Values{"force": {"true"}, "apiKey": {r.cfg.APIKey}}.Encode(),
	}
	return u.String()
}
