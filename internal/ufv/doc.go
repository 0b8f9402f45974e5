// Package ufv is a client for the UniFi Video NVR REST API (v2.0).
//
// Only the read endpoints needed for camera discovery and motion
// polling are covered: bootstrap, recording and server. Responses are
// decoded into explicit schema structs at the client boundary so
// callers never index into raw JSON.
package ufv

import (
	"context"

	"github.com/google/uuid"
)

// BasePath is the API prefix every UniFi Video 3.x endpoint lives under.
const BasePath = "/api/2.0"

// EventMotionRecording is the recording cause and event type reported
// for recordings triggered by motion detection.
const EventMotionRecording = "motionRecording"

// identityNamespace scopes NVR identities so they cannot collide with
// other name-based UUIDs derived from the same strings.
var identityNamespace = uuid.MustParse("6f1f9b0e-6a3d-4c0b-9a52-2d1f0f0c7e11")

// Identity is a stable identifier for one physical NVR. It is derived
// from the NVR's self-reported name and the configured API host, so
// the same NVR reached through several camera setups shares one
// motion cache.
type Identity string

// NewIdentity returns the deterministic identity for (nvrName, apiHost).
func NewIdentity(nvrName, apiHost string) Identity {
	return Identity(uuid.NewSHA1(identityNamespace, []byte(nvrName+apiHost)).String())
}

// RecordingSource provides motion recordings for a time window. The
// Client implements it; motion caches depend only on this interface.
type RecordingSource interface {
	Recordings(ctx context.Context, q RecordingQuery) ([]Recording, error)
}
