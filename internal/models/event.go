package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UnknownSubject is reported for faces with no match above threshold.
const UnknownSubject = "Unknown"

// MatchEvent is emitted when the identity seen on a camera track changes.
type MatchEvent struct {
	ID           uuid.UUID    `json:"id"`
	CameraID     string       `json:"camera_id"`
	ClassID      string       `json:"class_id"`
	TrackID      string       `json:"track_id"`
	ExternalID   *int64       `json:"identity_external_id,omitempty"`
	DisplayName  string       `json:"display_name,omitempty"`
	IdentityType IdentityType `json:"identity_type,omitempty"`
	Similarity   float32      `json:"similarity"`
	Confidence   float32      `json:"confidence"` // detector score
	BBox         [4]float32   `json:"bbox"`       // x1, y1, x2, y2
	SnapshotKey  string       `json:"snapshot_key,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Subject is the matched external id or UnknownSubject.
func (e *MatchEvent) Subject() string {
	if e.ExternalID == nil {
		return UnknownSubject
	}
	return strconv.FormatInt(*e.ExternalID, 10)
}

// FrameTask is the message published to NATS for worker processing.
type FrameTask struct {
	CameraID  string    `json:"camera_id"`
	FrameID   uuid.UUID `json:"frame_id"`
	Timestamp time.Time `json:"timestamp"`
	FrameRef  string    `json:"frame_ref"` // MinIO object key
	Width     int       `json:"width"`
	Height    int       `json:"height"`
}

// CameraStatus is published on the control subject when ingestion changes state.
type CameraStatus string

const (
	CameraStopped  CameraStatus = "stopped"
	CameraStarting CameraStatus = "starting"
	CameraRunning  CameraStatus = "running"
	CameraError    CameraStatus = "error"
)
