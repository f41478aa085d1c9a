package queue

import (
	"encoding/json"
	"fmt"
)

// CameraCommand starts or stops ingestion of one configured camera.
type CameraCommand struct {
	Action   string `json:"action"` // start, stop
	CameraID string `json:"camera_id"`
}

// ParseCommand decodes and validates a control message.
func ParseCommand(data []byte) (CameraCommand, error) {
	var cmd CameraCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("parse command: %w", err)
	}
	switch cmd.Action {
	case "start", "stop":
	default:
		return cmd, fmt.Errorf("unknown action %q", cmd.Action)
	}
	if cmd.CameraID == "" {
		return cmd, fmt.Errorf("command %s: missing camera_id", cmd.Action)
	}
	return cmd, nil
}
