package vision

import (
	"fmt"
	"sync"
	"time"
)

// Track represents a tracked face across frames.
type Track struct {
	ID              string
	BBox            [4]float32
	Confidence      float32
	Detection       Detection // latest detection, landmarks included
	Hits            int       // number of matched detections
	TimeSinceUpdate int       // frames since last detection match
	Recognized      bool      // recognition has run at least once
	LastRecognized  time.Time
	Subject         string  // resolved external id or "Unknown"
	Similarity      float32 // similarity of Subject
}

// Tracker implements a simple SORT-like face tracker.
type Tracker struct {
	mu       sync.Mutex
	tracks   map[string]*Track
	nextID   int
	maxAge   int // max frames without detection before track is removed
	minHits  int // min hits before track is confirmed
	cameraID string
}

// NewTracker creates a new face tracker for a given camera.
func NewTracker(cameraID string, maxAge, minHits int) *Tracker {
	return &Tracker{
		tracks:   make(map[string]*Track),
		maxAge:   maxAge,
		minHits:  minHits,
		cameraID: cameraID,
	}
}

// minTrackIoU is the overlap needed to continue a track.
const minTrackIoU = 0.3

// Update matches detections to existing tracks by IoU and opens tracks for
// the rest. Tracks unseen for more than maxAge frames are dropped.
func (t *Tracker) Update(detections []Detection) []TrackUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, track := range t.tracks {
		track.TimeSinceUpdate++
	}

	updates := make([]TrackUpdate, 0, len(detections))
	matched := make(map[string]bool)
	detMatched := make(map[int]bool)

	for di, det := range detections {
		bestIoU := float32(minTrackIoU)
		var best *Track

		for _, tr := range t.tracks {
			if matched[tr.ID] {
				continue
			}
			if v := iou(det.BBox, tr.BBox); v > bestIoU {
				bestIoU = v
				best = tr
			}
		}

		if best != nil {
			best.BBox = det.BBox
			best.Confidence = det.Confidence
			best.Detection = det
			best.Hits++
			best.TimeSinceUpdate = 0
			matched[best.ID] = true
			detMatched[di] = true

			updates = append(updates, TrackUpdate{Track: best})
		}
	}

	for di, det := range detections {
		if detMatched[di] {
			continue
		}

		t.nextID++
		tr := &Track{
			ID:         fmt.Sprintf("%s_%d", t.cameraID, t.nextID),
			BBox:       det.BBox,
			Confidence: det.Confidence,
			Detection:  det,
			Hits:       1,
		}
		t.tracks[tr.ID] = tr

		updates = append(updates, TrackUpdate{Track: tr, IsNew: true})
	}

	for id, tr := range t.tracks {
		if tr.TimeSinceUpdate > t.maxAge {
			delete(t.tracks, id)
		}
	}

	return updates
}

// ShouldRecognize reports whether a confirmed track is due for
// (re-)recognition at now.
func (t *Tracker) ShouldRecognize(track *Track, now time.Time, interval time.Duration) bool {
	if track.Hits < t.minHits {
		return false
	}
	if !track.Recognized {
		return true
	}
	return now.Sub(track.LastRecognized) >= interval
}

// TrackCount returns the number of active tracks.
func (t *Tracker) TrackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Reset drops all tracks, e.g. when recognition is disabled.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[string]*Track)
}

type TrackUpdate struct {
	Track *Track
	IsNew bool
}
