package model

import "time"

// JobEvent kinds pushed to live subscribers.
const (
	JobQueued   = "queued"
	JobStarted  = "started"
	JobProgress = "progress"
	JobReady    = "ready"
	JobFailed   = "failed"
)

// JobEvent describes a transcode job transition or progress tick.
type JobEvent struct {
	VideoID  string    `json:"videoId"`
	Title    string    `json:"title"`
	Kind     string    `json:"kind"`
	Segments int       `json:"segments,omitempty"` // segment files written so far
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}
