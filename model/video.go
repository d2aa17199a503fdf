package model

import (
	"fmt"
	"time"
)

// VideoStatus tracks where a video is in the conversion pipeline.
type VideoStatus string

const (
	StatusProcessing VideoStatus = "processing"
	StatusReady      VideoStatus = "ready"
	StatusFailed     VideoStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s VideoStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Video represents one uploaded asset and its derived HLS output.
type Video struct {
	ID           string      `gorm:"column:id;primaryKey;size:255" json:"id"` // {sanitizedName}_{uploadMillis}, also the output folder name
	Title        string      `gorm:"column:title;size:255;not null;index" json:"title"`
	OriginalFile string      `gorm:"column:original_file;size:767;not null" json:"-"`
	HLSFolder    string      `gorm:"column:hls_folder;size:767;not null" json:"-"`
	HLSPath      *string     `gorm:"column:hls_path;size:767" json:"hlsPath,omitempty"` // set only when ready
	Status       VideoStatus `gorm:"column:status;size:20;not null;index" json:"status"`
	Duration     float64     `gorm:"column:duration" json:"duration,omitempty"`
	Error        string      `gorm:"column:error;size:1024" json:"error,omitempty"`
	CreatedAt    time.Time   `gorm:"column:created_at;index" json:"createdAt"`
	UpdatedAt    time.Time   `gorm:"column:updated_at" json:"updatedAt"`
}

// TableName 指定表名
func (Video) TableName() string {
	return "videos"
}

// VideoTitle is the projection returned to players listing the catalog.
type VideoTitle struct {
	Title string `json:"title"`
}

// StatusUpdate is the single terminal write a job performs on its video.
type StatusUpdate struct {
	Status   VideoStatus
	HLSPath  *string
	Duration float64
	Error    string
}

// Validate enforces that only terminal statuses are written and that the
// playlist path is present exactly when the video is ready.
func (u StatusUpdate) Validate() error {
	switch u.Status {
	case StatusReady:
		if u.HLSPath == nil || *u.HLSPath == "" {
			return fmt.Errorf("ready status requires a playlist path")
		}
	case StatusFailed:
		if u.HLSPath != nil {
			return fmt.Errorf("failed status must not carry a playlist path")
		}
	default:
		return fmt.Errorf("status %q is not a terminal status", u.Status)
	}
	return nil
}

// Apply copies the update onto v. Callers must validate first.
func (v *Video) Apply(u StatusUpdate, at time.Time) {
	v.Status = u.Status
	if u.HLSPath != nil {
		p := *u.HLSPath
		v.HLSPath = &p
	}
	v.Duration = u.Duration
	v.Error = u.Error
	v.UpdatedAt = at
}
