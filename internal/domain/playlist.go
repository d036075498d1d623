package domain

import "time"

type PlaylistItem struct {
	ContentRef   string `json:"content_ref"`
	DisplayTitle string `json:"display_title"`
}

type RunKind string

const (
	RunImages RunKind = "images"
	RunVideos RunKind = "videos"
)

type RunStatus string

const (
	RunNotStarted RunStatus = "not_started"
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunCancelled  RunStatus = "cancelled"
	RunFailed     RunStatus = "failed"
)

// ImageMode selects the per-image display time of an image run.
type ImageMode string

const (
	ImageModeSlideshow ImageMode = "slideshow"
	ImageModeAlbum     ImageMode = "album"
)

func (m ImageMode) Delay(slideshow, album time.Duration) time.Duration {
	if m == ImageModeAlbum {
		return album
	}
	return slideshow
}

type RunSnapshot struct {
	ID       string    `json:"run_id"`
	Kind     RunKind   `json:"kind"`
	Status   RunStatus `json:"status"`
	Position int       `json:"position"`
	Total    int       `json:"total"`
	Error    string    `json:"error,omitempty"`
}
