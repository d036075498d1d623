package cast

import (
	"context"
	"strings"

	"go2tv.app/lgremote/internal/domain"
)

// MediaRequest describes one item to show on the TV.
type MediaRequest struct {
	URL         string
	MimeType    string
	Title       string
	Description string
}

// Capability is a vendor cast channel. Calls block until the device answered
// or ctx is done.
type Capability interface {
	Play(ctx context.Context, req MediaRequest) error
	Stop(ctx context.Context) error
	// QueryState returns the vendor play state string, e.g. "PLAYING" or
	// "PAUSED_PLAYBACK".
	QueryState(ctx context.Context) (string, error)
	Close() error
}

// NormalizeState maps a vendor state string to a PlaybackState. The second
// return is false when the value carries no usable information.
func NormalizeState(raw string) (domain.PlaybackState, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "playing", "buffering", "transitioning", "loading":
		return domain.Playing, true
	case "paused", "paused_playback":
		return domain.Paused, true
	case "stopped":
		return domain.Stopped, true
	case "idle", "no_media_present":
		return domain.Idle, true
	case "finished":
		return domain.Finished, true
	case "error":
		return domain.ErrorState("device reported playback error"), true
	default:
		return domain.PlaybackState{}, false
	}
}
