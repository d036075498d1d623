package domain

import "errors"

var (
	ErrNotPaired      = errors.New("netcast session is not established")
	ErrEmptyPlaylist  = errors.New("playlist is empty")
	ErrNoCastService  = errors.New("device has no cast service")
	ErrNoLegacyRemote = errors.New("device has no legacy remote service")
	ErrResolve        = errors.New("content could not be resolved")
	ErrClosed         = errors.New("connection is closed")
)

// ToolError is the structured failure returned to control-surface callers.
type ToolError struct {
	Code           string         `json:"code"`
	Message        string         `json:"message"`
	Limitations    []Limitation   `json:"limitations,omitempty"`
	SuggestedFixes []string       `json:"suggested_fixes,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}
