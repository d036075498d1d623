package domain

type StateKind string

const (
	StateIdle     StateKind = "idle"
	StateLoading  StateKind = "loading"
	StatePlaying  StateKind = "playing"
	StatePaused   StateKind = "paused"
	StateFinished StateKind = "finished"
	StateStopped  StateKind = "stopped"
	StateError    StateKind = "error"
)

// PlaybackState is the normalized state of a cast session. Message is only
// set for StateError.
type PlaybackState struct {
	Kind    StateKind `json:"state"`
	Message string    `json:"message,omitempty"`
}

var (
	Idle     = PlaybackState{Kind: StateIdle}
	Loading  = PlaybackState{Kind: StateLoading}
	Playing  = PlaybackState{Kind: StatePlaying}
	Paused   = PlaybackState{Kind: StatePaused}
	Finished = PlaybackState{Kind: StateFinished}
	Stopped  = PlaybackState{Kind: StateStopped}
)

func ErrorState(message string) PlaybackState {
	return PlaybackState{Kind: StateError, Message: message}
}

// Terminal reports whether poller observations must no longer overwrite the state.
func (s PlaybackState) Terminal() bool {
	return s.Kind == StateFinished || s.Kind == StateError
}

// Active reports whether the media is still expected to produce state changes.
func (s PlaybackState) Active() bool {
	return s.Kind == StateLoading || s.Kind == StatePlaying || s.Kind == StatePaused
}

func (s PlaybackState) String() string {
	if s.Kind == StateError && s.Message != "" {
		return string(s.Kind) + ": " + s.Message
	}
	if s.Kind == "" {
		return string(StateIdle)
	}
	return string(s.Kind)
}
