package domain

import "time"

// PairResult reports the outcome of one step of the pairing handshake.
type PairResult struct {
	DeviceID  string `json:"device_id"`
	DeviceIP  string `json:"device_ip"`
	Status    string `json:"status"` // pin_requested or paired
	SessionID string `json:"session_id,omitempty"`
}

type CommandResult struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
	OK       bool   `json:"ok"`
}

type AppResult struct {
	DeviceID    string `json:"device_id"`
	App         string `json:"app"`
	OK          bool   `json:"ok"`
	ViaLegacy   bool   `json:"via_legacy"`
	WorkingPort int    `json:"working_port,omitempty"`
	InstanceURL string `json:"instance_url,omitempty"`
}

type CastResult struct {
	DeviceID string        `json:"device_id"`
	MediaURL string        `json:"media_url"`
	MimeType string        `json:"mime_type"`
	State    PlaybackState `json:"state"`
}

type PlaybackStatus struct {
	DeviceID        string        `json:"device_id"`
	DeviceIP        string        `json:"device_ip"`
	Paired          bool          `json:"paired"`
	PairingRequired bool          `json:"pairing_required"`
	Session         PlaybackState `json:"session"`
	Playlist        PlaybackState `json:"playlist"`
	Runs            []RunSnapshot `json:"runs"`
	FinishedRuns    []RunSnapshot `json:"finished_runs,omitempty"`
	SessionChanged  time.Time     `json:"session_changed_at,omitzero"`
	TargetApp       *AppStatus    `json:"target_app,omitempty"`
}

// AppList is the set of Netcast app ids a TV reports as installed.
type AppList struct {
	DeviceID string   `json:"device_id"`
	Apps     []string `json:"apps"`
}

type AppStatus struct {
	Reachable bool `json:"reachable"`
	Running   bool `json:"running"`
}
