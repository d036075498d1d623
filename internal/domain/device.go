package domain

// Device is a TV endpoint found on the local network. IP is always set;
// Address is the cast service location and is empty for remote-only TVs.
type Device struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Type            string       `json:"type"`
	IP              string       `json:"ip"`
	Address         string       `json:"address,omitempty"`
	Protocol        string       `json:"protocol"`
	HasLegacyRemote bool         `json:"has_legacy_remote"`
	HasCastService  bool         `json:"has_cast_service"`
	IsAudioOnly     bool         `json:"is_audio_only"`
	Capabilities    Capabilities `json:"capabilities"`
}

type Capabilities struct {
	SupportsImages    bool         `json:"supports_images"`
	SupportsVideo     bool         `json:"supports_video"`
	SupportsAppLaunch bool         `json:"supports_app_launch"`
	Limitations       []Limitation `json:"limitations"`
}

type Limitation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
