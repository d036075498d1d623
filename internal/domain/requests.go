package domain

type PairRequest struct {
	TargetDevice string `json:"target_device"`
	PIN          string `json:"pin,omitempty"`
}

type KeyRequest struct {
	TargetDevice string `json:"target_device"`
	Key          string `json:"key"`
}

// PointerRequest drives the Netcast cursor. Action is one of move, click,
// scroll, show or hide.
type PointerRequest struct {
	TargetDevice string  `json:"target_device"`
	Action       string  `json:"action"`
	DX           float64 `json:"dx,omitempty"`
	DY           float64 `json:"dy,omitempty"`
	Direction    string  `json:"direction,omitempty"`
}

type AppRequest struct {
	TargetDevice string `json:"target_device"`
	App          string `json:"app"`
	ContentID    string `json:"content_id,omitempty"`
}

type CastRequest struct {
	TargetDevice string `json:"target_device"`
	Source       string `json:"source"`
	AudioSource  string `json:"audio_source,omitempty"`
	Title        string `json:"title,omitempty"`
	Image        bool   `json:"image,omitempty"`
}

type PlaylistRequest struct {
	TargetDevice string         `json:"target_device"`
	Kind         RunKind        `json:"kind"`
	Mode         ImageMode      `json:"mode,omitempty"`
	Items        []PlaylistItem `json:"items"`
}

type TargetRequest struct {
	TargetDevice string `json:"target_device"`
}
