package media

import (
	"context"
	"strings"
)

// Resolution is what a content reference resolved to. Either PlayableURL is
// set, or VideoURL and AudioURL must be merged before the TV can play them.
type Resolution struct {
	PlayableURL string
	MimeType    string
	VideoURL    string
	AudioURL    string
}

func (r Resolution) NeedsMerge() bool {
	return r.PlayableURL == "" && r.VideoURL != "" && r.AudioURL != ""
}

func (r Resolution) Playable() bool {
	return strings.TrimSpace(r.PlayableURL) != ""
}

// Resolver turns a content reference (URL, file path or provider id) into
// something playable.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Resolution, error)
}

// Publisher exposes a local file over HTTP on an address the TV can reach.
type Publisher interface {
	Publish(ctx context.Context, localPath string) (string, error)
}

// OwningPublisher takes over a staged file and deletes it once it is no
// longer served.
type OwningPublisher interface {
	PublishOwned(ctx context.Context, localPath string) (string, error)
}
