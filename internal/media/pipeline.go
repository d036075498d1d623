package media

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Pipeline resolves content and makes sure the result is something the TV
// can fetch: split streams are merged and, with StageRemote, remote files are
// cached and served locally.
type Pipeline struct {
	Resolver    Resolver
	Stager      *Stager
	StageRemote bool
}

func (p *Pipeline) Resolve(ctx context.Context, ref string) (Resolution, error) {
	if p.Resolver == nil {
		return Resolution{}, fmt.Errorf("no resolver configured")
	}
	res, err := p.Resolver.Resolve(ctx, ref)
	if err != nil {
		return Resolution{}, err
	}
	return p.Prepare(ctx, res, nameFor(ref))
}

// Prepare turns an already resolved item into a playable one.
func (p *Pipeline) Prepare(ctx context.Context, res Resolution, name string) (Resolution, error) {
	switch {
	case res.NeedsMerge():
		if p.Stager == nil {
			return Resolution{}, fmt.Errorf("content needs merging but no stager is configured")
		}
		return p.Stager.Merge(ctx, res, name)
	case !res.Playable():
		return Resolution{}, fmt.Errorf("no playable url for %s", name)
	case p.StageRemote && p.Stager != nil && isRemote(res.PlayableURL):
		return p.Stager.Download(ctx, res, name)
	}
	return res, nil
}

func isRemote(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func nameFor(ref string) string {
	base := path.Base(strings.TrimRight(redactURL(ref), "/"))
	if base == "." || base == "/" || base == "" {
		return "media"
	}
	return base
}
