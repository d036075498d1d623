package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go2tv.app/lgremote/internal/domain"
)

const (
	defaultDiscoveryTimeoutMS = 5000
	minDiscoveryTimeoutMS     = 100

	mediaTypeVideo = "video"
	mediaTypeImage = "image"
)

var (
	errInvalidParams = errors.New("invalid params")
	errNotConfigured = errors.New("not configured")
)

type toolOutput struct {
	text     string
	result   any
	deviceID string
	runID    string
}

type toolHandler func(ctx context.Context, args json.RawMessage) (toolOutput, error)

func (s *Server) toolHandlers() map[string]toolHandler {
	return map[string]toolHandler{
		"list_tvs":        s.listTVs,
		"pair_tv":         s.pairTV,
		"send_key":        s.sendKey,
		"pointer":         s.pointer,
		"launch_app":      s.launchApp,
		"stop_app":        s.stopApp,
		"list_apps":       s.listApps,
		"cast_media":      s.castMedia,
		"start_playlist":  s.startPlaylist,
		"stop_playback":   s.stopPlayback,
		"playback_status": s.playbackStatus,
	}
}

func (s *Server) listTVs(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	if s.lister == nil {
		return toolOutput{}, errNotConfigured
	}

	var args struct {
		TimeoutMS          *int  `json:"timeout_ms,omitempty"`
		IncludeUnreachable *bool `json:"include_unreachable,omitempty"`
	}
	if err := decodeStrict(rawArgs, &args); err != nil {
		return toolOutput{}, errInvalidParams
	}
	timeoutMS := defaultDiscoveryTimeoutMS
	if args.TimeoutMS != nil {
		if *args.TimeoutMS < minDiscoveryTimeoutMS {
			return toolOutput{}, errInvalidParams
		}
		timeoutMS = *args.TimeoutMS
	}
	includeUnreachable := args.IncludeUnreachable != nil && *args.IncludeUnreachable
	s.logLifecycle(
		slog.LevelDebug,
		"list_tvs_request",
		slog.Int("timeout_ms", timeoutMS),
		slog.Bool("include_unreachable", includeUnreachable),
	)

	devices, err := s.lister.ListTVs(ctx, timeoutMS, includeUnreachable)
	if err != nil {
		return toolOutput{}, err
	}
	summary := fmt.Sprintf("Discovered %d TV(s).", len(devices))
	if len(devices) > 0 {
		summary += "\n" + formatDiscoveredDevices(devices)
	}
	return toolOutput{
		text: summary,
		result: map[string]any{
			"count":   len(devices),
			"devices": devices,
		},
	}, nil
}

func (s *Server) pairTV(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.PairRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	req.PIN = strings.TrimSpace(req.PIN)

	res, err := s.controller.PairTV(ctx, req)
	if err != nil {
		return toolOutput{deviceID: req.TargetDevice}, err
	}
	text := fmt.Sprintf("A pairing PIN is now shown on %s. Call pair_tv again with the PIN.", res.DeviceID)
	if res.Status == "paired" {
		text = fmt.Sprintf("Paired with %s.", res.DeviceID)
	}
	return toolOutput{text: text, result: res, deviceID: res.DeviceID}, nil
}

func (s *Server) sendKey(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.KeyRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	if strings.TrimSpace(req.Key) == "" {
		return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
	}
	return commandOutput(s.controller.SendKey(ctx, req))
}

func (s *Server) pointer(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.PointerRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	if strings.TrimSpace(req.Action) == "" {
		return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
	}
	return commandOutput(s.controller.Pointer(ctx, req))
}

func (s *Server) launchApp(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.AppRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	if strings.TrimSpace(req.App) == "" {
		return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
	}

	res, err := s.controller.LaunchApp(ctx, req)
	if err != nil {
		return toolOutput{deviceID: req.TargetDevice}, err
	}
	via := "DIAL"
	if res.ViaLegacy {
		via = "Netcast app execute"
	}
	return toolOutput{
		text:     fmt.Sprintf("Launched %s on %s via %s.", res.App, res.DeviceID, via),
		result:   res,
		deviceID: res.DeviceID,
	}, nil
}

func (s *Server) stopApp(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.TargetRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	return commandOutput(s.controller.StopApp(ctx, req))
}

func (s *Server) listApps(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.TargetRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}

	res, err := s.controller.ListApps(ctx, req)
	if err != nil {
		return toolOutput{deviceID: req.TargetDevice}, err
	}
	text := fmt.Sprintf("%s reports %d installed app(s).", res.DeviceID, len(res.Apps))
	if len(res.Apps) > 0 {
		text += " " + strings.Join(res.Apps, ", ")
	}
	return toolOutput{text: text, result: res, deviceID: res.DeviceID}, nil
}

func (s *Server) castMedia(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var args struct {
		TargetDevice string  `json:"target_device"`
		Source       string  `json:"source"`
		AudioSource  *string `json:"audio_source,omitempty"`
		Title        *string `json:"title,omitempty"`
		MediaType    *string `json:"media_type,omitempty"`
	}
	if err := s.decodeTarget(rawArgs, &args, &args.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	req := domain.CastRequest{
		TargetDevice: args.TargetDevice,
		Source:       strings.TrimSpace(args.Source),
	}
	if req.Source == "" {
		return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
	}
	if args.AudioSource != nil {
		req.AudioSource = strings.TrimSpace(*args.AudioSource)
	}
	if args.Title != nil {
		req.Title = strings.TrimSpace(*args.Title)
	}
	if args.MediaType != nil {
		switch strings.ToLower(strings.TrimSpace(*args.MediaType)) {
		case mediaTypeVideo:
		case mediaTypeImage:
			req.Image = true
		default:
			return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
		}
	}
	if req.Image && req.AudioSource != "" {
		return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
	}

	res, err := s.controller.CastMedia(ctx, req)
	if err != nil {
		return toolOutput{deviceID: req.TargetDevice}, err
	}
	return toolOutput{
		text:     fmt.Sprintf("Casting to %s (%s).", res.DeviceID, res.State),
		result:   res,
		deviceID: res.DeviceID,
	}, nil
}

func (s *Server) startPlaylist(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.PlaylistRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	if len(req.Items) == 0 {
		return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.ContentRef) == "" {
			return toolOutput{deviceID: req.TargetDevice}, errInvalidParams
		}
	}

	res, err := s.controller.StartPlaylist(ctx, req)
	if err != nil {
		return toolOutput{deviceID: req.TargetDevice}, err
	}
	return toolOutput{
		text:     fmt.Sprintf("Started %s run %s with %d item(s).", res.Kind, res.ID, res.Total),
		result:   res,
		deviceID: req.TargetDevice,
		runID:    res.ID,
	}, nil
}

func (s *Server) stopPlayback(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.TargetRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}
	return commandOutput(s.controller.StopPlayback(ctx, req))
}

func (s *Server) playbackStatus(ctx context.Context, rawArgs json.RawMessage) (toolOutput, error) {
	var req domain.TargetRequest
	if err := s.decodeTarget(rawArgs, &req, &req.TargetDevice); err != nil {
		return toolOutput{}, err
	}

	res, err := s.controller.PlaybackStatus(ctx, req)
	if err != nil {
		return toolOutput{deviceID: req.TargetDevice}, err
	}
	return toolOutput{
		text:     fmt.Sprintf("Session %s, playlist %s, %d active run(s).", res.Session, res.Playlist, len(res.Runs)),
		result:   res,
		deviceID: res.DeviceID,
	}, nil
}

// decodeTarget decodes controller arguments and requires a target device.
func (s *Server) decodeTarget(rawArgs json.RawMessage, out any, target *string) error {
	if s.controller == nil {
		return errNotConfigured
	}
	if err := decodeStrict(rawArgs, out); err != nil {
		return errInvalidParams
	}
	*target = strings.TrimSpace(*target)
	if *target == "" {
		return errInvalidParams
	}
	return nil
}

func commandOutput(res *domain.CommandResult, err error) (toolOutput, error) {
	if err != nil {
		return toolOutput{}, err
	}
	return toolOutput{
		text:     fmt.Sprintf("Sent %s to %s.", res.Command, res.DeviceID),
		result:   res,
		deviceID: res.DeviceID,
	}, nil
}

func formatDiscoveredDevices(devices []domain.Device) string {
	var out strings.Builder
	for i, dev := range devices {
		if i > 0 {
			out.WriteByte('\n')
		}
		fmt.Fprintf(
			&out,
			"%d. id=%s name=%s ip=%s protocol=%s remote=%t cast=%t",
			i+1,
			strings.TrimSpace(dev.ID),
			strings.TrimSpace(dev.Name),
			strings.TrimSpace(dev.IP),
			strings.TrimSpace(dev.Protocol),
			dev.HasLegacyRemote,
			dev.HasCastService,
		)
	}
	return out.String()
}

func targetProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "The TV id, name or IP address. Obtain this by calling 'list_tvs' first; a bare IP also works for TVs that do not answer discovery.",
	}
}

func targetOnlySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"target_device": targetProperty(),
		},
		"required":             []string{"target_device"},
		"additionalProperties": false,
	}
}

func staticTools() []tool {
	return []tool{
		{
			Name:        "list_tvs",
			Description: "Discover LG TVs on the local network, with whether each has the Netcast remote service and a media renderer. Call this first to find 'target_device' ids.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timeout_ms": map[string]any{
						"type":        "integer",
						"minimum":     minDiscoveryTimeoutMS,
						"default":     defaultDiscoveryTimeoutMS,
						"description": "Discovery timeout in milliseconds.",
					},
					"include_unreachable": map[string]any{
						"type":        "boolean",
						"default":     false,
						"description": "Include renderers that fail the reachability check.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        "pair_tv",
			Description: "Pair with a TV's Netcast remote. Call without 'pin' to show a PIN on the TV, then call again with the PIN. The session is remembered across restarts.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetProperty(),
					"pin": map[string]any{
						"type":        "string",
						"description": "The PIN shown on the TV screen.",
					},
				},
				"required":             []string{"target_device"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "send_key",
			Description: "Press a remote control key, such as home, ok, back, volume_up or a digit.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetProperty(),
					"key": map[string]any{
						"type":        "string",
						"description": "Key name, e.g. power, home, up, down, left, right, ok, back, volume_up, mute, play, pause, 0-9.",
					},
				},
				"required":             []string{"target_device", "key"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "pointer",
			Description: "Drive the on-screen pointer: move by a relative offset, click, scroll, or show and hide the cursor.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetProperty(),
					"action": map[string]any{
						"type": "string",
						"enum": []string{"move", "click", "scroll", "show", "hide"},
					},
					"dx":        map[string]any{"type": "number", "description": "Horizontal offset for move."},
					"dy":        map[string]any{"type": "number", "description": "Vertical offset for move."},
					"direction": map[string]any{"type": "string", "enum": []string{"up", "down"}},
				},
				"required":             []string{"target_device", "action"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "launch_app",
			Description: "Launch an app through DIAL, falling back to the Netcast remote. For YouTube, 'content_id' may be a watch URL or a video id to play.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetProperty(),
					"app": map[string]any{
						"type":        "string",
						"description": "App name, e.g. YouTube or Netflix.",
					},
					"content_id": map[string]any{
						"type":        "string",
						"description": "YouTube URL or 11 character video id.",
					},
				},
				"required":             []string{"target_device", "app"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "stop_app",
			Description: "Stop the YouTube app instance started by launch_app.",
			InputSchema: targetOnlySchema(),
		},
		{
			Name:        "list_apps",
			Description: "List the app ids installed on the TV, as reported by its Netcast app list. These ids work as 'app' in launch_app.",
			InputSchema: targetOnlySchema(),
		},
		{
			Name:        "cast_media",
			Description: "Cast one video or image to the TV's media renderer. Cancels any running playlist on that TV.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetProperty(),
					"source": map[string]any{
						"type":        "string",
						"description": "Absolute local file path or HTTP/HTTPS URL.",
					},
					"audio_source": map[string]any{
						"type":        "string",
						"description": "Separate audio stream to merge with a video-only source. Requires ffmpeg.",
					},
					"title": map[string]any{"type": "string"},
					"media_type": map[string]any{
						"type":    "string",
						"enum":    []string{mediaTypeVideo, mediaTypeImage},
						"default": mediaTypeVideo,
					},
				},
				"required":             []string{"target_device", "source"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "start_playlist",
			Description: "Play a list of images (5s each as a slideshow, 10s as an album) or videos (each until it ends) on the TV. Replaces a running playlist of the same kind.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"target_device": targetProperty(),
					"kind": map[string]any{
						"type": "string",
						"enum": []string{string(domain.RunImages), string(domain.RunVideos)},
					},
					"mode": map[string]any{
						"type":    "string",
						"enum":    []string{string(domain.ImageModeSlideshow), string(domain.ImageModeAlbum)},
						"default": string(domain.ImageModeSlideshow),
					},
					"items": map[string]any{
						"type":     "array",
						"minItems": 1,
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"content_ref":   map[string]any{"type": "string"},
								"display_title": map[string]any{"type": "string"},
							},
							"required":             []string{"content_ref"},
							"additionalProperties": false,
						},
					},
				},
				"required":             []string{"target_device", "kind", "items"},
				"additionalProperties": false,
			},
		},
		{
			Name:        "stop_playback",
			Description: "Cancel running playlists and stop whatever is casting on the TV.",
			InputSchema: targetOnlySchema(),
		},
		{
			Name:        "playback_status",
			Description: "Report pairing, cast session and playlist state for a TV.",
			InputSchema: targetOnlySchema(),
		},
	}
}
