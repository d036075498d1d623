package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go2tv.app/lgremote/internal/domain"
)

type fakeTVLister struct {
	timeoutMS          int
	includeUnreachable bool
	devices            []domain.Device
	err                error
}

func (f *fakeTVLister) ListTVs(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	f.timeoutMS = timeoutMS
	f.includeUnreachable = includeUnreachable
	return f.devices, f.err
}

type fakeTVController struct {
	pairReq     domain.PairRequest
	keyReq      domain.KeyRequest
	pointerReq  domain.PointerRequest
	appReq      domain.AppRequest
	castReq     domain.CastRequest
	playlistReq domain.PlaylistRequest
	targetReq   domain.TargetRequest
	err         error
}

func (f *fakeTVController) PairTV(ctx context.Context, req domain.PairRequest) (*domain.PairResult, error) {
	f.pairReq = req
	if f.err != nil {
		return nil, f.err
	}
	status := "pin_requested"
	if req.PIN != "" {
		status = "paired"
	}
	return &domain.PairResult{DeviceID: req.TargetDevice, Status: status}, nil
}

func (f *fakeTVController) SendKey(ctx context.Context, req domain.KeyRequest) (*domain.CommandResult, error) {
	f.keyReq = req
	return f.command(req.TargetDevice, "key:"+req.Key)
}

func (f *fakeTVController) Pointer(ctx context.Context, req domain.PointerRequest) (*domain.CommandResult, error) {
	f.pointerReq = req
	return f.command(req.TargetDevice, "pointer:"+req.Action)
}

func (f *fakeTVController) LaunchApp(ctx context.Context, req domain.AppRequest) (*domain.AppResult, error) {
	f.appReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.AppResult{DeviceID: req.TargetDevice, App: req.App, OK: true}, nil
}

func (f *fakeTVController) StopApp(ctx context.Context, req domain.TargetRequest) (*domain.CommandResult, error) {
	f.targetReq = req
	return f.command(req.TargetDevice, "stop_app")
}

func (f *fakeTVController) ListApps(ctx context.Context, req domain.TargetRequest) (*domain.AppList, error) {
	f.targetReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.AppList{DeviceID: req.TargetDevice, Apps: []string{"netflix", "youtube.leanback.v4"}}, nil
}

func (f *fakeTVController) CastMedia(ctx context.Context, req domain.CastRequest) (*domain.CastResult, error) {
	f.castReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CastResult{DeviceID: req.TargetDevice, MediaURL: req.Source, State: domain.Playing}, nil
}

func (f *fakeTVController) StartPlaylist(ctx context.Context, req domain.PlaylistRequest) (*domain.RunSnapshot, error) {
	f.playlistReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RunSnapshot{ID: "run_1", Kind: req.Kind, Status: domain.RunRunning, Total: len(req.Items)}, nil
}

func (f *fakeTVController) StopPlayback(ctx context.Context, req domain.TargetRequest) (*domain.CommandResult, error) {
	f.targetReq = req
	return f.command(req.TargetDevice, "stop_playback")
}

func (f *fakeTVController) PlaybackStatus(ctx context.Context, req domain.TargetRequest) (*domain.PlaybackStatus, error) {
	f.targetReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.PlaybackStatus{DeviceID: req.TargetDevice, Session: domain.Idle, Playlist: domain.Idle}, nil
}

func (f *fakeTVController) command(target, command string) (*domain.CommandResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CommandResult{DeviceID: target, Command: command, OK: true}, nil
}

// callTool runs a single tools/call through the server and returns its response.
func callTool(t *testing.T, cfg Config, name string, args map[string]any) map[string]any {
	t.Helper()
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)

	writeRequest(t, input, map[string]any{
		"jsonrpc": "2.0",
		"id":      9,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})

	srv := New(input, output, cfg)
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	responses := readResponses(t, output.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	return responses[0]
}

func requireInvalidParams(t *testing.T, resp map[string]any) {
	t.Helper()
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected invalid params error, got %#v", resp)
	}
	if errObj["code"].(float64) != -32602 {
		t.Fatalf("expected -32602, got %v", errObj["code"])
	}
}

func structuredOf(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	if resp["error"] != nil {
		t.Fatalf("expected successful tools/call, got error: %#v", resp["error"])
	}
	result := resp["result"].(map[string]any)
	if isErr, _ := result["isError"].(bool); isErr {
		t.Fatalf("expected tool success, got %#v", result["structuredContent"])
	}
	return result["structuredContent"].(map[string]any)
}

func TestInitializeAndToolsList(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)

	writeRequest(t, input, map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]any{},
	})
	writeRequest(t, input, map[string]any{
		"jsonrpc": "2.0",
		"id":      2,
		"method":  "tools/list",
	})

	srv := New(input, output, Config{ServerName: "lgremote", ServerVersion: "1.0.0-test"})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	responses := readResponses(t, output.Bytes())
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}

	if responses[0]["id"].(float64) != 1 {
		t.Fatalf("initialize response id mismatch: %#v", responses[0]["id"])
	}

	initResult := responses[0]["result"].(map[string]any)
	if initResult["protocolVersion"].(string) == "" {
		t.Fatal("protocolVersion must not be empty")
	}

	if responses[1]["id"].(float64) != 2 {
		t.Fatalf("tools/list response id mismatch: %#v", responses[1]["id"])
	}

	toolResult := responses[1]["result"].(map[string]any)
	tools := toolResult["tools"].([]any)
	if len(tools) != 11 {
		t.Fatalf("expected 11 tools, got %d", len(tools))
	}
	for _, raw := range tools {
		name := raw.(map[string]any)["name"].(string)
		if _, ok := srv.handlers[name]; !ok {
			t.Fatalf("tool %s has no handler", name)
		}
	}
}

func TestInitializeJSONLineRequest(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)

	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params":  map[string]any{},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := input.Write(append(payload, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	srv := New(input, output, Config{ServerName: "lgremote", ServerVersion: "1.0.0-test"})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 response line, got %d", len(lines))
	}

	resp := map[string]any{}
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["id"].(float64) != 1 {
		t.Fatalf("initialize response id mismatch: %#v", resp["id"])
	}
}

func TestUnknownMethod(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)

	writeRequest(t, input, map[string]any{
		"jsonrpc": "2.0",
		"id":      "abc",
		"method":  "does/not/exist",
	})

	srv := New(input, output, Config{})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	responses := readResponses(t, output.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}

	errObj := responses[0]["error"].(map[string]any)
	if errObj["code"].(float64) != -32601 {
		t.Fatalf("expected -32601, got %v", errObj["code"])
	}
}

func TestInvalidRequestJSONRPCVersion(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)

	writeRequest(t, input, map[string]any{
		"jsonrpc": "1.0",
		"id":      "badver",
		"method":  "tools/list",
	})

	srv := New(input, output, Config{})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	responses := readResponses(t, output.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}

	errObj := responses[0]["error"].(map[string]any)
	if errObj["code"].(float64) != -32600 {
		t.Fatalf("expected -32600, got %v", errObj["code"])
	}
}

func TestToolsCallListTVs(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)
	lister := &fakeTVLister{
		devices: []domain.Device{
			{ID: "dev_a", Name: "Bedroom TV", Protocol: "dlna"},
			{ID: "dev_b", Name: "Living Room TV", Protocol: "chromecast"},
		},
	}

	writeRequest(t, input, map[string]any{
		"jsonrpc": "2.0",
		"id":      3,
		"method":  "tools/call",
		"params": map[string]any{
			"name": "list_tvs",
			"arguments": map[string]any{
				"timeout_ms":          3000,
				"include_unreachable": true,
			},
		},
	})

	srv := New(input, output, Config{Lister: lister})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	responses := readResponses(t, output.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}

	if responses[0]["id"].(float64) != 3 {
		t.Fatalf("tools/call response id mismatch: %#v", responses[0]["id"])
	}

	result := responses[0]["result"].(map[string]any)
	structured := result["structuredContent"].(map[string]any)
	devices := structured["devices"].([]any)
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if lister.timeoutMS != 3000 {
		t.Fatalf("expected timeout 3000, got %d", lister.timeoutMS)
	}
	if !lister.includeUnreachable {
		t.Fatal("expected include_unreachable=true to be forwarded")
	}
}

func TestToolsCallListTVsClientFixtureMatrix(t *testing.T) {
	type fixture struct {
		Name    string         `json:"name"`
		Request map[string]any `json:"request"`
		Expect  struct {
			TimeoutMS          int  `json:"timeout_ms"`
			IncludeUnreachable bool `json:"include_unreachable"`
		} `json:"expect"`
	}

	entries, err := os.ReadDir("testdata/client-fixtures")
	if err != nil {
		t.Fatalf("read fixture dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one client fixture")
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join("testdata/client-fixtures", entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read fixture %s: %v", path, err)
		}

		var f fixture
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal fixture %s: %v", path, err)
		}

		t.Run(f.Name, func(t *testing.T) {
			input := bytes.NewBuffer(nil)
			output := bytes.NewBuffer(nil)
			lister := &fakeTVLister{
				devices: []domain.Device{
					{ID: "dev_a", Name: "Living Room TV", Protocol: "chromecast"},
				},
			}

			writeRequest(t, input, f.Request)

			srv := New(input, output, Config{Lister: lister})
			if err := srv.Run(context.Background()); err != nil {
				t.Fatalf("run server: %v", err)
			}

			responses := readResponses(t, output.Bytes())
			if len(responses) != 1 {
				t.Fatalf("expected 1 response, got %d", len(responses))
			}
			if responses[0]["error"] != nil {
				t.Fatalf("expected successful tools/call, got error: %#v", responses[0]["error"])
			}

			if lister.timeoutMS != f.Expect.TimeoutMS {
				t.Fatalf("expected timeout %d, got %d", f.Expect.TimeoutMS, lister.timeoutMS)
			}
			if lister.includeUnreachable != f.Expect.IncludeUnreachable {
				t.Fatalf("expected include_unreachable=%t, got %t", f.Expect.IncludeUnreachable, lister.includeUnreachable)
			}
		})
	}
}

func TestToolsCallListTVsInvalidParams(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)
	lister := &fakeTVLister{}

	writeRequest(t, input, map[string]any{
		"jsonrpc": "2.0",
		"id":      4,
		"method":  "tools/call",
		"params": map[string]any{
			"name": "list_tvs",
			"arguments": map[string]any{
				"timeout_ms": 99,
			},
		},
	})

	srv := New(input, output, Config{Lister: lister})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	responses := readResponses(t, output.Bytes())
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}

	errObj := responses[0]["error"].(map[string]any)
	if errObj["code"].(float64) != -32602 {
		t.Fatalf("expected -32602, got %v", errObj["code"])
	}
}

func TestToolsCallPairTV(t *testing.T) {
	controller := &fakeTVController{}
	resp := callTool(t, Config{Controller: controller}, "pair_tv", map[string]any{
		"target_device": " tv_1 ",
		"pin":           " 123456 ",
	})

	structured := structuredOf(t, resp)
	if structured["status"].(string) != "paired" {
		t.Fatalf("unexpected status: %v", structured["status"])
	}
	if controller.pairReq.TargetDevice != "tv_1" || controller.pairReq.PIN != "123456" {
		t.Fatalf("unexpected pair request: %+v", controller.pairReq)
	}
}

func TestToolsCallSendKeyRequiresKey(t *testing.T) {
	resp := callTool(t, Config{Controller: &fakeTVController{}}, "send_key", map[string]any{
		"target_device": "tv_1",
	})
	requireInvalidParams(t, resp)
}

func TestToolsCallRejectsUnknownArguments(t *testing.T) {
	resp := callTool(t, Config{Controller: &fakeTVController{}}, "stop_playback", map[string]any{
		"target_device": "tv_1",
		"session_id":    "sess_1",
	})
	requireInvalidParams(t, resp)
}

func TestToolsCallRequiresTargetDevice(t *testing.T) {
	for _, name := range []string{"pair_tv", "stop_app", "list_apps", "stop_playback", "playback_status"} {
		resp := callTool(t, Config{Controller: &fakeTVController{}}, name, map[string]any{})
		requireInvalidParams(t, resp)
	}
}

func TestToolsCallPointer(t *testing.T) {
	controller := &fakeTVController{}
	resp := callTool(t, Config{Controller: controller}, "pointer", map[string]any{
		"target_device": "tv_1",
		"action":        "move",
		"dx":            12.5,
		"dy":            -4,
	})

	structured := structuredOf(t, resp)
	if structured["command"].(string) != "pointer:move" {
		t.Fatalf("unexpected command: %v", structured["command"])
	}
	if controller.pointerReq.DX != 12.5 || controller.pointerReq.DY != -4 {
		t.Fatalf("unexpected pointer request: %+v", controller.pointerReq)
	}
}

func TestToolsCallLaunchApp(t *testing.T) {
	controller := &fakeTVController{}
	resp := callTool(t, Config{Controller: controller}, "launch_app", map[string]any{
		"target_device": "tv_1",
		"app":           "YouTube",
		"content_id":    "https://youtu.be/dQw4w9WgXcQ",
	})

	structured := structuredOf(t, resp)
	if !structured["ok"].(bool) {
		t.Fatal("expected ok=true")
	}
	if controller.appReq.ContentID != "https://youtu.be/dQw4w9WgXcQ" {
		t.Fatalf("unexpected content id forwarded: %s", controller.appReq.ContentID)
	}
}

func TestToolsCallListApps(t *testing.T) {
	controller := &fakeTVController{}
	resp := callTool(t, Config{Controller: controller}, "list_apps", map[string]any{"target_device": "tv_1"})

	structured := structuredOf(t, resp)
	apps := structured["apps"].([]any)
	if len(apps) != 2 || apps[0].(string) != "netflix" {
		t.Fatalf("unexpected apps: %v", apps)
	}
	if controller.targetReq.TargetDevice != "tv_1" {
		t.Fatalf("unexpected target: %+v", controller.targetReq)
	}
}

func TestToolsCallCastMediaImage(t *testing.T) {
	controller := &fakeTVController{}
	resp := callTool(t, Config{Controller: controller}, "cast_media", map[string]any{
		"target_device": "tv_1",
		"source":        "/tmp/photo.jpg",
		"media_type":    "IMAGE",
		"title":         "Beach",
	})

	structured := structuredOf(t, resp)
	if structured["media_url"].(string) != "/tmp/photo.jpg" {
		t.Fatalf("unexpected media_url: %v", structured["media_url"])
	}
	if !controller.castReq.Image || controller.castReq.Title != "Beach" {
		t.Fatalf("unexpected cast request: %+v", controller.castReq)
	}
}

func TestToolsCallCastMediaInvalidParams(t *testing.T) {
	cases := []map[string]any{
		{"target_device": "tv_1"},
		{"target_device": "tv_1", "source": "/tmp/a.mp4", "media_type": "audio"},
		{"target_device": "tv_1", "source": "/tmp/a.jpg", "media_type": "image", "audio_source": "/tmp/a.m4a"},
	}
	for _, args := range cases {
		resp := callTool(t, Config{Controller: &fakeTVController{}}, "cast_media", args)
		requireInvalidParams(t, resp)
	}
}

func TestToolsCallStartPlaylist(t *testing.T) {
	controller := &fakeTVController{}
	resp := callTool(t, Config{Controller: controller}, "start_playlist", map[string]any{
		"target_device": "tv_1",
		"kind":          "images",
		"mode":          "album",
		"items": []map[string]any{
			{"content_ref": "/tmp/a.jpg", "display_title": "A"},
			{"content_ref": "/tmp/b.jpg"},
		},
	})

	structured := structuredOf(t, resp)
	if structured["run_id"].(string) != "run_1" || structured["total"].(float64) != 2 {
		t.Fatalf("unexpected run snapshot: %#v", structured)
	}
	if controller.playlistReq.Mode != domain.ImageModeAlbum || controller.playlistReq.Items[0].DisplayTitle != "A" {
		t.Fatalf("unexpected playlist request: %+v", controller.playlistReq)
	}
}

func TestToolsCallStartPlaylistRejectsEmptyItems(t *testing.T) {
	resp := callTool(t, Config{Controller: &fakeTVController{}}, "start_playlist", map[string]any{
		"target_device": "tv_1",
		"kind":          "videos",
		"items":         []map[string]any{{"content_ref": " "}},
	})
	requireInvalidParams(t, resp)
}

func TestToolsCallStructuredLog(t *testing.T) {
	logOutput := bytes.NewBuffer(nil)
	logger := slog.New(slog.NewJSONHandler(logOutput, nil))

	callTool(t, Config{Controller: &fakeTVController{}, Logger: logger}, "start_playlist", map[string]any{
		"target_device": "tv_1",
		"kind":          "videos",
		"items":         []map[string]any{{"content_ref": "https://example.com/a.mp4"}},
	})

	lines := strings.Split(strings.TrimSpace(logOutput.String()), "\n")
	var logEntry map[string]any
	for _, line := range lines {
		candidate := map[string]any{}
		if err := json.Unmarshal([]byte(line), &candidate); err != nil {
			t.Fatalf("unmarshal log line: %v", err)
		}
		if candidate["msg"] == "mcp_call" {
			logEntry = candidate
			break
		}
	}
	if len(logEntry) == 0 {
		t.Fatalf("missing mcp_call log entry; got %d total log line(s)", len(lines))
	}

	if logEntry["level"] != "INFO" {
		t.Fatalf("expected INFO level, got %v", logEntry["level"])
	}
	if logEntry["method"] != "start_playlist" {
		t.Fatalf("unexpected method: %v", logEntry["method"])
	}
	if logEntry["device_id"] != "tv_1" {
		t.Fatalf("unexpected device_id: %v", logEntry["device_id"])
	}
	if logEntry["run_id"] != "run_1" {
		t.Fatalf("unexpected run_id: %v", logEntry["run_id"])
	}
	if _, ok := logEntry["duration_ms"]; !ok {
		t.Fatal("expected duration_ms field")
	}
	if logEntry["error_code"] != "" {
		t.Fatalf("expected empty error_code, got %v", logEntry["error_code"])
	}
}

func TestToolsCallStopPlaybackJSONLine(t *testing.T) {
	input := bytes.NewBuffer(nil)
	output := bytes.NewBuffer(nil)
	controller := &fakeTVController{}

	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      77,
		"method":  "tools/call",
		"params": map[string]any{
			"name": "stop_playback",
			"arguments": map[string]any{
				"target_device": "tv_json",
			},
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := input.Write(append(payload, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	srv := New(input, output, Config{Controller: controller})
	if err := srv.Run(context.Background()); err != nil {
		t.Fatalf("run server: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 response line, got %d", len(lines))
	}
	resp := map[string]any{}
	if err := json.Unmarshal([]byte(lines[0]), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["id"].(float64) != 77 {
		t.Fatalf("tools/call response id mismatch: %#v", resp["id"])
	}
	if controller.targetReq.TargetDevice != "tv_json" {
		t.Fatalf("unexpected target forwarded: %s", controller.targetReq.TargetDevice)
	}
}

func TestToolsCallToolErrorIncludesDetails(t *testing.T) {
	controller := &fakeTVController{
		err: &domain.ToolError{
			Code:    "NO_LEGACY_REMOTE",
			Message: "device has no legacy remote service",
			Limitations: []domain.Limitation{
				{Code: "NO_LEGACY_REMOTE", Message: "port 8080 closed"},
			},
			SuggestedFixes: []string{"enable LG Connect Apps"},
			Details: map[string]any{
				"ip": "192.168.1.40",
			},
		},
	}

	resp := callTool(t, Config{Controller: controller}, "send_key", map[string]any{
		"target_device": "tv_1",
		"key":           "home",
	})

	result := resp["result"].(map[string]any)
	if !result["isError"].(bool) {
		t.Fatal("expected isError=true")
	}
	structured := result["structuredContent"].(map[string]any)
	errObj := structured["error"].(map[string]any)
	if errObj["code"].(string) != "NO_LEGACY_REMOTE" {
		t.Fatalf("unexpected error code: %v", errObj["code"])
	}
	details, ok := errObj["details"].(map[string]any)
	if !ok {
		t.Fatal("expected details object")
	}
	if details["ip"].(string) != "192.168.1.40" {
		t.Fatalf("unexpected ip detail: %v", details["ip"])
	}
	if len(errObj["limitations"].([]any)) != 1 {
		t.Fatalf("unexpected limitations: %v", errObj["limitations"])
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	resp := callTool(t, Config{Controller: &fakeTVController{}}, "set_volume", map[string]any{})

	result := resp["result"].(map[string]any)
	structured := result["structuredContent"].(map[string]any)
	if structured["error"].(map[string]any)["code"].(string) != "TOOL_NOT_FOUND" {
		t.Fatalf("unexpected result: %#v", structured)
	}
}

func TestToolsCallWithoutController(t *testing.T) {
	resp := callTool(t, Config{}, "playback_status", map[string]any{"target_device": "tv_1"})

	result := resp["result"].(map[string]any)
	structured := result["structuredContent"].(map[string]any)
	if structured["error"].(map[string]any)["code"].(string) != "INTERNAL_ERROR" {
		t.Fatalf("unexpected result: %#v", structured)
	}
}

func TestDecodeStrictRejectsTrailingJSON(t *testing.T) {
	var payload struct {
		Value string `json:"value"`
	}

	err := decodeStrict(json.RawMessage(`{"value":"ok"}{"value":"extra"}`), &payload)
	if err == nil {
		t.Fatal("expected error for trailing JSON payload")
	}
}

func writeRequest(t *testing.T, w io.Writer, req map[string]any) {
	t.Helper()

	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	if _, err := w.Write([]byte("Content-Length: ")); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := w.Write([]byte(strconv.Itoa(len(payload)))); err != nil {
		t.Fatalf("write length: %v", err)
	}
	if _, err := w.Write([]byte("\r\n\r\n")); err != nil {
		t.Fatalf("write separator: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("write payload: %v", err)
	}
}

func readResponses(t *testing.T, output []byte) []map[string]any {
	t.Helper()

	reader := bufio.NewReader(bytes.NewReader(output))
	var responses []map[string]any
	for {
		msg, _, err := readMessage(reader)
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("read response: %v", err)
		}

		resp := map[string]any{}
		if err := json.Unmarshal(msg, &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		responses = append(responses, resp)
	}

	return responses
}
