package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go2tv.app/lgremote/internal/domain"
)

const protocolVersion = "2024-11-05"

type TVLister interface {
	ListTVs(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

// TVController is the remote, launcher and casting surface of one or more
// TVs. Failures should be *domain.ToolError values.
type TVController interface {
	PairTV(ctx context.Context, req domain.PairRequest) (*domain.PairResult, error)
	SendKey(ctx context.Context, req domain.KeyRequest) (*domain.CommandResult, error)
	Pointer(ctx context.Context, req domain.PointerRequest) (*domain.CommandResult, error)
	LaunchApp(ctx context.Context, req domain.AppRequest) (*domain.AppResult, error)
	StopApp(ctx context.Context, req domain.TargetRequest) (*domain.CommandResult, error)
	ListApps(ctx context.Context, req domain.TargetRequest) (*domain.AppList, error)
	CastMedia(ctx context.Context, req domain.CastRequest) (*domain.CastResult, error)
	StartPlaylist(ctx context.Context, req domain.PlaylistRequest) (*domain.RunSnapshot, error)
	StopPlayback(ctx context.Context, req domain.TargetRequest) (*domain.CommandResult, error)
	PlaybackStatus(ctx context.Context, req domain.TargetRequest) (*domain.PlaybackStatus, error)
}

type Server struct {
	in                *bufio.Reader
	out               *bufio.Writer
	serverName        string
	serverVersion     string
	logger            *slog.Logger
	useJSONLineOutput bool
	outputModeLocked  bool
	tools             []tool
	handlers          map[string]toolHandler
	lister            TVLister
	controller        TVController
}

type Config struct {
	ServerName    string
	ServerVersion string
	Logger        *slog.Logger
	Lister        TVLister
	Controller    TVController
}

func New(in io.Reader, out io.Writer, cfg Config) *Server {
	if cfg.ServerName == "" {
		cfg.ServerName = "lgremote"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}

	s := &Server{
		in:            bufio.NewReader(in),
		out:           bufio.NewWriter(out),
		serverName:    cfg.ServerName,
		serverVersion: cfg.ServerVersion,
		logger:        cfg.Logger,
		tools:         staticTools(),
		lister:        cfg.Lister,
		controller:    cfg.Controller,
	}
	s.handlers = s.toolHandlers()
	return s
}

func (s *Server) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.logLifecycle(slog.LevelInfo, "mcp_context_done", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		default:
		}

		s.logLifecycle(slog.LevelDebug, "mcp_read_wait")
		payload, jsonLineInput, err := readMessage(s.in)
		if err != nil {
			if err == io.EOF {
				s.logLifecycle(slog.LevelInfo, "mcp_stream_eof")
				return nil
			}
			s.logLifecycle(slog.LevelError, "mcp_read_error", slog.String("error", err.Error()))
			return err
		}
		if !s.outputModeLocked {
			s.useJSONLineOutput = jsonLineInput
			s.outputModeLocked = true
			s.logLifecycle(
				slog.LevelDebug,
				"mcp_output_mode",
				slog.String("mode", map[bool]string{true: "jsonline", false: "framed"}[jsonLineInput]),
			)
		}
		s.logLifecycle(slog.LevelDebug, "mcp_message_received", slog.Int("bytes", len(payload)))

		if err := s.handle(ctx, payload); err != nil {
			s.logLifecycle(slog.LevelError, "mcp_handle_error", slog.String("error", err.Error()))
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) error {
	startedAt := time.Now()

	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logCall("parse", "", "", startedAt, strconv.Itoa(codeParseError))
		return s.send(response{
			JSONRPC: "2.0",
			Error: &responseError{
				Code:    codeParseError,
				Message: "parse error",
			},
		})
	}

	if len(req.ID) == 0 {
		return nil
	}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		s.logCall(req.Method, "", "", startedAt, strconv.Itoa(codeInvalidRequest))
		return s.send(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &responseError{
				Code:    codeInvalidRequest,
				Message: "invalid request",
			},
		})
	}

	switch req.Method {
	case "initialize":
		s.logCall("initialize", "", "", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{
					"listChanged": false,
				},
			},
			ServerInfo: map[string]string{
				"name":    s.serverName,
				"version": s.serverVersion,
			},
			Instructions: "Call list_tvs first, then pair_tv before sending keys or pointer input.",
		}})
	case "tools/list":
		s.logCall("tools/list", "", "", startedAt, "")
		return s.send(response{JSONRPC: "2.0", ID: req.ID, Result: toolsListResult{Tools: s.tools}})
	case "tools/call":
		return s.handleToolCall(ctx, req.ID, req.Params)
	default:
		s.logCall(req.Method, "", "", startedAt, strconv.Itoa(codeMethodNotFound))
		return s.send(response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &responseError{
				Code:    codeMethodNotFound,
				Message: "method not found",
			},
		})
	}
}

func (s *Server) handleToolCall(ctx context.Context, id json.RawMessage, rawParams json.RawMessage) error {
	startedAt := time.Now()

	params, err := decodeToolCallParams(rawParams)
	if err != nil {
		return s.sendInvalidParams("tools/call", "", "", startedAt, id)
	}

	handler, ok := s.handlers[params.Name]
	if !ok {
		s.logCall(params.Name, "", "", startedAt, "TOOL_NOT_FOUND")
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result: toolErrorResult(
				"TOOL_NOT_FOUND",
				fmt.Sprintf("unknown tool: %s", params.Name),
			),
		})
	}

	out, err := handler(ctx, params.Arguments)
	switch {
	case errors.Is(err, errInvalidParams):
		return s.sendInvalidParams(params.Name, out.deviceID, "", startedAt, id)
	case errors.Is(err, errNotConfigured):
		return s.sendToolInternalError(params.Name, "", "", startedAt, id, "tv controller is not configured")
	case err != nil:
		s.logCall(params.Name, out.deviceID, "", startedAt, toolErrorCode(err))
		return s.send(response{
			JSONRPC: "2.0",
			ID:      id,
			Result:  toolErrorResultFromError(err),
		})
	}
	s.logCall(params.Name, out.deviceID, out.runID, startedAt, "")

	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result: toolCallResult{
			Content: []toolContent{
				{
					Type: "text",
					Text: out.text,
				},
			},
			StructuredContent: out.result,
		},
	})
}

func decodeToolCallParams(raw json.RawMessage) (toolsCallParams, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return toolsCallParams{}, err
	}

	nameRaw, ok := payload["name"]
	if !ok {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return toolsCallParams{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return toolsCallParams{}, fmt.Errorf("missing tool name")
	}

	arguments, ok := payload["arguments"]
	if !ok {
		flattened := map[string]json.RawMessage{}
		for key, value := range payload {
			if key == "name" || key == "_meta" {
				continue
			}
			flattened[key] = value
		}
		if len(flattened) > 0 {
			normalized, err := json.Marshal(flattened)
			if err != nil {
				return toolsCallParams{}, err
			}
			arguments = normalized
		}
	}

	if len(bytes.TrimSpace(arguments)) == 0 {
		arguments = json.RawMessage("{}")
	}

	return toolsCallParams{
		Name:      name,
		Arguments: arguments,
	}, nil
}

func decodeStrict(raw json.RawMessage, out any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON payload")
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		return fmt.Errorf("invalid JSON payload")
	}
	return nil
}

func (s *Server) sendInvalidParams(method, deviceID, runID string, startedAt time.Time, id json.RawMessage) error {
	s.logCall(method, deviceID, runID, startedAt, strconv.Itoa(codeInvalidParams))
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &responseError{
			Code:    codeInvalidParams,
			Message: "invalid params",
		},
	})
}

func (s *Server) sendToolInternalError(method, deviceID, runID string, startedAt time.Time, id json.RawMessage, message string) error {
	s.logCall(method, deviceID, runID, startedAt, "INTERNAL_ERROR")
	return s.send(response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  toolErrorResult("INTERNAL_ERROR", message),
	})
}

func toolErrorResult(code, message string) toolCallResult {
	return toolCallResult{
		Content: []toolContent{
			{
				Type: "text",
				Text: fmt.Sprintf("%s: %s", code, message),
			},
		},
		StructuredContent: map[string]any{
			"error": map[string]string{
				"code":    code,
				"message": message,
			},
		},
		IsError: true,
	}
}

func toolErrorResultFromError(err error) toolCallResult {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil {
		result := toolErrorResult(tErr.Code, tErr.Message)
		structured := map[string]any{
			"error": map[string]any{
				"code":    tErr.Code,
				"message": tErr.Message,
			},
		}
		if len(tErr.Limitations) > 0 {
			structured["error"].(map[string]any)["limitations"] = tErr.Limitations
		}
		if len(tErr.SuggestedFixes) > 0 {
			structured["error"].(map[string]any)["suggested_fixes"] = tErr.SuggestedFixes
		}
		if len(tErr.Details) > 0 {
			structured["error"].(map[string]any)["details"] = tErr.Details
		}
		result.StructuredContent = structured
		return result
	}

	return toolErrorResult("INTERNAL_ERROR", err.Error())
}

func toolErrorCode(err error) string {
	var tErr *domain.ToolError
	if errors.As(err, &tErr) && tErr != nil && strings.TrimSpace(tErr.Code) != "" {
		return tErr.Code
	}
	return "INTERNAL_ERROR"
}

func (s *Server) logCall(method, deviceID, runID string, startedAt time.Time, errorCode string) {
	if s == nil || s.logger == nil {
		return
	}
	level := slog.LevelInfo
	if strings.TrimSpace(errorCode) != "" {
		level = slog.LevelError
	}

	s.logger.Log(
		context.Background(),
		level,
		"mcp_call",
		slog.String("method", strings.TrimSpace(method)),
		slog.String("device_id", strings.TrimSpace(deviceID)),
		slog.String("run_id", strings.TrimSpace(runID)),
		slog.Int64("duration_ms", time.Since(startedAt).Milliseconds()),
		slog.String("error_code", strings.TrimSpace(errorCode)),
	)
}

func (s *Server) send(resp response) error {
	encoded, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	s.logLifecycle(slog.LevelDebug, "mcp_send", slog.Int("bytes", len(encoded)))
	return writeMessage(s.out, encoded, s.useJSONLineOutput)
}

func (s *Server) logLifecycle(level slog.Level, msg string, attrs ...any) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Log(context.Background(), level, msg, attrs...)
}
