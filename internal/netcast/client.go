package netcast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go2tv.app/lgremote/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultPort           = 8080
	DefaultCommandTimeout = 1500 * time.Millisecond
	DefaultAppTimeout     = 5 * time.Second

	defaultMoveRate  = rate.Limit(30)
	defaultMoveBurst = 5
	maxResponseBytes = 1 << 20

	pathAuth    = "/roap/api/auth"
	pathCommand = "/roap/api/command"
	pathEvent   = "/roap/api/event"
	pathAppList = "/roap/api/data?target=applist"

	contentTypeXML = "application/atom+xml"
)

// SessionListener is notified when the pairing session changes. Callbacks run
// on the goroutine that issued the request, outside the client's lock.
type SessionListener interface {
	SessionAcquired(deviceIP, sessionID string)
	SessionInvalidated(deviceIP string)
}

// StatusError reports an unexpected HTTP status from the TV.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("netcast %s: unexpected status %d", e.Op, e.Status)
}

type Options struct {
	Port           int
	SessionID      string
	Listener       SessionListener
	HTTPClient     *http.Client
	CommandTimeout time.Duration
	AppTimeout     time.Duration
	MoveRate       rate.Limit
	MoveBurst      int
	Logger         *slog.Logger
}

// Client speaks the Netcast ROAP protocol to one TV. It is safe for
// concurrent use; every call is an independent request with its own timeout
// and nothing is retried.
type Client struct {
	ip             string
	baseURL        string
	httpClient     *http.Client
	commandTimeout time.Duration
	appTimeout     time.Duration
	moveLimiter    *rate.Limiter
	logger         *slog.Logger

	mu        sync.Mutex
	sessionID string
	listener  SessionListener
}

func New(deviceIP string, opts Options) *Client {
	port := opts.Port
	if port <= 0 {
		port = DefaultPort
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	commandTimeout := opts.CommandTimeout
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}
	appTimeout := opts.AppTimeout
	if appTimeout <= 0 {
		appTimeout = DefaultAppTimeout
	}
	moveRate := opts.MoveRate
	if moveRate <= 0 {
		moveRate = defaultMoveRate
	}
	moveBurst := opts.MoveBurst
	if moveBurst <= 0 {
		moveBurst = defaultMoveBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		ip:             deviceIP,
		baseURL:        "http://" + net.JoinHostPort(deviceIP, strconv.Itoa(port)),
		httpClient:     httpClient,
		commandTimeout: commandTimeout,
		appTimeout:     appTimeout,
		moveLimiter:    rate.NewLimiter(moveRate, moveBurst),
		logger:         logger.With(slog.String("device_ip", deviceIP)),
		sessionID:      strings.TrimSpace(opts.SessionID),
		listener:       opts.Listener,
	}
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) Paired() bool {
	return c.SessionID() != ""
}

// RequestPairingKey asks the TV to show its pairing PIN.
func (c *Client) RequestPairingKey(ctx context.Context) bool {
	const op = "request_pairing_key"
	status, _, err := c.post(ctx, op, pathAuth, authRequest{Type: "AuthKeyReq"}, c.commandTimeout, false)
	return c.finish(op, status, err)
}

// CompletePairing exchanges the PIN shown on screen for a session id.
func (c *Client) CompletePairing(ctx context.Context, pin string) bool {
	const op = "complete_pairing"
	pin = strings.TrimSpace(pin)
	if pin == "" {
		c.record(op, "invalid_pin", 0, nil)
		return false
	}

	status, body, err := c.post(ctx, op, pathAuth, authRequest{Type: "AuthReq", Value: pin}, c.commandTimeout, false)
	if !c.finish(op, status, err) {
		return false
	}

	sessionID, ok := firstElementText(body, "session")
	if !ok {
		c.logger.Warn("netcast_pairing_without_session", slog.Int("bytes", len(body)))
		return false
	}

	c.mu.Lock()
	c.sessionID = sessionID
	listener := c.listener
	c.mu.Unlock()

	c.logger.Info("netcast_paired")
	if listener != nil {
		listener.SessionAcquired(c.ip, sessionID)
	}
	return true
}

func (c *Client) SendKey(ctx context.Context, code KeyCode) bool {
	return c.sessionCommand(ctx, "send_key", commandRequest{
		Type:  "HandleKeyInput",
		Value: strconv.Itoa(int(code)),
	}, false)
}

// SetCursorVisible toggles the pointer overlay. It does not need a session.
func (c *Client) SetCursorVisible(ctx context.Context, visible bool) bool {
	const op = "cursor_visible"
	status, _, err := c.post(ctx, op, pathEvent, eventRequest{
		Name:  "CursorVisible",
		Value: strconv.FormatBool(visible),
		Mode:  "auto",
	}, c.commandTimeout, false)
	return c.finish(op, status, err)
}

// MoveMouse sends a pointer displacement. Results are only logged. Calls are
// throttled so drag gestures queue behind the limiter instead of flooding
// the TV.
func (c *Client) MoveMouse(ctx context.Context, dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	if !c.Paired() {
		c.record("move_mouse", "no_session", 0, nil)
		return
	}
	if err := c.moveLimiter.Wait(ctx); err != nil {
		return
	}

	x, y := int(dx), int(dy)
	c.sessionCommand(ctx, "move_mouse", commandRequest{
		Type: "HandleTouchMove",
		X:    &x,
		Y:    &y,
	}, true)
}

func (c *Client) SendMouseClick(ctx context.Context) bool {
	return c.sessionCommand(ctx, "mouse_click", commandRequest{Type: "HandleTouchClick"}, false)
}

func (c *Client) SendWheel(ctx context.Context, direction WheelDirection) bool {
	if !direction.Valid() {
		c.record("wheel", "invalid_direction", 0, nil)
		return false
	}
	return c.sessionCommand(ctx, "wheel", commandRequest{
		Type:  "HandleTouchWheel",
		Value: string(direction),
	}, false)
}

// ExecuteApp launches an app by its Netcast id. Older firmware expects the
// command name in <name>, newer in <type>; both are tried. A launch counts
// only when the TV answers 200 with a body carrying the 200 ROAP code.
func (c *Client) ExecuteApp(ctx context.Context, appID string) bool {
	const op = "app_execute"
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return false
	}

	forms := []commandRequest{
		{Name: "AppExecute", AUID: appID},
		{Type: "AppExecute", AUID: appID},
	}
	for _, form := range forms {
		status, body, err := c.post(ctx, op, pathCommand, form, c.appTimeout, false)
		if err == nil && status == http.StatusOK && bytes.Contains(body, []byte("200")) {
			c.record(op, "ok", status, nil)
			c.logger.Info("netcast_app_executed", slog.String("app_id", appID))
			return true
		}
		c.record(op, outcomeFor(status, err), status, err)
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

// InstalledApps returns the app ids reported by the TV's app list.
func (c *Client) InstalledApps(ctx context.Context) ([]string, error) {
	const op = "installed_apps"
	status, body, err := c.do(ctx, op, http.MethodGet, pathAppList, nil, c.appTimeout, false)
	if err != nil {
		c.record(op, "transport_error", 0, err)
		return nil, err
	}
	if status != http.StatusOK {
		c.record(op, outcomeFor(status, nil), status, nil)
		return nil, &StatusError{Op: op, Status: status}
	}
	c.record(op, "ok", status, nil)
	return elementTexts(body, "auid", 0), nil
}

func (c *Client) sessionCommand(ctx context.Context, op string, cmd commandRequest, keepAlive bool) bool {
	sessionID := c.SessionID()
	if sessionID == "" {
		c.record(op, "no_session", 0, nil)
		return false
	}
	cmd.Session = sessionID

	status, _, err := c.post(ctx, op, pathCommand, cmd, c.commandTimeout, keepAlive)
	if err == nil && status == http.StatusUnauthorized {
		c.invalidate(sessionID)
	}
	return c.finish(op, status, err)
}

// invalidate clears the session only if it still holds the id the rejected
// request carried, so concurrent 401s for one session notify the listener once.
func (c *Client) invalidate(sessionID string) {
	c.mu.Lock()
	if sessionID == "" || c.sessionID != sessionID {
		c.mu.Unlock()
		return
	}
	c.sessionID = ""
	listener := c.listener
	c.mu.Unlock()

	metrics.SessionInvalidations.Inc()
	c.logger.Warn("netcast_session_invalidated")
	if listener != nil {
		listener.SessionInvalidated(c.ip)
	}
}

func (c *Client) post(ctx context.Context, op, path string, payload any, timeout time.Duration, keepAlive bool) (int, []byte, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("netcast %s: encode: %w", op, err)
	}
	return c.do(ctx, op, http.MethodPost, path, body, timeout, keepAlive)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, timeout time.Duration, keepAlive bool) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("netcast %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentTypeXML)
	}
	if keepAlive {
		req.Header.Set("Connection", "Keep-Alive")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("netcast %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("netcast %s: read body: %w", op, err)
	}
	return resp.StatusCode, data, nil
}

func (c *Client) finish(op string, status int, err error) bool {
	outcome := outcomeFor(status, err)
	c.record(op, outcome, status, err)
	return outcome == "ok"
}

func (c *Client) record(op, outcome string, status int, err error) {
	metrics.NetcastRequests.WithLabelValues(op, outcome).Inc()

	attrs := []any{
		slog.String("op", op),
		slog.String("outcome", outcome),
	}
	if status != 0 {
		attrs = append(attrs, slog.Int("status", status))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level := slog.LevelDebug
	if outcome != "ok" {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "netcast_command", attrs...)
}

func outcomeFor(status int, err error) string {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return "cancelled"
	case err != nil:
		return "transport_error"
	case status == http.StatusOK:
		return "ok"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	default:
		return "failed"
	}
}
