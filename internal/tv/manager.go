package tv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"go2tv.app/lgremote/internal/adapters"
	"go2tv.app/lgremote/internal/cast"
	"go2tv.app/lgremote/internal/dial"
	"go2tv.app/lgremote/internal/discovery"
	"go2tv.app/lgremote/internal/domain"
	"go2tv.app/lgremote/internal/netcast"
	"go2tv.app/lgremote/internal/sequencer"
)

const (
	defaultDiscoveryTimeoutMS  = 2500
	fallbackDiscoveryTimeoutMS = 12000

	statusTimeout = 3 * time.Second
)

var deviceForIP = discovery.DeviceForIP

type deviceLister interface {
	ListTVs(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

type Dependencies struct {
	Discovery     deviceLister
	CastFactory   adapters.CastFactory
	DLNAFactory   adapters.DLNAFactory
	ServerFactory adapters.StreamServerFactory
	ListenAddress func(deviceAddress string) (string, error)
	Store         SessionStore
}

type MediaSettings struct {
	CacheDir        string
	StageRemote     bool
	DownloadRetries int
	MaxServers      int
}

// Settings carries per-component options. Loggers inside are replaced by
// the manager's.
type Settings struct {
	Netcast            netcast.Options
	DIAL               dial.Options
	Cast               cast.Options
	Retry              cast.RetryPolicy
	Sequencer          sequencer.Timings
	Media              MediaSettings
	DiscoveryTimeoutMS int
}

// Manager hands out one Connection per TV and maps component failures to
// tool errors.
type Manager struct {
	discovery deviceLister
	deps      connectionDeps
	settings  Settings
	logger    *slog.Logger

	mu          sync.Mutex
	connections map[string]*Connection
	closed      bool

	closeOnce sync.Once
}

func NewManager(deps Dependencies, settings Settings, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		discovery: deps.Discovery,
		deps: connectionDeps{
			castFactory:   deps.CastFactory,
			dlnaFactory:   deps.DLNAFactory,
			serverFactory: deps.ServerFactory,
			listenAddress: deps.ListenAddress,
			store:         deps.Store,
		},
		settings:    settings,
		logger:      logger,
		connections: map[string]*Connection{},
	}
}

func (m *Manager) ListTVs(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if m.discovery == nil {
		return nil, toolError("INTERNAL_ERROR", "discovery is not configured")
	}
	if timeoutMS <= 0 {
		timeoutMS = m.discoveryTimeout()
	}
	devs, err := m.discovery.ListTVs(ctx, timeoutMS, includeUnreachable)
	if err != nil {
		return nil, toolError("INTERNAL_ERROR", fmt.Sprintf("device discovery failed: %v", err))
	}
	return devs, nil
}

// PairTV asks the TV to show a PIN when req.PIN is empty, and completes the
// handshake otherwise.
func (m *Manager) PairTV(ctx context.Context, req domain.PairRequest) (*domain.PairResult, error) {
	conn, err := m.connect(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}
	if !conn.device.HasLegacyRemote {
		return nil, noLegacyRemoteError(conn.device)
	}

	result := &domain.PairResult{DeviceID: conn.device.ID, DeviceIP: conn.device.IP}
	pin := strings.TrimSpace(req.PIN)
	if pin == "" {
		if !conn.remote.RequestPairingKey(ctx) {
			return nil, toolError("PAIRING_FAILED", "the TV did not accept the pairing request")
		}
		result.Status = "pin_requested"
		return result, nil
	}

	if !conn.remote.CompletePairing(ctx, pin) {
		return nil, &domain.ToolError{
			Code:           "PAIRING_FAILED",
			Message:        "the TV rejected the PIN",
			SuggestedFixes: []string{"Call pair_tv without a pin to show a new PIN, then retry with it."},
		}
	}
	result.Status = "paired"
	result.SessionID = conn.remote.SessionID()
	return result, nil
}

func (m *Manager) SendKey(ctx context.Context, req domain.KeyRequest) (*domain.CommandResult, error) {
	code, ok := netcast.ParseKey(req.Key)
	if !ok {
		return nil, &domain.ToolError{
			Code:    "INVALID_ARGUMENT",
			Message: fmt.Sprintf("unknown key %q", req.Key),
			Details: map[string]any{"keys": netcast.KeyNames()},
		}
	}
	conn, err := m.remoteConnection(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}
	command := "key:" + strings.ToLower(strings.TrimSpace(req.Key))
	if !conn.remote.SendKey(ctx, code) {
		return nil, conn.commandError(command)
	}
	return &domain.CommandResult{DeviceID: conn.device.ID, Command: command, OK: true}, nil
}

func (m *Manager) Pointer(ctx context.Context, req domain.PointerRequest) (*domain.CommandResult, error) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	var direction netcast.WheelDirection
	switch action {
	case "move", "click", "show", "hide":
	case "scroll":
		direction = netcast.WheelDirection(strings.ToLower(strings.TrimSpace(req.Direction)))
		if !direction.Valid() {
			return nil, toolError("INVALID_ARGUMENT", fmt.Sprintf("invalid scroll direction %q", req.Direction))
		}
	default:
		return nil, toolError("INVALID_ARGUMENT", fmt.Sprintf("invalid pointer action %q", req.Action))
	}

	conn, err := m.remoteConnection(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}

	ok := true
	switch action {
	case "move":
		conn.remote.MoveMouse(ctx, req.DX, req.DY)
	case "click":
		ok = conn.remote.SendMouseClick(ctx)
	case "scroll":
		ok = conn.remote.SendWheel(ctx, direction)
	case "show", "hide":
		ok = conn.remote.SetCursorVisible(ctx, action == "show")
	}
	command := "pointer:" + action
	if !ok {
		return nil, conn.commandError(command)
	}
	return &domain.CommandResult{DeviceID: conn.device.ID, Command: command, OK: true}, nil
}

// LaunchApp starts an app through DIAL with the Netcast fallback. For the
// target app a content id may be a watch URL or a bare video id.
func (m *Manager) LaunchApp(ctx context.Context, req domain.AppRequest) (*domain.AppResult, error) {
	app := strings.TrimSpace(req.App)
	if app == "" {
		return nil, toolError("INVALID_ARGUMENT", "app is required")
	}
	target := strings.EqualFold(app, dial.TargetApp)

	videoID := ""
	if contentID := strings.TrimSpace(req.ContentID); contentID != "" {
		if !target {
			return nil, toolError("INVALID_ARGUMENT", fmt.Sprintf("content_id is only supported for %s", dial.TargetApp))
		}
		id, ok := dial.ExtractVideoID(contentID)
		if !ok {
			return nil, toolError("INVALID_ARGUMENT", fmt.Sprintf("could not extract a video id from %q", contentID))
		}
		videoID = id
	}

	conn, err := m.connect(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}

	conn.launcher.FindPort(ctx, dial.TargetApp)

	var ok bool
	switch {
	case target && videoID != "":
		ok = conn.launcher.PushContent(ctx, videoID)
	case target:
		ok = conn.launcher.LaunchTargetApp(ctx, "")
	default:
		ok = conn.launcher.LaunchApp(ctx, app)
	}
	if !ok {
		if !conn.device.HasLegacyRemote {
			return nil, noLegacyRemoteError(conn.device)
		}
		return nil, conn.commandError("launch:" + app)
	}

	state := conn.launcher.State()
	return &domain.AppResult{
		DeviceID:    conn.device.ID,
		App:         app,
		OK:          true,
		ViaLegacy:   state.ViaLegacy,
		WorkingPort: state.WorkingPort,
		InstanceURL: state.InstanceURL,
	}, nil
}

// ListApps returns the app ids the TV's Netcast app list reports. No
// pairing is needed.
func (m *Manager) ListApps(ctx context.Context, req domain.TargetRequest) (*domain.AppList, error) {
	conn, err := m.connect(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}
	if !conn.device.HasLegacyRemote {
		return nil, noLegacyRemoteError(conn.device)
	}
	apps, err := conn.remote.InstalledApps(ctx)
	if err != nil {
		return nil, toolError("COMMAND_FAILED", fmt.Sprintf("could not read the app list: %v", err))
	}
	if apps == nil {
		apps = []string{}
	}
	return &domain.AppList{DeviceID: conn.device.ID, Apps: apps}, nil
}

func (m *Manager) StopApp(ctx context.Context, req domain.TargetRequest) (*domain.CommandResult, error) {
	conn, err := m.connect(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}
	if !conn.launcher.StopTargetApp(ctx) {
		return nil, toolError("COMMAND_FAILED", fmt.Sprintf("%s refused to stop", dial.TargetApp))
	}
	return &domain.CommandResult{DeviceID: conn.device.ID, Command: "stop_app", OK: true}, nil
}

// CastMedia plays one item. Any playlist run on the device is cancelled
// first; resolution failures are reported rather than skipped.
func (m *Manager) CastMedia(ctx context.Context, req domain.CastRequest) (*domain.CastResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, toolError("INVALID_ARGUMENT", "source is required")
	}
	conn, err := m.castConnection(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}

	conn.sequencer.StopAll()

	res, err := conn.resolve(ctx, req.Source, req.AudioSource)
	if err != nil {
		return nil, &domain.ToolError{
			Code:    "RESOLVE_FAILED",
			Message: err.Error(),
			Details: map[string]any{"source": req.Source},
		}
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = displayName(req.Source)
	}
	mediaReq := cast.MediaRequest{URL: res.PlayableURL, MimeType: res.MimeType, Title: title}
	if req.Image {
		err = conn.session.PlayImage(ctx, mediaReq)
	} else {
		err = conn.session.PlayMedia(ctx, mediaReq)
	}
	if err != nil {
		return nil, toolError("PLAYBACK_FAILED", err.Error())
	}

	return &domain.CastResult{
		DeviceID: conn.device.ID,
		MediaURL: res.PlayableURL,
		MimeType: res.MimeType,
		State:    conn.session.CurrentState(),
	}, nil
}

// StartPlaylist starts an image or video run. A run of the same kind that is
// already active is cancelled and replaced.
func (m *Manager) StartPlaylist(ctx context.Context, req domain.PlaylistRequest) (*domain.RunSnapshot, error) {
	if len(req.Items) == 0 {
		return nil, toolError("INVALID_ARGUMENT", domain.ErrEmptyPlaylist.Error())
	}
	switch req.Kind {
	case domain.RunImages:
		switch req.Mode {
		case "", domain.ImageModeSlideshow, domain.ImageModeAlbum:
		default:
			return nil, toolError("INVALID_ARGUMENT", fmt.Sprintf("invalid image mode %q", req.Mode))
		}
	case domain.RunVideos:
	default:
		return nil, toolError("INVALID_ARGUMENT", fmt.Sprintf("invalid playlist kind %q", req.Kind))
	}

	conn, err := m.castConnection(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}

	var run *sequencer.Run
	if req.Kind == domain.RunImages {
		run, err = conn.sequencer.StartImages(req.Items, req.Mode)
	} else {
		run, err = conn.sequencer.StartVideos(req.Items)
	}
	if err != nil {
		return nil, toolErrorFromErr(err)
	}
	snapshot := run.Snapshot()
	return &snapshot, nil
}

// StopPlayback cancels playlist runs and stops whatever is casting.
func (m *Manager) StopPlayback(ctx context.Context, req domain.TargetRequest) (*domain.CommandResult, error) {
	conn, err := m.castConnection(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}
	conn.sequencer.StopAll()
	if err := conn.session.Stop(ctx); err != nil {
		return nil, toolError("PLAYBACK_FAILED", err.Error())
	}
	return &domain.CommandResult{DeviceID: conn.device.ID, Command: "stop_playback", OK: true}, nil
}

func (m *Manager) PlaybackStatus(ctx context.Context, req domain.TargetRequest) (*domain.PlaybackStatus, error) {
	conn, err := m.connect(ctx, req.TargetDevice)
	if err != nil {
		return nil, err
	}

	status := &domain.PlaybackStatus{
		DeviceID:        conn.device.ID,
		DeviceIP:        conn.device.IP,
		Paired:          conn.remote.Paired(),
		PairingRequired: conn.PairingRequired(),
		Session:         domain.Idle,
		Playlist:        domain.Idle,
		Runs:            []domain.RunSnapshot{},
	}
	if conn.session != nil {
		status.Session = conn.session.CurrentState()
		status.SessionChanged = conn.SessionChangedAt()
		status.Playlist = conn.sequencer.CurrentState()
		for _, kind := range []domain.RunKind{domain.RunImages, domain.RunVideos} {
			if run := conn.sequencer.Active(kind); run != nil {
				status.Runs = append(status.Runs, run.Snapshot())
			}
			if run := conn.sequencer.Last(kind); run != nil {
				status.FinishedRuns = append(status.FinishedRuns, run.Snapshot())
			}
		}
	}

	if conn.launcher.State().WorkingPort != 0 {
		queryCtx, cancel := context.WithTimeout(ctx, statusTimeout)
		reachable, running := conn.launcher.QueryTargetAppStatus(queryCtx)
		cancel()
		status.TargetApp = &domain.AppStatus{Reachable: reachable, Running: running}
	}
	return status, nil
}

func (m *Manager) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var closeErr error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		conns := make([]*Connection, 0, len(m.connections))
		for ip, conn := range m.connections {
			conns = append(conns, conn)
			delete(m.connections, ip)
		}
		m.mu.Unlock()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for _, conn := range conns {
				conn.Close()
			}
		}()
		select {
		case <-done:
		case <-ctx.Done():
			closeErr = ctx.Err()
		}
	})
	return closeErr
}

func (m *Manager) remoteConnection(ctx context.Context, target string) (*Connection, error) {
	conn, err := m.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	if !conn.device.HasLegacyRemote {
		return nil, noLegacyRemoteError(conn.device)
	}
	if conn.PairingRequired() {
		return nil, sessionInvalidatedError()
	}
	if !conn.remote.Paired() {
		return nil, &domain.ToolError{
			Code:           "NOT_PAIRED",
			Message:        domain.ErrNotPaired.Error(),
			SuggestedFixes: []string{"Call pair_tv to show a PIN on the TV, then call it again with the PIN."},
		}
	}
	return conn, nil
}

func (m *Manager) castConnection(ctx context.Context, target string) (*Connection, error) {
	conn, err := m.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	if conn.session == nil {
		return nil, &domain.ToolError{
			Code:        "NO_CAST_SERVICE",
			Message:     domain.ErrNoCastService.Error(),
			Limitations: conn.device.Capabilities.Limitations,
		}
	}
	return conn, nil
}

// connect returns the cached connection for the target's IP, creating it on
// first use.
func (m *Manager) connect(ctx context.Context, target string) (*Connection, error) {
	if m.isClosed() {
		return nil, toolError("INTERNAL_ERROR", "manager is shutting down")
	}
	if conn := m.lookup(target); conn != nil {
		return conn, nil
	}

	device, err := m.resolveDevice(ctx, target)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, toolError("INTERNAL_ERROR", "manager is shutting down")
	}
	if conn, ok := m.connections[device.IP]; ok {
		return conn, nil
	}
	conn := newConnection(*device, m.deps, m.settings, m.logger)
	m.connections[device.IP] = conn
	m.logger.Info("tv_connected",
		slog.String("device_id", device.ID),
		slog.String("device_ip", device.IP),
		slog.String("protocol", device.Protocol),
	)
	return conn, nil
}

func (m *Manager) lookup(target string) *Connection {
	target = strings.TrimSpace(target)
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.connections[target]; ok {
		return conn
	}
	devs := make([]domain.Device, 0, len(m.connections))
	for _, conn := range m.connections {
		devs = append(devs, conn.device)
	}
	if matched := matchTargetDevice(devs, target); matched != nil {
		return m.connections[matched.IP]
	}
	return nil
}

func (m *Manager) resolveDevice(ctx context.Context, target string) (*domain.Device, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, toolError("DEVICE_NOT_FOUND", "target_device is empty")
	}

	if m.discovery != nil {
		timeouts := []int{m.discoveryTimeout(), fallbackDiscoveryTimeoutMS}
		for i, timeoutMS := range timeouts {
			if i > 0 && timeoutMS <= timeouts[i-1] {
				continue
			}
			devs, err := m.discovery.ListTVs(ctx, timeoutMS, true)
			if err != nil {
				return nil, toolError("INTERNAL_ERROR", fmt.Sprintf("device discovery failed: %v", err))
			}
			if matched := matchTargetDevice(devs, target); matched != nil {
				return matched, nil
			}
			if net.ParseIP(target) != nil {
				break
			}
		}
	}

	// Remote-only sets never answer discovery, so a bare IP is accepted.
	if net.ParseIP(target) != nil {
		dev, err := deviceForIP(target)
		if err != nil {
			return nil, toolError("DEVICE_NOT_FOUND", err.Error())
		}
		return &dev, nil
	}
	return nil, toolError("DEVICE_NOT_FOUND", fmt.Sprintf("device not found: %s", target))
}

func (m *Manager) discoveryTimeout() int {
	if m.settings.DiscoveryTimeoutMS > 0 {
		return m.settings.DiscoveryTimeoutMS
	}
	return defaultDiscoveryTimeoutMS
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func matchTargetDevice(devices []domain.Device, target string) *domain.Device {
	target = strings.TrimSpace(target)
	normalizedTarget := normalizeDeviceTarget(target)

	for i := range devices {
		if strings.TrimSpace(devices[i].ID) == target || devices[i].IP == target {
			return &devices[i]
		}
	}
	for i := range devices {
		if strings.TrimSpace(devices[i].Name) == target {
			return &devices[i]
		}
	}
	for i := range devices {
		if strings.EqualFold(strings.TrimSpace(devices[i].ID), target) {
			return &devices[i]
		}
		if strings.EqualFold(strings.TrimSpace(devices[i].Name), target) {
			return &devices[i]
		}
		if normalizeDeviceTarget(devices[i].Name) == normalizedTarget {
			return &devices[i]
		}
	}
	return nil
}

func normalizeDeviceTarget(v string) string {
	normalized := strings.ToLower(strings.TrimSpace(v))
	if idx := strings.LastIndex(normalized, " ("); idx > 0 && strings.HasSuffix(normalized, ")") {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	return normalized
}

func toolError(code, message string) *domain.ToolError {
	return &domain.ToolError{Code: code, Message: message}
}

func toolErrorFromErr(err error) error {
	var te *domain.ToolError
	switch {
	case errors.As(err, &te):
		return te
	case errors.Is(err, domain.ErrEmptyPlaylist):
		return toolError("INVALID_ARGUMENT", err.Error())
	case errors.Is(err, domain.ErrResolve):
		return toolError("RESOLVE_FAILED", err.Error())
	case errors.Is(err, domain.ErrClosed):
		return toolError("INTERNAL_ERROR", err.Error())
	default:
		return toolError("PLAYBACK_FAILED", err.Error())
	}
}

func noLegacyRemoteError(device domain.Device) *domain.ToolError {
	return &domain.ToolError{
		Code:        "NO_LEGACY_REMOTE",
		Message:     domain.ErrNoLegacyRemote.Error(),
		Limitations: device.Capabilities.Limitations,
	}
}

func sessionInvalidatedError() *domain.ToolError {
	return &domain.ToolError{
		Code:           "SESSION_INVALIDATED",
		Message:        "the TV dropped the pairing; a new PIN is on screen",
		SuggestedFixes: []string{"Call pair_tv with the PIN shown on the TV."},
	}
}
