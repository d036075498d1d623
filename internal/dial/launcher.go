package dial

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go2tv.app/lgremote/internal/metrics"
)

const (
	// TargetApp is the app pushed content is played in.
	TargetApp = "YouTube"

	DefaultProbeTimeout   = 2 * time.Second
	DefaultRequestTimeout = 5 * time.Second

	maxResponseBytes = 1 << 20
)

// DefaultPorts are probed in this order.
var DefaultPorts = []int{56789, 8080, 3000, 3001}

var (
	// Browser ids are tried before the target app aliases: on most Netcast
	// firmware the browser is the only reliable way into YouTube.
	legacyBrowserIDs = []string{"browser", "netcast.browser", "lge.browser"}
	legacyTargetIDs  = []string{"youtube.leanback.v4", "youtube", "leanback.youtube"}

	legacyAppAliases = map[string]string{
		"netflix":     "netflix",
		"prime video": "amazon",
	}

	stateRe   = regexp.MustCompile(`(?is)<state>\s*([^<]*?)\s*</state>`)
	runLinkRe = regexp.MustCompile(`<link\s+rel="run"\s+href="([^"]+)"`)
	videoIDRe = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\s?#]+)`),
		regexp.MustCompile(`^([a-zA-Z0-9_-]{11})$`),
	}
)

// AppExecutor launches apps through the legacy remote protocol.
type AppExecutor interface {
	ExecuteApp(ctx context.Context, appID string) bool
}

type Options struct {
	Ports          []int
	HTTPClient     *http.Client
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Snapshot is the launcher state as last observed.
type Snapshot struct {
	WorkingPort   int    `json:"working_port,omitempty"`
	TargetRunning bool   `json:"target_running"`
	InstanceURL   string `json:"instance_url,omitempty"`
	RunLink       string `json:"run_link,omitempty"`
	ViaLegacy     bool   `json:"via_legacy"`
}

// Launcher drives apps through DIAL and falls back to Netcast AppExecute.
// Every step is attempted once; failures cascade to the next mechanism.
type Launcher struct {
	ip             string
	ports          []int
	httpClient     *http.Client
	probeTimeout   time.Duration
	requestTimeout time.Duration
	legacy         AppExecutor
	logger         *slog.Logger

	mu          sync.Mutex
	workingPort int
	running     bool
	instanceURL string
	runLink     string
	viaLegacy   bool
	probed      bool
}

func NewLauncher(deviceIP string, legacy AppExecutor, opts Options) *Launcher {
	ports := opts.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Launcher{
		ip:             deviceIP,
		ports:          append([]int{}, ports...),
		httpClient:     httpClient,
		probeTimeout:   probeTimeout,
		requestTimeout: requestTimeout,
		legacy:         legacy,
		logger:         logger.With(slog.String("device_ip", deviceIP)),
	}
}

func (l *Launcher) State() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		WorkingPort:   l.workingPort,
		TargetRunning: l.running,
		InstanceURL:   l.instanceURL,
		RunLink:       l.runLink,
		ViaLegacy:     l.viaLegacy,
	}
}

// DiscoverApp finds the first candidate port serving /apps/{probeApp}. When
// none answers it tries to bring the target app up through the legacy
// protocol instead.
func (l *Launcher) DiscoverApp(ctx context.Context, probeApp string) bool {
	if l.probe(ctx, probeApp) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	l.logger.Info("dial_unavailable_trying_legacy")
	return l.legacyLaunchTarget(ctx)
}

// FindPort looks for a DIAL port without launching anything on the TV. The
// outcome of the first complete scan is kept, so a TV without DIAL is only
// scanned once.
func (l *Launcher) FindPort(ctx context.Context, probeApp string) bool {
	l.mu.Lock()
	if l.probed {
		found := l.workingPort > 0
		l.mu.Unlock()
		return found
	}
	l.mu.Unlock()

	found := l.probe(ctx, probeApp)
	if ctx.Err() == nil {
		l.mu.Lock()
		l.probed = true
		l.mu.Unlock()
	}
	return found
}

func (l *Launcher) probe(ctx context.Context, probeApp string) bool {
	probeApp = strings.TrimSpace(probeApp)
	if probeApp == "" {
		probeApp = TargetApp
	}

	for _, port := range l.ports {
		if ctx.Err() != nil {
			return false
		}
		status, body, _, err := l.do(ctx, http.MethodGet, l.appURL(port, probeApp), "", "", l.probeTimeout)
		if err != nil || status != http.StatusOK {
			l.logger.Debug("dial_probe_miss", slog.Int("port", port), slog.Int("status", status))
			continue
		}

		state := parseState(body)
		runLink := parseRunLink(body)
		l.mu.Lock()
		l.workingPort = port
		l.running = strings.EqualFold(state, "running")
		l.runLink = runLink
		l.viaLegacy = false
		l.mu.Unlock()

		l.logger.Info("dial_port_found", slog.Int("port", port), slog.String("state", state))
		return true
	}
	return false
}

// LaunchApp starts a named app through DIAL, or through Netcast AppExecute
// when no DIAL port is known or the launch is refused.
func (l *Launcher) LaunchApp(ctx context.Context, appName string) bool {
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return false
	}

	if port, ok := l.port(); ok {
		status, _, _, err := l.do(ctx, http.MethodPost, l.appURL(port, strings.ReplaceAll(appName, " ", "")), "", "", l.requestTimeout)
		if err == nil && (status == http.StatusOK || status == http.StatusCreated) {
			metrics.AppLaunches.WithLabelValues("dial", "ok").Inc()
			l.logger.Info("dial_app_launched", slog.String("app", appName))
			return true
		}
		metrics.AppLaunches.WithLabelValues("dial", "failed").Inc()
		l.logger.Warn("dial_app_launch_failed", slog.String("app", appName), slog.Int("status", status))
	}

	return l.legacyExecute(ctx, LegacyAppID(appName))
}

// LaunchTargetApp starts the target app, optionally with a video id, and
// remembers the instance URL from the Location header.
func (l *Launcher) LaunchTargetApp(ctx context.Context, contentID string) bool {
	port, ok := l.port()
	if !ok {
		return l.legacyLaunchTarget(ctx)
	}

	body := ""
	if contentID = strings.TrimSpace(contentID); contentID != "" {
		body = "v=" + contentID
	}
	status, _, header, err := l.do(ctx, http.MethodPost, l.appURL(port, TargetApp), body, "text/plain; charset=utf-8", l.requestTimeout)
	if err != nil || (status != http.StatusOK && status != http.StatusCreated) {
		metrics.AppLaunches.WithLabelValues("dial", "failed").Inc()
		l.logger.Warn("dial_target_launch_failed", slog.Int("status", status), slog.Any("error", err))
		return l.legacyLaunchTarget(ctx)
	}

	l.mu.Lock()
	if location := strings.TrimSpace(header.Get("Location")); location != "" {
		l.instanceURL = l.resolveLocation(port, location)
	}
	l.running = true
	l.mu.Unlock()

	metrics.AppLaunches.WithLabelValues("dial", "ok").Inc()
	l.logger.Info("dial_target_launched", slog.Bool("with_content", contentID != ""))
	return true
}

// PushContent plays a video id in the target app, launching it first when
// it is not known to be running.
func (l *Launcher) PushContent(ctx context.Context, contentID string) bool {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return false
	}

	l.mu.Lock()
	running := l.running
	l.mu.Unlock()
	if !running {
		return l.LaunchTargetApp(ctx, contentID)
	}

	status, _, _, err := l.do(ctx, http.MethodPost, l.runURL(), "v="+contentID, "text/plain; charset=utf-8", l.requestTimeout)
	if err != nil || (status != http.StatusOK && status != http.StatusCreated) {
		l.logger.Warn("dial_push_failed", slog.Int("status", status), slog.Any("error", err))
		return false
	}
	return true
}

// StopTargetApp deletes the app instance. A transport error is taken to mean
// the app is already gone.
func (l *Launcher) StopTargetApp(ctx context.Context) bool {
	status, _, _, err := l.do(ctx, http.MethodDelete, l.runURL(), "", "", l.requestTimeout)
	if err != nil {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
		l.logger.Info("dial_stop_assumed", slog.String("error", err.Error()))
		return true
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		l.logger.Warn("dial_stop_failed", slog.Int("status", status))
		return false
	}

	l.mu.Lock()
	l.running = false
	l.instanceURL = ""
	l.mu.Unlock()
	return true
}

// QueryTargetAppStatus reports whether the DIAL endpoint answered and
// whether the target app is running.
func (l *Launcher) QueryTargetAppStatus(ctx context.Context) (reachable bool, running bool) {
	port := l.portOrDefault()
	status, body, _, err := l.do(ctx, http.MethodGet, l.appURL(port, TargetApp), "", "", l.requestTimeout)
	if err != nil || status != http.StatusOK {
		return false, false
	}

	running = strings.EqualFold(parseState(body), "running")
	l.mu.Lock()
	l.running = running
	l.mu.Unlock()
	return true, running
}

func (l *Launcher) legacyLaunchTarget(ctx context.Context) bool {
	ids := append(append([]string{}, legacyBrowserIDs...), legacyTargetIDs...)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if l.legacyExecute(ctx, id) {
			l.mu.Lock()
			l.viaLegacy = true
			l.mu.Unlock()
			return true
		}
	}
	l.logger.Warn("legacy_target_launch_failed")
	return false
}

func (l *Launcher) legacyExecute(ctx context.Context, appID string) bool {
	if l.legacy == nil {
		metrics.AppLaunches.WithLabelValues("legacy", "unavailable").Inc()
		return false
	}
	if l.legacy.ExecuteApp(ctx, appID) {
		metrics.AppLaunches.WithLabelValues("legacy", "ok").Inc()
		return true
	}
	metrics.AppLaunches.WithLabelValues("legacy", "failed").Inc()
	return false
}

func (l *Launcher) port() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.workingPort, l.workingPort > 0
}

func (l *Launcher) portOrDefault() int {
	if port, ok := l.port(); ok {
		return port
	}
	return l.ports[0]
}

func (l *Launcher) runURL() string {
	l.mu.Lock()
	instance := l.instanceURL
	l.mu.Unlock()
	if instance != "" {
		return instance
	}
	return l.appURL(l.portOrDefault(), TargetApp) + "/run"
}

func (l *Launcher) appURL(port int, app string) string {
	return "http://" + net.JoinHostPort(l.ip, strconv.Itoa(port)) + "/apps/" + url.PathEscape(app)
}

// resolveLocation turns a relative Location header into an absolute URL on
// the working port.
func (l *Launcher) resolveLocation(port int, location string) string {
	parsed, err := url.Parse(location)
	if err != nil || parsed.IsAbs() {
		return location
	}
	base, err := url.Parse(l.appURL(port, TargetApp))
	if err != nil {
		return location
	}
	return base.ResolveReference(parsed).String()
}

func (l *Launcher) do(ctx context.Context, method, target, body, contentType string, timeout time.Duration) (int, []byte, http.Header, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("dial %s %s: %w", method, target, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("dial %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, resp.Header, err
	}
	return resp.StatusCode, data, resp.Header, nil
}

func parseState(body []byte) string {
	match := stateRe.FindSubmatch(body)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(string(match[1]))
}

func parseRunLink(body []byte) string {
	match := runLinkRe.FindSubmatch(body)
	if match == nil {
		return ""
	}
	return string(match[1])
}

// LegacyAppID maps a display name to its Netcast app id.
func LegacyAppID(appName string) string {
	key := strings.ToLower(strings.TrimSpace(appName))
	if id, ok := legacyAppAliases[key]; ok {
		return id
	}
	return strings.ReplaceAll(key, " ", "")
}

// ExtractVideoID accepts a watch, short or embed URL or a bare 11 character
// id and returns the video id.
func ExtractVideoID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	for _, re := range videoIDRe {
		if match := re.FindStringSubmatch(ref); match != nil {
			return match[1], true
		}
	}
	return "", false
}
