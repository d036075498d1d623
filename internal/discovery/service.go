package discovery

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/lgremote/internal/adapters"
	"go2tv.app/lgremote/internal/domain"
)

const (
	defaultTimeoutMS             = 2500
	reachabilityWait             = 400 * time.Millisecond
	legacyProbeWait              = 400 * time.Millisecond
	defaultDiscoveryDelaySeconds = 1
	maxPerAttemptTimeoutMS       = 3000

	legacyRemotePort = "8080"
)

var (
	isReachableAddress = defaultReachableAddress
	hasLegacyRemote    = defaultHasLegacyRemote
)

type Service struct {
	adapter adapters.Discovery
	loopCtx context.Context
	once    sync.Once
}

func NewService(adapter adapters.Discovery, loopCtx context.Context) *Service {
	if loopCtx == nil {
		loopCtx = context.Background()
	}

	return &Service{
		adapter: adapter,
		loopCtx: loopCtx,
	}
}

// ListTVs returns the renderers found on the LAN, one per IP. A TV that
// exposes both DLNA and Chromecast is listed once with its DLNA endpoint.
func (s *Service) ListTVs(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error) {
	if s.adapter == nil {
		return nil, errors.New("discovery adapter is not configured")
	}
	if timeoutMS <= 0 {
		timeoutMS = defaultTimeoutMS
	}

	s.once.Do(func() {
		s.adapter.StartChromecastDiscoveryLoop(s.loopCtx)
	})

	resultCh := make(chan struct {
		devices []devices.Device
		err     error
	}, 1)

	go func() {
		loaded, err := s.loadAllDevicesUntilTimeout(ctx, timeoutMS)
		resultCh <- struct {
			devices []devices.Device
			err     error
		}{devices: loaded, err: err}
	}()

	timeout := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return []domain.Device{}, nil
	case result := <-resultCh:
		if result.err != nil {
			if errors.Is(result.err, devices.ErrNoDeviceAvailable) {
				return []domain.Device{}, nil
			}
			return nil, result.err
		}

		normalized := dedupeByIP(normalizeDevices(result.devices))
		if !includeUnreachable {
			normalized = filterReachable(normalized)
		}
		probeLegacyRemotes(normalized)
		sortDevices(normalized)
		return normalized, nil
	}
}

func (s *Service) loadAllDevicesUntilTimeout(ctx context.Context, timeoutMS int) ([]devices.Device, error) {
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		remainingMS := int(time.Until(deadline).Milliseconds())
		if remainingMS <= 0 {
			if errors.Is(lastErr, devices.ErrNoDeviceAvailable) || lastErr == nil {
				return []devices.Device{}, nil
			}
			return nil, lastErr
		}

		attemptTimeoutMS := remainingMS
		if attemptTimeoutMS > maxPerAttemptTimeoutMS {
			attemptTimeoutMS = maxPerAttemptTimeoutMS
		}
		attemptDelaySeconds := timeoutToDelaySeconds(attemptTimeoutMS)

		loaded, err := s.adapter.LoadAllDevices(attemptDelaySeconds)
		if err == nil {
			if len(loaded) > 0 {
				return loaded, nil
			}
			return []devices.Device{}, nil
		}
		if !errors.Is(err, devices.ErrNoDeviceAvailable) {
			return nil, err
		}

		lastErr = err
	}
}

func timeoutToDelaySeconds(timeoutMS int) int {
	seconds := int(math.Ceil(float64(timeoutMS) / 1000.0))
	if seconds <= 0 {
		return defaultDiscoveryDelaySeconds
	}
	return seconds
}

// DeviceForIP describes a TV given only its IP, for remote-only sets that
// never answer discovery.
func DeviceForIP(ip string) (domain.Device, error) {
	ip = strings.TrimSpace(ip)
	if net.ParseIP(ip) == nil {
		return domain.Device{}, fmt.Errorf("invalid ip address %q", ip)
	}
	dev := domain.Device{
		ID:       stableID("netcast", "http://"+net.JoinHostPort(ip, legacyRemotePort)+"/"),
		Name:     "LG TV " + ip,
		Type:     "Netcast",
		IP:       ip,
		Protocol: "netcast",
	}
	dev.HasLegacyRemote = hasLegacyRemote(ip, legacyProbeWait)
	dev.Capabilities = capabilitiesFor(dev)
	return dev, nil
}

func normalizeDevices(discovered []devices.Device) []domain.Device {
	result := make([]domain.Device, 0, len(discovered))
	for _, raw := range discovered {
		protocol := normalizeProtocol(raw.Type)
		address := strings.TrimSpace(raw.Addr)

		dev := domain.Device{
			ID:             stableID(protocol, address),
			Name:           strings.TrimSpace(raw.Name),
			Type:           strings.TrimSpace(raw.Type),
			IP:             hostIP(address),
			Address:        address,
			Protocol:       protocol,
			HasCastService: protocol == "dlna" || protocol == "chromecast",
			IsAudioOnly:    raw.IsAudioOnly,
		}
		dev.Capabilities = capabilitiesFor(dev)
		result = append(result, dev)
	}

	return result
}

func dedupeByIP(all []domain.Device) []domain.Device {
	byIP := make(map[string]int, len(all))
	result := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if dev.IP == "" {
			result = append(result, dev)
			continue
		}
		idx, seen := byIP[dev.IP]
		if !seen {
			byIP[dev.IP] = len(result)
			result = append(result, dev)
			continue
		}
		if protocolRank(dev.Protocol) < protocolRank(result[idx].Protocol) {
			result[idx] = dev
		}
	}
	return result
}

func probeLegacyRemotes(all []domain.Device) {
	var wg sync.WaitGroup
	for i := range all {
		if all[i].IP == "" {
			continue
		}
		wg.Add(1)
		go func(dev *domain.Device) {
			defer wg.Done()
			dev.HasLegacyRemote = hasLegacyRemote(dev.IP, legacyProbeWait)
			dev.Capabilities = capabilitiesFor(*dev)
		}(&all[i])
	}
	wg.Wait()
}

func filterReachable(all []domain.Device) []domain.Device {
	filtered := make([]domain.Device, 0, len(all))
	for _, dev := range all {
		if isReachableAddress(dev.Address, reachabilityWait) {
			filtered = append(filtered, dev)
		}
	}
	return filtered
}

func sortDevices(all []domain.Device) {
	sort.Slice(all, func(i, j int) bool {
		if all[i].HasLegacyRemote != all[j].HasLegacyRemote {
			return all[i].HasLegacyRemote
		}
		if strings.ToLower(all[i].Name) != strings.ToLower(all[j].Name) {
			return strings.ToLower(all[i].Name) < strings.ToLower(all[j].Name)
		}
		if all[i].IP != all[j].IP {
			return all[i].IP < all[j].IP
		}
		return all[i].ID < all[j].ID
	})
}

func protocolRank(protocol string) int {
	switch protocol {
	case "dlna":
		return 0
	case "chromecast":
		return 1
	default:
		return 2
	}
}

func stableID(protocol, address string) string {
	canonical := fmt.Sprintf("%s|%s", protocol, canonicalAddress(address))
	sum := sha1.Sum([]byte(canonical))
	return "tv_" + hex.EncodeToString(sum[:8])
}

func canonicalAddress(address string) string {
	parsed, err := url.Parse(address)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(address))
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()
	if port == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := strings.TrimSpace(strings.ToLower(parsed.EscapedPath()))
	if path == "" {
		path = "/"
	}

	return fmt.Sprintf("%s://%s:%s%s", strings.ToLower(parsed.Scheme), host, port, path)
}

// hostIP extracts the IP from a device location such as
// http://192.168.1.10:1400/desc.xml or a bare 192.168.1.10:8009.
func hostIP(address string) string {
	address = strings.TrimSpace(address)
	if parsed, err := url.Parse(address); err == nil && parsed.Hostname() != "" {
		address = parsed.Hostname()
	} else if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	if ip := net.ParseIP(address); ip != nil {
		return ip.String()
	}
	return ""
}

func normalizeProtocol(kind string) string {
	lower := strings.ToLower(strings.TrimSpace(kind))
	if strings.Contains(lower, "chrome") {
		return "chromecast"
	}
	if strings.Contains(lower, "dlna") {
		return "dlna"
	}
	return lower
}

func capabilitiesFor(dev domain.Device) domain.Capabilities {
	caps := domain.Capabilities{
		SupportsImages:    dev.HasCastService && !dev.IsAudioOnly,
		SupportsVideo:     dev.HasCastService && !dev.IsAudioOnly,
		SupportsAppLaunch: dev.IP != "",
		Limitations:       []domain.Limitation{},
	}

	if !dev.HasCastService {
		caps.Limitations = append(caps.Limitations, domain.Limitation{
			Code:    "NO_CAST_SERVICE",
			Message: "No media renderer was discovered on this TV; casting is unavailable.",
		})
	}
	if dev.IsAudioOnly {
		caps.Limitations = append(caps.Limitations, domain.Limitation{
			Code:    "AUDIO_ONLY",
			Message: "This renderer only plays audio.",
		})
	}
	if !dev.HasLegacyRemote {
		caps.Limitations = append(caps.Limitations, domain.Limitation{
			Code:    "NO_LEGACY_REMOTE",
			Message: "The Netcast remote service did not answer on port 8080; keys, pointer and app-execute fallback are unavailable.",
		})
	}
	return caps
}

func defaultHasLegacyRemote(ip string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(ip, legacyRemotePort), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func defaultReachableAddress(address string, timeout time.Duration) bool {
	parsed, err := url.Parse(address)
	if err != nil {
		return false
	}

	hostPort := parsed.Host
	if hostPort == "" {
		return false
	}
	if parsed.Port() == "" {
		if strings.EqualFold(parsed.Scheme, "https") {
			hostPort = net.JoinHostPort(parsed.Hostname(), "443")
		} else {
			hostPort = net.JoinHostPort(parsed.Hostname(), "80")
		}
	}

	conn, err := net.DialTimeout("tcp", hostPort, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
