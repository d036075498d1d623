package tv

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	"go2tv.app/lgremote/internal/adapters"
	"go2tv.app/lgremote/internal/cast"
	"go2tv.app/lgremote/internal/dial"
	"go2tv.app/lgremote/internal/domain"
	"go2tv.app/lgremote/internal/media"
	"go2tv.app/lgremote/internal/netcast"
	"go2tv.app/lgremote/internal/sequencer"
)

const repairTimeout = 5 * time.Second

// SessionStore persists Netcast session ids by device IP.
type SessionStore interface {
	Load(deviceIP string) (string, error)
	Save(deviceIP, sessionID string) error
	Delete(deviceIP string) error
}

// Connection owns every protocol client for one TV. It is created on first
// use and torn down by Close.
type Connection struct {
	device domain.Device
	store  SessionStore
	logger *slog.Logger

	remote    *netcast.Client
	launcher  *dial.Launcher
	publisher *media.LocalPublisher
	pipeline  *media.Pipeline
	session   *cast.Session
	sequencer *sequencer.Sequencer

	mu              sync.Mutex
	pairingRequired bool
	sessionChanged  time.Time

	unsubscribe func()
	watchDone   chan struct{}
	closeOnce   sync.Once
}

type connectionDeps struct {
	castFactory   adapters.CastFactory
	dlnaFactory   adapters.DLNAFactory
	serverFactory adapters.StreamServerFactory
	listenAddress func(string) (string, error)
	store         SessionStore
}

func newConnection(device domain.Device, deps connectionDeps, settings Settings, logger *slog.Logger) *Connection {
	logger = logger.With(slog.String("device_id", device.ID), slog.String("device_ip", device.IP))
	c := &Connection{
		device: device,
		store:  deps.store,
		logger: logger,
	}

	sessionID := ""
	if c.store != nil {
		stored, err := c.store.Load(device.IP)
		if err != nil {
			logger.Warn("session_restore_failed", slog.String("error", err.Error()))
		}
		sessionID = stored
	}

	remoteOpts := settings.Netcast
	remoteOpts.SessionID = sessionID
	remoteOpts.Listener = c
	remoteOpts.Logger = logger
	c.remote = netcast.New(device.IP, remoteOpts)
	if sessionID != "" {
		logger.Info("session_restored")
	}

	dialOpts := settings.DIAL
	dialOpts.Logger = logger
	c.launcher = dial.NewLauncher(device.IP, c.remote, dialOpts)

	publishFor := device.Address
	if publishFor == "" {
		publishFor = "http://" + net.JoinHostPort(device.IP, "8080") + "/"
	}
	c.publisher = media.NewLocalPublisher(deps.serverFactory, deps.listenAddress, publishFor, media.PublisherOptions{
		MaxServers: settings.Media.MaxServers,
		Logger:     logger,
	})
	c.pipeline = &media.Pipeline{
		Resolver: media.PassthroughResolver{Publisher: c.publisher},
		Stager: media.NewStager(c.publisher, media.StagerOptions{
			CacheDir: settings.Media.CacheDir,
			Retries:  settings.Media.DownloadRetries,
			Logger:   logger,
		}),
		StageRemote: settings.Media.StageRemote,
	}

	if capability := newCapability(device, deps, settings, logger); capability != nil {
		castOpts := settings.Cast
		castOpts.Logger = logger
		c.session = cast.NewSession(capability, castOpts)
		c.sequencer = sequencer.New(c.session, c.pipeline, sequencer.Options{
			Timings: settings.Sequencer,
			Logger:  logger,
		})

		changes, unsubscribe := c.session.Subscribe()
		c.unsubscribe = unsubscribe
		c.watchDone = make(chan struct{})
		go c.watchSession(changes)
	}
	return c
}

// watchSession records cast state changes until the subscription closes.
func (c *Connection) watchSession(changes <-chan domain.PlaybackState) {
	defer close(c.watchDone)
	for state := range changes {
		c.mu.Lock()
		c.sessionChanged = time.Now()
		c.mu.Unlock()
		c.logger.Info("cast_state_changed", slog.String("state", state.String()))
	}
}

func (c *Connection) SessionChangedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionChanged
}

func newCapability(device domain.Device, deps connectionDeps, settings Settings, logger *slog.Logger) cast.Capability {
	if !device.HasCastService {
		return nil
	}
	opts := cast.CapabilityOptions{Retry: settings.Retry, Logger: logger}
	switch device.Protocol {
	case "chromecast":
		return cast.NewChromecast(deps.castFactory, device.Address, opts)
	case "dlna":
		return cast.NewDLNA(deps.dlnaFactory, deps.serverFactory, device.Address, opts)
	default:
		return nil
	}
}

func (c *Connection) Device() domain.Device { return c.device }

// SessionAcquired persists a new pairing.
func (c *Connection) SessionAcquired(deviceIP, sessionID string) {
	c.mu.Lock()
	c.pairingRequired = false
	c.mu.Unlock()

	if c.store == nil {
		return
	}
	if err := c.store.Save(deviceIP, sessionID); err != nil {
		c.logger.Warn("session_persist_failed", slog.String("error", err.Error()))
	}
}

// SessionInvalidated drops the stored pairing and asks the TV to show a new
// PIN.
func (c *Connection) SessionInvalidated(deviceIP string) {
	c.mu.Lock()
	c.pairingRequired = true
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(deviceIP); err != nil {
			c.logger.Warn("session_delete_failed", slog.String("error", err.Error()))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), repairTimeout)
	defer cancel()
	requested := c.remote.RequestPairingKey(ctx)
	c.logger.Warn("session_invalidated", slog.Bool("pin_requested", requested))
}

func (c *Connection) PairingRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingRequired
}

// resolve maps a source, and an optional separate audio track, to one
// playable URL.
func (c *Connection) resolve(ctx context.Context, source, audioSource string) (media.Resolution, error) {
	if strings.TrimSpace(audioSource) == "" {
		return c.pipeline.Resolve(ctx, source)
	}
	video, err := c.pipeline.Resolver.Resolve(ctx, source)
	if err != nil {
		return media.Resolution{}, err
	}
	audio, err := c.pipeline.Resolver.Resolve(ctx, audioSource)
	if err != nil {
		return media.Resolution{}, err
	}
	return c.pipeline.Prepare(ctx, media.Resolution{
		VideoURL: video.PlayableURL,
		AudioURL: audio.PlayableURL,
		MimeType: "video/mp4",
	}, displayName(source))
}

// commandError reports a failed Netcast command, telling a dropped pairing
// apart from a plain refusal.
func (c *Connection) commandError(command string) error {
	if c.PairingRequired() {
		return sessionInvalidatedError()
	}
	return &domain.ToolError{
		Code:    "COMMAND_FAILED",
		Message: fmt.Sprintf("the TV did not accept %s", command),
	}
}

func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		if c.sequencer != nil {
			c.sequencer.Close()
		}
		if c.session != nil {
			c.unsubscribe()
			<-c.watchDone
			if err := c.session.Close(); err != nil {
				c.logger.Warn("cast_close_failed", slog.String("error", err.Error()))
			}
		}
		c.publisher.Close()
	})
}

func displayName(ref string) string {
	ref = strings.TrimRight(strings.TrimSpace(ref), "/")
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if base := path.Base(ref); base != "." && base != "/" && base != "" {
		return base
	}
	return "media"
}
