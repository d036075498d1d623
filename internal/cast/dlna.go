package cast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go2tv.app/go2tv/v2/soapcalls"
	"go2tv.app/lgremote/internal/adapters"
)

var errNoMedia = errors.New("no media loaded")

// directURLPlaceholder is served by the local handler while the renderer is
// pointed straight at the remote media URL.
var directURLPlaceholder = []byte("lgremote-direct-url")

// DLNACapability plays media on a UPnP AVTransport renderer. The TV fetches
// the media URL itself; the local server only receives renderer callbacks.
type DLNACapability struct {
	dlnaFactory   adapters.DLNAFactory
	serverFactory adapters.StreamServerFactory
	deviceAddress string
	retry         RetryPolicy
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	payload    adapters.DLNAPayload
	server     adapters.StreamServer
	seenActive bool
	lastEvent  string
}

func NewDLNA(dlnaFactory adapters.DLNAFactory, serverFactory adapters.StreamServerFactory, deviceAddress string, opts CapabilityOptions) *DLNACapability {
	opts = opts.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	return &DLNACapability{
		dlnaFactory:   dlnaFactory,
		serverFactory: serverFactory,
		deviceAddress: deviceAddress,
		retry:         opts.Retry,
		logger:        opts.Logger.With(slog.String("protocol", "dlna")),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (d *DLNACapability) Play(ctx context.Context, req MediaRequest) error {
	if d.dlnaFactory == nil || d.serverFactory == nil {
		return errors.New("dlna adapter is not configured")
	}
	if strings.TrimSpace(req.URL) == "" {
		return errors.New("media url is empty")
	}
	d.release()

	payload, err := d.dlnaFactory.NewTVPayload(&soapcalls.Options{
		Ctx:   d.ctx,
		DMR:   d.deviceAddress,
		Media: req.URL,
		Mtype: req.MimeType,
		Seek:  true,
	})
	if err != nil {
		return fmt.Errorf("dlna payload: %w", err)
	}
	payload.SetContext(d.ctx)

	server := d.serverFactory.New(payload.ListenAddress())
	started := make(chan error, 1)
	go server.StartServer(started, directURLPlaceholder, "", payload.RawPayload(), &eventScreen{capability: d})
	select {
	case err := <-started:
		if err != nil {
			return fmt.Errorf("dlna callback server: %w", err)
		}
	case <-ctx.Done():
		server.StopServer()
		return ctx.Err()
	}
	payload.SetMediaURL(req.URL)

	if err := d.retry.do(ctx, d.logger, "dlna_play", func() error {
		return payload.SendtoTV("Play1")
	}); err != nil {
		server.StopServer()
		return fmt.Errorf("dlna play: %w", err)
	}

	d.mu.Lock()
	d.payload = payload
	d.server = server
	d.seenActive = false
	d.lastEvent = ""
	d.mu.Unlock()
	return nil
}

func (d *DLNACapability) Stop(ctx context.Context) error {
	d.mu.Lock()
	payload := d.payload
	d.mu.Unlock()
	if payload == nil {
		return nil
	}

	err := d.retry.do(ctx, d.logger, "dlna_stop", func() error {
		return payload.SendtoTV("Stop")
	})
	d.release()
	return err
}

// QueryState asks the renderer for its transport state. When the query fails
// a renderer event received since the last query stands in for it.
func (d *DLNACapability) QueryState(ctx context.Context) (string, error) {
	d.mu.Lock()
	payload := d.payload
	d.mu.Unlock()
	if payload == nil {
		return "", errNoMedia
	}

	state := ""
	info, err := payload.GetTransportInfo()
	if err == nil && len(info) > 0 {
		state = strings.TrimSpace(info[0])
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if state == "" {
		state, d.lastEvent = d.lastEvent, ""
		if state == "" {
			if err == nil {
				err = errors.New("empty transport info")
			}
			return "", err
		}
	}

	switch strings.ToUpper(strings.ReplaceAll(state, " ", "_")) {
	case "PLAYING", "PAUSED_PLAYBACK", "PAUSED":
		d.seenActive = true
	case "STOPPED", "NO_MEDIA_PRESENT":
		if !d.seenActive {
			return "TRANSITIONING", nil
		}
	}
	return state, nil
}

func (d *DLNACapability) Close() error {
	d.release()
	d.cancel()
	return nil
}

func (d *DLNACapability) release() {
	d.mu.Lock()
	server := d.server
	d.server = nil
	d.payload = nil
	d.mu.Unlock()
	if server != nil {
		server.StopServer()
	}
}

func (d *DLNACapability) recordEvent(msg string) {
	d.mu.Lock()
	d.lastEvent = msg
	d.mu.Unlock()
}

// eventScreen receives renderer state callbacks from the go2tv server.
type eventScreen struct {
	capability *DLNACapability
}

func (e *eventScreen) EmitMsg(msg string) {
	if e == nil || e.capability == nil {
		return
	}
	e.capability.recordEvent(strings.TrimSpace(msg))
}

func (e *eventScreen) Fini() {}

func (e *eventScreen) SetMediaType(string) {}
