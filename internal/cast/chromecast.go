package cast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go2tv.app/lgremote/internal/adapters"
)

var errNotConnected = errors.New("cast device is not connected")

type CapabilityOptions struct {
	Retry  RetryPolicy
	Logger *slog.Logger
}

func (o CapabilityOptions) normalized() CapabilityOptions {
	if o.Retry.Attempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// ChromecastCapability plays media through the Cast v2 protocol.
type ChromecastCapability struct {
	factory adapters.CastFactory
	address string
	retry   RetryPolicy
	logger  *slog.Logger

	mu         sync.Mutex
	client     adapters.CastClient
	seenActive bool
}

func NewChromecast(factory adapters.CastFactory, address string, opts CapabilityOptions) *ChromecastCapability {
	opts = opts.normalized()
	return &ChromecastCapability{
		factory: factory,
		address: address,
		retry:   opts.Retry,
		logger:  opts.Logger.With(slog.String("protocol", "chromecast")),
	}
}

func (c *ChromecastCapability) Play(ctx context.Context, req MediaRequest) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.seenActive = false
	c.mu.Unlock()

	if err := c.retry.do(ctx, c.logger, "chromecast_load", func() error {
		return client.Load(req.URL, req.MimeType, 0, 0, "", false)
	}); err != nil {
		return fmt.Errorf("chromecast load: %w", err)
	}
	return nil
}

func (c *ChromecastCapability) Stop(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return c.retry.do(ctx, c.logger, "chromecast_stop", client.Stop)
}

// QueryState reports the receiver's player state. The receiver is IDLE both
// before a load takes hold and after media ends; the first case is reported
// as buffering so it is not mistaken for completion.
func (c *ChromecastCapability) QueryState(ctx context.Context) (string, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return "", errNotConnected
	}

	status, err := client.GetStatus()
	if err != nil {
		return "", err
	}
	if status == nil {
		return "", errors.New("chromecast returned empty status")
	}

	state := strings.ToLower(strings.TrimSpace(status.PlayerState))
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case "playing", "paused", "buffering":
		c.seenActive = true
	case "idle":
		if !c.seenActive {
			return "buffering", nil
		}
		return "finished", nil
	}
	return state, nil
}

func (c *ChromecastCapability) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close(false)
}

func (c *ChromecastCapability) connect(ctx context.Context) (adapters.CastClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.factory == nil {
		return nil, errors.New("chromecast adapter is not configured")
	}

	client, err := c.factory.NewCastClient(c.address)
	if err != nil {
		return nil, fmt.Errorf("create chromecast client: %w", err)
	}
	if err := c.retry.do(ctx, c.logger, "chromecast_connect", client.Connect); err != nil {
		_ = client.Close(false)
		return nil, fmt.Errorf("connect chromecast: %w", err)
	}
	c.client = client
	return client, nil
}
