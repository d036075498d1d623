package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"go2tv.app/lgremote/internal/adapters"
)

const defaultMaxServers = 8

// LocalPublisher serves local files to one TV through go2tv's media server.
// Each file gets its own server; the oldest is stopped once MaxServers are
// running.
type LocalPublisher struct {
	factory       adapters.StreamServerFactory
	listenAddress func(deviceAddress string) (string, error)
	deviceAddress string
	maxServers    int
	logger        *slog.Logger

	mu      sync.Mutex
	servers []published
	closed  bool
}

type published struct {
	server adapters.StreamServer
	path   string
	owned  bool
}

type PublisherOptions struct {
	MaxServers int
	Logger     *slog.Logger
}

func NewLocalPublisher(factory adapters.StreamServerFactory, listenAddress func(string) (string, error), deviceAddress string, opts PublisherOptions) *LocalPublisher {
	maxServers := opts.MaxServers
	if maxServers <= 0 {
		maxServers = defaultMaxServers
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalPublisher{
		factory:       factory,
		listenAddress: listenAddress,
		deviceAddress: deviceAddress,
		maxServers:    maxServers,
		logger:        logger,
	}
}

func (p *LocalPublisher) Publish(ctx context.Context, localPath string) (string, error) {
	return p.publish(ctx, localPath, false)
}

// PublishOwned serves a staged file and removes it when its server is
// evicted or the publisher closes. The file is also removed when publishing
// fails.
func (p *LocalPublisher) PublishOwned(ctx context.Context, localPath string) (string, error) {
	mediaURL, err := p.publish(ctx, localPath, true)
	if err != nil {
		p.remove(localPath)
	}
	return mediaURL, err
}

func (p *LocalPublisher) publish(ctx context.Context, localPath string, owned bool) (string, error) {
	if p.factory == nil || p.listenAddress == nil {
		return "", errors.New("media server is not configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	listenAddr, err := p.listenAddress(p.deviceAddress)
	if err != nil {
		return "", fmt.Errorf("select media listen address: %w", err)
	}

	route := "/media/" + randomToken(8) + "-" + url.PathEscape(filepath.Base(localPath))
	server := p.factory.New(listenAddr)
	server.AddHandler(route, nil, nil, localPath)

	started := make(chan error, 1)
	go server.StartServing(started)
	select {
	case err := <-started:
		if err != nil {
			return "", fmt.Errorf("start media server: %w", err)
		}
	case <-ctx.Done():
		server.StopServer()
		return "", ctx.Err()
	}

	var evicted []published
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		server.StopServer()
		return "", errors.New("publisher is closed")
	}
	p.servers = append(p.servers, published{server: server, path: localPath, owned: owned})
	if len(p.servers) > p.maxServers {
		evicted = append(evicted, p.servers[0])
		p.servers = p.servers[1:]
	}
	p.mu.Unlock()
	p.release(evicted)

	mediaURL := "http://" + listenAddr + route
	p.logger.Info("media_published", slog.String("path", filepath.Base(localPath)), slog.String("url", mediaURL))
	return mediaURL, nil
}

func (p *LocalPublisher) Close() {
	p.mu.Lock()
	servers := p.servers
	p.servers = nil
	p.closed = true
	p.mu.Unlock()
	p.release(servers)
}

func (p *LocalPublisher) release(entries []published) {
	for _, entry := range entries {
		entry.server.StopServer()
		if entry.owned {
			p.remove(entry.path)
		}
	}
}

func (p *LocalPublisher) remove(localPath string) {
	if err := os.Remove(localPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("media_cleanup_failed", slog.String("path", filepath.Base(localPath)), slog.String("error", err.Error()))
	}
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "fallback"
	}
	return hex.EncodeToString(b)
}
