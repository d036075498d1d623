package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"go2tv.app/lgremote/internal/diagnostics"
	"go2tv.app/lgremote/internal/metrics"
)

const (
	stageModeMerged = "merged"
	stageModeMuxed  = "muxed"

	defaultDownloadRetries = 3
	mergedMimeType         = "video/mp4"
)

var runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type StagerOptions struct {
	CacheDir   string
	HTTPClient *http.Client
	Retries    int
	Logger     *slog.Logger
}

// Stager downloads remote media into a cache directory, merges split
// video/audio streams with ffmpeg and publishes the result.
type Stager struct {
	client     *retryablehttp.Client
	publisher  Publisher
	cacheDir   string
	ffmpegPath func() (string, error)
	logger     *slog.Logger
}

func NewStager(publisher Publisher, opts StagerOptions) *Stager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	client := retryablehttp.NewClient()
	client.Logger = logger
	client.RetryMax = defaultDownloadRetries
	if opts.Retries > 0 {
		client.RetryMax = opts.Retries
	}
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "lgremote")
	}

	return &Stager{
		client:     client,
		publisher:  publisher,
		cacheDir:   cacheDir,
		ffmpegPath: diagnostics.FFmpegPath,
		logger:     logger,
	}
}

// Merge downloads both streams concurrently, muxes them into one mp4 and
// publishes it.
func (s *Stager) Merge(ctx context.Context, res Resolution, name string) (Resolution, error) {
	if !res.NeedsMerge() {
		return Resolution{}, errors.New("resolution has no separate video and audio streams")
	}
	ffmpeg, err := s.ffmpegPath()
	if err != nil {
		s.count(stageModeMerged, err)
		return Resolution{}, err
	}
	dir, err := s.workDir()
	if err != nil {
		s.count(stageModeMerged, err)
		return Resolution{}, err
	}
	defer os.RemoveAll(dir)

	videoPath := filepath.Join(dir, "video"+extOr(res.VideoURL, ".mp4"))
	audioPath := filepath.Join(dir, "audio"+extOr(res.AudioURL, ".m4a"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.download(gctx, res.VideoURL, videoPath) })
	g.Go(func() error { return s.download(gctx, res.AudioURL, audioPath) })
	if err := g.Wait(); err != nil {
		s.count(stageModeMerged, err)
		return Resolution{}, err
	}

	outPath := filepath.Join(s.cacheDir, safeName(name, ".mp4"))
	output, err := runCommand(ctx, ffmpeg,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-strict", "experimental",
		outPath,
	)
	if err != nil {
		_ = os.Remove(outPath)
		err = fmt.Errorf("ffmpeg merge: %w: %s", err, lastLine(output))
		s.count(stageModeMerged, err)
		return Resolution{}, err
	}

	published, err := s.publish(ctx, outPath)
	s.count(stageModeMerged, err)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{PlayableURL: published, MimeType: mergedMimeType}, nil
}

// Download copies a single remote stream into the cache and publishes it.
func (s *Stager) Download(ctx context.Context, res Resolution, name string) (Resolution, error) {
	if !res.Playable() {
		return Resolution{}, errors.New("resolution has no playable url")
	}
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		s.count(stageModeMuxed, err)
		return Resolution{}, fmt.Errorf("create cache dir: %w", err)
	}

	outPath := filepath.Join(s.cacheDir, safeName(name, extOr(res.PlayableURL, ".mp4")))
	if err := s.download(ctx, res.PlayableURL, outPath); err != nil {
		s.count(stageModeMuxed, err)
		return Resolution{}, err
	}
	published, err := s.publish(ctx, outPath)
	s.count(stageModeMuxed, err)
	if err != nil {
		return Resolution{}, err
	}

	mimeType := res.MimeType
	if mimeType == "" || mimeType == octetStream {
		mimeType = DetectFileMediaType(outPath)
	}
	return Resolution{PlayableURL: published, MimeType: mimeType}, nil
}

func (s *Stager) download(ctx context.Context, sourceURL, dest string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", redactURL(sourceURL), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", redactURL(sourceURL), resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dest), err)
	}
	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("download %s: %w", redactURL(sourceURL), copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(dest)
		return closeErr
	}

	s.logger.Debug("media_downloaded", slog.String("file", filepath.Base(dest)), slog.Int64("bytes", written))
	return nil
}

func (s *Stager) publish(ctx context.Context, localPath string) (string, error) {
	if owner, ok := s.publisher.(OwningPublisher); ok {
		return owner.PublishOwned(ctx, localPath)
	}
	if s.publisher == nil {
		_ = os.Remove(localPath)
		return "", errors.New("no publisher configured")
	}
	mediaURL, err := s.publisher.Publish(ctx, localPath)
	if err != nil {
		_ = os.Remove(localPath)
	}
	return mediaURL, err
}

func (s *Stager) workDir() (string, error) {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}
	dir, err := os.MkdirTemp(s.cacheDir, "stage-")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	return dir, nil
}

func (s *Stager) count(mode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Warn("media_stage_failed", slog.String("mode", mode), slog.String("error", err.Error()))
	}
	metrics.MediaStaged.WithLabelValues(mode, outcome).Inc()
}

func extOr(source, fallback string) string {
	if ext := mediaExt(source); ext != "" {
		return ext
	}
	return fallback
}

// safeName keeps letters, digits, dash and underscore from name and adds a
// random suffix so concurrent stages never share a file.
func safeName(name, ext string) string {
	var b strings.Builder
	for _, r := range strings.TrimSuffix(name, filepath.Ext(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	base := b.String()
	if base == "" {
		base = "media"
	}
	return base + "-" + randomToken(4) + ext
}

func redactURL(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
