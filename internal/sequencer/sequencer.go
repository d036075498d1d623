package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"go2tv.app/lgremote/internal/cast"
	"go2tv.app/lgremote/internal/domain"
	"go2tv.app/lgremote/internal/media"
	"go2tv.app/lgremote/internal/metrics"
)

const (
	progressLogEvery = 15
	cleanupTimeout   = 5 * time.Second

	outcomeDisplayed = "displayed"
	outcomeFinished  = "finished"
	outcomeAbnormal  = "abnormal"
	outcomeTimedOut  = "timed_out"
	outcomeSkipped   = "skipped"
)

// ErrNothingPlayed fails a run whose items were all skipped.
var ErrNothingPlayed = errors.New("no playlist item could be played")

// Player is the cast session a sequencer drives.
type Player interface {
	PlayMedia(ctx context.Context, req cast.MediaRequest) error
	PlayImage(ctx context.Context, req cast.MediaRequest) error
	Stop(ctx context.Context) error
	CurrentState() domain.PlaybackState
}

type Timings struct {
	SlideshowDelay time.Duration
	AlbumDelay     time.Duration
	LoadSettle     time.Duration
	PollInterval   time.Duration
	InterItemGap   time.Duration
	MaxPolls       int
}

func DefaultTimings() Timings {
	return Timings{
		SlideshowDelay: 5 * time.Second,
		AlbumDelay:     10 * time.Second,
		LoadSettle:     5 * time.Second,
		PollInterval:   2 * time.Second,
		InterItemGap:   2 * time.Second,
		MaxPolls:       900,
	}
}

func (t Timings) normalized() Timings {
	def := DefaultTimings()
	if t.SlideshowDelay <= 0 {
		t.SlideshowDelay = def.SlideshowDelay
	}
	if t.AlbumDelay <= 0 {
		t.AlbumDelay = def.AlbumDelay
	}
	if t.LoadSettle <= 0 {
		t.LoadSettle = def.LoadSettle
	}
	if t.PollInterval <= 0 {
		t.PollInterval = def.PollInterval
	}
	if t.InterItemGap <= 0 {
		t.InterItemGap = def.InterItemGap
	}
	if t.MaxPolls <= 0 {
		t.MaxPolls = def.MaxPolls
	}
	return t
}

type Options struct {
	Timings Timings
	Logger  *slog.Logger
}

// Sequencer runs image and video playlists against one device. Each kind has
// at most one active run.
type Sequencer struct {
	player   Player
	resolver media.Resolver
	timings  Timings
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	startMu sync.Mutex
	// cmdMu serializes play and stop calls on the device. Cancellation is
	// also taken under it, so a cancelled run cannot issue another command.
	cmdMu sync.Mutex

	mu     sync.Mutex
	runs   map[domain.RunKind]*Run
	last   map[domain.RunKind]*Run
	marker domain.PlaybackState
	closed bool
}

func New(player Player, resolver media.Resolver, opts Options) *Sequencer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sequencer{
		player:   player,
		resolver: resolver,
		timings:  opts.Timings.normalized(),
		logger:   logger,
		sleep:    sleepContext,
		runs:     map[domain.RunKind]*Run{},
		last:     map[domain.RunKind]*Run{},
		marker:   domain.Idle,
	}
}

// StartImages shows each image for the mode's delay, then stops the device.
func (s *Sequencer) StartImages(items []domain.PlaylistItem, mode domain.ImageMode) (*Run, error) {
	delay := mode.Delay(s.timings.SlideshowDelay, s.timings.AlbumDelay)
	return s.start(domain.RunImages, items, func(run *Run) error {
		return s.playImages(run, delay)
	})
}

// StartVideos plays each video until it ends, errors or hits the poll ceiling.
func (s *Sequencer) StartVideos(items []domain.PlaylistItem) (*Run, error) {
	return s.start(domain.RunVideos, items, s.playVideos)
}

// Stop cancels the active run of kind and waits for its cleanup.
func (s *Sequencer) Stop(kind domain.RunKind) {
	s.mu.Lock()
	run := s.runs[kind]
	s.mu.Unlock()
	if run != nil {
		s.cancelAndWait(run)
	}
}

func (s *Sequencer) StopAll() {
	s.Stop(domain.RunImages)
	s.Stop(domain.RunVideos)
}

// Active returns the running run of kind, or nil.
func (s *Sequencer) Active(kind domain.RunKind) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[kind]
}

// Last returns the most recent finished run of kind, or nil.
func (s *Sequencer) Last(kind domain.RunKind) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[kind]
}

// CurrentState is the playlist marker, which is Idle outside of video runs.
func (s *Sequencer) CurrentState() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marker
}

func (s *Sequencer) Close() {
	s.startMu.Lock()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.startMu.Unlock()
	s.StopAll()
}

func (s *Sequencer) start(kind domain.RunKind, items []domain.PlaylistItem, body func(*Run) error) (*Run, error) {
	if len(items) == 0 {
		return nil, domain.ErrEmptyPlaylist
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	previous := s.runs[kind]
	s.mu.Unlock()
	if closed {
		return nil, domain.ErrClosed
	}
	if previous != nil {
		s.logger.Info("sequencer_run_replaced",
			slog.String("kind", string(kind)),
			slog.String("run_id", previous.ID()),
		)
		s.cancelAndWait(previous)
	}

	run := newRun(kind, items)
	run.fire(eventStart)

	s.mu.Lock()
	s.runs[kind] = run
	s.mu.Unlock()
	metrics.ActiveRuns.WithLabelValues(string(kind)).Inc()

	s.logger.Info("sequencer_run_started",
		slog.String("kind", string(kind)),
		slog.String("run_id", run.ID()),
		slog.Int("items", len(run.items)),
	)
	go s.execute(run, body)
	return run, nil
}

func (s *Sequencer) cancelAndWait(run *Run) {
	s.cmdMu.Lock()
	run.cancel()
	s.cmdMu.Unlock()
	<-run.done
}

func (s *Sequencer) execute(run *Run, body func(*Run) error) {
	var err error
	defer close(run.done)
	defer func() { s.finish(run, err) }()
	defer s.cleanup(run)

	err = body(run)
}

// cleanup stops the device once per run, whether it completed, failed or
// was cancelled.
func (s *Sequencer) cleanup(run *Run) {
	run.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()

		s.cmdMu.Lock()
		err := s.player.Stop(ctx)
		s.cmdMu.Unlock()
		if err != nil {
			s.logger.Warn("sequencer_stop_failed",
				slog.String("run_id", run.ID()),
				slog.String("error", err.Error()),
			)
		}
		s.setMarker(domain.Idle)
	})
}

func (s *Sequencer) finish(run *Run, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		run.fire(eventCancel)
	case err != nil:
		run.mu.Lock()
		run.err = err
		run.mu.Unlock()
		run.fire(eventFail)
	default:
		run.fire(eventComplete)
	}
	run.cancel()

	s.mu.Lock()
	if s.runs[run.kind] == run {
		delete(s.runs, run.kind)
	}
	s.last[run.kind] = run
	s.mu.Unlock()

	status := run.Status()
	metrics.ActiveRuns.WithLabelValues(string(run.kind)).Dec()
	metrics.SequencerRuns.WithLabelValues(string(run.kind), string(status)).Inc()
	s.logger.Info("sequencer_run_finished",
		slog.String("kind", string(run.kind)),
		slog.String("run_id", run.ID()),
		slog.String("status", string(status)),
		slog.Int("position", run.Position()),
	)
}

func (s *Sequencer) playImages(run *Run, delay time.Duration) error {
	ctx := run.ctx
	total := len(run.items)
	var played int
	var lastErr error
	for i, item := range run.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.setPosition(i + 1)

		req, err := s.prepare(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.skip(run, item, err)
			lastErr = err
			continue
		}
		req.Title = fmt.Sprintf("%s (%d/%d)", req.Title, i+1, total)
		req.Description = fmt.Sprintf("Image %d of %d", i+1, total)

		if err := s.issue(ctx, func() error { return s.player.PlayImage(ctx, req) }); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.skip(run, item, err)
			lastErr = err
			continue
		}
		played++
		s.setMarker(domain.Playing)
		metrics.SequencerItems.WithLabelValues(string(run.kind), outcomeDisplayed).Inc()

		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return nothingPlayed(played, lastErr)
}

func nothingPlayed(played int, lastErr error) error {
	if played > 0 || lastErr == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNothingPlayed, lastErr)
}

func (s *Sequencer) playVideos(run *Run) error {
	ctx := run.ctx
	total := len(run.items)
	var played int
	var lastErr error
	for i, item := range run.items {
		if err := ctx.Err(); err != nil {
			return err
		}
		run.setPosition(i + 1)
		s.setMarker(domain.Loading)

		req, err := s.prepare(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.skip(run, item, err)
			lastErr = err
			continue
		}
		if err := s.issue(ctx, func() error { return s.player.PlayMedia(ctx, req) }); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.skip(run, item, err)
			lastErr = err
			continue
		}

		played++
		if err := s.sleep(ctx, s.timings.LoadSettle); err != nil {
			return err
		}
		s.setMarker(domain.Playing)

		outcome, err := s.monitor(ctx, run)
		if err != nil {
			return err
		}
		metrics.SequencerItems.WithLabelValues(string(run.kind), outcome).Inc()
		s.logger.Info("sequencer_item_done",
			slog.String("run_id", run.ID()),
			slog.Int("position", i+1),
			slog.String("outcome", outcome),
		)

		if i < total-1 {
			if err := s.sleep(ctx, s.timings.InterItemGap); err != nil {
				return err
			}
		}
	}
	return nothingPlayed(played, lastErr)
}

// monitor watches the player until the item ends. Paused counts as in
// progress; the poll ceiling bounds how long an item can hold the run.
func (s *Sequencer) monitor(ctx context.Context, run *Run) (string, error) {
	for poll := 1; poll <= s.timings.MaxPolls; poll++ {
		if err := s.sleep(ctx, s.timings.PollInterval); err != nil {
			return "", err
		}

		state := s.player.CurrentState()
		switch state.Kind {
		case domain.StateStopped, domain.StateIdle, domain.StateFinished:
			return outcomeFinished, nil
		case domain.StateError:
			s.logger.Warn("sequencer_item_error",
				slog.String("run_id", run.ID()),
				slog.String("message", state.Message),
			)
			return outcomeAbnormal, nil
		}

		if poll%progressLogEvery == 0 {
			s.logger.Debug("sequencer_monitoring",
				slog.String("run_id", run.ID()),
				slog.Int("poll", poll),
				slog.Int("max_polls", s.timings.MaxPolls),
				slog.String("state", state.String()),
			)
		}
	}

	s.logger.Warn("sequencer_item_timed_out",
		slog.String("run_id", run.ID()),
		slog.Int("polls", s.timings.MaxPolls),
	)
	return outcomeTimedOut, nil
}

// issue runs a device command unless the run was cancelled first.
func (s *Sequencer) issue(ctx context.Context, command func() error) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return command()
}

func (s *Sequencer) prepare(ctx context.Context, item domain.PlaylistItem) (cast.MediaRequest, error) {
	if s.resolver == nil {
		return cast.MediaRequest{}, fmt.Errorf("%w: no resolver configured", domain.ErrResolve)
	}
	resolved, err := s.resolver.Resolve(ctx, item.ContentRef)
	if err != nil {
		return cast.MediaRequest{}, fmt.Errorf("%w: %v", domain.ErrResolve, err)
	}
	if !resolved.Playable() {
		return cast.MediaRequest{}, fmt.Errorf("%w: %s has no playable url", domain.ErrResolve, item.ContentRef)
	}
	return cast.MediaRequest{
		URL:      resolved.PlayableURL,
		MimeType: resolved.MimeType,
		Title:    displayTitle(item),
	}, nil
}

func (s *Sequencer) skip(run *Run, item domain.PlaylistItem, err error) {
	metrics.SequencerItems.WithLabelValues(string(run.kind), outcomeSkipped).Inc()
	s.logger.Warn("sequencer_item_skipped",
		slog.String("run_id", run.ID()),
		slog.String("content_ref", item.ContentRef),
		slog.String("error", err.Error()),
	)
}

func (s *Sequencer) setMarker(state domain.PlaybackState) {
	s.mu.Lock()
	s.marker = state
	s.mu.Unlock()
}

func displayTitle(item domain.PlaylistItem) string {
	if title := strings.TrimSpace(item.DisplayTitle); title != "" {
		return title
	}
	ref := strings.TrimRight(item.ContentRef, "/")
	if base := path.Base(ref); base != "." && base != "/" {
		return base
	}
	return item.ContentRef
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}
