package cast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go2tv.app/lgremote/internal/domain"
	"go2tv.app/lgremote/internal/metrics"
)

const (
	DefaultPollInterval = 2 * time.Second

	pollerStopWait      = 500 * time.Millisecond
	subscriberQueueSize = 16

	sourceRequest    = "request"
	sourceCapability = "capability"
	sourcePoller     = "poller"
)

type Options struct {
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Session owns the playback state of one cast device. Play and Stop are
// serialized; the poller runs in its own goroutine and only writes through
// observe, which drops results that belong to an earlier play.
type Session struct {
	capability Capability
	pollEvery  time.Duration
	logger     *slog.Logger

	opMu sync.Mutex

	mu          sync.Mutex
	state       domain.PlaybackState
	generation  uint64
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
	subscribers map[int]chan domain.PlaybackState
	nextSubID   int
	closed      bool

	closeOnce sync.Once
	closeErr  error
}

func NewSession(capability Capability, opts Options) *Session {
	pollEvery := opts.PollInterval
	if pollEvery <= 0 {
		pollEvery = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Session{
		capability:  capability,
		pollEvery:   pollEvery,
		logger:      logger,
		state:       domain.Idle,
		subscribers: map[int]chan domain.PlaybackState{},
	}
}

// CurrentState returns the latest state. Safe for concurrent use.
func (s *Session) CurrentState() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PlayMedia starts media that ends on its own and watches it until it does.
func (s *Session) PlayMedia(ctx context.Context, req MediaRequest) error {
	return s.play(ctx, req, true)
}

// PlayImage shows a still image. Images have no end event, so no poller runs.
func (s *Session) PlayImage(ctx context.Context, req MediaRequest) error {
	return s.play(ctx, req, false)
}

func (s *Session) play(ctx context.Context, req MediaRequest, watch bool) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.isClosed() {
		return domain.ErrClosed
	}
	s.stopPoller()
	s.reset(domain.Loading, sourceRequest)

	s.logger.Info("cast_play",
		slog.String("mime_type", req.MimeType),
		slog.String("title", req.Title),
		slog.Bool("watch", watch),
	)
	if err := s.capability.Play(ctx, req); err != nil {
		s.set(domain.ErrorState(err.Error()), sourceCapability)
		s.logger.Warn("cast_play_failed", slog.String("error", err.Error()))
		return err
	}

	gen := s.set(domain.Playing, sourceCapability)
	if watch {
		s.startPoller(gen)
	}
	return nil
}

// Stop halts the poller and the media. Stopping a session with nothing
// playing is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.stopPoller()
	current := s.CurrentState()
	if current.Kind == domain.StateIdle || current.Kind == domain.StateStopped {
		return nil
	}
	if s.isClosed() {
		return nil
	}

	if err := s.capability.Stop(ctx); err != nil {
		s.reset(domain.ErrorState(err.Error()), sourceCapability)
		s.logger.Warn("cast_stop_failed", slog.String("error", err.Error()))
		return err
	}
	s.reset(domain.Stopped, sourceCapability)
	return nil
}

// Subscribe returns a channel of state changes. Slow readers miss updates
// rather than block the session.
func (s *Session) Subscribe() (<-chan domain.PlaybackState, func()) {
	ch := make(chan domain.PlaybackState, subscriberQueueSize)
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
}

// Close stops the poller and releases the capability. Media keeps playing on
// the TV.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.stopPoller()

		s.mu.Lock()
		for id, sub := range s.subscribers {
			delete(s.subscribers, id)
			close(sub)
		}
		s.mu.Unlock()

		if s.capability != nil {
			s.closeErr = s.capability.Close()
		}
	})
	return s.closeErr
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// startPoller is a no-op once the session is closed, which covers a Close
// that lands while the capability's Play is still in flight.
func (s *Session) startPoller(gen uint64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.pollCancel = cancel
	s.pollDone = done
	s.mu.Unlock()

	go s.runPoller(ctx, gen, done)
}

func (s *Session) stopPoller() {
	s.mu.Lock()
	cancel, done := s.pollCancel, s.pollDone
	s.pollCancel, s.pollDone = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	// A query stuck in a vendor call may outlive the wait; its result is
	// discarded by the generation check.
	select {
	case <-done:
	case <-time.After(pollerStopWait):
		s.logger.Debug("cast_poller_stop_timeout")
	}
}

func (s *Session) runPoller(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		if !s.CurrentState().Active() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		raw, err := s.capability.QueryState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Debug("cast_poll_failed", slog.String("error", err.Error()))
			continue
		}
		next, ok := NormalizeState(raw)
		if !ok {
			s.logger.Debug("cast_poll_unknown_state", slog.String("raw", raw))
			continue
		}
		if !s.observe(gen, next) {
			return
		}
	}
}

// observe applies a poller result. It returns false once the poller is
// stale and should exit.
func (s *Session) observe(gen uint64, next domain.PlaybackState) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	if s.state.Terminal() || s.state == next {
		s.mu.Unlock()
		return true
	}
	s.state = next
	s.notifyLocked(next)
	s.mu.Unlock()

	s.record(next, sourcePoller)
	return true
}

// reset is an explicit transition: it supersedes any running poller.
func (s *Session) reset(next domain.PlaybackState, source string) uint64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.state = next
	s.notifyLocked(next)
	s.mu.Unlock()

	s.record(next, source)
	return gen
}

func (s *Session) set(next domain.PlaybackState, source string) uint64 {
	s.mu.Lock()
	gen := s.generation
	s.state = next
	s.notifyLocked(next)
	s.mu.Unlock()

	s.record(next, source)
	return gen
}

// notifyLocked must run under s.mu so it cannot race an unsubscribe closing
// the channel.
func (s *Session) notifyLocked(next domain.PlaybackState) {
	for _, sub := range s.subscribers {
		select {
		case sub <- next:
		default:
		}
	}
}

func (s *Session) record(next domain.PlaybackState, source string) {
	metrics.CastStateChanges.WithLabelValues(string(next.Kind), source).Inc()
	s.logger.Debug("cast_state", slog.String("state", next.String()), slog.String("source", source))
}
