package cast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"go2tv.app/lgremote/internal/domain"
)

type fakeCapability struct {
	mu         sync.Mutex
	plays      []MediaRequest
	stops      int
	closes     int
	playErr    error
	stopErr    error
	states     []string
	queryCalls int
}

func (f *fakeCapability) Play(_ context.Context, req MediaRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, req)
	return f.playErr
}

func (f *fakeCapability) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

// QueryState replays states in order and then repeats the last one.
func (f *fakeCapability) QueryState(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if len(f.states) == 0 {
		return "", errors.New("no state")
	}
	state := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return state, nil
}

func (f *fakeCapability) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeCapability) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func newTestSession(t *testing.T, capability Capability) *Session {
	t.Helper()
	s := NewSession(capability, Options{PollInterval: 5 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitForState(t *testing.T, s *Session, want domain.StateKind) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.CurrentState().Kind == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", s.CurrentState(), want)
}

func TestSessionStartsIdle(t *testing.T) {
	s := newTestSession(t, &fakeCapability{})
	if got := s.CurrentState(); got != domain.Idle {
		t.Fatalf("initial state = %s, want idle", got)
	}
}

func TestPlayMediaPollsUntilFinished(t *testing.T) {
	defer goleak.VerifyNone(t)

	capability := &fakeCapability{states: []string{"BUFFERING", "PLAYING", "PLAYING", "FINISHED"}}
	s := NewSession(capability, Options{PollInterval: 5 * time.Millisecond})
	defer s.Close()

	if err := s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4", MimeType: "video/mp4"}); err != nil {
		t.Fatalf("PlayMedia returned error: %v", err)
	}
	if got := s.CurrentState().Kind; got != domain.StatePlaying && got != domain.StateFinished {
		t.Fatalf("state after play = %s", got)
	}
	waitForState(t, s, domain.StateFinished)
}

func TestPlayImageDoesNotPoll(t *testing.T) {
	capability := &fakeCapability{states: []string{"FINISHED"}}
	s := newTestSession(t, capability)

	if err := s.PlayImage(context.Background(), MediaRequest{URL: "http://host/a.jpg", MimeType: "image/jpeg"}); err != nil {
		t.Fatalf("PlayImage returned error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	if got := s.CurrentState(); got != domain.Playing {
		t.Fatalf("image state = %s, want playing", got)
	}
	capability.mu.Lock()
	defer capability.mu.Unlock()
	if capability.queryCalls != 0 {
		t.Fatalf("QueryState called %d times for image", capability.queryCalls)
	}
}

func TestPlayFailureSetsErrorState(t *testing.T) {
	capability := &fakeCapability{playErr: errors.New("device refused")}
	s := newTestSession(t, capability)

	err := s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4"})
	if err == nil {
		t.Fatal("expected play error")
	}
	got := s.CurrentState()
	if got.Kind != domain.StateError || got.Message != "device refused" {
		t.Fatalf("state = %+v, want error with message", got)
	}
}

func TestPausedIsNotTerminal(t *testing.T) {
	capability := &fakeCapability{states: []string{"PAUSED_PLAYBACK", "PAUSED_PLAYBACK", "PLAYING", "STOPPED"}}
	s := newTestSession(t, capability)

	sub, cancel := s.Subscribe()
	defer cancel()

	if err := s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4"}); err != nil {
		t.Fatalf("PlayMedia returned error: %v", err)
	}
	waitForState(t, s, domain.StateStopped)

	var seen []domain.StateKind
	for len(sub) > 0 {
		seen = append(seen, (<-sub).Kind)
	}
	want := []domain.StateKind{domain.StateLoading, domain.StatePlaying, domain.StatePaused, domain.StatePlaying, domain.StateStopped}
	if len(seen) != len(want) {
		t.Fatalf("states = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("states = %v, want %v", seen, want)
		}
	}
}

func TestUnknownStatesAreIgnored(t *testing.T) {
	capability := &fakeCapability{states: []string{"WARMING_UP"}}
	s := newTestSession(t, capability)

	if err := s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4"}); err != nil {
		t.Fatalf("PlayMedia returned error: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := s.CurrentState(); got != domain.Playing {
		t.Fatalf("state = %s, want playing", got)
	}
}

func TestStopIsNoOpWhenIdle(t *testing.T) {
	capability := &fakeCapability{}
	s := newTestSession(t, capability)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if capability.stopCount() != 0 {
		t.Fatalf("capability stop called %d times", capability.stopCount())
	}
}

func TestStopHaltsPollerAndMedia(t *testing.T) {
	defer goleak.VerifyNone(t)

	capability := &fakeCapability{states: []string{"PLAYING"}}
	s := NewSession(capability, Options{PollInterval: 5 * time.Millisecond})
	defer s.Close()

	if err := s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4"}); err != nil {
		t.Fatalf("PlayMedia returned error: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if got := s.CurrentState(); got != domain.Stopped {
		t.Fatalf("state = %s, want stopped", got)
	}
	if capability.stopCount() != 1 {
		t.Fatalf("capability stop called %d times, want 1", capability.stopCount())
	}

	// No poller result may overwrite the stop.
	time.Sleep(30 * time.Millisecond)
	if got := s.CurrentState(); got != domain.Stopped {
		t.Fatalf("state after wait = %s, want stopped", got)
	}
}

func TestStaleQueryResultIsDiscarded(t *testing.T) {
	s := newTestSession(t, &fakeCapability{})

	stale := s.reset(domain.Loading, sourceRequest)
	s.reset(domain.Playing, sourceRequest)

	if s.observe(stale, domain.Finished) {
		t.Fatal("observe with stale generation should report the poller as stale")
	}
	if got := s.CurrentState(); got != domain.Playing {
		t.Fatalf("state = %s, want playing", got)
	}
}

func TestTerminalStateIsNotOverwrittenByPoller(t *testing.T) {
	s := newTestSession(t, &fakeCapability{})

	gen := s.reset(domain.Finished, sourceRequest)
	if !s.observe(gen, domain.Playing) {
		t.Fatal("observe with current generation should keep the poller alive")
	}
	if got := s.CurrentState(); got != domain.Finished {
		t.Fatalf("state = %s, want finished", got)
	}
}

func TestClosedSessionRejectsPlay(t *testing.T) {
	capability := &fakeCapability{}
	s := NewSession(capability, Options{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	if capability.closes != 1 {
		t.Fatalf("capability closed %d times, want 1", capability.closes)
	}
	if err := s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4"}); !errors.Is(err, domain.ErrClosed) {
		t.Fatalf("PlayMedia after close = %v, want ErrClosed", err)
	}

	sub, _ := s.Subscribe()
	if _, ok := <-sub; ok {
		t.Fatal("subscription on closed session should be closed")
	}
}

// blockingCapability holds Play until release is closed.
type blockingCapability struct {
	fakeCapability
	entered chan struct{}
	release chan struct{}
}

func (b *blockingCapability) Play(ctx context.Context, req MediaRequest) error {
	close(b.entered)
	<-b.release
	return b.fakeCapability.Play(ctx, req)
}

func TestCloseDuringPlayStartsNoPoller(t *testing.T) {
	defer goleak.VerifyNone(t)

	capability := &blockingCapability{
		fakeCapability: fakeCapability{states: []string{"PLAYING"}},
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	s := NewSession(capability, Options{PollInterval: time.Millisecond})

	played := make(chan error, 1)
	go func() {
		played <- s.PlayMedia(context.Background(), MediaRequest{URL: "http://host/a.mp4"})
	}()
	<-capability.entered

	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	close(capability.release)
	if err := <-played; err != nil {
		t.Fatalf("PlayMedia returned error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	capability.mu.Lock()
	queries := capability.queryCalls
	capability.mu.Unlock()
	if queries != 0 {
		t.Fatalf("closed session polled %d times", queries)
	}
}

func TestNormalizeState(t *testing.T) {
	cases := map[string]domain.StateKind{
		"PLAYING":          domain.StatePlaying,
		"buffering":        domain.StatePlaying,
		"TRANSITIONING":    domain.StatePlaying,
		"PAUSED_PLAYBACK":  domain.StatePaused,
		"STOPPED":          domain.StateStopped,
		"NO_MEDIA_PRESENT": domain.StateIdle,
		"idle":             domain.StateIdle,
		"finished":         domain.StateFinished,
		"error":            domain.StateError,
	}
	for raw, want := range cases {
		got, ok := NormalizeState(raw)
		if !ok || got.Kind != want {
			t.Fatalf("NormalizeState(%q) = %v, %v; want %s", raw, got, ok, want)
		}
	}
	if _, ok := NormalizeState("WARMING_UP"); ok {
		t.Fatal("unknown state should not normalize")
	}
}
