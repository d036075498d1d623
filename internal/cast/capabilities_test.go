package cast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
	"go2tv.app/go2tv/v2/utils"
	"go2tv.app/lgremote/internal/adapters"
)

type fakeCastFactory struct {
	client    *fakeCastClient
	err       error
	addresses []string
}

func (f *fakeCastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	f.addresses = append(f.addresses, deviceAddr)
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeCastClient struct {
	mu          sync.Mutex
	connects    int
	connectErrs []error
	loads       []string
	stops       int
	closes      int
	states      []string
}

func (c *fakeCastClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		return err
	}
	return nil
}

func (c *fakeCastClient) Load(mediaURL, contentType string, _ int, _ float64, _ string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads = append(c.loads, mediaURL+"|"+contentType)
	return nil
}

func (c *fakeCastClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	return nil
}

func (c *fakeCastClient) GetStatus() (*castprotocol.CastStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.states) == 0 {
		return nil, errors.New("no status")
	}
	state := c.states[0]
	c.states = c.states[1:]
	return &castprotocol.CastStatus{PlayerState: state}, nil
}

func (c *fakeCastClient) Close(bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

func fastRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestChromecastPlayConnectsOnceAndLoads(t *testing.T) {
	client := &fakeCastClient{connectErrs: []error{timeoutErr{}}}
	factory := &fakeCastFactory{client: client}
	c := NewChromecast(factory, "192.168.1.20:8009", CapabilityOptions{Retry: fastRetry()})

	for i := 0; i < 2; i++ {
		if err := c.Play(context.Background(), MediaRequest{URL: "http://host/a.mp4", MimeType: "video/mp4"}); err != nil {
			t.Fatalf("Play returned error: %v", err)
		}
	}

	if len(factory.addresses) != 1 || factory.addresses[0] != "192.168.1.20:8009" {
		t.Fatalf("factory calls = %v", factory.addresses)
	}
	if client.connects != 2 {
		t.Fatalf("connect attempts = %d, want 2 (one transient retry)", client.connects)
	}
	if len(client.loads) != 2 || client.loads[0] != "http://host/a.mp4|video/mp4" {
		t.Fatalf("loads = %v", client.loads)
	}
}

func TestChromecastIdleBeforePlaybackIsBuffering(t *testing.T) {
	client := &fakeCastClient{states: []string{"IDLE", "PLAYING", "IDLE"}}
	c := NewChromecast(&fakeCastFactory{client: client}, "tv:8009", CapabilityOptions{Retry: fastRetry()})

	if err := c.Play(context.Background(), MediaRequest{URL: "http://host/a.mp4"}); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}

	want := []string{"buffering", "playing", "finished"}
	for _, w := range want {
		got, err := c.QueryState(context.Background())
		if err != nil {
			t.Fatalf("QueryState returned error: %v", err)
		}
		if got != w {
			t.Fatalf("QueryState = %q, want %q", got, w)
		}
	}
}

func TestChromecastStopAndCloseWithoutConnection(t *testing.T) {
	client := &fakeCastClient{}
	c := NewChromecast(&fakeCastFactory{client: client}, "tv:8009", CapabilityOptions{})

	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if _, err := c.QueryState(context.Background()); err == nil {
		t.Fatal("expected QueryState error before connect")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if client.stops != 0 || client.closes != 0 {
		t.Fatalf("client touched without connection: stops=%d closes=%d", client.stops, client.closes)
	}
}

type fakeDLNAFactory struct {
	payload *fakeDLNAPayload
	options []*soapcalls.Options
}

func (f *fakeDLNAFactory) NewTVPayload(o *soapcalls.Options) (adapters.DLNAPayload, error) {
	f.options = append(f.options, o)
	return f.payload, nil
}

type fakeDLNAPayload struct {
	mu        sync.Mutex
	actions   []string
	mediaURL  string
	states    []string
	stateErr  error
	contextOK bool
}

func (p *fakeDLNAPayload) SendtoTV(action string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
	return nil
}

func (p *fakeDLNAPayload) GetTransportInfo() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stateErr != nil {
		return nil, p.stateErr
	}
	if len(p.states) == 0 {
		return nil, errors.New("no state")
	}
	state := p.states[0]
	p.states = p.states[1:]
	return []string{state, "OK", "1"}, nil
}

func (p *fakeDLNAPayload) ListenAddress() string { return "127.0.0.1:0" }
func (p *fakeDLNAPayload) SetContext(context.Context) { p.contextOK = true }
func (p *fakeDLNAPayload) MediaURL() string { return p.mediaURL }
func (p *fakeDLNAPayload) SetMediaURL(mediaURL string) { p.mediaURL = mediaURL }
func (p *fakeDLNAPayload) RawPayload() *soapcalls.TVPayload { return nil }

type fakeServerFactory struct {
	server *fakeStreamServer
	addrs  []string
}

func (f *fakeServerFactory) New(addr string) adapters.StreamServer {
	f.addrs = append(f.addrs, addr)
	return f.server
}

type fakeStreamServer struct {
	mu     sync.Mutex
	screen httphandlers.Screen
	stops  int
}

func (s *fakeStreamServer) AddHandler(string, *soapcalls.TVPayload, *utils.TranscodeOptions, any) {}

func (s *fakeStreamServer) StartServing(started chan<- error) { started <- nil }

func (s *fakeStreamServer) StartServer(started chan<- error, _, _ any, _ *soapcalls.TVPayload, screen httphandlers.Screen) {
	s.mu.Lock()
	s.screen = screen
	s.mu.Unlock()
	started <- nil
}

func (s *fakeStreamServer) StopServer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func newTestDLNA() (*DLNACapability, *fakeDLNAPayload, *fakeStreamServer) {
	payload := &fakeDLNAPayload{}
	server := &fakeStreamServer{}
	d := NewDLNA(&fakeDLNAFactory{payload: payload}, &fakeServerFactory{server: server}, "http://tv:1400/dmr.xml", CapabilityOptions{Retry: fastRetry()})
	return d, payload, server
}

func TestDLNAPlayPointsRendererAtMediaURL(t *testing.T) {
	d, payload, _ := newTestDLNA()
	defer d.Close()

	if err := d.Play(context.Background(), MediaRequest{URL: "http://cdn/a.mp4", MimeType: "video/mp4"}); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if payload.mediaURL != "http://cdn/a.mp4" {
		t.Fatalf("media url = %q", payload.mediaURL)
	}
	if len(payload.actions) != 1 || payload.actions[0] != "Play1" {
		t.Fatalf("actions = %v, want [Play1]", payload.actions)
	}
	if !payload.contextOK {
		t.Fatal("payload context was not set")
	}
}

func TestDLNAStoppedBeforePlaybackIsTransitioning(t *testing.T) {
	d, payload, _ := newTestDLNA()
	defer d.Close()
	payload.states = []string{"STOPPED", "PLAYING", "STOPPED"}

	if err := d.Play(context.Background(), MediaRequest{URL: "http://cdn/a.mp4"}); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	for _, want := range []string{"TRANSITIONING", "PLAYING", "STOPPED"} {
		got, err := d.QueryState(context.Background())
		if err != nil {
			t.Fatalf("QueryState returned error: %v", err)
		}
		if got != want {
			t.Fatalf("QueryState = %q, want %q", got, want)
		}
	}
}

func TestDLNAFallsBackToRendererEvent(t *testing.T) {
	d, payload, server := newTestDLNA()
	defer d.Close()

	if err := d.Play(context.Background(), MediaRequest{URL: "http://cdn/a.mp4"}); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	payload.stateErr = errors.New("soap fault")
	server.screen.EmitMsg("Playing")

	got, err := d.QueryState(context.Background())
	if err != nil {
		t.Fatalf("QueryState returned error: %v", err)
	}
	if got != "Playing" {
		t.Fatalf("QueryState = %q, want Playing", got)
	}
	if _, err := d.QueryState(context.Background()); err == nil {
		t.Fatal("event should be consumed by the first query")
	}
}

func TestDLNAStopSendsStopAndReleasesServer(t *testing.T) {
	d, payload, server := newTestDLNA()
	defer d.Close()

	if err := d.Play(context.Background(), MediaRequest{URL: "http://cdn/a.mp4"}); err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	if payload.actions[len(payload.actions)-1] != "Stop" {
		t.Fatalf("actions = %v, want trailing Stop", payload.actions)
	}
	if server.stops != 1 {
		t.Fatalf("server stops = %d, want 1", server.stops)
	}
	if _, err := d.QueryState(context.Background()); !errors.Is(err, errNoMedia) {
		t.Fatalf("QueryState after stop = %v, want errNoMedia", err)
	}
}
