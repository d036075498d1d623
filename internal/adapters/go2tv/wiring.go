package go2tv

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
	"go2tv.app/go2tv/v2/utils"
	"go2tv.app/lgremote/internal/adapters"
)

// Bundle wires all external go2tv-backed adapters in one place.
type Bundle struct {
	Discovery     adapters.Discovery
	CastFactory   adapters.CastFactory
	DLNAFactory   adapters.DLNAFactory
	ServerFactory adapters.StreamServerFactory
	// ListenAddress picks the local ip:port a device can reach us on.
	ListenAddress func(deviceAddress string) (string, error)
}

func NewBundle() Bundle {
	return Bundle{
		Discovery:     DiscoveryAdapter{},
		CastFactory:   CastFactory{},
		DLNAFactory:   DLNAFactory{},
		ServerFactory: ServerFactory{},
		ListenAddress: utils.URLtoListenIPandPort,
	}
}

type DiscoveryAdapter struct{}

func (DiscoveryAdapter) StartChromecastDiscoveryLoop(ctx context.Context) {
	devices.StartChromecastDiscoveryLoop(ctx)
}

func (DiscoveryAdapter) LoadAllDevices(delaySeconds int) ([]devices.Device, error) {
	return devices.LoadAllDevices(delaySeconds)
}

type CastFactory struct{}

func (CastFactory) NewCastClient(deviceAddr string) (adapters.CastClient, error) {
	client, err := castprotocol.NewCastClient(deviceAddr)
	if err != nil {
		return nil, err
	}
	return &castClient{client: client}, nil
}

type castClient struct {
	client *castprotocol.CastClient
}

func (c *castClient) Connect() error {
	return c.client.Connect()
}

func (c *castClient) Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error {
	return c.client.Load(mediaURL, contentType, startTime, duration, subtitleURL, live)
}

func (c *castClient) Stop() error {
	return c.client.Stop()
}

func (c *castClient) GetStatus() (*castprotocol.CastStatus, error) {
	return c.client.GetStatus()
}

func (c *castClient) Close(stopMedia bool) error {
	return c.client.Close(stopMedia)
}

type DLNAFactory struct{}

func (DLNAFactory) NewTVPayload(o *soapcalls.Options) (adapters.DLNAPayload, error) {
	payload, err := soapcalls.NewTVPayload(o)
	if err != nil {
		return nil, err
	}
	return &dlnaPayload{payload: payload}, nil
}

// dlnaPayload exposes the exported MediaURL field through the interface.
type dlnaPayload struct {
	payload *soapcalls.TVPayload
}

func (d *dlnaPayload) SendtoTV(action string) error {
	return d.payload.SendtoTV(action)
}

func (d *dlnaPayload) GetTransportInfo() ([]string, error) {
	return d.payload.GetTransportInfo()
}

func (d *dlnaPayload) ListenAddress() string {
	return d.payload.ListenAddress()
}

func (d *dlnaPayload) SetContext(ctx context.Context) {
	d.payload.SetContext(ctx)
}

func (d *dlnaPayload) MediaURL() string {
	return d.payload.MediaURL
}

func (d *dlnaPayload) SetMediaURL(mediaURL string) {
	d.payload.MediaURL = mediaURL
}

func (d *dlnaPayload) RawPayload() *soapcalls.TVPayload {
	return d.payload
}

type ServerFactory struct{}

func (ServerFactory) New(addr string) adapters.StreamServer {
	return httphandlers.NewServer(addr)
}

var (
	_ adapters.Discovery           = DiscoveryAdapter{}
	_ adapters.CastFactory         = CastFactory{}
	_ adapters.DLNAFactory         = DLNAFactory{}
	_ adapters.StreamServerFactory = ServerFactory{}
)
