package adapters

import (
	"context"

	"go2tv.app/go2tv/v2/castprotocol"
	"go2tv.app/go2tv/v2/devices"
	"go2tv.app/go2tv/v2/httphandlers"
	"go2tv.app/go2tv/v2/soapcalls"
	"go2tv.app/go2tv/v2/utils"
)

// Discovery finds cast-capable renderers (DLNA and Chromecast) on the LAN.
type Discovery interface {
	StartChromecastDiscoveryLoop(ctx context.Context)
	LoadAllDevices(delaySeconds int) ([]devices.Device, error)
}

// CastClient represents a controllable Chromecast session.
type CastClient interface {
	Connect() error
	Load(mediaURL, contentType string, startTime int, duration float64, subtitleURL string, live bool) error
	Stop() error
	GetStatus() (*castprotocol.CastStatus, error)
	Close(stopMedia bool) error
}

type CastFactory interface {
	NewCastClient(deviceAddr string) (CastClient, error)
}

// DLNAPayload is the AVTransport control channel of a DLNA renderer.
type DLNAPayload interface {
	SendtoTV(action string) error
	GetTransportInfo() ([]string, error)
	ListenAddress() string
	SetContext(ctx context.Context)
	MediaURL() string
	SetMediaURL(mediaURL string)
	RawPayload() *soapcalls.TVPayload
}

type DLNAFactory interface {
	NewTVPayload(o *soapcalls.Options) (DLNAPayload, error)
}

// StreamServer is the local HTTP server the TV fetches media from.
type StreamServer interface {
	AddHandler(path string, payload *soapcalls.TVPayload, transcode *utils.TranscodeOptions, media any)
	StartServing(serverStarted chan<- error)
	StartServer(serverStarted chan<- error, media, subtitles any, tvpayload *soapcalls.TVPayload, screen httphandlers.Screen)
	StopServer()
}

type StreamServerFactory interface {
	New(addr string) StreamServer
}
