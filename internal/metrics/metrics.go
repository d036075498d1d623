package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lgremote"

var (
	// NetcastRequests counts legacy remote requests by operation and outcome
	// (ok, failed, unauthorized, no_session, transport_error).
	NetcastRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "netcast_requests_total",
		Help:      "Legacy remote protocol requests by operation and outcome.",
	}, []string{"op", "outcome"})

	SessionInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "netcast_session_invalidations_total",
		Help:      "Pairing sessions cleared after a 401 response.",
	})

	// AppLaunches counts launcher attempts by path (dial, legacy) and outcome.
	AppLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "app_launches_total",
		Help:      "App launch attempts by path and outcome.",
	}, []string{"path", "outcome"})

	CastStateChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cast_state_changes_total",
		Help:      "Playback state transitions by target state and source.",
	}, []string{"state", "source"})

	SequencerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequencer_runs_total",
		Help:      "Finished playlist runs by kind and final status.",
	}, []string{"kind", "status"})

	SequencerItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sequencer_items_total",
		Help:      "Playlist items by kind and outcome.",
	}, []string{"kind", "outcome"})

	ActiveRuns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sequencer_active_runs",
		Help:      "Currently running playlist runs by kind.",
	}, []string{"kind"})

	MediaStaged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "media_staged_total",
		Help:      "Media staging attempts by mode (muxed, merged) and outcome.",
	}, []string{"mode", "outcome"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
