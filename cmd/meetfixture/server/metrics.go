package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are registered per Server so several servers can run in one
// process.
type metrics struct {
	rooms          prometheus.Gauge
	participants   prometheus.Gauge
	joins          *prometheus.CounterVec
	rtpPackets     *prometheus.CounterVec
	rtpBytes       *prometheus.CounterVec
	iceStates      *prometheus.CounterVec
	speakerChanges prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meetfixture",
			Name:      "rooms",
			Help:      "Number of rooms with at least one participant.",
		}),
		participants: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "meetfixture",
			Name:      "participants",
			Help:      "Number of joined participants across all rooms.",
		}),
		joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetfixture",
			Name:      "joins_total",
			Help:      "Join attempts by result.",
		}, []string{"result"}),
		rtpPackets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetfixture",
			Name:      "rtp_packets_total",
			Help:      "RTP packets received by media kind.",
		}, []string{"kind"}),
		rtpBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetfixture",
			Name:      "rtp_payload_bytes_total",
			Help:      "RTP payload bytes received by media kind.",
		}, []string{"kind"}),
		iceStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meetfixture",
			Name:      "ice_state_changes_total",
			Help:      "ICE connection state transitions by new state.",
		}, []string{"state"}),
		speakerChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: "meetfixture",
			Name:      "dominant_speaker_changes_total",
			Help:      "Dominant speaker elections that changed the speaker.",
		}),
	}
}
