package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_reconnects_total",
		Help: "Connection restarts by reason",
	}, []string{"reason"})

	heartbeatsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_heartbeats_sent_total",
		Help: "Heartbeats sent on the control channel",
	})

	heartbeatAcksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_heartbeat_acks_total",
		Help: "Heartbeat acknowledgements accepted",
	})

	livenessFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_liveness_failures_total",
		Help: "Heartbeat liveness failures by kind",
	}, []string{"kind"})

	decodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_frame_decode_errors_total",
		Help: "Inbound frames that failed to decode",
	})
)
