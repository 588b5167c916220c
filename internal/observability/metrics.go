package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BrokerMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tellecast_broker_messages_total",
		Help: "Broker deliveries by exchange and outcome (ack, retry, dead_letter).",
	}, []string{"exchange", "outcome"})

	PushAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tellecast_push_attempts_total",
		Help: "Push provider calls by platform and outcome.",
	}, []string{"platform", "outcome"})

	Thumbnails = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tellecast_thumbnails_total",
		Help: "Derivatives by object kind and outcome (created, exists, failed).",
	}, []string{"kind", "outcome"})

	GatewaySessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tellecast_gateway_sessions",
		Help: "Live authenticated WebSocket sessions in this process.",
	})

	GatewayFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tellecast_gateway_frames_total",
		Help: "WebSocket frames by direction (in, out, dropped) and subject.",
	}, []string{"direction", "subject"})

	ProximityQueries = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tellecast_proximity_query_seconds",
		Help:    "Latency of nearby and cluster queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)
