// Package metrics holds the Prometheus instruments shared by the host core
// and the companion service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Host side
	sessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livehost_sessions_live",
		Help: "Broadcast sessions currently live on this host process",
	})
	sessionStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livehost_session_starts_total",
		Help: "Broadcast start attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	callsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livehost_calls_ended_total",
		Help: "Bridged calls ended by reason",
	}, []string{"reason"})
	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livehost_call_duration_seconds",
		Help:    "Duration of bridged calls",
		Buckets: []float64{15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})
	waitlistLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livehost_waitlist_length",
		Help: "Call requests currently queued",
	})
	signalingReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livehost_signaling_reconnects_total",
		Help: "Signaling reconnect attempts",
	})
	restFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livehost_rest_failures_total",
		Help: "Failed REST calls by operation",
	}, []string{"op"})

	// Service side
	hubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livehost_hub_connections",
		Help: "Open signaling websocket connections",
	})
	hubMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livehost_hub_messages_total",
		Help: "Signaling messages relayed by the hub",
	}, []string{"event"})
	hubThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livehost_hub_throttled_total",
		Help: "Inbound viewer messages dropped by the rate limiter",
	})
)

func SessionStartFailed()     { sessionStarts.WithLabelValues("failure").Inc() }
func SessionEnded()           { sessionsLive.Dec() }
func SetWaitlistLength(n int) { waitlistLength.Set(float64(n)) }
func SignalingReconnect()     { signalingReconnects.Inc() }
func RESTFailure(op string)   { restFailures.WithLabelValues(op).Inc() }
func HubConnected()           { hubConnections.Inc() }
func HubDisconnected()        { hubConnections.Dec() }
func HubMessage(event string) { hubMessages.WithLabelValues(event).Inc() }
func HubThrottled()           { hubThrottled.Inc() }

// SessionStarted counts a successful start and the live session.
func SessionStarted() {
	sessionsLive.Inc()
	sessionStarts.WithLabelValues("success").Inc()
}

// CallEnded records a finished call.
func CallEnded(reason string, durationSec int) {
	callsEnded.WithLabelValues(reason).Inc()
	callDuration.Observe(float64(durationSec))
}
