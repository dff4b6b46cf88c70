package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WebSocket Metrics
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "The current number of active WebSocket connections.",
	})
	TotalConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "The total number of messages received from clients, by type.",
	}, []string{"type"})
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_messages_dropped_total",
		Help: "The total number of inbound messages dropped as malformed or unknown.",
	}, []string{"reason"})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_sent_total",
		Help: "The total number of messages sent to clients.",
	})
	SendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_send_failures_total",
		Help: "The total number of peers closed because a send failed.",
	})

	// Collaboration Metrics
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collab_rooms_active",
		Help: "The current number of documents with at least one joined connection.",
	})
	Joins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collab_joins_total",
		Help: "The total number of JOIN_DOC requests, by outcome.",
	}, []string{"outcome"})
	ResyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collab_resync_duration_seconds",
		Help:    "Time spent fetching document content for a resync.",
		Buckets: prometheus.DefBuckets,
	})

	// Snapshot Metrics
	SnapshotsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_versions_created_total",
		Help: "The total number of auto-save versions written.",
	})
	SnapshotFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "snapshot_failures_total",
		Help: "The total number of documents skipped in a sweep because of a store error.",
	})

	// Broker Metrics
	BrokerMessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_messages_published_total",
		Help: "The total number of messages published to the message broker.",
	}, []string{"broker_type"})
	BrokerPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broker_publish_failures_total",
		Help: "The total number of activity messages that could not be published.",
	}, []string{"broker_type"})
	ActivityDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "broker_activity_dropped_total",
		Help: "The total number of activity messages dropped because the queue was full.",
	})

	// Auth Metrics
	AuthSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_success_total",
		Help: "The total number of successful authentications.",
	})
	AuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "The total number of failed authentications.",
	}, []string{"reason"})
)

// StartServer starts the HTTP server for Prometheus metrics.
func StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	glog.Infof("[metrics]starting metrics server on %s%s", addr, path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Errorf("[metrics]metrics server failed: %v", err)
		}
	}()
}
