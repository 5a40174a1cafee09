package monitoring

import (
	"time"

	"vidswarm/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TrackerCollector holds the tracker's metrics. It also satisfies protocol.ConnMetrics.
type TrackerCollector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	peersRegistered prometheus.Gauge
	catalogVideos   prometheus.Gauge
	peersExpired    prometheus.Counter

	connectionsActive   prometheus.Gauge
	connectionsRejected *prometheus.CounterVec
	protocolViolations  prometheus.Counter
}

// NewTrackerCollector registers the tracker metrics with reg.
func NewTrackerCollector(reg prometheus.Registerer) *TrackerCollector {
	factory := promauto.With(reg)
	return &TrackerCollector{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidswarm_tracker_requests_total",
			Help: "Requests handled by the tracker",
		}, []string{"kind", "result"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vidswarm_tracker_request_duration_seconds",
			Help:    "Time spent handling a tracker request",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"kind"}),

		peersRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_tracker_peers",
			Help: "Live peers in the registry",
		}),

		catalogVideos: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_tracker_catalog_videos",
			Help: "Published videos in the catalog",
		}),

		peersExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidswarm_tracker_peers_expired_total",
			Help: "Peers evicted for inactivity",
		}),

		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_tracker_connections_active",
			Help: "Open client connections",
		}),

		connectionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidswarm_tracker_connections_rejected_total",
			Help: "Connections refused before being served",
		}, []string{"reason"}),

		protocolViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidswarm_tracker_protocol_violations_total",
			Help: "Connections dropped for malformed or unexpected frames",
		}),
	}
}

func (c *TrackerCollector) RecordRequest(kind, result string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(kind, result).Inc()
	c.requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *TrackerCollector) UpdateRegistry(stats domain.RegistryStats) {
	c.peersRegistered.Set(float64(stats.Peers))
	c.catalogVideos.Set(float64(stats.PublishedCount))
}

func (c *TrackerCollector) RecordExpired(n int) {
	c.peersExpired.Add(float64(n))
}

func (c *TrackerCollector) ConnectionOpened()  { c.connectionsActive.Inc() }
func (c *TrackerCollector) ConnectionClosed()  { c.connectionsActive.Dec() }
func (c *TrackerCollector) ProtocolViolation() { c.protocolViolations.Inc() }

func (c *TrackerCollector) ConnectionRejected(reason string) {
	c.connectionsRejected.WithLabelValues(reason).Inc()
}

// PeerCollector holds a peer node's metrics. It also satisfies protocol.ConnMetrics
// for the transfer server.
type PeerCollector struct {
	bytesServed      prometheus.Counter
	bytesDownloaded  prometheus.Counter
	downloadsTotal   *prometheus.CounterVec
	downloadDuration prometheus.Histogram
	uploadsTotal     *prometheus.CounterVec

	transferConnections prometheus.Gauge
	protocolViolations  prometheus.Counter
	rejectedConnections *prometheus.CounterVec

	sessionsActive    prometheus.Gauge
	heartbeatFailures prometheus.Counter
	trackerAvailable  prometheus.Gauge
	publishedVideos   prometheus.Gauge
}

// NewPeerCollector registers the peer metrics with reg.
func NewPeerCollector(reg prometheus.Registerer) *PeerCollector {
	factory := promauto.With(reg)
	return &PeerCollector{
		bytesServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidswarm_peer_bytes_served_total",
			Help: "Video bytes sent to other peers",
		}),

		bytesDownloaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidswarm_peer_bytes_downloaded_total",
			Help: "Video bytes received from other peers",
		}),

		downloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidswarm_peer_downloads_total",
			Help: "Downloads attempted by this peer",
		}, []string{"result"}),

		downloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidswarm_peer_download_duration_seconds",
			Help:    "Duration of completed downloads",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		uploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidswarm_peer_uploads_total",
			Help: "GET_VIDEO requests served",
		}, []string{"result"}),

		transferConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_peer_transfer_connections_active",
			Help: "Open inbound transfer connections",
		}),

		protocolViolations: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidswarm_peer_protocol_violations_total",
			Help: "Inbound connections dropped for malformed frames",
		}),

		rejectedConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vidswarm_peer_connections_rejected_total",
			Help: "Inbound connections refused before being served",
		}, []string{"reason"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_peer_sessions_active",
			Help: "Open manual sessions",
		}),

		heartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidswarm_peer_heartbeat_failures_total",
			Help: "Heartbeats that did not reach the tracker",
		}),

		trackerAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_peer_tracker_available",
			Help: "1 while the tracker answers heartbeats",
		}),

		publishedVideos: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vidswarm_peer_published_videos",
			Help: "Videos this peer publishes",
		}),
	}
}

func (c *PeerCollector) RecordDownload(result string, bytes int64, duration time.Duration) {
	c.downloadsTotal.WithLabelValues(result).Inc()
	c.bytesDownloaded.Add(float64(bytes))
	if result == "ok" {
		c.downloadDuration.Observe(duration.Seconds())
	}
}

func (c *PeerCollector) RecordUpload(result string, bytes int64) {
	c.uploadsTotal.WithLabelValues(result).Inc()
	c.bytesServed.Add(float64(bytes))
}

func (c *PeerCollector) SetSessions(n int)  { c.sessionsActive.Set(float64(n)) }
func (c *PeerCollector) SetPublished(n int) { c.publishedVideos.Set(float64(n)) }

func (c *PeerCollector) RecordHeartbeatFailure() {
	c.heartbeatFailures.Inc()
}

func (c *PeerCollector) SetTrackerAvailable(up bool) {
	if up {
		c.trackerAvailable.Set(1)
	} else {
		c.trackerAvailable.Set(0)
	}
}

func (c *PeerCollector) ConnectionOpened()  { c.transferConnections.Inc() }
func (c *PeerCollector) ConnectionClosed()  { c.transferConnections.Dec() }
func (c *PeerCollector) ProtocolViolation() { c.protocolViolations.Inc() }

func (c *PeerCollector) ConnectionRejected(reason string) {
	c.rejectedConnections.WithLabelValues(reason).Inc()
}
