package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chunk-transfer core.
type Metrics struct {
	// Download/upload session metrics
	DownloadSessionsTotal   *prometheus.CounterVec
	DownloadSessionsActive  prometheus.Gauge
	DownloadDuration        prometheus.Histogram
	UploadSessionsActive    prometheus.Gauge
	BytesTransferredTotal   *prometheus.CounterVec
	PiecesSentTotal         prometheus.Counter
	PiecesReceivedTotal     prometheus.Counter
	PiecesRetransmittedTotal *prometheus.CounterVec

	// Channel / transport metrics
	ChannelsActive        prometheus.Gauge
	DatagramSendFailures  prometheus.Counter
	ChannelEstimateRTT    prometheus.Histogram

	// FEC metrics
	FECEnabled                     prometheus.Gauge
	FECReconstructionsTotal        prometheus.Counter
	FECReconstructionFailuresTotal prometheus.Counter
	FECParityShardsSentTotal       prometheus.Counter

	activeDownloads int64
	activeUploads   int64
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		DownloadSessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndncore_download_sessions_total",
				Help: "Download sessions by terminal state",
			},
			[]string{"state"},
		),

		DownloadSessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndncore_download_sessions_active",
				Help: "Currently non-terminal download sessions",
			},
		),

		DownloadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ndncore_download_duration_seconds",
				Help:    "Time from Interesting to Finished|Canceled",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		),

		UploadSessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndncore_upload_sessions_active",
				Help: "Currently Uploading upload sessions",
			},
		),

		BytesTransferredTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndncore_bytes_transferred_total",
				Help: "Total piece bytes transferred",
			},
			[]string{"direction"},
		),

		PiecesSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ndncore_pieces_sent_total",
				Help: "Total pieces sent",
			},
		),

		PiecesReceivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ndncore_pieces_received_total",
				Help: "Total pieces received",
			},
		),

		PiecesRetransmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndncore_pieces_retransmitted_total",
				Help: "Pieces requiring retransmission",
			},
			[]string{"reason"},
		),

		ChannelsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndncore_channels_active",
				Help: "Live channels (non-dead, referenced)",
			},
		),

		DatagramSendFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ndncore_datagram_send_failures_total",
				Help: "Transport send_raw_data failures",
			},
		),

		ChannelEstimateRTT: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ndncore_channel_estimate_rtt_seconds",
				Help:    "ChannelEstimate round-trip latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),

		FECEnabled: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndncore_fec_enabled",
				Help: "FEC currently enabled (0/1)",
			},
		),

		FECReconstructionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ndncore_fec_reconstructions_total",
				Help: "Chunks reconstructed via FEC",
			},
		),

		FECReconstructionFailuresTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ndncore_fec_reconstruction_failures_total",
				Help: "Failed FEC reconstructions",
			},
		),

		FECParityShardsSentTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ndncore_fec_parity_shards_sent_total",
				Help: "Parity shards transmitted",
			},
		),
	}

	return m
}

// RecordDownloadStart increments the active-download gauge.
func (m *Metrics) RecordDownloadStart() {
	atomic.AddInt64(&m.activeDownloads, 1)
	m.DownloadSessionsActive.Set(float64(atomic.LoadInt64(&m.activeDownloads)))
}

// RecordDownloadTerminal records a download session reaching Finished or
// Canceled.
func (m *Metrics) RecordDownloadTerminal(state string, durationSeconds float64) {
	atomic.AddInt64(&m.activeDownloads, -1)
	m.DownloadSessionsActive.Set(float64(atomic.LoadInt64(&m.activeDownloads)))
	m.DownloadSessionsTotal.WithLabelValues(state).Inc()
	m.DownloadDuration.Observe(durationSeconds)
}

// RecordUploadStart increments the active-upload gauge.
func (m *Metrics) RecordUploadStart() {
	atomic.AddInt64(&m.activeUploads, 1)
	m.UploadSessionsActive.Set(float64(atomic.LoadInt64(&m.activeUploads)))
}

// RecordUploadTerminal decrements the active-upload gauge.
func (m *Metrics) RecordUploadTerminal() {
	atomic.AddInt64(&m.activeUploads, -1)
	m.UploadSessionsActive.Set(float64(atomic.LoadInt64(&m.activeUploads)))
}

// RecordPieceSent updates metrics for a sent piece.
func (m *Metrics) RecordPieceSent(bytes int) {
	m.PiecesSentTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("sent").Add(float64(bytes))
}

// RecordPieceReceived updates metrics for a received piece.
func (m *Metrics) RecordPieceReceived(bytes int) {
	m.PiecesReceivedTotal.Inc()
	m.BytesTransferredTotal.WithLabelValues("received").Add(float64(bytes))
}

// RecordPieceRetransmit increments retransmit counters.
func (m *Metrics) RecordPieceRetransmit(reason string) {
	m.PiecesRetransmittedTotal.WithLabelValues(reason).Inc()
}

// RecordFECReconstruction updates FEC reconstruction counters.
func (m *Metrics) RecordFECReconstruction(success bool) {
	if success {
		m.FECReconstructionsTotal.Inc()
	} else {
		m.FECReconstructionFailuresTotal.Inc()
	}
}

// SetFECEnabled sets the FEC enabled flag.
func (m *Metrics) SetFECEnabled(enabled bool) {
	if enabled {
		m.FECEnabled.Set(1)
	} else {
		m.FECEnabled.Set(0)
	}
}

// Handler exposes the Prometheus metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
