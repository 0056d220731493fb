package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports room and audio-path metrics.
type PrometheusCollector struct {
	participantsTotal prometheus.Gauge
	roomOccupancy     *prometheus.GaugeVec

	audioReceivedTotal   *prometheus.CounterVec
	audioSentTotal       *prometheus.CounterVec
	fastPathForwardTotal *prometheus.CounterVec

	mixCycleDuration prometheus.Histogram
}

// NewPrometheusCollector registers the metric set with the default
// registry.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		participantsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tutti_participants_total",
			Help: "Total number of participants across all rooms",
		}),

		roomOccupancy: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tutti_room_occupancy",
			Help: "Number of participants per room",
		}, []string{"room"}),

		audioReceivedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutti_audio_datagrams_received_total",
			Help: "Audio datagrams received per room",
		}, []string{"room"}),

		audioSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutti_audio_datagrams_sent_total",
			Help: "Audio datagrams sent per room",
		}, []string{"room"}),

		fastPathForwardTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tutti_fast_path_forwards_total",
			Help: "Two-participant fast-path forwards per room",
		}, []string{"room"}),

		mixCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tutti_mix_cycle_duration_seconds",
			Help:    "Duration of one mixer cycle",
			Buckets: prometheus.ExponentialBuckets(0.000005, 2, 12),
		}),
	}
}

// RecordJoin bumps occupancy for a room.
func (c *PrometheusCollector) RecordJoin(room string) {
	c.participantsTotal.Inc()
	c.roomOccupancy.WithLabelValues(room).Inc()
}

// RecordLeave drops occupancy for a room.
func (c *PrometheusCollector) RecordLeave(room string) {
	c.participantsTotal.Dec()
	c.roomOccupancy.WithLabelValues(room).Dec()
}

// RecordAudioReceived counts one inbound datagram.
func (c *PrometheusCollector) RecordAudioReceived(room string) {
	c.audioReceivedTotal.WithLabelValues(room).Inc()
}

// RecordAudioSent counts one outbound datagram.
func (c *PrometheusCollector) RecordAudioSent(room string) {
	c.audioSentTotal.WithLabelValues(room).Inc()
}

// RecordFastPathForward counts one fast-path delivery.
func (c *PrometheusCollector) RecordFastPathForward(room string) {
	c.fastPathForwardTotal.WithLabelValues(room).Inc()
}

// RecordMixDuration observes one mixer cycle.
func (c *PrometheusCollector) RecordMixDuration(d time.Duration) {
	c.mixCycleDuration.Observe(d.Seconds())
}
