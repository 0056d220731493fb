package monitoring

import "time"

// Telemetry fans room-level measurements out to the latency tracker and
// the Prometheus collector. Either sink may be nil. Implements
// services.RoomTelemetry.
type Telemetry struct {
	Tracker   *LatencyTracker
	Collector *PrometheusCollector
}

// NewTelemetry bundles the two sinks.
func NewTelemetry(tracker *LatencyTracker, collector *PrometheusCollector) *Telemetry {
	return &Telemetry{Tracker: tracker, Collector: collector}
}

func (t *Telemetry) RecordJoin(room string) {
	if t.Collector != nil {
		t.Collector.RecordJoin(room)
	}
}

func (t *Telemetry) RecordLeave(room string) {
	if t.Collector != nil {
		t.Collector.RecordLeave(room)
	}
}

func (t *Telemetry) RecordMixDuration(room string, d time.Duration) {
	if t.Tracker != nil {
		t.Tracker.RecordMixDuration(d)
	}
	if t.Collector != nil {
		t.Collector.RecordMixDuration(d)
	}
}

func (t *Telemetry) RecordAudioReceived(room, participantID string) {
	if t.Collector != nil {
		t.Collector.RecordAudioReceived(room)
	}
}

func (t *Telemetry) RecordAudioSent(room, participantID string) {
	if t.Collector != nil {
		t.Collector.RecordAudioSent(room)
	}
}

func (t *Telemetry) RecordFastPathForward(room string) {
	if t.Collector != nil {
		t.Collector.RecordFastPathForward(room)
	}
}
