package services

import (
	"sync"
	"time"
)

// fakeSession is an in-memory TransportSession that records everything
// sent through it.
type fakeSession struct {
	mu        sync.Mutex
	id        string
	remote    string
	closed    bool
	failSends bool
	datagrams [][]byte
	reliable  []string
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, remote: "127.0.0.1:9999"}
}

func (f *fakeSession) SendDatagram(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failSends {
		return false
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.datagrams = append(f.datagrams, buf)
	return true
}

func (f *fakeSession) SendReliable(message string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.failSends {
		return false
	}
	f.reliable = append(f.reliable, message)
	return true
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSession) ID() string            { return f.id }
func (f *fakeSession) RemoteAddress() string { return f.remote }

func (f *fakeSession) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeSession) sentDatagrams() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.datagrams))
	copy(out, f.datagrams)
	return out
}

func (f *fakeSession) sentReliable() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.reliable))
	copy(out, f.reliable)
	return out
}

// fakeTelemetry counts RoomTelemetry callbacks.
type fakeTelemetry struct {
	mu               sync.Mutex
	joins            int
	leaves           int
	mixCycles        int
	audioReceived    int
	audioSent        int
	fastPathForwards int
}

func (f *fakeTelemetry) RecordJoin(room string) {
	f.mu.Lock()
	f.joins++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordLeave(room string) {
	f.mu.Lock()
	f.leaves++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordMixDuration(room string, d time.Duration) {
	f.mu.Lock()
	f.mixCycles++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordAudioReceived(room, participantID string) {
	f.mu.Lock()
	f.audioReceived++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordAudioSent(room, participantID string) {
	f.mu.Lock()
	f.audioSent++
	f.mu.Unlock()
}

func (f *fakeTelemetry) RecordFastPathForward(room string) {
	f.mu.Lock()
	f.fastPathForwards++
	f.mu.Unlock()
}

type telemetryCounts struct {
	joins            int
	leaves           int
	mixCycles        int
	audioReceived    int
	audioSent        int
	fastPathForwards int
}

func (f *fakeTelemetry) snapshot() telemetryCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return telemetryCounts{
		joins:            f.joins,
		leaves:           f.leaves,
		mixCycles:        f.mixCycles,
		audioReceived:    f.audioReceived,
		audioSent:        f.audioSent,
		fastPathForwards: f.fastPathForwards,
	}
}
