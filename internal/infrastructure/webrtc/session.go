package webrtc

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
)

// Session adapts one PeerConnection with its pair of data channels to the
// core's transport capability: the unordered, no-retransmit "audio"
// channel carries datagrams, the ordered "control" channel carries
// reliable JSON messages. Implements ports.TransportSession.
type Session struct {
	id         string
	remoteAddr string

	pc *webrtc.PeerConnection

	mu        sync.Mutex
	audioDC   *webrtc.DataChannel
	controlDC *webrtc.DataChannel

	connected atomic.Bool
	closeOnce sync.Once
}

func newSession(id, remoteAddr string, pc *webrtc.PeerConnection) *Session {
	return &Session{id: id, remoteAddr: remoteAddr, pc: pc}
}

// SendDatagram sends one audio datagram over the lossy channel.
func (s *Session) SendDatagram(data []byte) bool {
	s.mu.Lock()
	dc := s.audioDC
	s.mu.Unlock()
	if dc == nil || !s.connected.Load() {
		return false
	}
	return dc.Send(data) == nil
}

// SendReliable sends one control message over the ordered channel.
func (s *Session) SendReliable(message string) bool {
	s.mu.Lock()
	dc := s.controlDC
	s.mu.Unlock()
	if dc == nil || !s.connected.Load() {
		return false
	}
	return dc.SendText(message) == nil
}

// Close tears down the peer connection. Safe to call more than once; a
// late send after Close is a no-op failure, never a panic.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		_ = s.pc.Close()
	})
}

// ID returns the transport-assigned session ID.
func (s *Session) ID() string { return s.id }

// RemoteAddress returns the signaling-observed remote address.
func (s *Session) RemoteAddress() string { return s.remoteAddr }

// IsConnected reports whether the session is still usable.
func (s *Session) IsConnected() bool { return s.connected.Load() }

func (s *Session) setAudioDC(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.audioDC = dc
	s.mu.Unlock()
}

func (s *Session) setControlDC(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.controlDC = dc
	s.mu.Unlock()
}
