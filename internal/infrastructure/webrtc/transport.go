package webrtc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"tutti/internal/core/ports"
)

const (
	audioChannelLabel   = "audio"
	controlChannelLabel = "control"
)

// Transport builds WebRTC data-channel sessions from SDP offers handed in
// by the signaling layer, and raises core transport callbacks as channels
// open, traffic arrives, and connections die. The core only ever sees the
// ports.TransportSession capability.
type Transport struct {
	api       *webrtc.API
	rtcConfig webrtc.Configuration

	callbacks ports.TransportCallbacks

	mu       sync.Mutex
	sessions map[string]*Session

	logger *zap.SugaredLogger
}

// Config carries the transport's network parameters.
type Config struct {
	ICEServers []webrtc.ICEServer
	PortMin    uint16
	PortMax    uint16
}

// NewTransport creates the transport. Callbacks must be set before the
// first offer arrives.
func NewTransport(cfg Config, logger *zap.SugaredLogger) (*Transport, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	settings := webrtc.SettingEngine{}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := settings.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("failed to set UDP port range: %w", err)
		}
	}

	return &Transport{
		api:       webrtc.NewAPI(webrtc.WithSettingEngine(settings)),
		rtcConfig: webrtc.Configuration{ICEServers: cfg.ICEServers},
		sessions:  make(map[string]*Session),
		logger:    logger,
	}, nil
}

// SetCallbacks wires the core's event sinks.
func (t *Transport) SetCallbacks(callbacks ports.TransportCallbacks) {
	t.callbacks = callbacks
}

// HandleOffer answers a client SDP offer and returns the new session with
// the answer SDP. The client declares both data channels in its offer;
// the session opens (and OnSessionOpen fires) when the control channel
// comes up.
func (t *Transport) HandleOffer(remoteAddr, offerSDP string) (*Session, string, error) {
	pc, err := t.api.NewPeerConnection(t.rtcConfig)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create peer connection: %w", err)
	}

	session := newSession(uuid.NewString(), remoteAddr, pc)

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case audioChannelLabel:
			session.setAudioDC(dc)
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				if t.callbacks != nil {
					t.callbacks.OnDatagram(session, msg.Data)
				}
			})
		case controlChannelLabel:
			session.setControlDC(dc)
			dc.OnOpen(func() {
				session.connected.Store(true)
				if t.callbacks != nil {
					t.callbacks.OnSessionOpen(session)
				}
			})
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				if t.callbacks != nil {
					t.callbacks.OnMessage(session, string(msg.Data))
				}
			})
		default:
			t.logger.Warnw("unexpected data channel", "label", dc.Label(), "session", session.id)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debugw("peer connection state", "session", session.id, "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.dropSession(session)
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return nil, "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	t.mu.Lock()
	t.sessions[session.id] = session
	t.mu.Unlock()

	t.logger.Infow("session answered", "session", session.id, "remote", remoteAddr)
	return session, pc.LocalDescription().SDP, nil
}

// AddICECandidate applies a trickled candidate to a known session.
func (t *Transport) AddICECandidate(sessionID string, candidate webrtc.ICECandidateInit) error {
	t.mu.Lock()
	session, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}
	return session.pc.AddICECandidate(candidate)
}

// Stop closes every live session.
func (t *Transport) Stop() {
	t.mu.Lock()
	snapshot := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		snapshot = append(snapshot, s)
	}
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()

	for _, s := range snapshot {
		s.Close()
	}
}

// dropSession fires OnSessionClose exactly once per session.
func (t *Transport) dropSession(session *Session) {
	t.mu.Lock()
	_, known := t.sessions[session.id]
	delete(t.sessions, session.id)
	t.mu.Unlock()
	if !known {
		return
	}
	session.connected.Store(false)
	if t.callbacks != nil {
		t.callbacks.OnSessionClose(session)
	}
}
