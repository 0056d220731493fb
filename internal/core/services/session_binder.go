package services

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tutti/internal/core/domain"
	"tutti/internal/core/ports"
)

// pingInterval is how often the binder measures RTT on bound sessions.
const pingInterval = 5 * time.Second

// LatencyTelemetry records ping/pong round trips for bound participants.
type LatencyTelemetry interface {
	RecordPing(participantID string, pingID uint64)
	RecordPong(participantID string, pingID uint64) float64
	Stats(participantID string) domain.LatencyStats
	RemoveParticipant(participantID string)
}

// boundSession remembers which room and participant a session serves.
// Holding the session keeps the capability handle alive until close.
type boundSession struct {
	roomName      string
	participantID string
	session       ports.TransportSession
}

// SessionBinder turns generic transport events into room operations. A
// newly opened session is pending until its first reliable message, which
// must be a bind naming the room and participant; after that, datagrams
// flow to the room's audio path and control messages to its handlers.
// Implements ports.TransportCallbacks.
type SessionBinder struct {
	roomManager *RoomManager

	pendingMu sync.Mutex
	pending   map[string]ports.TransportSession

	bindingsMu sync.Mutex
	bindings   map[string]boundSession

	latency LatencyTelemetry

	pingSeq       atomic.Uint64
	pingerRunning atomic.Bool
	pingerStopped chan struct{}
	pingerQuit    chan struct{}

	logger *zap.SugaredLogger
}

// NewSessionBinder creates a binder over the room manager. latency may be
// nil to disable RTT measurement.
func NewSessionBinder(roomManager *RoomManager, latency LatencyTelemetry, logger *zap.SugaredLogger) *SessionBinder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SessionBinder{
		roomManager: roomManager,
		pending:     make(map[string]ports.TransportSession),
		bindings:    make(map[string]boundSession),
		latency:     latency,
		logger:      logger,
	}
}

// OnSessionOpen parks the session until its bind message arrives.
func (b *SessionBinder) OnSessionOpen(session ports.TransportSession) {
	sid := session.ID()
	b.logger.Infow("session awaiting bind", "session", sid)
	b.pendingMu.Lock()
	b.pending[sid] = session
	b.pendingMu.Unlock()
}

// OnMessage routes a reliable message: control traffic for bound
// sessions, the bind handshake for pending ones. Malformed messages are
// logged and dropped; the session survives.
func (b *SessionBinder) OnMessage(session ports.TransportSession, message string) {
	sid := session.ID()

	b.bindingsMu.Lock()
	bound, isBound := b.bindings[sid]
	b.bindingsMu.Unlock()

	if isBound {
		b.handleBoundMessage(bound, message)
		return
	}
	b.handleBind(session, sid, message)
}

// handleBoundMessage dispatches control messages on an established
// binding.
func (b *SessionBinder) handleBoundMessage(bound boundSession, message string) {
	var msg map[string]interface{}
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		b.logger.Warnw("invalid control message", "participant", bound.participantID, "error", err)
		return
	}
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "ping":
		// Echo back as pong, preserving all other fields.
		msg["type"] = "pong"
		if reply, err := json.Marshal(msg); err == nil {
			bound.session.SendReliable(string(reply))
		}

	case "pong":
		// Reply to one of our measurement pings.
		if b.latency != nil {
			if pingID, ok := msg["ping_id"].(float64); ok {
				b.latency.RecordPong(bound.participantID, uint64(pingID))
			}
		}

	case "set_gain":
		source, _ := msg["source"].(string)
		gain, ok := msg["gain"].(float64)
		if source == "" || !ok {
			b.logger.Warnw("set_gain missing fields", "participant", bound.participantID)
			return
		}
		if room := b.roomManager.Room(bound.roomName); room != nil {
			room.SetGain(bound.participantID, source, float32(gain))
		}

	case "set_mute":
		source, _ := msg["source"].(string)
		muted, ok := msg["muted"].(bool)
		if source == "" || !ok {
			b.logger.Warnw("set_mute missing fields", "participant", bound.participantID)
			return
		}
		if room := b.roomManager.Room(bound.roomName); room != nil {
			room.SetMute(bound.participantID, source, muted)
		}

	case "stats":
		if b.latency == nil {
			return
		}
		stats := b.latency.Stats(bound.participantID)
		reply, err := json.Marshal(struct {
			Type string `json:"type"`
			domain.LatencyStats
		}{Type: "stats", LatencyStats: stats})
		if err == nil {
			bound.session.SendReliable(string(reply))
		}

	default:
		b.logger.Debugw("unhandled control message", "type", msgType, "participant", bound.participantID)
	}
}

// handleBind consumes the first reliable message on a pending session.
func (b *SessionBinder) handleBind(session ports.TransportSession, sid, message string) {
	var msg struct {
		Type          string `json:"type"`
		ParticipantID string `json:"participant_id"`
		Room          string `json:"room"`
	}
	if err := json.Unmarshal([]byte(message), &msg); err != nil {
		b.logger.Warnw("invalid json from pending session", "session", sid, "error", err)
		return
	}
	if msg.Type != "bind" {
		b.logger.Warnw("expected bind message", "session", sid, "got", msg.Type)
		return
	}
	if msg.ParticipantID == "" || msg.Room == "" {
		b.logger.Warnw("bind message missing fields", "session", sid)
		return
	}

	room := b.roomManager.Room(msg.Room)
	if room == nil {
		b.logger.Warnw("bind to unknown room", "session", sid, "room", msg.Room)
		session.SendReliable(marshalMsg(errorMsg{Type: "error", Error: "room_not_found"}))
		return
	}

	b.pendingMu.Lock()
	owned, ok := b.pending[sid]
	if ok {
		delete(b.pending, sid)
	}
	b.pendingMu.Unlock()
	if !ok {
		b.logger.Warnw("bind from unknown session", "session", sid)
		return
	}

	if !room.AttachSession(msg.ParticipantID, owned) {
		b.logger.Warnw("bind to unknown participant",
			"session", sid, "room", msg.Room, "participant", msg.ParticipantID)
		session.SendReliable(marshalMsg(errorMsg{Type: "error", Error: "participant_not_found"}))
		b.pendingMu.Lock()
		b.pending[sid] = owned
		b.pendingMu.Unlock()
		return
	}

	b.bindingsMu.Lock()
	b.bindings[sid] = boundSession{
		roomName:      msg.Room,
		participantID: msg.ParticipantID,
		session:       owned,
	}
	b.bindingsMu.Unlock()

	b.logger.Infow("session bound", "session", sid, "room", msg.Room, "participant", msg.ParticipantID)
}

// OnDatagram routes an audio datagram to the bound room. Datagrams on
// pending sessions are dropped.
func (b *SessionBinder) OnDatagram(session ports.TransportSession, data []byte) {
	sid := session.ID()

	b.bindingsMu.Lock()
	bound, ok := b.bindings[sid]
	b.bindingsMu.Unlock()
	if !ok {
		return
	}

	if room := b.roomManager.Room(bound.roomName); room != nil {
		room.OnAudioReceived(bound.participantID, data)
	}
}

// OnSessionClose forgets the session; a bound one leaves its room.
func (b *SessionBinder) OnSessionClose(session ports.TransportSession) {
	sid := session.ID()

	b.pendingMu.Lock()
	delete(b.pending, sid)
	b.pendingMu.Unlock()

	b.bindingsMu.Lock()
	bound, ok := b.bindings[sid]
	if ok {
		delete(b.bindings, sid)
	}
	b.bindingsMu.Unlock()

	if ok {
		b.logger.Infow("session closed", "session", sid,
			"room", bound.roomName, "participant", bound.participantID)
		if b.latency != nil {
			b.latency.RemoveParticipant(bound.participantID)
		}
		b.roomManager.LeaveRoom(bound.roomName, bound.participantID)
	}
}

// StartPinger launches RTT measurement pings to all bound sessions.
// Idempotent; a nil latency sink makes this a no-op.
func (b *SessionBinder) StartPinger() {
	if b.latency == nil {
		return
	}
	if !b.pingerRunning.CompareAndSwap(false, true) {
		return
	}
	b.pingerStopped = make(chan struct{})
	b.pingerQuit = make(chan struct{})
	go b.pingerLoop()
}

// StopPinger halts RTT measurement. Idempotent.
func (b *SessionBinder) StopPinger() {
	if !b.pingerRunning.CompareAndSwap(true, false) {
		return
	}
	close(b.pingerQuit)
	<-b.pingerStopped
}

func (b *SessionBinder) pingerLoop() {
	defer close(b.pingerStopped)
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.pingBoundSessions()
		case <-b.pingerQuit:
			return
		}
	}
}

func (b *SessionBinder) pingBoundSessions() {
	b.bindingsMu.Lock()
	snapshot := make([]boundSession, 0, len(b.bindings))
	for _, bound := range b.bindings {
		snapshot = append(snapshot, bound)
	}
	b.bindingsMu.Unlock()

	for _, bound := range snapshot {
		pingID := b.pingSeq.Add(1)
		msg, err := json.Marshal(struct {
			Type   string `json:"type"`
			PingID uint64 `json:"ping_id"`
		}{Type: "ping", PingID: pingID})
		if err != nil {
			continue
		}
		b.latency.RecordPing(bound.participantID, pingID)
		bound.session.SendReliable(string(msg))
	}
}
