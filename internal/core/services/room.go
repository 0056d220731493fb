package services

import (
	"encoding/binary"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tutti/internal/core/audio"
	"tutti/internal/core/domain"
	"tutti/internal/core/ports"
)

// framePeriod is the wall-clock duration of one mix quantum.
const framePeriod = time.Duration(domain.SamplesPerFrame) * time.Second / domain.SampleRate

// wakeTimeout is the mixer goroutine's deadline: slightly above one frame
// period so a straggling participant cannot stall the cycle.
const wakeTimeout = framePeriod + framePeriod/4

// RoomTelemetry receives room-level measurements. Implementations must be
// cheap; the mix loop calls RecordMixDuration once per cycle. Join and
// leave are recorded by the room itself so every removal path (voluntary
// leave, transport close, reaping) keeps occupancy accurate.
type RoomTelemetry interface {
	RecordJoin(room string)
	RecordLeave(room string)
	RecordMixDuration(room string, d time.Duration)
	RecordAudioReceived(room, participantID string)
	RecordAudioSent(room, participantID string)
	RecordFastPathForward(room string)
}

// participant is the room-level record for one member: alias, the bound
// transport session (nil between HTTP join and transport bind), the
// per-listener outgoing sequence counter, and activity stamps for the
// reaper.
type participant struct {
	alias               string
	session             ports.TransportSession
	outputSequence      uint32
	joinTime            time.Time
	lastAudioReceivedNS int64
	lastAudioSentNS     int64
}

type pendingSend struct {
	participantID string
	session       ports.TransportSession
	buf           [domain.AudioPacketSize]byte
}

// Room hosts one rehearsal room: the participant directory, the mixer and
// its dedicated goroutine, the two-participant fast path, reliable
// control broadcasts, and stale-participant reaping.
type Room struct {
	name              string
	maxParticipants   int
	unboundTimeout    time.Duration
	inactivityTimeout time.Duration

	mixer *audio.Mixer

	mu           sync.Mutex
	participants map[string]*participant

	passwordMu sync.Mutex
	password   string

	running atomic.Bool
	stopped chan struct{}

	// Event-driven mixing: each ingress push bumps framesReceived; the
	// pusher that completes the set posts a wake so the mixer goroutine
	// runs immediately instead of waiting out the deadline.
	wake           chan struct{}
	framesReceived atomic.Uint32

	// Reused by sendOutputs so the send path allocates nothing per cycle.
	pending []pendingSend

	telemetry RoomTelemetry
	logger    *zap.SugaredLogger
}

// RoomConfig carries room construction parameters.
type RoomConfig struct {
	MaxParticipants   int
	RingCapacity      int
	UnboundTimeout    time.Duration
	InactivityTimeout time.Duration
}

// DefaultRoomConfig matches the deployment defaults: quartets, ~170ms of
// ring buffer, and reap timeouts comfortably above bind latency.
func DefaultRoomConfig() RoomConfig {
	return RoomConfig{
		MaxParticipants:   4,
		RingCapacity:      audio.DefaultRingCapacity,
		UnboundTimeout:    2 * time.Minute,
		InactivityTimeout: 5 * time.Minute,
	}
}

// NewRoom creates a room. Call Start to launch the mixer goroutine.
func NewRoom(name string, cfg RoomConfig, telemetry RoomTelemetry, logger *zap.SugaredLogger) *Room {
	if cfg.MaxParticipants < 1 {
		cfg.MaxParticipants = 1
	}
	if cfg.RingCapacity < 1 {
		cfg.RingCapacity = audio.DefaultRingCapacity
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Room{
		name:              name,
		maxParticipants:   cfg.MaxParticipants,
		unboundTimeout:    cfg.UnboundTimeout,
		inactivityTimeout: cfg.InactivityTimeout,
		mixer:             audio.NewMixerWithCapacity(cfg.MaxParticipants, cfg.RingCapacity),
		participants:      make(map[string]*participant),
		wake:              make(chan struct{}, 1),
		pending:           make([]pendingSend, 0, cfg.MaxParticipants),
		telemetry:         telemetry,
		logger:            logger,
	}
}

// Start launches the mixer goroutine. Idempotent.
func (r *Room) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	r.stopped = make(chan struct{})
	go r.mixLoop()
}

// Stop halts the mixer goroutine and waits for it to exit. Idempotent.
func (r *Room) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	<-r.stopped
}

// AddParticipant admits a participant. The session may be nil for
// HTTP-join-before-bind; AttachSession completes the pairing later.
// Everyone else is told participant_joined; the newcomer gets room_state.
func (r *Room) AddParticipant(id, alias string, session ports.TransportSession) bool {
	r.mu.Lock()
	if len(r.participants) >= r.maxParticipants {
		r.mu.Unlock()
		return false
	}
	if _, exists := r.participants[id]; exists {
		r.mu.Unlock()
		return false
	}
	r.participants[id] = &participant{
		alias:    alias,
		session:  session,
		joinTime: time.Now(),
	}
	r.mixer.AddParticipant(id)

	joined := marshalMsg(participantJoinedMsg{Type: "participant_joined", ID: id, Name: alias})
	var peers []ports.TransportSession
	for pid, p := range r.participants {
		if pid != id && p.session != nil {
			peers = append(peers, p.session)
		}
	}
	state := r.roomStateLocked()
	newSession := r.participants[id].session
	r.mu.Unlock()

	for _, s := range peers {
		s.SendReliable(joined)
	}
	if newSession != nil {
		newSession.SendReliable(state)
	}
	if r.telemetry != nil {
		r.telemetry.RecordJoin(r.name)
	}
	r.logger.Infow("participant joined", "room", r.name, "participant", id, "alias", alias)
	return true
}

// AttachSession binds a transport session to an already-admitted
// participant and re-sends room_state over it.
func (r *Room) AttachSession(id string, session ports.TransportSession) bool {
	r.mu.Lock()
	p, ok := r.participants[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	p.session = session
	state := r.roomStateLocked()
	r.mu.Unlock()

	if session != nil {
		session.SendReliable(state)
	}
	return true
}

// RemoveParticipant unregisters id, tells the rest, and clears the
// password if the room just emptied. No-op for unknown ids.
func (r *Room) RemoveParticipant(id string) {
	r.mu.Lock()
	_, existed := r.participants[id]
	delete(r.participants, id)
	r.mixer.RemoveParticipant(id)
	left := marshalMsg(participantLeftMsg{Type: "participant_left", ID: id})
	var peers []ports.TransportSession
	for _, p := range r.participants {
		if p.session != nil {
			peers = append(peers, p.session)
		}
	}
	empty := len(r.participants) == 0
	r.mu.Unlock()

	if !existed {
		return
	}
	for _, s := range peers {
		s.SendReliable(left)
	}
	if empty {
		r.ClearPassword()
	}
	if r.telemetry != nil {
		r.telemetry.RecordLeave(r.name)
	}
	r.logger.Infow("participant left", "room", r.name, "participant", id)
}

// roomStateLocked builds the room_state message. Caller holds r.mu.
func (r *Room) roomStateLocked() string {
	infos := make([]domain.ParticipantInfo, 0, len(r.participants))
	for id, p := range r.participants {
		infos = append(infos, domain.ParticipantInfo{ID: id, Alias: p.alias})
	}
	return marshalMsg(roomStateMsg{Type: "room_state", Participants: infos})
}

// OnAudioReceived handles one incoming audio datagram from a bound
// participant. Short packets are rejected. With exactly two participants
// the frame is forwarded peer-to-peer without touching the mixer rings.
func (r *Room) OnAudioReceived(id string, data []byte) {
	if len(data) < domain.AudioPacketSize {
		return
	}

	var (
		peerSession ports.TransportSession
		peerID      string
		outputSeq   uint32
		fastPath    bool
		count       uint32
	)
	nowNS := time.Now().UnixNano()
	r.mu.Lock()
	count = uint32(len(r.participants))
	if p, ok := r.participants[id]; ok {
		p.lastAudioReceivedNS = nowNS
	}
	if count == 2 {
		for pid, p := range r.participants {
			if pid != id {
				peerID = pid
				peerSession = p.session
				outputSeq = p.outputSequence
				p.outputSequence++
				p.lastAudioSentNS = nowNS
				fastPath = true
				break
			}
		}
	}
	r.mu.Unlock()

	if r.telemetry != nil {
		r.telemetry.RecordAudioReceived(r.name, id)
	}

	if fastPath {
		r.forwardFastPath(id, peerID, peerSession, outputSeq, data)
		return
	}

	pkt := domain.DeserializeAudioPacket(data)
	frame := domain.FrameFromPacket(pkt)
	r.mixer.PushInput(id, &frame)

	// Wake the mixer as soon as the whole set has delivered this cycle.
	received := r.framesReceived.Add(1)
	if received >= count {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// forwardFastPath delivers one frame directly to the only other
// participant. Unity gain copies the datagram verbatim and overwrites the
// sequence header; any other gain decodes, scales with the same
// saturation as the mixer, and re-encodes.
func (r *Room) forwardFastPath(fromID, toID string, session ports.TransportSession, seq uint32, data []byte) {
	entry := r.mixer.GainEntryFor(toID, fromID)
	if entry.Muted || entry.Gain <= 0 {
		return
	}
	if session == nil {
		return
	}

	var buf [domain.AudioPacketSize]byte
	if entry.Gain == 1.0 {
		copy(buf[:], data[:domain.AudioPacketSize])
		binary.LittleEndian.PutUint32(buf[0:4], seq)
	} else {
		pkt := domain.DeserializeAudioPacket(data)
		gain := float64(entry.Gain)
		for i, s := range pkt.Samples {
			pkt.Samples[i] = saturate32(int32(math.Round(float64(s) * gain)))
		}
		pkt.Sequence = seq
		pkt.Serialize(buf[:])
	}
	session.SendDatagram(buf[:])
	if r.telemetry != nil {
		r.telemetry.RecordFastPathForward(r.name)
		r.telemetry.RecordAudioSent(r.name, toID)
	}
}

// SetGain delegates to the mixer.
func (r *Room) SetGain(listener, source string, gain float32) {
	r.mixer.SetGain(listener, source, gain)
}

// SetMute delegates to the mixer.
func (r *Room) SetMute(listener, source string, muted bool) {
	r.mixer.SetMute(listener, source, muted)
}

// Claim sets the room password.
func (r *Room) Claim(password string) {
	r.passwordMu.Lock()
	r.password = password
	r.passwordMu.Unlock()
}

// CheckPassword reports whether password opens the room. An unclaimed
// room accepts anything.
func (r *Room) CheckPassword(password string) bool {
	r.passwordMu.Lock()
	defer r.passwordMu.Unlock()
	return r.password == "" || r.password == password
}

// ClearPassword removes the claim.
func (r *Room) ClearPassword() {
	r.passwordMu.Lock()
	r.password = ""
	r.passwordMu.Unlock()
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// MaxParticipants returns the admission cap.
func (r *Room) MaxParticipants() int { return r.maxParticipants }

// ParticipantCount returns the current occupancy.
func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// IsEmpty reports zero occupancy.
func (r *Room) IsEmpty() bool { return r.ParticipantCount() == 0 }

// IsFull reports occupancy at the cap.
func (r *Room) IsFull() bool { return r.ParticipantCount() >= r.maxParticipants }

// Status returns Full, Claimed or Open, in that precedence.
func (r *Room) Status() domain.RoomStatus {
	if r.IsFull() {
		return domain.RoomStatusFull
	}
	r.passwordMu.Lock()
	defer r.passwordMu.Unlock()
	if r.password != "" {
		return domain.RoomStatusClaimed
	}
	return domain.RoomStatusOpen
}

// Participants returns the room-state view of current members.
func (r *Room) Participants() []domain.ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	infos := make([]domain.ParticipantInfo, 0, len(r.participants))
	for id, p := range r.participants {
		infos = append(infos, domain.ParticipantInfo{ID: id, Alias: p.alias})
	}
	return infos
}

// Broadcast sends a reliable control message to every bound participant.
func (r *Room) Broadcast(message string) {
	r.mu.Lock()
	sessions := make([]ports.TransportSession, 0, len(r.participants))
	for _, p := range r.participants {
		if p.session != nil {
			sessions = append(sessions, p.session)
		}
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.SendReliable(message)
	}
}

// RequestVacate broadcasts a courteous ask-to-leave to all occupants.
func (r *Room) RequestVacate() {
	r.Broadcast(marshalMsg(vacateRequestMsg{Type: "vacate_request"}))
}

// ReapStaleParticipants evicts members that are unbound past the unbound
// timeout, or bound with no audio in either direction past the inactivity
// timeout. A solo occupant is exempt from the inactivity rule. Eviction
// goes through RemoveParticipant, the same path as a voluntary leave.
func (r *Room) ReapStaleParticipants() int {
	now := time.Now()
	nowNS := now.UnixNano()
	var toReap []string

	r.mu.Lock()
	count := len(r.participants)
	for id, p := range r.participants {
		if p.session == nil {
			if now.Sub(p.joinTime) >= r.unboundTimeout {
				toReap = append(toReap, id)
			}
			continue
		}
		if count <= 1 {
			continue
		}
		lastActivity := p.lastAudioReceivedNS
		if p.lastAudioSentNS > lastActivity {
			lastActivity = p.lastAudioSentNS
		}
		if lastActivity == 0 {
			if now.Sub(p.joinTime) >= r.inactivityTimeout {
				toReap = append(toReap, id)
			}
		} else if nowNS-lastActivity >= r.inactivityTimeout.Nanoseconds() {
			toReap = append(toReap, id)
		}
	}
	r.mu.Unlock()

	for _, id := range toReap {
		r.logger.Infow("reaping stale participant", "room", r.name, "participant", id)
		r.RemoveParticipant(id)
	}
	return len(toReap)
}

// mixLoop is the room's dedicated mixer goroutine. It wakes when the full
// participant set has delivered a frame, or at the deadline, whichever
// comes first, then runs one mix cycle and sends the outputs. The
// goroutine is pinned to its OS thread; elevated scheduling priority is
// up to the deployment (chrt/SCHED_FIFO), so jitter depends on the host.
func (r *Room) mixLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(r.stopped)

	timer := time.NewTimer(wakeTimeout)
	defer timer.Stop()

	for r.running.Load() {
		select {
		case <-r.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}

		r.framesReceived.Store(0)
		start := time.Now()
		r.mixer.MixCycle()
		r.sendOutputs()
		if r.telemetry != nil {
			r.telemetry.RecordMixDuration(r.name, time.Since(start))
		}

		timer.Reset(wakeTimeout)
	}
}

// sendOutputs drains one egress frame per participant, stamps the
// per-listener sequence and activity time under the lock, and performs
// the datagram sends outside it so network I/O never contends with the
// receive path.
func (r *Room) sendOutputs() {
	nowNS := time.Now().UnixNano()
	r.pending = r.pending[:0]

	r.mu.Lock()
	var frame domain.AudioFrame
	for id, p := range r.participants {
		if !r.mixer.PopOutput(id, &frame) {
			continue
		}
		frame.Sequence = p.outputSequence
		p.outputSequence++
		p.lastAudioSentNS = nowNS

		r.pending = append(r.pending, pendingSend{participantID: id, session: p.session})
		pkt := frame.ToPacket()
		pkt.Serialize(r.pending[len(r.pending)-1].buf[:])
	}
	r.mu.Unlock()

	for i := range r.pending {
		ps := &r.pending[i]
		if ps.session == nil {
			continue
		}
		ps.session.SendDatagram(ps.buf[:])
		if r.telemetry != nil {
			r.telemetry.RecordAudioSent(r.name, ps.participantID)
		}
	}
}

func saturate32(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
