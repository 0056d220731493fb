package audio

import (
	"math"
	"sync"

	"tutti/internal/core/domain"
)

// GainEntry is how loud one source sounds in one listener's mix.
type GainEntry struct {
	Gain  float32
	Muted bool
}

// DefaultGainEntry is unity gain, unmuted. Absence of a matrix entry
// means this.
var DefaultGainEntry = GainEntry{Gain: 1.0}

// participantMixState holds one participant's ingress and egress rings.
// The rings are addressed concurrently by a transport goroutine and the
// mixer goroutine, so the state is heap-pinned behind a pointer and never
// copied after construction.
type participantMixState struct {
	id      string
	ingress *Ring // transport receive goroutine → mixer
	egress  *Ring // mixer → room send path
}

// Mixer produces a personalized mix for every participant of one room:
// the sum of all other participants' frames, scaled by the listener's
// per-source gain. MixCycle runs on the room's dedicated mixer goroutine;
// add/remove and gain updates come from control-plane goroutines and only
// ever take short locks that the cycle itself holds just long enough to
// snapshot.
type Mixer struct {
	maxParticipants int
	ringCapacity    int

	mu           sync.Mutex
	participants map[string]*participantMixState

	gainsMu sync.Mutex
	gains   map[string]map[string]GainEntry // listener → source → entry

	// Cycle scratch, sized at construction. The mix path itself performs
	// no allocation; only the gain snapshot clones small maps.
	activeIDs    []string
	activeStates []*participantMixState
	inputs       [][domain.SamplesPerFrame]int16
	hasInput     []bool
	accum        [domain.SamplesPerFrame]int32
}

// NewMixer creates a mixer for up to maxParticipants participants with
// the default per-participant ring capacity.
func NewMixer(maxParticipants int) *Mixer {
	return NewMixerWithCapacity(maxParticipants, DefaultRingCapacity)
}

// NewMixerWithCapacity creates a mixer with an explicit ring capacity.
func NewMixerWithCapacity(maxParticipants, ringCapacity int) *Mixer {
	if maxParticipants < 1 {
		maxParticipants = 1
	}
	return &Mixer{
		maxParticipants: maxParticipants,
		ringCapacity:    ringCapacity,
		participants:    make(map[string]*participantMixState),
		gains:           make(map[string]map[string]GainEntry),
		activeIDs:       make([]string, 0, maxParticipants),
		activeStates:    make([]*participantMixState, 0, maxParticipants),
		inputs:          make([][domain.SamplesPerFrame]int16, maxParticipants),
		hasInput:        make([]bool, maxParticipants),
	}
}

// AddParticipant allocates mix state for id. Idempotent; ignored at
// capacity. Not called from the mixer goroutine.
func (m *Mixer) AddParticipant(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.participants[id]; ok {
		return
	}
	if len(m.participants) >= m.maxParticipants {
		return
	}
	m.participants[id] = &participantMixState{
		id:      id,
		ingress: NewRing(m.ringCapacity),
		egress:  NewRing(m.ringCapacity),
	}
}

// RemoveParticipant drops id's mix state and every gain-matrix entry that
// references id as listener or source. No-op for unknown ids.
func (m *Mixer) RemoveParticipant(id string) {
	m.mu.Lock()
	delete(m.participants, id)
	m.mu.Unlock()

	m.gainsMu.Lock()
	delete(m.gains, id)
	for _, sources := range m.gains {
		delete(sources, id)
	}
	m.gainsMu.Unlock()
}

// SetGain sets how loud source sounds in listener's mix. Clamped to [0,1].
func (m *Mixer) SetGain(listener, source string, gain float32) {
	if gain < 0 {
		gain = 0
	} else if gain > 1 {
		gain = 1
	}
	m.gainsMu.Lock()
	defer m.gainsMu.Unlock()
	sources, ok := m.gains[listener]
	if !ok {
		sources = make(map[string]GainEntry)
		m.gains[listener] = sources
	}
	entry, ok := sources[source]
	if !ok {
		entry = DefaultGainEntry
	}
	entry.Gain = gain
	sources[source] = entry
}

// SetMute sets the mute flag for source in listener's mix.
func (m *Mixer) SetMute(listener, source string, muted bool) {
	m.gainsMu.Lock()
	defer m.gainsMu.Unlock()
	sources, ok := m.gains[listener]
	if !ok {
		sources = make(map[string]GainEntry)
		m.gains[listener] = sources
	}
	entry, ok := sources[source]
	if !ok {
		entry = DefaultGainEntry
	}
	entry.Muted = muted
	sources[source] = entry
}

// GainEntryFor returns the current entry for (listener, source), or the
// default when none is stored.
func (m *Mixer) GainEntryFor(listener, source string) GainEntry {
	m.gainsMu.Lock()
	defer m.gainsMu.Unlock()
	if sources, ok := m.gains[listener]; ok {
		if entry, ok := sources[source]; ok {
			return entry
		}
	}
	return DefaultGainEntry
}

// PushInput enqueues one frame from a participant. Called from that
// participant's transport receive goroutine. Returns false for unknown
// ids and full rings.
func (m *Mixer) PushInput(id string, frame *domain.AudioFrame) bool {
	m.mu.Lock()
	state, ok := m.participants[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return state.ingress.TryPush(frame)
}

// PopOutput dequeues one mixed frame for a participant. Called from the
// room's send path. Returns false for unknown ids and empty rings.
func (m *Mixer) PopOutput(id string, out *domain.AudioFrame) bool {
	m.mu.Lock()
	state, ok := m.participants[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return state.egress.TryPop(out)
}

// MixCycle consumes at most one ingress frame per participant and
// produces at most one egress frame per listener. A listener whose
// sources all stayed silent this cycle gets no frame. Sequence and
// timestamp on egress frames are left zero; the room stamps them at send
// time.
func (m *Mixer) MixCycle() {
	m.activeIDs = m.activeIDs[:0]
	m.activeStates = m.activeStates[:0]
	m.mu.Lock()
	for id, state := range m.participants {
		m.activeIDs = append(m.activeIDs, id)
		m.activeStates = append(m.activeStates, state)
	}
	m.mu.Unlock()

	n := len(m.activeIDs)
	if n == 0 {
		return
	}

	var frame domain.AudioFrame
	for i := 0; i < n; i++ {
		m.hasInput[i] = false
		if m.activeStates[i].ingress.TryPop(&frame) {
			m.inputs[i] = frame.Samples
			m.hasInput[i] = true
		}
	}

	gains := m.snapshotGains()

	for li := 0; li < n; li++ {
		listenerGains := gains[m.activeIDs[li]]

		for s := range m.accum {
			m.accum[s] = 0
		}

		anyInput := false
		for si := 0; si < n; si++ {
			if si == li || !m.hasInput[si] {
				continue
			}
			entry := DefaultGainEntry
			if listenerGains != nil {
				if e, ok := listenerGains[m.activeIDs[si]]; ok {
					entry = e
				}
			}
			if entry.Muted || entry.Gain <= 0 {
				continue
			}
			anyInput = true
			gain := float64(entry.Gain)
			src := &m.inputs[si]
			for s := 0; s < domain.SamplesPerFrame; s++ {
				m.accum[s] += int32(math.Round(float64(src[s]) * gain))
			}
		}
		if !anyInput {
			continue
		}

		var out domain.AudioFrame
		for s := 0; s < domain.SamplesPerFrame; s++ {
			out.Samples[s] = saturate(m.accum[s])
		}
		// Full egress ring drops this listener's frame for the cycle.
		m.activeStates[li].egress.TryPush(&out)
	}
}

// snapshotGains clones the gain matrix so per-cycle arithmetic never
// contends with control-message writers.
func (m *Mixer) snapshotGains() map[string]map[string]GainEntry {
	m.gainsMu.Lock()
	defer m.gainsMu.Unlock()
	snapshot := make(map[string]map[string]GainEntry, len(m.gains))
	for listener, sources := range m.gains {
		clone := make(map[string]GainEntry, len(sources))
		for source, entry := range sources {
			clone[source] = entry
		}
		snapshot[listener] = clone
	}
	return snapshot
}

// ParticipantCount returns the number of registered participants.
func (m *Mixer) ParticipantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participants)
}

// ParticipantIDs returns the registered participant IDs.
func (m *Mixer) ParticipantIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.participants))
	for id := range m.participants {
		ids = append(ids, id)
	}
	return ids
}

func saturate(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
