package services

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tutti/internal/core/domain"
	"tutti/internal/core/ports"
	"tutti/pkg/cache"
	"tutti/pkg/utils"
)

const (
	// vacateCooldown throttles vacate requests per (source IP, room).
	vacateCooldown = 24 * time.Hour

	// reapInterval is how often the reaper sweeps all rooms.
	reapInterval = 5 * time.Second
)

// RoomManager owns the fixed directory of rooms and the join/leave/claim/
// vacate policy, plus the background reaper.
type RoomManager struct {
	roomCfg RoomConfig

	mu    sync.Mutex
	rooms map[string]*Room

	// Presence of key "ip:room" means the cooldown is still active.
	vacateCooldowns *cache.Cache

	reaperRunning atomic.Bool
	reaperStopped chan struct{}
	reaperQuit    chan struct{}

	telemetry RoomTelemetry
	logger    *zap.SugaredLogger
}

// NewRoomManager creates a manager; call InitializeDefaultRooms before
// serving traffic.
func NewRoomManager(roomCfg RoomConfig, telemetry RoomTelemetry, logger *zap.SugaredLogger) *RoomManager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RoomManager{
		roomCfg:         roomCfg,
		rooms:           make(map[string]*Room),
		vacateCooldowns: cache.New(vacateCooldown),
		telemetry:       telemetry,
		logger:          logger,
	}
}

// InitializeDefaultRooms creates and starts one room per built-in name.
func (m *RoomManager) InitializeDefaultRooms() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range domain.DefaultRoomNames {
		room := NewRoom(name, m.roomCfg, m.telemetry, m.logger)
		room.Start()
		m.rooms[name] = room
	}
	m.logger.Infow("rooms initialized", "count", len(m.rooms))
}

// Room returns the named room, or nil.
func (m *RoomManager) Room(name string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[name]
}

// ListRooms returns lobby info for every room, sorted by name.
func (m *RoomManager) ListRooms() []domain.RoomInfo {
	m.mu.Lock()
	snapshot := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		snapshot = append(snapshot, room)
	}
	m.mu.Unlock()

	infos := make([]domain.RoomInfo, 0, len(snapshot))
	for _, room := range snapshot {
		infos = append(infos, domain.RoomInfo{
			Name:            room.Name(),
			Participants:    room.ParticipantCount(),
			MaxParticipants: room.MaxParticipants(),
			Claimed:         room.Status() == domain.RoomStatusClaimed,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// JoinRoom admits alias into roomName, generating a fresh participant ID
// on success. The session may be nil: an HTTP join creates the
// participant unbound, to be bound later through the session binder.
func (m *RoomManager) JoinRoom(roomName, alias, password string, session ports.TransportSession) (domain.JoinResult, string) {
	room := m.Room(roomName)
	if room == nil {
		return domain.JoinRoomNotFound, ""
	}
	if room.IsFull() {
		return domain.JoinRoomFull, ""
	}
	if room.Status() == domain.RoomStatusClaimed {
		if password == "" {
			return domain.JoinPasswordRequired, ""
		}
		if !room.CheckPassword(password) {
			return domain.JoinPasswordIncorrect, ""
		}
	}

	id := utils.GenerateParticipantID()
	if !room.AddParticipant(id, alias, session) {
		return domain.JoinRoomFull, ""
	}
	return domain.JoinSuccess, id
}

// LeaveRoom removes a participant. Unknown rooms and ids are no-ops.
func (m *RoomManager) LeaveRoom(roomName, participantID string) {
	if room := m.Room(roomName); room != nil {
		room.RemoveParticipant(participantID)
	}
}

// ClaimRoom sets a password on the room.
func (m *RoomManager) ClaimRoom(roomName, password string) bool {
	room := m.Room(roomName)
	if room == nil {
		return false
	}
	room.Claim(password)
	return true
}

// VacateRequest asks the current occupants to leave. Rate limited to one
// request per source IP per room per cooldown window.
func (m *RoomManager) VacateRequest(roomName, sourceIP string) domain.VacateResult {
	room := m.Room(roomName)
	if room == nil {
		return domain.VacateRoomNotFound
	}
	if room.IsEmpty() {
		return domain.VacateRoomEmpty
	}

	key := sourceIP + ":" + roomName
	if _, active := m.vacateCooldowns.Get(key); active {
		return domain.VacateCooldownActive
	}
	m.vacateCooldowns.Set(key, time.Now())

	room.RequestVacate()
	m.logger.Infow("vacate requested", "room", roomName, "source_ip", sourceIP)
	return domain.VacateSent
}

// StartReaper launches the background sweep that evicts unbound and
// silent participants. Idempotent.
func (m *RoomManager) StartReaper() {
	if !m.reaperRunning.CompareAndSwap(false, true) {
		return
	}
	m.reaperStopped = make(chan struct{})
	m.reaperQuit = make(chan struct{})
	go m.reaperLoop()
	m.logger.Info("participant reaper started")
}

// StopReaper halts the sweep and waits for it to exit. Idempotent.
func (m *RoomManager) StopReaper() {
	if !m.reaperRunning.CompareAndSwap(true, false) {
		return
	}
	close(m.reaperQuit)
	<-m.reaperStopped
}

// Shutdown stops the reaper, the cooldown sweeper and every room.
func (m *RoomManager) Shutdown() {
	m.StopReaper()
	m.vacateCooldowns.Stop()
	m.mu.Lock()
	snapshot := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		snapshot = append(snapshot, room)
	}
	m.mu.Unlock()
	for _, room := range snapshot {
		room.Stop()
	}
}

func (m *RoomManager) reaperLoop() {
	defer close(m.reaperStopped)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.mu.Lock()
			snapshot := make([]*Room, 0, len(m.rooms))
			for _, room := range m.rooms {
				snapshot = append(snapshot, room)
			}
			m.mu.Unlock()
			for _, room := range snapshot {
				room.ReapStaleParticipants()
			}
		case <-m.reaperQuit:
			return
		}
	}
}
