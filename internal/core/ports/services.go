package ports

import "tutti/internal/core/domain"

// RoomService is the control-plane surface the HTTP layer consumes.
type RoomService interface {
	ListRooms() []domain.RoomInfo
	JoinRoom(roomName, alias, password string, session TransportSession) (domain.JoinResult, string)
	LeaveRoom(roomName, participantID string)
	ClaimRoom(roomName, password string) bool
	VacateRequest(roomName, sourceIP string) domain.VacateResult
}
