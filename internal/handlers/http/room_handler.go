package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tutti/internal/core/domain"
	"tutti/internal/core/ports"
	"tutti/pkg/validation"
)

// RoomHandler serves the lobby REST API: room discovery, join/leave,
// claim and vacate requests. Audio never flows through here.
type RoomHandler struct {
	roomService ports.RoomService
}

func NewRoomHandler(roomService ports.RoomService) *RoomHandler {
	return &RoomHandler{roomService: roomService}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/rooms", h.ListRooms)
		api.POST("/rooms/:name/join", h.JoinRoom)
		api.POST("/rooms/:name/leave", h.LeaveRoom)
		api.POST("/rooms/:name/claim", h.ClaimRoom)
		api.POST("/rooms/:name/vacate-request", h.VacateRequest)
	}
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms": h.roomService.ListRooms(),
	})
}

func (h *RoomHandler) JoinRoom(c *gin.Context) {
	roomName := c.Param("name")

	var req struct {
		Alias    string `json:"alias" binding:"required"`
		Password string `json:"password"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidateAlias(req.Alias); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The participant joins unbound; the transport session attaches later
	// through the bind handshake.
	result, participantID := h.roomService.JoinRoom(roomName, req.Alias, req.Password, nil)
	switch result {
	case domain.JoinSuccess:
		c.JSON(http.StatusOK, gin.H{
			"participant_id": participantID,
			"status":         "joined",
		})
	case domain.JoinRoomNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
	case domain.JoinRoomFull:
		c.JSON(http.StatusConflict, gin.H{"error": "room_full"})
	case domain.JoinPasswordRequired:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "password_required"})
	case domain.JoinPasswordIncorrect:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "password_incorrect"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "join_failed"})
	}
}

func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	roomName := c.Param("name")

	var req struct {
		ParticipantID string `json:"participant_id" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.roomService.LeaveRoom(roomName, req.ParticipantID)
	c.JSON(http.StatusOK, gin.H{"status": "left"})
}

func (h *RoomHandler) ClaimRoom(c *gin.Context) {
	roomName := c.Param("name")

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.roomService.ClaimRoom(roomName, req.Password) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "claimed"})
}

func (h *RoomHandler) VacateRequest(c *gin.Context) {
	roomName := c.Param("name")

	switch h.roomService.VacateRequest(roomName, c.ClientIP()) {
	case domain.VacateSent:
		c.JSON(http.StatusOK, gin.H{"status": "sent"})
	case domain.VacateRoomNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
	case domain.VacateRoomEmpty:
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_empty"})
	case domain.VacateCooldownActive:
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "cooldown_active"})
	}
}
