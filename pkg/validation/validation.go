package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// RoomNameRegex validates room names.
	RoomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant ID format (hex).
	ParticipantIDRegex = regexp.MustCompile(`^[a-f0-9]+$`)
)

// ValidateAlias validates a participant display name.
func ValidateAlias(alias string) error {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return fmt.Errorf("alias is required")
	}
	if len(alias) > 50 {
		return fmt.Errorf("alias is too long (max 50 characters)")
	}
	return nil
}

// ValidatePassword validates a room password. Empty passwords are
// allowed (an open join).
func ValidatePassword(password string) error {
	if len(password) > 128 {
		return fmt.Errorf("password is too long (max 128 characters)")
	}
	return nil
}

// ValidateRoomName validates a room name.
func ValidateRoomName(name string) error {
	if name == "" {
		return fmt.Errorf("room name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("room name is too long (max 64 characters)")
	}
	if !RoomNameRegex.MatchString(name) {
		return fmt.Errorf("invalid room name format")
	}
	return nil
}

// ValidateParticipantID validates a participant ID.
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant ID is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("participant ID is too long (max 64 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}
