package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAlias(t *testing.T) {
	assert.NoError(t, ValidateAlias("Alice"))
	assert.NoError(t, ValidateAlias("First Chair 🎻"))
	assert.Error(t, ValidateAlias(""))
	assert.Error(t, ValidateAlias("   "))
	assert.Error(t, ValidateAlias(strings.Repeat("x", 51)))
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, ValidatePassword(""))
	assert.NoError(t, ValidatePassword("hunter2"))
	assert.Error(t, ValidatePassword(strings.Repeat("x", 129)))
}

func TestValidateRoomName(t *testing.T) {
	assert.NoError(t, ValidateRoomName("Allegro"))
	assert.NoError(t, ValidateRoomName("room_1"))
	assert.Error(t, ValidateRoomName(""))
	assert.Error(t, ValidateRoomName("no spaces"))
	assert.Error(t, ValidateRoomName(strings.Repeat("x", 65)))
}

func TestValidateParticipantID(t *testing.T) {
	assert.NoError(t, ValidateParticipantID("deadbeef01234567"))
	assert.Error(t, ValidateParticipantID(""))
	assert.Error(t, ValidateParticipantID("NOT-HEX"))
	assert.Error(t, ValidateParticipantID(strings.Repeat("a", 65)))
}
