package utils

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateParticipantID returns a fresh opaque participant ID: 128 random
// bits as lowercase hex.
func GenerateParticipantID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// GenerateRequestID returns a short random ID for request logging.
func GenerateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
