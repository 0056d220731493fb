package services

import (
	"encoding/json"

	"tutti/internal/core/domain"
)

// Reliable control-message payloads, server → client. Client → server
// messages are parsed generically in the session binder.

type participantJoinedMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

type participantLeftMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type roomStateMsg struct {
	Type         string                   `json:"type"`
	Participants []domain.ParticipantInfo `json:"participants"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type vacateRequestMsg struct {
	Type string `json:"type"`
}

func marshalMsg(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
