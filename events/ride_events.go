package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// ParticipantConnectedEvent is emitted after a session joins a ride room.
type ParticipantConnectedEvent struct {
	SessionID string    `json:"session_id"`
	RideID    string    `json:"ride_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantDisconnectedEvent is emitted after a session leaves a ride room.
type ParticipantDisconnectedEvent struct {
	SessionID string    `json:"session_id"`
	RideID    string    `json:"ride_id"`
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageRelayedEvent is emitted after a message is fanned out to a room.
// It carries delivery counts only, never the message text.
type MessageRelayedEvent struct {
	MessageID  string    `json:"message_id"`
	RideID     string    `json:"ride_id"`
	SenderID   string    `json:"sender_id"`
	Recipients int       `json:"recipients"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event definitions for the relay.
var (
	ParticipantConnectedV1 = helper.EventDefinition[ParticipantConnectedEvent](
		"relay",
		"ParticipantConnected",
		"v1",
	)

	ParticipantDisconnectedV1 = helper.EventDefinition[ParticipantDisconnectedEvent](
		"relay",
		"ParticipantDisconnected",
		"v1",
	)

	MessageRelayedV1 = helper.EventDefinition[MessageRelayedEvent](
		"relay",
		"MessageRelayed",
		"v1",
	)
)
