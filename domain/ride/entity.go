package ride

import "time"

// DefaultDisplayName is used when a participant connects without a name.
const DefaultDisplayName = "User"

// Message is a chat message relayed to every participant of a ride.
// The server assigns ID, SenderID, SenderName, Timestamp and IsDriver.
type Message struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
	IsDriver   bool      `json:"isDriver"`
}

// Identity describes the participant behind a connection.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	IsDriver    bool   `json:"isDriver"`
}

// Participant is a connected session as seen from outside the relay.
type Participant struct {
	SessionID   string    `json:"sessionId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsDriver    bool      `json:"isDriver"`
	ConnectedAt time.Time `json:"connectedAt"`
}
