package relay

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Frame types.
const (
	TypeConnected = "connected"
	TypeMessage   = "message"
	TypeError     = "error"
)

// Envelope is the JSON frame exchanged over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ConnectedPayload is sent to a session once it has joined its ride.
type ConnectedPayload struct {
	SessionID string `json:"sessionId"`
	RideID    string `json:"rideId"`
	UserID    string `json:"userId"`
}

// inboundMessage accepts the legacy client shape; only text is honoured.
type inboundMessage struct {
	Text json.RawMessage `json:"text"`
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return env, nil
}

// parseMessageText extracts and validates the text of a message payload.
// The returned text is trimmed.
func parseMessageText(payload json.RawMessage, maxLen int) (string, error) {
	if len(payload) == 0 {
		return "", ErrTextEmpty
	}

	var in inboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(in.Text) == 0 || string(in.Text) == "null" {
		return "", ErrTextEmpty
	}

	// encoding/json replaces invalid UTF-8, so check the raw bytes first.
	if !utf8.Valid(in.Text) {
		return "", ErrTextInvalid
	}
	var raw string
	if err := json.Unmarshal(in.Text, &raw); err != nil {
		return "", ErrTextInvalid
	}
	// Escaped lone surrogates decode to U+FFFD; a literal U+FFFD is rejected too.
	if strings.ContainsRune(raw, utf8.RuneError) {
		return "", ErrTextInvalid
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return "", ErrTextEmpty
	}
	if len(text) > maxLen {
		return "", fmt.Errorf("%w: %d bytes, max %d", ErrTextTooLong, len(text), maxLen)
	}
	return text, nil
}

func encodeFrame(msgType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(Envelope{Type: msgType, Payload: payload})
}

func encodeError(reason string) []byte {
	// Envelope with string fields only cannot fail to marshal.
	frame, _ := json.Marshal(Envelope{Type: TypeError, Error: reason})
	return frame
}
