package relay

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseMessageText(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr error
	}{
		{name: "plain text", payload: `{"text":"On my way"}`, want: "On my way"},
		{name: "trimmed", payload: `{"text":"  hi  "}`, want: "hi"},
		{name: "legacy fields ignored", payload: `{"id":"x","text":"hi","senderId":"spoof","isDriver":true}`, want: "hi"},
		{name: "missing payload", payload: ``, wantErr: ErrTextEmpty},
		{name: "missing text", payload: `{}`, wantErr: ErrTextEmpty},
		{name: "null text", payload: `{"text":null}`, wantErr: ErrTextEmpty},
		{name: "whitespace only", payload: `{"text":"   \n\t"}`, wantErr: ErrTextEmpty},
		{name: "number text", payload: `{"text":42}`, wantErr: ErrTextInvalid},
		{name: "object text", payload: `{"text":{"a":1}}`, wantErr: ErrTextInvalid},
		{name: "payload not object", payload: `"hello"`, wantErr: ErrInvalidFrame},
		{name: "invalid utf8", payload: "{\"text\":\"\xff\xfe\"}", wantErr: ErrTextInvalid},
		{name: "escaped lone surrogate", payload: `{"text":"hi \ud800"}`, wantErr: ErrTextInvalid},
		{name: "escaped valid pair", payload: `{"text":"\ud83d\ude97"}`, want: "🚗"},
		{name: "too long", payload: `{"text":"` + strings.Repeat("a", 11) + `"}`, wantErr: ErrTextTooLong},
		{name: "at limit", payload: `{"text":"` + strings.Repeat("a", 10) + `"}`, want: strings.Repeat("a", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMessageText(json.RawMessage(tt.payload), 10)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("parseMessageText() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMessageText() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseMessageText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		wantType string
		wantErr  bool
	}{
		{name: "message", data: `{"type":"message","payload":{"text":"hi"}}`, wantType: TypeMessage},
		{name: "unknown type still decodes", data: `{"type":"typing"}`, wantType: "typing"},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "missing type", data: `{"payload":{}}`, wantErr: true},
		{name: "array", data: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidFrame) {
					t.Fatalf("decodeEnvelope() error = %v, want ErrInvalidFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEnvelope() unexpected error: %v", err)
			}
			if env.Type != tt.wantType {
				t.Errorf("decodeEnvelope() type = %q, want %q", env.Type, tt.wantType)
			}
		})
	}
}

func TestEncodeError(t *testing.T) {
	var env Envelope
	if err := json.Unmarshal(encodeError("boom"), &env); err != nil {
		t.Fatalf("encodeError() produced invalid JSON: %v", err)
	}
	if env.Type != TypeError || env.Error != "boom" {
		t.Errorf("encodeError() = %+v", env)
	}
}
