package types

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestRoomName(t *testing.T) {
	if got := RoomName(42); got != "channel:42" {
		t.Errorf("Expected channel:42, got %s", got)
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"valid", `{"event":"joinChannel","data":{"channelId":1}}`, nil},
		{"missing event", `{"data":{"channelId":1}}`, ErrInvalidEnvelope},
		{"not json", `hello`, ErrInvalidEnvelope},
		{"no data", `{"event":"typing"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEnvelope_Decode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantErr  error
	}{
		{"authenticate", `{"event":"authenticate","data":{"token":"abc"}}`, EventAuthenticate, nil},
		{"join", `{"event":"joinChannel","data":{"channelId":3}}`, EventJoinChannel, nil},
		{"leave", `{"event":"leaveChannel","data":{"channelId":3}}`, EventLeaveChannel, nil},
		{"send", `{"event":"sendMessage","data":{"channelId":3,"content":"hi","clientMsgId":"msg_1"}}`, EventSendMessage, nil},
		{"typing", `{"event":"typing","data":{"channelId":3,"typing":true}}`, EventTyping, nil},
		{"reaction add", `{"event":"reactionAdd","data":{"channelId":3,"messageId":9,"emoji":"👍"}}`, EventReactionAdd, nil},
		{"reaction remove", `{"event":"reactionRemove","data":{"channelId":3,"messageId":9,"emoji":"👍"}}`, EventReactionRemove, nil},
		{"edit", `{"event":"messageEdit","data":{"channelId":3,"messageId":9,"content":"x"}}`, EventMessageEdit, nil},
		{"delete", `{"event":"messageDelete","data":{"channelId":3,"messageId":9}}`, EventMessageDelete, nil},
		{"unknown", `{"event":"dance","data":{}}`, "", ErrUnknownEvent},
		{"missing data", `{"event":"sendMessage"}`, "", ErrInvalidPayload},
		{"null data", `{"event":"sendMessage","data":null}`, "", ErrInvalidPayload},
		{"wrong field type", `{"event":"sendMessage","data":{"channelId":"abc"}}`, "", ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseEnvelope failed: %v", err)
			}
			ev, err := env.Decode()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && ev.EventName() != tt.wantType {
				t.Errorf("Expected %s, got %s", tt.wantType, ev.EventName())
			}
		})
	}
}

func TestEnvelope_DecodeFields(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"sendMessage","data":{"channelId":7,"content":"hello","clientMsgId":"msg_1_a","clientSentAt":1700000000000}}`))
	if err != nil {
		t.Fatalf("ParseEnvelope failed: %v", err)
	}
	ev, err := env.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	send, ok := ev.(SendMessage)
	if !ok {
		t.Fatalf("Expected SendMessage, got %T", ev)
	}
	if send.ChannelID != 7 || send.Content != "hello" || send.ClientMsgID != "msg_1_a" || send.ClientSentAt != 1700000000000 {
		t.Errorf("Unexpected decoded payload: %+v", send)
	}

	env, _ = ParseEnvelope([]byte(`{"event":"reactionAdd","data":{"channelId":2,"messageId":5,"emoji":"🎉"}}`))
	ev, err = env.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	add := ev.(ReactionAdd)
	if add.MessageID != 5 || add.ChannelID != 2 || add.Emoji != "🎉" {
		t.Errorf("Unexpected reaction payload: %+v", add)
	}
}

func TestClientEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		event   ClientEvent
		wantErr error
	}{
		{"valid send", SendMessage{ChannelID: 1, Content: "hi"}, nil},
		{"blank content", SendMessage{ChannelID: 1, Content: "   "}, ErrEmptyContent},
		{"content too long", SendMessage{ChannelID: 1, Content: strings.Repeat("a", MaxContentLength+1)}, ErrContentTooLarge},
		{"missing channel", SendMessage{Content: "hi"}, ErrInvalidChannelID},
		{"join valid", JoinChannel{ChannelID: 2}, nil},
		{"join zero", JoinChannel{}, ErrInvalidChannelID},
		{"typing valid", Typing{ChannelID: 2, Typing: true}, nil},
		{"emoji empty", ReactionAdd{ReactionTarget{ChannelID: 1, MessageID: 1}}, ErrInvalidEmoji},
		{"emoji too long", ReactionRemove{ReactionTarget{ChannelID: 1, MessageID: 1, Emoji: strings.Repeat("x", 51)}}, ErrInvalidEmoji},
		{"emoji 50 chars", ReactionAdd{ReactionTarget{ChannelID: 1, MessageID: 1, Emoji: strings.Repeat("x", 50)}}, nil},
		{"reaction missing message", ReactionAdd{ReactionTarget{ChannelID: 1, Emoji: "x"}}, ErrInvalidMessageID},
		{"edit valid", MessageEdit{ChannelID: 1, MessageID: 3, Content: "new"}, nil},
		{"edit empty", MessageEdit{ChannelID: 1, MessageID: 3}, ErrEmptyContent},
		{"delete missing message", MessageDelete{ChannelID: 1}, ErrInvalidMessageID},
		{"authenticate blank", Authenticate{Token: " "}, ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.event.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestEncodeEnvelope(t *testing.T) {
	raw, err := EncodeEnvelope(EventError, ErrorData{Message: ErrMsgRateLimited})
	if err != nil {
		t.Fatalf("EncodeEnvelope failed: %v", err)
	}

	var decoded struct {
		Event string    `json:"event"`
		Data  ErrorData `json:"data"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if decoded.Event != "error" || decoded.Data.Message != "Rate limited" {
		t.Errorf("Unexpected frame: %s", raw)
	}
}

func TestMessagePage_NullCursor(t *testing.T) {
	raw, err := json.Marshal(MessagePage{Items: []*Message{}})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(raw), `"nextCursor":null`) {
		t.Errorf("Expected explicit null cursor, got %s", raw)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit, def, want int
	}{
		{0, 40, 40},
		{-5, 50, 1},
		{-1, 40, 1},
		{1, 50, 1},
		{100, 50, 100},
		{101, 50, 100},
		{5000, 40, 100},
		{0, 0, 1},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.limit, tt.def); got != tt.want {
			t.Errorf("ClampLimit(%d, %d) = %d, want %d", tt.limit, tt.def, got, tt.want)
		}
	}
}

func TestValidateChannelName(t *testing.T) {
	if err := ValidateChannelName("general"); err != nil {
		t.Errorf("Expected valid name, got %v", err)
	}
	if err := ValidateChannelName("a"); !errors.Is(err, ErrInvalidChannelName) {
		t.Errorf("Expected ErrInvalidChannelName, got %v", err)
	}
	if err := ValidateChannelName(strings.Repeat("n", 51)); !errors.Is(err, ErrInvalidChannelName) {
		t.Errorf("Expected ErrInvalidChannelName, got %v", err)
	}
}

func TestIsShortQuery(t *testing.T) {
	if !IsShortQuery("ab") {
		t.Error("Expected 2-char query to be short")
	}
	if !IsShortQuery("  ab ") {
		t.Error("Expected surrounding whitespace to be ignored")
	}
	if IsShortQuery("abc") {
		t.Error("Expected 3-char query to use full text")
	}
}

func TestIsValidUserID(t *testing.T) {
	valid := []string{"user1", "alice_b", "42", "a.b@c"}
	for _, id := range valid {
		if !IsValidUserID(id) {
			t.Errorf("Expected %q to be valid", id)
		}
	}
	invalid := []string{"", "has space", strings.Repeat("x", 65), "semi;colon"}
	for _, id := range invalid {
		if IsValidUserID(id) {
			t.Errorf("Expected %q to be invalid", id)
		}
	}
}
