package types

import (
	"strings"

	"github.com/goccy/go-json"
)

// Client to server event names
const (
	EventAuthenticate   = "authenticate"
	EventJoinChannel    = "joinChannel"
	EventLeaveChannel   = "leaveChannel"
	EventSendMessage    = "sendMessage"
	EventTyping         = "typing"
	EventReactionAdd    = "reactionAdd"
	EventReactionRemove = "reactionRemove"
	EventMessageEdit    = "messageEdit"
	EventMessageDelete  = "messageDelete"
)

// Server to client event names
const (
	EventAuthenticated   = "authenticated"
	EventJoinedChannel   = "joinedChannel"
	EventLeftChannel     = "leftChannel"
	EventChannelPresence = "channelPresence"
	EventMessageReceived = "messageReceived"
	EventMessageAck      = "messageAck"
	EventChannelTyping   = "channelTyping"
	EventReactionUpdate  = "reactionUpdate"
	EventMessageUpdated  = "messageUpdated"
	EventMessageDeleted  = "messageDeleted"
	EventError           = "error"
)

// Per-event error messages delivered in error{message}
const (
	ErrMsgUnauthenticated = "Unauthenticated socket"
	ErrMsgInvalidPayload  = "Invalid payload"
	ErrMsgRateLimited     = "Rate limited"
	ErrMsgNotMember       = "Not a channel member"
	ErrMsgJoinFailed      = "Join failed"
	ErrMsgSendFailed      = "Send failed"
	ErrMsgEditFailed      = "Edit failed"
	ErrMsgDeleteFailed    = "Delete failed"
)

// Reaction delta types
const (
	ReactionTypeAdd    = "add"
	ReactionTypeRemove = "remove"
)

// Envelope is the frame shape in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame without decoding its payload
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidEnvelope
	}
	if env.Event == "" {
		return nil, ErrInvalidEnvelope
	}
	return &env, nil
}

// EncodeEnvelope builds a frame for the named event
func EncodeEnvelope(event string, data interface{}) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// ClientEvent is the closed set of events a client can send.
// ARCHITECTURAL DISCOVERY: the gateway dispatches on the concrete type with a
// type switch, so adding a variant without a handler is caught in review
// rather than by a missing string key at runtime.
type ClientEvent interface {
	EventName() string
	Validate() error
	clientEvent()
}

// Authenticate upgrades an unauthenticated connection
type Authenticate struct {
	Token string `json:"token"`
}

// JoinChannel subscribes the connection to a channel room
type JoinChannel struct {
	ChannelID int64 `json:"channelId"`
}

// LeaveChannel unsubscribes the connection from a channel room
type LeaveChannel struct {
	ChannelID int64 `json:"channelId"`
}

// SendMessage posts a new message to a channel
type SendMessage struct {
	ChannelID    int64  `json:"channelId"`
	Content      string `json:"content"`
	ClientMsgID  string `json:"clientMsgId,omitempty"`
	ClientSentAt int64  `json:"clientSentAt,omitempty"` // unix milliseconds
}

// Typing toggles the typing indicator of the sender
type Typing struct {
	ChannelID int64 `json:"channelId"`
	Typing    bool  `json:"typing"`
}

// ReactionTarget names the message and emoji of a reaction change
type ReactionTarget struct {
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
	ChannelID int64  `json:"channelId"`
}

// ReactionAdd adds a reaction
type ReactionAdd struct {
	ReactionTarget
}

// ReactionRemove removes a reaction
type ReactionRemove struct {
	ReactionTarget
}

// MessageEdit replaces the content of an authored message
type MessageEdit struct {
	MessageID int64  `json:"messageId"`
	ChannelID int64  `json:"channelId"`
	Content   string `json:"content"`
}

// MessageDelete removes an authored message
type MessageDelete struct {
	MessageID int64 `json:"messageId"`
	ChannelID int64 `json:"channelId"`
}

func (Authenticate) EventName() string   { return EventAuthenticate }
func (JoinChannel) EventName() string    { return EventJoinChannel }
func (LeaveChannel) EventName() string   { return EventLeaveChannel }
func (SendMessage) EventName() string    { return EventSendMessage }
func (Typing) EventName() string         { return EventTyping }
func (ReactionAdd) EventName() string    { return EventReactionAdd }
func (ReactionRemove) EventName() string { return EventReactionRemove }
func (MessageEdit) EventName() string    { return EventMessageEdit }
func (MessageDelete) EventName() string  { return EventMessageDelete }

func (Authenticate) clientEvent()   {}
func (JoinChannel) clientEvent()    {}
func (LeaveChannel) clientEvent()   {}
func (SendMessage) clientEvent()    {}
func (Typing) clientEvent()         {}
func (ReactionAdd) clientEvent()    {}
func (ReactionRemove) clientEvent() {}
func (MessageEdit) clientEvent()    {}
func (MessageDelete) clientEvent()  {}

func (e Authenticate) Validate() error {
	if strings.TrimSpace(e.Token) == "" {
		return ErrInvalidPayload
	}
	return nil
}

func (e JoinChannel) Validate() error {
	return ValidateChannelID(e.ChannelID)
}

func (e LeaveChannel) Validate() error {
	return ValidateChannelID(e.ChannelID)
}

func (e SendMessage) Validate() error {
	if err := ValidateChannelID(e.ChannelID); err != nil {
		return err
	}
	return ValidateContent(e.Content)
}

func (e Typing) Validate() error {
	return ValidateChannelID(e.ChannelID)
}

func (t ReactionTarget) Validate() error {
	if err := ValidateChannelID(t.ChannelID); err != nil {
		return err
	}
	if t.MessageID <= 0 {
		return ErrInvalidMessageID
	}
	return ValidateEmoji(t.Emoji)
}

func (e MessageEdit) Validate() error {
	if err := ValidateChannelID(e.ChannelID); err != nil {
		return err
	}
	if e.MessageID <= 0 {
		return ErrInvalidMessageID
	}
	return ValidateContent(e.Content)
}

func (e MessageDelete) Validate() error {
	if err := ValidateChannelID(e.ChannelID); err != nil {
		return err
	}
	if e.MessageID <= 0 {
		return ErrInvalidMessageID
	}
	return nil
}

// Decode decodes the envelope payload into its typed client event.
// Unknown event names return ErrUnknownEvent, malformed payloads ErrInvalidPayload.
// The returned event has not been validated.
func (e *Envelope) Decode() (ClientEvent, error) {
	var ev ClientEvent
	var err error
	switch e.Event {
	case EventAuthenticate:
		var v Authenticate
		err = e.unmarshal(&v)
		ev = v
	case EventJoinChannel:
		var v JoinChannel
		err = e.unmarshal(&v)
		ev = v
	case EventLeaveChannel:
		var v LeaveChannel
		err = e.unmarshal(&v)
		ev = v
	case EventSendMessage:
		var v SendMessage
		err = e.unmarshal(&v)
		ev = v
	case EventTyping:
		var v Typing
		err = e.unmarshal(&v)
		ev = v
	case EventReactionAdd:
		var v ReactionAdd
		err = e.unmarshal(&v)
		ev = v
	case EventReactionRemove:
		var v ReactionRemove
		err = e.unmarshal(&v)
		ev = v
	case EventMessageEdit:
		var v MessageEdit
		err = e.unmarshal(&v)
		ev = v
	case EventMessageDelete:
		var v MessageDelete
		err = e.unmarshal(&v)
		ev = v
	default:
		return nil, ErrUnknownEvent
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (e *Envelope) unmarshal(v interface{}) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// Server event payloads

// ErrorData is the payload of the error event
type ErrorData struct {
	Message string `json:"message"`
}

// JoinedChannelData confirms a room subscription
type JoinedChannelData struct {
	Room string `json:"room"`
}

// LeftChannelData confirms a room unsubscription
type LeftChannelData struct {
	Room string `json:"room"`
}

// TypingData is the payload of channelTyping
type TypingData struct {
	ChannelID int64  `json:"channelId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Typing    bool   `json:"typing"`
}

// ReactionUpdateData is the payload of reactionUpdate
type ReactionUpdateData struct {
	Type      string `json:"type"`
	ChannelID int64  `json:"channelId"`
	MessageID int64  `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

// MessageDeletedData is the payload of messageDeleted
type MessageDeletedData struct {
	MessageID int64 `json:"messageId"`
	ChannelID int64 `json:"channelId"`
}

// RelayMessage is one room frame crossing process boundaries.
// Origin is the publishing instance so it can skip its own frames.
type RelayMessage struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room"`
	Frame  json.RawMessage `json:"frame"`
}
