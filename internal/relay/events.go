package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound event names.
const (
	EventAuthenticate   = "authenticate"
	EventJoinChannel    = "join_channel"
	EventLeaveChannel   = "leave_channel"
	EventSendMessage    = "send_message"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventAddReaction    = "add_reaction"
	EventRemoveReaction = "remove_reaction"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
)

// Outbound event names.
const (
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventNewMessage      = "new_message"
	EventUserTypingStart = "user_typing_start"
	EventUserTypingStop  = "user_typing_stop"
	EventReactionAdded   = "reaction_added"
	EventReactionRemoved = "reaction_removed"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventError           = "error"
)

// editedAtLayout matches the millisecond UTC timestamps browsers produce.
const editedAtLayout = "2006-01-02T15:04:05.000Z"

// Envelope is the frame exchanged over the transport in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a raw transport frame. Only the envelope itself is
// checked here; payloads are validated by the handler for each event.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, &ValidationError{Field: "event"}
	}
	return env, nil
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// present reports whether an opaque JSON value was supplied.
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

// AuthenticatePayload binds an identity to the sending connection.
type AuthenticatePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (p AuthenticatePayload) Validate() error {
	if blank(p.UserID) {
		return &ValidationError{Event: EventAuthenticate, Field: "userId"}
	}
	if blank(p.Username) {
		return &ValidationError{Event: EventAuthenticate, Field: "username"}
	}
	return nil
}

// ChannelPayload names the target channel. join_channel and leave_channel
// carry the channel id as a bare JSON string; the object form is accepted
// as well.
type ChannelPayload struct {
	ChannelID string `json:"channelId"`
}

func (p *ChannelPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		p.ChannelID = id
		return nil
	}
	type plain ChannelPayload
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = ChannelPayload(obj)
	return nil
}

func (p ChannelPayload) validate(event string) error {
	if blank(p.ChannelID) {
		return &ValidationError{Event: event, Field: "channelId"}
	}
	return nil
}

// SendMessagePayload carries an opaque message for a channel.
type SendMessagePayload struct {
	ChannelID string          `json:"channelId"`
	Message   json.RawMessage `json:"message"`
}

func (p SendMessagePayload) Validate() error {
	if blank(p.ChannelID) {
		return &ValidationError{Event: EventSendMessage, Field: "channelId"}
	}
	if !present(p.Message) {
		return &ValidationError{Event: EventSendMessage, Field: "message"}
	}
	return nil
}

// ReactionPayload is shared by add_reaction and remove_reaction.
type ReactionPayload struct {
	MessageID json.RawMessage `json:"messageId"`
	Emoji     string          `json:"emoji"`
	ChannelID string          `json:"channelId"`
}

func (p ReactionPayload) validate(event string) error {
	switch {
	case !present(p.MessageID):
		return &ValidationError{Event: event, Field: "messageId"}
	case blank(p.Emoji):
		return &ValidationError{Event: event, Field: "emoji"}
	case blank(p.ChannelID):
		return &ValidationError{Event: event, Field: "channelId"}
	}
	return nil
}

// EditMessagePayload replaces the content of a message.
type EditMessagePayload struct {
	MessageID json.RawMessage `json:"messageId"`
	Content   *string         `json:"content"`
	ChannelID string          `json:"channelId"`
}

func (p EditMessagePayload) Validate() error {
	switch {
	case !present(p.MessageID):
		return &ValidationError{Event: EventEditMessage, Field: "messageId"}
	case p.Content == nil:
		return &ValidationError{Event: EventEditMessage, Field: "content"}
	case blank(p.ChannelID):
		return &ValidationError{Event: EventEditMessage, Field: "channelId"}
	}
	return nil
}

// DeleteMessagePayload removes a message.
type DeleteMessagePayload struct {
	MessageID json.RawMessage `json:"messageId"`
	ChannelID string          `json:"channelId"`
}

func (p DeleteMessagePayload) Validate() error {
	switch {
	case !present(p.MessageID):
		return &ValidationError{Event: EventDeleteMessage, Field: "messageId"}
	case blank(p.ChannelID):
		return &ValidationError{Event: EventDeleteMessage, Field: "channelId"}
	}
	return nil
}

// UserOnline announces a newly authenticated identity.
type UserOnline struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserOffline announces that an authenticated connection went away.
type UserOffline struct {
	UserID string `json:"userId"`
}

// UserTypingStart is relayed to the rest of a channel.
type UserTypingStart struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	ChannelID string `json:"channelId"`
}

// UserTypingStop is relayed on typing_stop, disconnect and expiry.
type UserTypingStop struct {
	UserID    string `json:"userId"`
	ChannelID string `json:"channelId"`
}

type ReactionAdded struct {
	MessageID json.RawMessage `json:"messageId"`
	Emoji     string          `json:"emoji"`
	UserID    string          `json:"userId"`
	Username  string          `json:"username"`
}

type ReactionRemoved struct {
	MessageID json.RawMessage `json:"messageId"`
	Emoji     string          `json:"emoji"`
	UserID    string          `json:"userId"`
}

type MessageEdited struct {
	MessageID json.RawMessage `json:"messageId"`
	Content   string          `json:"content"`
	EditedAt  string          `json:"editedAt"`
}

type MessageDeleted struct {
	MessageID json.RawMessage `json:"messageId"`
}

// ErrorEvent is sent back to a connection whose event was rejected.
type ErrorEvent struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
