package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

type handlerFunc func(h *Hub, s *session, data json.RawMessage) error

type routeSpec struct {
	handle handlerFunc
	// identity marks events whose outbound payload carries the sender's
	// identity; RequireAuth rejects them from anonymous connections.
	identity bool
}

var routes = map[string]routeSpec{
	EventAuthenticate:   {handle: (*Hub).handleAuthenticate},
	EventJoinChannel:    {handle: (*Hub).handleJoinChannel},
	EventLeaveChannel:   {handle: (*Hub).handleLeaveChannel},
	EventSendMessage:    {handle: (*Hub).handleSendMessage, identity: true},
	EventTypingStart:    {handle: (*Hub).handleTypingStart, identity: true},
	EventTypingStop:     {handle: (*Hub).handleTypingStop, identity: true},
	EventAddReaction:    {handle: (*Hub).handleAddReaction, identity: true},
	EventRemoveReaction: {handle: (*Hub).handleRemoveReaction, identity: true},
	EventEditMessage:    {handle: (*Hub).handleEditMessage, identity: true},
	EventDeleteMessage:  {handle: (*Hub).handleDeleteMessage, identity: true},
}

// route runs the handler for one inbound event. Failures are answered with
// an error event to the sender and never affect other connections.
func (h *Hub) route(connID string, env Envelope) {
	s, ok := h.registry.get(connID)
	if !ok {
		h.log.Debug("event from unknown connection", "conn", connID, "event", env.Event)
		return
	}

	r, ok := routes[env.Event]
	var err error
	switch {
	case !ok:
		err = fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	case r.identity && h.requireAuth && s.identity == nil:
		err = ErrUnauthenticated
	default:
		err = r.handle(h, s, env.Data)
	}
	if err != nil {
		h.reject(s, env.Event, err)
	}
}

func (h *Hub) reject(s *session, event string, err error) {
	h.log.Info("event rejected", "conn", s.conn.ID(), "event", event, "error", err)
	h.toConn(s.conn.ID(), EventError, ErrorEvent{Event: event, Message: err.Error()})
}

// decode unmarshals a payload. A missing payload decodes as the zero value
// so validation reports the first missing field.
func decode(event string, data json.RawMessage, v any) error {
	if !present(data) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &ValidationError{Event: event, Field: typeErr.Field}
		}
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, event, err)
	}
	return nil
}

func (h *Hub) handleAuthenticate(s *session, data json.RawMessage) error {
	if s.pinned {
		return ErrIdentityPinned
	}
	var p AuthenticatePayload
	if err := decode(EventAuthenticate, data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	h.authenticate(s, Identity{UserID: p.UserID, Username: p.Username})
	return nil
}

func (h *Hub) handleJoinChannel(s *session, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(EventJoinChannel, data, &p); err != nil {
		return err
	}
	if err := p.validate(EventJoinChannel); err != nil {
		return err
	}
	h.members.join(s.conn.ID(), p.ChannelID)
	h.log.Info("joined channel", "conn", s.conn.ID(), "user", s.username(), "channel", p.ChannelID)
	return nil
}

func (h *Hub) handleLeaveChannel(s *session, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(EventLeaveChannel, data, &p); err != nil {
		return err
	}
	if err := p.validate(EventLeaveChannel); err != nil {
		return err
	}
	if h.members.leave(s.conn.ID(), p.ChannelID) {
		h.log.Info("left channel", "conn", s.conn.ID(), "user", s.username(), "channel", p.ChannelID)
	}
	return nil
}

func (h *Hub) handleSendMessage(s *session, data json.RawMessage) error {
	var p SendMessagePayload
	if err := decode(EventSendMessage, data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	h.toChannel(p.ChannelID, s.conn.ID(), EventNewMessage, p.Message)
	return nil
}

func (h *Hub) handleTypingStart(s *session, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(EventTypingStart, data, &p); err != nil {
		return err
	}
	if err := p.validate(EventTypingStart); err != nil {
		return err
	}
	h.typing.start(p.ChannelID, s.userID(), s.username(), h.now())
	h.toChannel(p.ChannelID, s.conn.ID(), EventUserTypingStart, UserTypingStart{
		UserID:    s.userID(),
		Username:  s.username(),
		ChannelID: p.ChannelID,
	})
	return nil
}

func (h *Hub) handleTypingStop(s *session, data json.RawMessage) error {
	var p ChannelPayload
	if err := decode(EventTypingStop, data, &p); err != nil {
		return err
	}
	if err := p.validate(EventTypingStop); err != nil {
		return err
	}
	if !h.typing.stop(p.ChannelID, s.userID()) && h.suppressIdleTypingStop {
		return nil
	}
	h.toChannel(p.ChannelID, s.conn.ID(), EventUserTypingStop, UserTypingStop{
		UserID:    s.userID(),
		ChannelID: p.ChannelID,
	})
	return nil
}

func (h *Hub) handleAddReaction(s *session, data json.RawMessage) error {
	var p ReactionPayload
	if err := decode(EventAddReaction, data, &p); err != nil {
		return err
	}
	if err := p.validate(EventAddReaction); err != nil {
		return err
	}
	h.toChannel(p.ChannelID, s.conn.ID(), EventReactionAdded, ReactionAdded{
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
		UserID:    s.userID(),
		Username:  s.username(),
	})
	return nil
}

func (h *Hub) handleRemoveReaction(s *session, data json.RawMessage) error {
	var p ReactionPayload
	if err := decode(EventRemoveReaction, data, &p); err != nil {
		return err
	}
	if err := p.validate(EventRemoveReaction); err != nil {
		return err
	}
	h.toChannel(p.ChannelID, s.conn.ID(), EventReactionRemoved, ReactionRemoved{
		MessageID: p.MessageID,
		Emoji:     p.Emoji,
		UserID:    s.userID(),
	})
	return nil
}

func (h *Hub) handleEditMessage(s *session, data json.RawMessage) error {
	var p EditMessagePayload
	if err := decode(EventEditMessage, data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	h.toChannel(p.ChannelID, s.conn.ID(), EventMessageEdited, MessageEdited{
		MessageID: p.MessageID,
		Content:   *p.Content,
		EditedAt:  h.now().UTC().Format(editedAtLayout),
	})
	return nil
}

func (h *Hub) handleDeleteMessage(s *session, data json.RawMessage) error {
	var p DeleteMessagePayload
	if err := decode(EventDeleteMessage, data, &p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	h.toChannel(p.ChannelID, s.conn.ID(), EventMessageDeleted, MessageDeleted{MessageID: p.MessageID})
	return nil
}
