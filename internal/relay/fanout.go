package relay

import "errors"

// toChannel delivers an event to every member of channelID except the
// connection named by exclude, and returns the number of deliveries.
func (h *Hub) toChannel(channelID, exclude, event string, payload any) int {
	ids := h.members.members(channelID)
	if len(ids) == 0 {
		return 0
	}
	data, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	delivered := 0
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if s, ok := h.registry.get(id); ok && h.deliver(s, data) {
			delivered++
		}
	}
	h.log.Debug("broadcast to channel", "event", event, "channel", channelID, "delivered", delivered)
	return delivered
}

// toAllExcept delivers an event to every registered connection except
// exclude.
func (h *Hub) toAllExcept(exclude, event string, payload any) int {
	data, ok := h.encode(event, payload)
	if !ok {
		return 0
	}

	delivered := 0
	h.registry.each(func(s *session) {
		if s.conn.ID() == exclude {
			return
		}
		if h.deliver(s, data) {
			delivered++
		}
	})
	h.log.Debug("broadcast to all", "event", event, "delivered", delivered)
	return delivered
}

// toConn delivers an event to a single connection.
func (h *Hub) toConn(id, event string, payload any) bool {
	s, ok := h.registry.get(id)
	if !ok {
		return false
	}
	data, ok := h.encode(event, payload)
	if !ok {
		return false
	}
	return h.deliver(s, data)
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		h.log.Error("encode outbound event", "event", event, "error", err)
		return nil, false
	}
	return data, true
}

// deliver hands data to the transport without blocking. A connection that
// refuses it is queued for removal after the current step.
func (h *Hub) deliver(s *session, data []byte) bool {
	id := s.conn.ID()
	if _, failed := h.failed[id]; failed {
		return false
	}
	if err := s.conn.Send(data); err != nil {
		if !errors.Is(err, ErrConnClosed) {
			h.log.Warn("send failed", "conn", id, "error", err)
		}
		h.failed[id] = struct{}{}
		return false
	}
	return true
}
