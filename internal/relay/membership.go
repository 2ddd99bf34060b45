package relay

// membership is the many-to-many relation between connections and
// channels, indexed both ways.
type membership struct {
	channels *channelTable
	byConn   map[string]map[string]struct{}
}

func newMembership(channels *channelTable) *membership {
	return &membership{
		channels: channels,
		byConn:   make(map[string]map[string]struct{}),
	}
}

// join is idempotent.
func (m *membership) join(connID, channelID string) {
	m.channels.ensure(channelID).members[connID] = struct{}{}

	joined, ok := m.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		m.byConn[connID] = joined
	}
	joined[channelID] = struct{}{}
}

// leave reports whether the pair existed. Unknown pairs are a no-op.
func (m *membership) leave(connID, channelID string) bool {
	ch, ok := m.channels.get(channelID)
	if !ok {
		return false
	}
	if _, ok := ch.members[connID]; !ok {
		return false
	}
	delete(ch.members, connID)
	m.channels.collect(channelID)

	if joined, ok := m.byConn[connID]; ok {
		delete(joined, channelID)
		if len(joined) == 0 {
			delete(m.byConn, connID)
		}
	}
	return true
}

// members returns the connection ids joined to a channel. The returned
// slice is a copy.
func (m *membership) members(channelID string) []string {
	ch, ok := m.channels.get(channelID)
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(ch.members))
	for id := range ch.members {
		ids = append(ids, id)
	}
	return ids
}

func (m *membership) isMember(connID, channelID string) bool {
	ch, ok := m.channels.get(channelID)
	if !ok {
		return false
	}
	_, ok = ch.members[connID]
	return ok
}

// dropConn abandons every membership of a connection without emitting
// anything, and returns how many channels it was in.
func (m *membership) dropConn(connID string) int {
	joined := m.byConn[connID]
	for channelID := range joined {
		if ch, ok := m.channels.get(channelID); ok {
			delete(ch.members, connID)
			m.channels.collect(channelID)
		}
	}
	delete(m.byConn, connID)
	return len(joined)
}
