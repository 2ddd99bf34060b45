package relay

import "time"

type typingEntry struct {
	username string
	expires  time.Time
}

// channel holds everything the hub knows about one named group. It exists
// only while it has members or typing entries.
type channel struct {
	members map[string]struct{}
	typing  map[string]typingEntry
}

func (c *channel) empty() bool {
	return len(c.members) == 0 && len(c.typing) == 0
}

// channelTable is shared by membership and the typing tracker so that a
// channel is collected only when both sides are done with it.
type channelTable struct {
	byID map[string]*channel
}

func newChannelTable() *channelTable {
	return &channelTable{byID: make(map[string]*channel)}
}

func (t *channelTable) get(id string) (*channel, bool) {
	ch, ok := t.byID[id]
	return ch, ok
}

func (t *channelTable) ensure(id string) *channel {
	ch, ok := t.byID[id]
	if !ok {
		ch = &channel{
			members: make(map[string]struct{}),
			typing:  make(map[string]typingEntry),
		}
		t.byID[id] = ch
	}
	return ch
}

// collect deletes the channel if nothing references it any more.
func (t *channelTable) collect(id string) {
	if ch, ok := t.byID[id]; ok && ch.empty() {
		delete(t.byID, id)
	}
}

func (t *channelTable) len() int { return len(t.byID) }
