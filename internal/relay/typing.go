package relay

import (
	"sort"
	"time"
)

// typingTracker records which users are composing in which channel. Entries
// are keyed by userId so repeated starts never duplicate a user.
type typingTracker struct {
	channels *channelTable
	ttl      time.Duration
}

func newTypingTracker(channels *channelTable, ttl time.Duration) *typingTracker {
	return &typingTracker{channels: channels, ttl: ttl}
}

// start adds or refreshes the entry for userID.
func (t *typingTracker) start(channelID, userID, username string, now time.Time) {
	entry := typingEntry{username: username}
	if t.ttl > 0 {
		entry.expires = now.Add(t.ttl)
	}
	t.channels.ensure(channelID).typing[userID] = entry
}

// stop removes the entry and reports whether one existed. An emptied
// typing set releases the channel if it has no members either.
func (t *typingTracker) stop(channelID, userID string) bool {
	ch, ok := t.channels.get(channelID)
	if !ok {
		return false
	}
	if _, ok := ch.typing[userID]; !ok {
		return false
	}
	delete(ch.typing, userID)
	t.channels.collect(channelID)
	return true
}

// clearUser removes userID from every channel and returns the affected
// channel ids in sorted order.
func (t *typingTracker) clearUser(userID string) []string {
	var cleared []string
	for id, ch := range t.channels.byID {
		if _, ok := ch.typing[userID]; ok {
			cleared = append(cleared, id)
		}
	}
	sort.Strings(cleared)
	for _, id := range cleared {
		t.stop(id, userID)
	}
	return cleared
}

type expiredTyping struct {
	channelID string
	userID    string
}

// expire removes every entry whose deadline has passed.
func (t *typingTracker) expire(now time.Time) []expiredTyping {
	if t.ttl <= 0 {
		return nil
	}
	var expired []expiredTyping
	for id, ch := range t.channels.byID {
		for userID, entry := range ch.typing {
			if !entry.expires.IsZero() && !now.Before(entry.expires) {
				expired = append(expired, expiredTyping{channelID: id, userID: userID})
			}
		}
	}
	for _, e := range expired {
		t.stop(e.channelID, e.userID)
	}
	return expired
}

func (t *typingTracker) isTyping(channelID, userID string) bool {
	ch, ok := t.channels.get(channelID)
	if !ok {
		return false
	}
	_, ok = ch.typing[userID]
	return ok
}

// count returns the number of live entries across all channels.
func (t *typingTracker) count() int {
	n := 0
	for _, ch := range t.channels.byID {
		n += len(ch.typing)
	}
	return n
}
