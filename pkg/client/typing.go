package client

import (
	"sort"
	"sync"
	"time"

	"chatgate/pkg/types"
)

// DefaultTypingDebounce is the typing debounce; indicators clear after three of them
const DefaultTypingDebounce = 250 * time.Millisecond

type typingEntry struct {
	username string
	timer    Timer
}

// TypingTracker keeps who is typing per channel.
// FUNCTIONAL DISCOVERY: an indicator not refreshed within 3 x debounce is
// cleared so a lost "stopped typing" frame never leaves it stuck.
type TypingTracker struct {
	ttl   time.Duration
	clock Clock

	mu       sync.Mutex
	channels map[int64]map[string]*typingEntry
}

// NewTypingTracker creates a tracker for the given debounce
func NewTypingTracker(debounce time.Duration, clock Clock) *TypingTracker {
	if debounce <= 0 {
		debounce = DefaultTypingDebounce
	}
	if clock == nil {
		clock = SystemClock
	}
	return &TypingTracker{
		ttl:      3 * debounce,
		clock:    clock,
		channels: make(map[int64]map[string]*typingEntry),
	}
}

// Observe applies one channelTyping frame
func (t *TypingTracker) Observe(data types.TypingData) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.channels[data.ChannelID]
	if existing, ok := users[data.UserID]; ok {
		existing.timer.Stop()
	}

	if !data.Typing {
		t.removeLocked(data.ChannelID, data.UserID)
		return
	}

	if users == nil {
		users = make(map[string]*typingEntry)
		t.channels[data.ChannelID] = users
	}
	entry := &typingEntry{username: data.Username}
	entry.timer = t.clock.AfterFunc(t.ttl, func() {
		t.expire(data.ChannelID, data.UserID, entry)
	})
	users[data.UserID] = entry
}

func (t *TypingTracker) expire(channelID int64, userID string, entry *typingEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A refresh replaced the entry, its own timer owns the removal
	if current, ok := t.channels[channelID][userID]; ok && current == entry {
		t.removeLocked(channelID, userID)
	}
}

func (t *TypingTracker) removeLocked(channelID int64, userID string) {
	users := t.channels[channelID]
	delete(users, userID)
	if len(users) == 0 {
		delete(t.channels, channelID)
	}
}

// Users returns who is typing in a channel, ordered by user id
func (t *TypingTracker) Users(channelID int64) []types.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.channels[channelID]
	out := make([]types.PresenceEntry, 0, len(users))
	for id, entry := range users {
		out = append(out, types.PresenceEntry{UserID: id, Username: entry.username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Clear drops every indicator and cancels their timers
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, users := range t.channels {
		for _, entry := range users {
			entry.timer.Stop()
		}
	}
	t.channels = make(map[int64]map[string]*typingEntry)
}
