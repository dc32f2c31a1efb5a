package presence

import (
	"sort"
	"sync"

	"chatgate/pkg/types"
)

// Tracker keeps per-channel presence and per-connection channel sets
// ARCHITECTURAL DISCOVERY: both indexes change under one mutex and the lock is
// never held across I/O, so every join/leave sees them in lockstep.
// Presence is reference counted: a user stays present while at least one of
// their connections is joined to the channel.
type Tracker struct {
	mu       sync.Mutex
	channels map[int64]map[string]*member // channelID -> userID -> member
	conns    map[string]*connEntry        // connID -> entry
}

// member is one present user and the connections holding them present
type member struct {
	entry types.PresenceEntry
	conns map[string]struct{}
}

// connEntry indexes the channels a connection has joined
type connEntry struct {
	userID   string
	channels map[int64]struct{}
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		channels: make(map[int64]map[string]*member),
		conns:    make(map[string]*connEntry),
	}
}

// Join records connID as present in channelID and returns the channel's full presence list
func (t *Tracker) Join(connID, userID, username string, channelID int64) []types.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, exists := t.channels[channelID]
	if !exists {
		users = make(map[string]*member)
		t.channels[channelID] = users
	}

	m, exists := users[userID]
	if !exists {
		m = &member{conns: make(map[string]struct{})}
		users[userID] = m
	}
	// Last writer keeps the display name
	m.entry = types.PresenceEntry{UserID: userID, Username: username}
	m.conns[connID] = struct{}{}

	c, exists := t.conns[connID]
	if !exists {
		c = &connEntry{userID: userID, channels: make(map[int64]struct{})}
		t.conns[connID] = c
	}
	c.channels[channelID] = struct{}{}

	return t.listLocked(channelID)
}

// Leave removes connID from one channel. departed is true when that was the
// user's last connection in the channel, users is the remaining presence list.
func (t *Tracker) Leave(connID string, channelID int64) (users []types.PresenceEntry, departed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.conns[connID]
	if !exists {
		return nil, false
	}
	if _, joined := c.channels[channelID]; !joined {
		return t.listLocked(channelID), false
	}

	delete(c.channels, channelID)
	if len(c.channels) == 0 {
		delete(t.conns, connID)
	}

	departed = t.removeLocked(connID, c.userID, channelID)
	return t.listLocked(channelID), departed
}

// LeaveConnection removes connID from every channel it joined and returns the
// presence of each channel the user departed that still has users in it
func (t *Tracker) LeaveConnection(connID string) []types.ChannelPresence {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.conns[connID]
	if !exists {
		return nil
	}
	delete(t.conns, connID)

	channelIDs := make([]int64, 0, len(c.channels))
	for channelID := range c.channels {
		channelIDs = append(channelIDs, channelID)
	}
	sort.Slice(channelIDs, func(i, j int) bool { return channelIDs[i] < channelIDs[j] })

	var affected []types.ChannelPresence
	for _, channelID := range channelIDs {
		if !t.removeLocked(connID, c.userID, channelID) {
			continue
		}
		if users := t.listLocked(channelID); len(users) > 0 {
			affected = append(affected, types.ChannelPresence{ChannelID: channelID, Users: users})
		}
	}
	return affected
}

// removeLocked drops one connection reference and reports whether the user departed
func (t *Tracker) removeLocked(connID, userID string, channelID int64) bool {
	users, exists := t.channels[channelID]
	if !exists {
		return false
	}
	m, exists := users[userID]
	if !exists {
		return false
	}

	delete(m.conns, connID)
	if len(m.conns) > 0 {
		return false
	}

	delete(users, userID)
	if len(users) == 0 {
		delete(t.channels, channelID)
	}
	return true
}

// List returns the presence list of a channel ordered by username
func (t *Tracker) List(channelID int64) []types.PresenceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listLocked(channelID)
}

func (t *Tracker) listLocked(channelID int64) []types.PresenceEntry {
	users := t.channels[channelID]
	list := make([]types.PresenceEntry, 0, len(users))
	for _, m := range users {
		list = append(list, m.entry)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Username != list[j].Username {
			return list[i].Username < list[j].Username
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

// Channels returns the channels a connection has joined
func (t *Tracker) Channels(connID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, exists := t.conns[connID]
	if !exists {
		return nil
	}
	ids := make([]int64, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetStats returns tracker statistics for monitoring
func (t *Tracker) GetStats() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]int{
		"present_channels":    len(t.channels),
		"present_connections": len(t.conns),
	}
}
