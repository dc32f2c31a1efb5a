package client

import (
	"strconv"

	"chatgate/pkg/types"
)

// Status is the reconciliation state of a local message
type Status string

// Message states. Pending moves to exactly one of Sent or Failed;
// a Failed message may be resent and becomes Pending again.
const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// ReactionMark is one user's emoji on a message as seen by the client
type ReactionMark struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// ClientMessage is the client projection of a message.
// TempID is set for messages created locally; ID is set once the server
// has confirmed the message.
type ClientMessage struct {
	types.Message
	TempID    string         `json:"tempId,omitempty"`
	Status    Status         `json:"status"`
	Reactions []ReactionMark `json:"reactions,omitempty"`
}

// key is the stable identity of an entry: the server id once known, else the temp id
func (m *ClientMessage) key() string {
	if m.ID > 0 {
		return serverKey(m.ID)
	}
	return tempKey(m.TempID)
}

func serverKey(id int64) string {
	return "id:" + strconv.FormatInt(id, 10)
}

func tempKey(tempID string) string {
	return "tmp:" + tempID
}

func (m *ClientMessage) clone() ClientMessage {
	out := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		out.UpdatedAt = &t
	}
	out.Reactions = append([]ReactionMark(nil), m.Reactions...)
	return out
}

// timeline is an insertion-ordered map of messages keyed by stable identity
type timeline struct {
	order []string
	items map[string]*ClientMessage
}

func newTimeline() *timeline {
	return &timeline{items: make(map[string]*ClientMessage)}
}

func (t *timeline) get(key string) (*ClientMessage, bool) {
	m, ok := t.items[key]
	return m, ok
}

func (t *timeline) append(m *ClientMessage) {
	k := m.key()
	if _, exists := t.items[k]; exists {
		return
	}
	t.order = append(t.order, k)
	t.items[k] = m
}

// rekey moves an entry to a new key without changing its position
func (t *timeline) rekey(oldKey, newKey string) {
	m, ok := t.items[oldKey]
	if !ok || oldKey == newKey {
		return
	}
	delete(t.items, oldKey)
	t.items[newKey] = m
	for i, k := range t.order {
		if k == oldKey {
			t.order[i] = newKey
			break
		}
	}
}

func (t *timeline) remove(key string) bool {
	if _, ok := t.items[key]; !ok {
		return false
	}
	delete(t.items, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return true
}

func (t *timeline) snapshot() []ClientMessage {
	out := make([]ClientMessage, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, t.items[k].clone())
	}
	return out
}

func (t *timeline) len() int {
	return len(t.order)
}
