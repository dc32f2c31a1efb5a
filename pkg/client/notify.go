package client

import (
	"sync"
	"time"
	"unicode/utf8"

	"chatgate/pkg/types"
)

// DefaultNotifyInterval is the minimum gap between notifications of one channel
const DefaultNotifyInterval = 10 * time.Second

const previewLength = 80

// Notification is raised for a message arriving in a channel that is not on screen
type Notification struct {
	ChannelID int64  `json:"channelId"`
	MessageID int64  `json:"messageId"`
	SenderID  string `json:"senderId"`
	Username  string `json:"username"`
	Preview   string `json:"preview"`
}

// Notifier raises at most one notification per channel per interval
type Notifier struct {
	interval time.Duration
	clock    Clock
	deliver  func(Notification)

	mu   sync.Mutex
	last map[int64]time.Time
}

// NewNotifier creates a throttled notifier. deliver may be nil.
func NewNotifier(interval time.Duration, clock Clock, deliver func(Notification)) *Notifier {
	if interval <= 0 {
		interval = DefaultNotifyInterval
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Notifier{
		interval: interval,
		clock:    clock,
		deliver:  deliver,
		last:     make(map[int64]time.Time),
	}
}

// Notify raises a notification for msg unless its channel was notified
// within the interval. It reports whether one was raised.
func (n *Notifier) Notify(msg types.Message) bool {
	now := n.clock.Now()

	n.mu.Lock()
	if last, ok := n.last[msg.ChannelID]; ok && now.Sub(last) < n.interval {
		n.mu.Unlock()
		return false
	}
	n.last[msg.ChannelID] = now
	n.mu.Unlock()

	if n.deliver != nil {
		n.deliver(Notification{
			ChannelID: msg.ChannelID,
			MessageID: msg.ID,
			SenderID:  msg.SenderID,
			Username:  msg.Username,
			Preview:   preview(msg.Content),
		})
	}
	return true
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength-1]) + "…"
}
