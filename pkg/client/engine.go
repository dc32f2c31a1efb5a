package client

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatgate/pkg/types"
)

// DefaultFailureTimeout is how long a pending message waits for its echo
const DefaultFailureTimeout = 5 * time.Second

// Sender emits one client event to the gateway
type Sender interface {
	SendEvent(event string, data interface{}) error
}

// Outcome reports what HandleMessage did with a server message
type Outcome int

const (
	// OutcomeIgnored means the frame changed nothing (an unmatched ack)
	OutcomeIgnored Outcome = iota
	// OutcomeReconciled means a local pending or failed entry became sent
	OutcomeReconciled
	// OutcomeAppended means a message from elsewhere was added as sent
	OutcomeAppended
	// OutcomeDuplicate means the server id was already present
	OutcomeDuplicate
)

// EngineOptions configures a reconciliation engine
type EngineOptions struct {
	Sender         Sender
	Clock          Clock
	FailureTimeout time.Duration
	Notifier       *Notifier
	Logger         *zap.Logger
}

// Engine reconciles optimistic local sends with server echoes.
// ARCHITECTURAL DISCOVERY: each channel keeps an ordered map keyed by the
// server id once known and by the temp id before that, so a pending entry
// can be confirmed exactly once no matter how many echoes arrive.
type Engine struct {
	sender         Sender
	clock          Clock
	failureTimeout time.Duration
	notifier       *Notifier
	log            *zap.Logger

	mu          sync.Mutex
	self        types.Identity
	channels    map[int64]*timeline
	timers      map[string]Timer // tempID -> failure timer
	tempChannel map[string]int64 // tempID -> channel
	active      int64
	unread      map[int64]int
	lastRead    map[int64]int64
	closed      bool
}

// NewEngine creates a reconciliation engine
func NewEngine(opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.FailureTimeout <= 0 {
		opts.FailureTimeout = DefaultFailureTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		sender:         opts.Sender,
		clock:          opts.Clock,
		failureTimeout: opts.FailureTimeout,
		notifier:       opts.Notifier,
		log:            opts.Logger,
		channels:       make(map[int64]*timeline),
		timers:         make(map[string]Timer),
		tempChannel:    make(map[string]int64),
		unread:         make(map[int64]int),
		lastRead:       make(map[int64]int64),
	}
}

// SetIdentity records who local sends are attributed to
func (e *Engine) SetIdentity(identity types.Identity) {
	e.mu.Lock()
	e.self = identity
	e.mu.Unlock()
}

// newTempID returns prefix_<unix millis>_<random>
func (e *Engine) newTempID(prefix string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("%s_%d_%s", prefix, e.clock.Now().UnixMilli(), random)
}

func (e *Engine) timelineLocked(channelID int64) *timeline {
	tl, ok := e.channels[channelID]
	if !ok {
		tl = newTimeline()
		e.channels[channelID] = tl
	}
	return tl
}

// Send appends a pending message and emits it. The returned temp id names
// the local entry; a non-nil error means the entry is already marked failed.
func (e *Engine) Send(channelID int64, content string) (string, error) {
	if err := types.ValidateChannelID(channelID); err != nil {
		return "", err
	}
	if err := types.ValidateContent(content); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClientClosed
	}
	now := e.clock.Now()
	tempID := e.newTempID("msg")
	entry := &ClientMessage{
		Message: types.Message{
			ChannelID: channelID,
			SenderID:  e.self.UserID,
			Username:  e.self.Username,
			Content:   content,
			CreatedAt: now,
		},
		TempID: tempID,
		Status: StatusPending,
	}
	e.timelineLocked(channelID).append(entry)
	e.tempChannel[tempID] = channelID
	e.startTimerLocked(tempID)
	e.mu.Unlock()

	return tempID, e.emit(tempID, types.SendMessage{
		ChannelID:    channelID,
		Content:      content,
		ClientMsgID:  tempID,
		ClientSentAt: now.UnixMilli(),
	})
}

// Resend retries a failed message under a new temp id and restarts its timer
func (e *Engine) Resend(tempID string) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClientClosed
	}
	channelID, ok := e.tempChannel[tempID]
	if !ok {
		e.mu.Unlock()
		return "", ErrUnknownMessage
	}
	tl := e.timelineLocked(channelID)
	entry, ok := tl.get(tempKey(tempID))
	if !ok {
		e.mu.Unlock()
		return "", ErrUnknownMessage
	}
	if entry.Status != StatusFailed {
		e.mu.Unlock()
		return "", ErrNotFailed
	}

	newTemp := e.newTempID("tmp")
	entry.TempID = newTemp
	entry.Status = StatusPending
	tl.rekey(tempKey(tempID), tempKey(newTemp))
	delete(e.tempChannel, tempID)
	e.tempChannel[newTemp] = channelID
	e.startTimerLocked(newTemp)
	content := entry.Content
	e.mu.Unlock()

	return newTemp, e.emit(newTemp, types.SendMessage{
		ChannelID:    channelID,
		Content:      content,
		ClientMsgID:  newTemp,
		ClientSentAt: e.clock.Now().UnixMilli(),
	})
}

func (e *Engine) emit(tempID string, msg types.SendMessage) error {
	if e.sender == nil {
		e.fail(tempID)
		return ErrNoSender
	}
	if err := e.sender.SendEvent(types.EventSendMessage, msg); err != nil {
		e.fail(tempID)
		return err
	}
	return nil
}

func (e *Engine) startTimerLocked(tempID string) {
	e.timers[tempID] = e.clock.AfterFunc(e.failureTimeout, func() {
		e.fail(tempID)
	})
}

// fail marks a still-pending entry failed
func (e *Engine) fail(tempID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.timers[tempID]; ok {
		t.Stop()
		delete(e.timers, tempID)
	}
	channelID, ok := e.tempChannel[tempID]
	if !ok {
		return
	}
	entry, ok := e.timelineLocked(channelID).get(tempKey(tempID))
	if !ok || entry.Status != StatusPending || entry.ID != 0 {
		return
	}
	entry.Status = StatusFailed
	e.log.Debug("Message not confirmed in time", zap.String("temp_id", tempID), zap.Int64("channel_id", channelID))
}

// HandleMessage applies a messageReceived (ack=false) or messageAck (ack=true)
// frame. Both carry the same clientMsgId, whichever arrives second is a duplicate.
func (e *Engine) HandleMessage(msg types.Message, ack bool) Outcome {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return OutcomeIgnored
	}
	tl := e.timelineLocked(msg.ChannelID)

	if msg.ID > 0 {
		if _, exists := tl.get(serverKey(msg.ID)); exists {
			e.mu.Unlock()
			return OutcomeDuplicate
		}
	}

	if msg.ClientMsgID != "" {
		if entry, ok := tl.get(tempKey(msg.ClientMsgID)); ok && entry.ID == 0 && entry.Status != StatusSent {
			// FUNCTIONAL DISCOVERY: a late echo supersedes a failed entry
			// rather than showing the same message twice
			e.confirmLocked(tl, entry, msg)
			e.mu.Unlock()
			return OutcomeReconciled
		}
	}

	if ack {
		e.mu.Unlock()
		return OutcomeIgnored
	}

	tl.append(&ClientMessage{Message: msg, Status: StatusSent})
	inactive := msg.ChannelID != e.active
	if inactive {
		e.unread[msg.ChannelID]++
	} else {
		e.advanceReadLocked(msg.ChannelID, msg.ID)
	}
	notifier := e.notifier
	e.mu.Unlock()

	if inactive && notifier != nil {
		notifier.Notify(msg)
	}
	return OutcomeAppended
}

func (e *Engine) confirmLocked(tl *timeline, entry *ClientMessage, msg types.Message) {
	oldKey := entry.key()
	tempID := entry.TempID
	if t, ok := e.timers[tempID]; ok {
		t.Stop()
		delete(e.timers, tempID)
	}
	delete(e.tempChannel, tempID)

	entry.Message = msg
	entry.Status = StatusSent
	tl.rekey(oldKey, entry.key())
	if msg.ChannelID == e.active {
		e.advanceReadLocked(msg.ChannelID, msg.ID)
	}
}

func (e *Engine) advanceReadLocked(channelID, messageID int64) {
	if messageID > e.lastRead[channelID] {
		e.lastRead[channelID] = messageID
	}
}

// ApplyEdit replaces the content of a confirmed message
func (e *Engine) ApplyEdit(msg types.Message) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.timelineLocked(msg.ChannelID).get(serverKey(msg.ID))
	if !ok {
		return false
	}
	entry.Content = msg.Content
	entry.UpdatedAt = msg.UpdatedAt
	return true
}

// ApplyDelete removes a confirmed message
func (e *Engine) ApplyDelete(channelID, messageID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timelineLocked(channelID).remove(serverKey(messageID))
}

// ApplyReaction applies a reaction delta; repeated deltas are no-ops
func (e *Engine) ApplyReaction(update types.ReactionUpdateData) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.timelineLocked(update.ChannelID).get(serverKey(update.MessageID))
	if !ok {
		return false
	}

	idx := -1
	for i, r := range entry.Reactions {
		if r.Emoji == update.Emoji && r.UserID == update.UserID {
			idx = i
			break
		}
	}
	switch update.Type {
	case types.ReactionTypeAdd:
		if idx >= 0 {
			return false
		}
		entry.Reactions = append(entry.Reactions, ReactionMark{Emoji: update.Emoji, UserID: update.UserID})
	case types.ReactionTypeRemove:
		if idx < 0 {
			return false
		}
		entry.Reactions = append(entry.Reactions[:idx], entry.Reactions[idx+1:]...)
	default:
		return false
	}
	return true
}

// LoadHistory places fetched history ahead of the live entries of a channel.
// Messages already present are skipped.
func (e *Engine) LoadHistory(channelID int64, history []*types.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tl := e.timelineLocked(channelID)
	merged := newTimeline()
	for _, m := range history {
		if m == nil {
			continue
		}
		if _, exists := tl.get(serverKey(m.ID)); exists {
			continue
		}
		merged.append(&ClientMessage{Message: *m, Status: StatusSent})
	}
	for _, k := range tl.order {
		merged.append(tl.items[k])
	}
	e.channels[channelID] = merged
}

// SetActive selects the channel on screen and clears its unread counter
func (e *Engine) SetActive(channelID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.active = channelID
	delete(e.unread, channelID)
	tl := e.timelineLocked(channelID)
	for i := len(tl.order) - 1; i >= 0; i-- {
		if m := tl.items[tl.order[i]]; m.ID > 0 {
			e.advanceReadLocked(channelID, m.ID)
			break
		}
	}
}

// Active returns the channel on screen, 0 when none
func (e *Engine) Active() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Unread returns the unread counter of a channel
func (e *Engine) Unread(channelID int64) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unread[channelID]
}

// LastRead returns the newest confirmed id seen while the channel was active
func (e *Engine) LastRead(channelID int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRead[channelID]
}

// Messages returns a snapshot of a channel in display order
func (e *Engine) Messages(channelID int64) []ClientMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	tl, ok := e.channels[channelID]
	if !ok {
		return nil
	}
	return tl.snapshot()
}

// Close cancels every failure timer. Pending entries stay pending.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
