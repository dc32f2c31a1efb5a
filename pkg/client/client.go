package client

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatgate/pkg/types"
)

const defaultWriteTimeout = 10 * time.Second

// Options configures a gateway client. Zero values select defaults.
type Options struct {
	// Token is sent as the token query parameter during the handshake
	Token          string
	Dialer         *websocket.Dialer
	Clock          Clock
	FailureTimeout time.Duration
	TypingDebounce time.Duration
	NotifyInterval time.Duration
	WriteTimeout   time.Duration
	// OnNotify receives throttled notifications for non-active channels
	OnNotify func(Notification)
	// OnError receives the message of every error event
	OnError func(message string)
	Logger  *zap.Logger
}

// Client is a gateway connection with local reconciliation state
// ARCHITECTURAL DISCOVERY: one read goroutine applies every server frame to
// the engine, trackers and presence view; writes are serialized by writeMu
type Client struct {
	conn         *websocket.Conn
	engine       *Engine
	typing       *TypingTracker
	log          *zap.Logger
	onError      func(string)
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.RWMutex
	identity  types.Identity
	authed    bool
	joined    map[int64]bool
	presence  map[int64][]types.PresenceEntry
	lastError string
	changed   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// Dial connects to the gateway at rawURL (http, https, ws or wss; the path
// defaults to /ws) and starts reading frames
func Dial(ctx context.Context, rawURL string, opts Options) (*Client, error) {
	if rawURL == "" {
		return nil, ErrEmptyURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gateway url")
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	if opts.Token != "" {
		q := u.Query()
		q.Set("token", opts.Token)
		u.RawQuery = q.Encode()
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect")
	}

	c := newClient(conn, opts)
	go c.readLoop()
	return c, nil
}

func newClient(conn *websocket.Conn, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	c := &Client{
		conn:         conn,
		typing:       NewTypingTracker(opts.TypingDebounce, opts.Clock),
		log:          opts.Logger,
		onError:      opts.OnError,
		writeTimeout: opts.WriteTimeout,
		joined:       make(map[int64]bool),
		presence:     make(map[int64][]types.PresenceEntry),
		changed:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.engine = NewEngine(EngineOptions{
		Sender:         c,
		Clock:          opts.Clock,
		FailureTimeout: opts.FailureTimeout,
		Notifier:       NewNotifier(opts.NotifyInterval, opts.Clock, opts.OnNotify),
		Logger:         opts.Logger,
	})
	return c
}

// SendEvent encodes and writes one client event
func (c *Client) SendEvent(event string, data interface{}) error {
	frame, err := types.EncodeEnvelope(event, data)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.isClosed() {
		return ErrClientClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return errors.Wrapf(err, "failed to write %s", event)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Debug("Gateway connection ended", zap.Error(err))
			}
			c.notifyChanged()
			return
		}

		env, err := types.ParseEnvelope(data)
		if err != nil {
			c.log.Debug("Dropping undecodable frame", zap.Error(err))
			continue
		}
		c.dispatch(env)
		c.notifyChanged()
	}
}

// dispatch applies one server frame
func (c *Client) dispatch(env *types.Envelope) {
	var err error
	switch env.Event {
	case types.EventAuthenticated:
		var identity types.Identity
		if err = json.Unmarshal(env.Data, &identity); err == nil {
			c.mu.Lock()
			c.identity = identity
			c.authed = true
			c.mu.Unlock()
			c.engine.SetIdentity(identity)
		}

	case types.EventJoinedChannel, types.EventLeftChannel:
		var data types.JoinedChannelData
		if err = json.Unmarshal(env.Data, &data); err == nil {
			if id, ok := channelFromRoom(data.Room); ok {
				c.mu.Lock()
				if env.Event == types.EventJoinedChannel {
					c.joined[id] = true
				} else {
					delete(c.joined, id)
					delete(c.presence, id)
				}
				c.mu.Unlock()
			}
		}

	case types.EventChannelPresence:
		var data types.ChannelPresence
		if err = json.Unmarshal(env.Data, &data); err == nil {
			c.mu.Lock()
			c.presence[data.ChannelID] = data.Users
			c.mu.Unlock()
		}

	case types.EventMessageReceived, types.EventMessageAck:
		var msg types.Message
		if err = json.Unmarshal(env.Data, &msg); err == nil {
			c.engine.HandleMessage(msg, env.Event == types.EventMessageAck)
		}

	case types.EventMessageUpdated:
		var msg types.Message
		if err = json.Unmarshal(env.Data, &msg); err == nil {
			c.engine.ApplyEdit(msg)
		}

	case types.EventMessageDeleted:
		var data types.MessageDeletedData
		if err = json.Unmarshal(env.Data, &data); err == nil {
			c.engine.ApplyDelete(data.ChannelID, data.MessageID)
		}

	case types.EventReactionUpdate:
		var data types.ReactionUpdateData
		if err = json.Unmarshal(env.Data, &data); err == nil {
			c.engine.ApplyReaction(data)
		}

	case types.EventChannelTyping:
		var data types.TypingData
		if err = json.Unmarshal(env.Data, &data); err == nil {
			if self, ok := c.Identity(); !ok || self.UserID != data.UserID {
				c.typing.Observe(data)
			}
		}

	case types.EventError:
		var data types.ErrorData
		if err = json.Unmarshal(env.Data, &data); err == nil {
			c.mu.Lock()
			c.lastError = data.Message
			c.mu.Unlock()
			if c.onError != nil {
				c.onError(data.Message)
			}
		}

	default:
		c.log.Debug("Ignoring unknown event", zap.String("event", env.Event))
	}

	if err != nil {
		c.log.Debug("Dropping malformed payload", zap.String("event", env.Event), zap.Error(err))
	}
}

func channelFromRoom(room string) (int64, bool) {
	if !strings.HasPrefix(room, types.RoomPrefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(room, types.RoomPrefix), 10, 64)
	return id, err == nil
}

func (c *Client) notifyChanged() {
	c.mu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// WaitFor blocks until cond holds after a processed frame, the connection
// ends or ctx is done
func (c *Client) WaitFor(ctx context.Context, cond func(*Client) bool) error {
	for {
		c.mu.RLock()
		changed := c.changed
		c.mu.RUnlock()

		if cond(c) {
			return nil
		}
		select {
		case <-changed:
		case <-c.done:
			if cond(c) {
				return nil
			}
			return ErrClientClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Authenticate upgrades the connection with a bearer token
func (c *Client) Authenticate(token string) error {
	return c.SendEvent(types.EventAuthenticate, types.Authenticate{Token: token})
}

// Join subscribes to a channel room
func (c *Client) Join(channelID int64) error {
	return c.SendEvent(types.EventJoinChannel, types.JoinChannel{ChannelID: channelID})
}

// Leave unsubscribes from a channel room
func (c *Client) Leave(channelID int64) error {
	return c.SendEvent(types.EventLeaveChannel, types.LeaveChannel{ChannelID: channelID})
}

// Open joins a channel and makes it the active one
func (c *Client) Open(channelID int64) error {
	if err := c.Join(channelID); err != nil {
		return err
	}
	c.engine.SetActive(channelID)
	return nil
}

// Send posts a message optimistically and returns its temp id
func (c *Client) Send(channelID int64, content string) (string, error) {
	return c.engine.Send(channelID, content)
}

// Resend retries a failed message
func (c *Client) Resend(tempID string) (string, error) {
	return c.engine.Resend(tempID)
}

// SetTyping toggles this user's typing indicator in a channel
func (c *Client) SetTyping(channelID int64, typing bool) error {
	return c.SendEvent(types.EventTyping, types.Typing{ChannelID: channelID, Typing: typing})
}

// React adds a reaction
func (c *Client) React(channelID, messageID int64, emoji string) error {
	return c.SendEvent(types.EventReactionAdd, types.ReactionAdd{ReactionTarget: types.ReactionTarget{
		MessageID: messageID, Emoji: emoji, ChannelID: channelID,
	}})
}

// Unreact removes a reaction
func (c *Client) Unreact(channelID, messageID int64, emoji string) error {
	return c.SendEvent(types.EventReactionRemove, types.ReactionRemove{ReactionTarget: types.ReactionTarget{
		MessageID: messageID, Emoji: emoji, ChannelID: channelID,
	}})
}

// Edit replaces the content of an authored message
func (c *Client) Edit(channelID, messageID int64, content string) error {
	return c.SendEvent(types.EventMessageEdit, types.MessageEdit{MessageID: messageID, ChannelID: channelID, Content: content})
}

// Delete removes an authored message
func (c *Client) Delete(channelID, messageID int64) error {
	return c.SendEvent(types.EventMessageDelete, types.MessageDelete{MessageID: messageID, ChannelID: channelID})
}

// Engine exposes the reconciliation state
func (c *Client) Engine() *Engine {
	return c.engine
}

// Identity returns the identity confirmed by the gateway
func (c *Client) Identity() (types.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.authed
}

// Joined reports whether the gateway confirmed a subscription
func (c *Client) Joined(channelID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.joined[channelID]
}

// Presence returns the last presence list received for a channel
func (c *Client) Presence(channelID int64) []types.PresenceEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.PresenceEntry(nil), c.presence[channelID]...)
}

// Typing returns who is typing in a channel
func (c *Client) Typing(channelID int64) []types.PresenceEntry {
	return c.typing.Users(channelID)
}

// LastError returns the message of the most recent error event
func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close ends the connection and cancels local timers
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.engine.Close()
		c.typing.Clear()

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
		<-c.done
	})
	return err
}
