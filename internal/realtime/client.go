package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
	"github.com/DSkillz/ProNet-sub001/internal/model"
	"github.com/DSkillz/ProNet-sub001/internal/rest"
)

// Config assembles a Client. APIBaseURL and SocketURL point at the chat
// service; Token is the session bearer credential presented once at the
// websocket handshake and on every REST call. The remaining knobs exist
// for tests and default sensibly when zero.
type Config struct {
	APIBaseURL string
	SocketURL  string
	Token      string
	Logger     *zap.Logger
	HTTPClient *http.Client

	RetryInterval time.Duration
	MaxRetries    int
	TypingExpiry  time.Duration
}

// Client is the assembled realtime messaging layer: one connection, one
// event bus, and the trackers and stores hanging off it. Construct it
// with NewClient, call Connect, and read state through the exported
// components.
type Client struct {
	Bus           *Bus
	Conn          *Conn
	Presence      *PresenceTracker
	Conversations *ConversationStore
	Messages      *MessageStream
	Typing        *TypingCoordinator

	api    API
	token  string
	logger *zap.Logger
	stops  []func()
}

func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	bus := NewBus()
	conn := NewConn(ConnConfig{
		URL:           cfg.SocketURL,
		RetryInterval: cfg.RetryInterval,
		MaxRetries:    cfg.MaxRetries,
	}, bus, logger)
	api := rest.NewClient(cfg.APIBaseURL, cfg.Token, cfg.HTTPClient)
	convs := NewConversationStore(api, logger)

	c := &Client{
		Bus:           bus,
		Conn:          conn,
		Presence:      NewPresenceTracker(bus, logger),
		Conversations: convs,
		Messages:      NewMessageStream(api, conn, convs, bus, logger),
		Typing:        NewTypingCoordinator(conn, bus, cfg.TypingExpiry, logger),
		api:           api,
		token:         cfg.Token,
		logger:        logger,
	}
	c.stops = append(c.stops, bus.Subscribe(event.EventNewMessage, c.routeInbound))
	return c
}

// Connect establishes the realtime channel. Connectivity is observed
// through Conn.State and the connect/disconnect events on the bus, not
// through a return value.
func (c *Client) Connect(ctx context.Context) {
	c.Conn.Connect(ctx, c.token)
}

// Close tears everything down. Late REST responses and in-flight events
// are discarded; no handler fires after this returns.
func (c *Client) Close() {
	for _, stop := range c.stops {
		stop()
	}
	c.Messages.Close()
	c.Typing.Close()
	c.Presence.Close()
	c.Conn.Disconnect()
}

// UnreadCount fetches the total unread badge count over REST.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	return c.api.UnreadCount(ctx)
}

// OnNotification registers a sink for generic server notifications and
// returns its disposer.
func (c *Client) OnNotification(fn func(model.Notification)) func() {
	return c.Bus.Subscribe(event.EventNotify, func(ev event.WsEvent) {
		var n model.Notification
		if err := json.Unmarshal(ev.Payload, &n); err != nil {
			c.logger.Warn("malformed notification", zap.Error(err))
			return
		}
		fn(n)
	})
}

// routeInbound splits live messages between the message stream and the
// conversation summaries: the active conversation gets the message in
// its log, any other conversation only gets its summary patched (and
// its unread counter bumped).
func (c *Client) routeInbound(ev event.WsEvent) {
	var msg model.Message
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		c.logger.Warn("malformed inbound message", zap.Error(err))
		return
	}

	if msg.ConversationID.Hex() == c.Messages.Active() {
		c.Messages.ApplyInbound(msg)
		c.Conversations.TouchLastMessage(msg)
		return
	}
	c.Conversations.PatchInbound(msg)
}
