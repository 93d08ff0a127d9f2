package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

// Store is the persistence the hub needs: conversation membership for
// scope checks and the one mutation the wire can trigger, the read
// transition. MarkMessageRead must refuse readers other than the
// message's receiver without touching the document.
type Store interface {
	Members(ctx context.Context, conversationID string) ([]string, error)
	MarkMessageRead(ctx context.Context, messageID, readerID string) (*model.Message, time.Time, error)
}

// Authenticator resolves the bearer token presented at the websocket
// handshake. Session issuance lives elsewhere.
type Authenticator interface {
	UserForToken(ctx context.Context, token string) (string, error)
}

// NotificationPublisher hands notifications for offline members to an
// external delivery pipeline. May be nil, in which case offline
// notifications are dropped.
type NotificationPublisher interface {
	Publish(ctx context.Context, userID string, n model.Notification) error
}

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// Hub tracks every live connection, grouped two ways: by member (for
// presence and personal pushes) and by joined conversation scope (for
// typing and read receipts). It is the only writer to either index.
type Hub struct {
	store  Store
	auth   Authenticator
	notify NotificationPublisher
	logger *zap.Logger

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage

	users map[string]map[*Client]struct{}
	rooms map[string]map[*Client]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

func NewHub(store Store, auth Authenticator, notify NotificationPublisher, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		store:      store,
		auth:       auth,
		notify:     notify,
		logger:     logger,
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make(chan inboundMessage, 4096),
		users:      make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}

	go h.run()

	for i := 0; i < workerPoolSize; i++ {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			for {
				select {
				case <-h.ctx.Done():
					return
				case in, ok := <-h.inbound:
					if !ok {
						return
					}
					h.handleEvent(in.event, in.client)
				}
			}
		}()
	}

	return h
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// addClient indexes a fresh connection. The member's first connection
// broadcasts user_online; every connection receives the current online
// snapshot so a reconnecting client can rebuild its presence set.
func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	clients, known := h.users[c.userID]
	if !known {
		clients = make(map[*Client]struct{})
		h.users[c.userID] = clients
	}
	first := len(clients) == 0
	clients[c] = struct{}{}
	snapshot := make([]string, 0, len(h.users))
	for userID, set := range h.users {
		if len(set) > 0 {
			snapshot = append(snapshot, userID)
		}
	}
	h.mu.Unlock()

	if first {
		h.broadcastAll(event.EventUserOnline, event.Presence{UserID: c.userID})
	}
	if ev, err := event.New(event.EventOnlineUsers, event.OnlineUsers{UserIDs: snapshot}); err == nil {
		c.SafeSend(ev, sendTimeout)
	}
}

// removeClient drops a connection from both indexes. The member's last
// connection broadcasts user_offline.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if clients, ok := h.users[c.userID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.users, c.userID)
		}
	}
	for _, conversationID := range c.joinedRooms() {
		if room, ok := h.rooms[conversationID]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, conversationID)
			}
		}
	}
	_, stillOnline := h.users[c.userID]
	h.mu.Unlock()

	c.Close()
	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.userID),
	)

	if !stillOnline {
		h.broadcastAll(event.EventUserOffline, event.Presence{UserID: c.userID})
	}
}

// handleEvent dispatches one inbound intent from a client connection.
func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	switch ev.Event {
	case event.EventJoinConversation:
		h.handleJoin(ev, c)
	case event.EventLeaveConversation:
		h.handleLeave(ev, c)
	case event.EventTypingStart, event.EventTypingStop:
		h.handleTyping(ev, c)
	case event.EventMessageRead:
		h.handleMessageRead(ev, c)
	default:
		h.logger.Warn("unknown event type",
			zap.String("event", ev.Event),
			zap.String("client_id", c.ID),
		)
	}
}

func (h *Hub) handleJoin(ev event.WsEvent, c *Client) {
	var ref event.ConversationRef
	if err := json.Unmarshal(ev.Payload, &ref); err != nil || ref.ConversationID == "" {
		h.logger.Warn("malformed join payload", zap.String("client_id", c.ID))
		return
	}

	members, err := h.store.Members(h.ctx, ref.ConversationID)
	if err != nil {
		h.logger.Error("membership lookup failed",
			zap.String("conversation_id", ref.ConversationID),
			zap.Error(err),
		)
		return
	}
	if !contains(members, c.userID) {
		h.logger.Warn("join refused: not a participant",
			zap.String("user_id", c.userID),
			zap.String("conversation_id", ref.ConversationID),
		)
		return
	}

	h.mu.Lock()
	room, ok := h.rooms[ref.ConversationID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[ref.ConversationID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
	c.markJoined(ref.ConversationID)
}

func (h *Hub) handleLeave(ev event.WsEvent, c *Client) {
	var ref event.ConversationRef
	if err := json.Unmarshal(ev.Payload, &ref); err != nil || ref.ConversationID == "" {
		return
	}

	h.mu.Lock()
	if room, ok := h.rooms[ref.ConversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, ref.ConversationID)
		}
	}
	h.mu.Unlock()
	c.markLeft(ref.ConversationID)
}

// handleTyping relays a typing transition to everyone else in the
// conversation scope. The typist's own devices are excluded.
func (h *Hub) handleTyping(ev event.WsEvent, c *Client) {
	var intent event.TypingIntent
	if err := json.Unmarshal(ev.Payload, &intent); err != nil || intent.ConversationID == "" {
		h.logger.Warn("malformed typing payload", zap.String("client_id", c.ID))
		return
	}

	relay, err := event.New(event.EventUserTyping, event.Typing{
		ConversationID: intent.ConversationID,
		UserID:         c.userID,
		IsTyping:       ev.Event == event.EventTypingStart,
	})
	if err != nil {
		return
	}
	h.sendToRoom(intent.ConversationID, relay, c.userID)
}

// handleMessageRead persists the read transition and echoes the receipt
// into the conversation scope. Only the message's receiver can trigger
// the transition; the store refuses anyone else before writing. The
// local timestamp on either side moves only on this echo.
func (h *Hub) handleMessageRead(ev event.WsEvent, c *Client) {
	var mark event.MarkRead
	if err := json.Unmarshal(ev.Payload, &mark); err != nil || mark.MessageID == "" {
		h.logger.Warn("malformed message_read payload", zap.String("client_id", c.ID))
		return
	}

	_, readAt, err := h.store.MarkMessageRead(h.ctx, mark.MessageID, c.userID)
	if err != nil {
		h.logger.Warn("mark message read refused",
			zap.String("message_id", mark.MessageID),
			zap.String("user_id", c.userID),
			zap.Error(err),
		)
		return
	}

	receipt, err := event.New(event.EventReadReceipt, event.ReadReceipt{
		MessageID:      mark.MessageID,
		ConversationID: mark.ConversationID,
		ReadAt:         readAt,
	})
	if err != nil {
		return
	}
	h.sendToRoom(mark.ConversationID, receipt, "")
}

// BroadcastNewMessage pushes a stored message to every device of both
// participants. Clients decide locally whether it lands in the open
// message log or only patches a conversation summary.
func (h *Hub) BroadcastNewMessage(msg model.Message) {
	ev, err := event.New(event.EventNewMessage, msg)
	if err != nil {
		return
	}
	h.sendToUser(msg.ReceiverID, ev)
	if msg.SenderID != msg.ReceiverID {
		h.sendToUser(msg.SenderID, ev)
	}
}

// NotifyUser delivers a notification to a member's live connections, or
// hands it to the external pipeline when none exist.
func (h *Hub) NotifyUser(ctx context.Context, userID string, n model.Notification) {
	ev, err := event.New(event.EventNotify, n)
	if err != nil {
		return
	}
	if h.sendToUser(userID, ev) > 0 {
		return
	}
	if h.notify == nil {
		return
	}
	if err := h.notify.Publish(ctx, userID, n); err != nil {
		h.logger.Error("notification publish failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (h *Hub) sendToUser(userID string, ev event.WsEvent) int {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.SafeSend(ev, sendTimeout) {
			sent++
		}
	}
	return sent
}

func (h *Hub) sendToRoom(conversationID string, ev event.WsEvent, excludeUserID string) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[conversationID]))
	for c := range h.rooms[conversationID] {
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.SafeSend(ev, sendTimeout) {
			h.logger.Warn("egress full in room",
				zap.String("client_id", c.ID),
				zap.String("conversation_id", conversationID),
			)
		}
	}
}

func (h *Hub) broadcastAll(kind string, payload any) {
	ev, err := event.New(kind, payload)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0)
	for _, set := range h.users {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.SafeSend(ev, sendTimeout)
	}
}

// Stop shuts the hub down: all client connections close, the worker
// pool drains.
func (h *Hub) Stop() {
	h.cancel()

	h.mu.RLock()
	for _, set := range h.users {
		for c := range set {
			c.Close()
		}
	}
	h.mu.RUnlock()

	close(h.inbound)
	h.wg.Wait()
}

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS authenticates the handshake and hands the upgraded connection
// to the hub. The credential arrives once, as a bearer token in the
// Authorization header (or a token query parameter for clients that
// cannot set headers).
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}

	userID, err := h.auth.UserForToken(r.Context(), token)
	if err != nil {
		h.logger.Warn("handshake rejected", zap.Error(err))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	RegisterClient(userID, conn, h)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
