package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

// memoryStore is an in-memory Store for hub tests.
type memoryStore struct {
	mu      sync.Mutex
	members map[string][]string
	msgs    map[string]*model.Message
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		members: make(map[string][]string),
		msgs:    make(map[string]*model.Message),
	}
}

func (s *memoryStore) Members(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.members[conversationID]))
	copy(out, s.members[conversationID])
	return out, nil
}

func (s *memoryStore) MarkMessageRead(_ context.Context, messageID, readerID string) (*model.Message, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.msgs[messageID]
	if !ok {
		return nil, time.Time{}, errors.New("message not found")
	}
	if msg.ReceiverID != readerID {
		return nil, time.Time{}, errors.New("not the receiver")
	}
	if msg.ReadAt == nil {
		now := time.Now().UTC()
		msg.ReadAt = &now
	}
	cp := *msg
	return &cp, *msg.ReadAt, nil
}

func (s *memoryStore) readAt(messageID string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.msgs[messageID]; ok {
		return msg.ReadAt
	}
	return nil
}

type staticAuth map[string]string

func (a staticAuth) UserForToken(_ context.Context, token string) (string, error) {
	if userID, ok := a[token]; ok {
		return userID, nil
	}
	return "", errors.New("invalid session")
}

type captureNotify struct {
	mu  sync.Mutex
	got []string
}

func (c *captureNotify) Publish(_ context.Context, userID string, _ model.Notification) error {
	c.mu.Lock()
	c.got = append(c.got, userID)
	c.mu.Unlock()
	return nil
}

func (c *captureNotify) users() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.got))
	copy(out, c.got)
	return out
}

var testTokens = staticAuth{
	"tok-a": "amal",
	"tok-b": "bert",
	"tok-c": "cara",
}

func newTestHub(t *testing.T, store Store, notify NotificationPublisher) (*Hub, string) {
	t.Helper()
	h := NewHub(store, testTokens, notify, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		h.Stop()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type testConn struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialClient(t *testing.T, url, token string) *testConn {
	t.Helper()
	header := http.Header{"Authorization": {"Bearer " + token}}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return &testConn{t: t, ws: ws}
}

func (c *testConn) send(kind string, payload any) {
	c.t.Helper()
	ev, err := event.New(kind, payload)
	if err != nil {
		c.t.Fatalf("build %s: %v", kind, err)
	}
	if err := c.ws.WriteJSON(ev); err != nil {
		c.t.Fatalf("write %s: %v", kind, err)
	}
}

// expect reads frames until one of the wanted kind arrives, skipping
// everything else.
func (c *testConn) expect(kind string) event.WsEvent {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.ws.SetReadDeadline(deadline)
		var ev event.WsEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			c.t.Fatalf("waiting for %s: %v", kind, err)
		}
		if ev.Event == kind {
			return ev
		}
	}
}

// expectNone fails when a frame of the given kind arrives within the
// window. The connection is not usable for reads afterwards.
func (c *testConn) expectNone(kind string, within time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(within)
	for {
		_ = c.ws.SetReadDeadline(deadline)
		var ev event.WsEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Event == kind {
			c.t.Fatalf("unexpected %s frame", kind)
		}
	}
}

func waitForHub(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func roomConnections(h *Hub, conversationID string) int {
	for _, room := range h.GetStats().Rooms {
		if room.ConversationID == conversationID {
			return room.Connections
		}
	}
	return 0
}

func decodePayload(t *testing.T, ev event.WsEvent, out any) {
	t.Helper()
	if err := json.Unmarshal(ev.Payload, out); err != nil {
		t.Fatalf("decode %s payload: %v", ev.Event, err)
	}
}

func TestHandshakeAuthentication(t *testing.T) {
	_, url := newTestHub(t, newMemoryStore(), nil)

	// No credentials at all.
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("dial without token: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown token.
	header := http.Header{"Authorization": {"Bearer nope"}}
	_, resp, err = websocket.DefaultDialer.Dial(url, header)
	if !errors.Is(err, websocket.ErrBadHandshake) || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial with bad token: err = %v", err)
	}
	resp.Body.Close()

	// Token in the query string works for clients that cannot set headers.
	c := &testConn{t: t}
	ws, resp, err := websocket.DefaultDialer.Dial(url+"?token=tok-a", nil)
	if err != nil {
		t.Fatalf("dial with query token: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	c.ws = ws

	var snapshot event.OnlineUsers
	decodePayload(t, c.expect(event.EventOnlineUsers), &snapshot)
	if len(snapshot.UserIDs) != 1 || snapshot.UserIDs[0] != "amal" {
		t.Fatalf("snapshot = %v", snapshot.UserIDs)
	}
}

func TestPresenceBroadcastAndSnapshot(t *testing.T) {
	h, url := newTestHub(t, newMemoryStore(), nil)

	a := dialClient(t, url, "tok-a")
	var snapA event.OnlineUsers
	decodePayload(t, a.expect(event.EventOnlineUsers), &snapA)
	if len(snapA.UserIDs) != 1 {
		t.Fatalf("first snapshot = %v", snapA.UserIDs)
	}

	b := dialClient(t, url, "tok-b")
	var snapB event.OnlineUsers
	decodePayload(t, b.expect(event.EventOnlineUsers), &snapB)
	if len(snapB.UserIDs) != 2 {
		t.Fatalf("second snapshot = %v", snapB.UserIDs)
	}

	var online event.Presence
	decodePayload(t, a.expect(event.EventUserOnline), &online)
	if online.UserID != "bert" {
		t.Fatalf("user_online for %q, want bert", online.UserID)
	}

	b.ws.Close()

	var offline event.Presence
	decodePayload(t, a.expect(event.EventUserOffline), &offline)
	if offline.UserID != "bert" {
		t.Fatalf("user_offline for %q, want bert", offline.UserID)
	}
	waitForHub(t, "bert's connection to drop", func() bool {
		return h.GetStats().TotalConnections == 1
	})
}

func TestSecondDeviceDoesNotRepeatPresence(t *testing.T) {
	h, url := newTestHub(t, newMemoryStore(), nil)

	a1 := dialClient(t, url, "tok-a")
	a1.expect(event.EventOnlineUsers)

	a2 := dialClient(t, url, "tok-a")
	a2.expect(event.EventOnlineUsers)
	waitForHub(t, "both devices to register", func() bool {
		return h.GetStats().TotalConnections == 2
	})

	// Closing one of two devices must not broadcast user_offline.
	a2.ws.Close()
	waitForHub(t, "second device to drop", func() bool {
		return h.GetStats().TotalConnections == 1
	})

	// a1 saw neither a user_online for its own second device's user nor
	// a user_offline when that device left.
	a1.expectNone(event.EventUserOffline, 200*time.Millisecond)

	if got := h.GetStats().MembersOnline; got != 1 {
		t.Fatalf("MembersOnline = %d, want 1", got)
	}
}

func TestTypingRelayScopedToRoomExcludingTypist(t *testing.T) {
	store := newMemoryStore()
	store.members["c1"] = []string{"amal", "bert"}
	h, url := newTestHub(t, store, nil)

	a := dialClient(t, url, "tok-a")
	b := dialClient(t, url, "tok-b")
	c := dialClient(t, url, "tok-c")

	a.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	b.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	// cara is not a participant; her join must be refused.
	c.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})

	waitForHub(t, "room to fill", func() bool {
		return roomConnections(h, "c1") == 2
	})

	a.send(event.EventTypingStart, event.TypingIntent{ConversationID: "c1", ReceiverID: "bert"})

	var relay event.Typing
	decodePayload(t, b.expect(event.EventUserTyping), &relay)
	if relay.UserID != "amal" || !relay.IsTyping || relay.ConversationID != "c1" {
		t.Fatalf("relay = %+v", relay)
	}

	a.send(event.EventTypingStop, event.TypingIntent{ConversationID: "c1", ReceiverID: "bert"})
	decodePayload(t, b.expect(event.EventUserTyping), &relay)
	if relay.IsTyping {
		t.Fatal("typing_stop relayed as IsTyping true")
	}

	// Neither the typist nor the outsider hears the relay.
	c.expectNone(event.EventUserTyping, 200*time.Millisecond)
	a.expectNone(event.EventUserTyping, 200*time.Millisecond)
}

func TestLeaveConversationStopsRelay(t *testing.T) {
	store := newMemoryStore()
	store.members["c1"] = []string{"amal", "bert"}
	h, url := newTestHub(t, store, nil)

	a := dialClient(t, url, "tok-a")
	b := dialClient(t, url, "tok-b")

	a.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	b.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	waitForHub(t, "room to fill", func() bool {
		return roomConnections(h, "c1") == 2
	})

	b.send(event.EventLeaveConversation, event.ConversationRef{ConversationID: "c1"})
	waitForHub(t, "room to shrink", func() bool {
		return roomConnections(h, "c1") == 1
	})

	a.send(event.EventTypingStart, event.TypingIntent{ConversationID: "c1", ReceiverID: "bert"})
	b.expectNone(event.EventUserTyping, 200*time.Millisecond)
}

func TestReadReceiptRoundTrip(t *testing.T) {
	store := newMemoryStore()
	store.members["c1"] = []string{"amal", "bert"}
	msgID := primitive.NewObjectID()
	store.msgs[msgID.Hex()] = &model.Message{
		ID:         msgID,
		SenderID:   "amal",
		ReceiverID: "bert",
		Body:       "hi",
		CreatedAt:  time.Now(),
	}
	h, url := newTestHub(t, store, nil)

	a := dialClient(t, url, "tok-a")
	b := dialClient(t, url, "tok-b")
	a.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	b.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	waitForHub(t, "room to fill", func() bool {
		return roomConnections(h, "c1") == 2
	})

	b.send(event.EventMessageRead, event.MarkRead{MessageID: msgID.Hex(), ConversationID: "c1"})

	var toSender, toReceiver event.ReadReceipt
	decodePayload(t, a.expect(event.EventReadReceipt), &toSender)
	decodePayload(t, b.expect(event.EventReadReceipt), &toReceiver)
	if toSender.MessageID != msgID.Hex() || toSender.ReadAt.IsZero() {
		t.Fatalf("receipt = %+v", toSender)
	}

	store.mu.Lock()
	persisted := store.msgs[msgID.Hex()].ReadAt
	store.mu.Unlock()
	if persisted == nil {
		t.Fatal("read transition not persisted")
	}

	// Marking again is idempotent: same timestamp comes back.
	b.send(event.EventMessageRead, event.MarkRead{MessageID: msgID.Hex(), ConversationID: "c1"})
	var again event.ReadReceipt
	decodePayload(t, a.expect(event.EventReadReceipt), &again)
	if !again.ReadAt.Equal(toSender.ReadAt) {
		t.Fatalf("second receipt moved ReadAt: %v vs %v", again.ReadAt, toSender.ReadAt)
	}
}

func TestReadReceiptRefusedForNonReceiver(t *testing.T) {
	store := newMemoryStore()
	store.members["c1"] = []string{"amal", "bert"}
	msgID := primitive.NewObjectID()
	store.msgs[msgID.Hex()] = &model.Message{
		ID:         msgID,
		SenderID:   "amal",
		ReceiverID: "bert",
	}
	h, url := newTestHub(t, store, nil)

	a := dialClient(t, url, "tok-a")
	b := dialClient(t, url, "tok-b")
	a.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	b.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})
	waitForHub(t, "room to fill", func() bool {
		return roomConnections(h, "c1") == 2
	})

	// The sender cannot mark their own message read on the receiver's
	// behalf: no receipt goes out and, just as important, nothing is
	// persisted.
	a.send(event.EventMessageRead, event.MarkRead{MessageID: msgID.Hex(), ConversationID: "c1"})
	b.expectNone(event.EventReadReceipt, 200*time.Millisecond)

	if got := store.readAt(msgID.Hex()); got != nil {
		t.Fatalf("forged read transition persisted, ReadAt = %v", got)
	}
}

func TestSafeSendRacingCloseDoesNotPanic(t *testing.T) {
	h := NewHub(newMemoryStore(), testTokens, nil, zap.NewNop())
	t.Cleanup(h.Stop)

	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- ws
	}))
	t.Cleanup(srv.Close)

	dial, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { dial.Close() })

	client := RegisterClient("amal", <-conns, h)
	if client == nil {
		t.Fatal("registration refused")
	}

	ev, err := event.New(event.EventNotify, model.Notification{Type: "message", Title: "hi"})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	// Hammer SafeSend from several goroutines while Close runs. Shutdown
	// travels through the context only, so no send may ever panic.
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				client.SafeSend(ev, time.Millisecond)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		client.Close()
	}()
	close(start)
	wg.Wait()

	if client.SafeSend(ev, time.Millisecond) {
		t.Fatal("send accepted after close")
	}
}

func TestBroadcastNewMessageReachesBothParties(t *testing.T) {
	h, url := newTestHub(t, newMemoryStore(), nil)

	a := dialClient(t, url, "tok-a")
	b := dialClient(t, url, "tok-b")
	waitForHub(t, "both members online", func() bool {
		return h.GetStats().TotalConnections == 2
	})

	msg := model.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: primitive.NewObjectID(),
		SenderID:       "amal",
		ReceiverID:     "bert",
		Body:           "hello",
		CreatedAt:      time.Now().UTC(),
	}
	h.BroadcastNewMessage(msg)

	var gotA, gotB model.Message
	decodePayload(t, a.expect(event.EventNewMessage), &gotA)
	decodePayload(t, b.expect(event.EventNewMessage), &gotB)
	if gotA.ID != msg.ID || gotB.ID != msg.ID || gotB.Body != "hello" {
		t.Fatalf("sender got %+v, receiver got %+v", gotA, gotB)
	}
}

func TestNotifyUserPrefersLiveConnections(t *testing.T) {
	notify := &captureNotify{}
	h, url := newTestHub(t, newMemoryStore(), notify)

	a := dialClient(t, url, "tok-a")
	waitForHub(t, "amal online", func() bool {
		return h.GetStats().TotalConnections == 1
	})

	n := model.Notification{Type: "message", Title: "New message", Content: "hi"}

	// Online member: pushed over the socket, pipeline untouched.
	h.NotifyUser(context.Background(), "amal", n)
	var got model.Notification
	decodePayload(t, a.expect(event.EventNotify), &got)
	if got.Title != n.Title {
		t.Fatalf("pushed notification = %+v", got)
	}
	if len(notify.users()) != 0 {
		t.Fatalf("pipeline used for an online member: %v", notify.users())
	}

	// Offline member: handed to the pipeline.
	h.NotifyUser(context.Background(), "zoe", n)
	if got := notify.users(); len(got) != 1 || got[0] != "zoe" {
		t.Fatalf("pipeline deliveries = %v, want [zoe]", got)
	}
}

func TestStatsReflectConnectionsAndRooms(t *testing.T) {
	store := newMemoryStore()
	store.members["c1"] = []string{"amal", "bert"}
	h, url := newTestHub(t, store, nil)

	if got := h.GetStats().Status; got != "idle" {
		t.Fatalf("empty hub status = %q, want idle", got)
	}

	a := dialClient(t, url, "tok-a")
	dialClient(t, url, "tok-b")
	a.send(event.EventJoinConversation, event.ConversationRef{ConversationID: "c1"})

	waitForHub(t, "stats to settle", func() bool {
		stats := h.GetStats()
		return stats.TotalConnections == 2 && stats.ActiveRooms == 1
	})

	stats := h.GetStats()
	if stats.Status != "healthy" || stats.MembersOnline != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}
