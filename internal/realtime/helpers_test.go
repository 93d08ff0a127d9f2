package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/DSkillz/ProNet-sub001/internal/event"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

type page struct {
	msgs []model.Message
	next string
}

func pageKey(conversationID, cursor string) string {
	return conversationID + "|" + cursor
}

// fakeAPI implements API from canned data. Pages are keyed by
// conversation and cursor so paginated fetches can be replayed.
type fakeAPI struct {
	mu      sync.Mutex
	convs   []model.Conversation
	convErr error

	pages   map[string]page
	pageErr map[string]error // consumed on first hit
	fetches []string

	// onMessages runs once, during the next Messages call, outside the
	// fake's lock. Used to race a second SetActive against a fetch.
	onMessages func(conversationID, cursor string)

	sendConv primitive.ObjectID
	sendErr  error
	sent     []model.Message

	unread int64
}

func newFakeAPI(convs ...model.Conversation) *fakeAPI {
	return &fakeAPI{
		convs:   convs,
		pages:   make(map[string]page),
		pageErr: make(map[string]error),
	}
}

func (f *fakeAPI) Conversations(context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.convErr != nil {
		return nil, f.convErr
	}
	out := make([]model.Conversation, len(f.convs))
	copy(out, f.convs)
	return out, nil
}

func (f *fakeAPI) Messages(_ context.Context, conversationID, cursor string) ([]model.Message, string, error) {
	key := pageKey(conversationID, cursor)

	f.mu.Lock()
	hook := f.onMessages
	f.onMessages = nil
	f.fetches = append(f.fetches, key)
	if err, ok := f.pageErr[key]; ok {
		delete(f.pageErr, key)
		f.mu.Unlock()
		return nil, "", err
	}
	p := f.pages[key]
	f.mu.Unlock()

	if hook != nil {
		hook(conversationID, cursor)
	}

	msgs := make([]model.Message, len(p.msgs))
	copy(msgs, p.msgs)
	return msgs, p.next, nil
}

func (f *fakeAPI) UnreadCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread, nil
}

func (f *fakeAPI) Send(_ context.Context, receiverID, content string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	msg := model.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: f.sendConv,
		SenderID:       "self",
		ReceiverID:     receiverID,
		Body:           content,
		CreatedAt:      time.Now(),
	}
	f.sent = append(f.sent, msg)
	return &msg, nil
}

func (f *fakeAPI) fetchCount(conversationID, cursor string) int {
	key := pageKey(conversationID, cursor)
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.fetches {
		if k == key {
			n++
		}
	}
	return n
}

// fakeEmitter captures outbound intents instead of writing a socket.
type fakeEmitter struct {
	mu   sync.Mutex
	fail error
	sent []event.WsEvent
}

func (f *fakeEmitter) Emit(kind string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	ev, err := event.New(kind, payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeEmitter) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, ev := range f.sent {
		out = append(out, ev.Event)
	}
	return out
}

func (f *fakeEmitter) last(kind string) (event.WsEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Event == kind {
			return f.sent[i], true
		}
	}
	return event.WsEvent{}, false
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	f.sent = nil
	f.mu.Unlock()
}

func publish(t *testing.T, bus *Bus, kind string, payload any) {
	t.Helper()
	ev, err := event.New(kind, payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", kind, err)
	}
	bus.Publish(ev)
}

func testConversation(participantIDs ...string) model.Conversation {
	return model.Conversation{
		ID:             primitive.NewObjectID(),
		ParticipantIDs: participantIDs,
		CreatedAt:      time.Now(),
		IsActive:       true,
	}
}

func testMessage(conversationID primitive.ObjectID, sender, body string, at time.Time) model.Message {
	return model.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: conversationID,
		SenderID:       sender,
		ReceiverID:     "self",
		Body:           body,
		CreatedAt:      at,
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
