package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/model"
)

func newConversationStore(t *testing.T, convs ...model.Conversation) (*fakeAPI, *ConversationStore) {
	t.Helper()
	api := newFakeAPI(convs...)
	s := NewConversationStore(api, zap.NewNop())
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return api, s
}

func findConversation(t *testing.T, s *ConversationStore, id primitive.ObjectID) model.Conversation {
	t.Helper()
	for _, conv := range s.Conversations() {
		if conv.ID == id {
			return conv
		}
	}
	t.Fatalf("conversation %s not in store", id.Hex())
	return model.Conversation{}
}

func TestRefreshReplacesCache(t *testing.T) {
	convA := testConversation("self", "amal")
	convB := testConversation("self", "bert")
	api, s := newConversationStore(t, convA, convB)

	if got := len(s.Conversations()); got != 2 {
		t.Fatalf("cached %d conversations, want 2", got)
	}

	convC := testConversation("self", "cara")
	api.mu.Lock()
	api.convs = []model.Conversation{convC}
	api.mu.Unlock()

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got := s.Conversations()
	if len(got) != 1 || got[0].ID != convC.ID {
		t.Fatalf("refresh did not replace the cache: %+v", got)
	}
}

func TestRefreshErrorKeepsCache(t *testing.T) {
	convA := testConversation("self", "amal")
	api, s := newConversationStore(t, convA)

	s.PatchInbound(testMessage(convA.ID, "amal", "hi", time.Now()))

	api.mu.Lock()
	api.convErr = errors.New("boom")
	api.mu.Unlock()

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh returned nil on API error")
	}

	conv := findConversation(t, s, convA.ID)
	if conv.UnreadCount != 1 {
		t.Fatalf("failed refresh clobbered state: unread = %d, want 1", conv.UnreadCount)
	}
}

func TestPatchInboundBumpsUnreadByOne(t *testing.T) {
	convA := testConversation("self", "amal")
	_, s := newConversationStore(t, convA)

	for i := 0; i < 3; i++ {
		s.PatchInbound(testMessage(convA.ID, "amal", "hi", time.Now()))
	}

	conv := findConversation(t, s, convA.ID)
	if conv.UnreadCount != 3 {
		t.Fatalf("unread = %d, want 3", conv.UnreadCount)
	}
	if conv.LastMessage == nil || conv.LastMessage.Body != "hi" {
		t.Fatalf("last message not updated: %+v", conv.LastMessage)
	}
}

func TestPatchInboundDropsUnknownConversation(t *testing.T) {
	convA := testConversation("self", "amal")
	_, s := newConversationStore(t, convA)

	s.PatchInbound(testMessage(primitive.NewObjectID(), "zoe", "hi", time.Now()))

	if got := len(s.Conversations()); got != 1 {
		t.Fatalf("unknown conversation entered the cache, len = %d", got)
	}
	if got := s.TotalUnread(); got != 0 {
		t.Fatalf("TotalUnread = %d, want 0", got)
	}
}

func TestMarkReadThenNewMessageCountsFromZero(t *testing.T) {
	convA := testConversation("self", "amal")
	_, s := newConversationStore(t, convA)

	s.PatchInbound(testMessage(convA.ID, "amal", "one", time.Now()))
	s.PatchInbound(testMessage(convA.ID, "amal", "two", time.Now()))
	if got := findConversation(t, s, convA.ID).UnreadCount; got != 2 {
		t.Fatalf("unread = %d, want 2", got)
	}

	s.MarkRead(convA.ID.Hex())
	if got := findConversation(t, s, convA.ID).UnreadCount; got != 0 {
		t.Fatalf("unread after MarkRead = %d, want 0", got)
	}

	s.PatchInbound(testMessage(convA.ID, "amal", "three", time.Now()))
	if got := findConversation(t, s, convA.ID).UnreadCount; got != 1 {
		t.Fatalf("unread after new message = %d, want exactly 1", got)
	}
}

func TestTouchLastMessageLeavesUnreadAlone(t *testing.T) {
	convA := testConversation("self", "amal")
	_, s := newConversationStore(t, convA)

	s.TouchLastMessage(testMessage(convA.ID, "self", "sent by me", time.Now()))

	conv := findConversation(t, s, convA.ID)
	if conv.UnreadCount != 0 {
		t.Fatalf("unread = %d, want 0", conv.UnreadCount)
	}
	if conv.LastMessage == nil || conv.LastMessage.Body != "sent by me" {
		t.Fatalf("last message not moved: %+v", conv.LastMessage)
	}
}

func TestConversationsSortedByLastActivity(t *testing.T) {
	convA := testConversation("self", "amal")
	convB := testConversation("self", "bert")
	_, s := newConversationStore(t, convA, convB)

	base := time.Now()
	s.PatchInbound(testMessage(convA.ID, "amal", "old", base))
	s.PatchInbound(testMessage(convB.ID, "bert", "new", base.Add(time.Minute)))

	got := s.Conversations()
	if got[0].ID != convB.ID || got[1].ID != convA.ID {
		t.Fatalf("sort order wrong: %s before %s", got[0].ID.Hex(), got[1].ID.Hex())
	}

	if got := s.TotalUnread(); got != 2 {
		t.Fatalf("TotalUnread = %d, want 2", got)
	}
}
