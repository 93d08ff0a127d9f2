package realtime

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/model"
)

// ConversationStore caches conversation summaries for list rendering.
// Refresh replaces the cache wholesale from REST; realtime events patch
// it incrementally in between. A refresh racing a realtime patch is
// last-write-wins: refreshes are rare and re-triggerable, so a clobbered
// patch costs one stale row until the next event or refresh.
type ConversationStore struct {
	api    API
	logger *zap.Logger

	mu    sync.Mutex
	convs map[string]*model.Conversation
}

func NewConversationStore(api API, logger *zap.Logger) *ConversationStore {
	return &ConversationStore{
		api:    api,
		logger: logger,
		convs:  make(map[string]*model.Conversation),
	}
}

// Refresh fetches all summaries and replaces the local cache. On error
// the prior cache stays intact.
func (s *ConversationStore) Refresh(ctx context.Context) error {
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]*model.Conversation, len(convs))
	for i := range convs {
		conv := convs[i]
		next[conv.ID.Hex()] = &conv
	}

	s.mu.Lock()
	s.convs = next
	s.mu.Unlock()
	return nil
}

// PatchInbound applies one inbound message to its conversation summary:
// last-message pointer moves, unread counter goes up by exactly one.
// A message for a conversation we have never fetched is dropped; new
// conversations are only discovered by Refresh.
func (s *ConversationStore) PatchInbound(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[msg.ConversationID.Hex()]
	if !ok {
		s.logger.Debug("inbound message for unknown conversation",
			zap.String("conversation_id", msg.ConversationID.Hex()))
		return
	}
	setLastMessage(conv, msg)
	conv.UnreadCount++
}

// TouchLastMessage moves the last-message pointer without touching the
// unread counter. Used for the active conversation, where the message
// is already on screen, and for the local echo of one's own sends.
func (s *ConversationStore) TouchLastMessage(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[msg.ConversationID.Hex()]
	if !ok {
		return
	}
	setLastMessage(conv, msg)
}

// MarkRead zeroes the unread counter of one conversation. Messages that
// arrive after this call count again from zero.
func (s *ConversationStore) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv, ok := s.convs[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// Conversations returns a snapshot sorted by last activity, newest
// first.
func (s *ConversationStore) Conversations() []model.Conversation {
	s.mu.Lock()
	out := make([]model.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, *conv)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// TotalUnread sums the unread counters across all cached conversations.
func (s *ConversationStore) TotalUnread() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, conv := range s.convs {
		total += conv.UnreadCount
	}
	return total
}

func setLastMessage(conv *model.Conversation, msg model.Message) {
	conv.LastMessage = &model.LastMessage{
		MessageID: msg.ID,
		Body:      msg.Body,
		SenderID:  msg.SenderID,
		SentAt:    msg.CreatedAt,
	}
	if msg.CreatedAt.After(conv.LastMessageAt) {
		conv.LastMessageAt = msg.CreatedAt
	}
}
