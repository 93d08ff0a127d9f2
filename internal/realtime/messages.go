package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
	"github.com/DSkillz/ProNet-sub001/internal/model"
)

var ErrEmptyMessage = errors.New("realtime: message content cannot be empty")

// MessageStream holds the ordered message log of the active
// conversation, newest first. History pages in over REST behind an
// opaque cursor; live messages prepend as they arrive. The stream also
// owns read-receipt state: a local ReadAt is only ever set by the
// server's receipt echo, never optimistically.
type MessageStream struct {
	api    API
	em     emitter
	convs  *ConversationStore
	logger *zap.Logger

	mu     sync.Mutex
	active string // conversation ID hex, empty when nothing is open
	log    []model.Message
	cursor string
	eof    bool

	stops []func()
}

func NewMessageStream(api API, em emitter, convs *ConversationStore, bus *Bus, logger *zap.Logger) *MessageStream {
	s := &MessageStream{
		api:    api,
		em:     em,
		convs:  convs,
		logger: logger,
	}
	s.stops = append(s.stops,
		bus.Subscribe(event.EventReadReceipt, s.onReadReceipt),
		bus.Subscribe(event.EventConnected, s.onReconnected),
	)
	return s
}

// Active returns the open conversation's ID, or empty.
func (s *MessageStream) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive switches the stream to a conversation: the previous event
// scope is left, the new one joined, and the newest history page
// replaces the log. Live messages now flow only for this conversation;
// everything else surfaces through the conversation summaries.
func (s *MessageStream) SetActive(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.active
	s.active = conversationID
	s.log = nil
	s.cursor = ""
	s.eof = false
	s.mu.Unlock()

	if prev != "" && prev != conversationID {
		if err := s.em.Emit(event.EventLeaveConversation, event.ConversationRef{ConversationID: prev}); err != nil {
			s.logger.Debug("leave intent not sent", zap.Error(err))
		}
	}
	if err := s.em.Emit(event.EventJoinConversation, event.ConversationRef{ConversationID: conversationID}); err != nil {
		s.logger.Debug("join intent not sent", zap.Error(err))
	}

	msgs, next, err := s.api.Messages(ctx, conversationID, "")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != conversationID {
		// switched again while the fetch was in flight; drop the result
		return nil
	}
	s.log = msgs
	s.cursor = next
	s.eof = next == ""
	return nil
}

// Close leaves the active scope and detaches from the bus.
func (s *MessageStream) Close() {
	s.mu.Lock()
	active := s.active
	s.active = ""
	s.mu.Unlock()

	if active != "" {
		_ = s.em.Emit(event.EventLeaveConversation, event.ConversationRef{ConversationID: active})
	}
	for _, stop := range s.stops {
		stop()
	}
}

// LoadOlder fetches the next older page and appends it after the
// existing log. Entries already loaded are never reordered. At end of
// history the call is a no-op.
func (s *MessageStream) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	conversationID := s.active
	cursor := s.cursor
	eof := s.eof
	s.mu.Unlock()

	if conversationID == "" || eof {
		return nil
	}

	msgs, next, err := s.api.Messages(ctx, conversationID, cursor)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != conversationID || s.cursor != cursor {
		return nil
	}
	s.log = append(s.log, msgs...)
	s.cursor = next
	s.eof = next == ""
	return nil
}

// HasOlder reports whether more history remains behind the cursor.
func (s *MessageStream) HasOlder() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != "" && !s.eof
}

// Send posts a message and, when its conversation is the open one,
// prepends the stored result to the log immediately. With no open
// conversation the log stays untouched; only the summaries move. The
// realtime echo of the same message is dropped by ID when it comes back
// around.
func (s *MessageStream) Send(ctx context.Context, receiverID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}

	msg, err := s.api.Send(ctx, receiverID, content)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.active != "" && s.active == msg.ConversationID.Hex() {
		s.log = append([]model.Message{*msg}, s.log...)
	}
	s.mu.Unlock()

	s.convs.TouchLastMessage(*msg)
	return msg, nil
}

// ApplyInbound prepends a live message for the active conversation.
// Messages for other conversations never enter this log, and a message
// whose ID is already present (the echo of our own send) is ignored.
func (s *MessageStream) ApplyInbound(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" || s.active != msg.ConversationID.Hex() {
		return
	}
	for i := range s.log {
		if s.log[i].ID == msg.ID {
			return
		}
	}
	s.log = append([]model.Message{msg}, s.log...)
}

// MarkMessageRead signals that a message was viewed. Fire and forget:
// the local ReadAt stays unset until the server's receipt confirms the
// round trip.
func (s *MessageStream) MarkMessageRead(messageID, conversationID string) {
	err := s.em.Emit(event.EventMessageRead, event.MarkRead{
		MessageID:      messageID,
		ConversationID: conversationID,
	})
	if err != nil {
		s.logger.Debug("mark-read intent not sent", zap.Error(err))
	}
}

// Messages returns a copy of the log, newest first.
func (s *MessageStream) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.log))
	copy(out, s.log)
	return out
}

func (s *MessageStream) onReadReceipt(ev event.WsEvent) {
	var rc event.ReadReceipt
	if err := json.Unmarshal(ev.Payload, &rc); err != nil {
		s.logger.Warn("malformed read receipt", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].ID.Hex() == rc.MessageID && s.log[i].ReadAt == nil {
			readAt := rc.ReadAt
			if readAt.IsZero() {
				readAt = time.Now()
			}
			s.log[i].ReadAt = &readAt
			return
		}
	}
}

// onReconnected re-joins the active conversation's scope after the
// channel comes back; the server forgets room membership with the old
// connection.
func (s *MessageStream) onReconnected(event.WsEvent) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	if active == "" {
		return
	}
	if err := s.em.Emit(event.EventJoinConversation, event.ConversationRef{ConversationID: active}); err != nil {
		s.logger.Debug("rejoin intent not sent", zap.Error(err))
	}
}
