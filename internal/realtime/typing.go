package realtime

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
)

const defaultTypingExpiry = 3 * time.Second

type typingKey struct {
	conversationID string
	userID         string
}

// TypingCoordinator tracks who is typing where. Indicators are
// ephemeral: an inbound start inserts or refreshes the (conversation,
// user) entry and its expiry timer; an inbound stop, or expiry after
// three seconds of silence, removes it. At most one entry exists per
// key; a repeated start resets the timer instead of stacking a second
// one. Outbound start/stop signals are emitted unconditionally; rate
// limiting keystroke-driven calls is the caller's job.
type TypingCoordinator struct {
	em     emitter
	logger *zap.Logger
	expiry time.Duration

	mu     sync.Mutex
	active map[typingKey]*time.Timer

	stops []func()
}

// NewTypingCoordinator wires the coordinator to the bus. expiry <= 0
// selects the default of three seconds.
func NewTypingCoordinator(em emitter, bus *Bus, expiry time.Duration, logger *zap.Logger) *TypingCoordinator {
	if expiry <= 0 {
		expiry = defaultTypingExpiry
	}
	t := &TypingCoordinator{
		em:     em,
		logger: logger,
		expiry: expiry,
		active: make(map[typingKey]*time.Timer),
	}
	t.stops = append(t.stops, bus.Subscribe(event.EventUserTyping, t.onTyping))
	return t
}

// StartTyping tells the conversation's other side we are typing.
func (t *TypingCoordinator) StartTyping(conversationID, receiverID string) error {
	return t.em.Emit(event.EventTypingStart, event.TypingIntent{
		ConversationID: conversationID,
		ReceiverID:     receiverID,
	})
}

// StopTyping clears our typing state on the other side.
func (t *TypingCoordinator) StopTyping(conversationID, receiverID string) error {
	return t.em.Emit(event.EventTypingStop, event.TypingIntent{
		ConversationID: conversationID,
		ReceiverID:     receiverID,
	})
}

// Typists returns the members currently typing in a conversation,
// sorted. Concurrent typists coexist as independent entries.
func (t *TypingCoordinator) Typists(conversationID string) []string {
	t.mu.Lock()
	var ids []string
	for key := range t.active {
		if key.conversationID == conversationID {
			ids = append(ids, key.userID)
		}
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Close detaches from the bus and cancels all pending expiries.
func (t *TypingCoordinator) Close() {
	for _, stop := range t.stops {
		stop()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.active {
		timer.Stop()
		delete(t.active, key)
	}
}

func (t *TypingCoordinator) onTyping(ev event.WsEvent) {
	var payload event.Typing
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.logger.Warn("malformed typing payload", zap.Error(err))
		return
	}
	key := typingKey{conversationID: payload.ConversationID, userID: payload.UserID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.active[key]; ok {
		timer.Stop()
		delete(t.active, key)
	}
	if !payload.IsTyping {
		return
	}
	t.active[key] = time.AfterFunc(t.expiry, func() {
		t.expire(key)
	})
}

func (t *TypingCoordinator) expire(key typingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, key)
}
