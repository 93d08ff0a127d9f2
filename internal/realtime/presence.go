package realtime

import (
	"encoding/json"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/DSkillz/ProNet-sub001/internal/event"
)

// PresenceTracker derives the online set from pushed join/leave events.
// It never polls and it is idempotent both ways: a duplicate online is
// a no-op, an offline for an absent member is a no-op. The server sends
// a full snapshot after every handshake, which replaces the set
// wholesale, so a reconnect cannot leave stale entries behind.
type PresenceTracker struct {
	logger *zap.Logger

	mu     sync.RWMutex
	online map[string]struct{}

	stops []func()
}

func NewPresenceTracker(bus *Bus, logger *zap.Logger) *PresenceTracker {
	p := &PresenceTracker{
		logger: logger,
		online: make(map[string]struct{}),
	}
	p.stops = append(p.stops,
		bus.Subscribe(event.EventUserOnline, p.onPresence(true)),
		bus.Subscribe(event.EventUserOffline, p.onPresence(false)),
		bus.Subscribe(event.EventOnlineUsers, p.onSnapshot),
	)
	return p
}

// IsOnline reports whether the member is currently online.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online member IDs, sorted.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close detaches the tracker from the bus.
func (p *PresenceTracker) Close() {
	for _, stop := range p.stops {
		stop()
	}
}

func (p *PresenceTracker) onPresence(online bool) Handler {
	return func(ev event.WsEvent) {
		var payload event.Presence
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			p.logger.Warn("malformed presence payload", zap.Error(err))
			return
		}
		if payload.UserID == "" {
			return
		}
		p.mu.Lock()
		if online {
			p.online[payload.UserID] = struct{}{}
		} else {
			delete(p.online, payload.UserID)
		}
		p.mu.Unlock()
	}
}

func (p *PresenceTracker) onSnapshot(ev event.WsEvent) {
	var payload event.OnlineUsers
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		p.logger.Warn("malformed presence snapshot", zap.Error(err))
		return
	}
	next := make(map[string]struct{}, len(payload.UserIDs))
	for _, id := range payload.UserIDs {
		next[id] = struct{}{}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}
