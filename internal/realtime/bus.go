package realtime

import (
	"sync"

	"github.com/DSkillz/ProNet-sub001/internal/event"
)

// Handler consumes one inbound event. Handlers for the same kind run in
// registration order, on the connection's read goroutine.
type Handler func(ev event.WsEvent)

type subscription struct {
	kind    string
	fn      Handler
	removed bool
}

// Bus is the typed pub/sub layer between the wire and everything else.
// No component touches the connection directly; events arrive here and
// fan out to whoever registered for their kind. Nothing is buffered:
// an event with no subscribers is gone.
type Bus struct {
	mu   sync.Mutex
	subs map[string][]*subscription
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]*subscription)}
}

// Subscribe registers fn for events of the given kind and returns a
// disposer. Once the disposer runs, fn will not fire again, including
// for events already picked up for dispatch.
func (b *Bus) Subscribe(kind string, fn Handler) func() {
	s := &subscription{kind: kind, fn: fn}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], s)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s.removed {
			return
		}
		s.removed = true
		list := b.subs[s.kind]
		for i, cur := range list {
			if cur == s {
				b.subs[s.kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers ev to every live subscriber of its kind, in
// registration order. The removed flag is re-checked per handler so a
// disposer called by an earlier handler silences later ones.
func (b *Bus) Publish(ev event.WsEvent) {
	b.mu.Lock()
	list := make([]*subscription, len(b.subs[ev.Event]))
	copy(list, b.subs[ev.Event])
	b.mu.Unlock()

	for _, s := range list {
		b.mu.Lock()
		dead := s.removed
		b.mu.Unlock()
		if dead {
			continue
		}
		s.fn(ev)
	}
}
