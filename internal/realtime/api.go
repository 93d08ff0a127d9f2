package realtime

import (
	"context"

	"github.com/DSkillz/ProNet-sub001/internal/model"
)

// API is the REST surface the realtime layer reconciles against. The
// concrete implementation lives in internal/rest; tests substitute
// fakes. Calls return explicit errors, never partial data, and are not
// retried here.
type API interface {
	Conversations(ctx context.Context) ([]model.Conversation, error)
	Messages(ctx context.Context, conversationID, cursor string) ([]model.Message, string, error)
	UnreadCount(ctx context.Context) (int64, error)
	Send(ctx context.Context, receiverID, content string) (*model.Message, error)
}

// emitter is the outbound half of the connection, satisfied by *Conn.
// Components hold this instead of the Conn so tests can capture intents.
type emitter interface {
	Emit(kind string, payload any) error
}
