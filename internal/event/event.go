package event

import "encoding/json"

// Server -> client event kinds.
const (
	EventNewMessage  = "new_message"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventOnlineUsers = "online_users"
	EventUserTyping  = "user_typing"
	EventReadReceipt = "message_read_receipt"
	EventNotify      = "notification"
)

// Client -> server intent kinds.
const (
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMessageRead       = "message_read"
)

// Connection lifecycle kinds. These never cross the wire; the client
// connection publishes them locally so consumers can observe
// connectivity through the same bus as everything else.
const (
	EventConnected    = "connect"
	EventDisconnected = "disconnect"
	EventConnectError = "connect_error"
)

// WsEvent is the envelope every frame travels in, both directions.
// Payload shape is determined by Event.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New wraps a payload into an envelope of the given kind.
func New(kind string, payload any) (WsEvent, error) {
	if payload == nil {
		return WsEvent{Event: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{}, err
	}
	return WsEvent{Event: kind, Payload: raw}, nil
}
