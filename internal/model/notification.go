package model

// Notification is a generic server-pushed alert (connection request,
// post mention, job recommendation). The realtime layer only transports
// it; rendering belongs to the UI.
type Notification struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Link    string `json:"link,omitempty"`
}
