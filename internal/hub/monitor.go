package hub

// Stats is a point-in-time view of the hub for the monitoring endpoint.
type Stats struct {
	Status           string     `json:"status"`
	MembersOnline    int        `json:"membersOnline"`
	TotalConnections int        `json:"totalConnections"`
	ActiveRooms      int        `json:"activeRooms"`
	Rooms            []RoomInfo `json:"rooms"`
}

// RoomInfo describes one joined conversation scope.
type RoomInfo struct {
	ConversationID string `json:"conversationId"`
	Connections    int    `json:"connections"`
}

// GetStats gathers hub statistics for the monitoring API.
func (h *Hub) GetStats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{
		Status:        "healthy",
		MembersOnline: len(h.users),
		Rooms:         make([]RoomInfo, 0, len(h.rooms)),
	}
	for _, set := range h.users {
		stats.TotalConnections += len(set)
	}
	for conversationID, room := range h.rooms {
		stats.Rooms = append(stats.Rooms, RoomInfo{
			ConversationID: conversationID,
			Connections:    len(room),
		})
		if len(room) > 0 {
			stats.ActiveRooms++
		}
	}
	if stats.TotalConnections == 0 {
		stats.Status = "idle"
	}
	return stats
}
