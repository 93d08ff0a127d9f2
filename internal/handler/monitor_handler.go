package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DSkillz/ProNet-sub001/internal/hub"
)

// MonitorHandler handles monitoring API endpoints.
type MonitorHandler interface {
	GetHubStats(c *gin.Context)
}

type monitorHandler struct {
	hub *hub.Hub
}

func NewMonitorHandler(h *hub.Hub) MonitorHandler {
	return &monitorHandler{hub: h}
}

// GetHubStats returns current connection, presence and room counts.
func (h *monitorHandler) GetHubStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.GetStats())
}
