package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/DSkillz/ProNet-sub001/internal/configuration"
)

// MonitorRouters sets up monitoring API routes.
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorGroup := router.Group("/pn/api/monitor")
	{
		monitorGroup.GET("/stats", container.MonitorHandler.GetHubStats)
	}
}
