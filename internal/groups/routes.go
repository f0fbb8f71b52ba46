package groups

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/app"
)

func SetupRoutes(r *gin.RouterGroup, svc *app.Services, log zerolog.Logger) {
	handler := NewHandler(svc, log)
	r.POST("/scan", handler.Scan)
	r.POST("/leave_muted", handler.LeaveMuted)
	r.GET("/:phone/status", handler.Status)
}
