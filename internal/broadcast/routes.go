package broadcast

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/app"
)

func SetupRoutes(r *gin.RouterGroup, svc *app.Services, log zerolog.Logger) {
	handler := NewHandler(svc, log)
	r.POST("", handler.Send)
	r.GET("/logs", handler.Logs)
}
