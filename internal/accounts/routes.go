package accounts

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/app"
)

func SetupRoutes(r *gin.RouterGroup, svc *app.Services, log zerolog.Logger) {
	handler := NewHandler(svc, log)
	r.GET("/status", handler.Status)
	r.DELETE("/:phone", handler.Remove)
	r.POST("/clear", handler.Clear)
	r.POST("/cleanup", handler.Cleanup)
}
