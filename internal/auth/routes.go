package auth

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	tgauth "atg_broadcast/pkg/telegram/accounts_auth"
)

func SetupRoutes(r *gin.RouterGroup, m *tgauth.Machine, log zerolog.Logger) {
	handler := NewHandler(m, log)
	r.POST("/request_code", handler.RequestCode)
	r.POST("/code", handler.VerifyCode)
	r.POST("/password", handler.VerifyPassword)
	r.POST("/cancel", handler.Cancel)
	r.GET("/pending", handler.Pending)
}
