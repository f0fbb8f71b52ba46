package accounts_auth

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/pkg/storage"
	tgauth "atg_broadcast/pkg/telegram/accounts_auth"
)

// SetupCheckRoutes регистрирует маршрут проверки авторизации аккаунтов.
func SetupCheckRoutes(r *gin.RouterGroup, m *tgauth.Machine, store *storage.SessionStore, log zerolog.Logger) {
	handler := NewCheckHandler(m, store, log)
	// POST, чтобы результат не кэшировался
	r.POST("/check", handler.Check)
}
