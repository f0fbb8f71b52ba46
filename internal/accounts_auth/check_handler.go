package accounts_auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/pkg/storage"
	tgauth "atg_broadcast/pkg/telegram/accounts_auth"
)

type CheckHandler struct {
	Auth  *tgauth.Machine
	Store *storage.SessionStore
	log   zerolog.Logger
}

func NewCheckHandler(m *tgauth.Machine, store *storage.SessionStore, log zerolog.Logger) *CheckHandler {
	return &CheckHandler{Auth: m, Store: store, log: log.With().Str("component", "HTTP").Logger()}
}

// Check переподключает аккаунты без соединения и возвращает номера,
// для которых авторизацию восстановить не удалось.
func (h *CheckHandler) Check(c *gin.Context) {
	restored := h.Auth.Restore(c.Request.Context())

	unauth := []string{}
	for _, st := range h.Store.ComputeStatus() {
		if !st.Connected {
			unauth = append(unauth, st.Phone)
		}
	}
	if len(unauth) > 0 {
		h.log.Warn().Strs("phones", unauth).Msg("аккаунты без авторизации")
	}
	c.JSON(http.StatusOK, gin.H{"restored": restored, "unauthorized": unauth})
}
