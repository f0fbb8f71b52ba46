package accounts

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/app"
	"atg_broadcast/internal/httputil"
	"atg_broadcast/pkg/storage"
	tgauth "atg_broadcast/pkg/telegram/accounts_auth"
)

type Handler struct {
	svc *app.Services
	log zerolog.Logger
}

func NewHandler(svc *app.Services, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With().Str("component", "HTTP").Logger()}
}

// Status отдаёт состояние аккаунтов и незавершённых входов.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"uptime_seconds": int64(time.Since(h.svc.Started) / time.Second),
		"accounts":       h.svc.Store.ComputeStatus(),
		"pending":        h.svc.Auth.Pending(),
	})
}

// Remove удаляет аккаунт вместе с файлами сессии.
func (h *Handler) Remove(c *gin.Context) {
	phone := tgauth.NormalizePhone(c.Param("phone"))
	if !h.svc.Store.Has(phone) {
		httputil.RespondErr(c, errors.Wrapf(storage.ErrNotFound, "phone %s", phone))
		return
	}
	if err := h.svc.Locker.Lock(phone); err != nil {
		httputil.RespondErr(c, err)
		return
	}
	defer h.svc.Locker.Unlock(phone)
	if err := h.svc.Store.Remove(phone); err != nil {
		h.log.Error().Err(err).Str("phone", phone).Msg("не удалось удалить аккаунт")
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": phone, "removed": true})
}

// Clear удаляет все аккаунты. Требует {"confirm": "YES"}.
func (h *Handler) Clear(c *gin.Context) {
	var input struct {
		Confirm string `json:"confirm"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || !strings.EqualFold(strings.TrimSpace(input.Confirm), "YES") {
		httputil.RespondError(c, http.StatusBadRequest, `confirm must be "YES"`)
		return
	}
	sweep, err := h.svc.Store.ClearAll(h.svc.Locker)
	if err != nil {
		httputil.RespondErr(c, err)
		return
	}
	h.log.Warn().Strs("removed", sweep.Removed).Strs("busy", sweep.Busy).Msg("аккаунты удалены через API")
	c.JSON(http.StatusOK, gin.H{"removed": len(sweep.Removed), "busy": sweep.Busy})
}

// Cleanup удаляет просроченные аккаунты. Занятые попадают в busy.
func (h *Handler) Cleanup(c *gin.Context) {
	sweep, err := h.svc.Store.CleanupExpired(h.svc.Locker)
	if err != nil {
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sweep)
}
