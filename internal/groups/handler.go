package groups

import (
	"net/http"

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

// Scan перечисляет группы всех аккаунтов и обновляет их количество.
func (h *Handler) Scan(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"results": h.svc.Scanner.Scan(c.Request.Context())})
}

// LeaveMuted выходит из заглушённых и read-only групп. Критерии из тела
// запроса переопределяют настройки.
func (h *Handler) LeaveMuted(c *gin.Context) {
	var input struct {
		Muted    *bool `json:"muted"`
		ReadOnly *bool `json:"read_only"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			httputil.RespondError(c, http.StatusBadRequest, "invalid body")
			return
		}
	}
	crit := h.svc.Criteria
	if input.Muted != nil {
		crit.Muted = *input.Muted
	}
	if input.ReadOnly != nil {
		crit.ReadOnly = *input.ReadOnly
	}
	c.JSON(http.StatusOK, gin.H{"results": h.svc.Scanner.SweepAll(c.Request.Context(), crit)})
}

// Status отдаёт сведения о группах одного аккаунта.
func (h *Handler) Status(c *gin.Context) {
	phone := tgauth.NormalizePhone(c.Param("phone"))
	cn, ok := h.svc.Store.Get(phone)
	if !ok {
		httputil.RespondErr(c, errors.Wrapf(storage.ErrNotFound, "phone %s", phone))
		return
	}
	if err := h.svc.Locker.Lock(phone); err != nil {
		httputil.RespondErr(c, err)
		return
	}
	defer h.svc.Locker.Unlock(phone)

	list, err := h.svc.Scanner.StatusReport(c.Request.Context(), cn)
	if err != nil {
		h.log.Error().Err(err).Str("phone", phone).Msg("не удалось получить группы")
		httputil.RespondError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": phone, "groups": list})
}
