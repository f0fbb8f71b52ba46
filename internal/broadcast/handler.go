package broadcast

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/app"
	"atg_broadcast/internal/httputil"
	"atg_broadcast/pkg/telegram/conn"
)

type Handler struct {
	svc *app.Services
	log zerolog.Logger
}

func NewHandler(svc *app.Services, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log.With().Str("component", "HTTP").Logger()}
}

// Send рассылает текст по всем аккаунтам. Формат по умолчанию берётся из конфигурации.
func (h *Handler) Send(c *gin.Context) {
	var input struct {
		Text   string `json:"text"`
		Format string `json:"format"`
	}
	if err := c.ShouldBindJSON(&input); err != nil || strings.TrimSpace(input.Text) == "" {
		httputil.RespondError(c, http.StatusBadRequest, "text is required")
		return
	}
	format := h.svc.Format
	if input.Format != "" {
		f, err := conn.ParseFormat(input.Format)
		if err != nil {
			httputil.RespondError(c, http.StatusBadRequest, err.Error())
			return
		}
		format = f
	}
	if len(h.svc.Store.ListAll()) == 0 {
		httputil.RespondError(c, http.StatusConflict, "no active sessions")
		return
	}

	results := h.svc.Engine.Broadcast(c.Request.Context(), input.Text, format)
	var success, failed int
	for _, r := range results {
		if r.Error == "" {
			success += r.Success
			failed += r.Failed
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"total":   gin.H{"success": success, "failed": failed},
	})
}

// Logs отдаёт последние рассылки, limit по умолчанию 20.
func (h *Handler) Logs(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.RespondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.svc.History.Stored(c.Request.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось прочитать журнал рассылок")
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries})
}
