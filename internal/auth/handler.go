package auth

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"atg_broadcast/internal/httputil"
	tgauth "atg_broadcast/pkg/telegram/accounts_auth"
)

type AccountHandler struct {
	Auth *tgauth.Machine
	log  zerolog.Logger
}

func NewHandler(m *tgauth.Machine, log zerolog.Logger) *AccountHandler {
	return &AccountHandler{Auth: m, log: log.With().Str("component", "HTTP").Logger()}
}

type phoneRequest struct {
	Phone string `json:"phone" binding:"required"`
}

// RequestCode запрашивает код подтверждения для номера.
func (h *AccountHandler) RequestCode(c *gin.Context) {
	var input phoneRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "phone is required")
		return
	}
	info, err := h.Auth.RequestCode(c.Request.Context(), input.Phone)
	if err != nil {
		h.log.Warn().Err(err).Str("phone", input.Phone).Msg("не удалось запросить код")
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"phone":      info.Phone,
		"stage":      info.Stage,
		"expires_at": info.ExpiresAt.Format(time.RFC3339),
	})
}

// VerifyCode проверяет код. Если включена двухфакторная защита,
// в ответе будет stage=awaiting_password и completed=false.
func (h *AccountHandler) VerifyCode(c *gin.Context) {
	var input struct {
		Phone string `json:"phone" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "phone and code are required")
		return
	}
	res, err := h.Auth.SubmitCode(c.Request.Context(), input.Phone, input.Code)
	if err != nil {
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AccountHandler) VerifyPassword(c *gin.Context) {
	var input struct {
		Phone    string `json:"phone" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "phone and password are required")
		return
	}
	res, err := h.Auth.SubmitPassword(c.Request.Context(), input.Phone, input.Password)
	if err != nil {
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *AccountHandler) Cancel(c *gin.Context) {
	var input phoneRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		httputil.RespondError(c, http.StatusBadRequest, "phone is required")
		return
	}
	if err := h.Auth.Cancel(input.Phone); err != nil {
		httputil.RespondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"phone": tgauth.NormalizePhone(input.Phone), "cancelled": true})
}

func (h *AccountHandler) Pending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": h.Auth.Pending()})
}
