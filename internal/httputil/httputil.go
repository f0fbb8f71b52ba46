package httputil

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/accounts_auth"
	"atg_broadcast/pkg/telegram/conn"
)

// RespondError отправляет сообщение об ошибке в едином формате и прекращает обработку запроса.
// Используем AbortWithStatusJSON, чтобы последующие обработчики не выполнялись, даже если забыли вернуть управление.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// StatusFor подбирает HTTP-статус для ошибки ядра.
func StatusFor(err error) int {
	var fw *conn.FloodWaitError
	switch {
	case errors.As(err, &fw):
		return http.StatusTooManyRequests
	case errors.Is(err, accounts_auth.ErrAlreadyActive),
		errors.Is(err, accounts_auth.ErrLoginPending),
		errors.Is(err, accounts_auth.ErrWrongStage):
		return http.StatusConflict
	case errors.Is(err, accounts_auth.ErrNoPendingLogin),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, account_mutex.ErrBusy):
		return http.StatusLocked
	case errors.Is(err, conn.ErrBadCode),
		errors.Is(err, conn.ErrBadPassword):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondErr отвечает ошибкой ядра; для флуд-ожидания выставляет Retry-After.
func RespondErr(c *gin.Context, err error) {
	var fw *conn.FloodWaitError
	if errors.As(err, &fw) {
		c.Header("Retry-After", strconv.Itoa(int(fw.Wait.Seconds())))
	}
	RespondError(c, StatusFor(err), err.Error())
}
