package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"

	"atg_broadcast/pkg/storage"
	"atg_broadcast/pkg/telegram/a_technical/account_mutex"
	"atg_broadcast/pkg/telegram/accounts_auth"
	"atg_broadcast/pkg/telegram/conn"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		errors.Wrap(accounts_auth.ErrAlreadyActive, "phone +1"): http.StatusConflict,
		accounts_auth.ErrLoginPending:                          http.StatusConflict,
		accounts_auth.ErrNoPendingLogin:                        http.StatusNotFound,
		storage.ErrNotFound:                                    http.StatusNotFound,
		errors.Wrap(account_mutex.ErrBusy, "lock"):             http.StatusLocked,
		errors.Wrap(conn.ErrBadCode, "sign in"):                http.StatusUnprocessableEntity,
		&conn.FloodWaitError{Wait: time.Minute}:                http.StatusTooManyRequests,
		storage.ErrPersistence:                                 http.StatusInternalServerError,
		errors.New("boom"):                                     http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, StatusFor(err), err.Error())
	}
}

func TestRespondErrSetsRetryAfter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	RespondErr(c, errors.Wrap(&conn.FloodWaitError{Wait: 42 * time.Second}, "request code"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.True(t, c.IsAborted())
}
