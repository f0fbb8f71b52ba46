package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atg_broadcast/internal/app"
	"atg_broadcast/internal/config"
	"atg_broadcast/pkg/telegram/conn/conntest"
)

func setup(t *testing.T) (*gin.Engine, *app.Services) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Sessions.Dir = t.TempDir()
	svc, err := app.Build(context.Background(), cfg, &conntest.FakeDialer{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	r := gin.New()
	SetupRoutes(r.Group("/accounts"), svc, zerolog.Nop())
	return r, svc
}

func call(r http.Handler, method, path, body string) (int, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestStatus(t *testing.T) {
	r, svc := setup(t)
	require.NoError(t, svc.Store.Add("+1", &conntest.FakeConn{}))

	code, body := call(r, http.MethodGet, "/accounts/status", "")
	require.Equal(t, http.StatusOK, code)
	accounts := body["accounts"].([]any)
	require.Len(t, accounts, 1)
	acc := accounts[0].(map[string]any)
	assert.Equal(t, "+1", acc["phone"])
	assert.Nil(t, acc["last_broadcast"])
	assert.Equal(t, false, acc["expired"])
	assert.Equal(t, true, acc["connected"])
}

func TestRemove(t *testing.T) {
	r, svc := setup(t)
	code, _ := call(r, http.MethodDelete, "/accounts/+1", "")
	assert.Equal(t, http.StatusNotFound, code)

	require.NoError(t, svc.Store.Add("+1", &conntest.FakeConn{}))
	require.NoError(t, svc.Locker.Lock("+1"))
	code, _ = call(r, http.MethodDelete, "/accounts/+1", "")
	assert.Equal(t, http.StatusLocked, code, "аккаунт занят рассылкой")
	svc.Locker.Unlock("+1")

	code, body := call(r, http.MethodDelete, "/accounts/+1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["removed"])
	assert.False(t, svc.Store.Has("+1"))
}

func TestClearRequiresConfirmation(t *testing.T) {
	r, svc := setup(t)
	require.NoError(t, svc.Store.Add("+1", &conntest.FakeConn{}))
	require.NoError(t, svc.Store.Add("+2", &conntest.FakeConn{}))

	code, _ := call(r, http.MethodPost, "/accounts/clear", `{"confirm":"no"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Len(t, svc.Store.Phones(), 2)

	code, body := call(r, http.MethodPost, "/accounts/clear", `{"confirm":"YES"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["removed"])
	assert.Equal(t, []any{}, body["busy"])
	assert.Empty(t, svc.Store.Phones())
}

func TestClearSkipsBusyAccount(t *testing.T) {
	r, svc := setup(t)
	busy := &conntest.FakeConn{}
	require.NoError(t, svc.Store.Add("+1", busy))
	require.NoError(t, svc.Store.Add("+2", &conntest.FakeConn{}))
	require.NoError(t, svc.Locker.Lock("+1"))
	defer svc.Locker.Unlock("+1")

	code, body := call(r, http.MethodPost, "/accounts/clear", `{"confirm":"YES"}`)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["removed"])
	assert.Equal(t, []any{"+1"}, body["busy"])
	assert.Equal(t, []string{"+1"}, svc.Store.Phones())
	assert.Zero(t, busy.Closed())
}

func TestCleanup(t *testing.T) {
	r, svc := setup(t)
	now := time.Now()
	svc.Store.SetClock(func() time.Time { return now })
	require.NoError(t, svc.Store.Add("+1", &conntest.FakeConn{}))
	require.NoError(t, svc.Store.Add("+2", &conntest.FakeConn{}))

	now = now.Add(12 * time.Hour)
	require.NoError(t, svc.Store.Touch("+2"))
	now = now.Add(12*time.Hour + time.Second)

	code, body := call(r, http.MethodPost, "/accounts/cleanup", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"+1"}, body["removed"])
	assert.Equal(t, []any{}, body["busy"])
	assert.Equal(t, []string{"+2"}, svc.Store.Phones())

	now = now.Add(48 * time.Hour)
	require.NoError(t, svc.Locker.Lock("+2"))
	code, body = call(r, http.MethodPost, "/accounts/cleanup", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{}, body["removed"])
	assert.Equal(t, []any{"+2"}, body["busy"])
	assert.True(t, svc.Store.Has("+2"))
	svc.Locker.Unlock("+2")
}
