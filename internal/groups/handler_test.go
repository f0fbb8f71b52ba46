package groups

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atg_broadcast/internal/app"
	"atg_broadcast/internal/config"
	"atg_broadcast/models"
	"atg_broadcast/pkg/telegram/conn"
	"atg_broadcast/pkg/telegram/conn/conntest"
)

func setup(t *testing.T) (*gin.Engine, *app.Services, *conntest.FakeConn) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Sessions.Dir = t.TempDir()
	svc, err := app.Build(context.Background(), cfg, &conntest.FakeDialer{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	fc := &conntest.FakeConn{
		Chats: []conn.Chat{
			{ID: -1, Title: "Тихая", Kind: conn.KindGroup, Notifications: models.NotificationsDisabled},
			{ID: -2, Title: "Только чтение", Kind: conn.KindSupergroup, Notifications: models.NotificationsEnabled},
			{ID: -3, Title: "Обычная", Kind: conn.KindSupergroup, Notifications: models.NotificationsEnabled},
		},
		Members: map[int64]conn.Membership{-2: {Status: conn.StatusRestricted}},
		Counts:  map[int64]int{-3: 250},
	}
	require.NoError(t, svc.Store.Add("+1", fc))

	r := gin.New()
	SetupRoutes(r.Group("/groups"), svc, zerolog.Nop())
	return r, svc, fc
}

func call(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestScan(t *testing.T) {
	r, svc, _ := setup(t)
	w := call(r, http.MethodPost, "/groups/scan", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Results map[string]models.ScanResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Results["+1"].Groups)
	acc, _ := svc.Store.Account("+1")
	assert.Equal(t, 3, acc.Groups)
}

func TestLeaveMutedOverride(t *testing.T) {
	r, _, fc := setup(t)
	w := call(r, http.MethodPost, "/groups/leave_muted", `{"read_only":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{-1}, fc.Left(), "read-only группа остаётся")

	r, _, fc = setup(t)
	w = call(r, http.MethodPost, "/groups/leave_muted", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{-1, -2}, fc.Left())
}

func TestGroupStatus(t *testing.T) {
	r, _, _ := setup(t)
	assert.Equal(t, http.StatusNotFound, call(r, http.MethodGet, "/groups/+9/status", "").Code)

	w := call(r, http.MethodGet, "/groups/+1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Groups []map[string]any `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Groups, 3)
	assert.Equal(t, "denied", body.Groups[1]["can_send_messages"])
	assert.EqualValues(t, 250, body.Groups[2]["member_count"])
}
