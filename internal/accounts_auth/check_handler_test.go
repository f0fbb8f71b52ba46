package accounts_auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atg_broadcast/internal/app"
	"atg_broadcast/internal/config"
	"atg_broadcast/pkg/telegram/conn/conntest"
)

func TestCheckRestoresSessions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Sessions.Dir = t.TempDir()
	dialer := &conntest.FakeDialer{Conns: map[string]*conntest.FakeConn{
		"+1": {IsAuthorized: true},
	}}
	svc, err := app.Build(context.Background(), cfg, dialer, zerolog.Nop())
	require.NoError(t, err)
	defer svc.Close()

	require.NoError(t, svc.Store.Add("+1", &conntest.FakeConn{}))
	require.NoError(t, svc.Store.Add("+2", &conntest.FakeConn{}))
	svc.Store.Close()
	require.NoError(t, os.WriteFile(svc.Store.SessionPath("+1"), []byte("{}"), 0o600))

	r := gin.New()
	SetupCheckRoutes(r.Group("/accounts"), svc.Auth, svc.Store, zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/accounts/check", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Restored     int      `json:"restored"`
		Unauthorized []string `json:"unauthorized"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Restored)
	assert.Equal(t, []string{"+2"}, body.Unauthorized)
}
