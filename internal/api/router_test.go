package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/chatbridge/internal/app"
	iauth "github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/database/testutil"
	"github.com/chatbridge/chatbridge/internal/realtime"
	"github.com/chatbridge/chatbridge/internal/services"
	"github.com/chatbridge/chatbridge/internal/storage"
)

func newRouterDeps(t *testing.T) Dependencies {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:          "router-secret",
		Issuer:          "chatbridge",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwt, iauth.SessionConfig{})
	require.NoError(t, err)

	hub := realtime.NewHub()

	admin, err := services.NewAdminService(db, hub, sessions)
	require.NoError(t, err)

	messages, err := services.NewMessageService(db, hub)
	require.NoError(t, err)

	voice, err := storage.NewDiskVoiceStore(t.TempDir(), "/uploads/voice")
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Features.Registration.Enabled = true

	return Dependencies{
		DB:       db,
		Config:   cfg,
		JWT:      jwt,
		Sessions: sessions,
		Hub:      hub,
		Messages: messages,
		Admin:    admin,
		Voice:    voice,
	}
}

func TestNewRouterValidatesDependencies(t *testing.T) {
	_, err := NewRouter(Dependencies{})
	require.Error(t, err)

	deps := newRouterDeps(t)
	deps.Hub = nil
	_, err = NewRouter(deps)
	require.Error(t, err)
}

func TestRouterServesCoreEndpoints(t *testing.T) {
	router, err := NewRouter(newRouterDeps(t))
	require.NoError(t, err)

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "ok")

	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	// Protected routes reject anonymous callers.
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/Message/conversations", nil))
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	// Unknown routes return the JSON 404 envelope.
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, recorder.Code)
	require.Contains(t, recorder.Body.String(), "NOT_FOUND")
}
