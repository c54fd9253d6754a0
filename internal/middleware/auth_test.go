package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/database/testutil"
	"github.com/chatbridge/chatbridge/internal/models"
)

func TestAuthAcceptsValidTokenAndTouchesSession(t *testing.T) {
	db, jwt, sessions := setupAuthDeps(t)
	user := seedAuthUser(t, db, "alice", models.RoleUser)

	tokens, session, err := sessions.CreateSession(user, iauth.SessionMetadata{})
	require.NoError(t, err)

	router := newAuthRouter(jwt, sessions)

	before := session.LastActivityAt

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/me", nil)
	request.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), user.ID)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.False(t, reloaded.LastActivityAt.Before(before))
}

func TestAuthRejectsMissingAndMalformedHeaders(t *testing.T) {
	_, jwt, sessions := setupAuthDeps(t)
	router := newAuthRouter(jwt, sessions)

	for _, header := range []string{"", "Token abc", "Bearer"} {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			request.Header.Set("Authorization", header)
		}
		router.ServeHTTP(recorder, request)
		require.Equal(t, http.StatusUnauthorized, recorder.Code)
	}
}

func TestAuthRejectsInvalidatedSession(t *testing.T) {
	db, jwt, sessions := setupAuthDeps(t)
	user := seedAuthUser(t, db, "bob", models.RoleUser)

	tokens, _, err := sessions.CreateSession(user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, sessions.InvalidateUserSessions(user.ID))

	router := newAuthRouter(jwt, sessions)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/me", nil)
	request.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.Equal(t, "Bearer", recorder.Header().Get("WWW-Authenticate"))
}

func TestAuthRejectsRefreshTokenOnAPIRoutes(t *testing.T) {
	db, jwt, sessions := setupAuthDeps(t)
	user := seedAuthUser(t, db, "carol", models.RoleUser)

	tokens, _, err := sessions.CreateSession(user, iauth.SessionMetadata{})
	require.NoError(t, err)

	router := newAuthRouter(jwt, sessions)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/me", nil)
	request.Header.Set("Authorization", "Bearer "+tokens.RefreshToken)
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestRequireAdmin(t *testing.T) {
	db, jwt, sessions := setupAuthDeps(t)
	member := seedAuthUser(t, db, "member", models.RoleUser)
	admin := seedAuthUser(t, db, "chief", models.RoleAdmin)

	memberTokens, _, err := sessions.CreateSession(member, iauth.SessionMetadata{})
	require.NoError(t, err)
	adminTokens, _, err := sessions.CreateSession(admin, iauth.SessionMetadata{})
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/admin", Auth(jwt, sessions), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/admin", nil)
	request.Header.Set("Authorization", "Bearer "+memberTokens.AccessToken)
	router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusForbidden, recorder.Code)

	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodGet, "/admin", nil)
	request.Header.Set("Authorization", "Bearer "+adminTokens.AccessToken)
	router.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
}

func newAuthRouter(jwt *iauth.JWTService, sessions *iauth.SessionService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", Auth(jwt, sessions), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CtxUserIDKey))
	})
	return router
}

func setupAuthDeps(t *testing.T) (*gorm.DB, *iauth.JWTService, *iauth.SessionService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:          "middleware-secret",
		Issuer:          "chatbridge",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	})
	require.NoError(t, err)

	sessions, err := iauth.NewSessionService(db, jwt, iauth.SessionConfig{})
	require.NoError(t, err)

	return db, jwt, sessions
}

func seedAuthUser(t *testing.T, db *gorm.DB, username, role string) *models.User {
	t.Helper()

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "hashed",
		Role:     role,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
