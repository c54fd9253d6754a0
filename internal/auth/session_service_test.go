package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/database/testutil"
	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/pkg/crypto"
)

func TestCreateSessionPersistsBeforeReturning(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "user-create")

	tokens, session, err := svc.CreateSession(user, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
		Device:    "laptop",
	})
	require.NoError(t, err)

	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotNil(t, session)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)
	require.True(t, session.IsActive)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.Equal(t, tokens.AccessToken, reloaded.AccessToken)
	require.Equal(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.Equal(clock.Now().Add(7*24*time.Hour)))
	require.True(t, reloaded.LastActivityAt.Equal(clock.Now()))
}

func TestRefreshSessionRotatesInPlace(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "user-refresh")

	tokens, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	originalExpiry := session.ExpiresAt
	clock.Advance(5 * time.Minute)

	newTokens, updated, err := svc.RefreshSession(tokens.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, newTokens.RefreshToken)
	require.NotEqual(t, tokens.AccessToken, newTokens.AccessToken)

	// Same row, rotated contents, untouched absolute horizon.
	require.Equal(t, session.ID, updated.ID)
	require.True(t, updated.ExpiresAt.Equal(originalExpiry))
	require.True(t, updated.LastActivityAt.Equal(clock.Now()))

	var count int64
	require.NoError(t, db.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)

	// The superseded refresh token is dead immediately.
	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRefreshSessionRejectsAccessToken(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "user-marker")

	tokens, _, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.RefreshSession(tokens.AccessToken)
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRefreshSessionHonoursAbsoluteLifetime(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "user-absolute")

	tokens, _, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	// Stay active through rotations, but the 7 day horizon still applies.
	for i := 0; i < 3; i++ {
		clock.Advance(24 * time.Hour)
		tokens2, _, err := svc.RefreshSession(tokens.RefreshToken)
		require.NoError(t, err)
		tokens = tokens2
	}

	clock.Advance(5 * 24 * time.Hour)
	_, _, err = svc.RefreshSession(tokens.RefreshToken)
	require.Error(t, err)
}

func TestValidateAccessTokenTouchesActivity(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "user-validate")

	tokens, session, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)

	resolved, err := svc.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, session.ID, resolved.ID)
	require.True(t, resolved.LastActivityAt.Equal(clock.Now()))

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.LastActivityAt.Equal(clock.Now()))
}

func TestInvalidateUserSessionsCoversAllDevices(t *testing.T) {
	db, svc, _ := setupSessionService(t)
	user := createTestUser(t, db, "user-invalidate")

	first, _, err := svc.CreateSession(user, SessionMetadata{Device: "phone"})
	require.NoError(t, err)
	second, _, err := svc.CreateSession(user, SessionMetadata{Device: "desktop"})
	require.NoError(t, err)

	require.NoError(t, svc.InvalidateUserSessions(user.ID))

	_, err = svc.ValidateAccessToken(first.AccessToken)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.ValidateAccessToken(second.AccessToken)
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.RefreshSession(first.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
	_, _, err = svc.RefreshSession(second.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestCleanupExpiredRemovesDeadRows(t *testing.T) {
	db, svc, clock := setupSessionService(t)
	user := createTestUser(t, db, "user-cleanup")

	_, stale, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).
		Where("id = ?", stale.ID).
		Update("expires_at", clock.Now().Add(-time.Minute)).Error)

	_, live, err := svc.CreateSession(user, SessionMetadata{})
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining []models.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.ID, remaining[0].ID)
}

func setupSessionService(t *testing.T) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	clock := &testClock{current: time.Date(2025, 2, 10, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret: "session-secret",
		Issuer: "chatbridge",
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	sessionService, err := NewSessionService(db, jwtService, SessionConfig{
		SessionTTL: 7 * 24 * time.Hour,
		Clock:      clock.Now,
	})
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hashed,
		Role:     models.RoleUser,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
