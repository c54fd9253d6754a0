package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/pkg/metrics"
)

// DefaultSessionTTL bounds the absolute lifetime of a session. Refresh rotation
// never extends it, which caps how long a stolen refresh token stays useful.
const DefaultSessionTTL = 7 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	SessionTTL time.Duration
	Clock      func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
	Device    string
	Claims    map[string]any
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been invalidated.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that the session passed its absolute lifetime.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied token is malformed or carries the wrong marker.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionService manages creation, rotation, and invalidation of user sessions.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	sessionTTL time.Duration
	now        func() time.Time
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		jwt:        jwtService,
		sessionTTL: ttl,
		now:        clock,
	}, nil
}

// CreateSession issues a fresh token pair and persists the session before returning it.
func (s *SessionService) CreateSession(user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, nil, errors.New("session service: user is required")
	}

	accessToken, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	refreshToken, err := s.jwt.GenerateRefreshToken(user)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()

	session := &models.Session{
		UserID:         user.ID,
		AccessToken:    accessToken,
		RefreshToken:   refreshToken,
		IPAddress:      strings.TrimSpace(meta.IPAddress),
		UserAgent:      strings.TrimSpace(meta.UserAgent),
		DeviceName:     strings.TrimSpace(meta.Device),
		Claims:         datatypes.JSONMap(meta.Claims),
		IsActive:       true,
		ExpiresAt:      now.Add(s.sessionTTL),
		LastActivityAt: now,
	}

	if err := s.db.Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, session, nil
}

// RefreshSession rotates both tokens of the matching session in place. The
// session row keeps its identity and its original ExpiresAt horizon.
func (s *SessionService) RefreshSession(refreshToken string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	if _, err := s.jwt.ValidateRefreshToken(refreshToken); err != nil {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}

	var session models.Session
	err := s.db.Preload("User").Where("refresh_token = ?", refreshToken).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TokenPair{}, nil, ErrSessionNotFound
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: find session: %w", err)
	}

	now := s.now()

	if !session.IsActive {
		return TokenPair{}, nil, ErrSessionRevoked
	}

	if session.ExpiresAt.Before(now) {
		return TokenPair{}, nil, ErrSessionExpired
	}

	if session.User == nil {
		return TokenPair{}, nil, fmt.Errorf("session service: session %s has no user", session.ID)
	}

	newAccess, err := s.jwt.GenerateAccessToken(session.User)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	newRefresh, err := s.jwt.GenerateRefreshToken(session.User)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	updates := map[string]any{
		"access_token":     newAccess,
		"refresh_token":    newRefresh,
		"last_activity_at": now,
	}

	if err := s.db.Model(&session).Updates(updates).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", err)
	}

	session.AccessToken = newAccess
	session.RefreshToken = newRefresh
	session.LastActivityAt = now

	return TokenPair{
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
	}, &session, nil
}

// ValidateAccessToken resolves the live session for an access token and touches
// its activity timestamp. Inactive and past-horizon sessions both fail closed;
// callers cannot distinguish the two cases.
func (s *SessionService) ValidateAccessToken(accessToken string) (*models.Session, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, ErrSessionInvalidToken
	}

	var session models.Session
	err := s.db.Where("access_token = ?", accessToken).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	now := s.now()

	if !session.IsActive || session.ExpiresAt.Before(now) {
		return nil, ErrSessionNotFound
	}

	if err := s.db.Model(&session).Update("last_activity_at", now).Error; err != nil {
		return nil, fmt.Errorf("session service: touch session: %w", err)
	}
	session.LastActivityAt = now

	return &session, nil
}

// InvalidateUserSessions deactivates every live session belonging to a user.
// Deactivation is permanent; affected devices must log in again.
func (s *SessionService) InvalidateUserSessions(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionInvalidToken
	}

	result := s.db.Model(&models.Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("session service: invalidate sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	return nil
}

// CleanupExpired hard-deletes sessions past their absolute lifetime along with
// previously invalidated rows, and keeps the active-session gauge honest.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND is_active = ?", now, true).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("is_active = ?", false).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}
