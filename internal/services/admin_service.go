package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/models"
	"github.com/chatbridge/chatbridge/internal/realtime"
	apperrors "github.com/chatbridge/chatbridge/pkg/errors"
	"github.com/chatbridge/chatbridge/pkg/logger"
)

// BanNotice describes an active ban in user-facing terms.
type BanNotice struct {
	UserID      string     `json:"userId"`
	Message     string     `json:"message"`
	IsPermanent bool       `json:"isPermanent"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// AdminService applies and lifts bans. Banning invalidates every session of the
// user and announces the ban to all connections; clients act on the notice only
// when the id matches their own.
type AdminService struct {
	db       *gorm.DB
	hub      *realtime.Hub
	sessions *auth.SessionService
	now      func() time.Time
	log      *zap.Logger
}

// AdminServiceOption customises the service.
type AdminServiceOption func(*AdminService)

// WithAdminClock overrides the clock, primarily for tests.
func WithAdminClock(now func() time.Time) AdminServiceOption {
	return func(s *AdminService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAdminService constructs the admin service.
func NewAdminService(db *gorm.DB, hub *realtime.Hub, sessions *auth.SessionService, opts ...AdminServiceOption) (*AdminService, error) {
	if db == nil {
		return nil, errors.New("admin service: db is required")
	}
	if hub == nil {
		return nil, errors.New("admin service: hub is required")
	}
	if sessions == nil {
		return nil, errors.New("admin service: session service is required")
	}

	svc := &AdminService{
		db:       db,
		hub:      hub,
		sessions: sessions,
		now:      time.Now,
		log:      logger.WithModule("admin"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Ban marks the user banned, clears their sessions, and broadcasts the notice.
func (s *AdminService) Ban(ctx context.Context, userID, reason string, isPermanent bool, expiresAt *time.Time) error {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("admin service: find user: %w", err)
	}

	if user.Role == models.RoleAdmin {
		return apperrors.ErrForbidden.WithMessage("administrators cannot be banned")
	}
	if !isPermanent && (expiresAt == nil || !expiresAt.After(s.now())) {
		return apperrors.NewBadRequest("temporary bans require a future expiry")
	}

	updates := map[string]any{
		"is_banned":        true,
		"ban_reason":       reason,
		"is_permanent_ban": isPermanent,
		"ban_expires_at":   expiresAt,
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return fmt.Errorf("admin service: persist ban: %w", err)
	}

	if err := s.sessions.InvalidateUserSessions(userID); err != nil {
		return fmt.Errorf("admin service: invalidate sessions: %w", err)
	}

	user.IsBanned = true
	user.BanReason = reason
	user.IsPermanentBan = isPermanent
	user.BanExpiresAt = expiresAt

	s.hub.Broadcast(realtime.Event{
		Event: realtime.EventUserBanned,
		Data: realtime.BanPayload{
			UserID:      userID,
			Message:     banMessage(&user),
			IsPermanent: isPermanent,
		},
	})

	s.log.Info("user banned",
		zap.String("user_id", userID),
		zap.Bool("permanent", isPermanent),
	)
	return nil
}

// Unban clears the ban fields and announces the reinstatement.
func (s *AdminService) Unban(ctx context.Context, userID string) error {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("admin service: find user: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"is_banned":        false,
		"ban_reason":       "",
		"is_permanent_ban": false,
		"ban_expires_at":   nil,
	}).Error; err != nil {
		return fmt.Errorf("admin service: persist unban: %w", err)
	}

	s.hub.Broadcast(realtime.Event{
		Event: realtime.EventUserUnbanned,
		Data:  realtime.UnbanPayload{UserID: userID},
	})

	s.log.Info("user unbanned", zap.String("user_id", userID))
	return nil
}

// CheckBan reports whether the user is currently banned. An expired temporary
// ban is lifted in place, so callers always see the effective state.
func (s *AdminService) CheckBan(ctx context.Context, userID string) (*BanNotice, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("admin service: find user: %w", err)
	}

	if !user.IsBanned {
		return nil, nil
	}

	if !user.BanActive(s.now()) {
		if err := s.liftBan(ctx, &user); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &BanNotice{
		UserID:      user.ID,
		Message:     banMessage(&user),
		IsPermanent: user.IsPermanentBan,
		ExpiresAt:   user.BanExpiresAt,
	}, nil
}

// LiftExpiredBans clears every temporary ban whose expiry has passed.
func (s *AdminService) LiftExpiredBans(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("is_banned = ? AND is_permanent_ban = ? AND ban_expires_at <= ?", true, false, s.now()).
		Updates(map[string]any{
			"is_banned":      false,
			"ban_reason":     "",
			"ban_expires_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("admin service: lift expired bans: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *AdminService) liftBan(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{
		"is_banned":        false,
		"ban_reason":       "",
		"is_permanent_ban": false,
		"ban_expires_at":   nil,
	}).Error; err != nil {
		return fmt.Errorf("admin service: lift ban: %w", err)
	}
	user.IsBanned = false
	return nil
}

func banMessage(user *models.User) string {
	reason := user.BanReason
	if reason == "" {
		reason = "No reason provided"
	}

	if user.IsPermanentBan {
		return fmt.Sprintf("You have been permanently banned. Reason: %s", reason)
	}
	if user.BanExpiresAt != nil {
		return fmt.Sprintf("You have been banned until %s. Reason: %s",
			user.BanExpiresAt.UTC().Format(time.RFC1123), reason)
	}
	return fmt.Sprintf("You have been banned. Reason: %s", reason)
}
