package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/chatbridge/chatbridge/internal/auth"
	"github.com/chatbridge/chatbridge/internal/services"
	"github.com/chatbridge/chatbridge/pkg/logger"
)

const (
	defaultSessionSpec = "@hourly"
	defaultBanSpec     = "@hourly"
)

// Cleaner coordinates background maintenance tasks: purging expired or revoked
// sessions and lifting temporary bans whose expiry has passed.
type Cleaner struct {
	sessions *iauth.SessionService
	admin    *services.AdminService
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger
	enabled  bool

	sessionSchedule string
	banSchedule     string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for scheduling and cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithBanSchedule overrides the cron specification for the expired-ban sweep.
func WithBanSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.banSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding cleanup job being skipped.
func NewCleaner(sessions *iauth.SessionService, admin *services.AdminService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions:        sessions,
		admin:           admin,
		now:             time.Now,
		sessionSchedule: defaultSessionSpec,
		banSchedule:     defaultBanSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.sessions != nil || cleaner.admin != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.sessions != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			ctx := context.Background()
			if removed, err := c.sessions.CleanupExpired(ctx); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			} else if removed > 0 {
				c.log.Info("expired sessions removed", zap.Int64("count", removed))
			}
		}); err != nil {
			return err
		}
	}

	if c.admin != nil {
		if _, err := c.cron.AddFunc(c.banSchedule, func() {
			ctx := context.Background()
			if lifted, err := c.admin.LiftExpiredBans(ctx); err != nil {
				c.log.Warn("ban sweep failed", zap.Error(err))
			} else if lifted > 0 {
				c.log.Info("temporary bans lifted", zap.Int64("count", lifted))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily used
// in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.admin != nil {
		if _, err := c.admin.LiftExpiredBans(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}
