package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatbridge/chatbridge/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "chat.example.com", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 240*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 240*time.Hour, cfg.Auth.Session.TTL)

	require.Equal(t, 750*time.Millisecond, cfg.Realtime.ActionCooldown)

	require.Equal(t, "/var/lib/chatbridge/voice", cfg.Storage.VoiceDir)
	require.Equal(t, "/media/voice", cfg.Storage.VoiceBaseURL)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.False(t, cfg.Features.Registration.Enabled)

	require.Equal(t, "@every 30m", cfg.Maintenance.SessionSchedule)
	require.Equal(t, "@daily", cfg.Maintenance.BanSchedule)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 168*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 168*time.Hour, cfg.Auth.Session.TTL)
	require.Equal(t, 500*time.Millisecond, cfg.Realtime.ActionCooldown)
	require.Equal(t, "/uploads/voice", cfg.Storage.VoiceBaseURL)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Features.Registration.Enabled)
	require.Equal(t, "@hourly", cfg.Maintenance.SessionSchedule)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret:     "secret",
				Issuer:     "issuer",
				AccessTTL:  30 * time.Minute,
				RefreshTTL: 100 * time.Hour,
			},
			Session: SessionSettings{
				TTL: 100 * time.Hour,
			},
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, auth.JWTConfig{
		Secret:          "secret",
		Issuer:          "issuer",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 100 * time.Hour,
	}, jwtCfg)

	sessionCfg := cfg.Auth.SessionServiceConfig()
	require.Equal(t, auth.SessionConfig{
		SessionTTL: 100 * time.Hour,
	}, sessionCfg)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)
	require.Equal(t, auth.DefaultRefreshTokenTTL, jwtCfg.RefreshTokenTTL)

	sessionCfg := cfg.SessionServiceConfig()
	require.Equal(t, auth.DefaultSessionTTL, sessionCfg.SessionTTL)
}
