package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "  s3cret ")

	cfg := LoadConfig()

	assert.Equal(t, 8000, cfg.ServerPort)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 90*24*time.Hour, cfg.Auth.CookieTTL)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
	assert.Equal(t, 10*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 8, cfg.Auth.PasswordMinLen)
	assert.Equal(t, MQDriverNone, cfg.MQ.Driver)
	assert.Equal(t, "emails", cfg.MQ.Channel)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "30d")
	t.Setenv("JWT_COOKIE_EXPIRES_IN", "7")
	t.Setenv("PASSWORD_RESET_TTL", "15m")
	t.Setenv("STORE_DRIVER", "Mongo")
	t.Setenv("MQ_DRIVER", "rabbitmq")
	t.Setenv("DB_USE_SSL", "true")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.CookieTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, StoreDriverMongo, cfg.StoreDriver)
	assert.Equal(t, MQDriverRabbitMQ, cfg.MQ.Driver)
	assert.True(t, cfg.Database.UseSSL)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("MQ_DRIVER", "kafka")

	err := LoadConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), `unknown STORE_DRIVER "sqlite"`)
	assert.Contains(t, err.Error(), `unknown MQ_DRIVER "kafka"`)
}

func TestValidateRejectsLogNotifierInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MQ_DRIVER", "none")

	err := LoadConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MQ_DRIVER=none is not allowed in production")

	t.Setenv("ENV", "test")
	assert.NoError(t, LoadConfig().Validate())
}
