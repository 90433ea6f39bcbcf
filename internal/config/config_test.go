package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("REALTIME_BACKEND", "")
	t.Setenv("TRACKING_MIN_INTERVAL_MS", "")
	t.Setenv("TRACKING_MIN_DISTANCE_M", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.TrackingInterval)
	assert.Equal(t, 25.0, cfg.TrackingDistance)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REALTIME_BACKEND", "redis")
	t.Setenv("TRACKING_MIN_INTERVAL_MS", "5000")
	t.Setenv("TRACKING_MIN_DISTANCE_M", "12.5")
	t.Setenv("REDIS_HOST", "cache")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, "redis", cfg.RealtimeBackend)
	assert.Equal(t, 5*time.Second, cfg.TrackingInterval)
	assert.Equal(t, 12.5, cfg.TrackingDistance)
	assert.Equal(t, "cache:6379", cfg.RedisAddr())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "firestore")
	_, err = Load()
	assert.Error(t, err)
}
