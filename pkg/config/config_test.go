package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("DEFAULT_BOOKING_HORIZON_DAYS", "14")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 24, cfg.Scheduling.DefaultLeadTimeHours)
	assert.Equal(t, 14, cfg.Scheduling.DefaultHorizonDays)
	assert.Equal(t, 24, cfg.Scheduling.DefaultCancellationHours)
	assert.Equal(t, 0, cfg.Scheduling.DefaultMaxOccasionalPerDay)
	assert.Equal(t, 30*24*time.Hour, cfg.Scheduling.RefundCreditValidity)
	assert.Equal(t, "UTC", cfg.Scheduling.Location().String())

	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 5*time.Second, cfg.Database.ConnectTimeout)
	assert.Equal(t, "tutor", cfg.Redis.Namespace)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Equal(t, 10*time.Second, cfg.Notifications.JobTimeout)
}

func TestSchedulingLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, SchedulingConfig{}.Location())
	assert.Equal(t, time.UTC, SchedulingConfig{Timezone: "Not/AZone"}.Location())
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
