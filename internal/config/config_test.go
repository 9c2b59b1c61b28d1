package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/mali-ride/internal/routing"
)

// clearEnv blanks every key LoadServerConfig reads so host settings do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "HTTP_IDLE_TIMEOUT", "HTTP_SHUTDOWN_TIMEOUT",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_GEO_KEY", "KAFKA_BROKERS", "KAFKA_BROKER",
		"KAFKA_LOCATION_TOPIC", "KAFKA_TRIP_TOPIC", "KAFKA_GROUP", "PG_DSN",
		"USE_REAL_ROUTING", "ROUTING_PROVIDER", "ORS_API_KEY", "ORS_ENDPOINT", "GOOGLE_MAPS_API_KEY",
		"GOOGLE_MAPS_BASE_URL", "OSRM_ENDPOINT", "ROUTING_TIMEOUT", "ROUTING_CACHE_TTL",
		"BASE_FARE_XOF", "PER_MILE_XOF", "FARE_FLOOR", "COMMISSION_SCHEDULE",
		"CANCEL_PASSENGER_FEE_PCT", "CANCEL_DRIVER_FEE_PCT", "CANCEL_RATING_PENALTY", "CANCEL_RATING_FLOOR",
		"MATCH_RADIUS_MILES", "WEEKLY_WINDOW", "INDEX_RESYNC_INTERVAL", "STRIPE_API_KEY", "DRIVER_WEBHOOK_URL",
		"LOG_LEVEL", "MIGRATE", "METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.True(t, cfg.Routing.Enabled)
	assert.Equal(t, routing.ProviderORS, cfg.Routing.Provider)
	assert.Equal(t, 10*time.Second, cfg.Routing.Timeout)
	assert.Equal(t, int64(1000), cfg.Rates.BaseFare)
	assert.Equal(t, int64(300), cfg.Rates.PerMile)
	assert.True(t, cfg.FareFloor)
	assert.Equal(t, "launch", cfg.Schedule)
	assert.Equal(t, 75, cfg.Cancellation.PassengerFeePct)
	assert.Equal(t, 35, cfg.Cancellation.DriverFeePct)
	assert.Equal(t, 168*time.Hour, cfg.WeeklyWindow)
	assert.Equal(t, 5*time.Minute, cfg.IndexResync)
	assert.Zero(t, cfg.MatchRadiusMiles)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.RunMigrations)
}

func TestLoadServerConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("USE_REAL_ROUTING", "false")
	t.Setenv("ROUTING_PROVIDER", "Google")
	t.Setenv("GOOGLE_MAPS_API_KEY", " key ")
	t.Setenv("BASE_FARE_XOF", "1500")
	t.Setenv("FARE_FLOOR", "0")
	t.Setenv("COMMISSION_SCHEDULE", "STANDARD")
	t.Setenv("CANCEL_DRIVER_FEE_PCT", "40")
	t.Setenv("MATCH_RADIUS_MILES", "7.5")
	t.Setenv("WEEKLY_WINDOW", "72h")
	t.Setenv("INDEX_RESYNC_INTERVAL", "30s")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.Routing.Enabled)
	assert.Equal(t, "google", cfg.Routing.Provider)
	assert.Equal(t, "key", cfg.Routing.GoogleAPIKey)
	assert.Equal(t, int64(1500), cfg.Rates.BaseFare)
	assert.False(t, cfg.FareFloor)
	assert.Equal(t, "standard", cfg.Schedule)
	assert.Equal(t, 40, cfg.Cancellation.DriverFeePct)
	assert.Equal(t, 7.5, cfg.MatchRadiusMiles)
	assert.Equal(t, 72*time.Hour, cfg.WeeklyWindow)
	assert.Equal(t, 30*time.Second, cfg.IndexResync)
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("PER_MILE_XOF", "three hundred")
	t.Setenv("COMMISSION_SCHEDULE", "premium")
	t.Setenv("CANCEL_PASSENGER_FEE_PCT", "120")

	_, err := LoadServerConfig()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "HTTP_READ_TIMEOUT")
	assert.Contains(t, msg, "PER_MILE_XOF")
	assert.Contains(t, msg, "COMMISSION_SCHEDULE")
	assert.Contains(t, msg, "passenger_fee_pct")
}

func TestLoadConsumerConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "driver-locations", cfg.KafkaTopic)

	t.Setenv("KAFKA_BROKER", "single:9092")
	t.Setenv("KAFKA_GROUP", "g2")
	cfg, err = LoadConsumerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"single:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "g2", cfg.KafkaGroup)

	t.Setenv("KAFKA_BROKER", " , ")
	_, err = LoadConsumerConfig()
	assert.Error(t, err)
}
