package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/mali-ride/internal/cancellation"
	"github.com/example/mali-ride/internal/commission"
	"github.com/example/mali-ride/internal/ingest"
	"github.com/example/mali-ride/internal/pricing"
	"github.com/example/mali-ride/internal/routing"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults so the binary
// runs locally with nothing but an in-memory store and haversine distances.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers       []string
	KafkaLocationTopic string
	KafkaTripTopic     string

	PGDSN string

	Routing      routing.Config
	Rates        pricing.Rates
	FareFloor    bool
	Schedule     string
	Cancellation cancellation.Policy

	// MatchRadiusMiles of zero disables the geo prefilter.
	MatchRadiusMiles float64
	WeeklyWindow     time.Duration
	// IndexResync is how often the geo index is rebuilt from the store; zero
	// rebuilds it only at startup.
	IndexResync      time.Duration

	StripeAPIKey string
	WebhookURL   string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaLocationTopic: ingest.DefaultLocationTopic,
		KafkaTripTopic:     ingest.DefaultTripTopic,
		Routing:            routing.DefaultConfig(),
		Rates:              pricing.DefaultRates,
		FareFloor:          true,
		Schedule:           commission.LaunchSchedule,
		Cancellation:       cancellation.DefaultPolicy(),
		WeeklyWindow:       7 * 24 * time.Hour,
		IndexResync:        5 * time.Minute,
		LogLevel:           "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaLocationTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaTripTopic, "KAFKA_TRIP_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setBoolFromEnv(&cfg.Routing.Enabled, "USE_REAL_ROUTING", &errs)
	if v := os.Getenv("ROUTING_PROVIDER"); v != "" {
		cfg.Routing.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	cfg.Routing.ORSAPIKey = strings.TrimSpace(os.Getenv("ORS_API_KEY"))
	setStringFromEnv(&cfg.Routing.ORSEndpoint, "ORS_ENDPOINT")
	cfg.Routing.GoogleAPIKey = strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY"))
	setStringFromEnv(&cfg.Routing.GoogleBaseURL, "GOOGLE_MAPS_BASE_URL")
	setStringFromEnv(&cfg.Routing.OSRMEndpoint, "OSRM_ENDPOINT")
	setDurationFromEnv(&cfg.Routing.Timeout, "ROUTING_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.Routing.CacheTTL, "ROUTING_CACHE_TTL", &errs)

	setInt64FromEnv(&cfg.Rates.BaseFare, "BASE_FARE_XOF", &errs)
	setInt64FromEnv(&cfg.Rates.PerMile, "PER_MILE_XOF", &errs)
	setBoolFromEnv(&cfg.FareFloor, "FARE_FLOOR", &errs)

	if v := os.Getenv("COMMISSION_SCHEDULE"); v != "" {
		cfg.Schedule = strings.ToLower(strings.TrimSpace(v))
	}

	setIntFromEnv(&cfg.Cancellation.PassengerFeePct, "CANCEL_PASSENGER_FEE_PCT", &errs)
	setIntFromEnv(&cfg.Cancellation.DriverFeePct, "CANCEL_DRIVER_FEE_PCT", &errs)
	setFloatFromEnv(&cfg.Cancellation.RatingPenalty, "CANCEL_RATING_PENALTY", &errs)
	setFloatFromEnv(&cfg.Cancellation.RatingFloor, "CANCEL_RATING_FLOOR", &errs)

	setFloatFromEnv(&cfg.MatchRadiusMiles, "MATCH_RADIUS_MILES", &errs)
	setDurationFromEnv(&cfg.WeeklyWindow, "WEEKLY_WINDOW", &errs)
	setDurationFromEnv(&cfg.IndexResync, "INDEX_RESYNC_INTERVAL", &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	cfg.WebhookURL = strings.TrimSpace(os.Getenv("DRIVER_WEBHOOK_URL"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.Rates.BaseFare < 0 || c.Rates.PerMile < 0 {
		errs = append(errs, fmt.Errorf("BASE_FARE_XOF and PER_MILE_XOF must be >= 0"))
	}
	if _, err := commission.Lookup(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("COMMISSION_SCHEDULE: %w", err))
	}
	if err := c.Cancellation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cancellation policy: %w", err))
	}
	if c.MatchRadiusMiles < 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_MILES must be >= 0"))
	}
	if c.IndexResync < 0 {
		errs = append(errs, fmt.Errorf("INDEX_RESYNC_INTERVAL must be >= 0"))
	}
	if c.WeeklyWindow <= 0 {
		errs = append(errs, fmt.Errorf("WEEKLY_WINDOW must be > 0"))
	}
	if c.Routing.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ROUTING_TIMEOUT must be > 0"))
	}
	return errs
}

// ConsumerConfig is the subset the location consumer needs.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   ingest.DefaultLocationTopic,
		KafkaGroup:   "mali-ride-location-consumer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_LOCATION_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setInt64FromEnv(target *int64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
