package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/mali-ride/internal/config"
	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/ingest"
	"github.com/example/mali-ride/internal/logging"
	"github.com/example/mali-ride/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Driver location messages read from Kafka",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Location messages skipped as malformed",
	})
	applyErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_apply_errors_total",
		Help: "Location messages that could not be applied after retries",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, applyErrors)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()
	go serveOps(cfg.MetricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer r.Close()

	applier := ingest.NewLocationApplier(geo.NewRedisGeo(rc, cfg.RedisGeoKey), &ingest.RedisMeta{C: rc}, logger)
	c := newConsumer(r, applier.Handle, logger)
	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	c.run(ctx)
	logger.Info("consumer stopped")
}

func serveOps(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type handlerFunc func(ctx context.Context, value []byte) error

type consumer struct {
	reader     messageReader
	handle     handlerFunc
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func newConsumer(r messageReader, h handlerFunc, logger *slog.Logger) *consumer {
	return &consumer{reader: r, handle: h, logger: logger, minBackoff: time.Second, maxBackoff: 30 * time.Second}
}

// run reads until ctx is cancelled. Read errors back off exponentially;
// malformed messages are skipped.
func (c *consumer) run(ctx context.Context) {
	backoff := c.minBackoff
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff
		msgsConsumed.Inc()

		if err := c.handle(ctx, m.Value); err != nil {
			if errors.Is(err, models.ErrInvalidInput) {
				msgsInvalid.Inc()
				c.logger.Warn("invalid location message", "offset", m.Offset, "error", err)
				continue
			}
			applyErrors.Inc()
			c.logger.Error("location apply failed", "offset", m.Offset, "error", err)
		}
	}
}
