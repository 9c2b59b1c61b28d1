package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/mali-ride/internal/geo"
	"github.com/example/mali-ride/internal/models"
	"github.com/example/mali-ride/internal/observability"
)

// MetaWriter stores the small per-driver hash read by dashboards.
type MetaWriter interface {
	HSet(ctx context.Context, key string, values map[string]any) error
}

type RedisMeta struct{ C *redis.Client }

func (r *RedisMeta) HSet(ctx context.Context, key string, values map[string]any) error {
	return r.C.HSet(ctx, key, values).Err()
}

func metaKey(username string) string { return "driver:meta:" + username }

// LocationApplier consumes location messages and mirrors them into the
// geo index. Offline drivers are removed instead of moved.
type LocationApplier struct {
	Geo      geo.Index
	Meta     MetaWriter
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

func NewLocationApplier(index geo.Index, meta MetaWriter, logger *slog.Logger) *LocationApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocationApplier{Geo: index, Meta: meta, Attempts: 3, Delay: 200 * time.Millisecond, Logger: logger}
}

// Handle decodes one message value. Malformed messages return an
// models.ErrInvalidInput error and should be skipped, not retried.
func (a *LocationApplier) Handle(ctx context.Context, value []byte) error {
	var u LocationUpdate
	if err := json.Unmarshal(value, &u); err != nil {
		return &models.InputError{Field: "message", Reason: err.Error()}
	}
	if err := u.Validate(); err != nil {
		return err
	}
	if err := a.applyWithRetry(ctx, u); err != nil {
		return fmt.Errorf("apply location for %s: %w", u.Username, err)
	}
	observability.LocationUpdates.WithLabelValues("kafka").Inc()
	return nil
}

func (a *LocationApplier) applyWithRetry(ctx context.Context, u LocationUpdate) error {
	attempts := a.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := a.Delay
	var err error
	for i := 0; i < attempts; i++ {
		if err = a.apply(ctx, u); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		a.Logger.Warn("location apply failed, retrying", "driver", u.Username, "attempt", i+1, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

func (a *LocationApplier) apply(ctx context.Context, u LocationUpdate) error {
	if u.Status == models.DriverOffline {
		if err := a.Geo.Remove(ctx, u.Username); err != nil {
			return err
		}
	} else if err := a.Geo.Upsert(ctx, u.Username, u.Loc); err != nil {
		return err
	}
	if a.Meta == nil {
		return nil
	}
	return a.Meta.HSet(ctx, metaKey(u.Username), map[string]any{
		"status": string(u.Status),
		"city":   u.City,
		"rating": u.Rating,
		"at":     u.At.Unix(),
	})
}
