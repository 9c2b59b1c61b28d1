package geo

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/example/mali-ride/internal/models"
)

// RedisGeo implements Index using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	if key == "" {
		key = "drivers_geo"
	}
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, username string, loc models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: username}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", username, err)
	}
	return nil
}

func (r *RedisGeo) Remove(ctx context.Context, username string) error {
	return r.client.ZRem(ctx, r.key, username).Err()
}

func (r *RedisGeo) Within(ctx context.Context, center models.Coord, radiusMiles float64) ([]string, error) {
	res, err := r.client.GeoRadius(ctx, r.key, center.Lon, center.Lat, &redis.GeoRadiusQuery{
		Radius: radiusMiles,
		Unit:   "mi",
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("georadius: %w", err)
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}
