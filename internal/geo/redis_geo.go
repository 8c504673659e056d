package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/example/order-engine/internal/models"
)

// RedisMirror keeps a GEO read model of last-known driver positions for dashboards
// and the fleet map. It is never the source of truth for assignment.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

// NearbyDriver is a hit from the GEO index.
type NearbyDriver struct {
	DriverID   string       `json:"driver_id"`
	Loc        models.Coord `json:"loc"`
	DistanceKm float64      `json:"distance_km"`
	Updated    time.Time    `json:"updated"`
}

func (r *RedisMirror) MirrorLocation(ctx context.Context, s models.LocationSample) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: s.Lng, Latitude: s.Lat, Name: s.DriverID}).Result(); err != nil {
		return errors.Wrap(err, "redis geoadd")
	}
	meta := map[string]interface{}{"updated": s.Timestamp.UTC().Format(time.RFC3339Nano)}
	if s.Speed != nil {
		meta["speed"] = strconv.FormatFloat(*s.Speed, 'f', -1, 64)
	}
	if s.Heading != nil {
		meta["heading"] = strconv.FormatFloat(*s.Heading, 'f', -1, 64)
	}
	if err := r.client.HSet(ctx, MetaKey(s.DriverID), meta).Err(); err != nil {
		return errors.Wrap(err, "redis hset")
	}
	return nil
}

// ForgetDriver drops the driver from the GEO index, e.g. when they go offline.
func (r *RedisMirror) ForgetDriver(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return errors.Wrap(err, "redis zrem")
	}
	return nil
}

func (r *RedisMirror) Nearby(ctx context.Context, c models.Coord, radiusKm float64, limit int) ([]NearbyDriver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, c.Lng, c.Lat, &redis.GeoRadiusQuery{Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC"}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis georadius")
	}
	out := make([]NearbyDriver, 0, len(res))
	for _, g := range res {
		d := NearbyDriver{DriverID: g.Name, Loc: models.Coord{Lat: g.Latitude, Lng: g.Longitude}, DistanceKm: g.Dist}
		if v, err := r.client.HGet(ctx, MetaKey(g.Name), "updated").Result(); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				d.Updated = ts
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisMirror) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisMirror) Close() error { return r.client.Close() }

func MetaKey(id string) string { return "driver:meta:" + id }
