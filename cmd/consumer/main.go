package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/order-engine/internal/config"
	"github.com/example/order-engine/internal/geo"
	"github.com/example/order-engine/internal/logging"
	"github.com/example/order-engine/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

var errInvalidSample = errors.New("invalid location sample")

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

func main() {
	_ = godotenv.Load()
	cfg := config.LoadConsumerConfig()
	logger := logging.NewLogger(cfg.LogLevel).With("component", "location-consumer")

	mirror := geo.NewRedisMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := mirror.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
		})
		logger.Info("metrics_listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics_server_stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.LocationsTopic,
		GroupID:  cfg.Group,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = mirror.Close()
	}()

	logger.Info("consumer_started", "topic", cfg.LocationsTopic, "brokers", cfg.KafkaBrokers, "group", cfg.Group)
	if err := consume(ctx, r, mirror, logger); err != nil {
		logger.Error("consumer_failed", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer_stopped")
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// LocationWriter is the part of the Redis mirror the consumer writes through.
type LocationWriter interface {
	MirrorLocation(ctx context.Context, s models.LocationSample) error
}

// consume runs until ctx is cancelled. Read errors back off exponentially.
func consume(ctx context.Context, r messageReader, w LocationWriter, logger *slog.Logger) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka_read_failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		s, err := decodeSample(m)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid_message", "offset", m.Offset, "error", err)
			continue
		}
		if err := mirrorWithRetry(ctx, w, s, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis_update_failed", "driver_id", s.DriverID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

// decodeSample parses a sample published by the API. The message key carries
// the driver id when the payload omits it.
func decodeSample(m kafka.Message) (models.LocationSample, error) {
	var s models.LocationSample
	if err := json.Unmarshal(m.Value, &s); err != nil {
		return s, fmt.Errorf("%w: %w", errInvalidSample, err)
	}
	if s.DriverID == "" {
		s.DriverID = string(m.Key)
	}
	switch {
	case s.DriverID == "":
		return s, fmt.Errorf("%w: missing driver id", errInvalidSample)
	case !s.Coord().Valid():
		return s, fmt.Errorf("%w: coordinates out of range", errInvalidSample)
	}
	return s, nil
}

// mirrorWithRetry writes s with retry and doubling delay.
func mirrorWithRetry(ctx context.Context, w LocationWriter, s models.LocationSample, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.MirrorLocation(ctx, s); err == nil {
			return nil
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
