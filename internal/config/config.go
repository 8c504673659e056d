package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// ServerConfig captures all tunable parameters for the API process. Defaults
// are overlaid by an optional YAML file (CONFIG_PATH) and then by environment
// variables, so the binary runs locally without any setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisGeoKey   string `yaml:"redis_geo_key"`

	KafkaBrokers        []string `yaml:"kafka_brokers"`
	KafkaEventsTopic    string   `yaml:"kafka_events_topic"`
	KafkaLocationsTopic string   `yaml:"kafka_locations_topic"`

	PGDSN         string `yaml:"pg_dsn"`
	RunMigrations bool   `yaml:"migrate"`
	MigrationsDir string `yaml:"migrations_dir"`

	DriverConcurrencyCap int           `yaml:"driver_concurrency_cap"`
	LocationFreshness    time.Duration `yaml:"location_freshness"`
	LocationTrail        int           `yaml:"location_trail"`
	BroadcastWindow      time.Duration `yaml:"broadcast_window"`
	BroadcastTopN        int           `yaml:"broadcast_top_n"`
	ETAAverageSpeedKmh   float64       `yaml:"eta_average_speed_kmh"`
	ETAFallbackMinutes   int           `yaml:"eta_fallback_minutes"`
	ETAUseObservedSpeed  bool          `yaml:"eta_use_observed_speed"`
	StatusLocale         string        `yaml:"status_locale"`

	WSPingInterval time.Duration `yaml:"ws_ping_interval"`
	WSPongWait     time.Duration `yaml:"ws_pong_wait"`
	WSSendBuffer   int           `yaml:"ws_send_buffer"`

	JWTSecret string `yaml:"jwt_secret"`
	LogLevel  string `yaml:"log_level"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		RedisGeoKey:          "drivers_geo",
		KafkaEventsTopic:     "order-events",
		KafkaLocationsTopic:  "driver-locations",
		MigrationsDir:        "migrations",
		DriverConcurrencyCap: 1,
		LocationFreshness:    2 * time.Minute,
		LocationTrail:        5,
		BroadcastWindow:      2 * time.Minute,
		BroadcastTopN:        8,
		ETAAverageSpeedKmh:   30,
		ETAFallbackMinutes:   15,
		StatusLocale:         "en",
		WSPingInterval:       30 * time.Second,
		WSPongWait:           60 * time.Second,
		WSSendBuffer:         64,
		LogLevel:             "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v, ok := os.LookupEnv("REDIS_PASSWORD"); ok {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaLocationsTopic, "KAFKA_LOCATIONS_TOPIC")

	setStringFromEnv(&cfg.PGDSN, "PG_DSN")
	setBoolFromEnv(&cfg.RunMigrations, "MIGRATE", &errs)
	setStringFromEnv(&cfg.MigrationsDir, "MIGRATIONS_DIR")

	setIntFromEnv(&cfg.DriverConcurrencyCap, "DRIVER_CONCURRENCY_CAP", &errs)
	setDurationFromEnv(&cfg.LocationFreshness, "LOCATION_FRESHNESS", &errs)
	setIntFromEnv(&cfg.LocationTrail, "LOCATION_TRAIL", &errs)
	setDurationFromEnv(&cfg.BroadcastWindow, "BROADCAST_WINDOW", &errs)
	setIntFromEnv(&cfg.BroadcastTopN, "BROADCAST_TOP_N", &errs)
	setFloatFromEnv(&cfg.ETAAverageSpeedKmh, "ETA_AVERAGE_SPEED_KMH", &errs)
	setIntFromEnv(&cfg.ETAFallbackMinutes, "ETA_FALLBACK_MINUTES", &errs)
	setBoolFromEnv(&cfg.ETAUseObservedSpeed, "ETA_USE_OBSERVED_SPEED", &errs)
	setStringFromEnv(&cfg.StatusLocale, "STATUS_LOCALE")

	setDurationFromEnv(&cfg.WSPingInterval, "WS_PING_INTERVAL", &errs)
	setDurationFromEnv(&cfg.WSPongWait, "WS_PONG_WAIT", &errs)
	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)

	if v, ok := os.LookupEnv("JWT_SECRET"); ok {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.DriverConcurrencyCap <= 0 {
		errs = append(errs, fmt.Errorf("DRIVER_CONCURRENCY_CAP must be > 0"))
	}
	if c.LocationTrail <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_TRAIL must be > 0"))
	}
	if c.BroadcastTopN <= 0 {
		errs = append(errs, fmt.Errorf("BROADCAST_TOP_N must be > 0"))
	}
	if c.BroadcastWindow <= 0 {
		errs = append(errs, fmt.Errorf("BROADCAST_WINDOW must be > 0"))
	}
	if c.ETAAverageSpeedKmh <= 0 {
		errs = append(errs, fmt.Errorf("ETA_AVERAGE_SPEED_KMH must be > 0"))
	}
	if c.WSPingInterval >= c.WSPongWait {
		errs = append(errs, fmt.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_PONG_WAIT (%s)", c.WSPingInterval, c.WSPongWait))
	}
	return errs
}

// ConsumerConfig configures the location ingest worker.
type ConsumerConfig struct {
	KafkaBrokers   []string
	LocationsTopic string
	Group          string
	RedisAddr      string
	RedisPassword  string
	RedisGeoKey    string
	MetricsAddr    string
	LogLevel       string
}

func LoadConsumerConfig() ConsumerConfig {
	cfg := ConsumerConfig{
		KafkaBrokers:   []string{"localhost:9092"},
		LocationsTopic: "driver-locations",
		Group:          "order-engine-locations",
		RedisAddr:      "localhost:6379",
		RedisGeoKey:    "drivers_geo",
		MetricsAddr:    ":2112",
		LogLevel:       "info",
	}
	if brokers := splitAndTrim(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.KafkaBrokers = brokers
	}
	setStringFromEnv(&cfg.LocationsTopic, "KAFKA_LOCATIONS_TOPIC")
	setStringFromEnv(&cfg.Group, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")
	return cfg
}

func loadYAML(path string, cfg *ServerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return nil
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

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
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
