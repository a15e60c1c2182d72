package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends accepted by STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ServerConfig captures all tunable parameters for the client process.
// Defaults are overlaid by an optional YAML file and then by environment
// variables, so the binary runs locally without any setup.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	APIBaseURL    string        `yaml:"api_base_url"`
	AuthBaseURL   string        `yaml:"auth_base_url"`
	GeocoderURL   string        `yaml:"geocoder_url"`
	RouterURL     string        `yaml:"router_url"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`

	SessionWindow      time.Duration `yaml:"session_window"`
	HistoryConcurrency int           `yaml:"history_concurrency"`
	RecentRidesLimit   int           `yaml:"recent_rides_limit"`
	GeocodeCacheTTL    time.Duration `yaml:"geocode_cache_ttl"`

	StoreBackend  string `yaml:"store_backend"`
	StorePrefix   string `yaml:"store_prefix"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	PGDSN         string `yaml:"pg_dsn"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	LogLevel      string `yaml:"log_level"`
	RunMigrations bool   `yaml:"run_migrations"`
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		APIBaseURL:         "https://us-central1-corota-fe133.cloudfunctions.net/api",
		GeocoderURL:        "https://photon.komoot.io",
		RouterURL:          "https://routing.openstreetmap.de/routed-car",
		RemoteTimeout:      10 * time.Second,
		SessionWindow:      time.Hour,
		HistoryConcurrency: 8,
		RecentRidesLimit:   3,
		GeocodeCacheTTL:    10 * time.Minute,
		StoreBackend:       BackendMemory,
		StorePrefix:        "carona:v1:",
		KafkaTopic:         "ride-client-events",
		LogLevel:           "info",
	}
}

// LoadServerConfig reads configuration from the YAML file at path (skipped
// when empty) and the environment. CONFIG_FILE is consulted when path is empty.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if path == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			errs = append(errs, err)
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.AuthBaseURL, "AUTH_BASE_URL")
	setStringFromEnv(&cfg.GeocoderURL, "GEOCODER_URL")
	setStringFromEnv(&cfg.RouterURL, "ROUTER_URL")
	setDurationFromEnv(&cfg.RemoteTimeout, "REMOTE_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.SessionWindow, "SESSION_WINDOW", &errs)
	setIntFromEnv(&cfg.HistoryConcurrency, "HISTORY_CONCURRENCY", &errs)
	setIntFromEnv(&cfg.RecentRidesLimit, "RECENT_RIDES_LIMIT", &errs)
	setDurationFromEnv(&cfg.GeocodeCacheTTL, "GEOCODE_CACHE_TTL", &errs)

	if v := strings.TrimSpace(os.Getenv("STORE_BACKEND")); v != "" {
		cfg.StoreBackend = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.StorePrefix, "STORE_PREFIX")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	setStringFromEnv(&cfg.PGDSN, "PG_DSN")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("MIGRATE"); v != "" {
		cfg.RunMigrations = strings.EqualFold(v, "true")
	}

	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = cfg.APIBaseURL
	}

	errs = append(errs, cfg.Validate())
	return cfg, errors.Join(errs...)
}

// Validate reports every inconsistent setting, naming the env key involved.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.HistoryConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_CONCURRENCY must be > 0"))
	}
	if c.RecentRidesLimit <= 0 {
		errs = append(errs, fmt.Errorf("RECENT_RIDES_LIMIT must be > 0"))
	}
	if c.SessionWindow <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_WINDOW must be > 0"))
	}
	if c.APIBaseURL == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL is required"))
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=redis"))
		}
	case BackendPostgres:
		if c.PGDSN == "" {
			errs = append(errs, fmt.Errorf("PG_DSN is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	return errors.Join(errs...)
}

func loadFile(path string, cfg *ServerConfig) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
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
