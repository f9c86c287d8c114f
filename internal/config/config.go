package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverRedis    = "redis"
	StoreDriverPostgres = "postgres"
)

type HTTPConfig struct {
	Host string
	Port int
}

type StoreConfig struct {
	Driver string
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type AuthConfig struct {
	AccessSecret string
}

type DispatchConfig struct {
	ConfirmationTimeout time.Duration
	DefaultFacilityLat  float64
	DefaultFacilityLng  float64
	PollInterval        time.Duration
	SweepInterval       time.Duration
	ReconcileInterval   time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Environment string
	LogLevel    string
	HTTP        HTTPConfig
	Store       StoreConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Dispatch    DispatchConfig
	Kafka       KafkaConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.SetDefault("STORE_DRIVER", StoreDriverMemory)
	v.SetDefault("CONFIRMATION_TIMEOUT", "30m")
	v.SetDefault("DEFAULT_FACILITY_LAT", 28.6139)
	v.SetDefault("DEFAULT_FACILITY_LNG", 77.2090)
	v.SetDefault("POLL_INTERVAL", "5s")
	v.SetDefault("REDIS_KEY_PREFIX", "dispatch:")
	v.SetDefault("KAFKA_TOPIC", "emergency-status")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("REDIS_ADDR"),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Dispatch: DispatchConfig{
			ConfirmationTimeout: v.GetDuration("CONFIRMATION_TIMEOUT"),
			DefaultFacilityLat:  v.GetFloat64("DEFAULT_FACILITY_LAT"),
			DefaultFacilityLng:  v.GetFloat64("DEFAULT_FACILITY_LNG"),
			PollInterval:        v.GetDuration("POLL_INTERVAL"),
			SweepInterval:       v.GetDuration("SWEEP_INTERVAL"),
			ReconcileInterval:   v.GetDuration("RECONCILE_INTERVAL"),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(v.GetString("KAFKA_BROKERS")),
			Topic:   v.GetString("KAFKA_TOPIC"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 7090
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	switch cfg.Store.Driver {
	case StoreDriverMemory, StoreDriverRedis:
	case StoreDriverPostgres:
		if cfg.DB.DSN == "" {
			return fmt.Errorf("DB_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", cfg.Store.Driver)
	}
	if cfg.Dispatch.ConfirmationTimeout <= 0 {
		return fmt.Errorf("CONFIRMATION_TIMEOUT must be positive")
	}
	if cfg.Dispatch.SweepInterval < 0 || cfg.Dispatch.ReconcileInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL and RECONCILE_INTERVAL must not be negative")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
