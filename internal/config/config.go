package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Realtime RealtimeConfig
	LogLevel slog.Level
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	DSN string
}

// RedisConfig is optional; an empty Addr runs a single instance without Redis.
type RedisConfig struct {
	Addr    string
	Channel string
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
}

type RealtimeConfig struct {
	AllowedOrigins []string
	HandlerTimeout time.Duration
	MaxMessageSize int64
	MaxInFlight    int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDR", ":3200")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("DB_DSN", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_TTL", 24*time.Hour)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_CHANNEL", "realtime:fanout")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173")
	v.SetDefault("HANDLER_TIMEOUT", 10*time.Second)
	v.SetDefault("MAX_MESSAGE_SIZE", 8192)
	v.SetDefault("MAX_IN_FLIGHT", 8)
	v.SetDefault("LOG_LEVEL", "info")
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	// REDIS_ADDR= must mean "no redis", not "use the default".
	v.AllowEmptyEnv(true)
	v.AutomaticEnv()
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("SERVER_ADDR"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("DB_DSN"),
		},
		Redis: RedisConfig{
			Addr:    v.GetString("REDIS_ADDR"),
			Channel: v.GetString("REDIS_CHANNEL"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("JWT_SECRET"),
			TTL:    v.GetDuration("JWT_TTL"),
		},
		Realtime: RealtimeConfig{
			AllowedOrigins: ParseOrigins(v.GetString("ALLOWED_ORIGINS")),
			HandlerTimeout: v.GetDuration("HANDLER_TIMEOUT"),
			MaxMessageSize: v.GetInt64("MAX_MESSAGE_SIZE"),
			MaxInFlight:    v.GetInt64("MAX_IN_FLIGHT"),
		},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is not set"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}
	if c.Realtime.HandlerTimeout <= 0 {
		errs = append(errs, errors.New("HANDLER_TIMEOUT must be positive"))
	}
	if c.Realtime.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_SIZE must be positive"))
	}
	if c.Realtime.MaxInFlight <= 0 {
		errs = append(errs, errors.New("MAX_IN_FLIGHT must be positive"))
	}
	return errors.Join(errs...)
}

// ParseOrigins splits a comma separated origin list, dropping blanks.
func ParseOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
