// Package config loads server settings from CHAT_* environment variables.
package config

import (
	"time"

	"github.com/caarlos0/env/v7"
	"github.com/pkg/errors"
)

const envPrefix = "CHAT_"

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DBDSN    string `env:"DB_DSN"    envDefault:"chatty.db"`

	// RedisAddr empty disables the membership cache.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"       envDefault:"0"`
	RedisTTL      time.Duration `env:"REDIS_TTL"      envDefault:"10m"`

	WSReadBuffer     int      `env:"WS_READ_BUFFER"      envDefault:"1024"`
	WSWriteBuffer    int      `env:"WS_WRITE_BUFFER"     envDefault:"1024"`
	WSMaxMessageSize int64    `env:"WS_MAX_MESSAGE_SIZE" envDefault:"65536"`
	WSSendBuffer     int      `env:"WS_SEND_BUFFER"      envDefault:"256"`
	WSOrigins        []string `env:"WS_ORIGIN"           envSeparator:","`

	// RequestTimeout bounds each store call; zero means no bound.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"0"`
	// SIDSecret, when set, requires HMAC-signed sids on /ws.
	SIDSecret string `env:"SID_SECRET"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return errors.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}
	if c.WSReadBuffer <= 0 || c.WSWriteBuffer <= 0 || c.WSSendBuffer <= 0 {
		return errors.New("websocket buffer sizes must be positive")
	}
	if c.WSMaxMessageSize <= 0 {
		return errors.New("WS_MAX_MESSAGE_SIZE must be positive")
	}
	if c.RequestTimeout < 0 || c.RedisTTL < 0 {
		return errors.New("durations must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return errors.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}
