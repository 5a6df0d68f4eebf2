// Package config loads runtime settings from an optional YAML file, a .env
// file and TASKRELAY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TASKRELAY"

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Album    AlbumConfig    `mapstructure:"album"`
	Media    MediaConfig    `mapstructure:"media"`
	Session  SessionConfig  `mapstructure:"session"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Bot      BotConfig      `mapstructure:"bot"`
	Log      LogConfig      `mapstructure:"log"`
	Web      WebConfig      `mapstructure:"web"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelegramConfig struct {
	Token         string        `mapstructure:"token"`
	APIRoot       string        `mapstructure:"api_root"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	PollTimeout   time.Duration `mapstructure:"poll_timeout"`
}

type ChatConfig struct {
	ID      int64 `mapstructure:"id"`
	TopicID int64 `mapstructure:"topic_id"`
}

// AlbumConfig routes attachments to a separate chat. Zero keeps them next
// to the task card.
type AlbumConfig struct {
	ChatID  int64 `mapstructure:"chat_id"`
	TopicID int64 `mapstructure:"topic_id"`
}

type MediaConfig struct {
	PublicBaseURL string `mapstructure:"public_base_url"`
	UploadDir     string `mapstructure:"upload_dir"`
	ScratchDir    string `mapstructure:"scratch_dir"`
	MaxPhotoBytes int64  `mapstructure:"max_photo_bytes"`
}

type SessionConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

type RelayConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryBase  time.Duration `mapstructure:"retry_base"`
	RetryMax   time.Duration `mapstructure:"retry_max"`
}

type BotConfig struct {
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type WebConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.api_root", "https://api.telegram.org")
	v.SetDefault("telegram.rate_per_second", 25.0)
	v.SetDefault("telegram.burst", 5)
	v.SetDefault("telegram.poll_timeout", 30*time.Second)
	v.SetDefault("chat.id", 0)
	v.SetDefault("chat.topic_id", 0)
	v.SetDefault("album.chat_id", 0)
	v.SetDefault("album.topic_id", 0)
	v.SetDefault("media.public_base_url", "")
	v.SetDefault("media.upload_dir", "./uploads")
	v.SetDefault("media.scratch_dir", os.TempDir())
	v.SetDefault("media.max_photo_bytes", 10<<20)
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.capacity", 10_000)
	v.SetDefault("relay.workers", 4)
	v.SetDefault("relay.max_retries", 3)
	v.SetDefault("relay.retry_base", 2*time.Second)
	v.SetDefault("relay.retry_max", time.Minute)
	v.SetDefault("bot.max_reconnects", 8)
	v.SetDefault("bot.initial_backoff", time.Second)
	v.SetDefault("bot.max_backoff", time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("web.base_url", "")
}

// Load reads configuration. path may be empty; TASKRELAY_CONFIG is used
// then, and no file at all is fine.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ValidateServe checks the settings the server cannot start without.
func (c *Config) ValidateServe() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if c.Chat.ID == 0 {
		errs = append(errs, errors.New("chat.id is required"))
	}
	return errors.Join(errs...)
}
