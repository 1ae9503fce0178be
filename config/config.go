package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string            `yaml:"env" env:"PUSHSYNC_ENV" env-default:"development"`
	Stream      StreamConfig      `yaml:"stream"`
	Keepalive   KeepaliveConfig   `yaml:"keepalive"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Confirm     ConfirmConfig     `yaml:"confirm"`
	Features    FeaturesConfig    `yaml:"features"`
	Display     DisplayConfig     `yaml:"display"`
	CacheConfig CacheConfig       `yaml:"cache"`
	SecureStore SecureStoreConfig `yaml:"secure_store"`
	ControlAPI  ControlAPIConfig  `yaml:"control_api"`
	TokenSync   TokenSyncConfig   `yaml:"token_sync"`
	FCMConfig   FCMConfig         `yaml:"fcm_config"`
}

type StreamConfig struct {
	URL              string        `yaml:"url" env:"PUSHSYNC_STREAM_URL" env-default:"ws://127.0.0.1:8080/v1/stream"`
	TokenInQuery     bool          `yaml:"token_in_query" env-default:"false"` // otherwise Authorization: Bearer
	TokenQueryParam  string        `yaml:"token_query_param" env-default:"token"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" env-default:"10s"`
	WriteWait        time.Duration `yaml:"write_wait" env-default:"10s"`
	MaxMessageSize   int64         `yaml:"max_message_size" env-default:"65536"`
	SendBuffer       int           `yaml:"send_buffer" env-default:"64"`
}

type KeepaliveConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval" env-default:"30s"`
	HealthInterval time.Duration `yaml:"health_interval" env-default:"60s"`
	AckTimeout     time.Duration `yaml:"ack_timeout" env-default:"10s"`
	MaxPending     int           `yaml:"max_pending" env-default:"3"`
	ProbeMarker    string        `yaml:"probe_marker" env-default:"ping"`
	AckMarker      string        `yaml:"ack_marker" env-default:"pong"`
}

type ReconnectConfig struct {
	ForegroundInterval time.Duration `yaml:"foreground_interval" env-default:"5s"`
	BackgroundInterval time.Duration `yaml:"background_interval" env-default:"30s"`
}

type LifecycleConfig struct {
	SettleDelay       time.Duration `yaml:"settle_delay" env-default:"300ms"`
	ActiveVerifyDelay time.Duration `yaml:"active_verify_delay" env-default:"1s"`
	GrantBudget       time.Duration `yaml:"grant_budget" env-default:"25s"`
}

type LedgerConfig struct {
	Capacity int    `yaml:"capacity" env-default:"1000"`
	Backend  string `yaml:"backend" env:"PUSHSYNC_LEDGER_BACKEND" env-default:"leveldb"` // leveldb | redis | memory
	Path     string `yaml:"path" env-default:"data/ledger"`
	RedisKey string `yaml:"redis_key" env-default:"pushsync:ledger"`
}

type ConfirmConfig struct {
	BaseURL string        `yaml:"base_url" env:"PUSHSYNC_CONFIRM_URL" env-default:"http://127.0.0.1:8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"15s"`
}

type FeaturesConfig struct {
	RealtimeEnabled      bool `yaml:"realtime_enabled" env-default:"true"`
	NotificationFallback bool `yaml:"notification_fallback" env-default:"true"`
}

type DisplayConfig struct {
	FallbackTitle     string `yaml:"fallback_title" env-default:"New message"`
	FallbackBody      string `yaml:"fallback_body" env-default:"You have a new message"`
	PermissionGranted bool   `yaml:"permission_granted" env-default:"true"`
}

type CacheConfig struct {
	Address string `yaml:"address" env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
	Db      int    `yaml:"db"`
}

type SecureStoreConfig struct {
	Path     string `yaml:"path" env-default:"data/secure.json"`
	TokenKey string `yaml:"token_key" env-default:"client_token"`
}

type ControlAPIConfig struct {
	Address        string        `yaml:"address" env-default:"127.0.0.1:8787"`
	Timeout        time.Duration `yaml:"timeout" env-default:"5s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RatePerMinute  int           `yaml:"rate_per_minute" env-default:"120"`
	Key            string        `yaml:"key" env:"PUSHSYNC_CONTROL_KEY"`
}

type TokenSyncConfig struct {
	Schedule string `yaml:"schedule" env-default:"@every 1m"`
}

type FCMConfig struct {
	ProjectID                 string `yaml:"project_id"`
	ServiceAccountKeyJSONPath string `yaml:"service_account_key_json_path" env:"FCM_CREDENTIALS"`
}

// Default returns the configuration built from env-default tags and the environment, without a file.
func Default() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Printf("config: reading environment defaults: %v", err)
	}
	return &cfg
}

func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	}
	return &cfg, nil
}

func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/local.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}
	return cfg
}
