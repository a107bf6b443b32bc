package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml. The client and the
// daemon read the same file; each uses its own sections.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Client   ClientConfig   `toml:"client"`
	Daemon   DaemonConfig   `toml:"daemon"`
	Redis    RedisConfig    `toml:"redis"`
	Blob     BlobConfig     `toml:"blob"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Presence PresenceConfig `toml:"presence"`
}

// ClientConfig is how clients reach the daemon.
type ClientConfig struct {
	// Addr is "unix:<path>" or "host:port". Empty means the local daemon
	// socket.
	Addr        string        `toml:"addr"`
	CallTimeout time.Duration `toml:"call_timeout"`
	LiveWindow  int           `toml:"live_window"`
	PageSize    int           `toml:"page_size"`
}

// DaemonConfig configures chatsyncd.
type DaemonConfig struct {
	// Store is "sqlite", "mongo" or "memory".
	Store             string        `toml:"store"`
	MongoURI          string        `toml:"mongo_uri"`
	MongoDB           string        `toml:"mongo_database"`
	MongoChangeStream bool          `toml:"mongo_change_stream"`
	Listen            string        `toml:"listen"` // TCP address in addition to the unix socket, optional
	MetricsAddr       string        `toml:"metrics_addr"`
	JWTSecret         string        `toml:"jwt_secret"`
	TokenTTL          time.Duration `toml:"token_ttl"`
}

// RedisConfig enables Redis presence leases. Empty Addr keeps leases in
// memory.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// BlobConfig selects the attachment store. Empty Endpoint stores files in
// the daemon data directory.
type BlobConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// KafkaConfig enables the notification bridge when Brokers is set.
type KafkaConfig struct {
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// PresenceConfig tunes heartbeats and the stale-presence sweeper.
type PresenceConfig struct {
	Heartbeat     time.Duration `toml:"heartbeat"`
	LeaseTTL      time.Duration `toml:"lease_ttl"`
	SweepInterval time.Duration `toml:"sweep_interval"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Client: ClientConfig{
			CallTimeout: 10 * time.Second,
			LiveWindow:  50,
			PageSize:    20,
		},
		Daemon: DaemonConfig{
			Store:    "sqlite",
			MongoDB:  "chatsync",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Redis: RedisConfig{Prefix: "chatsync"},
		Blob:  BlobConfig{Bucket: "chatsync"},
		Kafka: KafkaConfig{Topic: "chatsync.messages"},
		Presence: PresenceConfig{
			Heartbeat:     30 * time.Second,
			LeaseTTL:      90 * time.Second,
			SweepInterval: 30 * time.Second,
		},
	}
}

// Load reads config from the given path on top of Default. Returns nil and
// the error if the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to Default when the file does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Daemon.Store {
	case "sqlite", "memory":
	case "mongo":
		if c.Daemon.MongoURI == "" {
			return fmt.Errorf("daemon.store = mongo requires daemon.mongo_uri")
		}
	default:
		return fmt.Errorf("daemon.store: unknown backend %q", c.Daemon.Store)
	}
	if c.Presence.Heartbeat <= 0 || c.Presence.LeaseTTL < c.Presence.Heartbeat {
		return fmt.Errorf("presence: lease_ttl must be at least one heartbeat")
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.Topic) == "" {
		return fmt.Errorf("kafka: topic required with brokers")
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
