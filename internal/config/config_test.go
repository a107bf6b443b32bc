package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Presence.Heartbeat = 5 * time.Second
	cfg.Presence.LeaseTTL = 15 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if len(loaded.Kafka.Brokers) != 1 || loaded.Kafka.Topic != "chatsync.messages" {
		t.Errorf("Kafka = %+v", loaded.Kafka)
	}
	if loaded.Presence.Heartbeat != 5*time.Second {
		t.Errorf("Heartbeat = %v", loaded.Presence.Heartbeat)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "default_profile = \"alt\"\n\n[daemon]\nmetrics_addr = \":9100\"\n\n[presence]\nheartbeat = \"10s\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Daemon.Store != "sqlite" || cfg.Daemon.MetricsAddr != ":9100" {
		t.Errorf("Daemon = %+v", cfg.Daemon)
	}
	if cfg.Presence.Heartbeat != 10*time.Second || cfg.Presence.LeaseTTL != 90*time.Second {
		t.Errorf("Presence = %+v", cfg.Presence)
	}
	if cfg.Client.PageSize != 20 {
		t.Errorf("PageSize = %d", cfg.Client.PageSize)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"mongo without uri", func(c *Config) { c.Daemon.Store = "mongo" }, true},
		{"mongo with uri", func(c *Config) {
			c.Daemon.Store = "mongo"
			c.Daemon.MongoURI = "mongodb://localhost"
		}, false},
		{"unknown store", func(c *Config) { c.Daemon.Store = "postgres" }, true},
		{"short lease", func(c *Config) { c.Presence.LeaseTTL = time.Second }, true},
		{"brokers without topic", func(c *Config) {
			c.Kafka.Brokers = []string{"k:9092"}
			c.Kafka.Topic = ""
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil || cfg.DefaultProfile != "main" {
		t.Errorf("LoadOrDefault() = %+v, %v", cfg, err)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
