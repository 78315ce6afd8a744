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

	cfg := &Config{
		DefaultProfile: "work",
		Server: ServerConfig{
			APIURL: "https://chat.example.com/api",
			WSURL:  "wss://chat.example.com/ws",
		},
		Conn:     ConnConfig{KeepaliveSeconds: 30, ReconnectDelaySeconds: 5},
		Store:    StoreConfig{MaxMessages: 500},
		Presence: PresenceConfig{Capacity: 20},
	}
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
	if loaded.Server.WSURL != "wss://chat.example.com/ws" {
		t.Errorf("WSURL = %q", loaded.Server.WSURL)
	}
	if loaded.Conn.Keepalive() != 30*time.Second {
		t.Errorf("Keepalive = %v, want 30s", loaded.Conn.Keepalive())
	}
	if loaded.Store.MaxMessages != 500 {
		t.Errorf("MaxMessages = %d, want 500", loaded.Store.MaxMessages)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestZeroDurationsMeanDefaults(t *testing.T) {
	var cfg ConnConfig
	if cfg.Keepalive() != 0 || cfg.ReconnectDelay() != 0 {
		t.Error("zero config should map to zero durations")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
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
