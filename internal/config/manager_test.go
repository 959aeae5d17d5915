package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":9090"
storage:
  path: ./app.db
  busy_timeout: 2s
whatsapp:
  store_path: ./devices.db
sync:
  max_chats: 5
campaign:
  message_delay: 1s
  batch_size: 10
  country_prefix: "44"
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Sync.MaxChats != 5 || cfg.Campaign.BatchSize != 10 {
		t.Fatalf("numbers lost: %+v", cfg)
	}
	if cfg.Campaign.CountryPrefix != "44" {
		t.Fatalf("prefix = %q", cfg.Campaign.CountryPrefix)
	}
}

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "server": {"addr": ":8080"},
  "storage": {"path": "./app.db"},
  "whatsapp": {"store_path": "./devices.db"}
}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":8080" || cfg.WhatsApp.StorePath != "./devices.db" {
		t.Fatalf("parsed: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  addr: ":8080"
  port: 8080
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"server":{"addr":":8080"}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("trailing data accepted")
	}
}

func TestParseDurationField(t *testing.T) {
	if _, err := ParseDurationField("x", "not-a-duration"); err == nil {
		t.Fatalf("garbage accepted")
	}
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("parse: d=%v err=%v", d, err)
	}
}
