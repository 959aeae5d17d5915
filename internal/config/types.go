package config

// Config is the on-disk configuration. All delays are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Sync     SyncConfig     `json:"sync"`
	Campaign CampaignConfig `json:"campaign"`
}

type ServerConfig struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `json:"addr"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Path is the application database file.
	Path string `json:"path"`
	// BusyTimeout is a Go duration string; 0 means driver default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type WhatsAppConfig struct {
	// StorePath is the whatsmeow device-store database file, kept separate
	// from the application database.
	StorePath string `json:"store_path"`
}

// SyncConfig bounds the one-time history pull that runs when a session
// becomes ready. Conservative by default: startup cost stays predictable
// even for accounts with years of history.
type SyncConfig struct {
	MaxChats           int `json:"max_chats,omitempty"`
	MaxMessagesPerChat int `json:"max_messages_per_chat,omitempty"`
}

// CampaignConfig holds dispatcher defaults. Per-campaign pacing overrides
// these when set on the campaign itself.
//
// Defaults (when fields are omitted/zero):
//   - message_delay: "3s"
//   - batch_size: 20
//   - batch_delay: "30s"
//   - retry_max: 0 (auto-retry disabled)
//   - rate_per_sec: 10 (global ceiling across all campaigns)
//   - country_prefix: "91"
type CampaignConfig struct {
	MessageDelay string `json:"message_delay,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	BatchDelay   string `json:"batch_delay,omitempty"`
	JitterMin    string `json:"jitter_min,omitempty"`
	JitterMax    string `json:"jitter_max,omitempty"`
	RetryMax     int    `json:"retry_max,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`

	// CountryPrefix is prepended to bare local-format numbers during
	// target normalization.
	CountryPrefix string `json:"country_prefix,omitempty"`
}
