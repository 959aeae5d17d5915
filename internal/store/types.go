package store

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Config configures the application database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Canonical message types. Vendor type strings are normalized into this
// closed set by the synchronizer before anything is persisted.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
)

// Session mirrors the in-memory registry entry for one managed account.
// The registry is the source of truth while the process runs; rows exist
// so sessions survive restarts.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	AccountID string    `json:"account_id,omitempty"`
	QRCode    string    `json:"qr_code,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Contact is unique per (session_id, external_id).
type Contact struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name,omitempty"`
	IsGroup    bool      `json:"is_group"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	LastSeen   time.Time `json:"last_seen,omitempty"`
}

// Message is unique per (session_id, external_id); re-delivery of the same
// protocol event must not produce a second row.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	ExternalID string    `json:"external_id"`
	ChatID     string    `json:"chat_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	Type       string    `json:"type"`
	IsGroup    bool      `json:"is_group"`
	Author     string    `json:"author,omitempty"`      // group sender id
	SenderName string    `json:"sender_name,omitempty"` // contact enrichment, best-effort
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// Variant is one message text in a campaign's rotation. Weight only matters
// for the weighted template strategy; zero means equal weight.
type Variant struct {
	Text   string `json:"text"`
	Weight int    `json:"weight,omitempty"`
}

// Pacing controls campaign send rate: a delay (optionally jittered within
// [JitterMin, JitterMax]) after every message, plus a longer delay after
// every BatchSize messages.
type Pacing struct {
	MessageDelay time.Duration `json:"message_delay"`
	BatchSize    int           `json:"batch_size"`
	BatchDelay   time.Duration `json:"batch_delay"`
	JitterMin    time.Duration `json:"jitter_min,omitempty"`
	JitterMax    time.Duration `json:"jitter_max,omitempty"`
	RetryMax     int           `json:"retry_max,omitempty"`
}

// Campaign counters satisfy sent+failed+pending == len(Targets) from the
// moment dispatch starts. Targets are stored normalized and deduplicated.
type Campaign struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Variants         []Variant  `json:"variants"`
	Targets          []string   `json:"targets"`
	Sessions         []string   `json:"sessions"`
	SessionStrategy  string     `json:"session_strategy"`
	TemplateStrategy string     `json:"template_strategy"`
	Pacing           Pacing     `json:"pacing"`
	Status           string     `json:"status"`
	Sent             int        `json:"sent"`
	Failed           int        `json:"failed"`
	Pending          int        `json:"pending"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
