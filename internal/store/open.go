package store

import (
	"context"
	"time"

	"whatspro/pkg/logx"
)

// Store is the persistence API consumed by the session, history and
// campaign services: insert, update-by-key, filtered scan. No business
// logic lives here.
type Store interface {
	SaveSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	// DeleteSession removes the row and cascades contacts and messages.
	DeleteSession(ctx context.Context, id string) error

	UpsertContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, sessionID, externalID string) (*Contact, error)
	ListContacts(ctx context.Context, sessionID string) ([]Contact, error)

	// InsertMessage reports false when (session_id, external_id) already
	// exists; the row is left untouched in that case.
	InsertMessage(ctx context.Context, m *Message) (bool, error)
	ListMessages(ctx context.Context, sessionID, chatID string, limit int) ([]Message, error)

	SaveCampaign(ctx context.Context, c *Campaign) error
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	// UpdateCampaignProgress persists counters and status by key.
	UpdateCampaignProgress(ctx context.Context, id string, sent, failed, pending int, status string) error
	// ListDueCampaigns returns scheduled campaigns whose start time has passed.
	ListDueCampaigns(ctx context.Context, now time.Time) ([]Campaign, error)

	Close() error
}

// Open initializes the sqlite-backed store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
