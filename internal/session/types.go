package session

import (
	"context"
	"errors"

	"whatspro/internal/wa"
)

// Lifecycle states. Transitions are driven only by the Controller:
// initializing -> awaiting_handshake -> ready, ready -> disconnected,
// any non-terminal -> auth_failed, and disconnected -> initializing on
// restart. The QR payload is non-empty iff the state is awaiting_handshake.
const (
	StatusInitializing      = "initializing"
	StatusAwaitingHandshake = "awaiting_handshake"
	StatusReady             = "ready"
	StatusDisconnected      = "disconnected"
	StatusAuthFailed        = "auth_failed"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrNotReady = errors.New("session not ready")
	ErrExists   = errors.New("session already registered")
)

// Syncer is the slice of the synchronizer the controller needs: live
// ingestion plus the one-time bounded history pull.
type Syncer interface {
	Ingest(ctx context.Context, sessionID string, msg wa.InboundMessage) (bool, error)
	PullRecent(ctx context.Context, sessionID string, h wa.Handle) (int, error)
}

// DeletedEvent is broadcast on session removal so subscribers can drop
// their cached view.
type DeletedEvent struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}
