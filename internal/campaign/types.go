package campaign

import (
	"context"
	"errors"
	"time"

	"whatspro/internal/store"
)

// Campaign statuses. draft and scheduled precede dispatch; completed,
// cancelled and failed are terminal. Counters are the single source of
// truth for progress; any UI is a read-only projection.
const (
	StatusDraft     = "draft"
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Session distribution strategies.
const (
	SessionManual       = "manual"
	SessionRoundRobin   = "round-robin"
	SessionRandom       = "random"
	SessionLoadBalanced = "load-balanced"
)

// Template distribution strategies. The two families are orthogonal:
// either axis may use any of its strategies.
const (
	TemplateManual     = "manual"
	TemplateRoundRobin = "round-robin"
	TemplateRandom     = "random"
	TemplateWeighted   = "weighted"
)

var (
	ErrNotRunning      = errors.New("campaign is not running")
	ErrNotPaused       = errors.New("campaign is not paused")
	ErrNotStartable    = errors.New("campaign cannot be started in its current status")
	ErrNoReadySessions = errors.New("no ready sessions in campaign pool")
	ErrNoTargets       = errors.New("campaign has no valid targets")
	ErrNoVariants      = errors.New("campaign needs at least one message variant")
)

// SessionPool is the slice of the session controller the dispatcher
// needs. Send is serialized per session by the pool itself, so two
// campaigns sharing a session interleave instead of overlapping.
type SessionPool interface {
	Ready(id string) bool
	Send(ctx context.Context, sessionID, chatID, body string) (string, error)
}

// Spec is the operator-facing campaign definition. Zero pacing fields
// fall back to the configured defaults; retry_max -1 disables auto-retry
// for the campaign even when the default is non-zero.
type Spec struct {
	Name             string          `json:"name"`
	Variants         []store.Variant `json:"variants"`
	Targets          []string        `json:"targets"`
	Sessions         []string        `json:"sessions"`
	SessionStrategy  string          `json:"session_strategy"`
	TemplateStrategy string          `json:"template_strategy"`
	Pacing           store.Pacing    `json:"pacing"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
}

// Defaults come from config and can be hot-reloaded via Manager.Apply.
type Defaults struct {
	Pacing        store.Pacing
	RatePerSec    int
	CountryPrefix string
}

// Assignment is the resolved (session, variant) pair for one target.
// It is a pure function of strategy + index + pool, so preview and
// dispatch can never disagree.
type Assignment struct {
	Index        int    `json:"index"`
	Target       string `json:"target"`
	SessionID    string `json:"session_id"`
	VariantIndex int    `json:"variant_index"`
}

// ProgressEvent is broadcast after every target.
type ProgressEvent struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Pending    int    `json:"pending"`
	Total      int    `json:"total"`
}
