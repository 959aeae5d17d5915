// Package campaign implements bulk fan-out dispatch: distribution
// strategies, pacing, retry and live progress accounting over the session
// pool, resumable from persisted counters.
package campaign

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"whatspro/internal/eventbus"
	"whatspro/internal/runtime/supervisor"
	"whatspro/internal/store"
	"whatspro/pkg/logx"
)

type Manager struct {
	store store.Store
	bus   eventbus.Bus
	pool  SessionPool
	sup   *supervisor.Supervisor
	log   logx.Logger

	mu       sync.Mutex
	defaults Defaults
	limiter  *rate.Limiter
	runners  map[string]*runner
}

func NewManager(st store.Store, bus eventbus.Bus, pool SessionPool, sup *supervisor.Supervisor, log logx.Logger, defaults Defaults) *Manager {
	m := &Manager{
		store:   st,
		bus:     bus,
		pool:    pool,
		sup:     sup,
		log:     log,
		runners: map[string]*runner{},
	}
	m.Apply(defaults)
	return m
}

// Apply installs new dispatcher defaults. Running campaigns keep their
// own pacing; the global rate ceiling applies immediately.
func (m *Manager) Apply(d Defaults) {
	if d.RatePerSec <= 0 {
		d.RatePerSec = 10
	}
	if d.Pacing.MessageDelay <= 0 {
		d.Pacing.MessageDelay = 3 * time.Second
	}
	if d.Pacing.BatchSize <= 0 {
		d.Pacing.BatchSize = 20
	}
	if d.Pacing.BatchDelay <= 0 {
		d.Pacing.BatchDelay = 30 * time.Second
	}
	if d.Pacing.RetryMax < 0 {
		d.Pacing.RetryMax = 0
	}
	if strings.TrimSpace(d.CountryPrefix) == "" {
		d.CountryPrefix = "91"
	}
	m.mu.Lock()
	m.defaults = d
	m.limiter = rate.NewLimiter(rate.Limit(d.RatePerSec), d.RatePerSec)
	m.mu.Unlock()
}

// Create validates the spec and persists a draft (or scheduled) campaign.
// Validation failures reject the campaign synchronously; nothing is
// persisted on error.
func (m *Manager) Create(ctx context.Context, spec Spec) (*store.Campaign, error) {
	m.mu.Lock()
	d := m.defaults
	m.mu.Unlock()

	variants := make([]store.Variant, 0, len(spec.Variants))
	for _, v := range spec.Variants {
		if strings.TrimSpace(v.Text) == "" {
			continue
		}
		variants = append(variants, v)
	}
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	targets, rejected := NormalizeTargets(spec.Targets, d.CountryPrefix)
	if len(rejected) > 0 {
		m.log.Warn("campaign targets rejected",
			logx.String("name", spec.Name),
			logx.Int("rejected", len(rejected)))
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	if len(spec.Sessions) == 0 {
		return nil, fmt.Errorf("campaign needs a session pool")
	}

	sessionStrategy, err := parseSessionStrategy(spec.SessionStrategy)
	if err != nil {
		return nil, err
	}
	templateStrategy, err := parseTemplateStrategy(spec.TemplateStrategy)
	if err != nil {
		return nil, err
	}

	pacing := spec.Pacing
	if pacing.MessageDelay <= 0 {
		pacing.MessageDelay = d.Pacing.MessageDelay
	}
	if pacing.BatchSize <= 0 {
		pacing.BatchSize = d.Pacing.BatchSize
	}
	if pacing.BatchDelay <= 0 {
		pacing.BatchDelay = d.Pacing.BatchDelay
	}
	if pacing.JitterMax < pacing.JitterMin {
		return nil, fmt.Errorf("pacing: jitter_max must be >= jitter_min")
	}
	switch {
	case pacing.RetryMax < 0:
		// retry_max: -1 opts this campaign out of auto-retry.
		pacing.RetryMax = 0
	case pacing.RetryMax == 0:
		pacing.RetryMax = d.Pacing.RetryMax
	}

	status := StatusDraft
	if spec.ScheduledAt != nil && spec.ScheduledAt.After(time.Now()) {
		status = StatusScheduled
	}

	c := &store.Campaign{
		ID:               uuid.NewString(),
		Name:             spec.Name,
		Variants:         variants,
		Targets:          targets,
		Sessions:         spec.Sessions,
		SessionStrategy:  sessionStrategy,
		TemplateStrategy: templateStrategy,
		Pacing:           pacing,
		Status:           status,
		Pending:          len(targets),
		ScheduledAt:      spec.ScheduledAt,
	}
	if err := m.store.SaveCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("persist campaign: %w", err)
	}
	m.log.Info("campaign created",
		logx.String("campaign", c.ID),
		logx.String("name", c.Name),
		logx.Int("targets", len(targets)),
		logx.String("status", status))
	return c, nil
}

// Start moves a draft/scheduled campaign to running and launches its
// dispatch loop. It fails without side effects when the pool holds no
// ready session.
func (m *Manager) Start(ctx context.Context, id string) error {
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != StatusDraft && c.Status != StatusScheduled {
		return fmt.Errorf("%w: status is %s", ErrNotStartable, c.Status)
	}
	return m.launch(ctx, c)
}

// Resume continues a paused campaign from the first still-pending target.
// The cursor is recomputed from the persisted counters, never from
// in-memory position.
func (m *Manager) Resume(ctx context.Context, id string) error {
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != StatusPaused {
		return fmt.Errorf("%w: status is %s", ErrNotPaused, c.Status)
	}
	return m.launch(ctx, c)
}

func (m *Manager) launch(ctx context.Context, c *store.Campaign) error {
	ready := 0
	for _, sid := range c.Sessions {
		if m.pool.Ready(sid) {
			ready++
		}
	}
	if ready == 0 {
		return ErrNoReadySessions
	}

	m.mu.Lock()
	if _, live := m.runners[c.ID]; live {
		m.mu.Unlock()
		return fmt.Errorf("campaign %s already dispatching", c.ID)
	}
	r := newRunner(c)
	m.runners[c.ID] = r
	m.mu.Unlock()

	c.Status = StatusRunning
	if err := m.store.UpdateCampaignProgress(ctx, c.ID, c.Sent, c.Failed, c.Pending, StatusRunning); err != nil {
		m.dropRunner(c.ID)
		return fmt.Errorf("persist campaign start: %w", err)
	}
	m.publishProgress(c)

	m.sup.Go("campaign-"+c.ID, func(ctx context.Context) error {
		m.run(ctx, r)
		return nil
	})
	return nil
}

// Pause stops scheduling further targets; the in-flight send completes
// and is counted before the loop parks.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	r := m.runners[id]
	m.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}
	r.requestPause()
	return nil
}

// Cancel terminates dispatch; remaining targets stay unsent and the
// campaign ends in the cancelled state. Paused and scheduled campaigns
// cancel immediately.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	r := m.runners[id]
	m.mu.Unlock()
	if r != nil {
		r.requestCancel()
		return nil
	}

	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case StatusPaused, StatusScheduled, StatusDraft:
		c.Status = StatusCancelled
		if err := m.store.UpdateCampaignProgress(ctx, c.ID, c.Sent, c.Failed, c.Pending, StatusCancelled); err != nil {
			return err
		}
		m.publishProgress(c)
		return nil
	default:
		return fmt.Errorf("campaign %s cannot be cancelled in status %s", id, c.Status)
	}
}

func (m *Manager) Get(ctx context.Context, id string) (*store.Campaign, error) {
	return m.store.GetCampaign(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]store.Campaign, error) {
	return m.store.ListCampaigns(ctx)
}

// PreviewAssignments exposes the canonical assignment computation for the
// first n targets of a stored campaign.
func (m *Manager) PreviewAssignments(ctx context.Context, id string, n int) ([]Assignment, error) {
	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	return Preview(c, n), nil
}

func (m *Manager) dropRunner(id string) {
	m.mu.Lock()
	delete(m.runners, id)
	m.mu.Unlock()
}

func (m *Manager) publishProgress(c *store.Campaign) {
	m.bus.Publish(eventbus.Event{
		Type: eventbus.TypeCampaignProgress,
		Data: ProgressEvent{
			CampaignID: c.ID,
			Status:     c.Status,
			Sent:       c.Sent,
			Failed:     c.Failed,
			Pending:    c.Pending,
			Total:      len(c.Targets),
		},
	})
}

func parseSessionStrategy(s string) (string, error) {
	switch n := normalizeStrategy(s); n {
	case "", SessionManual:
		return SessionManual, nil
	case SessionRoundRobin, SessionRandom, SessionLoadBalanced:
		return n, nil
	default:
		return "", fmt.Errorf("unknown session strategy %q", s)
	}
}

func parseTemplateStrategy(s string) (string, error) {
	switch n := normalizeStrategy(s); n {
	case "", TemplateManual:
		return TemplateManual, nil
	case TemplateRoundRobin, TemplateRandom, TemplateWeighted:
		return n, nil
	default:
		return "", fmt.Errorf("unknown template strategy %q", s)
	}
}
