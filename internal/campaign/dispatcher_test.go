package campaign

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"whatspro/internal/eventbus"
	"whatspro/internal/runtime/supervisor"
	"whatspro/internal/store"
	"whatspro/pkg/logx"
)

type sendRec struct {
	SessionID string
	ChatID    string
	Body      string
}

// fakePool is a scripted SessionPool for dispatcher tests.
type fakePool struct {
	mu       sync.Mutex
	ready    map[string]bool
	failOn   map[string]bool
	sent     []sendRec
	attempts map[string]int
}

func newFakePool(ready ...string) *fakePool {
	p := &fakePool{ready: map[string]bool{}, failOn: map[string]bool{}, attempts: map[string]int{}}
	for _, id := range ready {
		p.ready[id] = true
	}
	return p
}

func (p *fakePool) Ready(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready[id]
}

func (p *fakePool) Send(_ context.Context, sessionID, chatID, body string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[chatID]++
	if p.failOn[chatID] {
		return "", errors.New("scripted send failure")
	}
	p.sent = append(p.sent, sendRec{SessionID: sessionID, ChatID: chatID, Body: body})
	return fmt.Sprintf("m%d", len(p.sent)), nil
}

func (p *fakePool) attemptsFor(chatID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[chatID]
}

func (p *fakePool) records() []sendRec {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sendRec, len(p.sent))
	copy(out, p.sent)
	return out
}

func newTestManager(t *testing.T, pool SessionPool) (*Manager, store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "app.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sup := supervisor.New(context.Background())
	t.Cleanup(sup.Cancel)

	m := NewManager(st, eventbus.New(), pool, sup, logx.Nop(), Defaults{
		Pacing: store.Pacing{
			MessageDelay: time.Millisecond,
			BatchSize:    1000,
			BatchDelay:   time.Millisecond,
		},
		RatePerSec:    1000,
		CountryPrefix: "91",
	})
	return m, st
}

func testSpec(targets int) Spec {
	list := make([]string, targets)
	for i := range list {
		list[i] = fmt.Sprintf("91900001%04d", i)
	}
	return Spec{
		Name:            "launch",
		Variants:        []store.Variant{{Text: "Hi {phone}"}},
		Targets:         list,
		Sessions:        []string{"s1"},
		SessionStrategy: SessionManual,
	}
}

func waitStatus(t *testing.T, st store.Store, id, status string) *store.Campaign {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := st.GetCampaign(context.Background(), id)
		if err != nil {
			t.Fatalf("get campaign: %v", err)
		}
		if c.Status == status {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	c, _ := st.GetCampaign(context.Background(), id)
	t.Fatalf("campaign never reached %s, last: %+v", status, c)
	return nil
}

func TestDispatchCompletesInOrder(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	c, err := m.Create(context.Background(), testSpec(5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	final := waitStatus(t, st, c.ID, StatusCompleted)
	if final.Sent != 5 || final.Failed != 0 || final.Pending != 0 {
		t.Fatalf("counters sent=%d failed=%d pending=%d", final.Sent, final.Failed, final.Pending)
	}

	recs := pool.records()
	if len(recs) != 5 {
		t.Fatalf("expected 5 sends, got %d", len(recs))
	}
	for i, r := range recs {
		if r.ChatID != c.Targets[i] {
			t.Fatalf("send %d went to %s, want %s", i, r.ChatID, c.Targets[i])
		}
		if r.Body != "Hi "+c.Targets[i] {
			t.Fatalf("send %d body %q", i, r.Body)
		}
	}
}

func TestDispatchCountsFailures(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	c, err := m.Create(context.Background(), testSpec(4))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pool.mu.Lock()
	pool.failOn[c.Targets[1]] = true
	pool.mu.Unlock()

	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	final := waitStatus(t, st, c.ID, StatusCompleted)
	if final.Sent != 3 || final.Failed != 1 || final.Pending != 0 {
		t.Fatalf("counters sent=%d failed=%d pending=%d", final.Sent, final.Failed, final.Pending)
	}
}

func TestRetryMaxSentinelDisablesRetry(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)
	m.Apply(Defaults{
		Pacing: store.Pacing{
			MessageDelay: time.Millisecond,
			BatchSize:    1000,
			BatchDelay:   time.Millisecond,
			RetryMax:     2,
		},
		RatePerSec:    1000,
		CountryPrefix: "91",
	})

	// Unset retry_max inherits the default.
	spec := testSpec(1)
	c, err := m.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Pacing.RetryMax != 2 {
		t.Fatalf("inherited retry_max = %d, want 2", c.Pacing.RetryMax)
	}
	pool.mu.Lock()
	pool.failOn[c.Targets[0]] = true
	pool.mu.Unlock()
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, st, c.ID, StatusFailed)
	if got := pool.attemptsFor(c.Targets[0]); got != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", got)
	}

	// retry_max: -1 opts out of retries even with a non-zero default.
	spec = testSpec(1)
	spec.Targets = []string{"919000020001"}
	spec.Pacing.RetryMax = -1
	c, err = m.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Pacing.RetryMax != 0 {
		t.Fatalf("persisted retry_max = %d, want 0", c.Pacing.RetryMax)
	}
	pool.mu.Lock()
	pool.failOn[c.Targets[0]] = true
	pool.mu.Unlock()
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitStatus(t, st, c.ID, StatusFailed)
	if got := pool.attemptsFor(c.Targets[0]); got != 1 {
		t.Fatalf("attempts = %d, want 1", got)
	}
}

func TestDispatchAllFailedIsTerminalFailure(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	c, err := m.Create(context.Background(), testSpec(3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pool.mu.Lock()
	for _, target := range c.Targets {
		pool.failOn[target] = true
	}
	pool.mu.Unlock()

	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	final := waitStatus(t, st, c.ID, StatusFailed)
	if final.Sent != 0 || final.Failed != 3 {
		t.Fatalf("counters sent=%d failed=%d", final.Sent, final.Failed)
	}
}

func TestDispatchSkipsNotReadySession(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	spec := testSpec(4)
	spec.Sessions = []string{"s1", "s2"}
	spec.SessionStrategy = SessionRoundRobin
	c, err := m.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// s2 is never ready: its half of the round-robin becomes failures.
	final := waitStatus(t, st, c.ID, StatusCompleted)
	if final.Sent != 2 || final.Failed != 2 {
		t.Fatalf("counters sent=%d failed=%d", final.Sent, final.Failed)
	}
	for _, r := range pool.records() {
		if r.SessionID != "s1" {
			t.Fatalf("send routed to %s", r.SessionID)
		}
	}
}

func TestPauseResumeDoesNotResend(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	spec := testSpec(30)
	spec.Pacing.MessageDelay = 20 * time.Millisecond
	c, err := m.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Let a few targets through, then pause.
	deadline := time.Now().Add(5 * time.Second)
	for len(pool.records()) < 2 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if err := m.Pause(c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused := waitStatus(t, st, c.ID, StatusPaused)
	if paused.Sent == 0 || paused.Pending == 0 {
		t.Fatalf("pause landed at sent=%d pending=%d", paused.Sent, paused.Pending)
	}
	if paused.Sent+paused.Failed+paused.Pending != 30 {
		t.Fatalf("counter invariant broken: %+v", paused)
	}

	if err := m.Resume(context.Background(), c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	final := waitStatus(t, st, c.ID, StatusCompleted)
	if final.Sent != 30 || final.Pending != 0 {
		t.Fatalf("counters sent=%d pending=%d", final.Sent, final.Pending)
	}

	seen := map[string]int{}
	for _, r := range pool.records() {
		seen[r.ChatID]++
	}
	for target, n := range seen {
		if n != 1 {
			t.Fatalf("target %s sent %d times", target, n)
		}
	}
	if len(seen) != 30 {
		t.Fatalf("delivered %d distinct targets, want 30", len(seen))
	}
}

func TestCancelRunningCampaign(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	spec := testSpec(30)
	spec.Pacing.MessageDelay = 20 * time.Millisecond
	c, err := m.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Cancel(context.Background(), c.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitStatus(t, st, c.ID, StatusCancelled)
	if final.Pending == 0 {
		t.Fatalf("cancel delivered everything anyway: %+v", final)
	}
}

func TestCancelPausedCampaign(t *testing.T) {
	pool := newFakePool("s1")
	m, st := newTestManager(t, pool)

	spec := testSpec(10)
	spec.Pacing.MessageDelay = 20 * time.Millisecond
	c, err := m.Create(context.Background(), spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Pause(c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitStatus(t, st, c.ID, StatusPaused)

	if err := m.Cancel(context.Background(), c.ID); err != nil {
		t.Fatalf("cancel paused: %v", err)
	}
	waitStatus(t, st, c.ID, StatusCancelled)
}

func TestStartNeedsReadySession(t *testing.T) {
	pool := newFakePool() // nothing ready
	m, st := newTestManager(t, pool)

	c, err := m.Create(context.Background(), testSpec(3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Start(context.Background(), c.ID); !errors.Is(err, ErrNoReadySessions) {
		t.Fatalf("start err = %v, want ErrNoReadySessions", err)
	}

	got, err := st.GetCampaign(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusDraft {
		t.Fatalf("status = %s, want draft", got.Status)
	}
}

func TestResumeRequiresPaused(t *testing.T) {
	pool := newFakePool("s1")
	m, _ := newTestManager(t, pool)

	c, err := m.Create(context.Background(), testSpec(3))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Resume(context.Background(), c.ID); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume err = %v, want ErrNotPaused", err)
	}
}

func TestCreateRejectsEmptyInput(t *testing.T) {
	m, _ := newTestManager(t, newFakePool("s1"))

	spec := testSpec(3)
	spec.Variants = nil
	if _, err := m.Create(context.Background(), spec); !errors.Is(err, ErrNoVariants) {
		t.Fatalf("err = %v, want ErrNoVariants", err)
	}

	spec = testSpec(3)
	spec.Targets = []string{"12", "abc"}
	if _, err := m.Create(context.Background(), spec); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("err = %v, want ErrNoTargets", err)
	}

	spec = testSpec(3)
	spec.SessionStrategy = "firehose"
	if _, err := m.Create(context.Background(), spec); err == nil {
		t.Fatalf("unknown strategy accepted")
	}
}
