package campaign

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"whatspro/internal/store"
	"whatspro/pkg/logx"
)

type stopReason int

const (
	stopNone stopReason = iota
	stopPause
	stopCancel
	stopShutdown
)

func (r stopReason) String() string {
	switch r {
	case stopPause:
		return "pause"
	case stopCancel:
		return "cancel"
	case stopShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// runner is the live dispatch state of one running campaign. Control is
// signalled through closed channels so the loop can observe them inside
// pacing waits as well as between targets.
type runner struct {
	c        *store.Campaign
	pauseCh  chan struct{}
	cancelCh chan struct{}

	pauseOnce  sync.Once
	cancelOnce sync.Once
}

func newRunner(c *store.Campaign) *runner {
	return &runner{
		c:        c,
		pauseCh:  make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

func (r *runner) requestPause()  { r.pauseOnce.Do(func() { close(r.pauseCh) }) }
func (r *runner) requestCancel() { r.cancelOnce.Do(func() { close(r.cancelCh) }) }

func (r *runner) control(ctx context.Context) stopReason {
	select {
	case <-r.cancelCh:
		return stopCancel
	case <-r.pauseCh:
		return stopPause
	case <-ctx.Done():
		return stopShutdown
	default:
		return stopNone
	}
}

// run drives one campaign from its persisted cursor to a terminal or
// parked state. Targets are processed in strict list order so the cursor
// sent+failed uniquely identifies the next pending target across
// pause/resume and process restarts.
func (m *Manager) run(ctx context.Context, r *runner) {
	c := r.c
	defer m.dropRunner(c.ID)

	total := len(c.Targets)
	reason := stopNone

	for i := c.Sent + c.Failed; i < total; i++ {
		if reason = r.control(ctx); reason != stopNone {
			break
		}

		a := Assign(c, i)
		ok := false
		if a.SessionID != "" && m.pool.Ready(a.SessionID) {
			var stopped stopReason
			ok, stopped = m.deliver(ctx, r, a)
			// Interrupted mid-delivery: the target stays pending and is
			// retried on resume.
			if stopped != stopNone {
				reason = stopped
				break
			}
		} else {
			m.log.Warn("campaign target skipped, session not ready",
				logx.String("campaign", c.ID),
				logx.String("session", a.SessionID),
				logx.Int("index", i))
		}
		if ok {
			c.Sent++
		} else {
			c.Failed++
		}
		c.Pending = total - c.Sent - c.Failed

		if err := m.store.UpdateCampaignProgress(ctx, c.ID, c.Sent, c.Failed, c.Pending, StatusRunning); err != nil {
			m.log.Error("persist campaign progress", logx.String("campaign", c.ID), logx.Err(err))
		} else {
			m.publishProgress(c)
		}

		if c.Pending > 0 {
			if reason = m.pace(ctx, r, i); reason != stopNone {
				break
			}
		}
	}

	m.finalize(ctx, r, reason)
}

// deliver renders the assigned variant and sends it with retry under the
// global rate ceiling. A non-none stopReason means delivery was interrupted
// by a control signal and the target must not be counted either way.
func (m *Manager) deliver(ctx context.Context, r *runner, a Assignment) (bool, stopReason) {
	c := r.c
	name := ""
	if contact, err := m.store.GetContact(ctx, a.SessionID, a.Target); err == nil && contact != nil {
		name = contact.Name
	}
	body := Render(c.Variants[a.VariantIndex].Text, a.Target, name)

	m.mu.Lock()
	limiter := m.limiter
	m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= c.Pacing.RetryMax; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(200+100*attempt) * time.Millisecond
			if reason := sleep(ctx, r, backoff); reason != stopNone {
				return false, reason
			}
		}
		if err := limiter.Wait(ctx); err != nil {
			return false, stopShutdown
		}
		if _, err := m.pool.Send(ctx, a.SessionID, a.Target, body); err != nil {
			lastErr = err
			continue
		}
		return true, stopNone
	}
	m.log.Warn("campaign send failed",
		logx.String("campaign", c.ID),
		logx.String("session", a.SessionID),
		logx.Int("index", a.Index),
		logx.Err(lastErr))
	return false, stopNone
}

// pace sleeps the per-message delay plus jitter, and the batch delay on
// batch boundaries. Control signals interrupt the wait.
func (m *Manager) pace(ctx context.Context, r *runner, index int) stopReason {
	p := r.c.Pacing
	d := p.MessageDelay
	if span := p.JitterMax - p.JitterMin; span > 0 {
		d += p.JitterMin + time.Duration(rand.Int63n(int64(span)))
	} else if p.JitterMin > 0 {
		d += p.JitterMin
	}
	if p.BatchSize > 0 && (index+1)%p.BatchSize == 0 {
		d += p.BatchDelay
	}
	return sleep(ctx, r, d)
}

func sleep(ctx context.Context, r *runner, d time.Duration) stopReason {
	if d <= 0 {
		return r.control(ctx)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return stopNone
	case <-r.cancelCh:
		return stopCancel
	case <-r.pauseCh:
		return stopPause
	case <-ctx.Done():
		return stopShutdown
	}
}

// finalize persists the terminal or parked status. Shutdown must still
// persist, so it writes with a fresh short-lived context.
func (m *Manager) finalize(ctx context.Context, r *runner, reason stopReason) {
	c := r.c
	status := ""
	switch reason {
	case stopCancel:
		status = StatusCancelled
	case stopPause, stopShutdown:
		status = StatusPaused
	default:
		status = StatusCompleted
		if c.Sent == 0 && c.Failed == len(c.Targets) {
			status = StatusFailed
		}
	}
	c.Status = status

	pctx := ctx
	if reason == stopShutdown {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := m.store.UpdateCampaignProgress(pctx, c.ID, c.Sent, c.Failed, c.Pending, status); err != nil {
		m.log.Error("persist campaign final status",
			logx.String("campaign", c.ID),
			logx.String("status", status),
			logx.Err(err))
		return
	}
	m.publishProgress(c)
	m.log.Info("campaign stopped",
		logx.String("campaign", c.ID),
		logx.String("status", status),
		logx.String("stop_reason", reason.String()),
		logx.Int("sent", c.Sent),
		logx.Int("failed", c.Failed),
		logx.Int("pending", c.Pending))
}
