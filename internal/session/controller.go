// Package session owns the account-connection lifecycle: the registry of
// live sessions and the controller that drives each one through its state
// machine in response to handle events and operator commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"whatspro/internal/eventbus"
	"whatspro/internal/runtime/supervisor"
	"whatspro/internal/store"
	"whatspro/internal/wa"
	"whatspro/pkg/logx"
)

const logoutTimeout = 5 * time.Second

type Controller struct {
	reg    *Registry
	store  store.Store
	bus    eventbus.Bus
	dialer wa.Dialer
	syncer Syncer
	sup    *supervisor.Supervisor
	log    logx.Logger
}

func NewController(reg *Registry, st store.Store, bus eventbus.Bus, dialer wa.Dialer, syncer Syncer, sup *supervisor.Supervisor, log logx.Logger) *Controller {
	return &Controller{
		reg:    reg,
		store:  st,
		bus:    bus,
		dialer: dialer,
		syncer: syncer,
		sup:    sup,
		log:    log,
	}
}

func (c *Controller) Registry() *Registry { return c.reg }

// Create allocates a session row, dials a handle and returns the new id
// immediately; the handshake proceeds asynchronously and is observable via
// session_updated events.
func (c *Controller) Create(ctx context.Context, name string) (string, error) {
	id := uuid.NewString()
	sess := store.Session{
		ID:     id,
		Name:   name,
		Status: StatusInitializing,
		Active: true,
	}
	if err := c.store.SaveSession(ctx, &sess); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	// Broadcast the fresh row before the handle exists. Once start runs,
	// handshake transitions publish concurrently, and an initializing
	// broadcast issued after them would look like the status regressed.
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: sess})

	if err := c.start(ctx, sess, ""); err != nil {
		// Nothing was started; don't leave an orphan row behind.
		_ = c.store.DeleteSession(ctx, id)
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: DeletedEvent{ID: id, Deleted: true}})
		return "", err
	}
	c.log.Info("session created", logx.String("session", id), logx.String("name", name))
	return id, nil
}

// Restore re-dials every persisted session that was ready and active when
// the process last stopped. Idempotent: ids already registered are skipped,
// and one session failing to restore never stops the others.
func (c *Controller) Restore(ctx context.Context) error {
	rows, err := c.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		if row.Status != StatusReady || !row.Active {
			continue
		}
		if _, ok := c.reg.get(row.ID); ok {
			continue
		}

		row.Status = StatusInitializing
		row.QRCode = ""
		if err := c.store.SaveSession(ctx, &row); err != nil {
			c.log.Error("session restore: persist failed", logx.String("session", row.ID), logx.Err(err))
			continue
		}

		c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: row})

		// The stored account id pins the handle to the same account.
		if err := c.start(ctx, row, row.AccountID); err != nil {
			c.log.Warn("session restore failed", logx.String("session", row.ID), logx.Err(err))
			row.Status = StatusDisconnected
			_ = c.store.SaveSession(ctx, &row)
			c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: row})
			continue
		}
		c.log.Info("session restored", logx.String("session", row.ID), logx.String("account", row.AccountID))
	}
	return nil
}

// Restart re-dials a session that was left disconnected or auth_failed.
// The old handle, if any, is released first; the stored account id pins the
// new handle to the same account.
func (c *Controller) Restart(ctx context.Context, id string) error {
	row, err := c.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if row.Status != StatusDisconnected && row.Status != StatusAuthFailed {
		return fmt.Errorf("session %s is %s, only disconnected or auth_failed sessions restart", id, row.Status)
	}

	if e := c.reg.remove(id); e != nil {
		e.handle.Destroy()
	}

	row.Status = StatusInitializing
	row.QRCode = ""
	row.Active = true
	if err := c.store.SaveSession(ctx, row); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: *row})
	if err := c.start(ctx, *row, row.AccountID); err != nil {
		row.Status = StatusDisconnected
		_ = c.store.SaveSession(ctx, row)
		c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: *row})
		return err
	}
	c.log.Info("session restarted", logx.String("session", id))
	return nil
}

func (c *Controller) start(ctx context.Context, sess store.Session, wantAccount string) error {
	h, err := c.dialer.Dial(ctx, sess.ID, wantAccount)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	e := &entry{sess: sess, handle: h}
	if !c.reg.add(sess.ID, e) {
		h.Destroy()
		return ErrExists
	}

	id := sess.ID
	c.sup.Go("session-loop-"+id, func(ctx context.Context) error {
		c.runLoop(ctx, id, h, wantAccount)
		return nil
	})
	c.sup.Go("session-connect-"+id, func(ctx context.Context) error {
		if err := h.Connect(ctx); err != nil {
			c.log.Warn("session connect failed", logx.String("session", id), logx.Err(err))
			c.transition(ctx, id, func(s *store.Session) {
				s.Status = StatusDisconnected
				s.QRCode = ""
			})
		}
		return nil
	})
	return nil
}

func (c *Controller) runLoop(ctx context.Context, id string, h wa.Handle, wantAccount string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.Events():
			if !ok {
				return
			}
			c.handleEvent(ctx, id, h, wantAccount, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, id string, h wa.Handle, wantAccount string, ev wa.Event) {
	switch ev.Type {
	case wa.EventQRReady:
		c.transition(ctx, id, func(s *store.Session) {
			s.Status = StatusAwaitingHandshake
			s.QRCode = ev.QRCode
		})

	case wa.EventAuthenticated:
		if wantAccount != "" && ev.AccountID != "" && ev.AccountID != wantAccount {
			c.log.Error("restored session bound to a different account",
				logx.String("session", id),
				logx.String("want", wantAccount),
				logx.String("got", ev.AccountID))
			c.transition(ctx, id, func(s *store.Session) {
				s.Status = StatusAuthFailed
				s.QRCode = ""
			})
			return
		}
		c.transition(ctx, id, func(s *store.Session) {
			s.Status = StatusReady
			s.AccountID = ev.AccountID
			s.QRCode = ""
		})
		c.pullHistory(id, h)

	case wa.EventMessageReceived:
		if ev.Message == nil {
			return
		}
		if _, err := c.syncer.Ingest(ctx, id, *ev.Message); err != nil {
			c.log.Warn("message ingest failed", logx.String("session", id), logx.Err(err))
		}

	case wa.EventChatListReady:
		// History arrived after authentication; the pull is dedup-safe.
		c.pullHistory(id, h)

	case wa.EventDisconnected:
		c.transition(ctx, id, func(s *store.Session) {
			s.Status = StatusDisconnected
			s.QRCode = ""
		})

	case wa.EventAuthFailed:
		c.transition(ctx, id, func(s *store.Session) {
			s.Status = StatusAuthFailed
			s.QRCode = ""
		})

	case wa.EventError:
		c.log.Warn("session error", logx.String("session", id), logx.Err(ev.Err))
		// Treat as disconnected unless already terminal, so a broken
		// session never keeps looking healthy.
		if snap, ok := c.reg.Snapshot(id); ok &&
			snap.Status != StatusDisconnected && snap.Status != StatusAuthFailed {
			c.transition(ctx, id, func(s *store.Session) {
				s.Status = StatusDisconnected
				s.QRCode = ""
			})
		}
	}
}

func (c *Controller) pullHistory(id string, h wa.Handle) {
	c.sup.Go("history-pull-"+id, func(ctx context.Context) error {
		_, err := c.syncer.PullRecent(ctx, id, h)
		return err
	})
}

// transition persists the mutated row first and only then updates the
// registry and broadcasts; subscribers never see a change that failed to
// persist.
func (c *Controller) transition(ctx context.Context, id string, mut func(*store.Session)) {
	e, ok := c.reg.get(id)
	if !ok {
		return
	}

	e.mu.Lock()
	next := e.sess
	mut(&next)
	if err := c.store.SaveSession(ctx, &next); err != nil {
		e.mu.Unlock()
		c.log.Error("session transition not persisted", logx.String("session", id), logx.Err(err))
		return
	}
	e.sess = next
	snap := next
	e.mu.Unlock()

	c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: snap})
	c.log.Debug("session state changed", logx.String("session", id), logx.String("status", snap.Status))
}

// Delete logs out gracefully, swallowing errors so release is never
// blocked by a misbehaving handle, then destroys the handle
// unconditionally and removes the row, cascading contacts and messages.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if e := c.reg.remove(id); e != nil {
		lctx, cancel := context.WithTimeout(ctx, logoutTimeout)
		if err := e.handle.Logout(lctx); err != nil {
			c.log.Warn("logout failed, releasing anyway", logx.String("session", id), logx.Err(err))
		}
		cancel()
		e.handle.Destroy()
	}

	if err := c.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TypeSessionUpdated, Data: DeletedEvent{ID: id, Deleted: true}})
	c.log.Info("session deleted", logx.String("session", id))
	return nil
}

// Send delivers one message through the session's handle. Sends are
// serialized per session; callers sharing a session interleave rather than
// overlap. The outbound message is mirrored into history (dedup-keyed on
// the provider message id).
func (c *Controller) Send(ctx context.Context, id, chatID, body string) (string, error) {
	e, ok := c.reg.get(id)
	if !ok {
		return "", ErrNotFound
	}

	e.mu.Lock()
	status := e.sess.Status
	account := e.sess.AccountID
	h := e.handle
	e.mu.Unlock()

	if status != StatusReady {
		return "", fmt.Errorf("%w: session %s is %s", ErrNotReady, id, status)
	}

	e.sendMu.Lock()
	res, err := h.Send(ctx, chatID, body)
	e.sendMu.Unlock()
	if err != nil {
		return "", err
	}

	msg := store.Message{
		ID:         uuid.NewString(),
		SessionID:  id,
		ExternalID: res.MessageID,
		ChatID:     chatID,
		From:       account,
		To:         chatID,
		Body:       body,
		Type:       store.TypeText,
		Timestamp:  res.Timestamp,
	}
	if _, err := c.store.InsertMessage(ctx, &msg); err != nil {
		c.log.Warn("outbound message not persisted", logx.String("session", id), logx.Err(err))
	}
	return res.MessageID, nil
}

// Sessions returns every persisted session, with the live registry state
// overlaid for those currently registered. Rows that are parked as
// disconnected or auth_failed stay listed so they can be restarted.
func (c *Controller) Sessions(ctx context.Context) ([]store.Session, error) {
	rows, err := c.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if snap, ok := c.reg.Snapshot(rows[i].ID); ok {
			rows[i] = snap
		}
	}
	return rows, nil
}

// Session returns one session, preferring the live registry snapshot and
// falling back to the persisted row for sessions without a handle.
func (c *Controller) Session(ctx context.Context, id string) (store.Session, error) {
	if snap, ok := c.reg.Snapshot(id); ok {
		return snap, nil
	}
	row, err := c.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, ErrNotFound
		}
		return store.Session{}, err
	}
	return *row, nil
}

// Ready reports whether a session can currently send.
func (c *Controller) Ready(id string) bool { return c.reg.Ready(id) }

// Close releases every handle without touching persisted rows; used on
// shutdown so restored sessions come back on the next start.
func (c *Controller) Close() {
	for _, e := range c.reg.removeAll() {
		e.handle.Destroy()
	}
}
