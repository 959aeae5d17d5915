package wa

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeHandle is a scripted Handle for tests: it records sends, serves
// canned chats/history, and lets the test drive lifecycle events directly
// via Emit.
type FakeHandle struct {
	mu        sync.Mutex
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	// AccountID is reported by the authenticated event when AutoAuth is set.
	AccountID string
	// AutoAuth makes Connect emit qr_ready followed by authenticated,
	// which is the happy pairing path most tests want.
	AutoAuth bool

	// SendErr, when set, is consulted per send; a non-nil return fails
	// that send.
	SendErr func(chatID string) error
	// SendDelay simulates slow sends.
	SendDelay time.Duration

	Chats   []Chat
	History map[string][]InboundMessage

	sent      []SendRecord
	loggedOut bool
	destroyed bool

	// LogoutErr lets tests exercise the "release must not be blocked by a
	// misbehaving handle" path.
	LogoutErr error
}

type SendRecord struct {
	ChatID string
	Body   string
}

func NewFakeHandle(accountID string) *FakeHandle {
	return &FakeHandle{
		AccountID: accountID,
		AutoAuth:  true,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		History:   map[string][]InboundMessage{},
	}
}

func (h *FakeHandle) Events() <-chan Event { return h.events }

// Emit injects an event as if the vendor client produced it.
func (h *FakeHandle) Emit(e Event) {
	defer func() { _ = recover() }()
	select {
	case <-h.done:
	case h.events <- e:
	}
}

func (h *FakeHandle) Connect(context.Context) error {
	if h.AutoAuth {
		h.Emit(Event{Type: EventQRReady, QRCode: "qr-" + h.AccountID})
		h.Emit(Event{Type: EventAuthenticated, AccountID: h.AccountID})
	}
	return nil
}

func (h *FakeHandle) Send(ctx context.Context, chatID, body string) (SendResult, error) {
	if h.SendDelay > 0 {
		select {
		case <-ctx.Done():
			return SendResult{}, ctx.Err()
		case <-time.After(h.SendDelay):
		}
	}
	if h.SendErr != nil {
		if err := h.SendErr(chatID); err != nil {
			return SendResult{}, err
		}
	}
	h.mu.Lock()
	h.sent = append(h.sent, SendRecord{ChatID: chatID, Body: body})
	n := len(h.sent)
	h.mu.Unlock()
	return SendResult{MessageID: fmt.Sprintf("out-%s-%d", h.AccountID, n), Timestamp: time.Now()}, nil
}

func (h *FakeHandle) ListChats(_ context.Context, limit int) ([]Chat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chats := h.Chats
	if limit > 0 && len(chats) > limit {
		chats = chats[:limit]
	}
	out := make([]Chat, len(chats))
	copy(out, chats)
	return out, nil
}

func (h *FakeHandle) ListMessages(_ context.Context, chatID string, limit int) ([]InboundMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.History[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]InboundMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (h *FakeHandle) Logout(context.Context) error {
	h.mu.Lock()
	h.loggedOut = true
	err := h.LogoutErr
	h.mu.Unlock()
	return err
}

func (h *FakeHandle) Destroy() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.destroyed = true
		h.mu.Unlock()
		close(h.done)
		close(h.events)
	})
}

// Sent returns a copy of the recorded sends.
func (h *FakeHandle) Sent() []SendRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SendRecord, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *FakeHandle) LoggedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loggedOut
}

func (h *FakeHandle) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// FakeDialer hands out FakeHandles and remembers them by session id so
// tests can reach the handle behind a session.
type FakeDialer struct {
	mu      sync.Mutex
	handles map[string]*FakeHandle
	seq     int

	// NewHandle overrides handle construction when set.
	NewHandle func(sessionID, wantAccount string) *FakeHandle
	// DialErr fails Dial entirely when set.
	DialErr error
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{handles: map[string]*FakeHandle{}}
}

func (d *FakeDialer) Dial(_ context.Context, sessionID, wantAccount string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}

	var h *FakeHandle
	if d.NewHandle != nil {
		h = d.NewHandle(sessionID, wantAccount)
	} else {
		d.seq++
		account := wantAccount
		if account == "" {
			account = fmt.Sprintf("1555000%04d", d.seq)
		}
		h = NewFakeHandle(account)
	}
	d.handles[sessionID] = h
	return h, nil
}

// Handle returns the last handle dialed for a session id.
func (d *FakeDialer) Handle(sessionID string) *FakeHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handles[sessionID]
}
