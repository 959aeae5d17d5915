// Package wa wraps the external protocol client behind a message-passing
// boundary: each connection exposes one typed event stream plus a small set
// of operations. Callers never see vendor callbacks or vendor types; the
// lifecycle controller consumes Events() from its own loop.
package wa

import (
	"context"
	"time"
)

type EventType string

const (
	EventQRReady         EventType = "qr_ready"
	EventAuthenticated   EventType = "authenticated"
	EventMessageReceived EventType = "message_received"
	EventChatListReady   EventType = "chat_list_ready"
	EventDisconnected    EventType = "disconnected"
	EventAuthFailed      EventType = "auth_failed"
	EventError           EventType = "error"
)

// Event is one lifecycle or inbound-traffic signal from a connection.
// Exactly one payload field is meaningful per Type.
type Event struct {
	Type      EventType
	QRCode    string
	AccountID string
	Message   *InboundMessage
	Reason    string
	Err       error
}

// InboundMessage carries the raw vendor message type string; normalization
// into the canonical taxonomy happens in the synchronizer, never here.
type InboundMessage struct {
	ExternalID string
	ChatID     string
	From       string
	To         string
	Body       string
	VendorType string
	IsGroup    bool
	Author     string // group sender, empty for direct chats
	SenderName string // push name if the vendor supplied one
	Timestamp  time.Time
}

type Chat struct {
	ID      string
	Name    string
	IsGroup bool
}

type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Handle is one live protocol connection. Implementations must keep
// Events() open until Destroy and must never block inside vendor
// callbacks waiting on the consumer.
type Handle interface {
	// Events delivers lifecycle and message events. The channel is closed
	// by Destroy.
	Events() <-chan Event
	// Connect starts the handshake; QR/auth outcomes arrive as events.
	Connect(ctx context.Context) error
	Send(ctx context.Context, chatID, body string) (SendResult, error)
	ListChats(ctx context.Context, limit int) ([]Chat, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]InboundMessage, error)
	Logout(ctx context.Context) error
	// Destroy releases the connection unconditionally. Idempotent.
	Destroy()
}

// Dialer produces Handles. wantAccount is set when restoring a persisted
// session: the implementation must bind to that account's stored device
// rather than starting a fresh pairing.
type Dialer interface {
	Dial(ctx context.Context, sessionID, wantAccount string) (Handle, error)
}
