package wa

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"

	"whatspro/pkg/logx"
)

// histMaxPerChat bounds how many history-sync messages are buffered per
// chat for later ListMessages calls.
const histMaxPerChat = 100

type MeowConfig struct {
	// StorePath is the whatsmeow device database (one container shared by
	// all sessions; whatsmeow keys devices internally).
	StorePath string
}

type meowDialer struct {
	container *sqlstore.Container
	log       logx.Logger
}

// NewDialer opens the shared whatsmeow device container.
func NewDialer(ctx context.Context, cfg MeowConfig, log logx.Logger) (Dialer, error) {
	if strings.TrimSpace(cfg.StorePath) == "" {
		return nil, fmt.Errorf("whatsapp store path is required")
	}
	container, err := sqlstore.New(ctx, "sqlite3", "file:"+cfg.StorePath+"?_foreign_keys=on", waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &meowDialer{container: container, log: log}, nil
}

func (d *meowDialer) Dial(ctx context.Context, sessionID, wantAccount string) (Handle, error) {
	device := d.container.NewDevice()
	if wantAccount != "" {
		jid := types.NewJID(wantAccount, types.DefaultUserServer)
		dev, err := d.container.GetDevice(ctx, jid)
		if err != nil {
			return nil, fmt.Errorf("load device for %s: %w", wantAccount, err)
		}
		if dev == nil {
			return nil, fmt.Errorf("no stored device for account %s", wantAccount)
		}
		device = dev
	}

	cli := whatsmeow.NewClient(device, waLog.Noop)
	h := &meowHandle{
		cli:    cli,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		hist:   map[string][]InboundMessage{},
		log:    d.log.With(logx.String("session", sessionID)),
	}
	cli.AddEventHandler(h.translate)
	return h, nil
}

type meowHandle struct {
	cli    *whatsmeow.Client
	events chan Event
	done   chan struct{}
	once   sync.Once
	log    logx.Logger

	// history-sync buffer served by ListChats/ListMessages
	mu    sync.Mutex
	chats []Chat
	hist  map[string][]InboundMessage
}

func (h *meowHandle) Events() <-chan Event { return h.events }

func (h *meowHandle) emit(e Event) {
	// Destroy may close the channel concurrently with a vendor callback;
	// recover keeps that race from killing the callback goroutine.
	defer func() { _ = recover() }()
	select {
	case <-h.done:
	case h.events <- e:
	default:
		// The consumer loop is stuck; dropping beats deadlocking the
		// vendor callback goroutine.
		h.log.Warn("event dropped, consumer too slow", logx.String("type", string(e.Type)))
	}
}

func (h *meowHandle) Connect(ctx context.Context) error {
	if h.cli.Store.ID == nil {
		// Fresh pairing: surface QR codes as events. GetQRChannel must be
		// called before Connect.
		qrChan, err := h.cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		go func() {
			for evt := range qrChan {
				switch evt.Event {
				case "code":
					h.emit(Event{Type: EventQRReady, QRCode: evt.Code})
				case "timeout":
					h.emit(Event{Type: EventAuthFailed, Reason: "pairing timed out"})
				}
			}
		}()
	}
	return h.cli.Connect()
}

func (h *meowHandle) translate(raw any) {
	switch evt := raw.(type) {
	case *events.Connected:
		acct := ""
		if id := h.cli.Store.ID; id != nil {
			acct = id.User
		}
		h.emit(Event{Type: EventAuthenticated, AccountID: acct})
	case *events.Message:
		m := h.inbound(evt)
		h.emit(Event{Type: EventMessageReceived, Message: &m})
	case *events.HistorySync:
		h.stashHistory(evt)
	case *events.Disconnected:
		h.emit(Event{Type: EventDisconnected, Reason: "connection closed"})
	case *events.LoggedOut:
		h.emit(Event{Type: EventAuthFailed, Reason: "logged out on phone"})
	case *events.StreamError:
		h.emit(Event{Type: EventError, Err: fmt.Errorf("stream error: %s", evt.Code)})
	}
}

func (h *meowHandle) inbound(evt *events.Message) InboundMessage {
	info := evt.Info

	body := evt.Message.GetConversation()
	if body == "" {
		if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
			body = ext.GetText()
		}
	}

	// Raw vendor taxonomy: media type when present, message type otherwise.
	vendorType := info.MediaType
	if vendorType == "" {
		vendorType = info.Type
	}

	self := ""
	if id := h.cli.Store.ID; id != nil {
		self = id.User
	}

	m := InboundMessage{
		ExternalID: info.ID,
		ChatID:     info.Chat.String(),
		From:       info.Sender.User,
		To:         self,
		Body:       body,
		VendorType: vendorType,
		IsGroup:    info.IsGroup,
		SenderName: info.PushName,
		Timestamp:  info.Timestamp,
	}
	if info.IsGroup {
		m.Author = info.Sender.User
	}
	return m
}

func (h *meowHandle) stashHistory(evt *events.HistorySync) {
	synced := 0
	for _, conv := range evt.Data.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}
		for _, hm := range conv.GetMessages() {
			parsed, err := h.cli.ParseWebMessage(chatJID, hm.GetMessage())
			if err != nil {
				continue
			}
			m := h.inbound(parsed)

			h.mu.Lock()
			if msgs := h.hist[m.ChatID]; len(msgs) < histMaxPerChat {
				h.hist[m.ChatID] = append(msgs, m)
				synced++
			}
			h.mu.Unlock()
		}

		h.mu.Lock()
		known := false
		for _, c := range h.chats {
			if c.ID == chatJID.String() {
				known = true
				break
			}
		}
		if !known {
			h.chats = append(h.chats, Chat{
				ID:      chatJID.String(),
				Name:    conv.GetName(),
				IsGroup: chatJID.Server == types.GroupServer,
			})
		}
		h.mu.Unlock()
	}
	if synced > 0 {
		h.emit(Event{Type: EventChatListReady})
	}
}

func (h *meowHandle) Send(ctx context.Context, chatID, body string) (SendResult, error) {
	jid, err := parseChatJID(chatID)
	if err != nil {
		return SendResult{}, err
	}
	resp, err := h.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(body)})
	if err != nil {
		return SendResult{}, err
	}
	return SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (h *meowHandle) ListChats(_ context.Context, limit int) ([]Chat, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Chat, 0, len(h.chats))
	for _, c := range h.chats {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (h *meowHandle) ListMessages(_ context.Context, chatID string, limit int) ([]InboundMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.hist[chatID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]InboundMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (h *meowHandle) Logout(ctx context.Context) error {
	return h.cli.Logout(ctx)
}

func (h *meowHandle) Destroy() {
	h.once.Do(func() {
		close(h.done)
		h.cli.Disconnect()
		close(h.events)
	})
}

func parseChatJID(s string) (types.JID, error) {
	if strings.ContainsRune(s, '@') {
		return types.ParseJID(s)
	}
	if s == "" {
		return types.JID{}, fmt.Errorf("empty chat id")
	}
	return types.NewJID(s, types.DefaultUserServer), nil
}
