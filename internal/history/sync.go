// Package history turns inbound protocol events and bulk history pulls
// into deduplicated, normalized, persisted rows. Persist happens before
// broadcast, always.
package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"whatspro/internal/eventbus"
	"whatspro/internal/store"
	"whatspro/internal/wa"
	"whatspro/pkg/logx"
)

const (
	defaultMaxChats           = 20
	defaultMaxMessagesPerChat = 50
)

type Synchronizer struct {
	store store.Store
	bus   eventbus.Bus
	log   logx.Logger

	mu         sync.Mutex
	maxChats   int
	maxPerChat int
}

func New(st store.Store, bus eventbus.Bus, log logx.Logger) *Synchronizer {
	return &Synchronizer{
		store:      st,
		bus:        bus,
		log:        log,
		maxChats:   defaultMaxChats,
		maxPerChat: defaultMaxMessagesPerChat,
	}
}

// SetBounds adjusts the bulk-pull limits; zero keeps the current value.
// Safe to call while pulls are running (applies to the next pull).
func (s *Synchronizer) SetBounds(maxChats, maxPerChat int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if maxChats > 0 {
		s.maxChats = maxChats
	}
	if maxPerChat > 0 {
		s.maxPerChat = maxPerChat
	}
}

func (s *Synchronizer) bounds() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxChats, s.maxPerChat
}

// Ingest persists one inbound message. It reports false when the
// (session, external id) pair was already stored; re-delivery is not an
// error. Contact enrichment is best-effort and never blocks the persist.
func (s *Synchronizer) Ingest(ctx context.Context, sessionID string, in wa.InboundMessage) (bool, error) {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := store.Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		ExternalID: in.ExternalID,
		ChatID:     in.ChatID,
		From:       in.From,
		To:         in.To,
		Body:       in.Body,
		Type:       NormalizeType(in.VendorType),
		IsGroup:    in.IsGroup,
		Author:     in.Author,
		SenderName: in.SenderName,
		Timestamp:  ts,
	}

	if c, err := s.store.GetContact(ctx, sessionID, in.ChatID); err == nil && c.Name != "" {
		msg.SenderName = c.Name
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Debug("contact enrichment failed", logx.String("session", sessionID), logx.Err(err))
	}

	inserted, err := s.store.InsertMessage(ctx, &msg)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeMessageReceived, Data: msg})
	return true, nil
}

// PullRecent runs the bounded one-time history sweep for a session that
// just became ready. One failing chat never aborts the sweep; the return
// value counts newly persisted messages.
func (s *Synchronizer) PullRecent(ctx context.Context, sessionID string, h wa.Handle) (int, error) {
	maxChats, maxPerChat := s.bounds()

	chats, err := h.ListChats(ctx, maxChats)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, chat := range chats {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		contact := store.Contact{
			ID:         uuid.NewString(),
			SessionID:  sessionID,
			ExternalID: chat.ID,
			Name:       chat.Name,
			IsGroup:    chat.IsGroup,
		}
		if err := s.store.UpsertContact(ctx, &contact); err != nil {
			s.log.Debug("contact upsert failed", logx.String("session", sessionID), logx.String("chat", chat.ID), logx.Err(err))
		}

		msgs, err := h.ListMessages(ctx, chat.ID, maxPerChat)
		if err != nil {
			s.log.Warn("history pull: chat skipped", logx.String("session", sessionID), logx.String("chat", chat.ID), logx.Err(err))
			continue
		}
		for _, m := range msgs {
			inserted, err := s.Ingest(ctx, sessionID, m)
			if err != nil {
				s.log.Warn("history pull: message skipped", logx.String("session", sessionID), logx.String("chat", chat.ID), logx.Err(err))
				continue
			}
			if inserted {
				synced++
			}
		}
	}

	s.log.Info("history pull finished",
		logx.String("session", sessionID),
		logx.Int("chats", len(chats)),
		logx.Int("synced", synced))
	return synced, nil
}
