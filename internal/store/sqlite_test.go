package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"whatspro/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "app.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSessionRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	s := &Session{ID: "s1", Name: "work", Status: "initializing", Active: true}
	if err := st.SaveSession(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "work" || got.Status != "initializing" || !got.Active {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", got)
	}

	// Same id updates in place.
	s.Status = "ready"
	s.AccountID = "919876543210"
	if err := st.SaveSession(ctx, s); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = st.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "ready" || got.AccountID != "919876543210" {
		t.Fatalf("update lost: %+v", got)
	}

	list, err := st.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list length %d", len(list))
	}

	if _, err := st.GetSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing session err = %v, want ErrNotFound", err)
	}
}

func TestMessageDedup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveSession(ctx, &Session{ID: "s1", Name: "a", Status: "ready"}); err != nil {
		t.Fatalf("save session: %v", err)
	}

	m := &Message{
		ID: "m1", SessionID: "s1", ExternalID: "X1", ChatID: "919000000001",
		Body: "hello", Type: TypeText, Timestamp: time.Now(),
	}
	ok, err := st.InsertMessage(ctx, m)
	if err != nil || !ok {
		t.Fatalf("first insert ok=%v err=%v", ok, err)
	}

	// Re-delivery with a fresh row id but the same external id is ignored.
	dup := *m
	dup.ID = "m2"
	dup.Body = "hello again"
	ok, err = st.InsertMessage(ctx, &dup)
	if err != nil {
		t.Fatalf("dup insert: %v", err)
	}
	if ok {
		t.Fatalf("duplicate reported as inserted")
	}

	msgs, err := st.ListMessages(ctx, "s1", "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	// The same external id under another session is distinct.
	if err := st.SaveSession(ctx, &Session{ID: "s2", Name: "b", Status: "ready"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	other := *m
	other.ID = "m3"
	other.SessionID = "s2"
	ok, err = st.InsertMessage(ctx, &other)
	if err != nil || !ok {
		t.Fatalf("cross-session insert ok=%v err=%v", ok, err)
	}
}

func TestListMessagesChatFilterAndLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveSession(ctx, &Session{ID: "s1", Name: "a", Status: "ready"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 6; i++ {
		chat := "chat-a"
		if i%2 == 1 {
			chat = "chat-b"
		}
		m := &Message{
			ID: "m" + string(rune('0'+i)), SessionID: "s1",
			ExternalID: "X" + string(rune('0'+i)), ChatID: chat,
			Body: "n", Type: TypeText,
			Timestamp: base, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := st.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	msgs, err := st.ListMessages(ctx, "s1", "chat-a", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("chat filter returned %d rows", len(msgs))
	}
	for _, m := range msgs {
		if m.ChatID != "chat-a" {
			t.Fatalf("filter leaked %+v", m)
		}
	}

	msgs, err = st.ListMessages(ctx, "s1", "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("limit returned %d rows", len(msgs))
	}
	// Newest first.
	if !msgs[0].CreatedAt.After(msgs[1].CreatedAt) {
		t.Fatalf("not sorted newest first: %v, %v", msgs[0].CreatedAt, msgs[1].CreatedAt)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveSession(ctx, &Session{ID: "s1", Name: "a", Status: "ready"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := st.UpsertContact(ctx, &Contact{ID: "c1", SessionID: "s1", ExternalID: "919000000001", Name: "Asha"}); err != nil {
		t.Fatalf("upsert contact: %v", err)
	}
	if _, err := st.InsertMessage(ctx, &Message{
		ID: "m1", SessionID: "s1", ExternalID: "X1", ChatID: "919000000001",
		Body: "hi", Type: TypeText, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := st.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := st.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("session survived delete")
	}
	contacts, err := st.ListContacts(ctx, "s1")
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if len(contacts) != 0 {
		t.Fatalf("contacts survived cascade: %+v", contacts)
	}
	msgs, err := st.ListMessages(ctx, "s1", "", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("messages survived cascade: %+v", msgs)
	}
}

func TestContactUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SaveSession(ctx, &Session{ID: "s1", Name: "a", Status: "ready"}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	c := &Contact{ID: "c1", SessionID: "s1", ExternalID: "919000000001", Name: "Asha"}
	if err := st.UpsertContact(ctx, c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	c2 := &Contact{ID: "c2", SessionID: "s1", ExternalID: "919000000001", Name: "Asha K"}
	if err := st.UpsertContact(ctx, c2); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := st.GetContact(ctx, "s1", "919000000001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Asha K" {
		t.Fatalf("upsert did not update name: %+v", got)
	}
	list, err := st.ListContacts(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("upsert duplicated row: %+v", list)
	}
}

func TestCampaignRoundTripAndProgress(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	sched := time.Now().Add(-time.Minute).UTC()
	c := &Campaign{
		ID:   "c1",
		Name: "launch",
		Variants: []Variant{
			{Text: "Hi {name}", Weight: 3},
			{Text: "Hello {phone}", Weight: 1},
		},
		Targets:          []string{"919000000001", "919000000002"},
		Sessions:         []string{"s1", "s2"},
		SessionStrategy:  "round-robin",
		TemplateStrategy: "weighted",
		Pacing: Pacing{
			MessageDelay: 3 * time.Second,
			BatchSize:    20,
			BatchDelay:   30 * time.Second,
			JitterMin:    500 * time.Millisecond,
			JitterMax:    2 * time.Second,
			RetryMax:     2,
		},
		Status:      "scheduled",
		Pending:     2,
		ScheduledAt: &sched,
	}
	if err := st.SaveCampaign(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.GetCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Variants) != 2 || got.Variants[0].Weight != 3 {
		t.Fatalf("variants lost: %+v", got.Variants)
	}
	if len(got.Targets) != 2 || len(got.Sessions) != 2 {
		t.Fatalf("lists lost: %+v", got)
	}
	if got.Pacing.MessageDelay != 3*time.Second || got.Pacing.JitterMin != 500*time.Millisecond {
		t.Fatalf("pacing lost: %+v", got.Pacing)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(sched) {
		t.Fatalf("scheduled_at lost: %v", got.ScheduledAt)
	}

	due, err := st.ListDueCampaigns(ctx, time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "c1" {
		t.Fatalf("due = %+v", due)
	}

	if err := st.UpdateCampaignProgress(ctx, "c1", 1, 0, 1, "running"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	got, err = st.GetCampaign(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Sent != 1 || got.Pending != 1 || got.Status != "running" {
		t.Fatalf("progress lost: %+v", got)
	}

	// Running campaigns are no longer due.
	due, err = st.ListDueCampaigns(ctx, time.Now())
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("running campaign still due: %+v", due)
	}
}
