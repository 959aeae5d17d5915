package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"whatspro/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- sessions ----

func (s *sqliteStore) SaveSession(ctx context.Context, sess *Session) error {
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, name, status, account_id, qr_code, active, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, status=excluded.status, account_id=excluded.account_id,
		   qr_code=excluded.qr_code, active=excluded.active, updated_at=excluded.updated_at`,
		sess.ID, sess.Name, sess.Status, nullStr(sess.AccountID), nullStr(sess.QRCode),
		boolInt(sess.Active), fmtTime(sess.CreatedAt), fmtTime(sess.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, account_id, qr_code, active, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func (s *sqliteStore) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, account_id, qr_code, active, created_at, updated_at
		 FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*Session, error) {
	var (
		sess               Session
		account, qr        sql.NullString
		active             int
		createdAt, updated string
	)
	if err := r.Scan(&sess.ID, &sess.Name, &sess.Status, &account, &qr, &active, &createdAt, &updated); err != nil {
		return nil, err
	}
	sess.AccountID = account.String
	sess.QRCode = qr.String
	sess.Active = active != 0
	sess.CreatedAt = parseTime(createdAt)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// ---- contacts ----

func (s *sqliteStore) UpsertContact(ctx context.Context, c *Contact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(id, session_id, external_id, name, is_group, avatar_url, last_seen)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(session_id, external_id) DO UPDATE SET
		   name=excluded.name, is_group=excluded.is_group,
		   avatar_url=excluded.avatar_url, last_seen=excluded.last_seen`,
		c.ID, c.SessionID, c.ExternalID, nullStr(c.Name), boolInt(c.IsGroup),
		nullStr(c.AvatarURL), nullTime(c.LastSeen),
	)
	return err
}

func (s *sqliteStore) GetContact(ctx context.Context, sessionID, externalID string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, external_id, name, is_group, avatar_url, last_seen
		 FROM contacts WHERE session_id = ? AND external_id = ?`, sessionID, externalID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) ListContacts(ctx context.Context, sessionID string) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, external_id, name, is_group, avatar_url, last_seen
		 FROM contacts WHERE session_id = ? ORDER BY name`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContact(r rowScanner) (*Contact, error) {
	var (
		c                  Contact
		name, avatar, seen sql.NullString
		isGroup            int
	)
	if err := r.Scan(&c.ID, &c.SessionID, &c.ExternalID, &name, &isGroup, &avatar, &seen); err != nil {
		return nil, err
	}
	c.Name = name.String
	c.AvatarURL = avatar.String
	c.IsGroup = isGroup != 0
	if seen.Valid {
		c.LastSeen = parseTime(seen.String)
	}
	return &c, nil
}

// ---- messages ----

func (s *sqliteStore) InsertMessage(ctx context.Context, m *Message) (bool, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages
		   (id, session_id, external_id, chat_id, from_id, to_id, body, type, is_group, author, sender_name, ts, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.SessionID, m.ExternalID, m.ChatID, nullStr(m.From), nullStr(m.To),
		m.Body, m.Type, boolInt(m.IsGroup), nullStr(m.Author), nullStr(m.SenderName),
		fmtTime(m.Timestamp), fmtTime(m.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ListMessages(ctx context.Context, sessionID, chatID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, session_id, external_id, chat_id, from_id, to_id, body, type, is_group, author, sender_name, ts, created_at
	      FROM messages WHERE session_id = ?`
	args := []any{sessionID}
	if chatID != "" {
		q += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m                            Message
			from, to, author, senderName sql.NullString
			isGroup                      int
			ts, createdAt                string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.ExternalID, &m.ChatID, &from, &to,
			&m.Body, &m.Type, &isGroup, &author, &senderName, &ts, &createdAt); err != nil {
			return nil, err
		}
		m.From = from.String
		m.To = to.String
		m.Author = author.String
		m.SenderName = senderName.String
		m.IsGroup = isGroup != 0
		m.Timestamp = parseTime(ts)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- campaigns ----

func (s *sqliteStore) SaveCampaign(ctx context.Context, c *Campaign) error {
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	variants, err := json.Marshal(c.Variants)
	if err != nil {
		return err
	}
	targets, err := json.Marshal(c.Targets)
	if err != nil {
		return err
	}
	sessions, err := json.Marshal(c.Sessions)
	if err != nil {
		return err
	}

	var scheduled any
	if c.ScheduledAt != nil {
		scheduled = fmtTime(*c.ScheduledAt)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns
		   (id, name, variants, targets, sessions, session_strategy, template_strategy,
		    message_delay_ms, batch_size, batch_delay_ms, jitter_min_ms, jitter_max_ms, retry_max,
		    status, sent, failed, pending, scheduled_at, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, variants=excluded.variants, targets=excluded.targets,
		   sessions=excluded.sessions, session_strategy=excluded.session_strategy,
		   template_strategy=excluded.template_strategy,
		   message_delay_ms=excluded.message_delay_ms, batch_size=excluded.batch_size,
		   batch_delay_ms=excluded.batch_delay_ms, jitter_min_ms=excluded.jitter_min_ms,
		   jitter_max_ms=excluded.jitter_max_ms, retry_max=excluded.retry_max,
		   status=excluded.status, sent=excluded.sent, failed=excluded.failed,
		   pending=excluded.pending, scheduled_at=excluded.scheduled_at,
		   updated_at=excluded.updated_at`,
		c.ID, c.Name, string(variants), string(targets), string(sessions),
		c.SessionStrategy, c.TemplateStrategy,
		c.Pacing.MessageDelay.Milliseconds(), c.Pacing.BatchSize, c.Pacing.BatchDelay.Milliseconds(),
		c.Pacing.JitterMin.Milliseconds(), c.Pacing.JitterMax.Milliseconds(), c.Pacing.RetryMax,
		c.Status, c.Sent, c.Failed, c.Pending, scheduled, fmtTime(c.CreatedAt), fmtTime(c.UpdatedAt),
	)
	return err
}

const campaignCols = `id, name, variants, targets, sessions, session_strategy, template_strategy,
  message_delay_ms, batch_size, batch_delay_ms, jitter_min_ms, jitter_max_ms, retry_max,
  status, sent, failed, pending, scheduled_at, created_at, updated_at`

func (s *sqliteStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignCols+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	return s.queryCampaigns(ctx, `SELECT `+campaignCols+` FROM campaigns ORDER BY created_at DESC`)
}

func (s *sqliteStore) ListDueCampaigns(ctx context.Context, now time.Time) ([]Campaign, error) {
	return s.queryCampaigns(ctx,
		`SELECT `+campaignCols+` FROM campaigns
		 WHERE status = 'scheduled' AND scheduled_at IS NOT NULL AND scheduled_at <= ?`,
		fmtTime(now))
}

func (s *sqliteStore) queryCampaigns(ctx context.Context, q string, args ...any) ([]Campaign, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateCampaignProgress(ctx context.Context, id string, sent, failed, pending int, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent = ?, failed = ?, pending = ?, status = ?, updated_at = ? WHERE id = ?`,
		sent, failed, pending, status, fmtTime(time.Now()), id)
	return err
}

func scanCampaign(r rowScanner) (*Campaign, error) {
	var (
		c                           Campaign
		variants, targets, sessions string
		msgDelay, batchDelay        int64
		jitterMin, jitterMax        int64
		scheduled                   sql.NullString
		createdAt, updatedAt        string
	)
	if err := r.Scan(&c.ID, &c.Name, &variants, &targets, &sessions,
		&c.SessionStrategy, &c.TemplateStrategy,
		&msgDelay, &c.Pacing.BatchSize, &batchDelay, &jitterMin, &jitterMax, &c.Pacing.RetryMax,
		&c.Status, &c.Sent, &c.Failed, &c.Pending, &scheduled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(variants), &c.Variants); err != nil {
		return nil, fmt.Errorf("campaign %s: variants: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &c.Targets); err != nil {
		return nil, fmt.Errorf("campaign %s: targets: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(sessions), &c.Sessions); err != nil {
		return nil, fmt.Errorf("campaign %s: sessions: %w", c.ID, err)
	}
	c.Pacing.MessageDelay = time.Duration(msgDelay) * time.Millisecond
	c.Pacing.BatchDelay = time.Duration(batchDelay) * time.Millisecond
	c.Pacing.JitterMin = time.Duration(jitterMin) * time.Millisecond
	c.Pacing.JitterMax = time.Duration(jitterMax) * time.Millisecond
	if scheduled.Valid {
		t := parseTime(scheduled.String)
		c.ScheduledAt = &t
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// ---- helpers ----

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
