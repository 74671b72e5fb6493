// Package sqlstore implements store.ConversationStore over database/sql.
// The same statements run against Postgres (managed mode, pgx stdlib driver)
// and SQLite (standalone mode, modernc driver): queries are written with ?
// placeholders and rebound to the $N form for Postgres, timestamps travel as
// Go values, and JSON-ish columns are plain text.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// DialectPostgres selects $N placeholder rebinding; anything else keeps ?.
const DialectPostgres = "postgres"

type Store struct {
	db     *sql.DB
	rebind func(string) string
}

func New(db *sql.DB, dialect string) *Store {
	s := &Store{db: db, rebind: func(q string) string { return q }}
	if dialect == DialectPostgres {
		s.rebind = rebindPositional
	}
	return s
}

// rebindPositional rewrites ? placeholders to $1..$N.
func rebindPositional(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

const linkCols = `id, inbox_conversation_id, ai_session_ref, status, last_event_seq,
	assigned_team, priority, labels, custom_attributes, created_at, updated_at`

func (s *Store) GetOrCreate(ctx context.Context, inboxID string) (*store.ConversationLink, error) {
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO conversation_links
		 (id, inbox_conversation_id, ai_session_ref, status, last_event_seq,
		  assigned_team, priority, labels, custom_attributes, created_at, updated_at)
		 VALUES (?, ?, '', ?, 0, '', '', '[]', '', ?, ?)
		 ON CONFLICT (inbox_conversation_id) DO NOTHING`,
		store.GenNewID().String(), inboxID, string(store.StatusPending), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation link: %w", err)
	}
	return s.Get(ctx, inboxID)
}

func (s *Store) Get(ctx context.Context, inboxID string) (*store.ConversationLink, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+linkCols+` FROM conversation_links WHERE inbox_conversation_id = ?`), inboxID)
	return scanLink(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*store.ConversationLink, error) {
	var (
		l         store.ConversationLink
		id        string
		status    string
		labels    string
		attrsJSON string
	)
	err := row.Scan(
		&id, &l.InboxConversationID, &l.AISessionRef, &status, &l.LastEventSeq,
		&l.AssignedTeam, &l.Priority, &labels, &attrsJSON, &l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation link: %w", err)
	}

	l.Status = store.Status(status)
	l.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse link id: %w", err)
	}
	if labels != "" && labels != "[]" {
		if err := json.Unmarshal([]byte(labels), &l.Labels); err != nil {
			return nil, fmt.Errorf("decode labels: %w", err)
		}
	}
	// Empty attrsJSON means "never recorded", which is distinct from an
	// empty attribute set for post-handoff permission checks.
	if attrsJSON != "" {
		l.CustomAttributes = map[string]any{}
		if err := json.Unmarshal([]byte(attrsJSON), &l.CustomAttributes); err != nil {
			return nil, fmt.Errorf("decode custom attributes: %w", err)
		}
	}
	return &l, nil
}

func (s *Store) ApplyEventSeq(ctx context.Context, inboxID string, seq int64) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE conversation_links SET last_event_seq = ?, updated_at = ?
		 WHERE inbox_conversation_id = ? AND last_event_seq < ?`,
		seq, time.Now().UTC(), inboxID, seq,
	)
	if err != nil {
		return false, fmt.Errorf("apply event seq: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) TransitionStatus(ctx context.Context, inboxID string, to store.Status, from ...store.Status) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition to %s: empty from-set", to)
	}
	placeholders := make([]string, len(from))
	args := []any{string(to), time.Now().UTC(), inboxID}
	for i, f := range from {
		placeholders[i] = "?"
		args = append(args, string(f))
	}

	res, err := s.exec(ctx,
		`UPDATE conversation_links SET status = ?, updated_at = ?
		 WHERE inbox_conversation_id = ? AND status IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetStatus(ctx context.Context, inboxID string, status store.Status) error {
	return s.setColumn(ctx, inboxID,
		`UPDATE conversation_links SET status = ?, updated_at = ? WHERE inbox_conversation_id = ?`,
		string(status))
}

func (s *Store) BindSessionRef(ctx context.Context, inboxID, ref string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE conversation_links SET ai_session_ref = ?, updated_at = ?
		 WHERE inbox_conversation_id = ? AND ai_session_ref = ''`,
		ref, time.Now().UTC(), inboxID,
	)
	if err != nil {
		return false, fmt.Errorf("bind session ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetAssignedTeam(ctx context.Context, inboxID, team string) error {
	return s.setColumn(ctx, inboxID,
		`UPDATE conversation_links SET assigned_team = ?, updated_at = ? WHERE inbox_conversation_id = ?`,
		team)
}

func (s *Store) SetPriority(ctx context.Context, inboxID, priority string) error {
	return s.setColumn(ctx, inboxID,
		`UPDATE conversation_links SET priority = ?, updated_at = ? WHERE inbox_conversation_id = ?`,
		priority)
}

func (s *Store) SetLabels(ctx context.Context, inboxID string, labels []string) error {
	data, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	return s.setColumn(ctx, inboxID,
		`UPDATE conversation_links SET labels = ?, updated_at = ? WHERE inbox_conversation_id = ?`,
		string(data))
}

func (s *Store) SetCustomAttributes(ctx context.Context, inboxID string, attrs map[string]any) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encode custom attributes: %w", err)
	}
	return s.setColumn(ctx, inboxID,
		`UPDATE conversation_links SET custom_attributes = ?, updated_at = ? WHERE inbox_conversation_id = ?`,
		string(data))
}

// setColumn runs a single-column update with the shared (value, now, inboxID)
// argument shape and maps zero affected rows to ErrNotFound.
func (s *Store) setColumn(ctx context.Context, inboxID, query string, value any) error {
	res, err := s.exec(ctx, query, value, time.Now().UTC(), inboxID)
	if err != nil {
		return fmt.Errorf("update conversation link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context, opts store.ListOpts) (store.ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	status := string(opts.Status)

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM conversation_links WHERE (? = '' OR status = ?)`),
		status, status,
	).Scan(&total); err != nil {
		return store.ListResult{}, fmt.Errorf("count conversation links: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+linkCols+` FROM conversation_links
		 WHERE (? = '' OR status = ?)
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		status, status, limit, opts.Offset,
	)
	if err != nil {
		return store.ListResult{}, fmt.Errorf("list conversation links: %w", err)
	}
	defer rows.Close()

	result := store.ListResult{Total: total}
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return store.ListResult{}, err
		}
		result.Links = append(result.Links, *l)
	}
	return result, rows.Err()
}

func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.exec(ctx,
		`UPDATE conversation_links SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		string(store.StatusPending), time.Now().UTC(), string(store.StatusProcessing), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
