// Package audit implements the append-only, per-conversation-ordered
// Audit Entry log (§3, §5). Grounded on internal/journal/journal.go's
// append-only JSONL writer, generalized from a single global mutex to a
// per-conversation mutex so unrelated conversations don't serialize
// behind one another while entries within a conversation stay totally
// ordered by submission order, per §5's ordering guarantee.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Entry is an append-only record of (request, response, intent, handler,
// alert_flag, reason). Subject identifies the thing the entry is about
// (a request id or a memory id for memory-store mutations); Action names
// the event kind.
type Entry struct {
	ConversationID string
	RequestID      string
	Action         string
	Subject        string
	Intent         string
	Handler        string
	ResponseText   string
	AlertFlag      bool
	Reason         string
	Deleted        bool
	Timestamp      time.Time
}

// Sink is the external audit collaborator (§6): append with ordered
// per-conversation delivery.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// SQLiteSink persists entries to a segmented append-only SQLite table. A
// per-conversation monotonically increasing sequence number enforces the
// total-order guarantee from §5 without forcing unrelated conversations
// to contend for a single writer lock.
type SQLiteSink struct {
	db *sql.DB

	mu       sync.Mutex
	convLock map[string]*sync.Mutex
}

// NewSQLiteSink wires a Sink against an already-open *sql.DB, creating
// the audit table if needed.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db, convLock: make(map[string]*sync.Mutex)}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_log (
	conversation_id TEXT NOT NULL DEFAULT '',
	seq INTEGER NOT NULL,
	request_id TEXT,
	action TEXT NOT NULL,
	subject TEXT,
	intent TEXT,
	handler TEXT,
	response_text TEXT,
	alert_flag INTEGER NOT NULL DEFAULT 0,
	reason TEXT,
	deleted INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, seq)
)`)
	if err != nil {
		return nil, fmt.Errorf("migrate audit_log: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) lockFor(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.convLock[conversationID]
	if !ok {
		l = &sync.Mutex{}
		s.convLock[conversationID] = l
	}
	return l
}

// Append writes e to the log, assigning it the next sequence number
// within its conversation. Entries for the same conversation are
// serialized so submission order is preserved regardless of caller
// concurrency (§5: "synchronous append").
func (s *SQLiteSink) Append(ctx context.Context, e Entry) error {
	lock := s.lockFor(e.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	var nextSeq int64
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_log WHERE conversation_id = ?`, e.ConversationID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("compute next seq: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log (conversation_id, seq, request_id, action, subject, intent, handler, response_text, alert_flag, reason, deleted, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ConversationID, nextSeq, e.RequestID, e.Action, e.Subject, e.Intent, e.Handler,
		e.ResponseText, boolToInt(e.AlertFlag), e.Reason, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// SoftDelete marks an entry deleted without removing it from the log
// (§3: "may be soft-deleted but never erased while within retention").
func (s *SQLiteSink) SoftDelete(ctx context.Context, conversationID string, seq int64) error {
	lock := s.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_log SET deleted = 1 WHERE conversation_id = ? AND seq = ?`, conversationID, seq)
	return err
}

// ForConversation returns all non-deleted entries for a conversation in
// submission order.
func (s *SQLiteSink) ForConversation(ctx context.Context, conversationID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT request_id, action, subject, intent, handler, response_text, alert_flag, reason, created_at
FROM audit_log WHERE conversation_id = ? AND deleted = 0 ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var alertFlag int
		if err := rows.Scan(&e.RequestID, &e.Action, &e.Subject, &e.Intent, &e.Handler,
			&e.ResponseText, &alertFlag, &e.Reason, &e.Timestamp); err != nil {
			return nil, err
		}
		e.ConversationID = conversationID
		e.AlertFlag = alertFlag != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
