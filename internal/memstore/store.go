package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/trfife/barnabeenet/internal/audit"
	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// Store is the durable Memory store (C6/C7). Writes are serialized per
// memory id; reads are concurrent, matching §3's ownership rule that "the
// memory store is shared; writes are serialized per memory id; reads are
// concurrent."
type Store struct {
	db    *sql.DB
	index VectorIndex
	audit audit.Sink

	idLocksMu sync.Mutex
	idLocks   map[string]*sync.Mutex
}

// NewStore wires a durable Store against an already-open *sql.DB (schema
// created on demand) and the given vector index / audit sink
// collaborators.
func NewStore(db *sql.DB, index VectorIndex, auditSink audit.Sink) (*Store, error) {
	s := &Store{db: db, index: index, audit: auditSink, idLocks: make(map[string]*sync.Mutex)}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	type TEXT NOT NULL,
	base_importance REAL NOT NULL,
	emotion TEXT,
	participants TEXT NOT NULL DEFAULT '[]',
	tags TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	last_accessed TIMESTAMP NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	archived INTEGER NOT NULL DEFAULT 0,
	schema_version INTEGER NOT NULL DEFAULT 1
)`)
	if err != nil {
		return fmt.Errorf("migrate memories table: %w", err)
	}
	return nil
}

// CurrentSchemaVersion is the memory-record schema version persisted with
// every row (§6: "memory records carry a schema version and must be
// readable by the next minor version").
const CurrentSchemaVersion = 1

func (s *Store) lockFor(id string) *sync.Mutex {
	s.idLocksMu.Lock()
	defer s.idLocksMu.Unlock()
	l, ok := s.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.idLocks[id] = l
	}
	return l
}

// Create persists a new Memory and indexes its embedding.
func (s *Store) Create(ctx context.Context, m domain.Memory) error {
	lock := s.lockFor(m.ID)
	lock.Lock()
	defer lock.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.LastAccessed.IsZero() {
		m.LastAccessed = m.CreatedAt
	}

	participants, _ := json.Marshal(m.Participants)
	tags, _ := json.Marshal(m.Tags)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO memories (id, content, type, base_importance, emotion, participants, tags, created_at, last_accessed, access_count, archived, schema_version)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, string(m.Type), m.BaseImportance, m.Emotion, string(participants), string(tags),
		m.CreatedAt, m.LastAccessed, m.AccessCount, boolToInt(m.Archived), CurrentSchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", m.ID, err)
	}

	if len(m.Embedding) > 0 && s.index != nil {
		if err := s.index.Upsert(ctx, m.ID, ToFloat32(m.Embedding)); err != nil {
			obslog.Error("memstore", "index upsert for %s failed: %v", m.ID, err)
		}
	}

	s.appendAudit(ctx, "memory.create", m.ID, "")
	return nil
}

// Get loads a single Memory by id.
func (s *Store) Get(ctx context.Context, id string) (domain.Memory, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, content, type, base_importance, emotion, participants, tags, created_at, last_accessed, access_count, archived
FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return domain.Memory{}, false, nil
	}
	if err != nil {
		return domain.Memory{}, false, err
	}
	return m, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (domain.Memory, error) {
	var m domain.Memory
	var typ string
	var participants, tags string
	var archived int
	err := row.Scan(&m.ID, &m.Content, &typ, &m.BaseImportance, &m.Emotion, &participants, &tags,
		&m.CreatedAt, &m.LastAccessed, &m.AccessCount, &archived)
	if err != nil {
		return domain.Memory{}, err
	}
	m.Type = domain.MemoryType(typ)
	m.Archived = archived != 0
	_ = json.Unmarshal([]byte(participants), &m.Participants)
	_ = json.Unmarshal([]byte(tags), &m.Tags)
	return m, nil
}

// SoftDelete marks a memory archived (excluded from retrieval, retained
// for audit) and records reason. Never hard-deletes from the audit log.
func (s *Store) SoftDelete(ctx context.Context, id, reason string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE memories SET archived = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("soft delete %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil
	}
	s.appendAudit(ctx, "memory.soft_delete", id, reason)
	return nil
}

// Reinforce adds the configured reinforcement increment to a memory's
// base importance, saturating at 1.0, and stamps access.
func (s *Store) Reinforce(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("reinforce: memory %s not found", id)
	}
	newImportance := Reinforce(m.BaseImportance)
	_, err = s.db.ExecContext(ctx, `
UPDATE memories SET base_importance = ?, access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		newImportance, time.Now(), id)
	if err != nil {
		return fmt.Errorf("reinforce %s: %w", id, err)
	}
	s.appendAudit(ctx, "memory.reinforce", id, "")
	return nil
}

// StampAccess increments access_count and last_accessed for ids as a
// best-effort side effect of retrieval (§4.6 step 5).
func (s *Store) StampAccess(ctx context.Context, ids []string) {
	now := time.Now()
	for _, id := range ids {
		lock := s.lockFor(id)
		lock.Lock()
		_, err := s.db.ExecContext(ctx, `
UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`, now, id)
		lock.Unlock()
		if err != nil {
			obslog.Error("memstore", "stamp access for %s failed: %v", id, err)
		}
	}
}

// Filters narrows a retrieval or recall query by speaker/tag/type.
type Filters struct {
	Speaker string
	Tags    []string
	Type    domain.MemoryType // empty = any type
}

// loadAndFilter loads one or more candidate memories for scoring,
// excluding archived ones, and applying Filters.
func (s *Store) loadAndFilter(ctx context.Context, ids []string, f Filters) ([]domain.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`
SELECT id, content, type, base_importance, emotion, participants, tags, created_at, last_accessed, access_count, archived
FROM memories WHERE id IN (%s) AND archived = 0`, strings.Join(placeholders, ","))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		if !matchesFilters(m, f) {
			continue
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// List returns up to limit non-archived memories ordered by most recently
// created first. Used by operational tooling to inspect the store without
// going through retrieval scoring.
func (s *Store) List(ctx context.Context, limit int) ([]domain.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, type, base_importance, emotion, participants, tags, created_at, last_accessed, access_count, archived
FROM memories WHERE archived = 0 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []domain.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func matchesFilters(m domain.Memory, f Filters) bool {
	if f.Speaker != "" {
		found := false
		for _, p := range m.Participants {
			if p == f.Speaker {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	if len(f.Tags) > 0 {
		tagSet := make(map[string]bool, len(m.Tags))
		for _, t := range m.Tags {
			tagSet[t] = true
		}
		any := false
		for _, want := range f.Tags {
			if tagSet[want] {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

func (s *Store) appendAudit(ctx context.Context, action, memoryID, reason string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Append(ctx, audit.Entry{
		ConversationID: "", // memory mutations are not conversation-scoped
		Action:         action,
		Subject:        memoryID,
		Reason:         reason,
		Timestamp:      time.Now(),
	})
	if err != nil {
		obslog.Error("memstore", "audit append failed for %s %s: %v", action, memoryID, err)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
