package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the vec0 module with database/sql's default sqlite3
	// driver so CREATE VIRTUAL TABLE ... USING vec0(...) works against
	// any *sql.DB opened with the mattn/go-sqlite3 driver name.
	sqlite_vec.Auto()
}

// VectorMatch is a single nearest-neighbor hit.
type VectorMatch struct {
	ID         string
	Similarity float64
}

// VectorIndex is the nearest-neighbor search abstraction used by the
// Memory Retriever (C6). The production implementation is backed by the
// sqlite-vec extension; tests may substitute an in-memory linear-scan
// implementation (see fakeVectorIndex in fake_index_test.go).
type VectorIndex interface {
	Upsert(ctx context.Context, id string, embedding []float32) error
	Delete(ctx context.Context, id string) error
	// Search returns up to topN nearest neighbors by cosine distance,
	// ordered nearest first.
	Search(ctx context.Context, query []float32, topN int) ([]VectorMatch, error)
}

// sqliteVecIndex implements VectorIndex against a vec0 virtual table.
type sqliteVecIndex struct {
	db          *sql.DB
	table       string
	dims        int
	rowidByID   map[string]int64
	idByRowid   map[int64]string
	nextRowid   int64
}

// NewSQLiteVecIndex creates (if needed) a vec0 virtual table of the given
// dimensionality and returns a VectorIndex backed by it.
func NewSQLiteVecIndex(db *sql.DB, table string, dims int) (VectorIndex, error) {
	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(embedding float[%d])", table, dims)
	if _, err := db.Exec(stmt); err != nil {
		return nil, fmt.Errorf("create vec table %s: %w", table, err)
	}
	idx := &sqliteVecIndex{
		db:        db,
		table:     table,
		dims:      dims,
		rowidByID: make(map[string]int64),
		idByRowid: make(map[int64]string),
	}
	if err := idx.loadMapping(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *sqliteVecIndex) mapTable() string {
	return idx.table + "_id_map"
}

func (idx *sqliteVecIndex) loadMapping() error {
	_, err := idx.db.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (rowid INTEGER PRIMARY KEY, memory_id TEXT UNIQUE)",
		idx.mapTable(),
	))
	if err != nil {
		return fmt.Errorf("create id map table: %w", err)
	}
	rows, err := idx.db.Query(fmt.Sprintf("SELECT rowid, memory_id FROM %s", idx.mapTable()))
	if err != nil {
		return fmt.Errorf("load id map: %w", err)
	}
	defer rows.Close()
	var maxRowid int64
	for rows.Next() {
		var rowid int64
		var id string
		if err := rows.Scan(&rowid, &id); err != nil {
			return err
		}
		idx.rowidByID[id] = rowid
		idx.idByRowid[rowid] = id
		if rowid > maxRowid {
			maxRowid = rowid
		}
	}
	idx.nextRowid = maxRowid + 1
	return rows.Err()
}

func (idx *sqliteVecIndex) Upsert(ctx context.Context, id string, embedding []float32) error {
	serialized, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	rowid, exists := idx.rowidByID[id]
	if !exists {
		rowid = idx.nextRowid
		idx.nextRowid++
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if exists {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", idx.table), rowid); err != nil {
			return fmt.Errorf("delete stale vector row: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s(rowid, embedding) VALUES (?, ?)", idx.table,
	), rowid, serialized); err != nil {
		return fmt.Errorf("insert vector row: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s(rowid, memory_id) VALUES (?, ?)", idx.mapTable(),
	), rowid, id); err != nil {
		return fmt.Errorf("update id map: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	idx.rowidByID[id] = rowid
	idx.idByRowid[rowid] = id
	return nil
}

func (idx *sqliteVecIndex) Delete(ctx context.Context, id string) error {
	rowid, ok := idx.rowidByID[id]
	if !ok {
		return nil
	}
	if _, err := idx.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", idx.table), rowid); err != nil {
		return fmt.Errorf("delete vector row: %w", err)
	}
	if _, err := idx.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", idx.mapTable()), rowid); err != nil {
		return fmt.Errorf("delete id map row: %w", err)
	}
	delete(idx.rowidByID, id)
	delete(idx.idByRowid, rowid)
	return nil
}

func (idx *sqliteVecIndex) Search(ctx context.Context, query []float32, topN int) ([]VectorMatch, error) {
	if topN <= 0 {
		topN = 20
	}
	serialized, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT rowid, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance",
		idx.table,
	), serialized, topN)
	if err != nil {
		return nil, fmt.Errorf("vec search: %w", err)
	}
	defer rows.Close()

	var matches []VectorMatch
	for rows.Next() {
		var rowid int64
		var distance float64
		if err := rows.Scan(&rowid, &distance); err != nil {
			return nil, err
		}
		id, ok := idx.idByRowid[rowid]
		if !ok {
			continue
		}
		// vec0's default metric for float[] columns is L2 distance on
		// cosine-normalized vectors; similarity = 1 - distance^2/2 is
		// the corresponding cosine similarity for unit vectors.
		similarity := 1 - (distance*distance)/2
		matches = append(matches, VectorMatch{ID: id, Similarity: similarity})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	return matches, rows.Err()
}
