package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/trfife/barnabeenet/internal/domain"
	"github.com/trfife/barnabeenet/internal/obslog"
)

// MaintenanceResult summarizes one maintenance pass (§4.7).
type MaintenanceResult struct {
	Scanned  int
	Archived int
	Purged   int
}

// RunMaintenance recomputes effective importance for every non-archived
// memory, archives those below threshold, and purges archived memories
// older than deleteAfterDays. Grounded on internal/memory/traces.go's
// PruneWeak (age + strength threshold eviction) generalized to the
// archive-then-purge two-stage policy from §4.7.
func (s *Store) RunMaintenance(ctx context.Context, archiveThreshold float64, deleteAfterDays int, baseHalfLifeDays float64) (MaintenanceResult, error) {
	var result MaintenanceResult

	rows, err := s.db.QueryContext(ctx, `
SELECT id, content, type, base_importance, emotion, participants, tags, created_at, last_accessed, access_count, archived
FROM memories WHERE archived = 0`)
	if err != nil {
		return result, fmt.Errorf("scan non-archived memories: %w", err)
	}
	var toArchive []string
	now := time.Now()
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			rows.Close()
			return result, err
		}
		result.Scanned++
		eff := EffectiveImportance(m, baseHalfLifeDays, now)
		if eff < archiveThreshold {
			toArchive = append(toArchive, m.ID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, err
	}
	rows.Close()

	for _, id := range toArchive {
		if err := s.SoftDelete(ctx, id, "maintenance: effective_importance below archive_threshold"); err != nil {
			obslog.Error("memstore", "archive %s failed: %v", id, err)
			continue
		}
		result.Archived++
	}

	cutoff := now.AddDate(0, 0, -deleteAfterDays)
	purgeRows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE archived = 1 AND last_accessed < ?`, cutoff)
	if err != nil {
		return result, fmt.Errorf("scan archived memories for purge: %w", err)
	}
	var toPurge []string
	for purgeRows.Next() {
		var id string
		if err := purgeRows.Scan(&id); err != nil {
			purgeRows.Close()
			return result, err
		}
		toPurge = append(toPurge, id)
	}
	if err := purgeRows.Err(); err != nil {
		purgeRows.Close()
		return result, err
	}
	purgeRows.Close()

	for _, id := range toPurge {
		if err := s.purge(ctx, id); err != nil {
			obslog.Error("memstore", "purge %s failed: %v", id, err)
			continue
		}
		result.Purged++
	}

	obslog.Info("memstore", "maintenance pass: scanned=%d archived=%d purged=%d", result.Scanned, result.Archived, result.Purged)
	return result, nil
}

// purge hard-deletes an archived memory row (but never its audit trail,
// per §4.7: "delete archived memories older than delete_after_days").
func (s *Store) purge(ctx context.Context, id string) error {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete memory row %s: %w", id, err)
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, id); err != nil {
			obslog.Error("memstore", "vector index delete for %s failed: %v", id, err)
		}
	}
	s.appendAudit(ctx, "memory.purge", id, fmt.Sprintf("ttl expired"))
	return nil
}

// DefaultMaintenanceParams bundles the §4.7 defaults.
func DefaultMaintenanceParams() (archiveThreshold float64, deleteAfterDays int, baseHalfLifeDays float64) {
	return domain.ArchiveThreshold, domain.DeleteAfterDays, domain.BaseHalfLifeDays
}
