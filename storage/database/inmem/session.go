package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
)

type sessionRepository struct {
	db *sessionTable
}

var _ monitor.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *DB) *sessionRepository {
	return &sessionRepository{db: db.session}
}

func copyRecord(rec monitor.Record) monitor.Record {
	if rec.Result != nil {
		res := monitor.CompletionResult{Accepted: rec.Result.Accepted, Reasons: append([]string{}, rec.Result.Reasons...)}
		rec.Result = &res
	}
	return rec
}

func (repo *sessionRepository) SaveRecord(_ context.Context, rec monitor.Record) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if orig, ok := repo.db.table[rec.ID]; ok && orig.Finalized() {
		return nil // read-only once finalized
	}
	rec = copyRecord(rec)
	repo.db.table[rec.ID] = &rec
	return nil
}

func (repo *sessionRepository) AppendViolations(_ context.Context, sessionID string, vs []monitor.Violation) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[sessionID]; !ok {
		return monitor.ErrNotFound
	}
	existing := repo.db.violations[sessionID]
	for _, v := range vs {
		if len(existing) > 0 && v.Seq <= existing[len(existing)-1].Seq {
			continue // already stored by a retried batch
		}
		existing = append(existing, v)
	}
	repo.db.violations[sessionID] = existing
	return nil
}

func (repo *sessionRepository) GetRecord(_ context.Context, id string) (monitor.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if rec, ok := repo.db.table[id]; ok {
		return copyRecord(*rec), nil
	}
	return monitor.Record{}, monitor.ErrNotFound
}

func (repo *sessionRepository) QueryRecords(_ context.Context, filter monitor.RecordFilter) ([]monitor.Record, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	records := make([]monitor.Record, 0, len(repo.db.table))
	for _, rec := range repo.db.table {
		if filter.LearnerID != "" && rec.LearnerID != filter.LearnerID {
			continue
		}
		if filter.Kind != "" && rec.Kind != filter.Kind {
			continue
		}
		records = append(records, copyRecord(*rec))
	}
	sortRecords(records, filter.Ordering)
	return records, nil
}

func (repo *sessionRepository) QueryViolations(_ context.Context, sessionID string) ([]monitor.Violation, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	return append([]monitor.Violation{}, repo.db.violations[sessionID]...), nil
}

func (repo *sessionRepository) DeleteRecordsBefore(_ context.Context, t time.Time) (int64, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int64
	for id, rec := range repo.db.table {
		if rec.StartedAt.Before(t) {
			delete(repo.db.table, id)
			delete(repo.db.violations, id)
			n++
		}
	}
	return n, nil
}

// compare returns -1, 0 or 1 comparing a and b on a monitor.CleanOrdering field.
func compare(a, b monitor.Record, field string) int {
	cmpTime := func(x, y time.Time) int {
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	}
	cmpFloat := func(x, y float64) int {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	switch field {
	case "started_at":
		return cmpTime(a.StartedAt, b.StartedAt)
	case "updated_at":
		return cmpTime(a.UpdatedAt, b.UpdatedAt)
	case "finalized_at":
		return cmpTime(a.FinalizedAt, b.FinalizedAt)
	case "valid_watch_seconds":
		return cmpFloat(a.ValidWatchSeconds, b.ValidWatchSeconds)
	case "elapsed_seconds":
		return cmpFloat(a.ElapsedSeconds, b.ElapsedSeconds)
	case "kind":
		return strings.Compare(string(a.Kind), string(b.Kind))
	}
	return 0
}

func sortRecords(records []monitor.Record, ordering []core.DBOrdering) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, ord := range ordering {
			c := compare(records[i], records[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return records[i].ID < records[j].ID
	})
}
