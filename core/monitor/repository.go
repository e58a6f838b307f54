package monitor

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-focus/core"
)

var ErrNotFound = errors.New("session record not found")

// RecordFilter selects the records returned by Repository.QueryRecords.
type RecordFilter struct {
	LearnerID string
	Kind      Kind
	Ordering  []core.DBOrdering
}

// Repository persists session records and their violations.
// Writes are only ever performed from the Service's sync loop, never from a tick.
type Repository interface {
	// SaveRecord inserts or updates a record.
	SaveRecord(ctx context.Context, rec Record) error
	// AppendViolations stores violations of an existing record.
	AppendViolations(ctx context.Context, sessionID string, vs []Violation) error
	GetRecord(ctx context.Context, id string) (Record, error)
	QueryRecords(ctx context.Context, filter RecordFilter) ([]Record, error)
	QueryViolations(ctx context.Context, sessionID string) ([]Violation, error)
	// DeleteRecordsBefore deletes the records (and their violations) started before t.
	DeleteRecordsBefore(ctx context.Context, t time.Time) (int64, error)
}

// orderingFields are the record fields QueryRecords can be ordered by.
var orderingFields = map[string]bool{
	"started_at":          true,
	"updated_at":          true,
	"finalized_at":        true,
	"valid_watch_seconds": true,
	"elapsed_seconds":     true,
	"kind":                true,
}

// CleanOrdering drops unknown fields and defaults to the most recent sessions first.
func CleanOrdering(ordering []core.DBOrdering) []core.DBOrdering {
	cleaned := make([]core.DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if orderingFields[ord.Field] {
			cleaned = append(cleaned, ord)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, core.DBOrdering{Field: "started_at"})
	}
	return cleaned
}
