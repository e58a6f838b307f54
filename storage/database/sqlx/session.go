package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-focus/core/monitor"
)

const sessionColumns = `id, learner_id, kind, total_duration_seconds, valid_watch_seconds, elapsed_seconds,
	tab_switches, face_missing_events, auto_pauses, skip_count, skipped_seconds,
	completed, termination_reason, rules, accepted, rejection_reasons,
	started_at, updated_at, finalized_at`

type (
	sessionRow struct {
		ID                   string         `db:"id"`
		LearnerID            string         `db:"learner_id"`
		Kind                 string         `db:"kind"`
		TotalDurationSeconds float64        `db:"total_duration_seconds"`
		ValidWatchSeconds    float64        `db:"valid_watch_seconds"`
		ElapsedSeconds       float64        `db:"elapsed_seconds"`
		TabSwitches          int            `db:"tab_switches"`
		FaceMissingEvents    int            `db:"face_missing_events"`
		AutoPauses           int            `db:"auto_pauses"`
		SkipCount            int            `db:"skip_count"`
		SkippedSeconds       float64        `db:"skipped_seconds"`
		Completed            bool           `db:"completed"`
		TerminationReason    string         `db:"termination_reason"`
		Rules                string         `db:"rules"` // jsonb, bound as text
		Accepted             null.Bool      `db:"accepted"`
		RejectionReasons     pq.StringArray `db:"rejection_reasons"`
		StartedAt            null.Time      `db:"started_at"`
		UpdatedAt            null.Time      `db:"updated_at"`
		FinalizedAt          null.Time      `db:"finalized_at"`
	}

	violationRow struct {
		SessionID  string    `db:"session_id"`
		Seq        int       `db:"seq"`
		Tick       int64     `db:"tick"`
		Kind       string    `db:"kind"`
		Amount     float64   `db:"amount"`
		OccurredAt time.Time `db:"occurred_at"`
	}

	sessionRepository struct {
		db *sqlx.DB
	}
)

var _ monitor.Repository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func fromNullTime(t null.Time) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func toRow(rec monitor.Record) (sessionRow, error) {
	rules, err := json.Marshal(rec.Rules)
	if err != nil {
		return sessionRow{}, errors.Wrap(err, "encoding rules")
	}
	row := sessionRow{
		ID:                   rec.ID,
		LearnerID:            rec.LearnerID,
		Kind:                 string(rec.Kind),
		TotalDurationSeconds: rec.TotalDurationSeconds,
		ValidWatchSeconds:    rec.ValidWatchSeconds,
		ElapsedSeconds:       rec.ElapsedSeconds,
		TabSwitches:          rec.Ledger.TabSwitches,
		FaceMissingEvents:    rec.Ledger.FaceMissingEvents,
		AutoPauses:           rec.Ledger.AutoPauses,
		SkipCount:            rec.Ledger.SkipCount,
		SkippedSeconds:       rec.Ledger.SkippedSeconds,
		Completed:            rec.Completed,
		TerminationReason:    rec.TerminationReason.String(),
		Rules:                string(rules),
		StartedAt:            nullTime(rec.StartedAt),
		UpdatedAt:            nullTime(rec.UpdatedAt),
		FinalizedAt:          nullTime(rec.FinalizedAt),
	}
	if rec.Result != nil {
		row.Accepted = null.BoolFrom(rec.Result.Accepted)
		row.RejectionReasons = rec.Result.Reasons
	}
	return row, nil
}

func (row sessionRow) record() (monitor.Record, error) {
	rec := monitor.Record{
		ID:                   row.ID,
		LearnerID:            row.LearnerID,
		Kind:                 monitor.Kind(row.Kind),
		TotalDurationSeconds: row.TotalDurationSeconds,
		ValidWatchSeconds:    row.ValidWatchSeconds,
		ElapsedSeconds:       row.ElapsedSeconds,
		Ledger: monitor.Ledger{
			TabSwitches:       row.TabSwitches,
			FaceMissingEvents: row.FaceMissingEvents,
			AutoPauses:        row.AutoPauses,
			SkipCount:         row.SkipCount,
			SkippedSeconds:    row.SkippedSeconds,
		},
		Completed:   row.Completed,
		StartedAt:   fromNullTime(row.StartedAt),
		UpdatedAt:   fromNullTime(row.UpdatedAt),
		FinalizedAt: fromNullTime(row.FinalizedAt),
	}
	if err := rec.TerminationReason.UnmarshalText([]byte(row.TerminationReason)); err != nil {
		return monitor.Record{}, err
	}
	if row.Rules != "" {
		if err := json.Unmarshal([]byte(row.Rules), &rec.Rules); err != nil {
			return monitor.Record{}, errors.Wrap(err, "decoding rules")
		}
	}
	if row.Accepted.Valid {
		reasons := []string(row.RejectionReasons)
		if reasons == nil {
			reasons = []string{}
		}
		rec.Result = &monitor.CompletionResult{Accepted: row.Accepted.Bool, Reasons: reasons}
	}
	return rec, nil
}

func (repo sessionRepository) SaveRecord(ctx context.Context, rec monitor.Record) error {
	row, err := toRow(rec)
	if err != nil {
		return err
	}
	q := `INSERT INTO monitor_session (` + sessionColumns + `) VALUES (
		:id, :learner_id, :kind, :total_duration_seconds, :valid_watch_seconds, :elapsed_seconds,
		:tab_switches, :face_missing_events, :auto_pauses, :skip_count, :skipped_seconds,
		:completed, :termination_reason, :rules, :accepted, :rejection_reasons,
		:started_at, :updated_at, :finalized_at)
	ON CONFLICT (id) DO UPDATE SET
		valid_watch_seconds = EXCLUDED.valid_watch_seconds,
		elapsed_seconds = EXCLUDED.elapsed_seconds,
		tab_switches = EXCLUDED.tab_switches,
		face_missing_events = EXCLUDED.face_missing_events,
		auto_pauses = EXCLUDED.auto_pauses,
		skip_count = EXCLUDED.skip_count,
		skipped_seconds = EXCLUDED.skipped_seconds,
		completed = EXCLUDED.completed,
		termination_reason = EXCLUDED.termination_reason,
		accepted = EXCLUDED.accepted,
		rejection_reasons = EXCLUDED.rejection_reasons,
		started_at = EXCLUDED.started_at,
		updated_at = EXCLUDED.updated_at,
		finalized_at = EXCLUDED.finalized_at
	WHERE monitor_session.finalized_at IS NULL`
	if _, err = repo.db.NamedExecContext(ctx, q, row); err != nil {
		return errors.Wrap(err, "saving session")
	}
	return nil
}

func (repo sessionRepository) AppendViolations(ctx context.Context, sessionID string, vs []monitor.Violation) error {
	if len(vs) == 0 {
		return nil
	}
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// retried batches may overlap: seq is unique per session
	q := `INSERT INTO monitor_violation (session_id, seq, tick, kind, amount, occurred_at)
		VALUES (:session_id, :seq, :tick, :kind, :amount, :occurred_at)
		ON CONFLICT (session_id, seq) DO NOTHING`
	for _, v := range vs {
		row := violationRow{
			SessionID:  sessionID,
			Seq:        v.Seq,
			Tick:       int64(v.Tick),
			Kind:       string(v.Kind),
			Amount:     v.Amount,
			OccurredAt: v.OccurredAt.UTC(),
		}
		if _, err = tx.NamedExecContext(ctx, q, row); err != nil {
			return errors.Wrap(err, "inserting violation")
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing violations")
	}
	return nil
}

func (repo sessionRepository) GetRecord(ctx context.Context, id string) (monitor.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return monitor.Record{}, monitor.ErrNotFound
	}
	var row sessionRow
	err := repo.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM monitor_session WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return monitor.Record{}, monitor.ErrNotFound
	} else if err != nil {
		return monitor.Record{}, errors.Wrap(err, "finding session by ID")
	}
	return row.record()
}

func (repo sessionRepository) QueryRecords(ctx context.Context, filter monitor.RecordFilter) ([]monitor.Record, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.LearnerID != "" {
		args = append(args, filter.LearnerID)
		where = append(where, fmt.Sprintf("learner_id = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	q := `SELECT ` + sessionColumns + ` FROM monitor_session`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	// fields are checked against monitor.CleanOrdering by the service
	if len(filter.Ordering) > 0 {
		orderList := make([]string, 0, len(filter.Ordering))
		for _, ord := range filter.Ordering {
			orderList = append(orderList, ord.String())
		}
		q += " ORDER BY " + strings.Join(orderList, ", ")
	}

	var rows []sessionRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	records := make([]monitor.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (repo sessionRepository) QueryViolations(ctx context.Context, sessionID string) ([]monitor.Violation, error) {
	if _, err := uuid.Parse(sessionID); err != nil {
		return nil, monitor.ErrNotFound
	}
	var rows []violationRow
	q := `SELECT session_id, seq, tick, kind, amount, occurred_at FROM monitor_violation WHERE session_id = $1 ORDER BY seq`
	if err := repo.db.SelectContext(ctx, &rows, q, sessionID); err != nil {
		return nil, errors.Wrap(err, "querying violations")
	}
	vs := make([]monitor.Violation, 0, len(rows))
	for _, row := range rows {
		vs = append(vs, monitor.Violation{
			Seq:        row.Seq,
			Tick:       uint64(row.Tick),
			Kind:       monitor.ViolationKind(row.Kind),
			Amount:     row.Amount,
			OccurredAt: row.OccurredAt.UTC(),
		})
	}
	return vs, nil
}

func (repo sessionRepository) DeleteRecordsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM monitor_session WHERE started_at < $1`, t.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "deleting sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "deleting sessions")
	}
	return n, nil
}
