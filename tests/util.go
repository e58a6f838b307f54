package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
	"github.com/trezcool/masomo-focus/storage/database"
)

// PrepareDB opens and migrates the test database; tests are skipped when it is not reachable.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	conf := core.NewConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	db, err := database.Open(ctx, conf)
	if err != nil {
		t.Skipf("database not available: %v", err)
	}
	if err = database.Migrate(db.DB); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Exec("TRUNCATE monitor_session CASCADE")
		_ = db.Close()
	})
	return db
}

// CreateRecord saves a running (not finalized) session record started at `startedAt`.
func CreateRecord(
	t *testing.T,
	repo monitor.Repository,
	learnerID string,
	kind monitor.Kind,
	validSeconds float64,
	startedAt time.Time,
) monitor.Record {
	t.Helper()
	rec := monitor.Record{
		ID:                   uuid.New().String(),
		LearnerID:            learnerID,
		Kind:                 kind,
		TotalDurationSeconds: 600,
		ValidWatchSeconds:    validSeconds,
		ElapsedSeconds:       validSeconds,
		Rules:                DefaultRules(),
		StartedAt:            startedAt.UTC().Truncate(time.Microsecond),
		UpdatedAt:            startedAt.UTC().Truncate(time.Microsecond),
	}
	if err := repo.SaveRecord(context.Background(), rec); err != nil {
		t.Fatalf("CreateRecord() failed: %v", err)
	}
	return rec
}

func DefaultRules() monitor.CompletionRules {
	return monitor.CompletionRules{
		MaxTabSwitches:           3,
		MaxFaceMissingEvents:     3,
		MaxAutoPauses:            5,
		MaxSkips:                 2,
		MinWatchTimePercentage:   0.9,
		MaxSkippedTimePercentage: 0.1,
	}
}

// NopLogger discards everything.
type NopLogger struct{}

var _ core.Logger = NopLogger{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
func (NopLogger) Fatal(string, ...interface{}) {}

// MailBox is a core.EmailService keeping the messages it is asked to send.
type MailBox struct {
	Messages chan *core.EmailMessage
}

func NewMailBox() *MailBox {
	return &MailBox{Messages: make(chan *core.EmailMessage, 16)}
}

func (mb *MailBox) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		_ = msg.Render()
		mb.Messages <- msg
	}
}
