package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-focus/core"
	"github.com/trezcool/masomo-focus/core/monitor"
)

// TestRepository runs the behaviour every monitor.Repository must have against an empty repo.
func TestRepository(t *testing.T, repo monitor.Repository) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	alice1 := CreateRecord(t, repo, "alice", monitor.KindVideo, 100, now.Add(-3*time.Hour))
	alice2 := CreateRecord(t, repo, "alice", monitor.KindQuiz, 300, now.Add(-2*time.Hour))
	bob := CreateRecord(t, repo, "bob", monitor.KindVideo, 200, now.Add(-time.Hour))

	t.Run("get", func(t *testing.T) {
		got, err := repo.GetRecord(ctx, alice1.ID)
		require.NoError(t, err)
		assert.Equal(t, alice1, got)

		_, err = repo.GetRecord(ctx, "7d4b0c5e-6f0e-4c8e-9c47-0d0f5c3c1a11")
		assert.Equal(t, monitor.ErrNotFound, err)
		_, err = repo.GetRecord(ctx, "not-an-id")
		assert.Equal(t, monitor.ErrNotFound, err)
	})

	t.Run("query", func(t *testing.T) {
		tests := []struct {
			name   string
			filter monitor.RecordFilter
			want   []monitor.Record
		}{
			{
				name:   "learner, most recent first",
				filter: monitor.RecordFilter{LearnerID: "alice", Ordering: monitor.CleanOrdering(nil)},
				want:   []monitor.Record{alice2, alice1},
			},
			{
				name:   "kind",
				filter: monitor.RecordFilter{Kind: monitor.KindVideo, Ordering: core.ParseOrdering("started_at")},
				want:   []monitor.Record{alice1, bob},
			},
			{
				name:   "by valid watch time",
				filter: monitor.RecordFilter{Ordering: core.ParseOrdering("-valid_watch_seconds")},
				want:   []monitor.Record{alice2, bob, alice1},
			},
			{
				name:   "no match",
				filter: monitor.RecordFilter{LearnerID: "carol"},
				want:   []monitor.Record{},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.QueryRecords(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("save updates until finalized", func(t *testing.T) {
		rec := alice1
		rec.ValidWatchSeconds = 550
		rec.ElapsedSeconds = 600
		rec.Ledger = monitor.Ledger{TabSwitches: 1, SkipCount: 1, SkippedSeconds: 12.5}
		rec.TerminationReason = monitor.ReasonTabAway
		rec.Result = &monitor.CompletionResult{Accepted: false, Reasons: []string{"attempt terminated: tab_away"}}
		rec.FinalizedAt = now
		require.NoError(t, repo.SaveRecord(ctx, rec))

		got, err := repo.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, got)

		late := rec
		late.ValidWatchSeconds = 600
		late.Result = &monitor.CompletionResult{Accepted: true, Reasons: []string{}}
		require.NoError(t, repo.SaveRecord(ctx, late))
		got, err = repo.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec, got, "finalized record must not change")
	})

	t.Run("violations", func(t *testing.T) {
		vs := []monitor.Violation{
			{Seq: 1, Tick: 10, Kind: monitor.ViolationTabSwitch, OccurredAt: now},
			{Seq: 2, Tick: 10, Kind: monitor.ViolationAutoPause, OccurredAt: now},
		}
		require.NoError(t, repo.AppendViolations(ctx, bob.ID, vs))
		// retried batch
		more := []monitor.Violation{vs[1], {Seq: 3, Tick: 42, Kind: monitor.ViolationSkip, Amount: 30, OccurredAt: now}}
		require.NoError(t, repo.AppendViolations(ctx, bob.ID, more))

		got, err := repo.QueryViolations(ctx, bob.ID)
		require.NoError(t, err)
		assert.Equal(t, append(vs, more[1]), got)
		assert.Equal(t, monitor.Ledger{TabSwitches: 1, AutoPauses: 1, SkipCount: 1, SkippedSeconds: 30}, monitor.Replay(got))
	})

	t.Run("delete before", func(t *testing.T) {
		n, err := repo.DeleteRecordsBefore(ctx, now.Add(-90*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		got, err := repo.QueryRecords(ctx, monitor.RecordFilter{Ordering: monitor.CleanOrdering(nil)})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, bob.ID, got[0].ID)

		vs, err := repo.QueryViolations(ctx, bob.ID)
		require.NoError(t, err)
		assert.Len(t, vs, 3)
	})
}
