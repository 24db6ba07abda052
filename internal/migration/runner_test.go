package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/store"
)

const targetPartition = "unified_words"

var fixedNow = time.Date(2025, 6, 7, 8, 9, 10, 0, time.UTC)

// faultyStore wraps a MemoryStore with injectable write and ping failures.
type faultyStore struct {
	*store.MemoryStore
	pingErr           error
	failIDs           map[string]bool
	transientFailures int
	writes            int
	afterWrite        func()
}

func (s *faultyStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.MemoryStore.Ping(ctx)
}

func (s *faultyStore) WriteBatch(ctx context.Context, partition string, records []store.Record) error {
	s.writes++
	if s.transientFailures > 0 {
		s.transientFailures--
		return errors.New("unavailable")
	}
	for _, r := range records {
		if s.failIDs[r.ID] {
			return fmt.Errorf("rejected %s", r.ID)
		}
	}
	if err := s.MemoryStore.WriteBatch(ctx, partition, records); err != nil {
		return err
	}
	if s.afterWrite != nil {
		s.afterWrite()
	}
	return nil
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: store.NewMemoryStore(store.DefaultLimits, targetPartition)}
}

func newTestRunner(s store.RecordStore, opts Options) *Runner {
	return newTestRunnerAt(s, opts, fixedNow)
}

func newTestRunnerAt(s store.RecordStore, opts Options, now time.Time) *Runner {
	clock := func() time.Time { return now }
	opts.Now = clock
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	return NewRunner(s, s, normalizer.New(normalizer.WithClock(clock)), opts)
}

func TestRunner_Run_LegacyPDFScenario(t *testing.T) {
	s := newFaultyStore()
	s.Put("legacy_pdf", "pdf-1", store.Document{
		"word":        "Abate",
		"definitions": []any{map[string]any{"definition": "줄다", "examples": []any{"Prices abated."}}},
	})

	report, err := newTestRunner(s, Options{}).Run(context.Background(), []string{"legacy_pdf"}, targetPartition, 1)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 1, Migrated: 1, Skipped: 0, Errors: 0}, report.Totals)
	assert.Equal(t, StateDone, report.Partition("legacy_pdf").State)
	assert.Equal(t, 1, s.writes)

	snapshot, err := s.Snapshot(targetPartition)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	doc := snapshot["pdf-1"]
	assert.Equal(t, "Abate", doc["word"])
	assert.Equal(t, "abate", doc["normalizedWord"])
	assert.Equal(t, "줄다", doc["definition"])
	assert.Equal(t, []any{"Prices abated."}, doc["examples"])
	assert.Equal(t, float64(25), doc["quality"].(map[string]any)["score"])
	assert.Equal(t, "pdf_extraction", doc["source"].(map[string]any)["type"])
}

func TestRunner_Run_IsIdempotent(t *testing.T) {
	s := newFaultyStore()
	for i := range 5 {
		s.Put("words", fmt.Sprintf("w%d", i), store.Document{"word": fmt.Sprintf("word %d", i), "definition": "definition"})
	}
	ctx := context.Background()

	first, err := newTestRunner(s, Options{}).Run(ctx, []string{"words"}, targetPartition, 2)
	require.NoError(t, err)
	afterFirst, err := s.Snapshot(targetPartition)
	require.NoError(t, err)

	// The second run has a later clock; the records it rewrites keep their values.
	second, err := newTestRunnerAt(s, Options{}, fixedNow.Add(24*time.Hour)).Run(ctx, []string{"words"}, targetPartition, 2)
	require.NoError(t, err)
	afterSecond, err := s.Snapshot(targetPartition)
	require.NoError(t, err)

	assert.Len(t, afterSecond, 5)
	assert.Equal(t, afterFirst, afterSecond)
	assert.Equal(t, first.Totals, second.Totals)
	assert.Equal(t, Counts{Total: 5, Migrated: 5}, second.Totals)
}

func TestRunner_Run_RerunKeepsCreationTime(t *testing.T) {
	s := newFaultyStore()
	s.Put("words", "w1", store.Document{"word": "abate", "definition": "줄다"})
	ctx := context.Background()

	_, err := newTestRunner(s, Options{}).Run(ctx, []string{"words"}, targetPartition, 10)
	require.NoError(t, err)

	// The source record changed, so only updatedAt moves forward.
	s.Put("words", "w1", store.Document{"word": "abate", "definition": "줄다", "examples": []any{"The storm abated."}})
	later := fixedNow.Add(48 * time.Hour)
	_, err = newTestRunnerAt(s, Options{}, later).Run(ctx, []string{"words"}, targetPartition, 10)
	require.NoError(t, err)

	snapshot, err := s.Snapshot(targetPartition)
	require.NoError(t, err)
	doc := snapshot["w1"]
	assert.Equal(t, fixedNow.Format(time.RFC3339), doc["createdAt"])
	assert.Equal(t, fixedNow.Format(time.RFC3339), doc["source"].(map[string]any)["addedAt"])
	assert.Equal(t, later.Format(time.RFC3339), doc["updatedAt"])
	assert.Equal(t, []any{"The storm abated."}, doc["examples"])
}

func TestRunner_Run_PartialFailure(t *testing.T) {
	s := newFaultyStore()
	s.Put("words", "a", store.Document{"word": "abate", "definition": "줄다"})
	s.Put("words", "b", store.Document{"word": "benign"})
	s.Put("words", "c", store.Document{"definition": "no word"})
	s.Put("words", "d", store.Document{"word": "cogent", "englishDefinition": "convincing", "difficulty": 12})
	s.Put("words", "e", store.Document{"word": "zeal", "englishDefinition": "passion"})

	var progress bytes.Buffer
	report, err := newTestRunner(s, Options{Writer: &progress}).Run(context.Background(), []string{"words"}, targetPartition, 10)
	require.NoError(t, err)

	pr := report.Partition("words")
	assert.Equal(t, StateDone, pr.State)
	assert.Equal(t, Counts{Total: 5, Migrated: 2, Errors: 3}, pr.Counts)
	var failedIDs []string
	for _, f := range pr.Failures {
		failedIDs = append(failedIDs, f.ID)
	}
	assert.Equal(t, []string{"b", "c", "d"}, failedIDs)

	snapshot, err := s.Snapshot(targetPartition)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
	assert.Contains(t, snapshot, "a")
	assert.Contains(t, snapshot, "e")

	assert.Contains(t, progress.String(), "[MIGRATED]  words/a")
	assert.Contains(t, progress.String(), "[ERROR]  words/b")
}

func TestRunner_Run_FirstSourceWins(t *testing.T) {
	s := newFaultyStore()
	s.Put("words", "x1", store.Document{"word": "abate", "definition": "from words"})
	s.Put("legacy_pdf", "x1", store.Document{"word": "abate", "definition": "from pdf"})
	s.Put("legacy_pdf", "x2", store.Document{"word": "benign", "definition": "gentle"})

	var progress bytes.Buffer
	report, err := newTestRunner(s, Options{Writer: &progress}).Run(context.Background(), []string{"words", "legacy_pdf"}, targetPartition, 10)
	require.NoError(t, err)

	assert.Equal(t, Counts{Total: 1, Migrated: 1}, report.Partition("words").Counts)
	assert.Equal(t, Counts{Total: 2, Migrated: 1, Skipped: 1}, report.Partition("legacy_pdf").Counts)
	assert.Equal(t, Counts{Total: 3, Migrated: 2, Skipped: 1}, report.Totals)
	assert.Contains(t, progress.String(), "[SKIP]  legacy_pdf/x1")

	snapshot, err := s.Snapshot(targetPartition)
	require.NoError(t, err)
	assert.Equal(t, "from words", snapshot["x1"]["definition"])
}

func TestRunner_Run_FailedBatchIsRetriedPerRecord(t *testing.T) {
	s := newFaultyStore()
	s.failIDs = map[string]bool{"b": true}
	for _, id := range []string{"a", "b", "c"} {
		s.Put("words", id, store.Document{"word": "word " + id, "definition": "definition"})
	}

	report, err := newTestRunner(s, Options{RetryAttempts: 2}).Run(context.Background(), []string{"words"}, targetPartition, 3)
	require.NoError(t, err)

	pr := report.Partition("words")
	assert.Equal(t, Counts{Total: 3, Migrated: 2, Errors: 1}, pr.Counts)
	require.Len(t, pr.Failures, 1)
	assert.Equal(t, RecordFailure{ID: "b", Reason: "rejected b"}, pr.Failures[0])
	// two batch attempts, then a, b twice, and c
	assert.Equal(t, 6, s.writes)

	snapshot, err := s.Snapshot(targetPartition)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2)
}

func TestRunner_Run_RetriesTransientWriteErrors(t *testing.T) {
	s := newFaultyStore()
	s.transientFailures = 1
	s.Put("words", "a", store.Document{"word": "abate", "definition": "줄다"})

	report, err := newTestRunner(s, Options{RetryAttempts: 3}).Run(context.Background(), []string{"words"}, targetPartition, 10)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 1, Migrated: 1}, report.Totals)
	assert.Equal(t, 2, s.writes)
}

func TestRunner_Run_FatalErrors(t *testing.T) {
	t.Run("target unreachable", func(t *testing.T) {
		s := newFaultyStore()
		s.pingErr = errors.New("connection refused")
		s.Put("words", "a", store.Document{"word": "abate", "definition": "줄다"})

		report, err := newTestRunner(s, Options{}).Run(context.Background(), []string{"words"}, targetPartition, 10)
		assert.ErrorIs(t, err, ErrTargetUnreachable)
		require.NotNil(t, report)
		assert.Equal(t, StatePending, report.Partition("words").State)
		assert.Zero(t, s.writes)
	})

	t.Run("source partition missing", func(t *testing.T) {
		s := newFaultyStore()
		s.Put("words", "a", store.Document{"word": "abate", "definition": "줄다"})

		report, err := newTestRunner(s, Options{}).Run(context.Background(), []string{"words", "no_such_partition"}, targetPartition, 10)
		assert.ErrorIs(t, err, ErrSourceUnreadable)
		assert.ErrorIs(t, err, store.ErrPartitionNotFound)
		require.NotNil(t, report)
		assert.Equal(t, Counts{Total: 1, Migrated: 1}, report.Totals)
		assert.Equal(t, StateDone, report.Partition("words").State)
	})
}

func TestRunner_Run_Cancellation(t *testing.T) {
	s := newFaultyStore()
	for _, id := range []string{"a", "b", "c"} {
		s.Put("words", id, store.Document{"word": "word " + id, "definition": "definition"})
	}
	s.Put("legacy_pdf", "p", store.Document{"word": "pdf", "definition": "definition"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.afterWrite = cancel

	report, err := newTestRunner(s, Options{}).Run(ctx, []string{"words", "legacy_pdf"}, targetPartition, 1)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Totals.Migrated)
	assert.Equal(t, StateCancelled, report.Partition("words").State)
	assert.Equal(t, StateCancelled, report.Partition("legacy_pdf").State)

	snapshot, err := s.Snapshot(targetPartition)
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
}

func TestRunner_Run_DryRun(t *testing.T) {
	s := newFaultyStore()
	s.Put("words", "a", store.Document{"word": "abate", "definition": "줄다"})
	s.Put("words", "b", store.Document{"word": "benign"})

	report, err := newTestRunner(s, Options{DryRun: true}).Run(context.Background(), []string{"words"}, targetPartition, 10)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, Counts{Total: 2, Migrated: 1, Errors: 1}, report.Totals)
	assert.Zero(t, s.writes)
}

func TestRunner_Run_Paging(t *testing.T) {
	s := newFaultyStore()
	for i := range 7 {
		s.Put("words", fmt.Sprintf("w%d", i), store.Document{"word": fmt.Sprintf("word %d", i), "definition": "definition"})
	}

	report, err := newTestRunner(s, Options{PageSize: 2}).Run(context.Background(), []string{"words"}, targetPartition, 3)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 7, Migrated: 7}, report.Totals)
	// batches of 3, 3 and 1
	assert.Equal(t, 3, s.writes)
}

func TestRunner_Run_BatchSizeIsCappedByStoreLimit(t *testing.T) {
	s := &faultyStore{MemoryStore: store.NewMemoryStore(store.Limits{MaxGetBatch: 30, MaxWriteBatch: 2}, targetPartition)}
	for i := range 5 {
		s.Put("words", fmt.Sprintf("w%d", i), store.Document{"word": fmt.Sprintf("word %d", i), "definition": "definition"})
	}

	report, err := newTestRunner(s, Options{}).Run(context.Background(), []string{"words"}, targetPartition, 100)
	require.NoError(t, err)
	assert.Equal(t, Counts{Total: 5, Migrated: 5}, report.Totals)
	assert.Equal(t, 3, s.writes)
}

func TestReport_Markdown(t *testing.T) {
	report := newReport([]string{"words", "legacy_pdf"}, targetPartition, false, fixedNow)
	report.FinishedAt = fixedNow.Add(time.Minute)
	report.Partitions[0].State = StateDone
	report.Partitions[0].Counts = Counts{Total: 3, Migrated: 2, Errors: 1}
	report.Partitions[0].Failures = []RecordFailure{{ID: "b", Reason: "definition_required"}}
	report.Partitions[1].State = StateDone
	report.Partitions[1].Counts = Counts{Total: 1, Migrated: 1}
	report.rollup()

	got := report.Markdown()
	assert.Contains(t, got, "# Migration into unified_words")
	assert.Contains(t, got, "| words | DONE | 3 | 2 | 0 | 1 |")
	assert.Contains(t, got, "| **Total** | | 4 | 3 | 0 | 1 |")
	assert.Contains(t, got, "## Failures in words")
	assert.Contains(t, got, "- `b`: definition_required")
	assert.NotContains(t, got, "## Failures in legacy_pdf")
}
