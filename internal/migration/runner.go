// Package migration copies legacy partitions into the canonical partition.
package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/avast/retry-go"

	"github.com/at-ishikawa/wordhub/internal/metrics"
	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

var (
	// ErrTargetUnreachable is returned when the target store cannot be reached at the start of a run.
	ErrTargetUnreachable = errors.New("target store is unreachable")
	// ErrSourceUnreadable is returned when a source partition cannot be read.
	ErrSourceUnreadable = errors.New("source partition cannot be read")

	errCancelled = errors.New("migration cancelled")
)

const (
	DefaultBatchSize     = 500
	DefaultPageSize      = 500
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 200 * time.Millisecond
)

// Options configures a Runner.
type Options struct {
	PageSize      int
	DryRun        bool
	RetryAttempts uint
	RetryDelay    time.Duration
	// Writer receives one progress line per record.
	Writer io.Writer
	Now    func() time.Time
}

// Runner migrates records from source partitions into a target partition.
type Runner struct {
	source     store.RecordStore
	target     store.RecordStore
	normalizer *normalizer.Normalizer
	opts       Options
}

// NewRunner creates a Runner reading from source and writing to target, which may be the same store.
func NewRunner(source, target store.RecordStore, wordNormalizer *normalizer.Normalizer, opts Options) *Runner {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Writer == nil {
		opts.Writer = io.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		source:     source,
		target:     target,
		normalizer: wordNormalizer,
		opts:       opts,
	}
}

// run holds the state of one Run call.
type run struct {
	*Runner
	targetPartition string
	batchSize       int
	// migrated maps ids already written in this run to their source partition.
	migrated map[string]string
}

// Run migrates every record of sources into target, batchSize records per
// write. Bad records are counted and skipped. The returned report is never
// nil; it is partial when an error is returned or the run is cancelled.
func (r *Runner) Run(ctx context.Context, sources []string, target string, batchSize int) (*Report, error) {
	report := newReport(sources, target, r.opts.DryRun, r.opts.Now())
	defer func() {
		report.FinishedAt = r.opts.Now()
		report.rollup()
	}()

	if err := r.target.Ping(ctx); err != nil {
		return report, fmt.Errorf("ping target store: %w: %w", ErrTargetUnreachable, err)
	}

	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limit := r.target.Limits().MaxWriteBatch; limit > 0 && batchSize > limit {
		batchSize = limit
	}
	state := &run{
		Runner:          r,
		targetPartition: target,
		batchSize:       batchSize,
		migrated:        make(map[string]string),
	}

	for i, pr := range report.Partitions {
		err := state.migratePartition(ctx, pr)
		if errors.Is(err, errCancelled) {
			report.Cancelled = true
			for _, rest := range report.Partitions[i:] {
				rest.State = StateCancelled
			}
			slog.Default().Info("migration cancelled", "partition", pr.Partition)
			return report, nil
		}
		if err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *run) migratePartition(ctx context.Context, pr *PartitionReport) error {
	logger := slog.Default().With("partition", pr.Partition, "target", s.targetPartition)
	logger.Info("migrating partition")

	var batch []store.Record
	afterID := ""
	for {
		pr.State = StateReading
		page, err := s.source.ListRecords(ctx, pr.Partition, afterID, s.opts.PageSize)
		if err != nil {
			if ctx.Err() != nil {
				return errCancelled
			}
			return fmt.Errorf("read partition %s: %w: %w", pr.Partition, ErrSourceUnreadable, err)
		}
		if len(page) == 0 {
			break
		}

		pr.State = StateNormalizing
		for _, record := range page {
			pr.Total++
			next, ok := s.prepare(pr, record)
			if !ok {
				continue
			}
			batch = append(batch, next)
			if len(batch) >= s.batchSize {
				if err := s.flush(ctx, pr, batch); err != nil {
					return err
				}
				batch = nil
				pr.State = StateNormalizing
			}
		}

		afterID = page[len(page)-1].ID
		if len(page) < s.opts.PageSize {
			break
		}
	}

	if len(batch) > 0 {
		if err := s.flush(ctx, pr, batch); err != nil {
			return err
		}
	}
	pr.State = StateDone
	logger.Info("migrated partition",
		"total", pr.Total,
		"migrated", pr.Migrated,
		"skipped", pr.Skipped,
		"errors", pr.Errors,
	)
	return nil
}

// prepare normalizes and validates one record. It returns false when the
// record was skipped or counted as an error.
func (s *run) prepare(pr *PartitionReport, record store.Record) (store.Record, bool) {
	if from, ok := s.migrated[record.ID]; ok {
		pr.Skipped++
		metrics.MigrationRecordsTotal.WithLabelValues("skipped").Inc()
		fmt.Fprintf(s.opts.Writer, "  [SKIP]  %s/%s (already migrated from %s)\n", pr.Partition, record.ID, from)
		return store.Record{}, false
	}

	w, err := s.normalizer.Normalize(record.Data, pr.Partition, record.ID)
	if err != nil {
		s.fail(pr, record.ID, err.Error())
		return store.Record{}, false
	}
	if result := word.Validate(w); !result.Valid {
		s.fail(pr, record.ID, strings.Join(result.Errors, "; "))
		return store.Record{}, false
	}
	doc, err := normalizer.Encode(w)
	if err != nil {
		s.fail(pr, record.ID, err.Error())
		return store.Record{}, false
	}
	return store.Record{ID: w.ID, Data: doc}, true
}

// flush writes one batch. A batch that keeps failing is retried record by
// record so that only the failing records are counted as errors.
func (s *run) flush(ctx context.Context, pr *PartitionReport, batch []store.Record) error {
	if ctx.Err() != nil {
		return errCancelled
	}
	pr.State = StateWriting

	if s.opts.DryRun {
		for _, record := range batch {
			s.succeed(pr, record)
		}
		return nil
	}

	s.carryOver(ctx, pr, batch)
	err := s.write(ctx, batch)
	if err == nil {
		for _, record := range batch {
			s.succeed(pr, record)
		}
		return nil
	}
	if ctx.Err() != nil {
		return errCancelled
	}
	slog.Default().Warn("batch write failed, writing records one by one",
		"partition", pr.Partition,
		"target", s.targetPartition,
		"records", len(batch),
		"error", err,
	)
	for _, record := range batch {
		if err := s.write(ctx, []store.Record{record}); err != nil {
			if ctx.Err() != nil {
				return errCancelled
			}
			s.fail(pr, record.ID, err.Error())
			continue
		}
		s.succeed(pr, record)
	}
	return nil
}

// carryOver keeps createdAt and source.addedAt of records already in the
// target, so a re-run writes the same values. updatedAt is kept too when
// nothing else changed.
func (s *run) carryOver(ctx context.Context, pr *PartitionReport, batch []store.Record) {
	limit := s.target.Limits().MaxGetBatch
	if limit <= 0 {
		limit = store.DefaultLimits.MaxGetBatch
	}
	index := make(map[string]store.Document, len(batch))
	for _, record := range batch {
		index[record.ID] = record.Data
	}

	for _, chunk := range store.Chunk(store.IDs(batch), limit) {
		existing, err := s.target.GetByIDs(ctx, s.targetPartition, chunk)
		if err != nil {
			if !errors.Is(err, store.ErrPartitionNotFound) {
				slog.Default().Warn("failed to read existing records",
					"partition", pr.Partition,
					"target", s.targetPartition,
					"error", err,
				)
			}
			return
		}
		for _, previous := range existing {
			if doc, ok := index[previous.ID]; ok {
				keepTimestamps(doc, previous.Data)
			}
		}
	}
}

func keepTimestamps(doc, previous store.Document) {
	if createdAt, ok := previous["createdAt"]; ok {
		doc["createdAt"] = createdAt
	}
	source, sourceOK := doc["source"].(map[string]any)
	previousSource, previousOK := previous["source"].(map[string]any)
	if sourceOK && previousOK {
		if addedAt, ok := previousSource["addedAt"]; ok {
			source["addedAt"] = addedAt
		}
	}

	updatedAt := doc["updatedAt"]
	doc["updatedAt"] = previous["updatedAt"]
	if !reflect.DeepEqual(doc, previous) {
		doc["updatedAt"] = updatedAt
	}
}

func (s *run) write(ctx context.Context, records []store.Record) error {
	return retry.Do(
		func() error {
			err := s.target.WriteBatch(ctx, s.targetPartition, records)
			if errors.Is(err, store.ErrBatchTooLarge) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.opts.RetryAttempts),
		retry.Delay(s.opts.RetryDelay),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			return retry.BackOffDelay(n, err, config)
		}),
	)
}

func (s *run) succeed(pr *PartitionReport, record store.Record) {
	s.migrated[record.ID] = pr.Partition
	pr.Migrated++
	metrics.MigrationRecordsTotal.WithLabelValues("migrated").Inc()
	fmt.Fprintf(s.opts.Writer, "  [MIGRATED]  %s/%s %q\n", pr.Partition, record.ID, record.Data["word"])
}

func (s *run) fail(pr *PartitionReport, id, reason string) {
	pr.Errors++
	pr.Failures = append(pr.Failures, RecordFailure{ID: id, Reason: reason})
	metrics.MigrationRecordsTotal.WithLabelValues("error").Inc()
	slog.Default().Warn("failed to migrate record", "partition", pr.Partition, "id", id, "reason", reason)
	fmt.Fprintf(s.opts.Writer, "  [ERROR]  %s/%s: %s\n", pr.Partition, id, reason)
}
