package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/at-ishikawa/wordhub/internal/cache"
	"github.com/at-ishikawa/wordhub/internal/metrics"
	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

// DefaultConcurrency is the number of chunk queries run at once when Config.Concurrency is unset.
const DefaultConcurrency = 4

// BatchFetcher resolves many ids with as few store round trips as the store's limits allow.
type BatchFetcher struct {
	store      store.RecordStore
	cache      *cache.MultiTier[*word.Word]
	normalizer *normalizer.Normalizer
	config     Config
}

// NewBatchFetcher creates a BatchFetcher.
func NewBatchFetcher(
	recordStore store.RecordStore,
	wordCache *cache.MultiTier[*word.Word],
	wordNormalizer *normalizer.Normalizer,
	config Config,
) *BatchFetcher {
	return &BatchFetcher{
		store:      recordStore,
		cache:      wordCache,
		normalizer: wordNormalizer,
		config:     config,
	}
}

// chunkResult collects what the chunk queries of one partition returned.
type chunkResult struct {
	mu     sync.Mutex
	words  []*word.Word
	found  map[string]bool
	failed map[string]bool
}

func (r *chunkResult) add(id string, w *word.Word) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.words = append(r.words, w)
	r.found[id] = true
}

func (r *chunkResult) fail(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.failed[id] = true
	}
}

// FetchMany returns the words found for ids in no particular order. Cache hits
// are served first; the rest is read from the canonical partition in chunks of
// at most Limits().MaxGetBatch ids, then from the id-keyed fallback partitions.
// Ids of a failed chunk are omitted.
func (b *BatchFetcher) FetchMany(ctx context.Context, ids []string) ([]*word.Word, error) {
	ids = uniqueIDs(ids)
	words := make([]*word.Word, 0, len(ids))

	var remaining []string
	for _, id := range ids {
		if w, ok := b.cache.Get(ctx, IDKey(id)); ok {
			words = append(words, w)
			continue
		}
		remaining = append(remaining, id)
	}
	if len(remaining) == 0 {
		return words, nil
	}

	canonical := Partition{Name: b.config.CanonicalPartition}
	partitions := []Partition{canonical}
	for _, p := range b.config.Fallback {
		if !p.KeyedByWord {
			partitions = append(partitions, p)
		}
	}

	for i, partition := range partitions {
		if len(remaining) == 0 {
			break
		}
		result, err := b.fetchPartition(ctx, partition, remaining, i == 0)
		if err != nil {
			return nil, err
		}
		words = append(words, result.words...)

		var next []string
		for _, id := range remaining {
			if !result.found[id] && !result.failed[id] {
				next = append(next, id)
			}
		}
		remaining = next
	}
	return words, nil
}

func (b *BatchFetcher) fetchPartition(ctx context.Context, partition Partition, ids []string, isCanonical bool) (*chunkResult, error) {
	result := &chunkResult{
		found:  make(map[string]bool, len(ids)),
		failed: make(map[string]bool),
	}

	concurrency := b.config.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	eg := &errgroup.Group{}
	eg.SetLimit(concurrency)

	chunkSize := b.store.Limits().MaxGetBatch
	if chunkSize <= 0 {
		chunkSize = store.DefaultLimits.MaxGetBatch
	}
	for _, chunk := range store.Chunk(ids, chunkSize) {
		eg.Go(func() error {
			records, err := b.store.GetByIDs(ctx, partition.Name, chunk)
			if errors.Is(err, store.ErrPartitionNotFound) {
				return fmt.Errorf("fetch %d ids from partition %s: %w", len(chunk), partition.Name, err)
			}
			if err != nil {
				metrics.BatchChunksTotal.WithLabelValues(metrics.ResultError).Inc()
				slog.Default().Warn("batch chunk failed",
					"partition", partition.Name,
					"ids", chunk,
					"error", err,
				)
				result.fail(chunk)
				return nil
			}
			metrics.BatchChunksTotal.WithLabelValues(metrics.ResultHit).Inc()

			for _, record := range records {
				var w *word.Word
				if isCanonical {
					w, err = b.normalizer.Canonical(record.Data, partition.Name, record.ID)
				} else {
					w, err = b.normalizer.Normalize(record.Data, partition.Name, record.ID)
				}
				if err != nil {
					slog.Default().Warn("failed to normalize record",
						"partition", partition.Name,
						"id", record.ID,
						"error", err,
					)
					continue
				}
				b.cache.Set(ctx, IDKey(w.ID), w)
				b.cache.Set(ctx, WordKey(w.NormalizedWord), w)
				result.add(record.ID, w)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	// Chunks cut short by the caller are not failures of the store.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	return unique
}
