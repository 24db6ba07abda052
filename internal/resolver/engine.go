// Package resolver resolves canonical words from the canonical partition,
// falling back through legacy partitions and caching what it finds.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/at-ishikawa/wordhub/internal/cache"
	"github.com/at-ishikawa/wordhub/internal/metrics"
	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

// DefaultWordField is the document field holding the lookup key for word text.
const DefaultWordField = "normalizedWord"

// Partition is one entry of the fallback chain.
type Partition struct {
	Name string
	// KeyedByWord marks partitions whose records are addressed by word text
	// rather than by an opaque id.
	KeyedByWord bool
	// WordField is the field holding the word text. When empty the canonical
	// partition is matched on DefaultWordField and fallback partitions on
	// DefaultWordField, then on "word".
	WordField string
}

// wordFields returns the fields a text lookup matches, in order.
func (p Partition) wordFields(isCanonical bool) []string {
	switch {
	case p.WordField != "":
		return []string{p.WordField}
	case isCanonical:
		return []string{DefaultWordField}
	default:
		return []string{DefaultWordField, "word"}
	}
}

// Config configures an Engine.
type Config struct {
	CanonicalPartition string
	// Fallback lists legacy partitions in priority order, highest first.
	Fallback []Partition
	// LookupTimeout bounds one walk of the fallback chain. Zero disables it.
	LookupTimeout time.Duration
	// Concurrency bounds the chunk queries a batch fetch runs at once.
	Concurrency int
}

type lookupKind string

const (
	lookupByID   lookupKind = "id"
	lookupByText lookupKind = "text"
)

// IDKey returns the cache key of a word id.
func IDKey(id string) string {
	return "id:" + id
}

// WordKey returns the cache key of a word text.
func WordKey(text string) string {
	return "word:" + word.NormalizeText(text)
}

// Engine resolves words. Returned words are shared with the cache and must not be modified.
type Engine struct {
	store      store.RecordStore
	cache      *cache.MultiTier[*word.Word]
	normalizer *normalizer.Normalizer
	config     Config
	sf         *singleflight.Group
	batch      *BatchFetcher
	now        func() time.Time
	newID      func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp saved words.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator sets the function assigning ids to saved words that have none.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// NewEngine creates an Engine.
func NewEngine(
	recordStore store.RecordStore,
	wordCache *cache.MultiTier[*word.Word],
	wordNormalizer *normalizer.Normalizer,
	config Config,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      recordStore,
		cache:      wordCache,
		normalizer: wordNormalizer,
		config:     config,
		sf:         &singleflight.Group{},
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.batch = NewBatchFetcher(recordStore, wordCache, wordNormalizer, config)
	return e
}

// GetByID returns the word with id, or nil when no partition has it.
func (e *Engine) GetByID(ctx context.Context, id string) (*word.Word, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if w, ok := e.cache.Get(ctx, IDKey(id)); ok {
		return w, nil
	}
	return e.resolveShared(ctx, lookupByID, id)
}

// SearchByText returns the word whose text matches text, ignoring case and
// surrounding whitespace, or nil when no partition has it.
func (e *Engine) SearchByText(ctx context.Context, text string) (*word.Word, error) {
	normalized := word.NormalizeText(text)
	if normalized == "" {
		return nil, nil
	}
	if w, ok := e.cache.Get(ctx, WordKey(normalized)); ok {
		return w, nil
	}
	return e.resolveShared(ctx, lookupByText, strings.TrimSpace(text))
}

// GetByIDs returns the words found for ids in no particular order. Ids that
// cannot be resolved are omitted.
func (e *Engine) GetByIDs(ctx context.Context, ids []string) ([]*word.Word, error) {
	return e.batch.FetchMany(ctx, ids)
}

func (e *Engine) resolveShared(ctx context.Context, kind lookupKind, key string) (*word.Word, error) {
	sfKey := string(kind) + ":" + key
	if kind == lookupByText {
		sfKey = string(kind) + ":" + word.NormalizeText(key)
	}
	// The shared lookup outlives any single caller; each caller only stops
	// waiting when its own context is done.
	ch := e.sf.DoChan(sfKey, func() (any, error) {
		return e.resolve(context.WithoutCancel(ctx), kind, key)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.LookupSharedTotal.WithLabelValues(string(kind)).Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		w, _ := res.Val.(*word.Word)
		return w, nil
	}
}

// chain returns the canonical partition followed by the fallback partitions.
func (e *Engine) chain() []Partition {
	partitions := make([]Partition, 0, len(e.config.Fallback)+1)
	partitions = append(partitions, Partition{Name: e.config.CanonicalPartition})
	return append(partitions, e.config.Fallback...)
}

func (e *Engine) resolve(ctx context.Context, kind lookupKind, key string) (*word.Word, error) {
	start := time.Now()
	defer func() {
		metrics.ResolutionDurationSeconds.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	}()

	lookupCtx := ctx
	if e.config.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, e.config.LookupTimeout)
		defer cancel()
	}

	for i, partition := range e.chain() {
		if lookupCtx.Err() != nil {
			slog.Default().Warn("lookup timed out", "kind", kind, "key", key, "partition", partition.Name)
			return nil, nil
		}

		record, err := e.lookup(lookupCtx, partition, kind, key, i == 0)
		if errors.Is(err, store.ErrPartitionNotFound) {
			return nil, fmt.Errorf("look up %s %q in partition %s: %w", kind, key, partition.Name, err)
		}
		if err != nil {
			metrics.PartitionLookupsTotal.WithLabelValues(partition.Name, metrics.ResultError).Inc()
			slog.Default().Warn("partition lookup failed",
				"kind", kind,
				"key", key,
				"partition", partition.Name,
				"error", err,
			)
			continue
		}
		if record == nil {
			metrics.PartitionLookupsTotal.WithLabelValues(partition.Name, metrics.ResultMiss).Inc()
			continue
		}
		metrics.PartitionLookupsTotal.WithLabelValues(partition.Name, metrics.ResultHit).Inc()

		var w *word.Word
		if i == 0 {
			w, err = e.normalizer.Canonical(record.Data, partition.Name, record.ID)
		} else {
			w, err = e.normalizer.Normalize(record.Data, partition.Name, record.ID)
		}
		if err != nil {
			slog.Default().Warn("failed to normalize record",
				"partition", partition.Name,
				"id", record.ID,
				"error", err,
			)
			continue
		}
		e.cacheWord(ctx, w)
		return w, nil
	}
	return nil, nil
}

// lookup finds at most one record in a partition. Word-keyed partitions treat
// an id as word text.
func (e *Engine) lookup(ctx context.Context, partition Partition, kind lookupKind, key string, isCanonical bool) (*store.Record, error) {
	if kind == lookupByID && !partition.KeyedByWord {
		return e.store.GetByID(ctx, partition.Name, key)
	}

	for _, field := range partition.wordFields(isCanonical) {
		records, err := e.store.QueryByText(ctx, partition.Name, field, key, 1)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 {
			return &records[0], nil
		}
	}
	return nil, nil
}

func (e *Engine) cacheWord(ctx context.Context, w *word.Word) {
	e.cache.Set(ctx, IDKey(w.ID), w)
	e.cache.Set(ctx, WordKey(w.NormalizedWord), w)
}

// Save validates w and writes it to the canonical partition. It reports false
// without an error when w is invalid. On success w holds the stored values,
// including an assigned id.
func (e *Engine) Save(ctx context.Context, w *word.Word) (bool, error) {
	if w == nil {
		slog.Default().Info("rejected invalid word", "errors", []string{"record is nil"})
		return false, nil
	}

	candidate := *w
	if strings.TrimSpace(candidate.ID) == "" {
		candidate.ID = e.newID()
	}
	now := e.now()
	if candidate.Source.Type == "" {
		candidate.Source.Type = word.SourceManual
	}
	if candidate.Source.Collection == "" {
		candidate.Source.Collection = e.config.CanonicalPartition
	}
	if candidate.Source.OriginalID == "" {
		candidate.Source.OriginalID = candidate.ID
	}
	if candidate.Source.AddedAt.IsZero() {
		candidate.Source.AddedAt = now
	}
	candidate.NormalizedWord = ""
	candidate.EnsureDefaults()

	result := word.Validate(&candidate)
	if !result.Valid {
		slog.Default().Info("rejected invalid word",
			"id", candidate.ID,
			"word", candidate.Word,
			"errors", result.Errors,
		)
		return false, nil
	}

	candidate.Quality.Score = word.ComputeQualityScore(&candidate)
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = now
	}
	candidate.UpdatedAt = now

	doc, err := normalizer.Encode(&candidate)
	if err != nil {
		return false, fmt.Errorf("encode word %s: %w", candidate.ID, err)
	}
	previous, _ := e.cache.Get(ctx, IDKey(candidate.ID))
	if err := e.store.WriteBatch(ctx, e.config.CanonicalPartition, []store.Record{{ID: candidate.ID, Data: doc}}); err != nil {
		return false, fmt.Errorf("write word %s: %w", candidate.ID, err)
	}

	if previous != nil && previous.NormalizedWord != candidate.NormalizedWord {
		e.cache.Remove(ctx, WordKey(previous.NormalizedWord))
	}
	saved := candidate
	e.cacheWord(ctx, &saved)
	*w = candidate
	return true, nil
}

// Delete removes the word from the canonical partition and evicts it from the cache.
func (e *Engine) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	keys := []string{IDKey(id)}
	if cached, ok := e.cache.Get(ctx, IDKey(id)); ok {
		keys = append(keys, WordKey(cached.NormalizedWord))
	} else if record, err := e.store.GetByID(ctx, e.config.CanonicalPartition, id); err == nil && record != nil {
		if text, ok := record.Data["word"].(string); ok {
			keys = append(keys, WordKey(text))
		}
	}

	if err := e.store.Delete(ctx, e.config.CanonicalPartition, id); err != nil {
		return fmt.Errorf("delete word %s: %w", id, err)
	}
	e.cache.Remove(ctx, keys...)
	return nil
}

// ClearCache empties every cache tier.
func (e *Engine) ClearCache(ctx context.Context) {
	e.cache.Clear(ctx)
}
