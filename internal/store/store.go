// Package store defines the raw record store the word engine reads legacy
// and canonical partitions from.
package store

//go:generate mockgen -source=store.go -destination=../mocks/store/mock_store.go -package=mock_store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrPartitionNotFound is returned when a partition does not exist in the store.
	ErrPartitionNotFound = errors.New("partition not found")
	// ErrBatchTooLarge is returned when a batch exceeds the store's advertised limits.
	ErrBatchTooLarge = errors.New("batch exceeds store limit")
)

// Document is a raw record body. Its shape depends on the partition it lives in.
type Document map[string]any

// Record is a document together with its id inside a partition.
type Record struct {
	ID   string
	Data Document
}

// Limits are the per-request ceilings advertised by a store.
type Limits struct {
	MaxGetBatch   int
	MaxWriteBatch int
}

// DefaultLimits mirrors the document database the legacy data lives in:
// 30 ids per "in" query and 500 writes per batch commit.
var DefaultLimits = Limits{
	MaxGetBatch:   30,
	MaxWriteBatch: 500,
}

// RecordStore is the raw storage contract consumed by the resolver and the migration runner.
type RecordStore interface {
	// GetByID returns the record or nil when the id is absent.
	GetByID(ctx context.Context, partition, id string) (*Record, error)
	// GetByIDs returns the records found for ids. len(ids) must not exceed Limits().MaxGetBatch.
	GetByIDs(ctx context.Context, partition string, ids []string) ([]Record, error)
	// QueryByField returns up to limit records whose field equals value, or
	// whose list field contains value. A limit of zero means no limit.
	QueryByField(ctx context.Context, partition, field, value string, limit int) ([]Record, error)
	// QueryByText is QueryByField for word text: field matches when it equals
	// text ignoring case and surrounding whitespace.
	QueryByText(ctx context.Context, partition, field, text string, limit int) ([]Record, error)
	// WriteBatch upserts records atomically. len(records) must not exceed Limits().MaxWriteBatch.
	WriteBatch(ctx context.Context, partition string, records []Record) error
	Delete(ctx context.Context, partition, id string) error
	// ListRecords returns up to limit records with ids greater than afterID, ordered by id.
	ListRecords(ctx context.Context, partition, afterID string, limit int) ([]Record, error)
	Ping(ctx context.Context) error
	Limits() Limits
}

// Lookup resolves a dotted path such as "source.type" inside the document.
func (d Document) Lookup(path string) (any, bool) {
	var current any = map[string]any(d)
	for _, key := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Document:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

// TextMatches reports whether a document value equals text, or contains it
// when the value is a list, ignoring case and surrounding whitespace.
func TextMatches(v any, text string) bool {
	text = strings.TrimSpace(text)
	switch t := v.(type) {
	case string:
		return strings.EqualFold(strings.TrimSpace(t), text)
	case []string:
		for _, s := range t {
			if strings.EqualFold(strings.TrimSpace(s), text) {
				return true
			}
		}
		return false
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && TextMatches(s, text) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IDs returns the ids of records in their current order.
func IDs(records []Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}

// Chunk splits ids into consecutive slices of at most size elements.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func sortedKeys(m map[string]Document) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
