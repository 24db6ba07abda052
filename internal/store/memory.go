package store

import (
	"context"
	"fmt"
	"sync"
)

var _ RecordStore = (*MemoryStore)(nil)

// MemoryStore is a RecordStore held in process memory. It backs the YAML
// store and is used for local runs and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]Document
	limits     Limits
}

// NewMemoryStore creates a MemoryStore with the given (empty) partitions.
func NewMemoryStore(limits Limits, partitions ...string) *MemoryStore {
	s := &MemoryStore{
		partitions: make(map[string]map[string]Document, len(partitions)),
		limits:     limits,
	}
	for _, p := range partitions {
		s.partitions[p] = make(map[string]Document)
	}
	return s
}

// CreatePartition creates an empty partition if it does not exist yet.
func (s *MemoryStore) CreatePartition(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = make(map[string]Document)
	}
}

// Put stores a single document, creating the partition when needed.
func (s *MemoryStore) Put(partition, id string, doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(partition, id, doc)
}

func (s *MemoryStore) putLocked(partition, id string, doc Document) {
	p, ok := s.partitions[partition]
	if !ok {
		p = make(map[string]Document)
		s.partitions[partition] = p
	}
	p[id] = doc.Clone()
}

// Partitions returns the partition names in the store.
func (s *MemoryStore) Partitions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	return names
}

// Snapshot returns a deep copy of a partition's documents keyed by id.
func (s *MemoryStore) Snapshot(partition string) (map[string]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.partitions[partition]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", partition, ErrPartitionNotFound)
	}
	snapshot := make(map[string]Document, len(p))
	for id, doc := range p {
		snapshot[id] = doc.Clone()
	}
	return snapshot, nil
}

func (s *MemoryStore) partition(name string) (map[string]Document, error) {
	p, ok := s.partitions[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrPartitionNotFound)
	}
	return p, nil
}

// GetByID implements RecordStore.
func (s *MemoryStore) GetByID(ctx context.Context, partition, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.partition(partition)
	if err != nil {
		return nil, err
	}
	doc, ok := p[id]
	if !ok {
		return nil, nil
	}
	return &Record{ID: id, Data: doc.Clone()}, nil
}

// GetByIDs implements RecordStore.
func (s *MemoryStore) GetByIDs(ctx context.Context, partition string, ids []string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.limits.MaxGetBatch > 0 && len(ids) > s.limits.MaxGetBatch {
		return nil, fmt.Errorf("get %d ids (max %d): %w", len(ids), s.limits.MaxGetBatch, ErrBatchTooLarge)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.partition(partition)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		if doc, ok := p[id]; ok {
			records = append(records, Record{ID: id, Data: doc.Clone()})
		}
	}
	return records, nil
}

// QueryByField implements RecordStore.
func (s *MemoryStore) QueryByField(ctx context.Context, partition, field, value string, limit int) ([]Record, error) {
	return s.query(ctx, partition, field, limit, func(v any) bool {
		return FieldMatches(v, value)
	})
}

// QueryByText implements RecordStore.
func (s *MemoryStore) QueryByText(ctx context.Context, partition, field, text string, limit int) ([]Record, error) {
	return s.query(ctx, partition, field, limit, func(v any) bool {
		return TextMatches(v, text)
	})
}

func (s *MemoryStore) query(ctx context.Context, partition, field string, limit int, match func(v any) bool) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.partition(partition)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, id := range sortedKeys(p) {
		v, ok := p[id].Lookup(field)
		if !ok || !match(v) {
			continue
		}
		records = append(records, Record{ID: id, Data: p[id].Clone()})
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

// WriteBatch implements RecordStore.
func (s *MemoryStore) WriteBatch(ctx context.Context, partition string, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.limits.MaxWriteBatch > 0 && len(records) > s.limits.MaxWriteBatch {
		return fmt.Errorf("write %d records (max %d): %w", len(records), s.limits.MaxWriteBatch, ErrBatchTooLarge)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.putLocked(partition, r.ID, r.Data)
	}
	return nil
}

// Delete implements RecordStore.
func (s *MemoryStore) Delete(ctx context.Context, partition, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.partition(partition)
	if err != nil {
		return err
	}
	delete(p, id)
	return nil
}

// ListRecords implements RecordStore.
func (s *MemoryStore) ListRecords(ctx context.Context, partition, afterID string, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, err := s.partition(partition)
	if err != nil {
		return nil, err
	}
	var records []Record
	for _, id := range sortedKeys(p) {
		if id <= afterID {
			continue
		}
		records = append(records, Record{ID: id, Data: p[id].Clone()})
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

// Ping implements RecordStore.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Limits implements RecordStore.
func (s *MemoryStore) Limits() Limits {
	return s.limits
}

// FieldMatches reports whether a document value equals want, or contains it when the value is a list.
func FieldMatches(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []string:
		for _, s := range t {
			if s == want {
				return true
			}
		}
		return false
	case []any:
		for _, item := range t {
			if FieldMatches(item, want) {
				return true
			}
		}
		return false
	case nil:
		return false
	default:
		return fmt.Sprint(t) == want
	}
}
