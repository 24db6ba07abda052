// Package yamlstore is a store.RecordStore kept in a directory of YAML
// files, one <partition>.yml per partition mapping record ids to documents.
package yamlstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/wordhub/internal/store"
)

var _ store.RecordStore = (*Store)(nil)

const fileExtension = ".yml"

// Store serves records from memory and rewrites the partition file after every change.
type Store struct {
	*store.MemoryStore

	// mu serializes file writes.
	mu  sync.Mutex
	dir string
}

// Open loads every partition file under dir. The directory is created when missing.
func Open(dir string, limits store.Limits) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("os.ReadDir(%s) > %w", dir, err)
	}

	memory := store.NewMemoryStore(limits)
	for _, entry := range entries {
		if entry.IsDir() || !isPartitionFile(entry.Name()) {
			continue
		}
		partition := strings.TrimSuffix(strings.TrimSuffix(entry.Name(), ".yaml"), fileExtension)
		docs, err := readPartition(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("load partition %s: %w", partition, err)
		}
		memory.CreatePartition(partition)
		for id, doc := range docs {
			memory.Put(partition, id, doc)
		}
	}
	return &Store{MemoryStore: memory, dir: dir}, nil
}

func isPartitionFile(name string) bool {
	return strings.HasSuffix(name, fileExtension) || strings.HasSuffix(name, ".yaml")
}

func readPartition(path string) (map[string]store.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("os.Open > %w", err)
	}
	defer func() { _ = f.Close() }()

	var docs map[string]store.Document
	if err := yaml.NewDecoder(f).Decode(&docs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml.Decode > %w", err)
	}
	return docs, nil
}

// CreatePartition creates an empty partition file.
func (s *Store) CreatePartition(partition string) error {
	s.MemoryStore.CreatePartition(partition)
	return s.persist(partition)
}

// WriteBatch implements store.RecordStore.
func (s *Store) WriteBatch(ctx context.Context, partition string, records []store.Record) error {
	if err := s.MemoryStore.WriteBatch(ctx, partition, records); err != nil {
		return err
	}
	return s.persist(partition)
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	if err := s.MemoryStore.Delete(ctx, partition, id); err != nil {
		return err
	}
	return s.persist(partition)
}

func (s *Store) persist(partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.Snapshot(partition)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, partition+fileExtension)
	tmp := path + ".tmp"
	if err := writeYAML(tmp, docs); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("os.Rename > %w", err)
	}
	return nil
}

func writeYAML(path string, data interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}
