package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/at-ishikawa/wordhub/internal/metrics"
)

var _ DurableStore = (*FileStore)(nil)

type fileIndexEntry struct {
	size       int64
	insertedAt time.Time
}

// FileStore keeps one JSON file per entry in a directory.
type FileStore struct {
	mu         sync.Mutex
	rootDir    string
	maxBytes   int64
	index      map[string]fileIndexEntry
	totalBytes int64
}

// NewFileStore opens the cache directory, creating it when needed. maxBytes
// of zero means the directory is not bounded.
func NewFileStore(cacheDirectory string, maxBytes int64) (*FileStore, error) {
	if err := os.MkdirAll(cacheDirectory, 0o750); err != nil {
		return nil, fmt.Errorf("os.MkdirAll > %w", err)
	}
	f := &FileStore{
		rootDir:  cacheDirectory,
		maxBytes: maxBytes,
		index:    make(map[string]fileIndexEntry),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) filePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(f.rootDir, hex.EncodeToString(sum[:])+".json")
}

// load rebuilds the index from the files left by a previous process.
func (f *FileStore) load() error {
	entries, err := os.ReadDir(f.rootDir)
	if err != nil {
		return fmt.Errorf("os.ReadDir > %w", err)
	}
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), ".json") {
			continue
		}
		path := filepath.Join(f.rootDir, dirEntry.Name())
		e, size, err := readEntryFile(path)
		if err != nil {
			slog.Default().Warn("removing unreadable cache file", "path", path, "error", err)
			_ = os.Remove(path)
			continue
		}
		f.index[e.Key] = fileIndexEntry{size: size, insertedAt: e.InsertedAt}
		f.totalBytes += size
	}
	f.evictLocked()
	return nil
}

func readEntryFile(path string) (*Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("os.Open > %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	contents, err := io.ReadAll(file)
	if err != nil {
		return nil, 0, fmt.Errorf("io.ReadAll > %w", err)
	}
	var e Entry
	if err := json.Unmarshal(contents, &e); err != nil {
		return nil, 0, fmt.Errorf("json.Unmarshal > %w", err)
	}
	return &e, int64(len(contents)), nil
}

// Get implements DurableStore.
func (f *FileStore) Get(_ context.Context, key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.index[key]; !ok {
		return nil, nil
	}
	e, _, err := readEntryFile(f.filePath(key))
	if errors.Is(err, os.ErrNotExist) {
		f.forgetLocked(key)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Put implements DurableStore.
func (f *FileStore) Put(_ context.Context, e Entry) error {
	contents, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("json.Marshal > %w", err)
	}
	size := int64(len(contents))
	if f.maxBytes > 0 && size > f.maxBytes {
		return fmt.Errorf("entry %s is %d bytes, larger than the cache limit of %d bytes", e.Key, size, f.maxBytes)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	localFilePath := f.filePath(e.Key)
	tmp, err := os.CreateTemp(f.rootDir, ".entry-*")
	if err != nil {
		return fmt.Errorf("os.CreateTemp > %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(contents); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file.Write > %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file.Close > %w", err)
	}
	if err := os.Rename(tmp.Name(), localFilePath); err != nil {
		return fmt.Errorf("os.Rename > %w", err)
	}

	f.forgetLocked(e.Key)
	f.index[e.Key] = fileIndexEntry{size: size, insertedAt: e.InsertedAt}
	f.totalBytes += size
	f.evictLocked()
	return nil
}

// Remove implements DurableStore.
func (f *FileStore) Remove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removeLocked(key)
}

// Clear implements DurableStore.
func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for key := range f.index {
		if err := f.removeLocked(key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements DurableStore.
func (f *FileStore) Close() error {
	return nil
}

// Size returns the number of bytes held on disk.
func (f *FileStore) Size() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalBytes
}

func (f *FileStore) removeLocked(key string) error {
	if _, ok := f.index[key]; !ok {
		return nil
	}
	if err := os.Remove(f.filePath(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("os.Remove > %w", err)
	}
	f.forgetLocked(key)
	return nil
}

func (f *FileStore) forgetLocked(key string) {
	if old, ok := f.index[key]; ok {
		f.totalBytes -= old.size
		delete(f.index, key)
	}
}

// evictLocked drops the oldest entries until the directory fits in maxBytes.
func (f *FileStore) evictLocked() {
	if f.maxBytes <= 0 || f.totalBytes <= f.maxBytes {
		return
	}
	keys := make([]string, 0, len(f.index))
	for key := range f.index {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := f.index[keys[i]], f.index[keys[j]]
		if a.insertedAt.Equal(b.insertedAt) {
			return keys[i] < keys[j]
		}
		return a.insertedAt.Before(b.insertedAt)
	})
	for _, key := range keys {
		if f.totalBytes <= f.maxBytes {
			return
		}
		if err := f.removeLocked(key); err != nil {
			slog.Default().Warn("failed to evict cache file", "key", key, "error", err)
			continue
		}
		metrics.CacheEvictionsTotal.WithLabelValues(metrics.TierDurable, metrics.ReasonCapacity).Inc()
	}
}
