// Package app builds the word engine and its dependencies from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/at-ishikawa/wordhub/internal/cache"
	"github.com/at-ishikawa/wordhub/internal/config"
	"github.com/at-ishikawa/wordhub/internal/database"
	"github.com/at-ishikawa/wordhub/internal/migration"
	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/resolver"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/store/firestore"
	"github.com/at-ishikawa/wordhub/internal/store/mysqlstore"
	"github.com/at-ishikawa/wordhub/internal/store/yamlstore"
	"github.com/at-ishikawa/wordhub/internal/word"
	"github.com/at-ishikawa/wordhub/schemas"
)

// SQLiteCacheFile is the database file name of the sqlite durable tier inside cache.directory.
const SQLiteCacheFile = "words.db"

// App holds the wired components of one process.
type App struct {
	Config     *config.Config
	Store      store.RecordStore
	Cache      *cache.MultiTier[*word.Word]
	Normalizer *normalizer.Normalizer
	Engine     *resolver.Engine

	closers []func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	store store.RecordStore
	now   func() time.Time
}

// WithStore uses recordStore instead of the one named by store.driver.
func WithStore(recordStore store.RecordStore) Option {
	return func(o *options) {
		o.store = recordStore
	}
}

// WithClock sets the clock shared by the cache, the normalizer and the engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New wires every component. The returned App must be closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	sourceTypes, err := SourceTypes(cfg.Partitions.SourceTypes)
	if err != nil {
		return nil, err
	}
	a.Normalizer = normalizer.New(
		normalizer.WithSourceTypes(sourceTypes),
		normalizer.WithClock(o.now),
	)

	a.Store = o.store
	if a.Store == nil {
		recordStore, closer, err := OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.Store = recordStore
		a.addCloser(closer)
	}

	durable, err := OpenDurable(cfg.Cache)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Cache, err = cache.New[*word.Word](cache.Options{
		MemorySize: cfg.Cache.MemorySize,
		TTL:        cfg.Cache.TTL,
		Now:        o.now,
		Durable:    durable,
	})
	if err != nil {
		if durable != nil {
			_ = durable.Close()
		}
		_ = a.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}
	a.addCloser(a.Cache.Close)

	a.Engine = resolver.NewEngine(a.Store, a.Cache, a.Normalizer, ResolverConfig(cfg), resolver.WithClock(o.now))
	slog.Default().Debug("engine ready",
		"store", cfg.Store.Driver,
		"durableCache", cfg.Cache.Durable,
		"canonical", cfg.Partitions.Canonical,
		"fallback", len(cfg.Partitions.Fallback),
	)
	return a, nil
}

func (a *App) addCloser(closer func() error) {
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
}

// Close releases the cache and the store in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewRunner creates a migration runner reading and writing the configured store.
func (a *App) NewRunner(opts migration.Options) *migration.Runner {
	if opts.PageSize == 0 {
		opts.PageSize = a.Config.Migration.PageSize
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = a.Config.Migration.RetryAttempts
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = a.Config.Migration.RetryDelay
	}
	return migration.NewRunner(a.Store, a.Store, a.Normalizer, opts)
}

// NewAuditor creates an auditor over the configured store.
func (a *App) NewAuditor() *migration.Auditor {
	return migration.NewAuditor(a.Store, a.Normalizer, a.Config.Migration.PageSize)
}

// ResolverConfig converts the partitions and resolver sections.
func ResolverConfig(cfg *config.Config) resolver.Config {
	fallback := make([]resolver.Partition, 0, len(cfg.Partitions.Fallback))
	for _, p := range cfg.Partitions.Fallback {
		fallback = append(fallback, resolver.Partition{
			Name:        p.Name,
			KeyedByWord: p.KeyedBy == "word",
			WordField:   p.WordField,
		})
	}
	return resolver.Config{
		CanonicalPartition: cfg.Partitions.Canonical,
		Fallback:           fallback,
		LookupTimeout:      cfg.Resolver.LookupTimeout,
		Concurrency:        cfg.Resolver.Concurrency,
	}
}

// SourceTypes overlays the configured partition to source type table on the defaults.
func SourceTypes(configured map[string]string) (map[string]word.SourceType, error) {
	sourceTypes := make(map[string]word.SourceType, len(normalizer.DefaultSourceTypes)+len(configured))
	for partition, sourceType := range normalizer.DefaultSourceTypes {
		sourceTypes[partition] = sourceType
	}
	for partition, name := range configured {
		sourceType, ok := word.ParseSourceType(name)
		if !ok {
			return nil, fmt.Errorf("partition %s: unknown source type %q", partition, name)
		}
		sourceTypes[partition] = sourceType
	}
	return sourceTypes, nil
}

// OpenStore opens the record store named by store.driver. The returned closer may be nil.
func OpenStore(ctx context.Context, cfg *config.Config) (store.RecordStore, func() error, error) {
	limits := store.Limits{
		MaxGetBatch:   cfg.Store.MaxGetBatch,
		MaxWriteBatch: cfg.Store.MaxWriteBatch,
	}

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		return store.NewMemoryStore(limits, cfg.Partitions.Canonical), nil, nil
	case config.StoreDriverYAML:
		s, err := yamlstore.Open(cfg.Store.YAML.Directory, limits)
		if err != nil {
			return nil, nil, fmt.Errorf("open yaml store: %w", err)
		}
		if _, err := s.Snapshot(cfg.Partitions.Canonical); errors.Is(err, store.ErrPartitionNotFound) {
			if err := s.CreatePartition(cfg.Partitions.Canonical); err != nil {
				return nil, nil, fmt.Errorf("create canonical partition: %w", err)
			}
		}
		return s, nil, nil
	case config.StoreDriverMySQL:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("database.Open() > %w", err)
		}
		if _, err := database.Migrate(ctx, db, schemas.Migrations); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate database: %w", err)
		}
		s := mysqlstore.New(db, limits)
		if err := s.CreatePartition(ctx, cfg.Partitions.Canonical); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	case config.StoreDriverFirestore:
		s := firestore.New(firestore.Options{
			BaseURL:    cfg.Store.Firestore.BaseURL,
			ProjectID:  cfg.Store.Firestore.ProjectID,
			DatabaseID: cfg.Store.Firestore.DatabaseID,
			Token:      cfg.Store.Firestore.Token,
			Timeout:    cfg.Store.Firestore.Timeout,
			Limits:     limits,
		})
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// OpenDurable opens the durable cache tier named by cache.durable, or returns nil for none.
func OpenDurable(cfg config.CacheConfig) (cache.DurableStore, error) {
	switch cfg.Durable {
	case "", config.DurableNone:
		return nil, nil
	case config.DurableFile:
		s, err := cache.NewFileStore(cfg.Directory, cfg.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		return s, nil
	case config.DurableSQLite:
		s, err := cache.NewSQLiteStore(filepath.Join(cfg.Directory, SQLiteCacheFile), cfg.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("open sqlite cache: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown durable cache %q", cfg.Durable)
	}
}
