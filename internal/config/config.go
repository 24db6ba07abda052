package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	StoreDriverMemory    = "memory"
	StoreDriverYAML      = "yaml"
	StoreDriverMySQL     = "mysql"
	StoreDriverFirestore = "firestore"
)

// Durable cache tiers.
const (
	DurableNone   = "none"
	DurableFile   = "file"
	DurableSQLite = "sqlite"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Store      StoreConfig      `mapstructure:"store"`
	Partitions PartitionsConfig `mapstructure:"partitions"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Migration  MigrationConfig  `mapstructure:"migration"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port" validate:"min=1,max=65535"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string            `mapstructure:"host"`
	Port            int               `mapstructure:"port"`
	Database        string            `mapstructure:"database"`
	Username        string            `mapstructure:"username"`
	Password        string            `mapstructure:"password"`
	TLS             bool              `mapstructure:"tls"`
	Params          map[string]string `mapstructure:"params"`
	MaxOpenConns    int               `mapstructure:"max_open_conns"`
	MaxIdleConns    int               `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int               `mapstructure:"conn_max_lifetime_seconds"`
}

type StoreConfig struct {
	Driver    string          `mapstructure:"driver" validate:"oneof=memory yaml mysql firestore"`
	YAML      YAMLStoreConfig `mapstructure:"yaml"`
	Firestore FirestoreConfig `mapstructure:"firestore"`
	// Limits override the per-request ceilings advertised by the store.
	MaxGetBatch   int `mapstructure:"max_get_batch" validate:"min=1"`
	MaxWriteBatch int `mapstructure:"max_write_batch" validate:"min=1"`
}

type YAMLStoreConfig struct {
	Directory string `mapstructure:"directory"`
}

type FirestoreConfig struct {
	BaseURL    string        `mapstructure:"base_url" validate:"omitempty,url"`
	ProjectID  string        `mapstructure:"project_id"`
	DatabaseID string        `mapstructure:"database_id"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type PartitionsConfig struct {
	Canonical string                    `mapstructure:"canonical" validate:"required"`
	Fallback  []FallbackPartitionConfig `mapstructure:"fallback" validate:"dive"`
	// SourceTypes maps a partition name to the provenance type of its records.
	SourceTypes map[string]string `mapstructure:"source_types"`
}

type FallbackPartitionConfig struct {
	Name      string `mapstructure:"name" validate:"required"`
	KeyedBy   string `mapstructure:"keyed_by" validate:"omitempty,oneof=id word"`
	WordField string `mapstructure:"word_field"`
}

type CacheConfig struct {
	MemorySize int           `mapstructure:"memory_size" validate:"min=1"`
	TTL        time.Duration `mapstructure:"ttl" validate:"min=0"`
	Durable    string        `mapstructure:"durable" validate:"oneof=none file sqlite"`
	Directory  string        `mapstructure:"directory"`
	MaxBytes   int64         `mapstructure:"max_bytes" validate:"min=0"`
}

type ResolverConfig struct {
	LookupTimeout time.Duration `mapstructure:"lookup_timeout" validate:"min=0"`
	Concurrency   int           `mapstructure:"concurrency" validate:"min=1"`
}

type MigrationConfig struct {
	BatchSize     int           `mapstructure:"batch_size" validate:"min=1"`
	PageSize      int           `mapstructure:"page_size" validate:"min=1"`
	RetryAttempts uint          `mapstructure:"retry_attempts" validate:"min=1"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

type ConfigLoader struct {
	viper      *viper.Viper
	validator  *validator.Validate
	translator ut.Translator
}

func NewConfigLoader(configFile string) (*ConfigLoader, error) {
	validate, trans, err := newValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create new validator: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/wordhub")
	}

	return &ConfigLoader{
		viper:      v,
		validator:  validate,
		translator: trans,
	}, nil
}

func (loader *ConfigLoader) Load() (*Config, error) {
	v := loader.viper

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "local")
	v.SetDefault("database.username", "user")
	v.SetDefault("store.driver", StoreDriverYAML)
	v.SetDefault("store.yaml.directory", filepath.Join("data", "partitions"))
	v.SetDefault("store.firestore.base_url", "https://firestore.googleapis.com/v1")
	v.SetDefault("store.firestore.database_id", "(default)")
	v.SetDefault("store.firestore.timeout", 10*time.Second)
	v.SetDefault("store.max_get_batch", 30)
	v.SetDefault("store.max_write_batch", 500)
	v.SetDefault("partitions.canonical", "unified_words")
	// Newer, curated partitions come before bulk imports so the better record wins.
	v.SetDefault("partitions.fallback", []map[string]any{
		{"name": "words", "keyed_by": "id"},
		{"name": "ai_words", "keyed_by": "id"},
		{"name": "user_submissions", "keyed_by": "id"},
		{"name": "photo_vocabulary", "keyed_by": "id"},
		{"name": "legacy_pdf", "keyed_by": "id"},
	})
	v.SetDefault("cache.memory_size", 1000)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.durable", DurableFile)
	v.SetDefault("cache.directory", filepath.Join("cache", "words"))
	v.SetDefault("cache.max_bytes", 64<<20)
	v.SetDefault("resolver.lookup_timeout", 5*time.Second)
	v.SetDefault("resolver.concurrency", 4)
	v.SetDefault("migration.batch_size", 500)
	v.SetDefault("migration.page_size", 500)
	v.SetDefault("migration.retry_attempts", 3)
	v.SetDefault("migration.retry_delay", 200*time.Millisecond)

	// Secrets are bound to environment variables only
	if err := v.BindEnv("database.password", "DB_PASSWORD"); err != nil {
		return nil, fmt.Errorf("failed to bind DB_PASSWORD environment variable: %w", err)
	}
	if err := v.BindEnv("store.firestore.token", "FIRESTORE_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind FIRESTORE_TOKEN environment variable: %w", err)
	}
	if err := v.BindEnv("store.firestore.project_id", "FIRESTORE_PROJECT_ID"); err != nil {
		return nil, fmt.Errorf("failed to bind FIRESTORE_PROJECT_ID environment variable: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("configuration file found but could not be read: %w. Please check the file format and permissions", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	if err := loader.validator.Struct(cfg); err != nil {
		validationErrors := err.(validator.ValidationErrors)
		var errorMsgs []string
		for _, e := range validationErrors {
			errorMsgs = append(errorMsgs, e.Translate(loader.translator))
		}
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errorMsgs, ", "))
	}

	return &cfg, nil
}
