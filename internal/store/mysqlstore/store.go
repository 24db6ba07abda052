// Package mysqlstore implements store.RecordStore on MySQL. Every partition
// shares the word_records table; documents are kept in a JSON column.
package mysqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/at-ishikawa/wordhub/internal/database"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

var _ store.RecordStore = (*Store)(nil)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Fields stored in their own indexed columns.
var columnFields = map[string]string{
	"word":           "word",
	"normalizedWord": "normalized_word",
}

type recordRow struct {
	RecordID string `db:"record_id"`
	Doc      []byte `db:"doc"`
}

// Store is a RecordStore backed by MySQL.
type Store struct {
	db     *sqlx.DB
	limits store.Limits
}

// New creates a Store.
func New(db *sqlx.DB, limits store.Limits) *Store {
	return &Store{db: db, limits: limits}
}

// CreatePartition registers a partition if it does not exist yet.
func (s *Store) CreatePartition(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "INSERT IGNORE INTO word_partitions (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("create partition %s: %w", name, err)
	}
	return nil
}

func (s *Store) checkPartition(ctx context.Context, partition string) error {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM word_partitions WHERE name = ?", partition); err != nil {
		return fmt.Errorf("check partition %s: %w", partition, err)
	}
	if count == 0 {
		return fmt.Errorf("%s: %w", partition, store.ErrPartitionNotFound)
	}
	return nil
}

// GetByID implements store.RecordStore.
func (s *Store) GetByID(ctx context.Context, partition, id string) (*store.Record, error) {
	var row recordRow
	err := s.db.GetContext(ctx, &row,
		"SELECT record_id, doc FROM word_records WHERE partition_name = ? AND record_id = ?",
		partition, id)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.checkPartition(ctx, partition); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %s/%s: %w", partition, id, err)
	}
	record, err := row.record()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByIDs implements store.RecordStore.
func (s *Store) GetByIDs(ctx context.Context, partition string, ids []string) ([]store.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if s.limits.MaxGetBatch > 0 && len(ids) > s.limits.MaxGetBatch {
		return nil, fmt.Errorf("get %d ids (max %d): %w", len(ids), s.limits.MaxGetBatch, store.ErrBatchTooLarge)
	}

	query, args, err := sqlx.In(
		"SELECT record_id, doc FROM word_records WHERE partition_name = ? AND record_id IN (?) ORDER BY record_id",
		partition, ids)
	if err != nil {
		return nil, fmt.Errorf("build records query: %w", err)
	}
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load records from %s: %w", partition, err)
	}
	return s.records(ctx, partition, rows)
}

// QueryByField implements store.RecordStore. word and normalizedWord use
// their indexed columns; any other field is matched inside the JSON document,
// where a list field matches when it contains value.
func (s *Store) QueryByField(ctx context.Context, partition, field, value string, limit int) ([]store.Record, error) {
	if column, ok := columnFields[field]; ok {
		return s.query(ctx, partition, field, column+" = ?", []any{value}, limit)
	}
	return s.query(ctx, partition, field, "JSON_CONTAINS(JSON_EXTRACT(doc, ?), JSON_QUOTE(?))", []any{"$." + field, value}, limit)
}

// QueryByText implements store.RecordStore. Both word columns are matched on
// normalized_word, which is derived on write.
func (s *Store) QueryByText(ctx context.Context, partition, field, text string, limit int) ([]store.Record, error) {
	normalized := word.NormalizeText(text)
	if _, ok := columnFields[field]; ok {
		return s.query(ctx, partition, field, "normalized_word = ?", []any{normalized}, limit)
	}
	return s.query(ctx, partition, field, "LOWER(TRIM(JSON_UNQUOTE(JSON_EXTRACT(doc, ?)))) = ?", []any{"$." + field, normalized}, limit)
}

func (s *Store) query(ctx context.Context, partition, field, condition string, conditionArgs []any, limit int) ([]store.Record, error) {
	if !fieldPattern.MatchString(field) {
		return nil, fmt.Errorf("invalid field name %q", field)
	}

	var sb strings.Builder
	sb.WriteString("SELECT record_id, doc FROM word_records WHERE partition_name = ? AND ")
	sb.WriteString(condition)
	args := append([]any{partition}, conditionArgs...)
	sb.WriteString(" ORDER BY record_id")
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", partition, field, err)
	}
	return s.records(ctx, partition, rows)
}

// WriteBatch implements store.RecordStore. Records are upserted in one transaction.
func (s *Store) WriteBatch(ctx context.Context, partition string, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.limits.MaxWriteBatch > 0 && len(records) > s.limits.MaxWriteBatch {
		return fmt.Errorf("write %d records (max %d): %w", len(records), s.limits.MaxWriteBatch, store.ErrBatchTooLarge)
	}

	args := make([]any, 0, len(records)*5)
	for _, r := range records {
		doc, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("encode record %s/%s: %w", partition, r.ID, err)
		}
		text, normalized := wordColumns(r.Data)
		args = append(args, partition, r.ID, text, normalized, doc)
	}

	return database.RunInTx(ctx, s.db, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT IGNORE INTO word_partitions (name) VALUES (?)", partition); err != nil {
			return fmt.Errorf("create partition %s: %w", partition, err)
		}
		query := buildMultiRowInsert(
			"word_records",
			[]string{"partition_name", "record_id", "word", "normalized_word", "doc"},
			len(records),
		) + " ON DUPLICATE KEY UPDATE word = VALUES(word), normalized_word = VALUES(normalized_word), doc = VALUES(doc)"
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert records into %s: %w", partition, err)
		}
		return nil
	})
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM word_records WHERE partition_name = ? AND record_id = ?",
		partition, id)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", partition, id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return s.checkPartition(ctx, partition)
	}
	return nil
}

// ListRecords implements store.RecordStore.
func (s *Store) ListRecords(ctx context.Context, partition, afterID string, limit int) ([]store.Record, error) {
	query := "SELECT record_id, doc FROM word_records WHERE partition_name = ? AND record_id > ? ORDER BY record_id"
	args := []any{partition, afterID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list records of %s: %w", partition, err)
	}
	return s.records(ctx, partition, rows)
}

// Ping implements store.RecordStore.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

// Limits implements store.RecordStore.
func (s *Store) Limits() store.Limits {
	return s.limits
}

// records decodes rows. An empty result is checked against the partition
// table so that a missing partition is reported instead of an empty page.
func (s *Store) records(ctx context.Context, partition string, rows []recordRow) ([]store.Record, error) {
	if len(rows) == 0 {
		if err := s.checkPartition(ctx, partition); err != nil {
			return nil, err
		}
		return nil, nil
	}
	records := make([]store.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (r recordRow) record() (store.Record, error) {
	var doc store.Document
	if err := json.Unmarshal(r.Doc, &doc); err != nil {
		return store.Record{}, fmt.Errorf("decode record %s: %w", r.RecordID, err)
	}
	return store.Record{ID: r.RecordID, Data: doc}, nil
}

func wordColumns(doc store.Document) (string, string) {
	text, _ := doc["word"].(string)
	normalized, _ := doc["normalizedWord"].(string)
	if normalized == "" {
		normalized = word.NormalizeText(text)
	}
	return strings.TrimSpace(text), normalized
}

// buildMultiRowInsert builds a multi-row INSERT query.
func buildMultiRowInsert(table string, columns []string, rowCount int) string {
	placeholder := "(" + strings.Repeat("?, ", len(columns)-1) + "?)"
	values := strings.Repeat(placeholder+", ", rowCount-1) + placeholder
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(columns, ", "), values)
}
