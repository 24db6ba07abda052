package yamlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/wordhub/internal/store"
)

const legacyPDF = `p1:
  word: Abate
  definitions:
    - definition: 줄다
      examples:
        - The storm abated.
  difficulty: 4
p2:
  word: benign
  definition: 양성의
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "legacy_pdf.yml"), legacyPDF)
	writeFile(t, filepath.Join(dir, "unified_words.yaml"), "")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")

	s, err := Open(dir, store.DefaultLimits)
	require.NoError(t, err)
	ctx := context.Background()

	got, err := s.GetByID(ctx, "legacy_pdf", "p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, store.Document{
		"word": "Abate",
		"definitions": []any{
			map[string]any{"definition": "줄다", "examples": []any{"The storm abated."}},
		},
		"difficulty": 4,
	}, got.Data)

	records, err := s.QueryByField(ctx, "legacy_pdf", "definition", "양성의", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, store.IDs(records))

	records, err = s.QueryByText(ctx, "legacy_pdf", "word", " ABATE ", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, store.IDs(records))

	empty, err := s.ListRecords(ctx, "unified_words", "", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetByID(ctx, "README", "p1")
	assert.ErrorIs(t, err, store.ErrPartitionNotFound)
}

func TestOpen_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "words.yml"), "- not\n- a map\n")

	_, err := Open(dir, store.DefaultLimits)
	assert.ErrorContains(t, err, "load partition words")
}

func TestStore_WriteBatchPersists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "partitions")
	ctx := context.Background()

	s, err := Open(dir, store.Limits{MaxGetBatch: 30, MaxWriteBatch: 2})
	require.NoError(t, err)
	require.NoError(t, s.WriteBatch(ctx, "unified_words", []store.Record{
		{ID: "a", Data: store.Document{"word": "abate", "examples": []any{"Prices abated."}}},
		{ID: "b", Data: store.Document{"word": "benign"}},
	}))
	require.NoError(t, s.Delete(ctx, "unified_words", "b"))

	err = s.WriteBatch(ctx, "unified_words", []store.Record{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	assert.ErrorIs(t, err, store.ErrBatchTooLarge)

	reopened, err := Open(dir, store.DefaultLimits)
	require.NoError(t, err)
	records, err := reopened.ListRecords(ctx, "unified_words", "", 0)
	require.NoError(t, err)
	assert.Equal(t, []store.Record{
		{ID: "a", Data: store.Document{"word": "abate", "examples": []any{"Prices abated."}}},
	}, records)

	_, err = os.Stat(filepath.Join(dir, "unified_words.yml.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestStore_CreatePartition(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, store.DefaultLimits)
	require.NoError(t, err)

	require.NoError(t, s.CreatePartition("ai_words"))
	assert.FileExists(t, filepath.Join(dir, "ai_words.yml"))

	reopened, err := Open(dir, store.DefaultLimits)
	require.NoError(t, err)
	got, err := reopened.GetByID(context.Background(), "ai_words", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_DeleteUnknownPartition(t *testing.T) {
	s, err := Open(t.TempDir(), store.DefaultLimits)
	require.NoError(t, err)

	err = s.Delete(context.Background(), "words", "a")
	assert.ErrorIs(t, err, store.ErrPartitionNotFound)
}
