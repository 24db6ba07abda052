package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestNormalizer_Normalize(t *testing.T) {
	createdAt := time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		name      string
		doc       store.Document
		partition string
		id        string
		want      *word.Word
	}{
		{
			name:      "nested definitions from a pdf partition",
			doc:       store.Document{"word": "Abate", "definitions": []any{map[string]any{"definition": "줄다", "examples": []any{"Prices abated."}}}},
			partition: "legacy_pdf",
			id:        "pdf-1",
			want: &word.Word{
				ID:             "pdf-1",
				Word:           "Abate",
				NormalizedWord: "abate",
				Definition:     word.StringPtr("줄다"),
				PartOfSpeech:   []string{},
				Examples:       []string{"Prices abated."},
				Synonyms:       []string{},
				Antonyms:       []string{},
				Categories:     []string{},
				Tags:           []string{},
				Source: word.Source{
					Type:       word.SourcePDFExtraction,
					Collection: "legacy_pdf",
					OriginalID: "pdf-1",
					AddedAt:    fixedNow,
				},
				Quality:   word.Quality{Score: 25},
				CreatedAt: fixedNow,
				UpdatedAt: fixedNow,
			},
		},
		{
			name: "flat definition with ratings, flags and timestamps",
			doc: store.Document{
				"word":         "benign",
				"definition":   "온화한",
				"examples":     []any{"a benign smile"},
				"partOfSpeech": "adjective, noun",
				"difficulty":   "7",
				"frequency":    42.0,
				"isSAT":        true,
				"isGRE":        "yes",
				"category":     "SAT",
				"tags":         []any{"exam", "exam", " "},
				"createdAt":    map[string]any{"_seconds": float64(createdAt.Unix()), "_nanoseconds": 0.0},
				"addedBy":      "user-1",
			},
			partition: "words",
			id:        "w-1",
			want: &word.Word{
				ID:             "w-1",
				Word:           "benign",
				NormalizedWord: "benign",
				Definition:     word.StringPtr("온화한"),
				PartOfSpeech:   []string{"adjective", "noun"},
				Examples:       []string{"a benign smile"},
				Synonyms:       []string{},
				Antonyms:       []string{},
				Difficulty:     word.IntPtr(7),
				Frequency:      word.IntPtr(10),
				Categories:     []string{"SAT", "GRE"},
				Tags:           []string{"exam"},
				Source: word.Source{
					Type:       word.SourceManual,
					Collection: "words",
					OriginalID: "w-1",
					AddedBy:    word.StringPtr("user-1"),
					AddedAt:    createdAt,
				},
				Quality:   word.Quality{Score: 40},
				CreatedAt: createdAt,
				UpdatedAt: fixedNow,
			},
		},
		{
			name:      "ocr record uses its context as the example",
			doc:       store.Document{"word": "cogent", "context": "  a cogent argument ", "createdAt": "2023-05-06T07:08:09Z"},
			partition: "photo_vocabulary",
			id:        "ocr-1",
			want: &word.Word{
				ID:             "ocr-1",
				Word:           "cogent",
				NormalizedWord: "cogent",
				PartOfSpeech:   []string{},
				Examples:       []string{"a cogent argument"},
				Synonyms:       []string{},
				Antonyms:       []string{},
				Categories:     []string{},
				Tags:           []string{},
				Source: word.Source{
					Type:       word.SourcePhotoExtraction,
					Collection: "photo_vocabulary",
					OriginalID: "ocr-1",
					AddedAt:    createdAt,
				},
				Quality:   word.Quality{Score: 5},
				CreatedAt: createdAt,
				UpdatedAt: fixedNow,
			},
		},
		{
			name:      "no definition in an unmapped partition",
			doc:       store.Document{"word": "  zeal  ", "source": map[string]any{"type": "user_submission", "addedBy": "u-9"}},
			partition: "misc_2019",
			id:        "m-1",
			want: &word.Word{
				ID:             "m-1",
				Word:           "zeal",
				NormalizedWord: "zeal",
				PartOfSpeech:   []string{},
				Examples:       []string{},
				Synonyms:       []string{},
				Antonyms:       []string{},
				Categories:     []string{},
				Tags:           []string{},
				Source: word.Source{
					Type:       word.SourceUserSubmission,
					Collection: "misc_2019",
					OriginalID: "m-1",
					AddedBy:    word.StringPtr("u-9"),
					AddedAt:    fixedNow,
				},
				CreatedAt: fixedNow,
				UpdatedAt: fixedNow,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestNormalizer().Normalize(tt.doc, tt.partition, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizer_Normalize_DefinitionPrecedence(t *testing.T) {
	doc := store.Document{
		"word":        "abate",
		"definition":  "flat",
		"definitions": []any{map[string]any{"definition": "nested"}},
		"context":     "ignored context",
	}
	got, err := newTestNormalizer().Normalize(doc, "words", "1")
	require.NoError(t, err)
	assert.Equal(t, "flat", *got.Definition)
	assert.Empty(t, got.Examples)
}

func TestNormalizer_Normalize_MissingWord(t *testing.T) {
	tests := []struct {
		name string
		doc  store.Document
	}{
		{name: "no word field", doc: store.Document{"definition": "x"}},
		{name: "blank word", doc: store.Document{"word": "   "}},
		{name: "nil document", doc: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := newTestNormalizer().Normalize(tt.doc, "words", "1")
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, ErrMissingWord))
		})
	}
}

func TestNormalizer_Normalize_IsTotal(t *testing.T) {
	docs := []store.Document{
		{"word": "a", "definition": 12},
		{"word": "a", "definitions": []any{"just a string"}},
		{"word": "a", "definitions": "not a list"},
		{"word": "a", "examples": "single example", "synonyms": map[string]any{"x": 1}},
		{"word": "a", "difficulty": "hard", "frequency": []any{1}, "createdAt": "yesterday"},
		{"word": "a", "source": 7, "quality": "high"},
		{"word": 42},
	}
	for _, doc := range docs {
		got, err := newTestNormalizer().Normalize(doc, "words", "id")
		require.NoError(t, err)
		assert.NotEmpty(t, got.Word)
		assert.NotNil(t, got.PartOfSpeech)
		assert.NotNil(t, got.Examples)
		assert.NotNil(t, got.Synonyms)
		assert.NotNil(t, got.Antonyms)
		assert.NotNil(t, got.Categories)
		assert.NotNil(t, got.Tags)
		assert.GreaterOrEqual(t, got.Quality.Score, 0)
		assert.LessOrEqual(t, got.Quality.Score, 100)
	}
}

func TestNormalizer_SourceTypeFor(t *testing.T) {
	n := New(WithSourceTypes(map[string]word.SourceType{"scans": word.SourcePhotoExtraction}))
	assert.Equal(t, word.SourcePhotoExtraction, n.SourceTypeFor("scans"))
	assert.Equal(t, word.SourceLegacyImport, n.SourceTypeFor("words"))
}

func TestEncodeDecode(t *testing.T) {
	original, err := newTestNormalizer().Normalize(store.Document{
		"word":       "Abate",
		"definition": "줄다",
		"difficulty": 3,
	}, "words", "w-1")
	require.NoError(t, err)

	doc, err := Encode(original)
	require.NoError(t, err)
	assert.Equal(t, "abate", doc["normalizedWord"])
	assert.Equal(t, "manual", doc["source"].(map[string]any)["type"])

	decoded, err := Decode(doc, "w-1")
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestNormalizer_Canonical(t *testing.T) {
	n := newTestNormalizer()

	t.Run("legacy shaped record is normalized", func(t *testing.T) {
		got, err := n.Canonical(store.Document{
			"word":        "abate",
			"definitions": []any{map[string]any{"definition": "줄다"}},
		}, "unified_words", "u-1")
		require.NoError(t, err)
		assert.Equal(t, "줄다", *got.Definition)
		assert.Equal(t, "unified_words", got.Source.Collection)
	})

	t.Run("missing word is an error", func(t *testing.T) {
		_, err := n.Canonical(store.Document{"definition": "x"}, "unified_words", "u-1")
		assert.ErrorIs(t, err, ErrMissingWord)
	})
}
