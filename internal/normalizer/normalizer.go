// Package normalizer converts the record shapes found in legacy partitions
// into the canonical word entity.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

// ErrMissingWord is returned when a record has no usable word text.
var ErrMissingWord = errors.New("record has no word")

// DefaultSourceTypes maps the known legacy partitions to the provenance of their records.
var DefaultSourceTypes = map[string]word.SourceType{
	"words":              word.SourceManual,
	"vocabulary":         word.SourceManual,
	"ai_words":           word.SourceAIGenerated,
	"ai_generated_words": word.SourceAIGenerated,
	"legacy_pdf":         word.SourcePDFExtraction,
	"pdf_vocabulary":     word.SourcePDFExtraction,
	"photo_vocabulary":   word.SourcePhotoExtraction,
	"ocr_words":          word.SourcePhotoExtraction,
	"user_submissions":   word.SourceUserSubmission,
}

var categoryFlags = []struct {
	field    string
	category string
}{
	{field: "isSAT", category: "SAT"},
	{field: "isTOEFL", category: "TOEFL"},
	{field: "isTOEIC", category: "TOEIC"},
	{field: "isGRE", category: "GRE"},
	{field: "isCSAT", category: "CSAT"},
}

// Normalizer converts legacy documents into canonical words.
type Normalizer struct {
	sourceTypes map[string]word.SourceType
	weights     word.Weights
	now         func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithSourceTypes overrides the partition to source type table.
func WithSourceTypes(sourceTypes map[string]word.SourceType) Option {
	return func(n *Normalizer) {
		n.sourceTypes = sourceTypes
	}
}

// WithClock sets the clock used for createdAt defaults and updatedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// WithWeights sets the quality weight table.
func WithWeights(weights word.Weights) Option {
	return func(n *Normalizer) {
		n.weights = weights
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		sourceTypes: DefaultSourceTypes,
		weights:     word.DefaultWeights,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = New()

// Normalize converts doc with the default normalizer.
func Normalize(doc store.Document, partition, originID string) (*word.Word, error) {
	return defaultNormalizer.Normalize(doc, partition, originID)
}

// SourceTypeFor returns the source type inferred for records of a partition.
func (n *Normalizer) SourceTypeFor(partition string) word.SourceType {
	if t, ok := n.sourceTypes[partition]; ok {
		return t
	}
	return word.SourceLegacyImport
}

// Normalize converts a document from partition into a canonical word whose id
// is originID. Malformed fields degrade to their defaults; only a missing word
// is an error.
func (n *Normalizer) Normalize(doc store.Document, partition, originID string) (*word.Word, error) {
	text := strings.TrimSpace(toString(doc["word"]))
	if text == "" {
		return nil, fmt.Errorf("normalize %s/%s: %w", partition, originID, ErrMissingWord)
	}
	now := n.now()

	w := &word.Word{
		ID:             originID,
		Word:           text,
		NormalizedWord: word.NormalizeText(toString(doc["normalizedWord"])),
	}

	nested, _ := firstDefinition(doc)
	w.Definition, w.Examples = extractDefinition(doc, nested)
	w.EnglishDefinition = firstText(doc, "englishDefinition", "english_definition", "englishMeaning")
	if w.EnglishDefinition == nil && nested != nil {
		w.EnglishDefinition = firstText(nested, "englishDefinition", "english_definition")
	}
	w.Pronunciation = firstText(doc, "pronunciation", "phonetic", "ipa")
	w.Etymology = firstText(doc, "etymology")

	w.PartOfSpeech = partsOfSpeech(doc["partOfSpeech"])
	if len(w.PartOfSpeech) == 0 {
		w.PartOfSpeech = partsOfSpeech(doc["pos"])
	}
	if len(w.PartOfSpeech) == 0 && nested != nil {
		w.PartOfSpeech = partsOfSpeech(nested["partOfSpeech"])
	}
	w.Synonyms = word.Dedupe(stringList(doc["synonyms"]))
	w.Antonyms = word.Dedupe(stringList(doc["antonyms"]))

	w.Difficulty = rating(doc["difficulty"], false)
	w.Frequency = rating(doc["frequency"], true)
	w.Importance = rating(doc["importance"], true)

	w.Categories = extractCategories(doc)
	w.Tags = word.Dedupe(stringList(doc["tags"]))

	w.CreatedAt = now
	if createdAt, ok := firstTime(doc, "createdAt", "created_at", "timestamp"); ok {
		w.CreatedAt = createdAt
	}
	w.UpdatedAt = now
	w.Source = n.extractSource(doc, partition, originID, w.CreatedAt)
	w.Quality = extractQuality(doc)

	w.EnsureDefaults()
	w.Quality.Score = n.weights.Score(w)
	return w, nil
}

// extractDefinition applies the ordered shape match: a flat string definition,
// then the first nested definitions entry, then no definition at all.
func extractDefinition(doc store.Document, nested map[string]any) (*string, []string) {
	if s, ok := doc["definition"].(string); ok {
		return textPtr(s), stringList(doc["examples"])
	}
	if nested != nil {
		if d, ok := nested["definition"]; ok {
			examples := stringList(nested["examples"])
			if len(examples) == 0 {
				examples = stringList(doc["examples"])
			}
			return textPtr(toString(d)), examples
		}
	}

	examples := stringList(doc["examples"])
	if len(examples) == 0 {
		// OCR records only carry the sentence the word was found in.
		if c := strings.TrimSpace(toString(doc["context"])); c != "" {
			examples = []string{c}
		}
	}
	return nil, examples
}

func firstDefinition(doc store.Document) (map[string]any, bool) {
	defs, ok := doc["definitions"].([]any)
	if !ok || len(defs) == 0 {
		return nil, false
	}
	return asMap(defs[0])
}

func extractCategories(doc store.Document) []string {
	var categories []string
	for _, flag := range categoryFlags {
		if truthy(doc[flag.field]) {
			categories = append(categories, flag.category)
		}
	}
	categories = append(categories, stringList(doc["category"])...)
	categories = append(categories, stringList(doc["categories"])...)
	return word.Dedupe(categories)
}

func (n *Normalizer) extractSource(doc store.Document, partition, originID string, createdAt time.Time) word.Source {
	src := word.Source{
		Collection: partition,
		OriginalID: originID,
		AddedAt:    createdAt,
	}

	switch v := doc["source"].(type) {
	case string:
		if t, ok := word.ParseSourceType(v); ok {
			src.Type = t
		}
	default:
		if m, ok := asMap(v); ok {
			if t, ok := word.ParseSourceType(toString(m["type"])); ok {
				src.Type = t
			}
			src.AddedBy = firstText(m, "addedBy")
			if at, ok := parseTime(m["addedAt"]); ok {
				src.AddedAt = at
			}
		}
	}

	if src.Type == "" {
		src.Type = n.SourceTypeFor(partition)
	}
	if src.AddedBy == nil {
		src.AddedBy = firstText(doc, "addedBy", "createdBy", "userId")
	}
	return src
}

func extractQuality(doc store.Document) word.Quality {
	var q word.Quality
	m, ok := asMap(doc["quality"])
	if !ok {
		q.Validated = truthy(doc["validated"]) || truthy(doc["isVerified"])
		return q
	}
	q.Validated = truthy(m["validated"])
	q.ValidatedBy = firstText(m, "validatedBy")
	if at, ok := parseTime(m["validatedAt"]); ok {
		q.ValidatedAt = &at
	}
	return q
}
