// Package word defines the canonical word entity shared by the resolver, the
// normalizer and the migration runner.
package word

import (
	"strings"
	"time"
)

// SourceType identifies how a word entered the system.
type SourceType string

const (
	SourceManual          SourceType = "manual"
	SourceAIGenerated     SourceType = "ai_generated"
	SourcePDFExtraction   SourceType = "pdf_extraction"
	SourcePhotoExtraction SourceType = "photo_extraction"
	SourceUserSubmission  SourceType = "user_submission"
	SourceLegacyImport    SourceType = "legacy_import"
)

var sourceTypes = []SourceType{
	SourceManual,
	SourceAIGenerated,
	SourcePDFExtraction,
	SourcePhotoExtraction,
	SourceUserSubmission,
	SourceLegacyImport,
}

// ParseSourceType returns the SourceType named by s, ignoring case and surrounding spaces.
func ParseSourceType(s string) (SourceType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, t := range sourceTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// DefaultRating is used for difficulty, frequency and importance when a record does not carry them.
const DefaultRating = 5

// Source records the provenance of a word. Every canonical word points back
// to exactly one origin partition and origin id.
type Source struct {
	Type       SourceType `json:"type" yaml:"type"`
	Collection string     `json:"collection" yaml:"collection"`
	OriginalID string     `json:"originalId" yaml:"originalId"`
	AddedBy    *string    `json:"addedBy" yaml:"addedBy"`
	AddedAt    time.Time  `json:"addedAt" yaml:"addedAt"`
}

// Quality holds the completeness score and the review state of a word.
type Quality struct {
	Score       int        `json:"score" yaml:"score"`
	Validated   bool       `json:"validated" yaml:"validated"`
	ValidatedBy *string    `json:"validatedBy" yaml:"validatedBy"`
	ValidatedAt *time.Time `json:"validatedAt" yaml:"validatedAt"`
}

// Word is the canonical word entity.
//
// Difficulty, Frequency and Importance stay nil when the origin record did not
// carry them so that scoring can tell a provided value from a default; use the
// *OrDefault accessors to read them.
type Word struct {
	ID                string    `json:"id" yaml:"id"`
	Word              string    `json:"word" yaml:"word" validate:"notblank"`
	NormalizedWord    string    `json:"normalizedWord" yaml:"normalizedWord"`
	Definition        *string   `json:"definition" yaml:"definition"`
	EnglishDefinition *string   `json:"englishDefinition" yaml:"englishDefinition"`
	Pronunciation     *string   `json:"pronunciation" yaml:"pronunciation"`
	PartOfSpeech      []string  `json:"partOfSpeech" yaml:"partOfSpeech"`
	Examples          []string  `json:"examples" yaml:"examples"`
	Synonyms          []string  `json:"synonyms" yaml:"synonyms"`
	Antonyms          []string  `json:"antonyms" yaml:"antonyms"`
	Etymology         *string   `json:"etymology" yaml:"etymology"`
	Difficulty        *int      `json:"difficulty,omitempty" yaml:"difficulty,omitempty" validate:"omitempty,min=1,max=10"`
	Frequency         *int      `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Importance        *int      `json:"importance,omitempty" yaml:"importance,omitempty"`
	Categories        []string  `json:"categories" yaml:"categories"`
	Tags              []string  `json:"tags" yaml:"tags"`
	Source            Source    `json:"source" yaml:"source"`
	Quality           Quality   `json:"quality" yaml:"quality"`
	CreatedAt         time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// DifficultyOrDefault returns the difficulty, or DefaultRating when unset.
func (w *Word) DifficultyOrDefault() int {
	return ratingOrDefault(w.Difficulty)
}

// FrequencyOrDefault returns the frequency, or DefaultRating when unset.
func (w *Word) FrequencyOrDefault() int {
	return ratingOrDefault(w.Frequency)
}

// ImportanceOrDefault returns the importance, or DefaultRating when unset.
func (w *Word) ImportanceOrDefault() int {
	return ratingOrDefault(w.Importance)
}

func ratingOrDefault(v *int) int {
	if v == nil {
		return DefaultRating
	}
	return *v
}

// EnsureDefaults derives NormalizedWord and replaces nil lists with empty ones.
func (w *Word) EnsureDefaults() {
	if strings.TrimSpace(w.NormalizedWord) == "" {
		w.NormalizedWord = NormalizeText(w.Word)
	}
	w.PartOfSpeech = nonNil(w.PartOfSpeech)
	w.Examples = nonNil(w.Examples)
	w.Synonyms = nonNil(w.Synonyms)
	w.Antonyms = nonNil(w.Antonyms)
	w.Categories = Dedupe(w.Categories)
	w.Tags = Dedupe(w.Tags)
}

// NormalizeText returns the secondary lookup key for a word text.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Dedupe trims values, drops blanks and keeps the first occurrence of each value.
// It never returns nil.
func Dedupe(values []string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	return result
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// HasText reports whether p points to a non-blank string.
func HasText(p *string) bool {
	return p != nil && strings.TrimSpace(*p) != ""
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to i.
func IntPtr(i int) *int {
	return &i
}
