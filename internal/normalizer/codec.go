package normalizer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

// Encode converts a canonical word into the document written to the canonical partition.
func Encode(w *word.Word) (store.Document, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	var doc store.Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	return doc, nil
}

// Decode reads a document written by Encode back into a word.
func Decode(doc store.Document, id string) (*word.Word, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("json.Marshal: %w", err)
	}
	var w word.Word
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}
	if strings.TrimSpace(w.Word) == "" {
		return nil, fmt.Errorf("decode %s: %w", id, ErrMissingWord)
	}
	if w.Source.Type == "" {
		return nil, fmt.Errorf("decode %s: record has no source type", id)
	}
	if w.ID == "" {
		w.ID = id
	}
	w.EnsureDefaults()
	return &w, nil
}

// Canonical reads a record from the canonical partition. Records that were
// not written in the canonical shape are normalized instead.
func (n *Normalizer) Canonical(doc store.Document, partition, id string) (*word.Word, error) {
	w, err := Decode(doc, id)
	if err == nil {
		return w, nil
	}
	slog.Default().Debug("canonical record is not in canonical shape, normalizing",
		"partition", partition,
		"id", id,
		"error", err,
	)
	return n.Normalize(doc, partition, id)
}
