// Package testutil provides shared test helpers for creating config files and partition fixtures.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// SetupTestConfig creates a config file backed by the yaml store and the file cache tier,
// with the partitions of LegacyPartitions as the fallback chain.
// Returns the path to the generated config file.
func SetupTestConfig(t *testing.T, tmpDir string) string {
	t.Helper()

	for _, d := range []string{"partitions", "cache"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, d), 0755))
	}

	configContent := fmt.Sprintf(`store:
  driver: yaml
  yaml:
    directory: %s
partitions:
  canonical: unified_words
  fallback:
    - name: words
    - name: ai_words
    - name: photo_vocabulary
      word_field: word
cache:
  memory_size: 100
  ttl: 1h
  durable: file
  directory: %s
resolver:
  lookup_timeout: 2s
  concurrency: 2
migration:
  batch_size: 50
  page_size: 50
  retry_attempts: 1
  retry_delay: 1ms
`,
		filepath.Join(tmpDir, "partitions"),
		filepath.Join(tmpDir, "cache"),
	)

	cfgPath := filepath.Join(tmpDir, "config.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(configContent), 0644))
	return cfgPath
}

// WritePartition writes docs as the yaml store file of partition under dir.
func WritePartition(t *testing.T, dir, partition string, docs map[string]map[string]any) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0755))
	content, err := yaml.Marshal(docs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, partition+".yml"), content, 0644))
}

// LegacyPartitions returns one record per legacy partition shape, keyed by partition name.
func LegacyPartitions() map[string]map[string]map[string]any {
	return map[string]map[string]map[string]any{
		"words": {
			"w1": {
				"word":         "Abate",
				"definition":   "줄다",
				"examples":     []any{"The storm abated."},
				"partOfSpeech": "verb",
				"difficulty":   4,
			},
		},
		"ai_words": {
			"a1": {
				"word": "benign",
				"definitions": []any{
					map[string]any{"definition": "양성의", "examples": []any{"A benign tumor."}},
				},
				"synonyms": []any{"harmless", "gentle"},
			},
		},
		"photo_vocabulary": {
			"p1": {
				"word":       "candid",
				"context":    "She gave a candid answer.",
				"userId":     "user-1",
				"created_at": "2024-03-01T10:00:00Z",
			},
		},
	}
}
