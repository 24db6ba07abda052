package firestore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/wordhub/internal/store"
)

const testDocumentsPath = "/projects/test-project/databases/(default)/documents"

// fakeFirestore serves the subset of the Firestore REST API the store uses.
type fakeFirestore struct {
	t           *testing.T
	mu          sync.Mutex
	collections map[string]map[string]map[string]value
	requests    []string
	failWith    int
}

func newFakeFirestore(t *testing.T) *fakeFirestore {
	return &fakeFirestore{t: t, collections: make(map[string]map[string]map[string]value)}
}

func (f *fakeFirestore) put(collection, id string, doc store.Document) {
	fields, err := encodeFields(doc)
	require.NoError(f.t, err)
	if f.collections[collection] == nil {
		f.collections[collection] = make(map[string]map[string]value)
	}
	f.collections[collection][id] = fields
}

func (f *fakeFirestore) name(collection, id string) string {
	return strings.TrimPrefix(testDocumentsPath, "/") + "/" + collection + "/" + id
}

func (f *fakeFirestore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, testDocumentsPath)
	f.requests = append(f.requests, r.Method+" "+path)
	if f.failWith != 0 {
		w.WriteHeader(f.failWith)
		_, _ = w.Write([]byte(`{"error":{"message":"unavailable"}}`))
		return
	}

	switch {
	case r.Method == http.MethodGet:
		parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
		fields, ok := f.collections[parts[0]][parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		f.writeJSON(w, document{Name: f.name(parts[0], parts[1]), Fields: fields})
	case r.Method == http.MethodDelete:
		parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
		delete(f.collections[parts[0]], parts[1])
		f.writeJSON(w, map[string]any{})
	case path == ":batchGet":
		var body batchGetRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		var entries []batchGetEntry
		for _, name := range body.Documents {
			parts := strings.Split(name, "/")
			collection, id := parts[len(parts)-2], parts[len(parts)-1]
			if fields, ok := f.collections[collection][id]; ok {
				entries = append(entries, batchGetEntry{Found: &document{Name: name, Fields: fields}})
			} else {
				entries = append(entries, batchGetEntry{Missing: name})
			}
		}
		f.writeJSON(w, entries)
	case path == ":runQuery":
		var body runQueryRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.writeJSON(w, f.runQuery(body.StructuredQuery))
	case path == ":commit":
		var body commitRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		for _, write := range body.Writes {
			parts := strings.Split(write.Update.Name, "/")
			collection, id := parts[len(parts)-2], parts[len(parts)-1]
			if f.collections[collection] == nil {
				f.collections[collection] = make(map[string]map[string]value)
			}
			f.collections[collection][id] = write.Update.Fields
		}
		f.writeJSON(w, map[string]any{"commitTime": "2025-01-01T00:00:00Z"})
	case path == ":listCollectionIds":
		var ids []string
		for id := range f.collections {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		f.writeJSON(w, listCollectionIDsResponse{CollectionIDs: ids})
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeFirestore) runQuery(query structuredQuery) []runQueryEntry {
	collection := query.From[0].CollectionID
	ids := make([]string, 0, len(f.collections[collection]))
	for id := range f.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	after := ""
	if query.StartAt != nil {
		after = recordID(*query.StartAt.Values[0].ReferenceValue)
	}
	var entries []runQueryEntry
	for _, id := range ids {
		if id <= after {
			continue
		}
		fields := f.collections[collection][id]
		if query.Where != nil && !matches(fields, *query.Where) {
			continue
		}
		entries = append(entries, runQueryEntry{Document: &document{Name: f.name(collection, id), Fields: fields}})
		if query.Limit > 0 && len(entries) >= query.Limit {
			break
		}
	}
	if len(entries) == 0 {
		// Firestore answers an empty query with a single read-time entry.
		entries = append(entries, runQueryEntry{})
	}
	return entries
}

func matches(fields map[string]value, f filter) bool {
	if f.CompositeFilter != nil {
		for _, sub := range f.CompositeFilter.Filters {
			if matches(fields, sub) {
				return true
			}
		}
		return false
	}
	got, ok := fields[f.FieldFilter.Field.FieldPath]
	if !ok {
		return false
	}
	if f.FieldFilter.Op == "IN" {
		for _, item := range f.FieldFilter.Value.ArrayValue.Values {
			if got.StringValue != nil && *got.StringValue == *item.StringValue {
				return true
			}
		}
		return false
	}
	want := *f.FieldFilter.Value.StringValue
	switch f.FieldFilter.Op {
	case "EQUAL":
		return got.StringValue != nil && *got.StringValue == want
	case "ARRAY_CONTAINS":
		if got.ArrayValue == nil {
			return false
		}
		for _, item := range got.ArrayValue.Values {
			if item.StringValue != nil && *item.StringValue == want {
				return true
			}
		}
	}
	return false
}

func (f *fakeFirestore) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	require.NoError(f.t, json.NewEncoder(w).Encode(v))
}

func newTestStore(t *testing.T) (*Store, *fakeFirestore) {
	t.Helper()
	fake := newFakeFirestore(t)
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	s := New(Options{
		BaseURL:   server.URL,
		ProjectID: "test-project",
		Token:     "test-token",
		Limits:    store.Limits{MaxGetBatch: 2, MaxWriteBatch: 2},
	})
	t.Cleanup(func() { _ = s.Close() })
	return s, fake
}

func TestStore_GetByID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    *store.Record
		wantErr error
		setup   func(f *fakeFirestore)
	}{
		{
			name: "decodes typed fields",
			id:   "w1",
			setup: func(f *fakeFirestore) {
				f.put("words", "w1", store.Document{
					"word":       "abate",
					"difficulty": 4,
					"isSAT":      true,
					"examples":   []any{"Prices abated."},
					"source":     map[string]any{"type": "manual"},
				})
			},
			want: &store.Record{ID: "w1", Data: store.Document{
				"word":       "abate",
				"difficulty": float64(4),
				"isSAT":      true,
				"examples":   []any{"Prices abated."},
				"source":     map[string]any{"type": "manual"},
			}},
		},
		{
			name: "absent document in an existing collection",
			id:   "missing",
			setup: func(f *fakeFirestore) {
				f.put("words", "w1", store.Document{"word": "abate"})
			},
		},
		{
			name:    "missing collection",
			id:      "w1",
			setup:   func(f *fakeFirestore) {},
			wantErr: store.ErrPartitionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, fake := newTestStore(t)
			tt.setup(fake)

			got, err := s.GetByID(context.Background(), "words", tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_GetByIDs(t *testing.T) {
	s, fake := newTestStore(t)
	fake.put("unified_words", "a", store.Document{"word": "abate"})
	fake.put("unified_words", "c", store.Document{"word": "cogent"})

	got, err := s.GetByIDs(context.Background(), "unified_words", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, store.IDs(got))

	_, err = s.GetByIDs(context.Background(), "unified_words", []string{"a", "b", "c"})
	assert.ErrorIs(t, err, store.ErrBatchTooLarge)
}

func TestStore_QueryByField(t *testing.T) {
	s, fake := newTestStore(t)
	fake.put("words", "a", store.Document{"word": "abate", "normalizedWord": "abate"})
	fake.put("words", "b", store.Document{"word": "abate", "normalizedWord": "abate"})
	fake.put("words", "c", store.Document{"word": "benign", "categories": []string{"SAT", "GRE"}})

	tests := []struct {
		name    string
		field   string
		value   string
		limit   int
		wantIDs []string
	}{
		{name: "equality", field: "normalizedWord", value: "abate", wantIDs: []string{"a", "b"}},
		{name: "limit", field: "normalizedWord", value: "abate", limit: 1, wantIDs: []string{"a"}},
		{name: "array contains", field: "categories", value: "GRE", wantIDs: []string{"c"}},
		{name: "no match", field: "normalizedWord", value: "zeal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryByField(context.Background(), "words", tt.field, tt.value, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, idsOrNil(got))
		})
	}
}

func TestStore_QueryByText(t *testing.T) {
	s, fake := newTestStore(t)
	fake.put("words", "a", store.Document{"word": "Abate"})
	fake.put("words", "b", store.Document{"word": "BENIGN"})
	fake.put("words", "c", store.Document{"word": "candid"})

	tests := []struct {
		name    string
		text    string
		wantIDs []string
	}{
		{name: "lower case finds capitalized", text: "abate", wantIDs: []string{"a"}},
		{name: "surrounding spaces", text: "  ABATE ", wantIDs: []string{"a"}},
		{name: "upper case stored", text: "Benign", wantIDs: []string{"b"}},
		{name: "lower case stored", text: "CANDID", wantIDs: []string{"c"}},
		{name: "no match", text: "zeal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.QueryByText(context.Background(), "words", "word", tt.text, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, idsOrNil(got))
		})
	}
}

func TestTextVariants(t *testing.T) {
	assert.Equal(t, []string{"abate", "ABATE", "Abate"}, textVariants(" abate "))
	assert.Equal(t, []string{"Abate", "abate", "ABATE"}, textVariants("Abate"))
}

func TestStore_WriteBatchAndListRecords(t *testing.T) {
	s, fake := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteBatch(ctx, "unified_words", []store.Record{
		{ID: "b", Data: store.Document{"word": "benign", "quality": map[string]any{"score": 25}}},
		{ID: "a", Data: store.Document{"word": "abate", "definition": nil}},
	}))
	require.NoError(t, s.WriteBatch(ctx, "unified_words", []store.Record{
		{ID: "c", Data: store.Document{"word": "cogent"}},
	}))

	first, err := s.ListRecords(ctx, "unified_words", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, store.IDs(first))
	assert.Equal(t, store.Document{"word": "abate", "definition": nil}, first[0].Data)
	assert.Equal(t, map[string]any{"score": float64(25)}, first[1].Data["quality"])

	second, err := s.ListRecords(ctx, "unified_words", "b", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, store.IDs(second))

	rest, err := s.ListRecords(ctx, "unified_words", "c", 2)
	require.NoError(t, err)
	assert.Empty(t, rest)

	err = s.WriteBatch(ctx, "unified_words", []store.Record{{ID: "1"}, {ID: "2"}, {ID: "3"}})
	assert.ErrorIs(t, err, store.ErrBatchTooLarge)
	assert.Len(t, fake.collections["unified_words"], 3)
}

func TestStore_Delete(t *testing.T) {
	s, fake := newTestStore(t)
	fake.put("unified_words", "a", store.Document{"word": "abate"})

	require.NoError(t, s.Delete(context.Background(), "unified_words", "a"))
	assert.Empty(t, fake.collections["unified_words"])
}

func TestStore_ErrorResponses(t *testing.T) {
	s, fake := newTestStore(t)
	fake.put("words", "a", store.Document{"word": "abate"})
	fake.failWith = http.StatusServiceUnavailable
	ctx := context.Background()

	_, err := s.GetByID(ctx, "words", "a")
	assert.ErrorContains(t, err, "response error 503")
	_, err = s.QueryByField(ctx, "words", "normalizedWord", "abate", 1)
	assert.ErrorContains(t, err, "response error 503")
	err = s.WriteBatch(ctx, "words", []store.Record{{ID: "a", Data: store.Document{"word": "abate"}}})
	assert.ErrorContains(t, err, "response error 503")
	assert.ErrorContains(t, s.Ping(ctx), "ping firestore")
}

func TestStore_Ping(t *testing.T) {
	s, fake := newTestStore(t)
	fake.put("words", "a", store.Document{"word": "abate"})

	require.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, []string{"POST :listCollectionIds"}, fake.requests)

	// Collections seen by Ping are not listed again.
	_, err := s.GetByID(context.Background(), "words", "missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"POST :listCollectionIds", "GET /words/missing"}, fake.requests)
}

func TestEncodeValue_Unsupported(t *testing.T) {
	_, err := encodeFields(store.Document{"bad": struct{}{}})
	assert.ErrorContains(t, err, "field bad: unsupported value type struct {}")
}

func idsOrNil(records []store.Record) []string {
	if len(records) == 0 {
		return nil
	}
	return store.IDs(records)
}
