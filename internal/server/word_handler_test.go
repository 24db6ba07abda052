package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/at-ishikawa/wordhub/internal/cache"
	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/resolver"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

const canonical = "unified_words"

type testServer struct {
	url    string
	store  *store.MemoryStore
	engine *resolver.Engine
}

func newTestServer(t *testing.T, fallback ...resolver.Partition) *testServer {
	t.Helper()

	memory := store.NewMemoryStore(store.DefaultLimits, canonical, "ai_words")
	wordCache, err := cache.New[*word.Word](cache.Options{MemorySize: 100, TTL: time.Hour})
	require.NoError(t, err)
	engine := resolver.NewEngine(memory, wordCache, normalizer.New(), resolver.Config{
		CanonicalPartition: canonical,
		Fallback:           fallback,
	})

	path, handler := NewWordServiceHandler(NewWordHandler(engine))
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, store: memory, engine: engine}
}

func newClient[Req, Res any](ts *testServer, procedure string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](http.DefaultClient, ts.url+procedure)
}

func (ts *testServer) save(t *testing.T, w *word.Word) {
	t.Helper()
	ok, err := ts.engine.Save(context.Background(), w)
	require.NoError(t, err)
	require.True(t, ok)
}

func assertCode(t *testing.T, err error, want connect.Code) *connect.Error {
	t.Helper()
	var connectErr *connect.Error
	require.True(t, errors.As(err, &connectErr), "error %v is not a connect error", err)
	assert.Equal(t, want, connectErr.Code())
	return connectErr
}

func badRequestFields(t *testing.T, connectErr *connect.Error) []string {
	t.Helper()
	var fields []string
	for _, detail := range connectErr.Details() {
		msg, err := detail.Value()
		require.NoError(t, err)
		badRequest, ok := msg.(*errdetails.BadRequest)
		if !ok {
			continue
		}
		for _, v := range badRequest.GetFieldViolations() {
			fields = append(fields, v.GetField())
		}
	}
	return fields
}

func TestWordHandler_GetWord(t *testing.T) {
	tests := []struct {
		name       string
		fallback   []resolver.Partition
		id         string
		wantWord   string
		wantCode   connect.Code
		wantFields []string
	}{
		{
			name:     "canonical word",
			id:       "w1",
			wantWord: "abate",
		},
		{
			name:     "legacy word",
			fallback: []resolver.Partition{{Name: "ai_words"}},
			id:       "a1",
			wantWord: "benign",
		},
		{
			name:     "not found",
			id:       "missing",
			wantCode: connect.CodeNotFound,
		},
		{
			name:       "blank id",
			id:         "  ",
			wantCode:   connect.CodeInvalidArgument,
			wantFields: []string{"value"},
		},
		{
			name:     "unknown partition in the chain",
			fallback: []resolver.Partition{{Name: "scans"}},
			id:       "missing",
			wantCode: connect.CodeFailedPrecondition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.fallback...)
			ts.save(t, &word.Word{ID: "w1", Word: "abate", Definition: word.StringPtr("줄다")})
			ts.store.Put("ai_words", "a1", store.Document{"word": "benign", "definition": "양성의"})

			client := newClient[wrapperspb.StringValue, structpb.Struct](ts, GetWordProcedure)
			resp, err := client.CallUnary(context.Background(), connect.NewRequest(wrapperspb.String(tt.id)))
			if tt.wantCode != 0 {
				connectErr := assertCode(t, err, tt.wantCode)
				assert.Equal(t, tt.wantFields, badRequestFields(t, connectErr))
				return
			}

			require.NoError(t, err)
			got := resp.Msg.AsMap()
			assert.Equal(t, tt.id, got["id"])
			assert.Equal(t, tt.wantWord, got["word"])
		})
	}
}

func TestWordHandler_SearchWord(t *testing.T) {
	ts := newTestServer(t)
	ts.save(t, &word.Word{ID: "w1", Word: "Abate"})
	client := newClient[wrapperspb.StringValue, structpb.Struct](ts, SearchWordProcedure)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(wrapperspb.String("  ABATE ")))
	require.NoError(t, err)
	assert.Equal(t, "w1", resp.Msg.AsMap()["id"])
	assert.Equal(t, "abate", resp.Msg.AsMap()["normalizedWord"])

	_, err = client.CallUnary(context.Background(), connect.NewRequest(wrapperspb.String("benign")))
	assertCode(t, err, connect.CodeNotFound)

	_, err = client.CallUnary(context.Background(), connect.NewRequest(wrapperspb.String("")))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestWordHandler_GetWords(t *testing.T) {
	tests := []struct {
		name       string
		values     []any
		wantIDs    []any
		wantFields []string
	}{
		{
			name:    "found ids only",
			values:  []any{"w2", "missing", "w1", "w2"},
			wantIDs: []any{"w1", "w2"},
		},
		{
			name:    "empty list",
			values:  []any{},
			wantIDs: []any{},
		},
		{
			name:       "non string id",
			values:     []any{"w1", 3.0, true},
			wantFields: []string{"values[1]", "values[2]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.save(t, &word.Word{ID: "w1", Word: "abate"})
			ts.save(t, &word.Word{ID: "w2", Word: "benign"})
			client := newClient[structpb.ListValue, structpb.Struct](ts, GetWordsProcedure)

			list, err := structpb.NewList(tt.values)
			require.NoError(t, err)
			resp, err := client.CallUnary(context.Background(), connect.NewRequest(list))
			if tt.wantFields != nil {
				connectErr := assertCode(t, err, connect.CodeInvalidArgument)
				assert.Equal(t, tt.wantFields, badRequestFields(t, connectErr))
				return
			}

			require.NoError(t, err)
			words, ok := resp.Msg.AsMap()["words"].([]any)
			require.True(t, ok)
			ids := make([]any, 0, len(words))
			for _, w := range words {
				ids = append(ids, w.(map[string]any)["id"])
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestWordHandler_SaveWord(t *testing.T) {
	tests := []struct {
		name       string
		doc        map[string]any
		want       bool
		wantStored bool
		wantCode   connect.Code
		wantFields []string
	}{
		{
			name: "valid word",
			doc: map[string]any{
				"id":         "w1",
				"word":       "Eloquent",
				"definition": "유창한",
				"examples":   []any{"An eloquent speech."},
				"difficulty": 6,
			},
			want:       true,
			wantStored: true,
		},
		{
			name: "blank word is rejected",
			doc:  map[string]any{"id": "w1", "word": "  "},
			want: false,
		},
		{
			name: "difficulty out of range is rejected",
			doc:  map[string]any{"id": "w1", "word": "eloquent", "difficulty": 11},
			want: false,
		},
		{
			name:       "wrong field type",
			doc:        map[string]any{"word": "eloquent", "difficulty": "hard"},
			wantCode:   connect.CodeInvalidArgument,
			wantFields: []string{"difficulty"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			client := newClient[structpb.Struct, wrapperspb.BoolValue](ts, SaveWordProcedure)

			msg, err := structpb.NewStruct(tt.doc)
			require.NoError(t, err)
			resp, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
			if tt.wantCode != 0 {
				connectErr := assertCode(t, err, tt.wantCode)
				assert.Equal(t, tt.wantFields, badRequestFields(t, connectErr))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Msg.GetValue())

			record, err := ts.store.GetByID(context.Background(), canonical, "w1")
			require.NoError(t, err)
			if !tt.wantStored {
				assert.Nil(t, record)
				assert.Empty(t, resp.Header().Get("Word-Id"))
				return
			}
			require.NotNil(t, record)
			assert.Equal(t, "w1", resp.Header().Get("Word-Id"))
			assert.Equal(t, "Eloquent", record.Data["word"])
			assert.Equal(t, "eloquent", record.Data["normalizedWord"])
			assert.Equal(t, string(word.SourceManual), record.Data["source"].(map[string]any)["type"])
		})
	}
}

func TestWordHandler_SaveWordAssignsID(t *testing.T) {
	ts := newTestServer(t)
	client := newClient[structpb.Struct, wrapperspb.BoolValue](ts, SaveWordProcedure)

	msg, err := structpb.NewStruct(map[string]any{"word": "candid"})
	require.NoError(t, err)
	resp, err := client.CallUnary(context.Background(), connect.NewRequest(msg))
	require.NoError(t, err)
	require.True(t, resp.Msg.GetValue())

	id := resp.Header().Get("Word-Id")
	require.NotEmpty(t, id)
	got, err := ts.engine.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "candid", got.Word)
}

func TestWordHandler_DeleteWord(t *testing.T) {
	ts := newTestServer(t)
	ts.save(t, &word.Word{ID: "w1", Word: "abate"})
	ctx := context.Background()

	deleteClient := newClient[wrapperspb.StringValue, emptypb.Empty](ts, DeleteWordProcedure)
	_, err := deleteClient.CallUnary(ctx, connect.NewRequest(wrapperspb.String("w1")))
	require.NoError(t, err)

	getClient := newClient[wrapperspb.StringValue, structpb.Struct](ts, GetWordProcedure)
	_, err = getClient.CallUnary(ctx, connect.NewRequest(wrapperspb.String("w1")))
	assertCode(t, err, connect.CodeNotFound)

	searchClient := newClient[wrapperspb.StringValue, structpb.Struct](ts, SearchWordProcedure)
	_, err = searchClient.CallUnary(ctx, connect.NewRequest(wrapperspb.String("abate")))
	assertCode(t, err, connect.CodeNotFound)

	_, err = deleteClient.CallUnary(ctx, connect.NewRequest(wrapperspb.String("")))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestWordHandler_ClearCache(t *testing.T) {
	ts := newTestServer(t)
	ts.save(t, &word.Word{ID: "w1", Word: "abate"})
	ctx := context.Background()

	// Deleting behind the engine leaves only the cached copy.
	require.NoError(t, ts.store.Delete(ctx, canonical, "w1"))
	getClient := newClient[wrapperspb.StringValue, structpb.Struct](ts, GetWordProcedure)
	_, err := getClient.CallUnary(ctx, connect.NewRequest(wrapperspb.String("w1")))
	require.NoError(t, err)

	clearClient := newClient[emptypb.Empty, emptypb.Empty](ts, ClearCacheProcedure)
	_, err = clearClient.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	require.NoError(t, err)

	_, err = getClient.CallUnary(ctx, connect.NewRequest(wrapperspb.String("w1")))
	assertCode(t, err, connect.CodeNotFound)
}
