// Package firestore implements store.RecordStore on the Firestore REST API.
// Partitions are top-level collections.
package firestore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"resty.dev/v3"

	"github.com/at-ishikawa/wordhub/internal/store"
)

var _ store.RecordStore = (*Store)(nil)

const documentsPath = "/projects/{project}/databases/{database}/documents"

// Options configures a Store.
type Options struct {
	BaseURL    string
	ProjectID  string
	DatabaseID string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	Limits  store.Limits
}

// Store is a RecordStore backed by Firestore.
type Store struct {
	httpClient *resty.Client
	projectID  string
	databaseID string
	limits     store.Limits

	mu          sync.Mutex
	collections map[string]bool
}

// New creates a Store.
func New(opts Options) *Store {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}
	databaseID := opts.DatabaseID
	if databaseID == "" {
		databaseID = "(default)"
	}
	return &Store{
		httpClient: client,
		projectID:  opts.ProjectID,
		databaseID: databaseID,
		limits:     opts.Limits,
	}
}

// Close releases the underlying HTTP client.
func (s *Store) Close() error {
	return s.httpClient.Close()
}

func (s *Store) request(ctx context.Context) *resty.Request {
	return s.httpClient.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"project":  s.projectID,
			"database": s.databaseID,
		})
}

// documentName is the full resource name used in request bodies.
func (s *Store) documentName(partition, id string) string {
	return fmt.Sprintf("projects/%s/databases/%s/documents/%s/%s", s.projectID, s.databaseID, partition, id)
}

func recordID(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

func toRecord(doc document) store.Record {
	return store.Record{ID: recordID(doc.Name), Data: decodeFields(doc.Fields)}
}

// GetByID implements store.RecordStore.
func (s *Store) GetByID(ctx context.Context, partition, id string) (*store.Record, error) {
	response, err := s.request(ctx).
		SetPathParams(map[string]string{"collection": partition, "id": id}).
		SetResult(&document{}).
		Get(documentsPath + "/{collection}/{id}")
	if err != nil {
		return nil, fmt.Errorf("httpClient.Get > %w", err)
	}
	if response.StatusCode() == http.StatusNotFound {
		if err := s.checkPartition(ctx, partition); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if response.IsError() {
		return nil, fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}
	record := toRecord(*response.Result().(*document))
	return &record, nil
}

type batchGetRequest struct {
	Documents []string `json:"documents"`
}

type batchGetEntry struct {
	Found   *document `json:"found,omitempty"`
	Missing string    `json:"missing,omitempty"`
}

// GetByIDs implements store.RecordStore.
func (s *Store) GetByIDs(ctx context.Context, partition string, ids []string) ([]store.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if s.limits.MaxGetBatch > 0 && len(ids) > s.limits.MaxGetBatch {
		return nil, fmt.Errorf("get %d ids (max %d): %w", len(ids), s.limits.MaxGetBatch, store.ErrBatchTooLarge)
	}

	body := batchGetRequest{Documents: make([]string, len(ids))}
	for i, id := range ids {
		body.Documents[i] = s.documentName(partition, id)
	}
	response, err := s.request(ctx).
		SetBody(body).
		SetResult(&[]batchGetEntry{}).
		Post(documentsPath + ":batchGet")
	if err != nil {
		return nil, fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}

	var records []store.Record
	for _, entry := range *response.Result().(*[]batchGetEntry) {
		if entry.Found != nil {
			records = append(records, toRecord(*entry.Found))
		}
	}
	if len(records) == 0 {
		if err := s.checkPartition(ctx, partition); err != nil {
			return nil, err
		}
	}
	return records, nil
}

type fieldReference struct {
	FieldPath string `json:"fieldPath"`
}

type fieldFilter struct {
	Field fieldReference `json:"field"`
	Op    string         `json:"op"`
	Value value          `json:"value"`
}

type compositeFilter struct {
	Op      string   `json:"op"`
	Filters []filter `json:"filters"`
}

type filter struct {
	FieldFilter     *fieldFilter     `json:"fieldFilter,omitempty"`
	CompositeFilter *compositeFilter `json:"compositeFilter,omitempty"`
}

type order struct {
	Field     fieldReference `json:"field"`
	Direction string         `json:"direction"`
}

type cursor struct {
	Values []value `json:"values"`
	Before bool    `json:"before"`
}

type collectionSelector struct {
	CollectionID string `json:"collectionId"`
}

type structuredQuery struct {
	From    []collectionSelector `json:"from"`
	Where   *filter              `json:"where,omitempty"`
	OrderBy []order              `json:"orderBy,omitempty"`
	StartAt *cursor              `json:"startAt,omitempty"`
	Limit   int                  `json:"limit,omitempty"`
}

type runQueryRequest struct {
	StructuredQuery structuredQuery `json:"structuredQuery"`
}

type runQueryEntry struct {
	Document *document `json:"document,omitempty"`
}

func (s *Store) runQuery(ctx context.Context, partition string, query structuredQuery) ([]store.Record, error) {
	query.From = []collectionSelector{{CollectionID: partition}}
	response, err := s.request(ctx).
		SetBody(runQueryRequest{StructuredQuery: query}).
		SetResult(&[]runQueryEntry{}).
		Post(documentsPath + ":runQuery")
	if err != nil {
		return nil, fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return nil, fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}

	var records []store.Record
	for _, entry := range *response.Result().(*[]runQueryEntry) {
		if entry.Document != nil {
			records = append(records, toRecord(*entry.Document))
		}
	}
	if len(records) == 0 {
		if err := s.checkPartition(ctx, partition); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// QueryByField implements store.RecordStore. A record matches when field
// equals value or is an array containing it.
func (s *Store) QueryByField(ctx context.Context, partition, field, fieldValue string, limit int) ([]store.Record, error) {
	ref := fieldReference{FieldPath: field}
	query := structuredQuery{
		Where: &filter{CompositeFilter: &compositeFilter{
			Op: "OR",
			Filters: []filter{
				{FieldFilter: &fieldFilter{Field: ref, Op: "EQUAL", Value: stringValue(fieldValue)}},
				{FieldFilter: &fieldFilter{Field: ref, Op: "ARRAY_CONTAINS", Value: stringValue(fieldValue)}},
			},
		}},
		Limit: limit,
	}
	records, err := s.runQuery(ctx, partition, query)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", partition, field, err)
	}
	return records, nil
}

// QueryByText implements store.RecordStore. Firestore filters are case
// sensitive, so the query asks for the usual spellings of text (as given,
// lower, upper and capitalized) and the results are checked with
// store.TextMatches.
func (s *Store) QueryByText(ctx context.Context, partition, field, text string, limit int) ([]store.Record, error) {
	variants := arrayValue{}
	for _, v := range textVariants(text) {
		variants.Values = append(variants.Values, stringValue(v))
	}
	query := structuredQuery{
		Where: &filter{FieldFilter: &fieldFilter{
			Field: fieldReference{FieldPath: field},
			Op:    "IN",
			Value: value{ArrayValue: &variants},
		}},
		Limit: limit,
	}
	records, err := s.runQuery(ctx, partition, query)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s text: %w", partition, field, err)
	}
	matched := records[:0]
	for _, r := range records {
		if v, ok := r.Data.Lookup(field); ok && store.TextMatches(v, text) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func textVariants(text string) []string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	candidates := []string{trimmed, lower, strings.ToUpper(trimmed)}
	if r, size := utf8.DecodeRuneInString(lower); size > 0 {
		candidates = append(candidates, string(unicode.ToUpper(r))+lower[size:])
	}

	variants := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			variants = append(variants, c)
		}
	}
	return variants
}

type write struct {
	Update *document `json:"update,omitempty"`
}

type commitRequest struct {
	Writes []write `json:"writes"`
}

// WriteBatch implements store.RecordStore. All writes go in one atomic commit.
func (s *Store) WriteBatch(ctx context.Context, partition string, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.limits.MaxWriteBatch > 0 && len(records) > s.limits.MaxWriteBatch {
		return fmt.Errorf("write %d records (max %d): %w", len(records), s.limits.MaxWriteBatch, store.ErrBatchTooLarge)
	}

	body := commitRequest{Writes: make([]write, 0, len(records))}
	for _, r := range records {
		fields, err := encodeFields(r.Data)
		if err != nil {
			return fmt.Errorf("encode record %s/%s: %w", partition, r.ID, err)
		}
		body.Writes = append(body.Writes, write{Update: &document{
			Name:   s.documentName(partition, r.ID),
			Fields: fields,
		}})
	}

	response, err := s.request(ctx).
		SetBody(body).
		Post(documentsPath + ":commit")
	if err != nil {
		return fmt.Errorf("httpClient.Post > %w", err)
	}
	if response.IsError() {
		return fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}
	s.rememberCollection(partition)
	return nil
}

// Delete implements store.RecordStore.
func (s *Store) Delete(ctx context.Context, partition, id string) error {
	response, err := s.request(ctx).
		SetPathParams(map[string]string{"collection": partition, "id": id}).
		Delete(documentsPath + "/{collection}/{id}")
	if err != nil {
		return fmt.Errorf("httpClient.Delete > %w", err)
	}
	if response.IsError() {
		return fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
	}
	return nil
}

// ListRecords implements store.RecordStore, ordered by document name.
func (s *Store) ListRecords(ctx context.Context, partition, afterID string, limit int) ([]store.Record, error) {
	query := structuredQuery{
		OrderBy: []order{{Field: fieldReference{FieldPath: "__name__"}, Direction: "ASCENDING"}},
		Limit:   limit,
	}
	if afterID != "" {
		query.StartAt = &cursor{
			Values: []value{referenceValue(s.documentName(partition, afterID))},
			Before: false,
		}
	}
	records, err := s.runQuery(ctx, partition, query)
	if err != nil {
		return nil, fmt.Errorf("list records of %s: %w", partition, err)
	}
	return records, nil
}

type listCollectionIDsRequest struct {
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

type listCollectionIDsResponse struct {
	CollectionIDs []string `json:"collectionIds"`
	NextPageToken string   `json:"nextPageToken"`
}

func (s *Store) listCollections(ctx context.Context) (map[string]bool, error) {
	collections := make(map[string]bool)
	pageToken := ""
	for {
		response, err := s.request(ctx).
			SetBody(listCollectionIDsRequest{PageSize: 300, PageToken: pageToken}).
			SetResult(&listCollectionIDsResponse{}).
			Post(documentsPath + ":listCollectionIds")
		if err != nil {
			return nil, fmt.Errorf("httpClient.Post > %w", err)
		}
		if response.IsError() {
			return nil, fmt.Errorf("response error %d: %s", response.StatusCode(), response.String())
		}
		result := response.Result().(*listCollectionIDsResponse)
		for _, id := range result.CollectionIDs {
			collections[id] = true
		}
		if result.NextPageToken == "" {
			return collections, nil
		}
		pageToken = result.NextPageToken
	}
}

// checkPartition reports store.ErrPartitionNotFound for a collection that
// does not exist. Known collections are remembered; unknown ones trigger a
// fresh listing.
func (s *Store) checkPartition(ctx context.Context, partition string) error {
	s.mu.Lock()
	known := s.collections[partition]
	s.mu.Unlock()
	if known {
		return nil
	}

	collections, err := s.listCollections(ctx)
	if err != nil {
		return fmt.Errorf("check partition %s: %w", partition, err)
	}
	s.mu.Lock()
	s.collections = collections
	s.mu.Unlock()
	if !collections[partition] {
		return fmt.Errorf("%s: %w", partition, store.ErrPartitionNotFound)
	}
	return nil
}

func (s *Store) rememberCollection(partition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collections == nil {
		s.collections = make(map[string]bool)
	}
	s.collections[partition] = true
}

// Ping implements store.RecordStore.
func (s *Store) Ping(ctx context.Context) error {
	collections, err := s.listCollections(ctx)
	if err != nil {
		return fmt.Errorf("ping firestore: %w", err)
	}
	s.mu.Lock()
	s.collections = collections
	s.mu.Unlock()
	return nil
}

// Limits implements store.RecordStore.
func (s *Store) Limits() store.Limits {
	return s.limits
}
