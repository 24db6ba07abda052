// Package server provides Connect RPC handlers for the word service.
//
// Messages are protobuf well-known types so the service needs no generated
// code: ids and texts travel as StringValue and words as Struct documents in
// the canonical JSON shape.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"buf.build/go/protovalidate"
	"connectrpc.com/connect"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/at-ishikawa/wordhub/internal/metrics"
	"github.com/at-ishikawa/wordhub/internal/normalizer"
	"github.com/at-ishikawa/wordhub/internal/store"
	"github.com/at-ishikawa/wordhub/internal/word"
)

// WordServiceName is the fully-qualified name of the word service.
const WordServiceName = "wordhub.v1.WordService"

// Procedure paths of the word service.
const (
	GetWordProcedure    = "/" + WordServiceName + "/GetWord"
	SearchWordProcedure = "/" + WordServiceName + "/SearchWord"
	GetWordsProcedure   = "/" + WordServiceName + "/GetWords"
	SaveWordProcedure   = "/" + WordServiceName + "/SaveWord"
	DeleteWordProcedure = "/" + WordServiceName + "/DeleteWord"
	ClearCacheProcedure = "/" + WordServiceName + "/ClearCache"
)

// WordEngine resolves and stores words.
type WordEngine interface {
	GetByID(ctx context.Context, id string) (*word.Word, error)
	SearchByText(ctx context.Context, text string) (*word.Word, error)
	GetByIDs(ctx context.Context, ids []string) ([]*word.Word, error)
	Save(ctx context.Context, w *word.Word) (bool, error)
	Delete(ctx context.Context, id string) error
	ClearCache(ctx context.Context)
}

// WordHandler serves the word service.
type WordHandler struct {
	engine WordEngine
}

// NewWordHandler creates a new WordHandler.
func NewWordHandler(engine WordEngine) *WordHandler {
	return &WordHandler{engine: engine}
}

// NewWordServiceHandler builds an HTTP handler serving every procedure of the
// word service, and returns the path prefix to mount it on.
func NewWordServiceHandler(h *WordHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithInterceptors(countRequests())}, opts...)

	mux := http.NewServeMux()
	mux.Handle(GetWordProcedure, connect.NewUnaryHandler(GetWordProcedure, h.GetWord, opts...))
	mux.Handle(SearchWordProcedure, connect.NewUnaryHandler(SearchWordProcedure, h.SearchWord, opts...))
	mux.Handle(GetWordsProcedure, connect.NewUnaryHandler(GetWordsProcedure, h.GetWords, opts...))
	mux.Handle(SaveWordProcedure, connect.NewUnaryHandler(SaveWordProcedure, h.SaveWord, opts...))
	mux.Handle(DeleteWordProcedure, connect.NewUnaryHandler(DeleteWordProcedure, h.DeleteWord, opts...))
	mux.Handle(ClearCacheProcedure, connect.NewUnaryHandler(ClearCacheProcedure, h.ClearCache, opts...))
	return "/" + WordServiceName + "/", mux
}

// GetWord returns the word with the requested id.
func (h *WordHandler) GetWord(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	id := strings.TrimSpace(req.Msg.GetValue())
	if err := validateRequest(req.Msg, requiredValue("value", id)...); err != nil {
		return nil, err
	}

	w, err := h.engine.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(fmt.Errorf("get word %s: %w", id, err))
	}
	if w == nil {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("word %s not found", id))
	}
	return wordResponse(w)
}

// SearchWord returns the word whose normalized text matches the request.
func (h *WordHandler) SearchWord(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	text := req.Msg.GetValue()
	if err := validateRequest(req.Msg, requiredValue("value", strings.TrimSpace(text))...); err != nil {
		return nil, err
	}

	w, err := h.engine.SearchByText(ctx, text)
	if err != nil {
		return nil, lookupError(fmt.Errorf("search word %q: %w", text, err))
	}
	if w == nil {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("word %q not found", strings.TrimSpace(text)))
	}
	return wordResponse(w)
}

// GetWords returns the words found for a list of ids as {"words": [...]}.
// Ids that resolve to nothing are left out.
func (h *WordHandler) GetWords(
	ctx context.Context,
	req *connect.Request[structpb.ListValue],
) (*connect.Response[structpb.Struct], error) {
	ids := make([]string, 0, len(req.Msg.GetValues()))
	var violations []*errdetails.BadRequest_FieldViolation
	for i, v := range req.Msg.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{
				Field:       fmt.Sprintf("values[%d]", i),
				Description: "value must be a string id",
			})
			continue
		}
		ids = append(ids, s.StringValue)
	}
	if err := validateRequest(req.Msg, violations...); err != nil {
		return nil, err
	}

	words, err := h.engine.GetByIDs(ctx, ids)
	if err != nil {
		return nil, lookupError(fmt.Errorf("get %d words: %w", len(ids), err))
	}
	values := make([]any, 0, len(words))
	for _, w := range words {
		doc, err := normalizer.Encode(w)
		if err != nil {
			return nil, connect.NewError(connect.CodeInternal, err)
		}
		values = append(values, map[string]any(doc))
	}
	msg, err := structpb.NewStruct(map[string]any{"words": values})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("structpb.NewStruct > %w", err))
	}
	return connect.NewResponse(msg), nil
}

// SaveWord validates and stores a word. It responds false when the word is
// rejected by validation.
func (h *WordHandler) SaveWord(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[wrapperspb.BoolValue], error) {
	if err := validateRequest(req.Msg); err != nil {
		return nil, err
	}
	b, err := json.Marshal(req.Msg.AsMap())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("json.Marshal > %w", err))
	}
	var w word.Word
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, invalidArgument(fmt.Errorf("decode word: %w", err), &errdetails.BadRequest_FieldViolation{
			Field:       fieldOf(err),
			Description: "value does not match the word schema",
		})
	}

	saved, err := h.engine.Save(ctx, &w)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := connect.NewResponse(wrapperspb.Bool(saved))
	if saved {
		resp.Header().Set("Word-Id", w.ID)
	}
	return resp, nil
}

// DeleteWord removes a word from the canonical partition.
func (h *WordHandler) DeleteWord(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[emptypb.Empty], error) {
	id := strings.TrimSpace(req.Msg.GetValue())
	if err := validateRequest(req.Msg, requiredValue("value", id)...); err != nil {
		return nil, err
	}
	if err := h.engine.Delete(ctx, id); err != nil {
		return nil, lookupError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// ClearCache empties every cache tier.
func (h *WordHandler) ClearCache(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	h.engine.ClearCache(ctx)
	slog.Default().Info("cache cleared", "peer", req.Peer().Addr)
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func wordResponse(w *word.Word) (*connect.Response[structpb.Struct], error) {
	doc, err := normalizer.Encode(w)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := structpb.NewStruct(doc)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("structpb.NewStruct > %w", err))
	}
	return connect.NewResponse(msg), nil
}

func lookupError(err error) *connect.Error {
	switch {
	case errors.Is(err, store.ErrPartitionNotFound):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func requiredValue(field, value string) []*errdetails.BadRequest_FieldViolation {
	if value != "" {
		return nil
	}
	return []*errdetails.BadRequest_FieldViolation{{
		Field:       field,
		Description: "value must not be empty",
	}}
}

// fieldOf returns the JSON field a decode error refers to.
func fieldOf(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return typeErr.Field
	}
	return "value"
}

// validateRequest checks msg against its protovalidate rules and merges the
// result with violations found by the handler.
func validateRequest(msg proto.Message, violations ...*errdetails.BadRequest_FieldViolation) *connect.Error {
	err := protovalidate.Validate(msg)
	var valErr *protovalidate.ValidationError
	if errors.As(err, &valErr) {
		for _, v := range valErr.Violations {
			violations = append(violations, &errdetails.BadRequest_FieldViolation{
				Field:       protovalidate.FieldPathString(v.Proto.GetField()),
				Description: v.Proto.GetMessage(),
			})
		}
	} else if err != nil {
		return connect.NewError(connect.CodeInvalidArgument, err)
	}
	if len(violations) == 0 {
		return nil
	}
	if err == nil {
		err = errors.New(violations[0].GetField() + ": " + violations[0].GetDescription())
	}
	return invalidArgument(err, violations...)
}

func invalidArgument(err error, violations ...*errdetails.BadRequest_FieldViolation) *connect.Error {
	connectErr := connect.NewError(connect.CodeInvalidArgument, err)
	if detail, detailErr := connect.NewErrorDetail(&errdetails.BadRequest{
		FieldViolations: violations,
	}); detailErr == nil {
		connectErr.AddDetail(detail)
	}
	return connectErr
}

func countRequests() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			resp, err := next(ctx, req)
			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			metrics.RPCRequestsTotal.WithLabelValues(req.Spec().Procedure, code).Inc()
			return resp, err
		}
	}
}
