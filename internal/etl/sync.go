package etl

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/logger"
	"github.com/BartekS5/essync/pkg/models"
)

// Service propagates single records and small batches to the search
// index outside of a full migration. Writes are last-write-wins.
type Service struct {
	Registry *models.Registry
	Store    Extractor
	Engine   search.Engine
	Loader   *BulkLoader
}

func NewService(registry *models.Registry, store Extractor, engine search.Engine) *Service {
	return &Service{
		Registry: registry,
		Store:    store,
		Engine:   engine,
		Loader:   NewBulkLoader(engine),
	}
}

// WriteResult lists the ids written and the engine's answer per item.
type WriteResult struct {
	IDs   []string
	Items []search.ItemResult
}

// Failed returns the items the engine rejected.
func (w *WriteResult) Failed() []search.ItemResult {
	return (&search.BulkResponse{Items: w.Items}).Failed()
}

type UpsertInput struct {
	// ID switches to keyed writes: every document is indexed under the
	// value of the model's primary key field.
	ID   string
	Data []*document.Document
}

type DestroyInput struct {
	ID  string
	IDs []string
}

type MigrateByIDInput struct {
	ID  string
	IDs []string
	// Relations replaces the model's relation list when not nil.
	Relations  []string
	Conditions Conditions
}

func (s *Service) model(name string) (models.ModelDescriptor, bool) {
	d, err := s.Registry.Resolve(name)
	if err != nil {
		return models.ModelDescriptor{}, false
	}
	return d, true
}

func idList(id string, ids []string) []string {
	if len(ids) > 0 {
		return ids
	}
	if id == "" {
		return nil
	}
	return []string{id}
}

// CreateOrUpdate writes documents of model. Without an id exactly one
// document is indexed and the engine assigns its id; with an id the
// documents go out as one bulk request keyed by the primary key field.
func (s *Service) CreateOrUpdate(ctx context.Context, model string, in UpsertInput) Result[*WriteResult] {
	d, ok := s.model(model)
	if !ok {
		return NotFound[*WriteResult]()
	}
	if len(in.Data) == 0 {
		return Failure[*WriteResult](fmt.Errorf("%w: no documents to write", ErrInvalidInput))
	}

	if in.ID == "" {
		if len(in.Data) != 1 {
			return Failure[*WriteResult](fmt.Errorf("%w: a write without id takes exactly one document, got %d", ErrInvalidInput, len(in.Data)))
		}
		res, err := s.Engine.IndexDocument(ctx, d.Index, in.Data[0])
		if err != nil {
			return Failure[*WriteResult](err)
		}
		return OK(&WriteResult{
			IDs:   []string{res.ID},
			Items: []search.ItemResult{{Op: search.OpIndex, Index: res.Index, ID: res.ID, Status: 201, Result: res.Result}},
		})
	}

	validator := NewValidator(d.PK())
	ids := make([]string, len(in.Data))
	for i, doc := range in.Data {
		id, err := validator.DocumentID(doc)
		if err != nil {
			if len(in.Data) == 1 && doc != nil && !doc.Has(d.PK()) {
				id = in.ID
			} else {
				return Failure[*WriteResult](err)
			}
		}
		ids[i] = id
	}
	return s.submit(ctx, d, IndexActions(d.Index, ids, in.Data), ids, false)
}

// Destroy deletes the given ids from the model's index in one bulk
// request. Deleting an id that is not indexed is not an error.
func (s *Service) Destroy(ctx context.Context, model string, in DestroyInput) Result[*WriteResult] {
	d, ok := s.model(model)
	ids := idList(in.ID, in.IDs)
	if !ok || len(ids) == 0 {
		return NotFound[*WriteResult]()
	}
	actions := make([]search.BulkAction, len(ids))
	for i, id := range ids {
		actions[i] = search.DeleteAction(d.Index, id)
	}
	return s.submit(ctx, d, actions, ids, false)
}

// MigrateByID rebuilds documents from the relational store instead of
// trusting a caller payload. Rows are read with the model's conditions
// merged with in.Conditions, prepared like a full migration and written
// with forced visibility.
func (s *Service) MigrateByID(ctx context.Context, model string, in MigrateByIDInput) Result[*WriteResult] {
	d, ok := s.model(model)
	ids := idList(in.ID, in.IDs)
	if !ok || len(ids) == 0 {
		return NotFound[*WriteResult]()
	}
	relations, err := d.SelectRelations(in.Relations)
	if err != nil {
		return Failure[*WriteResult](fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = idArg(id)
	}
	conditions := MergeConditions(d.Conditions, in.Conditions)
	var docs []*document.Document
	for _, chunk := range chunks(args, inListChunk) {
		found, err := s.Store.Find(ctx, d, Filter{Conditions: conditions, IDs: chunk}, relations)
		if err != nil {
			return Failure[*WriteResult](&ExtractionError{Model: d.Key().String(), Err: err})
		}
		docs = append(docs, found...)
	}
	if len(docs) == 0 {
		return NotFound[*WriteResult]()
	}

	validator := NewValidator(d.PK())
	written := make([]string, len(docs))
	for i, doc := range docs {
		if written[i], err = validator.DocumentID(doc); err != nil {
			return Failure[*WriteResult](err)
		}
	}

	mapping, err := s.mapping(ctx, d.Index)
	if err != nil {
		return Failure[*WriteResult](err)
	}
	var state State
	docs, _, _ = prepare(d, mapping, NewTransformer(d.FieldTransforms), docs, &state)
	return s.submit(ctx, d, IndexActions(d.Index, written, docs), written, true)
}

// mapping returns the properties of index, nil when the index does not
// exist yet.
func (s *Service) mapping(ctx context.Context, index string) (search.Properties, error) {
	exists, err := s.Engine.IndexExists(ctx, index)
	if err != nil || !exists {
		return nil, err
	}
	m, err := s.Engine.GetMapping(ctx, index)
	if errors.Is(err, search.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !m.HasProperties() {
		return nil, nil
	}
	return m.Properties, nil
}

func (s *Service) submit(ctx context.Context, d models.ModelDescriptor, actions []search.BulkAction, ids []string, forceVisible bool) Result[*WriteResult] {
	resp, err := s.Loader.Submit(ctx, d.PK(), actions, forceVisible)
	if err != nil {
		logger.Errorf("Sync of %s to %s failed: %v", d.Key(), d.Index, err)
		return Failure[*WriteResult](err)
	}
	return OK(&WriteResult{IDs: ids, Items: resp.Items})
}

// Find runs a raw search. Any failure is reported as an unknown outcome,
// never as an empty result.
func (s *Service) Find(ctx context.Context, index string, req search.SearchRequest) Result[*search.SearchResponse] {
	resp, err := s.Engine.Search(ctx, index, req)
	if err != nil {
		logger.Warnf("Search on %s failed: %v", index, err)
		return Failure[*search.SearchResponse](err)
	}
	return OK(resp)
}

// FindOne fetches one document by id.
func (s *Service) FindOne(ctx context.Context, model, id string) Result[*document.Document] {
	d, ok := s.model(model)
	if !ok || id == "" {
		return NotFound[*document.Document]()
	}
	doc, err := s.Engine.GetDocument(ctx, d.Index, id)
	switch {
	case err == nil:
		return OK(doc)
	case errors.Is(err, search.ErrDocumentNotFound), errors.Is(err, search.ErrIndexNotFound):
		return NotFound[*document.Document]()
	default:
		return Failure[*document.Document](err)
	}
}

// idArg passes canonical integers as numbers so they compare with
// integer keys on every driver.
func idArg(id string) any {
	if i, err := strconv.ParseInt(id, 10, 64); err == nil && strconv.FormatInt(i, 10) == id {
		return i
	}
	return id
}
