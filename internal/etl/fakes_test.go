package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/models"
)

// fakeStore serves rows from memory and records every Find call.
type fakeStore struct {
	mu      sync.Mutex
	rows    map[string][]*document.Document
	calls   []Filter
	rels    [][]models.RelationConfig
	findErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]*document.Document)}
}

func (s *fakeStore) add(table string, docs ...*document.Document) {
	s.rows[table] = append(s.rows[table], docs...)
}

func (s *fakeStore) Find(_ context.Context, model models.ModelDescriptor, filter Filter, relations []models.RelationConfig) ([]*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, filter)
	s.rels = append(s.rels, relations)
	if s.findErr != nil {
		return nil, s.findErr
	}

	var matched []*document.Document
	for _, r := range s.rows[model.TableName()] {
		if filter.IDs != nil && !containsID(filter.IDs, r, model.PK()) {
			continue
		}
		matched = append(matched, r)
	}
	if filter.Limit > 0 {
		if filter.Offset >= len(matched) {
			return nil, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[filter.Offset:end]
	}
	out := make([]*document.Document, len(matched))
	for i, r := range matched {
		out[i] = r.Clone()
	}
	return out, nil
}

func containsID(ids []any, row *document.Document, pk string) bool {
	v, _ := row.Get(pk)
	for _, id := range ids {
		if fmt.Sprint(id) == v.Text() {
			return true
		}
	}
	return false
}

func (s *fakeStore) Count(_ context.Context, model models.ModelDescriptor, _ Conditions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows[model.TableName()])), nil
}

// fakeEngine is an in-memory search engine.
type fakeEngine struct {
	mu       sync.Mutex
	indexes  map[string]map[string]*document.Document
	mappings map[string]search.Properties

	bulkCalls   [][]search.BulkAction
	refreshes   []bool
	indexCalls  int
	deleted     []string
	failBulkAt  int
	existsErr   error
	searchErr   error
	getErr      error
	itemFailIDs map[string]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		indexes:  make(map[string]map[string]*document.Document),
		mappings: make(map[string]search.Properties),
	}
}

func (e *fakeEngine) docs(index string) map[string]*document.Document {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.indexes[index]
}

func (e *fakeEngine) Count(_ context.Context, index string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, ok := e.indexes[index]
	if !ok {
		return 0, search.ErrIndexNotFound
	}
	return int64(len(docs)), nil
}

func (e *fakeEngine) IndexExists(_ context.Context, index string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.existsErr != nil {
		return false, e.existsErr
	}
	_, ok := e.indexes[index]
	return ok, nil
}

func (e *fakeEngine) GetMapping(_ context.Context, index string) (*search.IndexMapping, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[index]; !ok {
		return nil, search.ErrIndexNotFound
	}
	return &search.IndexMapping{Index: index, Properties: e.mappings[index]}, nil
}

func (e *fakeEngine) CreateIndex(_ context.Context, index string, _ map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[index]; ok {
		return &search.ResponseError{Op: "create index", Status: 400, Body: "resource_already_exists_exception"}
	}
	e.indexes[index] = make(map[string]*document.Document)
	return nil
}

func (e *fakeEngine) DeleteIndex(_ context.Context, index string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.indexes[index]; !ok {
		return search.ErrIndexNotFound
	}
	delete(e.indexes, index)
	delete(e.mappings, index)
	e.deleted = append(e.deleted, index)
	return nil
}

func (e *fakeEngine) ensure(index string) map[string]*document.Document {
	docs, ok := e.indexes[index]
	if !ok {
		docs = make(map[string]*document.Document)
		e.indexes[index] = docs
	}
	return docs
}

func (e *fakeEngine) IndexDocument(_ context.Context, index string, doc *document.Document) (*search.IndexResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.indexCalls++
	docs := e.ensure(index)
	id := fmt.Sprintf("auto-%d", e.indexCalls)
	docs[id] = doc.Clone()
	return &search.IndexResult{Index: index, ID: id, Result: "created"}, nil
}

func (e *fakeEngine) Bulk(_ context.Context, actions []search.BulkAction, refresh bool) (*search.BulkResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bulkCalls = append(e.bulkCalls, actions)
	e.refreshes = append(e.refreshes, refresh)
	if e.failBulkAt > 0 && len(e.bulkCalls) == e.failBulkAt {
		return nil, &search.TransportError{Op: "bulk", Err: errors.New("connection reset")}
	}

	resp := &search.BulkResponse{}
	for _, a := range actions {
		item := search.ItemResult{Op: a.Op, Index: a.Index, ID: a.ID}
		switch {
		case e.itemFailIDs[a.ID]:
			item.Status = 400
			item.Error = &search.ItemError{Type: "mapper_parsing_exception", Reason: "failed to parse"}
			resp.Errors = true
		case a.Op == search.OpIndex:
			docs := e.ensure(a.Index)
			if _, ok := docs[a.ID]; ok {
				item.Status, item.Result = 200, "updated"
			} else {
				item.Status, item.Result = 201, "created"
			}
			docs[a.ID] = a.Document.Clone()
		case a.Op == search.OpDelete:
			docs := e.indexes[a.Index]
			if _, ok := docs[a.ID]; ok {
				delete(docs, a.ID)
				item.Status, item.Result = 200, "deleted"
			} else {
				item.Status, item.Result = 404, "not_found"
			}
		}
		resp.Items = append(resp.Items, item)
	}
	return resp, nil
}

func (e *fakeEngine) Search(_ context.Context, index string, req search.SearchRequest) (*search.SearchResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.searchErr != nil {
		return nil, e.searchErr
	}
	docs, ok := e.indexes[index]
	if !ok {
		return nil, search.ErrIndexNotFound
	}
	resp := &search.SearchResponse{Total: int64(len(docs))}
	for id, d := range docs {
		resp.Hits = append(resp.Hits, search.Hit{Index: index, ID: id, Source: d.Clone()})
	}
	return resp, nil
}

func (e *fakeEngine) GetDocument(_ context.Context, index, id string) (*document.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.getErr != nil {
		return nil, e.getErr
	}
	d, ok := e.indexes[index][id]
	if !ok {
		return nil, search.ErrDocumentNotFound
	}
	return d.Clone(), nil
}

func (e *fakeEngine) bulkCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bulkCalls)
}

func testRows(n int) []*document.Document {
	out := make([]*document.Document, n)
	for i := range out {
		d := document.New()
		d.Set("id", document.Int(int64(i+1)))
		d.Set("title", document.String(fmt.Sprintf("row %d", i+1)))
		out[i] = d
	}
	return out
}

func testRegistry(t *testing.T, descriptors ...models.ModelDescriptor) *models.Registry {
	t.Helper()
	reg, err := models.NewRegistry(descriptors)
	require.NoError(t, err)
	return reg
}
