// Package search is the port to the search engine and its Elasticsearch
// implementation.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/BartekS5/essync/pkg/document"
)

var (
	// ErrIndexNotFound means the engine answered and the index does not
	// exist.
	ErrIndexNotFound = errors.New("index not found")
	// ErrDocumentNotFound means the engine answered and the document does
	// not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// TransportError means the engine could not be reached or did not give a
// usable answer. It is never a statement about whether an index or
// document exists.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("search: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ResponseError is a well-formed error answer from the engine.
type ResponseError struct {
	Op     string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("search: %s error [%d]: %s", e.Op, e.Status, e.Body)
}

// Engine is everything the sync engine needs from a search engine.
type Engine interface {
	Count(ctx context.Context, index string) (int64, error)
	// IndexExists returns (false, nil) only when the index is known to be
	// absent. Connectivity problems are returned as *TransportError.
	IndexExists(ctx context.Context, index string) (bool, error)
	GetMapping(ctx context.Context, index string) (*IndexMapping, error)
	CreateIndex(ctx context.Context, index string, body map[string]any) error
	DeleteIndex(ctx context.Context, index string) error
	// IndexDocument indexes one document and lets the engine assign its id.
	IndexDocument(ctx context.Context, index string, doc *document.Document) (*IndexResult, error)
	// Bulk issues exactly one batched write. When refresh is true the
	// written documents are searchable when the call returns.
	Bulk(ctx context.Context, actions []BulkAction, refresh bool) (*BulkResponse, error)
	Search(ctx context.Context, index string, req SearchRequest) (*SearchResponse, error)
	GetDocument(ctx context.Context, index, id string) (*document.Document, error)
}

// IndexResult is the engine's answer to a single-document index call.
type IndexResult struct {
	Index  string
	ID     string
	Result string
}

// SearchRequest is a raw search: an engine query plus pagination and sort.
type SearchRequest struct {
	From  int
	Size  int
	Sort  []map[string]any
	Query map[string]any
}

// Body renders the request as a search body.
func (r SearchRequest) Body() map[string]any {
	body := map[string]any{}
	if r.Query != nil {
		body["query"] = r.Query
	} else {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	}
	if len(r.Sort) > 0 {
		body["sort"] = r.Sort
	}
	if r.From > 0 {
		body["from"] = r.From
	}
	if r.Size > 0 {
		body["size"] = r.Size
	}
	return body
}

type SearchResponse struct {
	Total int64
	Hits  []Hit
}

type Hit struct {
	Index  string
	ID     string
	Score  float64
	Source *document.Document
}
