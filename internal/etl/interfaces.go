package etl

import (
	"context"
	"errors"
	"fmt"

	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/models"
)

// Extractor reads rows of one model from the relational source of truth.
type Extractor interface {
	// Find returns one ordered page of rows, relations eager-loaded.
	Find(ctx context.Context, model models.ModelDescriptor, filter Filter, relations []models.RelationConfig) ([]*document.Document, error)
	// Count is used for progress display only.
	Count(ctx context.Context, model models.ModelDescriptor, conditions Conditions) (int64, error)
}

// ReportSink receives the report of every finished background run.
type ReportSink interface {
	Record(ctx context.Context, report *RunReport) error
}

// Filter selects rows: a page window, field conditions and an optional id
// set matched against the model's primary key.
type Filter struct {
	Limit      int
	Offset     int
	Conditions Conditions
	IDs        []any
}

// Conditions are field constraints. A key is a column name, optionally
// suffixed with an operator: _eq (default), _ne, _lt, _lte, _gt, _gte,
// _in, _nin, _null.
type Conditions map[string]any

// MergeConditions layers overrides on top of defaults, key by key.
func MergeConditions(defaults, overrides Conditions) Conditions {
	out := make(Conditions, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// ExtractionError wraps a failure of the relational store.
type ExtractionError struct {
	Model  string
	Offset int
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s at offset %d: %v", e.Model, e.Offset, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// BulkWriteError wraps a bulk write the engine rejected or could not
// complete. Pages written before it stay in the index.
type BulkWriteError struct {
	Model  string
	Index  string
	Page   int
	Failed int
	Err    error
}

func (e *BulkWriteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("bulk write to %s (model %s, page %d): %d item(s) failed", e.Index, e.Model, e.Page, e.Failed)
	}
	return fmt.Sprintf("bulk write to %s (model %s, page %d): %v", e.Index, e.Model, e.Page, e.Err)
}

func (e *BulkWriteError) Unwrap() error { return e.Err }

// ErrInvalidInput marks sync calls rejected before any I/O.
var ErrInvalidInput = errors.New("invalid input")
