package etl

import (
	"context"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/logger"
)

// BulkLoader submits batches of index/delete actions to the search engine.
type BulkLoader struct {
	Engine search.Engine
}

func NewBulkLoader(engine search.Engine) *BulkLoader {
	return &BulkLoader{Engine: engine}
}

// Submit validates actions against pk and sends them as one bulk request.
// The response carries one result per action; partial failures are left
// for the caller to judge. An empty batch sends nothing.
func (l *BulkLoader) Submit(ctx context.Context, pk string, actions []search.BulkAction, forceVisible bool) (*search.BulkResponse, error) {
	if len(actions) == 0 {
		return &search.BulkResponse{}, nil
	}
	if err := NewValidator(pk).ValidateActions(actions); err != nil {
		return nil, err
	}
	resp, err := l.Engine.Bulk(ctx, actions, forceVisible)
	if err != nil {
		return nil, err
	}
	if failed := resp.Failed(); len(failed) > 0 {
		first := failed[0]
		logger.Warnf("Bulk: %d of %d item(s) failed, first %s %s/%s: %v",
			len(failed), len(resp.Items), first.Op, first.Index, first.ID, first.Error)
	}
	return resp, nil
}

// IndexActions pairs documents with their ids as index actions.
func IndexActions(index string, ids []string, docs []*document.Document) []search.BulkAction {
	actions := make([]search.BulkAction, len(docs))
	for i, d := range docs {
		actions[i] = search.IndexAction(index, ids[i], d)
	}
	return actions
}
