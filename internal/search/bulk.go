package search

import (
	"bytes"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/BartekS5/essync/pkg/document"
)

// Op is a bulk operation.
type Op string

const (
	OpIndex  Op = "index"
	OpDelete Op = "delete"
)

// BulkAction is one header/document pair of a bulk request. Delete
// actions carry no document.
type BulkAction struct {
	Op       Op
	Index    string
	ID       string
	Document *document.Document
}

func IndexAction(index, id string, doc *document.Document) BulkAction {
	return BulkAction{Op: OpIndex, Index: index, ID: id, Document: doc}
}

func DeleteAction(index, id string) BulkAction {
	return BulkAction{Op: OpDelete, Index: index, ID: id}
}

// Validate checks the action invariants. For index actions the id must
// equal the document's primary key field when the document carries one.
func (a BulkAction) Validate(pk string) error {
	if a.Index == "" {
		return errors.New("bulk action without index")
	}
	switch a.Op {
	case OpIndex:
		if a.Document == nil {
			return fmt.Errorf("index action %q without document", a.ID)
		}
		if a.ID == "" {
			return errors.New("index action without id")
		}
		if pk != "" {
			if v, ok := a.Document.Get(pk); ok && v.Text() != a.ID {
				return fmt.Errorf("index action id %q does not match %s=%q", a.ID, pk, v.Text())
			}
		}
	case OpDelete:
		if a.Document != nil {
			return fmt.Errorf("delete action %q carries a document", a.ID)
		}
		if a.ID == "" {
			return errors.New("delete action without id")
		}
	default:
		return fmt.Errorf("unsupported bulk op %q", a.Op)
	}
	return nil
}

// Lines returns the number of NDJSON lines the action occupies: two for
// index, one for delete.
func (a BulkAction) Lines() int {
	if a.Op == OpIndex {
		return 2
	}
	return 1
}

type actionHeader struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

// EncodeBulk renders actions as the newline-delimited bulk body.
func EncodeBulk(actions []BulkAction) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range actions {
		header, err := json.Marshal(map[Op]actionHeader{a.Op: {Index: a.Index, ID: a.ID}})
		if err != nil {
			return nil, err
		}
		buf.Write(header)
		buf.WriteByte('\n')
		if a.Op == OpIndex {
			body, err := a.Document.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(body)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// ItemError is the engine's reason for rejecting one bulk item.
type ItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e *ItemError) Error() string {
	return e.Type + ": " + e.Reason
}

// ItemResult is the outcome of one bulk item.
type ItemResult struct {
	Op     Op
	Index  string
	ID     string
	Status int
	Result string
	Error  *ItemError
}

// OK reports whether the item succeeded. Deleting a missing document is a
// success: the document is absent either way.
func (r ItemResult) OK() bool {
	if r.Error != nil {
		return false
	}
	if r.Op == OpDelete && r.Status == 404 {
		return true
	}
	return r.Status >= 200 && r.Status < 300
}

// BulkResponse holds one result per submitted action, in order.
type BulkResponse struct {
	Took   int64
	Errors bool
	Items  []ItemResult
}

// Failed returns the items that did not succeed.
func (r *BulkResponse) Failed() []ItemResult {
	if r == nil {
		return nil
	}
	var out []ItemResult
	for _, it := range r.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}
	return out
}

// DecodeBulkResponse parses a bulk response body.
func DecodeBulkResponse(data []byte) (*BulkResponse, error) {
	var raw struct {
		Took   int64                  `json:"took"`
		Errors bool                   `json:"errors"`
		Items  []map[Op]rawItemResult `json:"items"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}
	resp := &BulkResponse{Took: raw.Took, Errors: raw.Errors, Items: make([]ItemResult, 0, len(raw.Items))}
	for _, entry := range raw.Items {
		for op, it := range entry {
			resp.Items = append(resp.Items, ItemResult{
				Op:     op,
				Index:  it.Index,
				ID:     it.ID,
				Status: it.Status,
				Result: it.Result,
				Error:  it.Error,
			})
		}
	}
	return resp, nil
}

type rawItemResult struct {
	Index  string     `json:"_index"`
	ID     string     `json:"_id"`
	Status int        `json:"status"`
	Result string     `json:"result"`
	Error  *ItemError `json:"error"`
}
