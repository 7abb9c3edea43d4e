package search

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	json "github.com/goccy/go-json"

	"github.com/BartekS5/essync/pkg/document"
)

// Elastic implements Engine on top of the official Elasticsearch client.
type Elastic struct {
	es *elasticsearch.Client
}

func NewElastic(es *elasticsearch.Client) *Elastic {
	return &Elastic{es: es}
}

// do runs one request and returns the body of a successful response. A
// failed round trip becomes a *TransportError, an error status a
// *ResponseError carrying the engine's answer.
func do(op string, res *esapi.Response, err error) ([]byte, int, error) {
	if err != nil {
		return nil, 0, &TransportError{Op: op, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, res.StatusCode, &TransportError{Op: op, Err: err}
	}
	if res.IsError() {
		return body, res.StatusCode, &ResponseError{Op: op, Status: res.StatusCode, Body: string(body)}
	}
	return body, res.StatusCode, nil
}

func isStatus(err error, status int) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Status == status
}

func (e *Elastic) Count(ctx context.Context, index string) (int64, error) {
	res, err := e.es.Count(
		e.es.Count.WithContext(ctx),
		e.es.Count.WithIndex(index),
	)
	body, _, err := do("count", res, err)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return 0, ErrIndexNotFound
		}
		return 0, err
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, &TransportError{Op: "count", Err: err}
	}
	return out.Count, nil
}

func (e *Elastic) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := e.es.Indices.Exists(
		[]string{index},
		e.es.Indices.Exists.WithContext(ctx),
	)
	_, status, err := do("index exists", res, err)
	switch {
	case err == nil:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, err
	}
}

func (e *Elastic) GetMapping(ctx context.Context, index string) (*IndexMapping, error) {
	res, err := e.es.Indices.GetMapping(
		e.es.Indices.GetMapping.WithContext(ctx),
		e.es.Indices.GetMapping.WithIndex(index),
	)
	body, _, err := do("get mapping", res, err)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrIndexNotFound
		}
		return nil, err
	}
	return ParseMapping(index, body)
}

func (e *Elastic) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	opts := []func(*esapi.IndicesCreateRequest){e.es.Indices.Create.WithContext(ctx)}
	if len(body) > 0 {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		opts = append(opts, e.es.Indices.Create.WithBody(bytes.NewReader(data)))
	}
	res, err := e.es.Indices.Create(index, opts...)
	_, _, err = do("create index", res, err)
	return err
}

func (e *Elastic) DeleteIndex(ctx context.Context, index string) error {
	res, err := e.es.Indices.Delete(
		[]string{index},
		e.es.Indices.Delete.WithContext(ctx),
	)
	_, _, err = do("delete index", res, err)
	if isStatus(err, http.StatusNotFound) {
		return ErrIndexNotFound
	}
	return err
}

func (e *Elastic) IndexDocument(ctx context.Context, index string, doc *document.Document) (*IndexResult, error) {
	data, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	res, err := e.es.Index(
		index,
		bytes.NewReader(data),
		e.es.Index.WithContext(ctx),
	)
	body, _, err := do("index", res, err)
	if err != nil {
		return nil, err
	}
	var out struct {
		Index  string `json:"_index"`
		ID     string `json:"_id"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TransportError{Op: "index", Err: err}
	}
	return &IndexResult{Index: out.Index, ID: out.ID, Result: out.Result}, nil
}

func (e *Elastic) Bulk(ctx context.Context, actions []BulkAction, refresh bool) (*BulkResponse, error) {
	payload, err := EncodeBulk(actions)
	if err != nil {
		return nil, err
	}
	res, err := e.es.Bulk(
		bytes.NewReader(payload),
		e.es.Bulk.WithContext(ctx),
		e.es.Bulk.WithRefresh(strconv.FormatBool(refresh)),
	)
	body, _, err := do("bulk", res, err)
	if err != nil {
		return nil, err
	}
	return DecodeBulkResponse(body)
}

func (e *Elastic) Search(ctx context.Context, index string, req SearchRequest) (*SearchResponse, error) {
	data, err := json.Marshal(req.Body())
	if err != nil {
		return nil, err
	}
	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(index),
		e.es.Search.WithBody(bytes.NewReader(data)),
		e.es.Search.WithTrackTotalHits(true),
	)
	body, _, err := do("search", res, err)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrIndexNotFound
		}
		return nil, err
	}
	return decodeSearchResponse(body)
}

func decodeSearchResponse(body []byte) (*SearchResponse, error) {
	var raw struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Index  string          `json:"_index"`
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &TransportError{Op: "search", Err: err}
	}
	out := &SearchResponse{Total: raw.Hits.Total.Value, Hits: make([]Hit, 0, len(raw.Hits.Hits))}
	for _, h := range raw.Hits.Hits {
		hit := Hit{Index: h.Index, ID: h.ID, Score: h.Score}
		if len(h.Source) > 0 {
			src, err := document.Parse(h.Source)
			if err != nil {
				return nil, &TransportError{Op: "search", Err: err}
			}
			hit.Source = src
		}
		out.Hits = append(out.Hits, hit)
	}
	return out, nil
}

func (e *Elastic) GetDocument(ctx context.Context, index, id string) (*document.Document, error) {
	res, err := e.es.Get(
		index,
		id,
		e.es.Get.WithContext(ctx),
	)
	body, _, err := do("get", res, err)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	var out struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TransportError{Op: "get", Err: err}
	}
	if !out.Found {
		return nil, ErrDocumentNotFound
	}
	return document.Parse(out.Source)
}
