// Package admin implements index administration around the model
// registry: listing models, inspecting an index, creating it from a
// mapping file and generating that file from a sample document.
package admin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/logger"
	"github.com/BartekS5/essync/pkg/models"
)

// ScratchIndex receives the sample document while a mapping is generated.
const ScratchIndex = "essync_mapping_lab"

const (
	arrayPlaceholder  = "[Array]"
	objectPlaceholder = "[Object]"
)

type Admin struct {
	Registry    *models.Registry
	Engine      search.Engine
	MappingsDir string
}

func New(registry *models.Registry, engine search.Engine, mappingsDir string) *Admin {
	return &Admin{Registry: registry, Engine: engine, MappingsDir: mappingsDir}
}

// ModelSummary is the listing view of one descriptor.
type ModelSummary struct {
	Model     string `json:"model"`
	Plugin    string `json:"plugin,omitempty"`
	Index     string `json:"index"`
	PK        string `json:"pk"`
	Enabled   bool   `json:"enabled"`
	Migration bool   `json:"migration"`
}

// ListModels returns enabled models sorted by name followed by disabled
// models sorted by name.
func ListModels(registry *models.Registry) []ModelSummary {
	var enabled, disabled []ModelSummary
	for _, d := range registry.All() {
		s := ModelSummary{
			Model:     d.Model,
			Plugin:    d.Namespace,
			Index:     d.Index,
			PK:        d.PK(),
			Enabled:   d.IsEnabled(),
			Migration: d.IsMigratable(),
		}
		if s.Enabled {
			enabled = append(enabled, s)
		} else {
			disabled = append(disabled, s)
		}
	}
	byName := func(list []ModelSummary) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Model < list[j].Model })
	}
	byName(enabled)
	byName(disabled)
	return append(enabled, disabled...)
}

// IndexStatus describes an index and one page of its documents.
type IndexStatus struct {
	Index      string
	Created    bool
	Deleted    bool
	HasMapping bool
	Total      int64
	Documents  []*document.Document
}

// Status inspects the index of model and returns page (1-based) of its
// documents, newest first. Nested values are replaced by placeholders for
// display. A missing index is reported as Deleted; an engine that cannot
// be reached is an error.
func (a *Admin) Status(ctx context.Context, model string, page, size int) (*IndexStatus, error) {
	d, err := a.Registry.Resolve(model)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}

	st := &IndexStatus{Index: d.Index}
	total, err := a.Engine.Count(ctx, d.Index)
	if errors.Is(err, search.ErrIndexNotFound) {
		st.Deleted = true
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", d.Index, err)
	}
	st.Created = true
	st.Total = total

	mapping, err := a.Engine.GetMapping(ctx, d.Index)
	if err != nil {
		logger.Warnf("Get mapping of %s failed: %v", d.Index, err)
	}
	st.HasMapping = mapping.HasProperties()

	resp, err := a.Engine.Search(ctx, d.Index, search.SearchRequest{
		From: size * (page - 1),
		Size: size,
		Sort: []map[string]any{{"updated_at": map[string]any{"order": "desc", "unmapped_type": "date"}}},
	})
	if err != nil {
		logger.Warnf("Search on %s failed: %v", d.Index, err)
		st.Total = 0
		return st, nil
	}
	for _, h := range resp.Hits {
		if h.Source.Len() == 0 {
			continue
		}
		st.Documents = append(st.Documents, DisplayDocument(h.Source))
	}
	return st, nil
}

// DisplayDocument returns a copy of doc with top-level arrays and objects
// replaced by "[Array]" and "[Object]".
func DisplayDocument(doc *document.Document) *document.Document {
	out := document.New()
	doc.Range(func(key string, v document.Value) bool {
		switch v.Kind() {
		case document.KindArray:
			out.Set(key, document.String(arrayPlaceholder))
		case document.KindObject:
			out.Set(key, document.String(objectPlaceholder))
		default:
			out.Set(key, v)
		}
		return true
	})
	return out
}

// MappingFile is the path of the stored mapping of index.
func (a *Admin) MappingFile(index string) string {
	return filepath.Join(a.MappingsDir, index+".json")
}

// IndexBody builds the create-index body of a model: the stored mapping
// file when there is one, the model's mapping overrides merged per field
// and the model's index settings.
func (a *Admin) IndexBody(d models.ModelDescriptor) (map[string]any, error) {
	body := map[string]any{}
	data, err := os.ReadFile(a.MappingFile(d.Index))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, fmt.Errorf("failed to parse mapping file '%s': %w", a.MappingFile(d.Index), err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read mapping file '%s': %w", a.MappingFile(d.Index), err)
	}

	if len(d.IndexMappings) > 0 {
		props := child(child(body, "mappings"), "properties")
		fields := make([]string, 0, len(d.IndexMappings))
		for f := range d.IndexMappings {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			override, ok := d.IndexMappings[f].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("model %s: mapping override of %s must be an object", d.Model, f)
			}
			mergeField(props, strings.Split(f, "."), override)
		}
	}
	if len(d.IndexSettings) > 0 {
		body["settings"] = d.IndexSettings
	}
	return body, nil
}

// child returns m[key] as a map, creating it when absent.
func child(m map[string]any, key string) map[string]any {
	if c, ok := m[key].(map[string]any); ok {
		return c
	}
	c := map[string]any{}
	m[key] = c
	return c
}

// mergeField merges override into the field at path, where every segment
// but the last names an object field with its own properties.
func mergeField(props map[string]any, path []string, override map[string]any) {
	for _, seg := range path[:len(path)-1] {
		props = child(child(props, seg), "properties")
	}
	field := child(props, path[len(path)-1])
	for k, v := range override {
		field[k] = v
	}
}

func (a *Admin) CreateIndex(ctx context.Context, model string) error {
	d, err := a.Registry.Resolve(model)
	if err != nil {
		return err
	}
	body, err := a.IndexBody(d)
	if err != nil {
		return err
	}
	if err := a.Engine.CreateIndex(ctx, d.Index, body); err != nil {
		return fmt.Errorf("create index %s: %w", d.Index, err)
	}
	logger.Infof("Created index %s for %s", d.Index, d.Key())
	return nil
}

func (a *Admin) DeleteIndex(ctx context.Context, model string) error {
	d, err := a.Registry.Resolve(model)
	if err != nil {
		return err
	}
	if err := a.Engine.DeleteIndex(ctx, d.Index); err != nil {
		return fmt.Errorf("delete index %s: %w", d.Index, err)
	}
	logger.Infof("Deleted index %s", d.Index)
	return nil
}

// GenerateMapping lets the engine derive a mapping from sample, then
// writes it to the model's mapping file. The scratch index is removed
// afterwards.
func (a *Admin) GenerateMapping(ctx context.Context, model string, sample *document.Document) (string, error) {
	d, err := a.Registry.Resolve(model)
	if err != nil {
		return "", err
	}
	if sample.Len() == 0 {
		return "", errors.New("sample document is empty")
	}

	if _, err := a.Engine.IndexDocument(ctx, ScratchIndex, sample); err != nil {
		return "", fmt.Errorf("index sample: %w", err)
	}
	mapping, err := a.Engine.GetMapping(ctx, ScratchIndex)
	if derr := a.Engine.DeleteIndex(ctx, ScratchIndex); derr != nil && !errors.Is(derr, search.ErrIndexNotFound) {
		logger.Warnf("Failed to delete scratch index %s: %v", ScratchIndex, derr)
	}
	if err != nil {
		return "", fmt.Errorf("read generated mapping: %w", err)
	}

	out, err := json.MarshalIndent(map[string]any{
		"mappings": map[string]any{"properties": mapping.Properties},
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.MappingsDir, 0o755); err != nil {
		return "", err
	}
	path := a.MappingFile(d.Index)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", fmt.Errorf("write mapping file '%s': %w", path, err)
	}
	logger.Infof("Wrote mapping of %s to %s", d.Key(), path)
	return path, nil
}
