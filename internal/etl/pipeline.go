package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/logger"
	"github.com/BartekS5/essync/pkg/models"
)

const DefaultPageSize = 3000

// State is the position of a model migration in its page loop.
type State int

const (
	StateNotStarted State = iota
	StateIndexCheck
	StateFetchPage
	StateReconcile
	StateTransform
	StateBulkLoad
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateIndexCheck:
		return "index_check"
	case StateFetchPage:
		return "fetch_page"
	case StateReconcile:
		return "reconcile"
	case StateTransform:
		return "transform"
	case StateBulkLoad:
		return "bulk_load"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Settings struct {
	PageSize            int
	RemoveExistingIndex bool
	// FailOnItemErrors aborts a model when any item of a bulk write fails.
	FailOnItemErrors bool
}

// ModelReport is the outcome of one model migration.
type ModelReport struct {
	Model             string
	Index             string
	State             State
	Skipped           bool
	Pages             int
	Documents         int
	FailedItems       int
	DroppedFields     int
	TransformFailures int
	ExtractDuration   time.Duration
	LoadDuration      time.Duration
	Started           time.Time
	Finished          time.Time
	Err               error
}

// RunReport is the outcome of a multi-model migration.
type RunReport struct {
	TaskID   string
	Started  time.Time
	Finished time.Time
	Models   []*ModelReport
	Err      error
}

// Failed returns the models that did not complete.
func (r *RunReport) Failed() []*ModelReport {
	var out []*ModelReport
	for _, m := range r.Models {
		if m.State == StateFailed {
			out = append(out, m)
		}
	}
	return out
}

// Documents is the number of documents written across all models.
func (r *RunReport) Documents() int {
	n := 0
	for _, m := range r.Models {
		n += m.Documents
	}
	return n
}

// Migrator re-populates search indexes from the relational store.
type Migrator struct {
	Registry *models.Registry
	Store    Extractor
	Engine   search.Engine
	Loader   *BulkLoader
	Settings Settings
	Sink     ReportSink
}

func NewMigrator(registry *models.Registry, store Extractor, engine search.Engine, settings Settings) *Migrator {
	if settings.PageSize <= 0 {
		settings.PageSize = DefaultPageSize
	}
	return &Migrator{
		Registry: registry,
		Store:    store,
		Engine:   engine,
		Loader:   NewBulkLoader(engine),
		Settings: settings,
	}
}

// MigrateModels migrates the selected models, or every enabled and
// migratable model when selection is empty, one after the other in
// registry order. A failed model is recorded and the next one still runs;
// the failures are joined into the returned error.
func (m *Migrator) MigrateModels(ctx context.Context, selection []string, overrides Conditions) (*RunReport, error) {
	return m.migrateModels(ctx, uuid.NewString(), selection, overrides, nil)
}

func (m *Migrator) migrateModels(ctx context.Context, taskID string, selection []string, overrides Conditions, progress func(*ModelReport)) (*RunReport, error) {
	run := &RunReport{TaskID: taskID, Started: time.Now()}
	defer func() { run.Finished = time.Now() }()

	targets, err := m.resolveSelection(selection)
	if err != nil {
		run.Err = err
		return run, err
	}

	var errs []error
	if m.Settings.RemoveExistingIndex {
		errs = append(errs, m.removeExistingIndexes(ctx)...)
	}

	logger.Infof("Starting migration of %d model(s). Page Size: %d, Task: %s", len(targets), m.pageSize(), taskID)
	for _, model := range targets {
		report, err := m.MigrateModel(ctx, model.Key(), overrides)
		run.Models = append(run.Models, report)
		if progress != nil {
			progress(report)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", model.Key(), err))
		}
	}

	run.Err = errors.Join(errs...)
	if run.Err != nil {
		logger.Errorf("Migration finished with %d failed model(s).", len(run.Failed()))
	} else {
		logger.Infof("Migration finished successfully. %d document(s) imported.", run.Documents())
	}
	return run, run.Err
}

func (m *Migrator) resolveSelection(selection []string) ([]models.ModelDescriptor, error) {
	if len(selection) == 0 {
		return m.Registry.Migratable(), nil
	}
	wanted := make(map[models.Key]bool, len(selection))
	for _, name := range selection {
		d, err := m.Registry.Resolve(name)
		if err != nil {
			return nil, err
		}
		wanted[d.Key()] = true
	}
	var out []models.ModelDescriptor
	for _, d := range m.Registry.All() {
		if wanted[d.Key()] {
			out = append(out, d)
		}
	}
	return out, nil
}

// removeExistingIndexes drops the index of every enabled and migratable
// model. Indexes that do not exist are ignored.
func (m *Migrator) removeExistingIndexes(ctx context.Context) []error {
	var errs []error
	seen := make(map[string]bool)
	for _, d := range m.Registry.Migratable() {
		if seen[d.Index] {
			continue
		}
		seen[d.Index] = true
		err := m.Engine.DeleteIndex(ctx, d.Index)
		switch {
		case err == nil:
			logger.Infof("Removed existing index %s", d.Index)
		case errors.Is(err, search.ErrIndexNotFound):
		default:
			logger.Errorf("Failed to remove index %s: %v", d.Index, err)
			errs = append(errs, fmt.Errorf("remove index %s: %w", d.Index, err))
		}
	}
	return errs
}

func (m *Migrator) pageSize() int {
	if m.Settings.PageSize <= 0 {
		return DefaultPageSize
	}
	return m.Settings.PageSize
}

// migrationRun holds the state of one model migration. It lives for one
// call of MigrateModel and is never shared.
type migrationRun struct {
	model       models.ModelDescriptor
	conditions  Conditions
	relations   []models.RelationConfig
	mapping     search.Properties
	transformer *Transformer
	validator   *Validator
	pageSize    int
	page        int
	total       int64
	report      *ModelReport
}

func (r *migrationRun) offset() int { return r.pageSize * r.page }

// MigrateModel re-populates the index of one model page by page until the
// extractor returns an empty page. Pages already written stay in the index
// when a later page fails.
func (m *Migrator) MigrateModel(ctx context.Context, key models.Key, overrides Conditions) (*ModelReport, error) {
	model, ok := m.Registry.Lookup(key)
	if !ok {
		return &ModelReport{Model: key.String(), State: StateFailed, Err: models.ErrModelNotFound},
			fmt.Errorf("%w: %s", models.ErrModelNotFound, key)
	}

	report := &ModelReport{Model: key.String(), Index: model.Index, State: StateNotStarted, Started: time.Now()}
	defer func() { report.Finished = time.Now() }()

	if !model.IsEnabled() || !model.IsMigratable() {
		logger.Infof("Skipping %s: migration disabled", key)
		report.Skipped = true
		report.State = StateDone
		return report, nil
	}

	relations, err := model.SelectRelations(nil)
	if err != nil {
		return report, m.fail(report, err)
	}
	run := &migrationRun{
		model:       model,
		conditions:  MergeConditions(model.Conditions, overrides),
		relations:   relations,
		transformer: NewTransformer(model.FieldTransforms),
		validator:   NewValidator(model.PK()),
		pageSize:    m.pageSize(),
		report:      report,
	}

	report.State = StateIndexCheck
	if err := m.loadMapping(ctx, run); err != nil {
		return report, m.fail(report, err)
	}

	run.total, err = m.Store.Count(ctx, model, run.conditions)
	if err != nil {
		logger.Warnf("Count of %s failed, progress totals unavailable: %v", key, err)
		run.total = -1
	}

	logger.L().Info().Str("model", key.String()).Str("index", model.Index).Int("page_size", run.pageSize).
		Msg("Starting model migration")

	for {
		done, err := m.migratePage(ctx, run)
		if err != nil {
			return report, m.fail(report, err)
		}
		if done {
			break
		}
		run.page++
	}

	report.State = StateDone
	logger.Infof("No more data to process. %s complete: %d document(s) in %s.", key, report.Documents, model.Index)
	return report, nil
}

// loadMapping probes the index and reads its mapping only when the index
// exists. A probe that cannot reach the engine fails the model instead of
// migrating without a mapping.
func (m *Migrator) loadMapping(ctx context.Context, run *migrationRun) error {
	exists, err := m.Engine.IndexExists(ctx, run.model.Index)
	if err != nil {
		return fmt.Errorf("check index %s: %w", run.model.Index, err)
	}
	if !exists {
		logger.Debugf("Index %s does not exist, documents are sent without reconciliation", run.model.Index)
		return nil
	}
	mapping, err := m.Engine.GetMapping(ctx, run.model.Index)
	if errors.Is(err, search.ErrIndexNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get mapping of %s: %w", run.model.Index, err)
	}
	if mapping.HasProperties() {
		run.mapping = mapping.Properties
	}
	return nil
}

// migratePage runs one fetch, reconcile, transform and bulk load cycle.
// It reports done when the fetched page is empty.
func (m *Migrator) migratePage(ctx context.Context, run *migrationRun) (bool, error) {
	report := run.report
	report.State = StateFetchPage

	start := time.Now()
	docs, err := m.Store.Find(ctx, run.model, Filter{
		Limit:      run.pageSize,
		Offset:     run.offset(),
		Conditions: run.conditions,
	}, run.relations)
	extractTook := time.Since(start)
	report.ExtractDuration += extractTook
	if err != nil {
		return false, &ExtractionError{Model: run.model.Key().String(), Offset: run.offset(), Err: err}
	}
	if len(docs) == 0 {
		return true, nil
	}

	docs, ids := m.documentIDs(run, docs)
	docs, dropped, failures := prepare(run.model, run.mapping, run.transformer, docs, &report.State)
	report.DroppedFields += dropped
	report.TransformFailures += len(failures)

	report.State = StateBulkLoad
	start = time.Now()
	resp, err := m.Loader.Submit(ctx, run.model.PK(), IndexActions(run.model.Index, ids, docs), true)
	loadTook := time.Since(start)
	report.LoadDuration += loadTook
	if err != nil {
		return false, &BulkWriteError{Model: run.model.Key().String(), Index: run.model.Index, Page: run.page, Err: err}
	}

	failed := len(resp.Failed())
	report.Pages++
	report.Documents += len(resp.Items) - failed
	report.FailedItems += failed
	if failed > 0 && m.Settings.FailOnItemErrors {
		return false, &BulkWriteError{Model: run.model.Key().String(), Index: run.model.Index, Page: run.page, Failed: failed}
	}

	logger.Infof("(%d/%s) Imported to %s index | sql query took %.2fs and insert to elasticsearch took %.2fs",
		run.page+1, run.pagesText(), run.model.Index, extractTook.Seconds(), loadTook.Seconds())
	return false, nil
}

// documentIDs reads the primary key of every row before reconciliation can
// remove it. Rows without a usable key are counted as failed and skipped.
func (m *Migrator) documentIDs(run *migrationRun, docs []*document.Document) ([]*document.Document, []string) {
	kept := docs[:0:0]
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := run.validator.DocumentID(d)
		if err != nil {
			logger.Warnf("Skipping row of %s at offset %d: %v", run.model.Key(), run.offset(), err)
			run.report.FailedItems++
			continue
		}
		kept = append(kept, d)
		ids = append(ids, id)
	}
	return kept, ids
}

// prepare reconciles docs against mapping when one is known and applies
// the model's field transforms. Transformed fields pass reconciliation
// unchanged. It is shared by full migration and re-derivation by id.
func prepare(model models.ModelDescriptor, mapping search.Properties, t *Transformer, docs []*document.Document, state *State) ([]*document.Document, int, []FieldError) {
	dropped := 0
	if mapping != nil {
		*state = StateReconcile
		paths := make([]string, len(model.FieldTransforms))
		for i, ft := range model.FieldTransforms {
			paths[i] = ft.Field
		}
		docs, dropped = ReconcileCount(docs, exemptFields(mapping, paths))
	}
	var failures []FieldError
	if len(model.FieldTransforms) > 0 {
		*state = StateTransform
		failures = t.TransformAll(docs)
	}
	return docs, dropped, failures
}

// pagesText is the expected page count for progress lines. The count is
// never used to end the loop.
func (r *migrationRun) pagesText() string {
	if r.total < 0 {
		return "?"
	}
	return fmt.Sprint((r.total + int64(r.pageSize) - 1) / int64(r.pageSize))
}

func (m *Migrator) fail(report *ModelReport, err error) error {
	report.State = StateFailed
	report.Err = err
	logger.L().Error().Err(err).Str("model", report.Model).Str("index", report.Index).
		Int("documents", report.Documents).Msg("Model migration failed")
	return err
}
