package etl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/models"
)

var (
	articleModel = models.ModelDescriptor{Model: "article", Index: "articles", Table: "articles"}
	userModel    = models.ModelDescriptor{Model: "user", Namespace: "users-permissions", Index: "users", Table: "users"}
)

func TestMigrateModelPagination(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		pageSize  int
		wantFinds int
		wantBulks int
	}{
		{"empty table", 0, 2, 1, 0},
		{"partial last page", 3, 2, 3, 2},
		{"exact pages", 4, 2, 3, 2},
		{"single page", 5, 5, 2, 1},
		{"page larger than table", 2, 10, 2, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.add("articles", testRows(tt.rows)...)
			engine := newFakeEngine()
			m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: tt.pageSize})

			report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
			require.NoError(t, err)

			assert.Len(t, store.calls, tt.wantFinds)
			assert.Equal(t, tt.wantBulks, engine.bulkCount())
			assert.Equal(t, tt.rows, report.Documents)
			assert.Equal(t, tt.wantBulks, report.Pages)
			assert.Equal(t, StateDone, report.State)
			assert.Len(t, engine.docs("articles"), tt.rows)
			for i, f := range store.calls {
				assert.Equal(t, tt.pageSize, f.Limit)
				assert.Equal(t, i*tt.pageSize, f.Offset)
			}
		})
	}
}

func TestMigrateModelBulkForcesVisibility(t *testing.T) {
	store := newFakeStore()
	store.add("articles", testRows(3)...)
	engine := newFakeEngine()
	m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 2})

	_, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, engine.refreshes)
}

func TestMigrateModelStopsOnBulkFailure(t *testing.T) {
	store := newFakeStore()
	store.add("articles", testRows(5)...)
	engine := newFakeEngine()
	engine.failBulkAt = 2
	m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 2})

	report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
	require.Error(t, err)

	var bulkErr *BulkWriteError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, 1, bulkErr.Page)
	var transportErr *search.TransportError
	assert.ErrorAs(t, err, &transportErr)

	assert.Len(t, store.calls, 2, "no page is fetched after a failed write")
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, 2, report.Documents)
	assert.Len(t, engine.docs("articles"), 2, "pages written before the failure stay")
}

func TestMigrateModelExtractionFailure(t *testing.T) {
	store := newFakeStore()
	store.findErr = errors.New("connection refused")
	engine := newFakeEngine()
	m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 2})

	report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)

	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, 0, extractErr.Offset)
	assert.Equal(t, StateFailed, report.State)
	assert.Zero(t, engine.bulkCount())
}

func TestMigrateModelIndexProbeFailure(t *testing.T) {
	store := newFakeStore()
	store.add("articles", testRows(2)...)
	engine := newFakeEngine()
	engine.existsErr = &search.TransportError{Op: "exists", Err: errors.New("timeout")}
	m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 2})

	report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
	require.Error(t, err)
	assert.Equal(t, StateFailed, report.State)
	assert.Empty(t, store.calls, "nothing is extracted without a confirmed mapping state")
	assert.Zero(t, engine.bulkCount())
}

func TestMigrateModelReconcilesAgainstMapping(t *testing.T) {
	model := articleModel
	model.FieldTransforms = []models.FieldTransform{{Field: "tags", Kind: models.TransformPluck, Key: "name"}}

	store := newFakeStore()
	store.add("articles",
		mustParse(t, `{"id":1,"title":"a","secret":"x","tags":[{"id":1,"name":"go"},{"id":2,"name":"es"}]}`),
		mustParse(t, `{"id":2,"title":"b","secret":"y","tags":[]}`),
	)
	engine := newFakeEngine()
	engine.indexes["articles"] = map[string]*document.Document{}
	engine.mappings["articles"] = mustMapping(t, `{"id":{"type":"long"},"title":{"type":"text"},"tags":{"type":"keyword"}}`)
	m := NewMigrator(testRegistry(t, model), store, engine, Settings{PageSize: 10})

	report, err := m.MigrateModel(context.Background(), model.Key(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DroppedFields)
	assert.Zero(t, report.TransformFailures)

	got := engine.docs("articles")
	require.Len(t, got, 2)
	assert.Equal(t, `{"id":1,"title":"a","tags":["go","es"]}`, got["1"].String())
	assert.Equal(t, `{"id":2,"title":"b","tags":[]}`, got["2"].String())
}

func TestMigrateModelDropsUndeclaredTransformedFields(t *testing.T) {
	model := articleModel
	model.FieldTransforms = []models.FieldTransform{{Field: "secret", Kind: models.TransformString}}

	store := newFakeStore()
	store.add("articles", mustParse(t, `{"id":1,"title":"t","secret":42}`))
	engine := newFakeEngine()
	engine.indexes["articles"] = map[string]*document.Document{}
	engine.mappings["articles"] = mustMapping(t, `{"id":{"type":"long"},"title":{"type":"text"}}`)
	m := NewMigrator(testRegistry(t, model), store, engine, Settings{PageSize: 10})

	report, err := m.MigrateModel(context.Background(), model.Key(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DroppedFields)
	assert.Zero(t, report.TransformFailures)
	assert.Equal(t, `{"id":1,"title":"t"}`, engine.docs("articles")["1"].String())
}

func TestMigrateModelWithoutMappingSendsDocumentsAsIs(t *testing.T) {
	store := newFakeStore()
	store.add("articles", mustParse(t, `{"id":7,"anything":{"goes":true}}`))
	engine := newFakeEngine()
	m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 10})

	report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.DroppedFields)
	assert.Equal(t, `{"id":7,"anything":{"goes":true}}`, engine.docs("articles")["7"].String())
}

func TestMigrateModelSkipsRowsWithoutID(t *testing.T) {
	store := newFakeStore()
	store.add("articles", mustParse(t, `{"id":1}`), mustParse(t, `{"title":"orphan"}`), mustParse(t, `{"id":3}`))
	engine := newFakeEngine()
	m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 10})

	report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 1, report.FailedItems)
}

func TestMigrateModelItemFailures(t *testing.T) {
	tests := []struct {
		name    string
		failOn  bool
		wantErr bool
		state   State
	}{
		{"tolerated", false, false, StateDone},
		{"fatal", true, true, StateFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.add("articles", testRows(3)...)
			engine := newFakeEngine()
			engine.itemFailIDs = map[string]bool{"2": true}
			m := NewMigrator(testRegistry(t, articleModel), store, engine, Settings{PageSize: 10, FailOnItemErrors: tt.failOn})

			report, err := m.MigrateModel(context.Background(), articleModel.Key(), nil)
			if tt.wantErr {
				var bulkErr *BulkWriteError
				require.ErrorAs(t, err, &bulkErr)
				assert.Equal(t, 1, bulkErr.Failed)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.state, report.State)
			assert.Equal(t, 2, report.Documents)
			assert.Equal(t, 1, report.FailedItems)
		})
	}
}

func TestMigrateModelMergesConditions(t *testing.T) {
	model := articleModel
	model.Conditions = map[string]any{"published": true, "locale": "en"}
	store := newFakeStore()
	m := NewMigrator(testRegistry(t, model), store, newFakeEngine(), Settings{PageSize: 10})

	_, err := m.MigrateModel(context.Background(), model.Key(), Conditions{"locale": "de", "id_gt": 10})
	require.NoError(t, err)
	require.Len(t, store.calls, 1)
	assert.Equal(t, Conditions{"published": true, "locale": "de", "id_gt": 10}, store.calls[0].Conditions)
}

func TestMigrateModelSkipsDisabledModels(t *testing.T) {
	off := false
	tests := []struct {
		name  string
		model models.ModelDescriptor
	}{
		{"disabled", models.ModelDescriptor{Model: "draft", Index: "drafts", Enabled: &off}},
		{"not migratable", models.ModelDescriptor{Model: "audit", Index: "audits", Migratable: &off}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			m := NewMigrator(testRegistry(t, tt.model), store, newFakeEngine(), Settings{})

			report, err := m.MigrateModel(context.Background(), tt.model.Key(), nil)
			require.NoError(t, err)
			assert.True(t, report.Skipped)
			assert.Equal(t, StateDone, report.State)
			assert.Empty(t, store.calls)
		})
	}
}

func TestMigrateModelUnknownModel(t *testing.T) {
	m := NewMigrator(testRegistry(t, articleModel), newFakeStore(), newFakeEngine(), Settings{})
	report, err := m.MigrateModel(context.Background(), models.Key{Model: "ghost"}, nil)
	assert.ErrorIs(t, err, models.ErrModelNotFound)
	assert.Equal(t, StateFailed, report.State)
}

func TestMigrateModelsRunsInRegistryOrder(t *testing.T) {
	store := newFakeStore()
	store.add("users", testRows(1)...)
	store.add("articles", testRows(2)...)
	engine := newFakeEngine()
	m := NewMigrator(testRegistry(t, userModel, articleModel), store, engine, Settings{PageSize: 10})

	run, err := m.MigrateModels(context.Background(), []string{"article", "users-permissions::user"}, nil)
	require.NoError(t, err)
	require.Len(t, run.Models, 2)
	assert.Equal(t, "users-permissions::user", run.Models[0].Model)
	assert.Equal(t, "article", run.Models[1].Model)
	assert.Equal(t, 3, run.Documents())
	assert.NotEmpty(t, run.TaskID)

	require.Len(t, engine.bulkCalls, 2)
	assert.Equal(t, "users", engine.bulkCalls[0][0].Index)
	assert.Equal(t, "articles", engine.bulkCalls[1][0].Index)
}

func TestMigrateModelsContinuesAfterFailedModel(t *testing.T) {
	store := newFakeStore()
	store.add("users", testRows(1)...)
	store.add("articles", testRows(1)...)
	engine := newFakeEngine()
	engine.failBulkAt = 1
	m := NewMigrator(testRegistry(t, userModel, articleModel), store, engine, Settings{PageSize: 10})

	run, err := m.MigrateModels(context.Background(), nil, nil)
	require.Error(t, err)
	require.Len(t, run.Models, 2)
	assert.Equal(t, StateFailed, run.Models[0].State)
	assert.Equal(t, StateDone, run.Models[1].State)
	assert.Len(t, run.Failed(), 1)
	assert.Len(t, engine.docs("articles"), 1)
}

func TestMigrateModelsRejectsUnknownSelection(t *testing.T) {
	store := newFakeStore()
	m := NewMigrator(testRegistry(t, articleModel), store, newFakeEngine(), Settings{})

	run, err := m.MigrateModels(context.Background(), []string{"article", "ghost"}, nil)
	assert.ErrorIs(t, err, models.ErrModelNotFound)
	assert.Empty(t, run.Models)
	assert.Empty(t, store.calls, "selection is resolved before any model runs")
}

func TestMigrateModelsRemovesExistingIndexes(t *testing.T) {
	store := newFakeStore()
	store.add("articles", testRows(1)...)
	engine := newFakeEngine()
	stale := document.New()
	stale.Set("id", document.Int(99))
	engine.indexes["articles"] = map[string]*document.Document{"99": stale}
	m := NewMigrator(testRegistry(t, userModel, articleModel), store, engine, Settings{PageSize: 10, RemoveExistingIndex: true})

	_, err := m.MigrateModels(context.Background(), nil, nil)
	require.NoError(t, err, "a missing users index is not an error")
	assert.Equal(t, []string{"articles"}, engine.deleted)

	got := engine.docs("articles")
	assert.Len(t, got, 1)
	assert.NotContains(t, got, "99")
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*RunReport
}

func (s *recordingSink) Record(_ context.Context, r *RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	return nil
}

func TestStartRunsInBackground(t *testing.T) {
	store := newFakeStore()
	store.add("users", testRows(2)...)
	store.add("articles", testRows(3)...)
	engine := newFakeEngine()
	m := NewMigrator(testRegistry(t, userModel, articleModel), store, engine, Settings{PageSize: 2})
	sink := &recordingSink{}
	m.Sink = sink

	ctx, cancel := context.WithCancel(context.Background())
	task := m.Start(ctx, nil, nil)
	cancel()
	require.NotEmpty(t, task.ID)

	waitCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	run, err := task.Wait(waitCtx)
	require.NoError(t, err, "cancelling the start context does not stop the task")
	assert.Equal(t, task.ID, run.TaskID)
	assert.Equal(t, 5, run.Documents())

	st := task.Status()
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.Completed)
	assert.Zero(t, st.Failed)

	require.Len(t, sink.reports, 1)
	assert.Equal(t, task.ID, sink.reports[0].TaskID)
}

func TestTaskWaitHonoursContext(t *testing.T) {
	task := &Task{ID: "t", done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, task.Status().Running)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "fetch_page", StateFetchPage.String())
	assert.Equal(t, "bulk_load", StateBulkLoad.String())
	assert.Equal(t, "state(42)", State(42).String())
}
