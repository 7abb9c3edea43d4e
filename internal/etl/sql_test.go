package etl

import (
	"context"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/essync/pkg/database"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/models"
)

const fixtureSchema = `
CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE articles (id INTEGER PRIMARY KEY, title TEXT, published INTEGER, author_id INTEGER);
CREATE TABLE comments (id INTEGER PRIMARY KEY, article_id INTEGER, body TEXT);
CREATE TABLE summaries (id INTEGER PRIMARY KEY, article_id INTEGER, body TEXT);
CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT);
CREATE TABLE article_tags (article_id INTEGER, tag_id INTEGER);

INSERT INTO users VALUES (1, 'ann'), (2, 'bob');
INSERT INTO articles VALUES (3, 'c', 1, NULL), (1, 'a', 1, 1), (2, 'b', 0, 2);
INSERT INTO comments VALUES (10, 1, 'first'), (11, 1, 'second'), (12, 2, 'third');
INSERT INTO summaries VALUES (20, 1, 'sum a');
INSERT INTO tags VALUES (100, 'go'), (101, 'es');
INSERT INTO article_tags VALUES (1, 101), (1, 100), (3, 100);
`

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.ConnectSQL(database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range strings.Split(fixtureSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	return NewSQLStore(db)
}

var articleRelations = []models.RelationConfig{
	{Name: "author", Kind: models.RelationBelongsTo, Table: "users", ForeignKey: "author_id", Fields: []string{"name"}},
	{Name: "comments", Kind: models.RelationHasMany, Table: "comments", ForeignKey: "article_id"},
	{Name: "summary", Kind: models.RelationHasOne, Table: "summaries", ForeignKey: "article_id"},
	{Name: "tags", Kind: models.RelationManyToMany, Table: "tags", JoinTable: "article_tags", ForeignKey: "article_id", ReferenceKey: "tag_id"},
}

func rowIDs(t *testing.T, docs []*document.Document) []int64 {
	t.Helper()
	out := make([]int64, len(docs))
	for i, d := range docs {
		v, ok := d.Get("id")
		require.True(t, ok)
		out[i], ok = v.Int64()
		require.True(t, ok)
	}
	return out
}

func TestSQLStoreFindPages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"first page", Filter{Limit: 2}, []int64{1, 2}},
		{"second page", Filter{Limit: 2, Offset: 2}, []int64{3}},
		{"past the end", Filter{Limit: 2, Offset: 4}, []int64{}},
		{"no pagination", Filter{}, []int64{1, 2, 3}},
		{"ids", Filter{IDs: []any{int64(3), int64(1)}}, []int64{1, 3}},
		{"string ids", Filter{IDs: []any{"2"}}, []int64{2}},
		{"empty id set", Filter{IDs: []any{}}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.Find(ctx, articleModel, tt.filter, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rowIDs(t, docs))
		})
	}
}

func TestSQLStoreConditions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		conditions Conditions
		want       []int64
	}{
		{"equality", Conditions{"published": 1}, []int64{1, 3}},
		{"explicit equality", Conditions{"title_eq": "b"}, []int64{2}},
		{"not equal", Conditions{"title_ne": "b"}, []int64{1, 3}},
		{"greater than", Conditions{"id_gt": 1}, []int64{2, 3}},
		{"range", Conditions{"id_gte": 2, "id_lte": 2}, []int64{2}},
		{"less than", Conditions{"id_lt": 2}, []int64{1}},
		{"in list", Conditions{"id_in": []any{1, 3}}, []int64{1, 3}},
		{"empty in list", Conditions{"id_in": []any{}}, []int64{}},
		{"not in list", Conditions{"id_nin": []int{1}}, []int64{2, 3}},
		{"empty not in list", Conditions{"id_nin": []int{}}, []int64{1, 2, 3}},
		{"is null", Conditions{"author_id_null": true}, []int64{3}},
		{"is not null", Conditions{"author_id_null": false}, []int64{1, 2}},
		{"nil value", Conditions{"author_id": nil}, []int64{3}},
		{"combined", Conditions{"published": 1, "author_id_null": false}, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := store.Find(ctx, articleModel, Filter{Conditions: tt.conditions}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rowIDs(t, docs))

			n, err := store.Count(ctx, articleModel, tt.conditions)
			require.NoError(t, err)
			assert.EqualValues(t, len(tt.want), n)
		})
	}
}

func TestSQLStoreRejectsBadInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Find(ctx, models.ModelDescriptor{Model: "x", Index: "x", Table: "articles; DROP TABLE users"}, Filter{}, nil)
	assert.Error(t, err)

	_, err = store.Find(ctx, articleModel, Filter{Conditions: Conditions{"title = 'a' OR 1": 1}}, nil)
	assert.Error(t, err)

	_, err = store.Find(ctx, articleModel, Filter{Conditions: Conditions{"author_id_null": "yes"}}, nil)
	assert.Error(t, err)

	_, err = store.Find(ctx, articleModel, Filter{}, []models.RelationConfig{
		{Name: "ghost", Kind: models.RelationHasMany, Table: "ghosts", ForeignKey: "article_id"},
	})
	assert.ErrorContains(t, err, "ghost")
}

func TestSQLStoreRelations(t *testing.T) {
	store := newTestStore(t)

	docs, err := store.Find(context.Background(), articleModel, Filter{Limit: 10}, articleRelations)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, []string{"id", "title", "published", "author_id", "author", "comments", "summary", "tags"}, docs[0].Keys())
	author, _ := docs[0].Get("author")
	assert.Equal(t, `{"name":"ann"}`, author.Doc().String())
	summary, _ := docs[0].Get("summary")
	assert.Equal(t, `{"id":20,"article_id":1,"body":"sum a"}`, summary.Doc().String())
	tags, _ := docs[0].Get("tags")
	assert.Equal(t, `[{"id":100,"name":"go"},{"id":101,"name":"es"}]`, tags.String())

	comments, _ := docs[0].Get("comments")
	var commentDocs []*document.Document
	for _, c := range comments.Elems() {
		commentDocs = append(commentDocs, c.Doc())
	}
	assert.ElementsMatch(t, []int64{10, 11}, rowIDs(t, commentDocs))

	assert.Equal(t,
		`{"id":3,"title":"c","published":1,"author_id":null,"author":null,"comments":[],"summary":null,`+
			`"tags":[{"id":100,"name":"go"}]}`,
		docs[2].String())

	comments, _ = docs[1].Get("comments")
	require.Len(t, comments.Elems(), 1)
	body, _ := comments.Elems()[0].Doc().Get("body")
	assert.Equal(t, "third", body.Text())
	tags, _ = docs[1].Get("tags")
	assert.Empty(t, tags.Elems())
}

func TestSQLStoreRelationsFollowPage(t *testing.T) {
	store := newTestStore(t)

	docs, err := store.Find(context.Background(), articleModel, Filter{IDs: []any{int64(2)}}, articleRelations[:1])
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, `{"id":2,"title":"b","published":0,"author_id":2,"author":{"name":"bob"}}`, docs[0].String())
}

func TestSplitCondition(t *testing.T) {
	tests := []struct {
		key    string
		value  any
		column string
		op     string
	}{
		{"title", "a", "title", "_eq"},
		{"id_gte", 1, "id", "_gte"},
		{"id_in", []int{1}, "id", "_in"},
		{"logged_in", true, "logged_in", "_eq"},
		{"tag_nin", []string{"x"}, "tag", "_nin"},
		{"deleted_at_null", true, "deleted_at", "_null"},
		{"_lt", 1, "_lt", "_eq"},
	}
	for _, tt := range tests {
		col, op := splitCondition(tt.key, tt.value)
		assert.Equal(t, tt.column, col, tt.key)
		assert.Equal(t, tt.op, op, tt.key)
	}
}

func TestChunks(t *testing.T) {
	vals := make([]any, 2500)
	got := chunks(vals, inListChunk)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 1000)
	assert.Len(t, got[2], 500)
	assert.Empty(t, chunks(nil, inListChunk))
}

func TestQuoteIdentPerDriver(t *testing.T) {
	tests := []struct {
		driver string
		want   string
	}{
		{database.DriverSQLServer, "[dbo].[articles]"},
		{database.DriverMySQL, "`dbo`.`articles`"},
		{database.DriverPostgres, `"dbo"."articles"`},
	}
	for _, tt := range tests {
		store := NewSQLStore(sqlx.NewDb(nil, tt.driver))
		got, err := store.quoteIdent("dbo.articles")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestPaginationPerDriver(t *testing.T) {
	mssql := NewSQLStore(sqlx.NewDb(nil, database.DriverSQLServer))
	assert.Equal(t, " OFFSET 20 ROWS FETCH NEXT 10 ROWS ONLY", mssql.pagination(10, 20))
	pg := NewSQLStore(sqlx.NewDb(nil, database.DriverPostgres))
	assert.Equal(t, " LIMIT 10 OFFSET 20", pg.pagination(10, 20))
	assert.Empty(t, pg.pagination(0, 20))
}
