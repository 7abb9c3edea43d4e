package etl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
)

func mustParse(t *testing.T, s string) *document.Document {
	t.Helper()
	d, err := document.Parse([]byte(s))
	require.NoError(t, err)
	return d
}

func mustMapping(t *testing.T, s string) search.Properties {
	t.Helper()
	m, err := search.ParseMapping("idx", []byte(`{"idx":{"mappings":{"properties":`+s+`}}}`))
	require.NoError(t, err)
	return m.Properties
}

const articleMapping = `{
	"id": {"type": "long"},
	"title": {"type": "text"},
	"published": {"type": "boolean"},
	"created_at": {"type": "date"},
	"location": {"type": "geo_point"},
	"author": {"properties": {"id": {"type": "long"}, "name": {"type": "keyword"}}},
	"comments": {"type": "nested", "properties": {"body": {"type": "text"}}},
	"tags": {"type": "keyword"}
}`

func TestReconcileStripsUndeclaredFields(t *testing.T) {
	props := mustMapping(t, articleMapping)
	docs := []*document.Document{mustParse(t, `{"id":1,"title":"a","secret":"x","author":{"id":2,"password":"p"}}`)}

	out, dropped := ReconcileCount(docs, props)

	require.Len(t, out, 1)
	assert.Equal(t, `{"id":1,"title":"a","author":{"id":2}}`, out[0].String())
	assert.Equal(t, 2, dropped)
}

func TestReconcileCountsDroppedValues(t *testing.T) {
	props := mustMapping(t, articleMapping)
	tests := []struct {
		name string
		doc  string
		want string
		n    int
	}{
		{"nothing dropped", `{"id":1,"tags":["a","b"]}`, `{"id":1,"tags":["a","b"]}`, 0},
		{"undeclared scalar", `{"id":1,"x":2}`, `{"id":1}`, 1},
		{"undeclared object counts its values", `{"x":{"a":1,"b":[1,2]}}`, `{}`, 3},
		{"undeclared empty array", `{"x":[]}`, `{}`, 1},
		{"elements filtered from scalar field", `{"tags":["a",{"b":1},{"c":2,"d":3}]}`, `{"tags":["a"]}`, 3},
		{"elements filtered from object field", `{"comments":[{"body":"x"},1,"y",null]}`, `{"comments":[{"body":"x"},null]}`, 2},
		{"uncoercible number", `{"id":"abc"}`, `{}`, 1},
		{"scalar in object field", `{"author":"bob"}`, `{}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, dropped := ReconcileCount([]*document.Document{mustParse(t, tt.doc)}, props)
			assert.Equal(t, tt.want, out[0].String())
			assert.Equal(t, tt.n, dropped)
		})
	}
}

func TestReconcileLeavesCompatibleDocumentsUnchanged(t *testing.T) {
	props := mustMapping(t, articleMapping)
	doc := mustParse(t, `{"id":1,"title":"a","published":true,"created_at":"2024-01-01T00:00:00Z",
		"location":{"lat":1,"lon":2},"author":{"id":2,"name":"ann"},"comments":[{"body":"hi"}],
		"tags":["x","y"]}`)

	out := Reconcile([]*document.Document{doc}, props)

	assert.True(t, doc.Equal(out[0]), "got %s", out[0])
}

func TestReconcileDoesNotTouchInput(t *testing.T) {
	props := mustMapping(t, articleMapping)
	doc := mustParse(t, `{"id":1,"secret":"x"}`)
	before := doc.Clone()

	Reconcile([]*document.Document{doc}, props)

	assert.True(t, before.Equal(doc))
}

func TestReconcileCoercionPolicy(t *testing.T) {
	props := mustMapping(t, articleMapping)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"number into text", `{"title":12}`, `{"title":"12"}`},
		{"bool into text", `{"title":false}`, `{"title":"false"}`},
		{"object into text", `{"title":{"a":1}}`, `{}`},
		{"numeric string into long", `{"id":"42"}`, `{"id":42}`},
		{"word into long", `{"id":"x"}`, `{}`},
		{"bool into long", `{"id":true}`, `{}`},
		{"string into boolean", `{"published":"true"}`, `{"published":true}`},
		{"other string into boolean", `{"published":"yes"}`, `{}`},
		{"number into boolean", `{"published":1}`, `{}`},
		{"epoch into date", `{"created_at":1700000000000}`, `{"created_at":1700000000000}`},
		{"bool into date", `{"created_at":true}`, `{}`},
		{"scalar into object", `{"author":"ann"}`, `{}`},
		{"array into object", `{"comments":[{"body":"a","x":1},"junk",null]}`, `{"comments":[{"body":"a"},null]}`},
		{"array into scalar", `{"tags":["a",1,{"b":2},true]}`, `{"tags":["a","1","true"]}`},
		{"null is kept", `{"title":null,"author":null}`, `{"title":null,"author":null}`},
		{"other family untouched", `{"location":"1,2"}`, `{"location":"1,2"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Reconcile([]*document.Document{mustParse(t, tt.in)}, props)
			assert.Equal(t, tt.want, out[0].String())
		})
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	props := mustMapping(t, articleMapping)
	docs := []*document.Document{
		mustParse(t, `{"id":"7","title":3.5,"published":"false","secret":1}`),
		mustParse(t, `{"author":{"id":"9","name":10,"extra":[]},"comments":[{"body":1},2],"tags":[[1,"a"],{"x":1}]}`),
		mustParse(t, `{"created_at":false,"location":{"lat":"x"},"title":{"deep":true}}`),
		mustParse(t, `{}`),
	}

	once := Reconcile(docs, props)
	twice := Reconcile(once, props)

	require.Len(t, twice, len(docs))
	for i := range once {
		assert.True(t, once[i].Equal(twice[i]), "doc %d: %s != %s", i, once[i], twice[i])
	}
}

func TestReconcileKeepsDocumentCountAndOrder(t *testing.T) {
	props := mustMapping(t, `{"id":{"type":"long"}}`)
	docs := []*document.Document{
		mustParse(t, `{"id":1}`),
		mustParse(t, `{"other":2}`),
		mustParse(t, `{"id":3}`),
	}

	out := Reconcile(docs, props)

	require.Len(t, out, 3)
	assert.Equal(t, `{"id":1}`, out[0].String())
	assert.Equal(t, `{}`, out[1].String())
	assert.Equal(t, `{"id":3}`, out[2].String())
}

func TestExemptFields(t *testing.T) {
	props := mustMapping(t, articleMapping)
	exempt := exemptFields(props, []string{"tags", "author.name", "author.joined", "missing.field", "secret", "title.sub"})

	doc := mustParse(t, `{"title":"t","secret":42,"tags":[{"name":"go"}],"author":{"id":1,"name":{"first":"a"},"joined":{"raw":1}},"missing":{"field":1}}`)
	out := Reconcile([]*document.Document{doc}, exempt)

	assert.Equal(t, `{"title":"t","tags":[{"name":"go"}],"author":{"id":1,"name":{"first":"a"}}}`, out[0].String())
	assert.Equal(t, "keyword", props["tags"].Type, "input mapping is not modified")
	assert.Equal(t, "keyword", props["author"].Properties["name"].Type)
	for _, f := range []string{"missing", "secret"} {
		_, ok := exempt[f]
		assert.False(t, ok, f)
	}
	assert.Equal(t, "text", exempt["title"].Type)
}
