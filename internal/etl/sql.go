package etl

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/BartekS5/essync/pkg/database"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/models"
)

// inListChunk bounds the IN list of one relation or id query. SQL Server
// rejects statements with more than 2100 parameters.
const inListChunk = 1000

const parentColumn = "__parent"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore reads model rows from a relational database and builds
// documents with their relations embedded.
type SQLStore struct {
	DB *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{DB: db}
}

func (s *SQLStore) Find(ctx context.Context, model models.ModelDescriptor, filter Filter, relations []models.RelationConfig) ([]*document.Document, error) {
	table, err := s.quoteIdent(model.TableName())
	if err != nil {
		return nil, err
	}
	pk, err := s.quoteIdent(model.PK())
	if err != nil {
		return nil, err
	}

	where, args, err := s.buildWhere(filter.Conditions)
	if err != nil {
		return nil, err
	}
	if filter.IDs != nil {
		if len(filter.IDs) == 0 {
			return nil, nil
		}
		where = append(where, pk+" IN (?)")
		args = append(args, filter.IDs)
	}

	query := "SELECT * FROM " + table + whereClause(where) + " ORDER BY " + pk + s.pagination(filter.Limit, filter.Offset)
	docs, err := s.query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", model.TableName(), err)
	}
	if len(docs) == 0 {
		return docs, nil
	}

	for _, rel := range relations {
		if err := s.loadRelation(ctx, model, rel, docs); err != nil {
			return nil, fmt.Errorf("failed to fetch relation %s: %w", rel.Name, err)
		}
	}
	return docs, nil
}

func (s *SQLStore) Count(ctx context.Context, model models.ModelDescriptor, conditions Conditions) (int64, error) {
	table, err := s.quoteIdent(model.TableName())
	if err != nil {
		return 0, err
	}
	where, args, err := s.buildWhere(conditions)
	if err != nil {
		return 0, err
	}
	query, args, err := s.bind("SELECT COUNT(*) FROM "+table+whereClause(where), args)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.DB.QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", model.TableName(), err)
	}
	return n, nil
}

func (s *SQLStore) pagination(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	if s.DB.DriverName() == database.DriverSQLServer {
		return fmt.Sprintf(" OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

// quoteIdent validates and quotes a column or table name. A schema
// qualified name quotes each part.
func (s *SQLStore) quoteIdent(name string) (string, error) {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if !identPattern.MatchString(p) {
			return "", fmt.Errorf("invalid SQL identifier %q", name)
		}
		switch s.DB.DriverName() {
		case database.DriverSQLServer:
			parts[i] = "[" + p + "]"
		case database.DriverMySQL:
			parts[i] = "`" + p + "`"
		default:
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, "."), nil
}

// bind expands slice arguments and rewrites placeholders for the driver.
func (s *SQLStore) bind(query string, args []any) (string, []any, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.DB.Rebind(query), args, nil
}

func whereClause(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

var conditionOps = []string{"_nin", "_null", "_lte", "_gte", "_eq", "_ne", "_lt", "_gt", "_in"}

// splitCondition separates the operator suffix from a condition key.
// Set operators only apply to list values, so a column such as
// logged_in compared with a scalar stays an equality.
func splitCondition(key string, value any) (string, string) {
	for _, op := range conditionOps {
		col, ok := strings.CutSuffix(key, op)
		if !ok || col == "" {
			continue
		}
		if (op == "_in" || op == "_nin") && !isList(value) {
			continue
		}
		return col, op
	}
	return key, "_eq"
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	if _, ok := v.([]byte); ok {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func listLen(v any) int {
	return reflect.ValueOf(v).Len()
}

func (s *SQLStore) buildWhere(conditions Conditions) ([]string, []any, error) {
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var where []string
	var args []any
	for _, key := range keys {
		value := conditions[key]
		name, op := splitCondition(key, value)
		col, err := s.quoteIdent(name)
		if err != nil {
			return nil, nil, err
		}
		switch op {
		case "_eq":
			if value == nil {
				where = append(where, col+" IS NULL")
				continue
			}
			where = append(where, col+" = ?")
		case "_ne":
			if value == nil {
				where = append(where, col+" IS NOT NULL")
				continue
			}
			where = append(where, col+" <> ?")
		case "_lt":
			where = append(where, col+" < ?")
		case "_lte":
			where = append(where, col+" <= ?")
		case "_gt":
			where = append(where, col+" > ?")
		case "_gte":
			where = append(where, col+" >= ?")
		case "_in":
			if listLen(value) == 0 {
				where = append(where, "1 = 0")
				continue
			}
			where = append(where, col+" IN (?)")
		case "_nin":
			if listLen(value) == 0 {
				continue
			}
			where = append(where, col+" NOT IN (?)")
		case "_null":
			isNull, ok := value.(bool)
			if !ok {
				return nil, nil, fmt.Errorf("condition %s expects a boolean", key)
			}
			if isNull {
				where = append(where, col+" IS NULL")
			} else {
				where = append(where, col+" IS NOT NULL")
			}
			continue
		}
		args = append(args, value)
	}
	return where, args, nil
}

func (s *SQLStore) query(ctx context.Context, query string, args []any) ([]*document.Document, error) {
	query, args, err := s.bind(query, args)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []*document.Document
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		doc := document.New()
		for i, col := range cols {
			doc.Set(col, columnValue(vals[i], types[i]))
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// columnValue converts a scanned value. Drivers using a text protocol hand
// numeric columns back as bytes; those become numbers again.
func columnValue(v any, ct *sql.ColumnType) document.Value {
	b, ok := v.([]byte)
	if !ok || ct == nil {
		return document.FromNative(v)
	}
	switch strings.ToUpper(ct.DatabaseTypeName()) {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"UNSIGNED INT", "UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED BIGINT",
		"DECIMAL", "NUMERIC", "FLOAT", "DOUBLE", "REAL":
		if n, ok := document.Number(string(b)); ok {
			return n
		}
	}
	return document.FromNative(v)
}

func (s *SQLStore) columns(fields []string, prefix string) (string, error) {
	if len(fields) == 0 {
		return prefix + "*", nil
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		q, err := s.quoteIdent(f)
		if err != nil {
			return "", err
		}
		quoted[i] = prefix + q
	}
	return strings.Join(quoted, ", "), nil
}

// keyValues collects the distinct non-null values of field across docs.
func keyValues(docs []*document.Document, field string) []any {
	seen := make(map[string]bool)
	var out []any
	for _, d := range docs {
		v, ok := d.Get(field)
		if !ok || v.IsNull() {
			continue
		}
		k := v.Text()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v.Native())
	}
	return out
}

func chunks(vals []any, size int) [][]any {
	var out [][]any
	for len(vals) > size {
		out = append(out, vals[:size])
		vals = vals[size:]
	}
	if len(vals) > 0 {
		out = append(out, vals)
	}
	return out
}

func (s *SQLStore) loadRelation(ctx context.Context, model models.ModelDescriptor, rel models.RelationConfig, docs []*document.Document) error {
	switch rel.Kind {
	case models.RelationHasMany, models.RelationHasOne:
		return s.loadChildren(ctx, model, rel, docs)
	case models.RelationBelongsTo:
		return s.loadParent(ctx, rel, docs)
	case models.RelationManyToMany:
		return s.loadJoined(ctx, model, rel, docs)
	default:
		return fmt.Errorf("unsupported relation type %q", rel.Kind)
	}
}

// fetchGrouped runs query once per chunk of keys and groups the rows by
// the parent column, which is removed from the rows.
func (s *SQLStore) fetchGrouped(ctx context.Context, query string, keys []any) (map[string][]*document.Document, error) {
	grouped := make(map[string][]*document.Document)
	for _, chunk := range chunks(keys, inListChunk) {
		rows, err := s.query(ctx, query, []any{chunk})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			parent, _ := row.Get(parentColumn)
			row.Delete(parentColumn)
			grouped[parent.Text()] = append(grouped[parent.Text()], row)
		}
	}
	return grouped, nil
}

func (s *SQLStore) loadChildren(ctx context.Context, model models.ModelDescriptor, rel models.RelationConfig, docs []*document.Document) error {
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = model.PK()
	}
	table, err := s.quoteIdent(rel.Table)
	if err != nil {
		return err
	}
	fk, err := s.quoteIdent(rel.ForeignKey)
	if err != nil {
		return err
	}
	cols, err := s.columns(rel.Fields, "r.")
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT r.%s AS %s, %s FROM %s r WHERE r.%s IN (?) ORDER BY r.%s",
		fk, parentColumn, cols, table, fk, fk)

	grouped, err := s.fetchGrouped(ctx, query, keyValues(docs, localKey))
	if err != nil {
		return err
	}
	for _, d := range docs {
		key, _ := d.Get(localKey)
		children := grouped[key.Text()]
		if key.IsNull() {
			children = nil
		}
		d.Set(rel.Name, embed(rel.Kind, children))
	}
	return nil
}

func (s *SQLStore) loadParent(ctx context.Context, rel models.RelationConfig, docs []*document.Document) error {
	refKey := rel.ReferenceKey
	if refKey == "" {
		refKey = "id"
	}
	table, err := s.quoteIdent(rel.Table)
	if err != nil {
		return err
	}
	ref, err := s.quoteIdent(refKey)
	if err != nil {
		return err
	}
	cols, err := s.columns(rel.Fields, "r.")
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT r.%s AS %s, %s FROM %s r WHERE r.%s IN (?)",
		ref, parentColumn, cols, table, ref)

	grouped, err := s.fetchGrouped(ctx, query, keyValues(docs, rel.ForeignKey))
	if err != nil {
		return err
	}
	for _, d := range docs {
		key, _ := d.Get(rel.ForeignKey)
		var match []*document.Document
		if !key.IsNull() {
			match = grouped[key.Text()]
		}
		d.Set(rel.Name, embed(rel.Kind, match))
	}
	return nil
}

func (s *SQLStore) loadJoined(ctx context.Context, model models.ModelDescriptor, rel models.RelationConfig, docs []*document.Document) error {
	localKey := rel.LocalKey
	if localKey == "" {
		localKey = model.PK()
	}
	targetKey := rel.TargetKey
	if targetKey == "" {
		targetKey = "id"
	}
	table, err := s.quoteIdent(rel.Table)
	if err != nil {
		return err
	}
	join, err := s.quoteIdent(rel.JoinTable)
	if err != nil {
		return err
	}
	fk, err := s.quoteIdent(rel.ForeignKey)
	if err != nil {
		return err
	}
	ref, err := s.quoteIdent(rel.ReferenceKey)
	if err != nil {
		return err
	}
	target, err := s.quoteIdent(targetKey)
	if err != nil {
		return err
	}
	cols, err := s.columns(rel.Fields, "t.")
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT j.%s AS %s, %s FROM %s j JOIN %s t ON j.%s = t.%s WHERE j.%s IN (?) ORDER BY j.%s, t.%s",
		fk, parentColumn, cols, join, table, ref, target, fk, fk, target)

	grouped, err := s.fetchGrouped(ctx, query, keyValues(docs, localKey))
	if err != nil {
		return err
	}
	for _, d := range docs {
		key, _ := d.Get(localKey)
		var match []*document.Document
		if !key.IsNull() {
			match = grouped[key.Text()]
		}
		d.Set(rel.Name, embed(rel.Kind, match))
	}
	return nil
}

// embed shapes related rows: an array for to-many relations, the first
// row or null for to-one relations.
func embed(kind string, rows []*document.Document) document.Value {
	switch kind {
	case models.RelationHasOne, models.RelationBelongsTo:
		if len(rows) == 0 {
			return document.Null()
		}
		return document.Object(rows[0])
	default:
		elems := make([]document.Value, len(rows))
		for i, r := range rows {
			elems[i] = document.Object(r)
		}
		return document.Array(elems...)
	}
}
