package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/BartekS5/essync/internal/admin"
	"github.com/BartekS5/essync/internal/config"
	"github.com/BartekS5/essync/internal/etl"
	"github.com/BartekS5/essync/internal/report"
	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/database"
	"github.com/BartekS5/essync/pkg/document"
	"github.com/BartekS5/essync/pkg/logger"
	"github.com/BartekS5/essync/pkg/models"
)

// app holds the connections one command works with. Connections are
// opened on first use and closed by close.
type app struct {
	cfg      *config.Config
	registry *models.Registry

	db     *sqlx.DB
	engine *search.Elastic
	mongo  *mongo.Client
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	registry, err := config.LoadRegistry(cfg.ModelsFile)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, registry: registry}, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.mongo.Disconnect(ctx)
	}
}

func (a *app) store() (*etl.SQLStore, error) {
	if a.db == nil {
		if err := a.cfg.RequireSQL(); err != nil {
			return nil, err
		}
		db, err := database.ConnectSQL(a.cfg.SQLDriver, a.cfg.SQLConnString)
		if err != nil {
			return nil, err
		}
		a.db = db
	}
	return etl.NewSQLStore(a.db), nil
}

func (a *app) search() (*search.Elastic, error) {
	if a.engine == nil {
		es, err := database.ConnectElastic(database.ElasticOptions{
			Addresses: a.cfg.ElasticURLs,
			Username:  a.cfg.ElasticUsername,
			Password:  a.cfg.ElasticPassword,
			APIKey:    a.cfg.ElasticAPIKey,
		})
		if err != nil {
			return nil, err
		}
		a.engine = search.NewElastic(es)
	}
	return a.engine, nil
}

// sink reports to MongoDB when configured and always to the log.
func (a *app) sink() (etl.ReportSink, error) {
	if a.cfg.MongoConnString == "" {
		return report.LogSink{}, nil
	}
	if a.mongo == nil {
		client, err := database.ConnectMongo(a.cfg.MongoConnString)
		if err != nil {
			return nil, err
		}
		a.mongo = client
	}
	return report.Multi{
		report.LogSink{},
		report.NewMongoSink(a.mongo, a.cfg.MongoDatabase, a.cfg.ReportCollection),
	}, nil
}

func (a *app) migrator(settings etl.Settings) (*etl.Migrator, error) {
	store, err := a.store()
	if err != nil {
		return nil, err
	}
	engine, err := a.search()
	if err != nil {
		return nil, err
	}
	sink, err := a.sink()
	if err != nil {
		return nil, err
	}
	m := etl.NewMigrator(a.registry, store, engine, settings)
	m.Sink = sink
	return m, nil
}

// service connects the relational store only when needSQL is set.
func (a *app) service(needSQL bool) (*etl.Service, error) {
	engine, err := a.search()
	if err != nil {
		return nil, err
	}
	var store etl.Extractor
	if needSQL {
		if store, err = a.store(); err != nil {
			return nil, err
		}
	}
	return etl.NewService(a.registry, store, engine), nil
}

func (a *app) admin() (*admin.Admin, error) {
	engine, err := a.search()
	if err != nil {
		return nil, err
	}
	return admin.New(a.registry, engine, a.cfg.MappingsDir), nil
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

// parseConditions turns key=value flags into conditions. Values are typed
// as null, booleans or numbers when they read as such; keys ending in _in
// or _nin take a comma separated list.
func parseConditions(pairs []string) (etl.Conditions, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(etl.Conditions, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("condition %q is not key=value", p)
		}
		if strings.HasSuffix(key, "_in") || strings.HasSuffix(key, "_nin") {
			var list []any
			for _, item := range strings.Split(value, ",") {
				if item = strings.TrimSpace(item); item != "" {
					list = append(list, scalar(item))
				}
			}
			if list == nil {
				list = []any{}
			}
			out[key] = list
			continue
		}
		out[key] = scalar(value)
	}
	return out, nil
}

func scalar(s string) any {
	switch s {
	case "null":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// readDocuments loads one document or an array of documents from a JSON
// file, "-" meaning stdin.
func readDocuments(path string) ([]*document.Document, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	v, err := document.ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse data file: %w", err)
	}
	switch v.Kind() {
	case document.KindObject:
		return []*document.Document{v.Doc()}, nil
	case document.KindArray:
		docs := make([]*document.Document, 0, len(v.Elems()))
		for i, e := range v.Elems() {
			if e.Kind() != document.KindObject {
				return nil, fmt.Errorf("data element %d is %s, not an object", i, e.Kind())
			}
			docs = append(docs, e.Doc())
		}
		return docs, nil
	default:
		return nil, fmt.Errorf("data file holds %s, expected object or array", v.Kind())
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printResult prints the value of an OK result and turns the other
// outcomes into errors.
func printResult[T any](w io.Writer, what string, r etl.Result[T]) error {
	switch r.Outcome {
	case etl.OutcomeOK:
		return printJSON(w, r.Value)
	case etl.OutcomeNotFound:
		return fmt.Errorf("%s: not found", what)
	default:
		logger.Errorf("%s: backend error, outcome unknown: %v", what, r.Err)
		return fmt.Errorf("%s: %s: %w", what, r.Outcome, r.Err)
	}
}
