// Package config loads the application settings from the environment and
// the model registry from its file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BartekS5/essync/internal/etl"
	"github.com/BartekS5/essync/pkg/database"
)

const (
	DefaultSQLDriver        = database.DriverSQLServer
	DefaultElasticURL       = "http://localhost:9200"
	DefaultModelsFile       = "configs/models.toml"
	DefaultMappingsDir      = "configs/mappings"
	DefaultMongoDatabase    = "mydb"
	DefaultReportCollection = "migration_reports"
)

// Config holds all configuration for the application, loaded from
// environment variables (populated from .env in main.go).
type Config struct {
	SQLDriver     string
	SQLConnString string

	ElasticURLs     []string
	ElasticUsername string
	ElasticPassword string
	ElasticAPIKey   string

	ModelsFile  string
	MappingsDir string

	PageSize            int
	RemoveExistingIndex bool
	FailOnItemErrors    bool

	LogFile  string
	LogLevel string

	// MongoConnString enables the MongoDB report sink when set.
	MongoConnString  string
	MongoDatabase    string
	ReportCollection string
}

// Settings returns the migration settings part of the configuration.
func (c *Config) Settings() etl.Settings {
	return etl.Settings{
		PageSize:            c.PageSize,
		RemoveExistingIndex: c.RemoveExistingIndex,
		FailOnItemErrors:    c.FailOnItemErrors,
	}
}

// RequireSQL reports a missing connection string. Commands that never
// touch the relational store run without one.
func (c *Config) RequireSQL() error {
	if c.SQLConnString == "" {
		return errors.New("SQL_CONNECTION_STRING environment variable not set")
	}
	return nil
}

// LoadConfig loads application settings from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		SQLDriver:        getenv("SQL_DRIVER", DefaultSQLDriver),
		SQLConnString:    os.Getenv("SQL_CONNECTION_STRING"),
		ElasticURLs:      splitList(getenv("ELASTICSEARCH_URLS", DefaultElasticURL)),
		ElasticUsername:  os.Getenv("ELASTICSEARCH_USERNAME"),
		ElasticPassword:  os.Getenv("ELASTICSEARCH_PASSWORD"),
		ElasticAPIKey:    os.Getenv("ELASTICSEARCH_API_KEY"),
		ModelsFile:       getenv("MODELS_FILE", DefaultModelsFile),
		MappingsDir:      getenv("MAPPINGS_DIR", DefaultMappingsDir),
		LogFile:          os.Getenv("LOG_FILE"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		MongoConnString:  os.Getenv("MONGO_CONNECTION_STRING"),
		MongoDatabase:    getenv("MONGO_DATABASE", DefaultMongoDatabase),
		ReportCollection: getenv("MONGO_REPORT_COLLECTION", DefaultReportCollection),
	}

	if !database.SupportedDriver(cfg.SQLDriver) {
		return nil, fmt.Errorf("SQL_DRIVER %q is not supported", cfg.SQLDriver)
	}
	if len(cfg.ElasticURLs) == 0 {
		return nil, errors.New("ELASTICSEARCH_URLS must list at least one address")
	}

	var err error
	if cfg.PageSize, err = intEnv("IMPORT_PAGE_SIZE", etl.DefaultPageSize); err != nil {
		return nil, err
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("IMPORT_PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}
	if cfg.RemoveExistingIndex, err = boolEnv("REMOVE_EXISTING_INDEX_BEFORE_MIGRATION"); err != nil {
		return nil, err
	}
	if cfg.FailOnItemErrors, err = boolEnv("FAIL_ON_ITEM_ERRORS"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
