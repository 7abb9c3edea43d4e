package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/BartekS5/essync/pkg/models"
)

// registryFile is the layout shared by every registry format: a top-level
// list of model descriptors.
type registryFile struct {
	Models []models.ModelDescriptor `json:"models" toml:"models" yaml:"models"`
}

// LoadRegistry reads the model registry file at path. The format follows
// the extension: .toml, .yaml/.yml or .json.
func LoadRegistry(path string) (*models.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models file '%s': %w", path, err)
	}
	descriptors, err := ParseRegistry(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse models file '%s': %w", path, err)
	}
	return models.NewRegistry(descriptors)
}

// ParseRegistry decodes registry data in the format named by ext.
func ParseRegistry(ext string, data []byte) ([]models.ModelDescriptor, error) {
	var file registryFile
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), &file)
		if err != nil {
			return nil, err
		}
		if unknown := md.Undecoded(); len(unknown) > 0 {
			keys := make([]string, len(unknown))
			for i, k := range unknown {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported models file extension %q", ext)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("no models declared")
	}
	return file.Models, nil
}
