// Package config loads optional settings from .spp/settings.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/explain"
)

// DefaultPath is where settings are looked up when no path is given.
var DefaultPath = filepath.Join(".spp", "settings.yaml")

// Settings holds the file-based configuration. Environment variables read by
// the binaries take precedence over it.
type Settings struct {
	// Attributes replace or extend the default attribute table by name.
	Attributes []explain.Attribute `yaml:"attributes"`
	Server     Server              `yaml:"server"`
	Classifier Classifier          `yaml:"classifier"`
	Model      Model               `yaml:"model"`
}

// Server configures the HTTP backend.
type Server struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Workers        int      `yaml:"workers"`
	DBPath         string   `yaml:"db_path"`
}

// Classifier points at a remote model server.
type Classifier struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// Model points at a dump file loaded on start. With Watch set the server
// reloads it whenever the file changes.
type Model struct {
	Path  string `yaml:"path"`
	Name  string `yaml:"name"`
	Watch bool   `yaml:"watch"`
}

// Load reads settings from path, or DefaultPath when path is empty.
// Returns nil (not an error) if the file does not exist.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	for i, a := range s.Attributes {
		if a.Name == "" {
			return nil, fmt.Errorf("%s: attribute %d has no name", path, i)
		}
	}
	return &s, nil
}

// AttributeTable returns the default table with the configured attributes
// applied. Safe to call on a nil *Settings receiver.
func (s *Settings) AttributeTable() *explain.AttributeTable {
	table := explain.DefaultAttributes()
	if s == nil || len(s.Attributes) == 0 {
		return table
	}
	return table.With(s.Attributes...)
}
