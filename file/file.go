// Package file persists routing configurations and capture logs.
//
// Profiles are stored as YAML (.yaml/.yml) or JSON (.json). Either form is
// validated against the same schema as the CFG: payload before use.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/CK6170/routematrix-web/models"
)

// ErrInvalidName rejects profile names that would escape the profile
// directory.
var ErrInvalidName = errors.New("invalid profile name")

// Format selects the on-disk encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf infers the format from a file name, defaulting to YAML.
func FormatOf(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// ProfilePath maps a bare profile name to a file under dir. A name without
// extension gets ".yaml".
func ProfilePath(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\:`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
	default:
		name += ".yaml"
	}
	return filepath.Join(dir, name), nil
}

// Encode renders cfg in format.
func Encode(cfg *models.Config, format Format) ([]byte, error) {
	if format == FormatJSON {
		return json.MarshalIndent(cfg, "", "  ")
	}
	return yaml.Marshal(cfg)
}

// Decode parses a YAML or JSON document and validates it. YAML is a
// superset of JSON, so the YAML decoder reads both; the result then goes
// through models.Parse for schema and invariant checks.
func Decode(data []byte) (*models.Config, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return models.Parse(raw)
}

// SaveProfile writes cfg under dir and returns the file path.
func SaveProfile(dir, name string, cfg *models.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	path, err := ProfilePath(dir, name)
	if err != nil {
		return "", err
	}
	data, err := Encode(cfg, FormatOf(path))
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write profile: %w", err)
	}
	return path, nil
}

// LoadProfile reads and validates a profile saved under dir.
func LoadProfile(dir, name string) (*models.Config, error) {
	path, err := ProfilePath(dir, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// ListProfiles returns the profile file names in dir, sorted. A missing
// directory yields no profiles.
func ListProfiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// AppendToFile appends content + newline to file, creating it if it does not
// exist.
func AppendToFile(file, content string) error {
	f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", file, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.WriteString(content + "\n"); err != nil {
		return fmt.Errorf("append %s: %w", file, err)
	}
	return nil
}
