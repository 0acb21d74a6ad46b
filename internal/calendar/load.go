package calendar

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tazhate/worldcal/internal/domain"
)

//go:embed presets/*.yaml
var presets embed.FS

// Parse decodes a YAML calendar definition and builds its engine.
func Parse(data []byte) (*Engine, error) {
	var def domain.CalendarDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &domain.Error{Kind: domain.KindConfig, Op: "parse calendar", Err: err}
	}
	return New(def)
}

// LoadFile reads and parses one definition file.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calendar %s: %w", path, err)
	}
	e, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return e, nil
}

// Builtin returns the embedded preset calendars ordered by id.
func Builtin() ([]*Engine, error) {
	entries, err := fs.ReadDir(presets, "presets")
	if err != nil {
		return nil, err
	}
	out := make([]*Engine, 0, len(entries))
	for _, entry := range entries {
		data, err := presets.ReadFile("presets/" + entry.Name())
		if err != nil {
			return nil, err
		}
		e, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("preset %s: %w", entry.Name(), err)
		}
		out = append(out, e)
	}
	sortByID(out)
	return out, nil
}

// LoadDir parses every *.yaml and *.yml file in dir. A missing directory
// yields no calendars. Duplicate ids are a configuration error.
func LoadDir(dir string) ([]*Engine, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read calendar dir: %w", err)
	}
	var out []*Engine
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !IsDefinitionFile(entry.Name()) {
			continue
		}
		e, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[e.ID()]; ok {
			return nil, domain.ConfigError("load calendars", fmt.Sprintf("calendar id %q defined in %s and %s", e.ID(), prev, entry.Name()))
		}
		seen[e.ID()] = entry.Name()
		out = append(out, e)
	}
	sortByID(out)
	return out, nil
}

// LoadAll returns the presets merged with the calendars in dir; files in
// dir replace presets with the same id.
func LoadAll(dir string) ([]*Engine, error) {
	builtin, err := Builtin()
	if err != nil {
		return nil, err
	}
	var custom []*Engine
	if dir != "" {
		if custom, err = LoadDir(dir); err != nil {
			return nil, err
		}
	}
	byID := make(map[string]*Engine, len(builtin)+len(custom))
	for _, e := range builtin {
		byID[e.ID()] = e
	}
	for _, e := range custom {
		byID[e.ID()] = e
	}
	out := make([]*Engine, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sortByID(out)
	return out, nil
}

// IsDefinitionFile reports whether name looks like a calendar definition.
func IsDefinitionFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func sortByID(es []*Engine) {
	sort.Slice(es, func(i, j int) bool { return es[i].ID() < es[j].ID() })
}
