package staging

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"smr/internal/errs"
)

//go:embed columns.yaml
var defaultColumns []byte

// Column names a layout can carry
const (
	ColumnArtist = "artist"
	ColumnTitle  = "title"
	ColumnSpins  = "spins"
	ColumnAdds   = "adds"
)

// ColumnRule is one entry of the column alias table
type ColumnRule struct {
	Name     string   `yaml:"name"`
	Required bool     `yaml:"required"`
	Contains []string `yaml:"contains"`
}

type columnFile struct {
	Columns []ColumnRule `yaml:"columns"`
}

// Layout holds the zero-based index of each column; -1 means absent
type Layout struct {
	Artist int `json:"artist"`
	Title  int `json:"title"`
	Spins  int `json:"spins"`
	Adds   int `json:"adds"`
}

// SchemaDetector maps a header row to a Layout or refuses it
type SchemaDetector interface {
	Detect(header []string) (Layout, error)
}

// HeaderDetector matches header cells against token rules
type HeaderDetector struct {
	rules []ColumnRule
}

// NewHeaderDetector builds a detector from a YAML rule table
func NewHeaderDetector(raw []byte) (*HeaderDetector, error) {
	var file columnFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse column rules: %w", err)
	}

	seen := make(map[string]bool)
	for i, rule := range file.Columns {
		switch rule.Name {
		case ColumnArtist, ColumnTitle, ColumnSpins, ColumnAdds:
		default:
			return nil, fmt.Errorf("column rule %d: unknown column %q", i, rule.Name)
		}
		if seen[rule.Name] {
			return nil, fmt.Errorf("column rule %d: duplicate column %q", i, rule.Name)
		}
		if len(rule.Contains) == 0 {
			return nil, fmt.Errorf("column rule %q has no tokens", rule.Name)
		}
		for j, token := range rule.Contains {
			file.Columns[i].Contains[j] = strings.ToLower(strings.TrimSpace(token))
		}
		seen[rule.Name] = true
	}
	for _, name := range []string{ColumnArtist, ColumnTitle, ColumnSpins} {
		if !seen[name] {
			return nil, fmt.Errorf("column rules must define %q", name)
		}
	}

	return &HeaderDetector{rules: file.Columns}, nil
}

// DefaultDetector returns the detector for the built-in rule table
func DefaultDetector() *HeaderDetector {
	d, err := NewHeaderDetector(defaultColumns)
	if err != nil {
		panic(err)
	}
	return d
}

// Detect assigns header cells to columns. Missing required columns fail closed.
func (d *HeaderDetector) Detect(header []string) (Layout, error) {
	layout := Layout{Artist: -1, Title: -1, Spins: -1, Adds: -1}
	used := make(map[int]bool, len(header))
	var missing []string

	for _, rule := range d.rules {
		idx := -1
		for i, cell := range header {
			if used[i] {
				continue
			}
			if matchesAny(strings.ToLower(strings.TrimSpace(cell)), rule.Contains) {
				idx = i
				break
			}
		}
		if idx >= 0 {
			used[idx] = true
		} else if rule.Required {
			missing = append(missing, rule.Name)
		}
		layout.set(rule.Name, idx)
	}

	if len(missing) > 0 {
		return layout, errs.SchemaDetection("staging.Detect", missing).WithMeta("header", header)
	}
	return layout, nil
}

func (l *Layout) set(name string, idx int) {
	switch name {
	case ColumnArtist:
		l.Artist = idx
	case ColumnTitle:
		l.Title = idx
	case ColumnSpins:
		l.Spins = idx
	case ColumnAdds:
		l.Adds = idx
	}
}

func matchesAny(cell string, tokens []string) bool {
	if cell == "" {
		return false
	}
	for _, t := range tokens {
		if strings.Contains(cell, t) {
			return true
		}
	}
	return false
}
