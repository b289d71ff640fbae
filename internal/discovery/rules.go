package discovery

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
)

// Rule maps database display names to a logical type. A rule matches when
// any Contains substring or any Glob pattern matches the normalized name,
// and, if RequirePeriod is set, the name also names a tracking period.
type Rule struct {
	Name          string   `yaml:"name,omitempty"`
	Type          string   `yaml:"type"`
	Contains      []string `yaml:"contains,omitempty"`
	Glob          []string `yaml:"glob,omitempty"`
	RequirePeriod bool     `yaml:"require_period,omitempty"`
}

// RulesFile is the on-disk form of a rule table.
type RulesFile struct {
	ReplaceDefaults bool   `yaml:"replace_defaults"`
	Rules           []Rule `yaml:"rules"`
}

// DefaultRules is the built-in rule table in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "periodic-tracking", Type: string(mapping.Tracking), Contains: []string{"track"}, RequirePeriod: true},
		{Name: "people", Type: string(mapping.People), Contains: []string{"people", "contacts", "contact list", "crm", "friends", "network"}},
		{Name: "media", Type: string(mapping.Media), Contains: []string{"media", "books", "movies", "films", "reading list", "watchlist", "watch list", "shows", "games"}},
		{Name: "todos", Type: string(mapping.Todos), Contains: []string{"todo", "to-do", "to do", "tasks", "task list", "checklist"}},
		{Name: "tracking", Type: string(mapping.Tracking), Contains: []string{"tracking", "tracker", "habit"}},
		{Name: "financial-assets", Type: string(mapping.FinancialAssets), Contains: []string{"asset", "net worth", "investment", "portfolio", "accounts"}},
		{Name: "places", Type: string(mapping.Places), Contains: []string{"place", "locations", "travel", "restaurants"}},
	}
}

func (r Rule) validate() error {
	if _, err := mapping.ParseLogicalType(r.Type); err != nil {
		return err
	}
	if len(r.Contains) == 0 && len(r.Glob) == 0 {
		return fmt.Errorf("rule %q has neither contains nor glob", r.Name)
	}
	for _, g := range r.Glob {
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("rule %q: invalid glob %q", r.Name, g)
		}
	}
	return nil
}

func (r Rule) matches(name, period string) bool {
	if r.RequirePeriod && period == "" {
		return false
	}
	for _, s := range r.Contains {
		if strings.Contains(name, strings.ToLower(s)) {
			return true
		}
	}
	for _, g := range r.Glob {
		if ok, _ := doublestar.Match(strings.ToLower(g), name); ok {
			return true
		}
	}
	return false
}

// LoadRules reads a rules file. Its rules are evaluated before the
// defaults unless replace_defaults is set.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a rules document.
func ParseRules(data []byte) ([]Rule, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	for i, r := range file.Rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	if file.ReplaceDefaults {
		return file.Rules, nil
	}
	return append(file.Rules, DefaultRules()...), nil
}
