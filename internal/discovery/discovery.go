// Package discovery decides which logical type a linked source database
// holds. An explicit tag on the link wins; otherwise the display name is
// run through a priority-ordered rule table. The result is stored on the
// link and only recomputed on refresh.
package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// ErrUnclassified is returned when no tag or rule identifies a database.
var ErrUnclassified = errors.New("database does not match any logical type")

// Classification is the outcome of classifying one database.
type Classification struct {
	Type   mapping.LogicalType
	Period string
	Rule   string
}

var periods = []struct {
	word   string
	period string
}{
	{"daily", "daily"},
	{"weekly", "weekly"},
	{"monthly", "monthly"},
	{"quarterly", "quarterly"},
	{"yearly", "yearly"},
	{"annual", "yearly"},
}

// Period returns the tracking period named in a database name, or "".
func Period(name string) string {
	name = normalizeName(name)
	for _, p := range periods {
		if strings.Contains(name, p.word) {
			return p.period
		}
	}
	return ""
}

// DatabaseKey is the comparison form of an external database id.
func DatabaseKey(externalID string) string {
	return source.NormalizeID(externalID)
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Classifier evaluates a rule table. Rules can be swapped while in use.
type Classifier struct {
	rules atomic.Pointer[[]Rule]
}

// NewClassifier creates a classifier. Nil rules means DefaultRules.
func NewClassifier(rules []Rule) *Classifier {
	c := &Classifier{}
	if rules == nil {
		rules = DefaultRules()
	}
	c.SetRules(rules)
	return c
}

// SetRules replaces the rule table.
func (c *Classifier) SetRules(rules []Rule) {
	cp := append([]Rule(nil), rules...)
	c.rules.Store(&cp)
}

// Rules returns the current rule table.
func (c *Classifier) Rules() []Rule {
	return *c.rules.Load()
}

// Reload loads path and swaps it in. On error the current rules stay.
func (c *Classifier) Reload(path string) error {
	rules, err := LoadRules(path)
	if err != nil {
		return err
	}
	c.SetRules(rules)
	slog.Info("discovery rules reloaded", "path", path, "rules", len(rules))
	return nil
}

// Classify resolves the logical type of a database from its explicit tag
// or, failing that, its display name.
func (c *Classifier) Classify(tag, displayName string) (Classification, error) {
	name := normalizeName(displayName)
	period := Period(name)

	if strings.TrimSpace(tag) != "" {
		t, err := mapping.ParseLogicalType(tag)
		if err == nil {
			return withPeriod(Classification{Type: t, Rule: "tag"}, period), nil
		}
		slog.Warn("ignoring invalid logical type tag", "tag", tag, "database", displayName)
	}

	for _, r := range c.Rules() {
		if !r.matches(name, period) {
			continue
		}
		t, err := mapping.ParseLogicalType(r.Type)
		if err != nil {
			continue
		}
		rule := r.Name
		if rule == "" {
			rule = r.Type
		}
		return withPeriod(Classification{Type: t, Rule: rule}, period), nil
	}
	return Classification{}, fmt.Errorf("%w: %q", ErrUnclassified, displayName)
}

func withPeriod(c Classification, period string) Classification {
	if c.Type == mapping.Tracking {
		c.Period = period
	}
	return c
}
