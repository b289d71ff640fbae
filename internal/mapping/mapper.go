// Package mapping assigns source properties to canonical local columns.
//
// Assignment is derived from the live schema on every pass: each property,
// in declaration order, claims the first canonical column whose matchers
// accept it and that no earlier property has claimed. Properties that claim
// nothing, or whose value cannot be coerced into the claimed column, land in
// the overflow bucket under their original key. Nothing is dropped.
package mapping

import (
	"sort"
	"time"

	"github.com/vonshlovens/notionsync-pg/internal/extract"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// OverflowEntry is a property value kept outside the canonical columns.
type OverflowEntry struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Record is one source page mapped onto a table's columns.
type Record struct {
	ExternalID      string
	Columns         map[string]any
	Overflow        map[string]OverflowEntry
	SourceUpdatedAt *time.Time
}

// Name returns the mapped name column, or "".
func (r *Record) Name() string {
	s, _ := r.Columns[ColumnName].(string)
	return s
}

// SourceAssetURL returns the transient asset URL chosen for the record, or "".
func (r *Record) SourceAssetURL() string {
	s, _ := r.Columns[ColumnSourceAssetURL].(string)
	return s
}

// Plan is the column assignment of one schema onto one table.
type Plan struct {
	Table  *Table
	Schema source.Schema

	byProperty map[string]Column
	byColumn   map[string]source.PropertySchema
}

// NewPlan assigns schema properties to the table's canonical columns.
func NewPlan(tbl *Table, schema source.Schema) *Plan {
	p := &Plan{
		Table:      tbl,
		Schema:     schema,
		byProperty: make(map[string]Column),
		byColumn:   make(map[string]source.PropertySchema),
	}
	for _, prop := range schema {
		// Title-typed properties only ever match the name column, so the
		// first one always wins it whatever it is called.
		for _, col := range tbl.Columns {
			if _, taken := p.byColumn[col.Name]; taken {
				continue
			}
			if col.accepts(prop) {
				p.byProperty[prop.Key] = col
				p.byColumn[col.Name] = prop
				break
			}
		}
	}
	return p
}

// ColumnFor returns the column a property was assigned to.
func (p *Plan) ColumnFor(key string) (Column, bool) {
	c, ok := p.byProperty[key]
	return c, ok
}

// PropertyFor returns the property assigned to a column.
func (p *Plan) PropertyFor(column string) (source.PropertySchema, bool) {
	prop, ok := p.byColumn[column]
	return prop, ok
}

// Map extracts and places every property of page.
func (p *Plan) Map(page *source.Page) Record {
	rec := Record{
		ExternalID: source.CanonicalID(page.ID),
		Columns:    make(map[string]any, len(p.byColumn)),
		Overflow:   make(map[string]OverflowEntry),
	}
	if t, ok := parseTime(page.LastEditedTime); ok {
		rec.SourceUpdatedAt = &t
	}

	for _, prop := range p.Schema {
		raw := page.Properties[prop.Key]
		value := extract.Extract(raw, prop.Type)
		if col, ok := p.byProperty[prop.Key]; ok {
			if coerced, ok := coerce(value, col.Kind); ok {
				rec.Columns[col.Name] = coerced
				continue
			}
		}
		rec.Overflow[prop.Key] = OverflowEntry{Type: prop.Type, Name: prop.Name, Value: value}
	}

	// Properties present on the page but missing from the schema snapshot
	// (added between the schema read and the query) go to overflow too.
	var extra []string
	for key := range page.Properties {
		if _, ok := p.Schema.Lookup(key); !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		raw := page.Properties[key]
		rec.Overflow[key] = OverflowEntry{Type: raw.Type, Name: key, Value: extract.Extract(raw, raw.Type)}
	}

	if rec.Columns[ColumnSourceAssetURL] == nil {
		if u := page.Cover.URL(); u != "" {
			rec.Columns[ColumnSourceAssetURL] = u
		} else if u := page.Icon.URL(); u != "" {
			rec.Columns[ColumnSourceAssetURL] = u
		}
	}
	return rec
}

// UnknownTypes lists the keys of properties whose declared type the
// extractor has no rule for.
func UnknownTypes(schema source.Schema) []string {
	var keys []string
	for _, prop := range schema {
		if !extract.IsKnownType(prop.Type) {
			keys = append(keys, prop.Key)
		}
	}
	return keys
}
