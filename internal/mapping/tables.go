package mapping

import (
	"fmt"
	"strings"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// LogicalType is the local category a source database is mirrored as.
type LogicalType string

const (
	People          LogicalType = "people"
	Media           LogicalType = "media"
	Todos           LogicalType = "todos"
	FinancialAssets LogicalType = "financial_assets"
	Tracking        LogicalType = "tracking"
	Places          LogicalType = "places"
)

// AllTypes lists every logical type in a stable order.
func AllTypes() []LogicalType {
	return []LogicalType{People, Media, Todos, FinancialAssets, Tracking, Places}
}

// ParseLogicalType accepts a logical type name, case-insensitively.
func ParseLogicalType(s string) (LogicalType, error) {
	t := LogicalType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tables[t]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown logical type %q", s)
}

// Kind is the storage kind of a canonical column.
type Kind int

const (
	KindText Kind = iota
	KindTextArray
	KindNumber
	KindBool
	KindTimestamp
)

// SQLType returns the PostgreSQL column type for a kind.
func (k Kind) SQLType() string {
	switch k {
	case KindTextArray:
		return "TEXT[]"
	case KindNumber:
		return "DOUBLE PRECISION"
	case KindBool:
		return "BOOLEAN"
	case KindTimestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// Match selects source properties by declared type and, optionally, by
// case-insensitive substrings of the declared name. No keywords means any name.
type Match struct {
	Types    []string
	Keywords []string
}

func (m Match) matches(p source.PropertySchema) bool {
	typeOK := false
	for _, t := range m.Types {
		if t == p.Type {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	if len(m.Keywords) == 0 {
		return true
	}
	name := strings.ToLower(p.Name)
	for _, kw := range m.Keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// Column is a canonical column. A column without matchers is filled by the
// engine rather than from source properties.
type Column struct {
	Name  string
	Kind  Kind
	Match []Match
}

// Derived reports whether the column is never populated from a property.
func (c Column) Derived() bool {
	return len(c.Match) == 0
}

func (c Column) accepts(p source.PropertySchema) bool {
	for _, m := range c.Match {
		if m.matches(p) {
			return true
		}
	}
	return false
}

// Table describes the local table for one logical type. Columns are in
// matching priority order.
type Table struct {
	Type    LogicalType
	Name    string
	Columns []Column
}

// Column looks up a canonical column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Canonical columns every table starts with.
const (
	ColumnName           = "name"
	ColumnSourceAssetURL = "source_asset_url"
	ColumnPeriod         = "period"
)

var imageKeywords = []string{"cover", "image", "photo", "poster", "avatar", "picture", "thumbnail", "logo", "headshot"}

func m(types []string, keywords ...string) Match {
	return Match{Types: types, Keywords: keywords}
}

func types(t ...string) []string { return t }

var (
	text  = types(source.TypeRichText)
	sel   = types(source.TypeSelect)
	dates = types(source.TypeDate, source.TypeFormula)
	nums  = types(source.TypeNumber, source.TypeFormula, source.TypeRollup)
)

func commonColumns() []Column {
	return []Column{
		{Name: ColumnName, Kind: KindText, Match: []Match{m(types(source.TypeTitle))}},
		{Name: ColumnSourceAssetURL, Kind: KindText, Match: []Match{m(types(source.TypeFiles), imageKeywords...)}},
	}
}

func table(t LogicalType, name string, cols ...Column) *Table {
	return &Table{Type: t, Name: name, Columns: append(commonColumns(), cols...)}
}

var tables = map[LogicalType]*Table{
	People: table(People, "people",
		Column{Name: "email", Kind: KindText, Match: []Match{m(types(source.TypeEmail)), m(text, "email", "e-mail")}},
		Column{Name: "phone", Kind: KindText, Match: []Match{m(types(source.TypePhoneNumber)), m(text, "phone", "mobile", "tel")}},
		Column{Name: "company", Kind: KindText, Match: []Match{m(types(source.TypeRichText, source.TypeSelect), "company", "organization", "organisation", "employer", "work")}},
		Column{Name: "job_title", Kind: KindText, Match: []Match{m(types(source.TypeRichText, source.TypeSelect), "title", "role", "position", "job")}},
		Column{Name: "relationship", Kind: KindText, Match: []Match{m(types(source.TypeSelect, source.TypeStatus), "relationship", "relation", "group", "circle", "type")}},
		Column{Name: "birthday", Kind: KindTimestamp, Match: []Match{m(dates, "birth")}},
		Column{Name: "last_contacted", Kind: KindTimestamp, Match: []Match{m(dates, "contact", "last seen", "spoke", "met")}},
		Column{Name: "tags", Kind: KindTextArray, Match: []Match{m(types(source.TypeMultiSelect))}},
		Column{Name: "notes", Kind: KindText, Match: []Match{m(text, "note", "comment", "description", "about", "bio")}},
		Column{Name: "url", Kind: KindText, Match: []Match{m(types(source.TypeURL))}},
	),
	Media: table(Media, "media_items",
		Column{Name: "media_type", Kind: KindText, Match: []Match{m(sel, "type", "format", "medium", "kind", "category")}},
		Column{Name: "rating", Kind: KindNumber, Match: []Match{m(nums, "rating", "score", "stars")}},
		Column{Name: "creator", Kind: KindText, Match: []Match{m(types(source.TypeRichText, source.TypeSelect), "author", "director", "artist", "creator", "studio", "writer")}},
		Column{Name: "genres", Kind: KindTextArray, Match: []Match{m(types(source.TypeMultiSelect), "genre", "tag", "categor")}},
		Column{Name: "release_date", Kind: KindTimestamp, Match: []Match{m(dates, "release", "published", "aired", "year")}},
		Column{Name: "completed_at", Kind: KindTimestamp, Match: []Match{m(dates, "finish", "complet", "watched", "read on", "consumed", "done")}},
		Column{Name: "status", Kind: KindText, Match: []Match{m(types(source.TypeStatus)), m(sel, "status", "state", "progress")}},
		Column{Name: "url", Kind: KindText, Match: []Match{m(types(source.TypeURL))}},
	),
	Todos: table(Todos, "todos",
		Column{Name: "priority", Kind: KindText, Match: []Match{m(types(source.TypeSelect, source.TypeStatus), "priority", "importance", "urgency")}},
		Column{Name: "due_date", Kind: KindTimestamp, Match: []Match{m(dates, "due", "deadline", "scheduled", "when", "date")}},
		Column{Name: "project_ids", Kind: KindTextArray, Match: []Match{m(types(source.TypeRelation), "project", "area", "goal", "epic")}},
		Column{Name: "status", Kind: KindText, Match: []Match{m(types(source.TypeStatus)), m(sel, "status", "state", "stage")}},
		Column{Name: "done", Kind: KindBool, Match: []Match{m(types(source.TypeCheckbox)), m(types(source.TypeFormula), "done", "complete")}},
		Column{Name: "tags", Kind: KindTextArray, Match: []Match{m(types(source.TypeMultiSelect))}},
		Column{Name: "assignees", Kind: KindTextArray, Match: []Match{m(types(source.TypePeople))}},
		Column{Name: "notes", Kind: KindText, Match: []Match{m(text)}},
	),
	FinancialAssets: table(FinancialAssets, "financial_assets",
		Column{Name: "asset_type", Kind: KindText, Match: []Match{m(types(source.TypeSelect, source.TypeStatus), "type", "class", "categor", "kind")}},
		Column{Name: "value", Kind: KindNumber, Match: []Match{m(nums, "value", "balance", "amount", "worth", "price", "total"), m(types(source.TypeNumber))}},
		Column{Name: "currency", Kind: KindText, Match: []Match{m(types(source.TypeSelect, source.TypeRichText), "currency", "ccy")}},
		Column{Name: "institution", Kind: KindText, Match: []Match{m(types(source.TypeRichText, source.TypeSelect), "institution", "bank", "broker", "account", "provider", "platform")}},
		Column{Name: "as_of", Kind: KindTimestamp, Match: []Match{m(types(source.TypeDate, source.TypeFormula, source.TypeLastEditedTime), "date", "as of", "updated", "valuation")}},
		Column{Name: "notes", Kind: KindText, Match: []Match{m(text, "note", "comment", "description")}},
	),
	Tracking: table(Tracking, "tracking_entries",
		Column{Name: ColumnPeriod, Kind: KindText},
		Column{Name: "value", Kind: KindNumber, Match: []Match{m(nums, "value", "amount", "count", "score", "total", "minutes", "hours", "weight", "steps"), m(types(source.TypeNumber))}},
		Column{Name: "category", Kind: KindText, Match: []Match{m(types(source.TypeSelect, source.TypeStatus), "categor", "type", "habit", "metric", "area")}},
		Column{Name: "entry_date", Kind: KindTimestamp, Match: []Match{m(types(source.TypeDate)), m(types(source.TypeFormula), "date", "day"), m(types(source.TypeCreatedTime))}},
		Column{Name: "completed", Kind: KindBool, Match: []Match{m(types(source.TypeCheckbox)), m(types(source.TypeFormula), "done", "complete")}},
		Column{Name: "notes", Kind: KindText, Match: []Match{m(text)}},
	),
	Places: table(Places, "places",
		Column{Name: "address", Kind: KindText, Match: []Match{m(text, "address", "location", "street")}},
		Column{Name: "city", Kind: KindText, Match: []Match{m(types(source.TypeRichText, source.TypeSelect), "city", "town")}},
		Column{Name: "country", Kind: KindText, Match: []Match{m(types(source.TypeRichText, source.TypeSelect), "country", "nation")}},
		Column{Name: "category", Kind: KindText, Match: []Match{m(sel, "type", "categor", "kind", "cuisine")}},
		Column{Name: "rating", Kind: KindNumber, Match: []Match{m(nums, "rating", "score", "stars")}},
		Column{Name: "visited", Kind: KindBool, Match: []Match{m(types(source.TypeCheckbox))}},
		Column{Name: "url", Kind: KindText, Match: []Match{m(types(source.TypeURL))}},
	),
}

// TableFor returns the table descriptor of a logical type.
func TableFor(t LogicalType) (*Table, error) {
	tbl, ok := tables[t]
	if !ok {
		return nil, fmt.Errorf("unknown logical type %q", t)
	}
	return tbl, nil
}

// Tables returns every table descriptor in AllTypes order.
func Tables() []*Table {
	out := make([]*Table, 0, len(tables))
	for _, t := range AllTypes() {
		out = append(out, tables[t])
	}
	return out
}
