package mapping

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

func mustTable(t *testing.T, lt LogicalType) *Table {
	t.Helper()
	tbl, err := TableFor(lt)
	require.NoError(t, err)
	return tbl
}

func decodePage(t *testing.T, raw string) *source.Page {
	t.Helper()
	var page source.Page
	require.NoError(t, json.Unmarshal([]byte(raw), &page))
	return &page
}

var todoSchema = source.Schema{
	{Key: "Task", Name: "Task", Type: source.TypeTitle},
	{Key: "Priority", Name: "Priority", Type: source.TypeSelect},
	{Key: "Status", Name: "Status", Type: source.TypeStatus},
	{Key: "Urgency", Name: "Urgency Level", Type: source.TypeSelect},
	{Key: "Due", Name: "Due", Type: source.TypeDate},
	{Key: "Done", Name: "Done", Type: source.TypeCheckbox},
	{Key: "Tags", Name: "Tags", Type: source.TypeMultiSelect},
	{Key: "Estimate", Name: "Estimate", Type: source.TypeNumber},
	{Key: "Button", Name: "Button", Type: "button"},
}

const todoPage = `{
	"id": "r1",
	"last_edited_time": "2024-05-02T10:00:00.000Z",
	"properties": {
		"Task": {"type": "title", "title": [{"plain_text": "Write report"}]},
		"Priority": {"type": "select", "select": {"name": "High"}},
		"Status": {"type": "status", "status": {"name": "In progress"}},
		"Urgency": {"type": "select", "select": {"name": "Low"}},
		"Due": {"type": "date", "date": {"start": "2024-05-01"}},
		"Done": {"type": "checkbox", "checkbox": true},
		"Tags": {"type": "multi_select", "multi_select": [{"name": "work"}]},
		"Estimate": {"type": "number", "number": 3},
		"Button": {"type": "button", "button": {}}
	}
}`

func TestPlanAssignsColumnsInDeclarationOrder(t *testing.T) {
	plan := NewPlan(mustTable(t, Todos), todoSchema)

	tests := []struct {
		key    string
		column string
	}{
		{"Task", "name"},
		{"Priority", "priority"},
		{"Status", "status"},
		{"Due", "due_date"},
		{"Done", "done"},
		{"Tags", "tags"},
	}
	for _, tt := range tests {
		col, ok := plan.ColumnFor(tt.key)
		require.True(t, ok, tt.key)
		assert.Equal(t, tt.column, col.Name, tt.key)
	}

	_, ok := plan.ColumnFor("Urgency")
	assert.False(t, ok, "priority is already claimed by an earlier property")
	_, ok = plan.ColumnFor("Estimate")
	assert.False(t, ok)
}

func TestMapIsTotal(t *testing.T) {
	plan := NewPlan(mustTable(t, Todos), todoSchema)
	rec := plan.Map(decodePage(t, todoPage))

	assert.Equal(t, "r1", rec.ExternalID)
	assert.Equal(t, "Write report", rec.Name())
	assert.Equal(t, "High", rec.Columns["priority"])
	assert.Equal(t, "In progress", rec.Columns["status"])
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), rec.Columns["due_date"])
	assert.Equal(t, true, rec.Columns["done"])
	assert.Equal(t, []string{"work"}, rec.Columns["tags"])
	require.NotNil(t, rec.SourceUpdatedAt)
	assert.Equal(t, 2024, rec.SourceUpdatedAt.Year())

	assert.Equal(t, OverflowEntry{Type: "select", Name: "Urgency Level", Value: "Low"}, rec.Overflow["Urgency"])
	assert.Equal(t, OverflowEntry{Type: "number", Name: "Estimate", Value: 3.0}, rec.Overflow["Estimate"])
	assert.Equal(t, OverflowEntry{Type: "button", Name: "Button", Value: nil}, rec.Overflow["Button"])

	for _, prop := range todoSchema {
		col, assigned := plan.ColumnFor(prop.Key)
		_, inOverflow := rec.Overflow[prop.Key]
		inColumn := false
		if assigned {
			_, inColumn = rec.Columns[col.Name]
		}
		assert.True(t, inColumn != inOverflow, "property %q must land in exactly one place", prop.Key)
	}
}

func TestTitleAlwaysWinsName(t *testing.T) {
	schema := source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeRichText},
		{Key: "Person", Name: "Person", Type: source.TypeTitle},
	}
	plan := NewPlan(mustTable(t, People), schema)
	rec := plan.Map(decodePage(t, `{"id": "p", "properties": {
		"Name": {"type": "rich_text", "rich_text": [{"plain_text": "nick"}]},
		"Person": {"type": "title", "title": [{"plain_text": "Ada Lovelace"}]}
	}}`))

	assert.Equal(t, "Ada Lovelace", rec.Name())
	assert.Equal(t, "nick", rec.Overflow["Name"].Value)
}

func TestMapFallsBackToOverflowWhenCoercionFails(t *testing.T) {
	schema := source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeTitle},
		{Key: "Birthday", Name: "Birthday", Type: source.TypeFormula},
	}
	plan := NewPlan(mustTable(t, People), schema)
	col, ok := plan.ColumnFor("Birthday")
	require.True(t, ok)
	assert.Equal(t, "birthday", col.Name)

	rec := plan.Map(decodePage(t, `{"id": "p", "properties": {
		"Name": {"type": "title", "title": [{"plain_text": "Ada"}]},
		"Birthday": {"type": "formula", "formula": {"type": "string", "string": "sometime in spring"}}
	}}`))

	_, inColumn := rec.Columns["birthday"]
	assert.False(t, inColumn)
	assert.Equal(t, "sometime in spring", rec.Overflow["Birthday"].Value)
}

func TestMapAssetSourceSelection(t *testing.T) {
	schema := source.Schema{
		{Key: "Title", Name: "Title", Type: source.TypeTitle},
		{Key: "Poster", Name: "Poster Image", Type: source.TypeFiles},
	}
	plan := NewPlan(mustTable(t, Media), schema)

	tests := []struct {
		name string
		raw  string
		want any
	}{
		{
			name: "files property",
			raw: `{"id": "m1",
				"cover": {"type": "external", "external": {"url": "https://cdn/cover.jpg"}},
				"properties": {"Poster": {"type": "files", "files": [{"type": "file", "file": {"url": "https://files/p.png?x=1"}}]}}}`,
			want: "https://files/p.png?x=1",
		},
		{
			name: "page cover",
			raw: `{"id": "m2",
				"cover": {"type": "external", "external": {"url": "https://cdn/cover.jpg"}},
				"properties": {"Poster": {"type": "files", "files": []}}}`,
			want: "https://cdn/cover.jpg",
		},
		{
			name: "page icon",
			raw: `{"id": "m3",
				"icon": {"type": "file", "file": {"url": "https://files/icon.png"}},
				"properties": {}}`,
			want: "https://files/icon.png",
		},
		{
			name: "emoji icon only",
			raw:  `{"id": "m4", "icon": {"type": "emoji", "emoji": "🎬"}, "properties": {}}`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := plan.Map(decodePage(t, tt.raw))
			assert.Equal(t, tt.want, rec.Columns[ColumnSourceAssetURL])
		})
	}
}

func TestMapKeepsPropertiesMissingFromSchema(t *testing.T) {
	plan := NewPlan(mustTable(t, Places), source.Schema{{Key: "Name", Name: "Name", Type: source.TypeTitle}})
	rec := plan.Map(decodePage(t, `{"id": "x", "properties": {
		"Name": {"type": "title", "title": [{"plain_text": "Cafe"}]},
		"Added Later": {"type": "rich_text", "rich_text": [{"plain_text": "new"}]}
	}}`))

	assert.Equal(t, OverflowEntry{Type: "rich_text", Name: "Added Later", Value: "new"}, rec.Overflow["Added Later"])
}

func TestPlanIsRederivedFromSchema(t *testing.T) {
	tbl := mustTable(t, Todos)
	before := NewPlan(tbl, source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeTitle},
		{Key: "p", Name: "Level", Type: source.TypeSelect},
	})
	_, ok := before.ColumnFor("p")
	assert.False(t, ok)

	after := NewPlan(tbl, source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeTitle},
		{Key: "p", Name: "Priority Level", Type: source.TypeSelect},
	})
	col, ok := after.ColumnFor("p")
	require.True(t, ok)
	assert.Equal(t, "priority", col.Name)
}

func TestUnknownTypes(t *testing.T) {
	assert.Equal(t, []string{"Button"}, UnknownTypes(todoSchema))
	assert.Empty(t, UnknownTypes(source.Schema{{Key: "Name", Type: source.TypeTitle}}))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
		want any
		ok   bool
	}{
		{"nil is null", nil, KindNumber, nil, true},
		{"text", "x", KindText, "x", true},
		{"text from list", []string{"a", "b"}, KindText, "a", true},
		{"text from empty list", []string{}, KindText, nil, true},
		{"text from number", 2.5, KindText, "2.5", true},
		{"array from string", "a", KindTextArray, []string{"a"}, true},
		{"number from string", " 12.5 ", KindNumber, 12.5, true},
		{"number from junk", "lots", KindNumber, nil, false},
		{"bool from string", "true", KindBool, true, true},
		{"bool from number", 1.0, KindBool, nil, false},
		{"timestamp", "2024-01-02T03:04:05.000+02:00", KindTimestamp, time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC), true},
		{"timestamp from junk", "soon", KindTimestamp, nil, false},
		{"timestamp date only", "2024-01-02", KindTimestamp, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"timestamp minute precision", "2024-01-02T03:04", KindTimestamp, time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC), true},
		{"timestamp spelled out", "Jan 2, 2024", KindTimestamp, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), true},
		{"array from mixed list", []any{"a", "b"}, KindTextArray, []string{"a", "b"}, true},
		{"number from blank", "  ", KindNumber, nil, false},
		{"bool from blank", "", KindBool, nil, false},
		{"bool into text column", true, KindText, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := coerce(tt.in, tt.kind)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTablesDeclareLocalColumns(t *testing.T) {
	want := map[LogicalType][]string{
		People:          {"email", "phone", "company", "job_title", "relationship", "birthday", "last_contacted", "tags", "notes", "url"},
		Media:           {"media_type", "status", "rating", "creator", "genres", "release_date", "completed_at", "url"},
		Todos:           {"status", "done", "priority", "due_date", "tags", "assignees", "project_ids", "notes"},
		FinancialAssets: {"asset_type", "value", "currency", "institution", "as_of", "notes"},
		Tracking:        {"period", "entry_date", "value", "category", "completed", "notes"},
		Places:          {"address", "city", "country", "category", "visited", "rating", "url"},
	}
	for lt, cols := range want {
		tbl := mustTable(t, lt)
		var got []string
		for _, c := range tbl.Columns {
			if c.Name == ColumnName || c.Name == ColumnSourceAssetURL {
				continue
			}
			got = append(got, c.Name)
		}
		assert.ElementsMatch(t, cols, got, string(lt))
	}
}

func TestParseLogicalType(t *testing.T) {
	lt, err := ParseLogicalType(" Media ")
	require.NoError(t, err)
	assert.Equal(t, Media, lt)

	_, err = ParseLogicalType("recipes")
	assert.Error(t, err)
}
