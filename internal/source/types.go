package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Declared property types understood by the extractor. Anything else is
// carried through as an unknown type and normalizes to nil.
const (
	TypeTitle          = "title"
	TypeRichText       = "rich_text"
	TypeSelect         = "select"
	TypeStatus         = "status"
	TypeMultiSelect    = "multi_select"
	TypeDate           = "date"
	TypeNumber         = "number"
	TypeCheckbox       = "checkbox"
	TypePeople         = "people"
	TypeRelation       = "relation"
	TypeFormula        = "formula"
	TypeRollup         = "rollup"
	TypeURL            = "url"
	TypeEmail          = "email"
	TypePhoneNumber    = "phone_number"
	TypeFiles          = "files"
	TypeCreatedTime    = "created_time"
	TypeLastEditedTime = "last_edited_time"
	TypeCreatedBy      = "created_by"
	TypeLastEditedBy   = "last_edited_by"
	TypeUniqueID       = "unique_id"
)

// RichText is a single run of text.
type RichText struct {
	Type      string  `json:"type,omitempty"`
	PlainText string  `json:"plain_text"`
	Href      *string `json:"href,omitempty"`
}

// Option is a select, status or multi-select choice.
type Option struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// DateValue is a date or date range.
type DateValue struct {
	Start    string  `json:"start"`
	End      *string `json:"end,omitempty"`
	TimeZone *string `json:"time_zone,omitempty"`
}

// User is a workspace member or bot reference.
type User struct {
	Object string `json:"object,omitempty"`
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Person *struct {
		Email string `json:"email"`
	} `json:"person,omitempty"`
}

// Reference points at another page.
type Reference struct {
	ID string `json:"id"`
}

// HostedFile is a file uploaded to the source; its URL expires.
type HostedFile struct {
	URL        string `json:"url"`
	ExpiryTime string `json:"expiry_time,omitempty"`
}

// ExternalFile is a file linked from elsewhere.
type ExternalFile struct {
	URL string `json:"url"`
}

// FileObject is an entry of a files property, a page cover or a page icon.
type FileObject struct {
	Name     string        `json:"name,omitempty"`
	Type     string        `json:"type"`
	File     *HostedFile   `json:"file,omitempty"`
	External *ExternalFile `json:"external,omitempty"`
	Emoji    string        `json:"emoji,omitempty"`
}

// URL returns the file's location, or "" for emoji icons.
func (f *FileObject) URL() string {
	if f == nil {
		return ""
	}
	switch {
	case f.File != nil:
		return f.File.URL
	case f.External != nil:
		return f.External.URL
	default:
		return ""
	}
}

// Formula is a computed value tagged by its own result type.
type Formula struct {
	Type    string     `json:"type"`
	String  *string    `json:"string,omitempty"`
	Number  *float64   `json:"number,omitempty"`
	Boolean *bool      `json:"boolean,omitempty"`
	Date    *DateValue `json:"date,omitempty"`
}

// Rollup is an aggregate over related pages.
type Rollup struct {
	Type     string     `json:"type"`
	Function string     `json:"function,omitempty"`
	Number   *float64   `json:"number,omitempty"`
	Date     *DateValue `json:"date,omitempty"`
	Array    []Property `json:"array,omitempty"`
}

// UniqueID is an auto-incrementing identifier with an optional prefix.
type UniqueID struct {
	Prefix *string  `json:"prefix,omitempty"`
	Number *float64 `json:"number,omitempty"`
}

// Property is a raw property value on a page. Type selects which of the
// payload fields is meaningful.
type Property struct {
	ID             string       `json:"id,omitempty"`
	Type           string       `json:"type"`
	Title          []RichText   `json:"title,omitempty"`
	RichText       []RichText   `json:"rich_text,omitempty"`
	Select         *Option      `json:"select,omitempty"`
	Status         *Option      `json:"status,omitempty"`
	MultiSelect    []Option     `json:"multi_select,omitempty"`
	Date           *DateValue   `json:"date,omitempty"`
	Number         *float64     `json:"number,omitempty"`
	Checkbox       *bool        `json:"checkbox,omitempty"`
	People         []User       `json:"people,omitempty"`
	Relation       []Reference  `json:"relation,omitempty"`
	Formula        *Formula     `json:"formula,omitempty"`
	Rollup         *Rollup      `json:"rollup,omitempty"`
	URL            *string      `json:"url,omitempty"`
	Email          *string      `json:"email,omitempty"`
	PhoneNumber    *string      `json:"phone_number,omitempty"`
	Files          []FileObject `json:"files,omitempty"`
	CreatedTime    *string      `json:"created_time,omitempty"`
	LastEditedTime *string      `json:"last_edited_time,omitempty"`
	CreatedBy      *User        `json:"created_by,omitempty"`
	LastEditedBy   *User        `json:"last_edited_by,omitempty"`
	UniqueID       *UniqueID    `json:"unique_id,omitempty"`
}

// Parent identifies the container of a page.
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
}

// Page is one record of a source database.
type Page struct {
	Object         string              `json:"object"`
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time"`
	LastEditedTime string              `json:"last_edited_time"`
	Archived       bool                `json:"archived"`
	InTrash        bool                `json:"in_trash"`
	URL            string              `json:"url"`
	Parent         Parent              `json:"parent"`
	Cover          *FileObject         `json:"cover"`
	Icon           *FileObject         `json:"icon"`
	Properties     map[string]Property `json:"properties"`
}

// Deleted reports whether the page has been archived or moved to trash.
func (p *Page) Deleted() bool {
	return p.Archived || p.InTrash
}

// PropertySchema declares one property of a database.
type PropertySchema struct {
	Key  string `json:"key"`
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema is a database's property declarations in declaration order.
type Schema []PropertySchema

// Lookup finds a property by its key.
func (s Schema) Lookup(key string) (PropertySchema, bool) {
	for _, p := range s {
		if p.Key == key {
			return p, true
		}
	}
	return PropertySchema{}, false
}

// UnmarshalJSON accepts both the API's keyed object form, preserving key
// order, and the array form this package marshals to.
func (s *Schema) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = nil
		return nil
	}
	if trimmed[0] == '[' {
		var list []PropertySchema
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*s = list
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("schema: expected object, got %v", tok)
	}

	var out Schema
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("schema: expected property key, got %v", keyTok)
		}
		var prop PropertySchema
		if err := dec.Decode(&prop); err != nil {
			return fmt.Errorf("schema: property %q: %w", key, err)
		}
		prop.Key = key
		if prop.Name == "" {
			prop.Name = key
		}
		out = append(out, prop)
	}
	*s = out
	return nil
}

// Database is a source database's metadata and schema.
type Database struct {
	Object     string     `json:"object"`
	ID         string     `json:"id"`
	TitleRuns  []RichText `json:"title"`
	URL        string     `json:"url"`
	Archived   bool       `json:"archived"`
	InTrash    bool       `json:"in_trash"`
	Properties Schema     `json:"properties"`
}

// Title returns the database's display name.
func (d *Database) Title() string {
	var sb strings.Builder
	for _, run := range d.TitleRuns {
		sb.WriteString(run.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

// QueryPage is a single page of a database query.
type QueryPage struct {
	Records    []Page
	NextCursor string
	HasMore    bool
}

// NormalizeID strips separators and case so hyphenated and compact forms
// of the same id compare equal.
func NormalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// CanonicalID returns the hyphenated lowercase form of a 32-hex-digit id.
// Other ids are returned trimmed and unchanged.
func CanonicalID(id string) string {
	id = strings.TrimSpace(id)
	compact := NormalizeID(id)
	if len(compact) != 32 {
		return id
	}
	for _, r := range compact {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return id
		}
	}
	return compact[0:8] + "-" + compact[8:12] + "-" + compact[12:16] + "-" + compact[16:20] + "-" + compact[20:32]
}
