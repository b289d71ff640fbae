// Package extract normalizes raw source property values.
//
// Extract is total: every declared type yields one of nil, string, float64,
// bool or []string, and no input makes it fail. Types it has not been taught
// yield nil so that new property kinds in a tenant's schema degrade to the
// overflow bucket instead of breaking a pass.
package extract

import (
	"strconv"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

var knownTypes = map[string]bool{
	source.TypeTitle:          true,
	source.TypeRichText:       true,
	source.TypeSelect:         true,
	source.TypeStatus:         true,
	source.TypeMultiSelect:    true,
	source.TypeDate:           true,
	source.TypeNumber:         true,
	source.TypeCheckbox:       true,
	source.TypePeople:         true,
	source.TypeRelation:       true,
	source.TypeFormula:        true,
	source.TypeRollup:         true,
	source.TypeURL:            true,
	source.TypeEmail:          true,
	source.TypePhoneNumber:    true,
	source.TypeFiles:          true,
	source.TypeCreatedTime:    true,
	source.TypeLastEditedTime: true,
	source.TypeCreatedBy:      true,
	source.TypeLastEditedBy:   true,
	source.TypeUniqueID:       true,
}

// IsKnownType reports whether Extract has a rule for declaredType.
func IsKnownType(declaredType string) bool {
	return knownTypes[declaredType]
}

// Extract returns the normalized value of prop read as declaredType.
func Extract(prop source.Property, declaredType string) any {
	switch declaredType {
	case source.TypeTitle:
		return firstRun(prop.Title)
	case source.TypeRichText:
		return firstRun(prop.RichText)
	case source.TypeSelect:
		return optionName(prop.Select)
	case source.TypeStatus:
		return optionName(prop.Status)
	case source.TypeMultiSelect:
		names := make([]string, 0, len(prop.MultiSelect))
		for _, opt := range prop.MultiSelect {
			names = append(names, opt.Name)
		}
		return names
	case source.TypeDate:
		return dateStart(prop.Date)
	case source.TypeNumber:
		return number(prop.Number)
	case source.TypeCheckbox:
		return prop.Checkbox != nil && *prop.Checkbox
	case source.TypePeople:
		ids := make([]string, 0, len(prop.People))
		for _, u := range prop.People {
			ids = append(ids, u.ID)
		}
		return ids
	case source.TypeRelation:
		ids := make([]string, 0, len(prop.Relation))
		for _, ref := range prop.Relation {
			ids = append(ids, ref.ID)
		}
		return ids
	case source.TypeFormula:
		return formula(prop.Formula)
	case source.TypeRollup:
		return rollup(prop.Rollup)
	case source.TypeURL:
		return str(prop.URL)
	case source.TypeEmail:
		return str(prop.Email)
	case source.TypePhoneNumber:
		return str(prop.PhoneNumber)
	case source.TypeFiles:
		urls := make([]string, 0, len(prop.Files))
		for i := range prop.Files {
			if u := prop.Files[i].URL(); u != "" {
				urls = append(urls, u)
			}
		}
		return urls
	case source.TypeCreatedTime:
		return str(prop.CreatedTime)
	case source.TypeLastEditedTime:
		return str(prop.LastEditedTime)
	case source.TypeCreatedBy:
		return userID(prop.CreatedBy)
	case source.TypeLastEditedBy:
		return userID(prop.LastEditedBy)
	case source.TypeUniqueID:
		return uniqueID(prop.UniqueID)
	default:
		return nil
	}
}

func firstRun(runs []source.RichText) any {
	if len(runs) == 0 {
		return nil
	}
	return runs[0].PlainText
}

func optionName(opt *source.Option) any {
	if opt == nil {
		return nil
	}
	return opt.Name
}

func dateStart(d *source.DateValue) any {
	if d == nil || d.Start == "" {
		return nil
	}
	return d.Start
}

func number(n *float64) any {
	if n == nil {
		return nil
	}
	return *n
}

func str(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func userID(u *source.User) any {
	if u == nil {
		return nil
	}
	return u.ID
}

func formula(f *source.Formula) any {
	if f == nil {
		return nil
	}
	switch f.Type {
	case "string":
		return str(f.String)
	case "number":
		return number(f.Number)
	case "boolean":
		return f.Boolean != nil && *f.Boolean
	case "date":
		return dateStart(f.Date)
	default:
		return nil
	}
}

func rollup(r *source.Rollup) any {
	if r == nil {
		return nil
	}
	switch r.Type {
	case "number":
		return number(r.Number)
	case "date":
		return dateStart(r.Date)
	case "array":
		out := make([]string, 0, len(r.Array))
		for _, item := range r.Array {
			out = appendFlat(out, Extract(item, item.Type))
		}
		return out
	default:
		return nil
	}
}

// appendFlat appends the string form of a normalized value.
func appendFlat(out []string, v any) []string {
	switch val := v.(type) {
	case nil:
		return out
	case string:
		return append(out, val)
	case []string:
		return append(out, val...)
	case float64:
		return append(out, strconv.FormatFloat(val, 'f', -1, 64))
	case bool:
		return append(out, strconv.FormatBool(val))
	default:
		return out
	}
}

func uniqueID(u *source.UniqueID) any {
	if u == nil || u.Number == nil {
		return nil
	}
	n := strconv.FormatFloat(*u.Number, 'f', -1, 64)
	if u.Prefix != nil && *u.Prefix != "" {
		return *u.Prefix + "-" + n
	}
	return n
}
