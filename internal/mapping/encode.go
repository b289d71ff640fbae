package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// ErrNameRequired is returned when a new record has no name.
var ErrNameRequired = errors.New("name is required")

// Encode turns canonical field values into source property payloads for a
// brand-new record, using the properties this plan assigned to each column.
func (p *Plan) Encode(fields map[string]any) (map[string]any, error) {
	if s, _ := fields[ColumnName].(string); s == "" {
		return nil, ErrNameRequired
	}

	columns := make([]string, 0, len(fields))
	for col := range fields {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	out := make(map[string]any, len(fields))
	for _, col := range columns {
		if _, ok := p.Table.Column(col); !ok {
			return nil, fmt.Errorf("unknown column %q for %s", col, p.Table.Type)
		}
		prop, ok := p.byColumn[col]
		if !ok {
			return nil, fmt.Errorf("no source property maps to column %q", col)
		}
		payload, err := EncodeProperty(prop.Type, fields[col])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out[prop.Key] = payload
	}
	return out, nil
}

// EncodeProperty builds the write payload for a single property value.
func EncodeProperty(declaredType string, v any) (map[string]any, error) {
	switch declaredType {
	case source.TypeTitle, source.TypeRichText:
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{declaredType: []any{
			map[string]any{"type": "text", "text": map[string]any{"content": s}},
		}}, nil
	case source.TypeSelect, source.TypeStatus:
		if v == nil {
			return map[string]any{declaredType: nil}, nil
		}
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{declaredType: map[string]any{"name": s}}, nil
	case source.TypeMultiSelect:
		names, err := asStrings(v)
		if err != nil {
			return nil, err
		}
		opts := make([]any, 0, len(names))
		for _, n := range names {
			opts = append(opts, map[string]any{"name": n})
		}
		return map[string]any{declaredType: opts}, nil
	case source.TypeRelation, source.TypePeople:
		ids, err := asStrings(v)
		if err != nil {
			return nil, err
		}
		refs := make([]any, 0, len(ids))
		for _, id := range ids {
			if declaredType == source.TypePeople {
				refs = append(refs, map[string]any{"object": "user", "id": id})
			} else {
				refs = append(refs, map[string]any{"id": id})
			}
		}
		return map[string]any{declaredType: refs}, nil
	case source.TypeDate:
		if v == nil {
			return map[string]any{declaredType: nil}, nil
		}
		if t, ok := v.(time.Time); ok {
			return map[string]any{declaredType: map[string]any{"start": t.Format(time.RFC3339)}}, nil
		}
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		if _, ok := parseTime(s); !ok {
			return nil, fmt.Errorf("invalid date %q", s)
		}
		return map[string]any{declaredType: map[string]any{"start": s}}, nil
	case source.TypeNumber:
		switch n := v.(type) {
		case nil:
			return map[string]any{declaredType: nil}, nil
		case float64:
			return map[string]any{declaredType: n}, nil
		case int:
			return map[string]any{declaredType: float64(n)}, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", n)
			}
			return map[string]any{declaredType: f}, nil
		}
		return nil, fmt.Errorf("expected number, got %T", v)
	case source.TypeCheckbox:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected boolean, got %T", v)
		}
		return map[string]any{declaredType: b}, nil
	case source.TypeURL, source.TypeEmail, source.TypePhoneNumber:
		if v == nil {
			return map[string]any{declaredType: nil}, nil
		}
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{declaredType: s}, nil
	case source.TypeFiles:
		urls, err := asStrings(v)
		if err != nil {
			return nil, err
		}
		files := make([]any, 0, len(urls))
		for _, u := range urls {
			files = append(files, map[string]any{
				"type":     "external",
				"name":     u,
				"external": map[string]any{"url": u},
			})
		}
		return map[string]any{declaredType: files}, nil
	default:
		return nil, fmt.Errorf("property type %q is read-only", declaredType)
	}
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func asStrings(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return []string{}, nil
	case string:
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string list item, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list, got %T", v)
	}
}
