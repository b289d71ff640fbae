package mapping

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Layouts cast does not try: minute precision and spelled-out dates.
var extraDateFormats = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := cast.ToTimeE(s); err == nil {
		return t.UTC(), true
	}
	for _, format := range extraDateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// coerce converts a normalized value into the column's storage kind. A nil
// value always coerces to NULL. ok is false when the value cannot be
// represented, in which case the caller keeps it in overflow.
func coerce(v any, kind Kind) (any, bool) {
	if v == nil {
		return nil, true
	}
	switch kind {
	case KindText:
		switch val := v.(type) {
		case string:
			return val, true
		case []string:
			if len(val) == 0 {
				return nil, true
			}
			return val[0], true
		case float64:
			if s, err := cast.ToStringE(val); err == nil {
				return s, true
			}
		}
	case KindTextArray:
		switch val := v.(type) {
		case []string:
			return val, true
		case string:
			return []string{val}, true
		case []any:
			if ss, err := cast.ToStringSliceE(val); err == nil {
				return ss, true
			}
		}
	case KindNumber:
		switch val := v.(type) {
		case float64:
			return val, true
		case string:
			if s := strings.TrimSpace(val); s != "" {
				if f, err := cast.ToFloat64E(s); err == nil {
					return f, true
				}
			}
		}
	case KindBool:
		switch val := v.(type) {
		case bool:
			return val, true
		case string:
			if s := strings.TrimSpace(val); s != "" {
				if b, err := cast.ToBoolE(s); err == nil {
					return b, true
				}
			}
		}
	case KindTimestamp:
		if s, ok := v.(string); ok {
			if t, ok := parseTime(s); ok {
				return t, true
			}
		}
	}
	return nil, false
}
