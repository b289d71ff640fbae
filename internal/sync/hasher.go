package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// HashContent computes SHA256 hash of content bytes
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashString computes SHA256 hash of a string
func HashString(content string) string {
	return HashContent([]byte(content))
}

// SchemaHash fingerprints a schema's keys, names, types and order
func SchemaHash(schema source.Schema) string {
	if schema == nil {
		schema = source.Schema{}
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return HashContent(data)
}

// SchemaChange lists property keys that differ between two schemas
type SchemaChange struct {
	Added   []string
	Removed []string
	Retyped []string
	Renamed []string
}

// Empty reports whether nothing changed
func (c SchemaChange) Empty() bool {
	return len(c.Added)+len(c.Removed)+len(c.Retyped)+len(c.Renamed) == 0
}

// DiffSchemas compares two schemas by property key
func DiffSchemas(old, cur source.Schema) SchemaChange {
	var c SchemaChange
	for _, p := range cur {
		prev, ok := old.Lookup(p.Key)
		switch {
		case !ok:
			c.Added = append(c.Added, p.Key)
		case prev.Type != p.Type:
			c.Retyped = append(c.Retyped, p.Key)
		case prev.Name != p.Name:
			c.Renamed = append(c.Renamed, p.Key)
		}
	}
	for _, p := range old {
		if _, ok := cur.Lookup(p.Key); !ok {
			c.Removed = append(c.Removed, p.Key)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Retyped)
	sort.Strings(c.Renamed)
	return c
}
