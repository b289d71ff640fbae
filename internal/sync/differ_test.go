package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffIDs(t *testing.T) {
	tests := []struct {
		name     string
		previous []string
		current  []string
		added    []string
		removed  []string
	}{
		{"first sync", nil, []string{"r3", "r1", "r2"}, []string{"r1", "r2", "r3"}, []string{}},
		{"add and remove", []string{"r1", "r2", "r3"}, []string{"r1", "r3", "r4"}, []string{"r4"}, []string{"r2"}},
		{"unchanged", []string{"r1", "r2"}, []string{"r2", "r1"}, []string{}, []string{}},
		{"emptied", []string{"r1", "r2"}, nil, []string{}, []string{"r1", "r2"}},
		{"duplicates", []string{"r1", "r1"}, []string{"r2", "r2"}, []string{"r2"}, []string{"r1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DiffIDs(tt.previous, tt.current)
			assert.Equal(t, tt.added, d.Added)
			assert.Equal(t, tt.removed, d.Removed)
			assert.LessOrEqual(t, len(d.Added)+len(d.Removed), len(tt.previous)+len(tt.current))
		})
	}
}
