package sync

import (
	"testing"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

func TestHashString(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	result := HashString("hello")

	if result != expected {
		t.Errorf("HashString(\"hello\") = %q, want %q", result, expected)
	}
}

func TestHashContent(t *testing.T) {
	content := []byte("test content")
	hash1 := HashContent(content)
	hash2 := HashContent(content)

	// Same content should produce same hash
	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %q != %q", hash1, hash2)
	}

	different := HashContent([]byte("different content"))
	if hash1 == different {
		t.Error("different content should produce different hash")
	}

	if len(hash1) != 64 {
		t.Errorf("hash length should be 64, got %d", len(hash1))
	}
}

func TestSchemaHash(t *testing.T) {
	a := source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeTitle},
		{Key: "Tags", Name: "Tags", Type: source.TypeMultiSelect},
	}
	reordered := source.Schema{a[1], a[0]}
	retyped := source.Schema{a[0], {Key: "Tags", Name: "Tags", Type: source.TypeSelect}}

	if SchemaHash(a) != SchemaHash(append(source.Schema{}, a...)) {
		t.Error("equal schemas should hash equally")
	}
	if SchemaHash(a) == SchemaHash(reordered) {
		t.Error("declaration order is part of the schema")
	}
	if SchemaHash(a) == SchemaHash(retyped) {
		t.Error("a type change should change the hash")
	}
	if SchemaHash(nil) != SchemaHash(source.Schema{}) {
		t.Error("nil and empty schemas should hash equally")
	}
}

func TestDiffSchemas(t *testing.T) {
	old := source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeTitle},
		{Key: "Due", Name: "Due", Type: source.TypeDate},
		{Key: "Tags", Name: "Tags", Type: source.TypeMultiSelect},
		{Key: "Owner", Name: "Owner", Type: source.TypePeople},
	}
	cur := source.Schema{
		{Key: "Name", Name: "Name", Type: source.TypeTitle},
		{Key: "Due", Name: "Deadline", Type: source.TypeDate},
		{Key: "Tags", Name: "Tags", Type: source.TypeSelect},
		{Key: "Notes", Name: "Notes", Type: source.TypeRichText},
	}

	c := DiffSchemas(old, cur)
	check := func(name string, got []string, want ...string) {
		t.Helper()
		if len(got) != len(want) {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s = %v, want %v", name, got, want)
			}
		}
	}
	check("added", c.Added, "Notes")
	check("removed", c.Removed, "Owner")
	check("retyped", c.Retyped, "Tags")
	check("renamed", c.Renamed, "Due")

	if c.Empty() {
		t.Error("change should not be empty")
	}
	if !DiffSchemas(old, old).Empty() {
		t.Error("identical schemas should produce an empty change")
	}
}
