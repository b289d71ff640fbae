package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"NotionSync", "notionsync"},
		{"notion_sync", "notion_sync"},
		{"notion-sync", "notion_sync"},

		// Spaces
		{"My Workspace Mirror", "my_workspace_mirror"},
		{"Notes  and   Things", "notes_and_things"},

		// Special characters
		{"Mirror (2024)", "mirror_2024"},
		{"People & Places", "people_places"},

		// Starts with number
		{"2024 Mirror", "ns_2024_mirror"},
		{"123", "ns_123"},

		// Edge cases
		{"", "notionsync"},
		{"___", "notionsync"},
		{"   ", "notionsync"},

		// Leading/trailing cleanup
		{"_mirror_", "mirror"},
		{" mirror ", "mirror"},

		{"my--mirror", "my_mirror"},
		{"my - mirror", "my_mirror"},

		{
			"ThisIsAReallyLongSchemaNameThatExceedsThePostgreSQLIdentifierLimitOfSixtyThreeCharacters",
			"thisisareallylongschemanamethatexceedsthepostgresqlidentifierli",
		},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := SanitizeIdentifier(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeIdentifier_MaxLength(t *testing.T) {
	longName := "abcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyzabcdefghijklmnopqrstuvwxyz"

	result := SanitizeIdentifier(longName)
	if len(result) > 63 {
		t.Errorf("result length %d exceeds 63: %q", len(result), result)
	}
}

func TestSourceConfig_TokenFor(t *testing.T) {
	cfg := SourceConfig{
		Token:  "default-token",
		Tokens: map[string]string{"tenant-a": " tenant-a-token ", "tenant-b": "  "},
	}

	if got := cfg.TokenFor("tenant-a"); got != "tenant-a-token" {
		t.Errorf("TokenFor(tenant-a) = %q, want tenant-a-token", got)
	}
	if got := cfg.TokenFor("tenant-b"); got != "default-token" {
		t.Errorf("blank tenant token should fall back to default, got %q", got)
	}
	if got := cfg.TokenFor("unknown"); got != "default-token" {
		t.Errorf("TokenFor(unknown) = %q, want default-token", got)
	}
}

func TestLoad_FromFileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "s3cret")
	t.Setenv("TEST_NOTION_TOKEN", "secret_abc")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  host: localhost
  user: sync
  password: "${TEST_DB_PASSWORD}"
  database: mirror
  schema: "Workspace Mirror"
source:
  token: "${TEST_NOTION_TOKEN}"
storage:
  driver: minio
  endpoint: localhost:9000
  bucket: assets
sync:
  max_pages: 50
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Password != "s3cret" {
		t.Errorf("password not expanded: %q", cfg.Database.Password)
	}
	if cfg.Source.Token != "secret_abc" {
		t.Errorf("token not expanded: %q", cfg.Source.Token)
	}
	if cfg.Database.Schema != "workspace_mirror" {
		t.Errorf("schema not sanitized: %q", cfg.Database.Schema)
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("expected default port 5432, got %d", cfg.Database.Port)
	}
	if cfg.Sync.MaxPages != 50 {
		t.Errorf("expected max_pages 50, got %d", cfg.Sync.MaxPages)
	}
	if cfg.Sync.MaxConcurrency != 20 {
		t.Errorf("expected default max_concurrency 20, got %d", cfg.Sync.MaxConcurrency)
	}
}

func TestValidate_MinioNeedsEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Host = "localhost"
	cfg.Database.User = "u"
	cfg.Database.Password = "p"
	cfg.Database.Database = "d"
	cfg.Storage.Bucket = "assets"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for minio without endpoint")
	}

	cfg.Storage.Endpoint = "localhost:9000"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}

	cfg.Storage.Driver = "gcs"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for unknown driver")
	}
}
