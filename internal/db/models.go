package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// Link connects a tenant to one source database and records what it holds
type Link struct {
	ID                 uuid.UUID           `db:"id"`
	TenantID           string              `db:"tenant_id"`
	ExternalDatabaseID string              `db:"external_database_id"`
	DatabaseKey        string              `db:"database_key"`
	LogicalType        mapping.LogicalType `db:"logical_type"`
	LogicalTypeTag     *string             `db:"logical_type_tag"`
	Period             string              `db:"period"`
	DisplayName        string              `db:"display_name"`
	DeclaredSchema     source.Schema       `db:"declared_schema"`
	SchemaHash         string              `db:"schema_hash"`
	LastSyncAt         *time.Time          `db:"last_sync_at"`
	CreatedAt          time.Time           `db:"created_at"`
	UpdatedAt          time.Time           `db:"updated_at"`
}

// Row is one mapped record ready to be upserted
type Row struct {
	ExternalID      string
	Columns         map[string]any
	Overflow        map[string]mapping.OverflowEntry
	SourceAssetKey  *string
	SourceUpdatedAt *time.Time
}

// RecordRef identifies a stored record and its asset pointers
type RecordRef struct {
	ID             uuid.UUID `db:"id"`
	ExternalID     string    `db:"external_id"`
	SourceAssetKey *string   `db:"source_asset_key"`
	AssetURL       *string   `db:"asset_url"`
}

// LinkStatus is a link with its stored row count
type LinkStatus struct {
	Link Link
	Rows int
}

// SyncStatus represents the current sync status
type SyncStatus struct {
	Connected    bool
	LastSyncTime *time.Time
	TotalRows    int
	Links        []LinkStatus
}
