package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

const linkColumns = `id, tenant_id, external_database_id, database_key, logical_type,
	logical_type_tag, period, display_name, declared_schema, schema_hash,
	last_sync_at, created_at, updated_at`

func scanLink(row pgx.Row) (*Link, error) {
	link := &Link{}
	var logicalType string
	err := row.Scan(
		&link.ID, &link.TenantID, &link.ExternalDatabaseID, &link.DatabaseKey,
		&logicalType, &link.LogicalTypeTag, &link.Period, &link.DisplayName,
		&link.DeclaredSchema, &link.SchemaHash, &link.LastSyncAt,
		&link.CreatedAt, &link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	link.LogicalType = mapping.LogicalType(logicalType)
	return link, nil
}

func nonNilSchema(s source.Schema) source.Schema {
	if s == nil {
		return source.Schema{}
	}
	return s
}

// SaveLink inserts or updates a link keyed on (tenant_id, database_key).
// The stored id, created_at and updated_at are written back into link.
func (db *DB) SaveLink(ctx context.Context, link *Link) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO tenant_database_links (
			id, tenant_id, external_database_id, database_key, logical_type,
			logical_type_tag, period, display_name, declared_schema, schema_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		ON CONFLICT (tenant_id, database_key) DO UPDATE SET
			external_database_id = EXCLUDED.external_database_id,
			logical_type = EXCLUDED.logical_type,
			logical_type_tag = EXCLUDED.logical_type_tag,
			period = EXCLUDED.period,
			display_name = EXCLUDED.display_name,
			declared_schema = EXCLUDED.declared_schema,
			schema_hash = EXCLUDED.schema_hash,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`,
		link.ID, link.TenantID, link.ExternalDatabaseID, link.DatabaseKey,
		string(link.LogicalType), link.LogicalTypeTag, link.Period,
		link.DisplayName, nonNilSchema(link.DeclaredSchema), link.SchemaHash,
	).Scan(&link.ID, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save link: %w", err)
	}
	return nil
}

func (db *DB) queryLinks(ctx context.Context, query string, args ...any) ([]Link, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}

	return links, rows.Err()
}

// ListLinks returns a tenant's links, or every link when tenantID is empty
func (db *DB) ListLinks(ctx context.Context, tenantID string) ([]Link, error) {
	if tenantID == "" {
		return db.queryLinks(ctx, "SELECT "+linkColumns+" FROM tenant_database_links ORDER BY tenant_id, logical_type")
	}
	return db.queryLinks(ctx,
		"SELECT "+linkColumns+" FROM tenant_database_links WHERE tenant_id = $1 ORDER BY logical_type",
		tenantID)
}

// LinksByDatabaseKey returns every tenant's link to one source database
func (db *DB) LinksByDatabaseKey(ctx context.Context, databaseKey string) ([]Link, error) {
	return db.queryLinks(ctx,
		"SELECT "+linkColumns+" FROM tenant_database_links WHERE database_key = $1 ORDER BY tenant_id",
		databaseKey)
}

// GetLink retrieves a tenant's link to a source database
func (db *DB) GetLink(ctx context.Context, tenantID, databaseKey string) (*Link, error) {
	row := db.Pool.QueryRow(ctx,
		"SELECT "+linkColumns+" FROM tenant_database_links WHERE tenant_id = $1 AND database_key = $2",
		tenantID, databaseKey)
	link, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// MarkLinkSynced stores the schema seen by a completed pass
func (db *DB) MarkLinkSynced(ctx context.Context, linkID uuid.UUID, schema source.Schema, schemaHash string, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE tenant_database_links
		SET declared_schema = $2, schema_hash = $3, last_sync_at = $4, updated_at = NOW()
		WHERE id = $1
	`, linkID, nonNilSchema(schema), schemaHash, at)
	if err != nil {
		return fmt.Errorf("failed to mark link synced: %w", err)
	}
	return nil
}
