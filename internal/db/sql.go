package db

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
)

// Columns written on every upsert ahead of the table's canonical columns.
var recordColumns = []string{
	"id",
	"tenant_id",
	"external_id",
	"external_database_id",
	"overflow_properties",
	"source_asset_key",
	"source_updated_at",
}

// Identity columns are never rewritten on conflict.
var identityColumns = map[string]bool{"id": true, "tenant_id": true, "external_id": true}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func upsertColumns(tbl *mapping.Table) []string {
	cols := make([]string, 0, len(recordColumns)+len(tbl.Columns))
	cols = append(cols, recordColumns...)
	for _, c := range tbl.Columns {
		cols = append(cols, c.Name)
	}
	return cols
}

func upsertRecordSQL(tbl *mapping.Table) string {
	cols := upsertColumns(tbl)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	updates := make([]string, 0, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if identityColumns[c] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", quoted[i], quoted[i]))
	}
	updates = append(updates, "updated_at = NOW()", "last_synced_at = NOW()")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (tenant_id, external_id) DO UPDATE SET %s RETURNING id, external_id",
		quote(tbl.Name),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

func upsertArgs(tbl *mapping.Table, tenantID, databaseID string, row Row) ([]any, error) {
	overflow := row.Overflow
	if overflow == nil {
		overflow = map[string]mapping.OverflowEntry{}
	}
	overflowJSON, err := json.Marshal(overflow)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal overflow for %s: %w", row.ExternalID, err)
	}

	args := make([]any, 0, len(recordColumns)+len(tbl.Columns))
	args = append(args,
		uuid.New(),
		tenantID,
		row.ExternalID,
		databaseID,
		overflowJSON,
		row.SourceAssetKey,
		row.SourceUpdatedAt,
	)
	for _, c := range tbl.Columns {
		args = append(args, row.Columns[c.Name])
	}
	return args, nil
}

func selectRecordsSQL(tbl *mapping.Table) string {
	return fmt.Sprintf(
		"SELECT id, external_id, source_asset_key, asset_url FROM %s WHERE tenant_id = $1 AND external_database_id = $2",
		quote(tbl.Name))
}

func selectRecordSQL(tbl *mapping.Table) string {
	return fmt.Sprintf(
		"SELECT id, external_id, source_asset_key, asset_url FROM %s WHERE tenant_id = $1 AND external_id = $2",
		quote(tbl.Name))
}

func deleteRecordsSQL(tbl *mapping.Table) string {
	return fmt.Sprintf("DELETE FROM %s WHERE tenant_id = $1 AND external_id = ANY($2)", quote(tbl.Name))
}

func setAssetURLSQL(tbl *mapping.Table) string {
	return fmt.Sprintf("UPDATE %s SET asset_url = $2, updated_at = NOW() WHERE id = $1", quote(tbl.Name))
}

func countRecordsSQL(tbl *mapping.Table) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = $1 AND external_database_id = $2", quote(tbl.Name))
}
