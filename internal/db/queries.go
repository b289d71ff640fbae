package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/notionsync-pg/internal/mapping"
)

// ExistingRecords returns the stored records of one source database, keyed
// by external id
func (db *DB) ExistingRecords(ctx context.Context, tbl *mapping.Table, tenantID, databaseID string) (map[string]RecordRef, error) {
	rows, err := db.Pool.Query(ctx, selectRecordsSQL(tbl), tenantID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s records: %w", tbl.Name, err)
	}
	defer rows.Close()

	refs := make(map[string]RecordRef)
	for rows.Next() {
		var ref RecordRef
		if err := rows.Scan(&ref.ID, &ref.ExternalID, &ref.SourceAssetKey, &ref.AssetURL); err != nil {
			return nil, err
		}
		refs[ref.ExternalID] = ref
	}

	return refs, rows.Err()
}

// GetRecord retrieves one record by external id
func (db *DB) GetRecord(ctx context.Context, tbl *mapping.Table, tenantID, externalID string) (*RecordRef, error) {
	ref := &RecordRef{}
	err := db.Pool.QueryRow(ctx, selectRecordSQL(tbl), tenantID, externalID).
		Scan(&ref.ID, &ref.ExternalID, &ref.SourceAssetKey, &ref.AssetURL)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return ref, nil
}

// UpsertRecords writes every row in one transaction, batchSize statements per
// round trip, and returns the local id of each external id
func (db *DB) UpsertRecords(ctx context.Context, tbl *mapping.Table, tenantID, databaseID string, rows []Row, batchSize int) (map[string]uuid.UUID, error) {
	ids := make(map[string]uuid.UUID, len(rows))
	if len(rows) == 0 {
		return ids, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := upsertRecordSQL(tbl)
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		batch := &pgx.Batch{}
		for _, row := range rows[start:end] {
			args, err := upsertArgs(tbl, tenantID, databaseID, row)
			if err != nil {
				return nil, err
			}
			batch.Queue(query, args...)
		}

		results := tx.SendBatch(ctx, batch)
		for range rows[start:end] {
			var id uuid.UUID
			var externalID string
			if err := results.QueryRow().Scan(&id, &externalID); err != nil {
				_ = results.Close()
				return nil, fmt.Errorf("failed to upsert %s record: %w", tbl.Name, err)
			}
			ids[externalID] = id
		}
		if err := results.Close(); err != nil {
			return nil, fmt.Errorf("failed to close batch: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit upserts: %w", err)
	}
	return ids, nil
}

// DeleteRecords deletes a tenant's records by external id
func (db *DB) DeleteRecords(ctx context.Context, tbl *mapping.Table, tenantID string, externalIDs []string) (int64, error) {
	if len(externalIDs) == 0 {
		return 0, nil
	}

	tag, err := db.Pool.Exec(ctx, deleteRecordsSQL(tbl), tenantID, externalIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s records: %w", tbl.Name, err)
	}
	return tag.RowsAffected(), nil
}

// SetAssetURL points a record at its durable asset copy. Nil clears it.
func (db *DB) SetAssetURL(ctx context.Context, tbl *mapping.Table, id uuid.UUID, assetURL *string) error {
	_, err := db.Pool.Exec(ctx, setAssetURLSQL(tbl), id, assetURL)
	if err != nil {
		return fmt.Errorf("failed to set asset url: %w", err)
	}
	return nil
}
