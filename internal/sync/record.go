package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// SyncRecord refreshes one record of a linked database. A record the
// source no longer has, or has archived, is deleted locally.
func (e *Engine) SyncRecord(ctx context.Context, link *db.Link, recordID string) *Result {
	res := newResult(link.TenantID, link.LogicalType, link.ExternalDatabaseID)
	recordID = source.CanonicalID(recordID)

	src, err := e.source(link.TenantID)
	if err != nil {
		return res.fail(err)
	}

	page, err := src.GetRecord(ctx, link.ExternalDatabaseID, recordID)
	switch {
	case source.IsNotFound(err), errors.Is(err, source.ErrRecordNotInDatabase):
		return e.DeleteRecord(ctx, link, recordID)
	case err != nil:
		return res.fail(sourceErr("get record "+recordID, err))
	case page.Deleted():
		return e.DeleteRecord(ctx, link, recordID)
	}

	database, err := src.RetrieveDatabase(ctx, link.ExternalDatabaseID)
	if err != nil {
		return res.fail(sourceErr("retrieve database "+link.ExternalDatabaseID, err))
	}
	return e.upsertPage(ctx, link, database.Properties, page, res)
}

// upsertPage writes one page and mirrors its asset.
func (e *Engine) upsertPage(ctx context.Context, link *db.Link, schema source.Schema, page *source.Page, res *Result) *Result {
	tbl, err := mapping.TableFor(link.LogicalType)
	if err != nil {
		return res.fail(err)
	}

	rows, assetURLs := e.mapPages(link, tbl, schema, []source.Page{*page})
	if len(rows) == 0 {
		return res.fail(fmt.Errorf("record %s produced no row", page.ID))
	}
	row := rows[0]

	existing := map[string]db.RecordRef{}
	prev, err := e.store.GetRecord(ctx, tbl, link.TenantID, row.ExternalID)
	if err != nil {
		return res.fail(fmt.Errorf("failed to load stored record: %w", err))
	}
	if prev != nil {
		existing[row.ExternalID] = *prev
	}

	ids, err := e.store.UpsertRecords(ctx, tbl, link.TenantID, link.ExternalDatabaseID, rows, e.opts.BatchSize)
	if err != nil {
		return res.fail(fmt.Errorf("failed to upsert record: %w", err))
	}
	res.Synced = 1
	if prev == nil {
		res.Added = []string{row.ExternalID}
	}

	res.warn(e.mirrorAssets(ctx, tbl, link.TenantID, assetTasks(rows, ids, assetURLs, existing)))
	res.Success = true

	slog.Info("record synced",
		"tenant", link.TenantID,
		"type", link.LogicalType,
		"external_id", row.ExternalID,
		"created", prev == nil)
	return res
}

// DeleteRecord removes one record and its durable asset. Deleting a record
// that is not stored succeeds.
func (e *Engine) DeleteRecord(ctx context.Context, link *db.Link, recordID string) *Result {
	res := newResult(link.TenantID, link.LogicalType, link.ExternalDatabaseID)
	recordID = source.CanonicalID(recordID)

	tbl, err := mapping.TableFor(link.LogicalType)
	if err != nil {
		return res.fail(err)
	}
	ref, err := e.store.GetRecord(ctx, tbl, link.TenantID, recordID)
	if err != nil {
		return res.fail(fmt.Errorf("failed to load stored record: %w", err))
	}
	if ref == nil {
		res.Success = true
		return res
	}

	deleted, err := e.deleteRecords(ctx, tbl, link.TenantID, []db.RecordRef{*ref})
	if err != nil {
		return res.fail(err)
	}
	res.Removed = deleted
	res.Success = true

	slog.Info("record deleted",
		"tenant", link.TenantID,
		"type", link.LogicalType,
		"external_id", recordID)
	return res
}

// CreateRecord creates a brand-new record in the tenant's linked database
// for lt from canonical column values, then stores it locally.
func (e *Engine) CreateRecord(ctx context.Context, tenantID string, lt mapping.LogicalType, fields map[string]any) *Result {
	res := newResult(tenantID, lt, "")

	links, err := e.linksOf(ctx, tenantID, lt)
	if err != nil {
		return res.fail(err)
	}
	link := &links[0]
	res.DatabaseID = link.ExternalDatabaseID

	tbl, err := mapping.TableFor(lt)
	if err != nil {
		return res.fail(err)
	}
	src, err := e.source(tenantID)
	if err != nil {
		return res.fail(err)
	}
	database, err := src.RetrieveDatabase(ctx, link.ExternalDatabaseID)
	if err != nil {
		return res.fail(sourceErr("retrieve database "+link.ExternalDatabaseID, err))
	}

	properties, err := mapping.NewPlan(tbl, database.Properties).Encode(fields)
	if err != nil {
		return res.fail(fmt.Errorf("%w: %w", ErrInvalidRecord, err))
	}

	page, err := src.CreateRecord(ctx, link.ExternalDatabaseID, properties)
	if err != nil {
		return res.fail(sourceErr("create record", err))
	}
	return e.upsertPage(ctx, link, database.Properties, page, res)
}
