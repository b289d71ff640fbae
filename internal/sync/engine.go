// Package sync reconciles linked source databases into the local store.
//
// A full pass walks the whole source database, upserts every current
// record, deletes the ones that disappeared and then mirrors assets for the
// committed rows. Narrow passes do the same for a single record.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/discovery"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/mirror"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// Store is the local relational store.
type Store interface {
	ExistingRecords(ctx context.Context, tbl *mapping.Table, tenantID, databaseID string) (map[string]db.RecordRef, error)
	GetRecord(ctx context.Context, tbl *mapping.Table, tenantID, externalID string) (*db.RecordRef, error)
	UpsertRecords(ctx context.Context, tbl *mapping.Table, tenantID, databaseID string, rows []db.Row, batchSize int) (map[string]uuid.UUID, error)
	DeleteRecords(ctx context.Context, tbl *mapping.Table, tenantID string, externalIDs []string) (int64, error)
	SetAssetURL(ctx context.Context, tbl *mapping.Table, id uuid.UUID, assetURL *string) error

	ListLinks(ctx context.Context, tenantID string) ([]db.Link, error)
	LinksByDatabaseKey(ctx context.Context, databaseKey string) ([]db.Link, error)
	GetLink(ctx context.Context, tenantID, databaseKey string) (*db.Link, error)
	SaveLink(ctx context.Context, link *db.Link) error
	MarkLinkSynced(ctx context.Context, linkID uuid.UUID, schema source.Schema, schemaHash string, at time.Time) error
}

// Source is one tenant's view of the source workspace.
type Source interface {
	Pager
	RetrieveDatabase(ctx context.Context, databaseID string) (*source.Database, error)
	GetRecord(ctx context.Context, databaseID, recordID string) (*source.Page, error)
	CreateRecord(ctx context.Context, databaseID string, properties map[string]any) (*source.Page, error)
}

// Assets copies source assets into durable storage.
type Assets interface {
	Mirror(ctx context.Context, sourceURL, tenantID, recordID string) string
	Release(ctx context.Context, assetURL string) error
	KeyOf(assetURL string) (string, bool)
}

// SourceFactory returns the source client for a tenant.
type SourceFactory func(tenantID string) (Source, error)

// Options tunes a sync engine.
type Options struct {
	MaxPages       int
	BatchSize      int
	MaxConcurrency int
	ShowProgress   bool
}

// Engine runs sync passes.
type Engine struct {
	store      Store
	sources    SourceFactory
	assets     Assets
	classifier *discovery.Classifier
	opts       Options
}

// NewEngine creates a new sync engine
func NewEngine(store Store, sources SourceFactory, assets Assets, classifier *discovery.Classifier, opts Options) *Engine {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 20
	}
	if classifier == nil {
		classifier = discovery.NewClassifier(nil)
	}
	return &Engine{
		store:      store,
		sources:    sources,
		assets:     assets,
		classifier: classifier,
		opts:       opts,
	}
}

func (e *Engine) source(tenantID string) (Source, error) {
	src, err := e.sources(tenantID)
	if errors.Is(err, source.ErrNoCredentials) {
		return nil, fmt.Errorf("%w: %w", ErrTenantNotConfigured, err)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// SyncLink runs a full pass over one linked database.
func (e *Engine) SyncLink(ctx context.Context, link *db.Link) *Result {
	start := time.Now()
	res := newResult(link.TenantID, link.LogicalType, link.ExternalDatabaseID)

	tbl, err := mapping.TableFor(link.LogicalType)
	if err != nil {
		return res.fail(err)
	}
	src, err := e.source(link.TenantID)
	if err != nil {
		return res.fail(err)
	}

	database, err := src.RetrieveDatabase(ctx, link.ExternalDatabaseID)
	if err != nil {
		return res.fail(sourceErr("retrieve database "+link.ExternalDatabaseID, err))
	}
	schema := database.Properties
	hash := SchemaHash(schema)
	e.logSchemaDrift(link, schema, hash)

	// Nothing is written until the walk is complete.
	pages, err := Walk(ctx, src, link.ExternalDatabaseID, e.opts.MaxPages)
	if err != nil {
		return res.fail(err)
	}

	existing, err := e.store.ExistingRecords(ctx, tbl, link.TenantID, link.ExternalDatabaseID)
	if err != nil {
		return res.fail(fmt.Errorf("failed to load stored records: %w", err))
	}

	rows, assetURLs := e.mapPages(link, tbl, schema, pages)
	current := make([]string, len(rows))
	for i, row := range rows {
		current[i] = row.ExternalID
	}
	previous := make([]string, 0, len(existing))
	for id := range existing {
		previous = append(previous, id)
	}
	diff := DiffIDs(previous, current)

	ids, err := e.store.UpsertRecords(ctx, tbl, link.TenantID, link.ExternalDatabaseID, rows, e.opts.BatchSize)
	if err != nil {
		return res.fail(fmt.Errorf("failed to upsert records: %w", err))
	}
	res.Synced = len(rows)
	res.Added = diff.Added

	removed := make([]db.RecordRef, 0, len(diff.Removed))
	for _, id := range diff.Removed {
		removed = append(removed, existing[id])
	}
	deleted, err := e.deleteRecords(ctx, tbl, link.TenantID, removed)
	res.Removed = deleted
	res.warn(err)

	res.warn(e.mirrorAssets(ctx, tbl, link.TenantID, assetTasks(rows, ids, assetURLs, existing)))

	syncedAt := time.Now().UTC()
	if err := e.store.MarkLinkSynced(ctx, link.ID, schema, hash, syncedAt); err != nil {
		res.warn(fmt.Errorf("failed to record sync time: %w", err))
	} else {
		link.DeclaredSchema = schema
		link.SchemaHash = hash
		link.LastSyncAt = &syncedAt
	}

	res.Success = true
	slog.Info("sync pass completed",
		"tenant", link.TenantID,
		"type", link.LogicalType,
		"database", link.ExternalDatabaseID,
		"synced", res.Synced,
		"added", len(res.Added),
		"removed", len(res.Removed),
		"warnings", len(res.Warnings),
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

func (e *Engine) logSchemaDrift(link *db.Link, schema source.Schema, hash string) {
	if link.SchemaHash != "" && link.SchemaHash != hash {
		change := DiffSchemas(link.DeclaredSchema, schema)
		slog.Info("source schema changed",
			"tenant", link.TenantID,
			"database", link.ExternalDatabaseID,
			"added", change.Added,
			"removed", change.Removed,
			"retyped", change.Retyped,
			"renamed", change.Renamed)
	}
	if unknown := mapping.UnknownTypes(schema); len(unknown) > 0 {
		slog.Warn("unrecognized property types will be stored as null",
			"tenant", link.TenantID,
			"database", link.ExternalDatabaseID,
			"properties", unknown)
	}
}

// mapPages maps live pages onto rows. Archived pages are left out so the
// differ treats them as removed. Duplicate ids keep the last occurrence.
func (e *Engine) mapPages(link *db.Link, tbl *mapping.Table, schema source.Schema, pages []source.Page) ([]db.Row, map[string]string) {
	plan := mapping.NewPlan(tbl, schema)
	rows := make([]db.Row, 0, len(pages))
	index := make(map[string]int, len(pages))
	assetURLs := make(map[string]string)

	for i := range pages {
		page := &pages[i]
		if page.Deleted() {
			continue
		}
		row, assetURL := toRow(link, plan.Map(page))
		if assetURL != "" {
			assetURLs[row.ExternalID] = assetURL
		} else {
			delete(assetURLs, row.ExternalID)
		}
		if at, ok := index[row.ExternalID]; ok {
			rows[at] = row
			continue
		}
		index[row.ExternalID] = len(rows)
		rows = append(rows, row)
	}
	return rows, assetURLs
}

func toRow(link *db.Link, rec mapping.Record) (db.Row, string) {
	if link.LogicalType == mapping.Tracking {
		if link.Period != "" {
			rec.Columns[mapping.ColumnPeriod] = link.Period
		} else {
			rec.Columns[mapping.ColumnPeriod] = nil
		}
	}

	row := db.Row{
		ExternalID:      rec.ExternalID,
		Columns:         rec.Columns,
		Overflow:        rec.Overflow,
		SourceUpdatedAt: rec.SourceUpdatedAt,
	}
	assetURL := rec.SourceAssetURL()
	if assetURL != "" {
		key := mirror.SourceKey(assetURL)
		row.SourceAssetKey = &key
	}
	return row, assetURL
}

func assetTasks(rows []db.Row, ids map[string]uuid.UUID, assetURLs map[string]string, existing map[string]db.RecordRef) []assetTask {
	tasks := make([]assetTask, 0, len(rows))
	for _, row := range rows {
		id, ok := ids[row.ExternalID]
		if !ok {
			continue
		}
		t := assetTask{
			id:         id,
			externalID: row.ExternalID,
			sourceURL:  assetURLs[row.ExternalID],
		}
		if row.SourceAssetKey != nil {
			t.sourceKey = *row.SourceAssetKey
		}
		if prev, ok := existing[row.ExternalID]; ok {
			t.prev = &prev
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].externalID < tasks[j].externalID })
	return tasks
}

// SyncTenantType runs a full pass over every database a tenant linked for
// one logical type.
func (e *Engine) SyncTenantType(ctx context.Context, tenantID string, lt mapping.LogicalType) *Result {
	links, err := e.linksOf(ctx, tenantID, lt)
	if err != nil {
		return newResult(tenantID, lt, "").fail(err)
	}
	results := make([]*Result, 0, len(links))
	for i := range links {
		results = append(results, e.SyncLink(ctx, &links[i]))
	}
	return Merge(tenantID, lt, results)
}

// SyncTenant runs a full pass over every database a tenant linked.
func (e *Engine) SyncTenant(ctx context.Context, tenantID string) []*Result {
	if tenantID == "" {
		return []*Result{newResult(tenantID, "", "").fail(fmt.Errorf("%w: missing tenant id", ErrTenantNotConfigured))}
	}
	links, err := e.store.ListLinks(ctx, tenantID)
	if err != nil {
		return []*Result{newResult(tenantID, "", "").fail(fmt.Errorf("failed to list links: %w", err))}
	}
	if len(links) == 0 {
		return []*Result{newResult(tenantID, "", "").fail(fmt.Errorf("%w: no databases linked", ErrTenantNotConfigured))}
	}
	return e.syncLinks(ctx, links)
}

// SyncAll runs a full pass over every link of every tenant.
func (e *Engine) SyncAll(ctx context.Context) ([]*Result, error) {
	links, err := e.store.ListLinks(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return e.syncLinks(ctx, links), nil
}

func (e *Engine) syncLinks(ctx context.Context, links []db.Link) []*Result {
	results := make([]*Result, 0, len(links))
	for i := range links {
		results = append(results, e.SyncLink(ctx, &links[i]))
	}
	return results
}

// linksOf returns a tenant's links of one type, or ErrTenantNotConfigured.
func (e *Engine) linksOf(ctx context.Context, tenantID string, lt mapping.LogicalType) ([]db.Link, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant id", ErrTenantNotConfigured)
	}
	all, err := e.store.ListLinks(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	var links []db.Link
	for _, l := range all {
		if l.LogicalType == lt {
			links = append(links, l)
		}
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%w: no %s database linked", ErrTenantNotConfigured, lt)
	}
	return links, nil
}
