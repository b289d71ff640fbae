package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/discovery"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// LinkDatabase connects a tenant to a source database. The logical type
// comes from tag when it names one, otherwise from the database title.
// Linking an already linked database re-classifies it like RefreshLink.
func (e *Engine) LinkDatabase(ctx context.Context, tenantID, databaseID, tag string) (*db.Link, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: missing tenant id", ErrTenantNotConfigured)
	}
	prev, err := e.store.GetLink(ctx, tenantID, discovery.DatabaseKey(databaseID))
	if err != nil {
		return nil, fmt.Errorf("failed to load link: %w", err)
	}
	return e.relink(ctx, tenantID, databaseID, strings.TrimSpace(tag), prev)
}

// RefreshLink re-reads a linked database's title and schema and runs the
// classification again. When the logical type changes, rows stored under
// the old type are removed; the caller runs a full pass afterwards.
func (e *Engine) RefreshLink(ctx context.Context, link *db.Link) (*db.Link, error) {
	tag := ""
	if link.LogicalTypeTag != nil {
		tag = *link.LogicalTypeTag
	}
	return e.relink(ctx, link.TenantID, link.ExternalDatabaseID, tag, link)
}

func (e *Engine) relink(ctx context.Context, tenantID, databaseID, tag string, prev *db.Link) (*db.Link, error) {
	src, err := e.source(tenantID)
	if err != nil {
		return nil, err
	}
	database, err := src.RetrieveDatabase(ctx, databaseID)
	if err != nil {
		return nil, sourceErr("retrieve database "+databaseID, err)
	}

	title := database.Title()
	cls, err := e.classifier.Classify(tag, title)
	if err != nil {
		return nil, fmt.Errorf("failed to classify database %s: %w", databaseID, err)
	}

	link := &db.Link{
		TenantID:           tenantID,
		ExternalDatabaseID: source.CanonicalID(databaseID),
		DatabaseKey:        discovery.DatabaseKey(databaseID),
		LogicalType:        cls.Type,
		Period:             cls.Period,
		DisplayName:        title,
	}
	if tag != "" {
		link.LogicalTypeTag = &tag
	}
	if prev != nil {
		link.ID = prev.ID
		link.ExternalDatabaseID = prev.ExternalDatabaseID
		link.DeclaredSchema = prev.DeclaredSchema
		link.SchemaHash = prev.SchemaHash
		link.LastSyncAt = prev.LastSyncAt

		if prev.LogicalType != link.LogicalType {
			if err := e.purge(ctx, prev); err != nil {
				return nil, err
			}
			link.LastSyncAt = nil
		}
	}

	if err := e.store.SaveLink(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to save link: %w", err)
	}

	slog.Info("database linked",
		"tenant", tenantID,
		"database", link.ExternalDatabaseID,
		"name", title,
		"type", link.LogicalType,
		"period", link.Period,
		"rule", cls.Rule)
	return link, nil
}

// purge removes every row a link stored under its current type.
func (e *Engine) purge(ctx context.Context, link *db.Link) error {
	tbl, err := mapping.TableFor(link.LogicalType)
	if err != nil {
		return err
	}
	existing, err := e.store.ExistingRecords(ctx, tbl, link.TenantID, link.ExternalDatabaseID)
	if err != nil {
		return fmt.Errorf("failed to load stored records: %w", err)
	}
	refs := make([]db.RecordRef, 0, len(existing))
	for _, ref := range existing {
		refs = append(refs, ref)
	}
	deleted, err := e.deleteRecords(ctx, tbl, link.TenantID, refs)
	slog.Info("logical type changed, removed old rows",
		"tenant", link.TenantID,
		"database", link.ExternalDatabaseID,
		"old_type", link.LogicalType,
		"removed", len(deleted))
	if err != nil {
		return fmt.Errorf("failed to remove %s rows: %w", link.LogicalType, err)
	}
	return nil
}
