package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/discovery"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/sync"
)

// Engine runs the sync work an event asks for.
type Engine interface {
	SyncLink(ctx context.Context, link *db.Link) *sync.Result
	SyncRecord(ctx context.Context, link *db.Link, recordID string) *sync.Result
	DeleteRecord(ctx context.Context, link *db.Link, recordID string) *sync.Result
	RefreshLink(ctx context.Context, link *db.Link) (*db.Link, error)
}

// LinkFinder resolves the tenants that linked a database.
type LinkFinder interface {
	LinksByDatabaseKey(ctx context.Context, databaseKey string) ([]db.Link, error)
}

// Dispatcher fans one event out to every tenant link it concerns.
type Dispatcher struct {
	links  LinkFinder
	engine Engine
	narrow map[mapping.LogicalType]bool
}

// NewDispatcher creates a dispatcher. narrowTypes lists the logical types
// whose created/updated events take the single-record path; nil means all.
func NewDispatcher(links LinkFinder, engine Engine, narrowTypes []mapping.LogicalType) *Dispatcher {
	if narrowTypes == nil {
		narrowTypes = mapping.AllTypes()
	}
	narrow := make(map[mapping.LogicalType]bool, len(narrowTypes))
	for _, t := range narrowTypes {
		narrow[t] = true
	}
	return &Dispatcher{links: links, engine: engine, narrow: narrow}
}

// Dispatch handles one event. The returned error is non-nil when any
// tenant's work failed, so the sender redelivers the event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) ([]*sync.Result, error) {
	// A pass runs to completion even if the sender hangs up.
	ctx = context.WithoutCancel(ctx)

	if ev.DatabaseID == "" {
		slog.Warn("ignoring webhook event without database", "event", ev.ID, "type", ev.SourceType, "record", ev.RecordID)
		return nil, nil
	}

	links, err := d.links.LinksByDatabaseKey(ctx, discovery.DatabaseKey(ev.DatabaseID))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve links: %w", err)
	}
	if len(links) == 0 {
		slog.Debug("no tenant links database", "database", ev.DatabaseID, "type", ev.SourceType)
		return nil, nil
	}

	results := make([]*sync.Result, 0, len(links))
	var errs []error
	for i := range links {
		res := d.dispatchLink(ctx, &links[i], ev)
		results = append(results, res)
		if !res.Success {
			errs = append(errs, fmt.Errorf("tenant %s: %w", res.TenantID, res.Err()))
		}
	}

	slog.Info("webhook dispatched",
		"event", ev.ID,
		"kind", ev.Kind,
		"database", ev.DatabaseID,
		"record", ev.RecordID,
		"tenants", len(links),
		"failed", len(errs))
	return results, errors.Join(errs...)
}

func (d *Dispatcher) dispatchLink(ctx context.Context, link *db.Link, ev Event) *sync.Result {
	switch ev.Kind {
	case KindDeleted:
		return d.engine.DeleteRecord(ctx, link, ev.RecordID)

	case KindCreated, KindUpdated:
		if !d.narrow[link.LogicalType] {
			return d.engine.SyncLink(ctx, link)
		}
		res := d.engine.SyncRecord(ctx, link, ev.RecordID)
		if res.Success {
			return res
		}
		slog.Warn("narrow update failed, running full sync",
			"tenant", link.TenantID,
			"type", link.LogicalType,
			"record", ev.RecordID,
			"error", res.Error)
		return d.engine.SyncLink(ctx, link)

	case KindSchemaUpdated:
		refreshed, err := d.engine.RefreshLink(ctx, link)
		if err != nil {
			return sync.Failed(link.TenantID, link.LogicalType, link.ExternalDatabaseID, err)
		}
		return d.engine.SyncLink(ctx, refreshed)

	default:
		return sync.Failed(link.TenantID, link.LogicalType, link.ExternalDatabaseID,
			fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Kind))
	}
}
