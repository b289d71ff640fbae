package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
)

type assetTask struct {
	id         uuid.UUID
	externalID string
	sourceURL  string
	sourceKey  string
	prev       *db.RecordRef
}

func (t assetTask) prevAssetURL() string {
	if t.prev == nil || t.prev.AssetURL == nil {
		return ""
	}
	return *t.prev.AssetURL
}

func (t assetTask) unchanged() bool {
	return t.prev != nil &&
		t.prev.SourceAssetKey != nil &&
		*t.prev.SourceAssetKey == t.sourceKey &&
		t.prevAssetURL() != ""
}

// mirrorAssets runs after the rows are committed. Failures only degrade
// asset pointers and come back as one combined warning.
func (e *Engine) mirrorAssets(ctx context.Context, tbl *mapping.Table, tenantID string, tasks []assetTask) error {
	var pending []assetTask
	for _, t := range tasks {
		if t.sourceURL == "" && t.prevAssetURL() == "" {
			continue
		}
		if t.sourceURL != "" && t.unchanged() {
			continue
		}
		pending = append(pending, t)
	}
	if len(pending) == 0 {
		return nil
	}

	bar := progressbar.DefaultSilent(int64(len(pending)))
	if e.opts.ShowProgress {
		bar = progressbar.NewOptions(len(pending),
			progressbar.OptionSetDescription("Mirroring assets"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)
	}

	var (
		mu   gosync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(e.opts.MaxConcurrency)
	for _, t := range pending {
		g.Go(func() error {
			err := e.syncAsset(ctx, tbl, tenantID, t)
			_ = bar.Add(1)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	_ = bar.Finish()
	return errs
}

func (e *Engine) syncAsset(ctx context.Context, tbl *mapping.Table, tenantID string, t assetTask) error {
	prevURL := t.prevAssetURL()

	if t.sourceURL == "" {
		return e.clearAsset(ctx, tbl, t, prevURL)
	}

	assetURL := e.assets.Mirror(ctx, t.sourceURL, tenantID, t.id.String())
	if assetURL == "" {
		var err error
		if prevURL != "" {
			// The old copy no longer matches the source.
			err = e.clearAsset(ctx, tbl, t, prevURL)
		}
		return multierr.Append(fmt.Errorf("%w: record %s", ErrAssetMirror, t.externalID), err)
	}

	if err := e.store.SetAssetURL(ctx, tbl, t.id, &assetURL); err != nil {
		err = fmt.Errorf("%w: record %s: %w", ErrAssetMirror, t.externalID, err)
		// An object under a new key has no row pointing at it.
		if e.objectKey(assetURL) != e.objectKey(prevURL) {
			if relErr := e.assets.Release(ctx, assetURL); relErr != nil {
				err = multierr.Append(err, fmt.Errorf("%w: release unreferenced asset of %s: %w", ErrAssetMirror, t.externalID, relErr))
			}
		}
		return err
	}
	if prevURL != "" && e.objectKey(prevURL) != e.objectKey(assetURL) {
		if err := e.assets.Release(ctx, prevURL); err != nil {
			return fmt.Errorf("%w: release superseded asset of %s: %w", ErrAssetMirror, t.externalID, err)
		}
	}
	return nil
}

// clearAsset drops the row's pointer first and the object second so a row
// never points at a missing object.
func (e *Engine) clearAsset(ctx context.Context, tbl *mapping.Table, t assetTask, prevURL string) error {
	if prevURL == "" {
		return nil
	}
	if err := e.store.SetAssetURL(ctx, tbl, t.id, nil); err != nil {
		return fmt.Errorf("%w: clear asset of %s: %w", ErrAssetMirror, t.externalID, err)
	}
	if err := e.assets.Release(ctx, prevURL); err != nil {
		return fmt.Errorf("%w: release asset of %s: %w", ErrAssetMirror, t.externalID, err)
	}
	return nil
}

func (e *Engine) objectKey(assetURL string) string {
	if key, ok := e.assets.KeyOf(assetURL); ok {
		return key
	}
	return assetURL
}

// deleteRecords releases each record's durable asset and then deletes the
// rows whose release succeeded. Records whose asset could not be released
// stay until a later pass so no object is ever orphaned. If the delete
// itself fails, the released rows lose their asset pointer.
func (e *Engine) deleteRecords(ctx context.Context, tbl *mapping.Table, tenantID string, refs []db.RecordRef) ([]string, error) {
	deletable := make([]string, 0, len(refs))
	var (
		released []db.RecordRef
		errs     error
	)
	for _, ref := range refs {
		if ref.AssetURL != nil && *ref.AssetURL != "" {
			if err := e.assets.Release(ctx, *ref.AssetURL); err != nil {
				slog.Warn("keeping record whose asset could not be released",
					"tenant", tenantID,
					"external_id", ref.ExternalID,
					"error", err)
				errs = multierr.Append(errs, fmt.Errorf("%w: release asset of %s: %w", ErrDeleteFailure, ref.ExternalID, err))
				continue
			}
			released = append(released, ref)
		}
		deletable = append(deletable, ref.ExternalID)
	}
	if len(deletable) == 0 {
		return []string{}, errs
	}

	if _, err := e.store.DeleteRecords(ctx, tbl, tenantID, deletable); err != nil {
		slog.Error("failed to delete removed records", "tenant", tenantID, "table", tbl.Name, "error", err)
		errs = multierr.Append(errs, fmt.Errorf("%w: %w", ErrDeleteFailure, err))
		for _, ref := range released {
			if clearErr := e.store.SetAssetURL(ctx, tbl, ref.ID, nil); clearErr != nil {
				errs = multierr.Append(errs, fmt.Errorf("%w: clear released asset of %s: %w", ErrDeleteFailure, ref.ExternalID, clearErr))
			}
		}
		return []string{}, errs
	}
	return deletable, errs
}
