package webhook

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/discovery"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/sync"
)

const (
	dbHyphenated = "1a2b3c4d-1a2b-1a2b-1a2b-1a2b3c4d5e6f"
	dbCompact    = "1a2b3c4d1a2b1a2b1a2b1a2b3c4d5e6f"
	pageID       = "9f8e7d6c-9f8e-9f8e-9f8e-9f8e7d6c5b4a"
)

func TestParseEventNative(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Event
	}{
		{
			name: "created",
			body: `{"id":"ev1","type":"page.created","entity":{"id":"9f8e7d6c9f8e9f8e9f8e9f8e7d6c5b4a","type":"page"},"data":{"parent":{"id":"` + dbCompact + `","type":"database"}}}`,
			want: Event{ID: "ev1", Kind: KindCreated, SourceType: "page.created", DatabaseID: dbHyphenated, RecordID: pageID},
		},
		{
			name: "properties updated",
			body: `{"id":"ev2","type":"page.properties_updated","entity":{"id":"` + pageID + `","type":"page"},"data":{"parent":{"id":"` + dbHyphenated + `","type":"database"}}}`,
			want: Event{ID: "ev2", Kind: KindUpdated, SourceType: "page.properties_updated", DatabaseID: dbHyphenated, RecordID: pageID},
		},
		{
			name: "deleted",
			body: `{"id":"ev3","type":"page.deleted","entity":{"id":"` + pageID + `","type":"page"},"data":{"parent":{"id":"` + dbHyphenated + `","type":"database"}}}`,
			want: Event{ID: "ev3", Kind: KindDeleted, SourceType: "page.deleted", DatabaseID: dbHyphenated, RecordID: pageID},
		},
		{
			name: "schema updated",
			body: `{"id":"ev4","type":"database.schema_updated","entity":{"id":"` + dbCompact + `","type":"database"}}`,
			want: Event{ID: "ev4", Kind: KindSchemaUpdated, SourceType: "database.schema_updated", DatabaseID: dbHyphenated},
		},
		{
			name: "page under a page",
			body: `{"id":"ev5","type":"page.created","entity":{"id":"` + pageID + `","type":"page"},"data":{"parent":{"id":"` + dbHyphenated + `","type":"page"}}}`,
			want: Event{ID: "ev5", Kind: KindCreated, SourceType: "page.created", RecordID: pageID},
		},
		{
			name: "moved out of a database",
			body: `{"id":"ev6","type":"page.moved","entity":{"id":"` + pageID + `","type":"page"},"data":{"parent":{"id":"` + dbHyphenated + `","type":"page"}}}`,
			want: Event{ID: "ev6", Kind: KindUpdated, SourceType: "page.moved", RecordID: pageID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseEvent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestParseEventSimple(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"eventKind":"Deleted","externalDatabaseId":"` + dbCompact + `","recordId":"r5"}`))
	require.NoError(t, err)
	assert.Equal(t, KindDeleted, ev.Kind)
	assert.Equal(t, dbHyphenated, ev.DatabaseID)
	assert.Equal(t, "r5", ev.RecordID)
}

func TestParseEventVerification(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"verification_token":"secret_abc"}`))
	require.NoError(t, err)
	assert.True(t, ev.Verification())
	assert.Equal(t, "secret_abc", ev.VerificationToken)
}

func TestParseEventErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"not json", `{`, ErrInvalidPayload},
		{"no type", `{"id":"x"}`, ErrInvalidPayload},
		{"comment event", `{"type":"comment.created","entity":{"id":"c1"}}`, ErrUnsupportedEvent},
		{"no entity", `{"type":"page.created"}`, ErrInvalidPayload},
		{"unknown kind", `{"eventKind":"moved","externalDatabaseId":"d","recordId":"r"}`, ErrUnsupportedEvent},
		{"missing record", `{"eventKind":"created","externalDatabaseId":"d"}`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent([]byte(tt.body))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"type":"page.created"}`)
	sig := Sign("s3cret", body)

	assert.NoError(t, VerifySignature("s3cret", sig, body))
	assert.NoError(t, VerifySignature("s3cret", sig[len("sha256="):], body), "bare hex is accepted")
	assert.ErrorIs(t, VerifySignature("other", sig, body), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", sig, []byte(`{}`)), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", "", body), ErrMissingSignature)
	assert.ErrorIs(t, VerifySignature("", sig, body), ErrNoSecret)
}

type call struct {
	op       string
	tenantID string
	recordID string
}

type fakeEngine struct {
	calls      []call
	records    map[string]map[string]bool
	failNarrow bool
	failFull   bool
	refreshed  *db.Link
	ctxErrs    []error
}

func (f *fakeEngine) result(link *db.Link) *sync.Result {
	return &sync.Result{Success: true, TenantID: link.TenantID, Type: link.LogicalType, Added: []string{}, Removed: []string{}}
}

func (f *fakeEngine) SyncLink(ctx context.Context, link *db.Link) *sync.Result {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.calls = append(f.calls, call{"full", link.TenantID, ""})
	if f.failFull {
		return sync.Failed(link.TenantID, link.LogicalType, link.ExternalDatabaseID, sync.ErrSourceUnavailable)
	}
	return f.result(link)
}

func (f *fakeEngine) SyncRecord(ctx context.Context, link *db.Link, recordID string) *sync.Result {
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.calls = append(f.calls, call{"narrow", link.TenantID, recordID})
	if f.failNarrow {
		return sync.Failed(link.TenantID, link.LogicalType, link.ExternalDatabaseID, sync.ErrSourceUnavailable)
	}
	return f.result(link)
}

func (f *fakeEngine) DeleteRecord(_ context.Context, link *db.Link, recordID string) *sync.Result {
	f.calls = append(f.calls, call{"delete", link.TenantID, recordID})
	res := f.result(link)
	if f.records[link.TenantID][recordID] {
		delete(f.records[link.TenantID], recordID)
		res.Removed = []string{recordID}
	}
	return res
}

func (f *fakeEngine) RefreshLink(_ context.Context, link *db.Link) (*db.Link, error) {
	f.calls = append(f.calls, call{"refresh", link.TenantID, ""})
	if f.refreshed != nil {
		return f.refreshed, nil
	}
	return link, nil
}

type fakeLinks []db.Link

func (l fakeLinks) LinksByDatabaseKey(_ context.Context, key string) ([]db.Link, error) {
	var out []db.Link
	for _, link := range l {
		if link.DatabaseKey == key {
			out = append(out, link)
		}
	}
	return out, nil
}

func newLink(tenantID, databaseID string, lt mapping.LogicalType) db.Link {
	return db.Link{
		ID:                 uuid.New(),
		TenantID:           tenantID,
		ExternalDatabaseID: databaseID,
		DatabaseKey:        discovery.DatabaseKey(databaseID),
		LogicalType:        lt,
	}
}

func TestDispatchDeleteReachesEveryMatchingTenant(t *testing.T) {
	links := fakeLinks{
		newLink("tenant-a", dbHyphenated, mapping.People),
		newLink("tenant-b", dbCompact, mapping.People),
		newLink("tenant-c", "ffffffffffffffffffffffffffffffff", mapping.People),
	}
	engine := &fakeEngine{records: map[string]map[string]bool{
		"tenant-a": {"r5": true, "r6": true},
		"tenant-b": {"r5": true},
		"tenant-c": {"r5": true},
	}}
	d := NewDispatcher(links, engine, nil)

	results, err := d.Dispatch(context.Background(), Event{Kind: KindDeleted, DatabaseID: dbCompact, RecordID: "r5"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var tenants []string
	for _, c := range engine.calls {
		assert.Equal(t, "delete", c.op, "a delete never walks the database")
		tenants = append(tenants, c.tenantID)
	}
	sort.Strings(tenants)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, tenants)
	assert.Equal(t, map[string]bool{"r6": true}, engine.records["tenant-a"])
	assert.Empty(t, engine.records["tenant-b"])
	assert.Equal(t, map[string]bool{"r5": true}, engine.records["tenant-c"])
}

func TestDispatchUpdateUsesNarrowPath(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(fakeLinks{newLink("t1", dbHyphenated, mapping.Todos)}, engine, nil)

	_, err := d.Dispatch(context.Background(), Event{Kind: KindUpdated, DatabaseID: dbHyphenated, RecordID: pageID})
	require.NoError(t, err)
	assert.Equal(t, []call{{"narrow", "t1", pageID}}, engine.calls)
}

func TestDispatchNarrowFailureFallsBackToFullSync(t *testing.T) {
	engine := &fakeEngine{failNarrow: true}
	d := NewDispatcher(fakeLinks{newLink("t1", dbHyphenated, mapping.Todos)}, engine, nil)

	results, err := d.Dispatch(context.Background(), Event{Kind: KindCreated, DatabaseID: dbHyphenated, RecordID: pageID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, []call{{"narrow", "t1", pageID}, {"full", "t1", ""}}, engine.calls)
}

func TestDispatchOutlivesSenderDisconnect(t *testing.T) {
	engine := &fakeEngine{failNarrow: true}
	d := NewDispatcher(fakeLinks{newLink("t1", dbHyphenated, mapping.Todos)}, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Dispatch(ctx, Event{Kind: KindUpdated, DatabaseID: dbHyphenated, RecordID: pageID})
	require.NoError(t, err)
	assert.Equal(t, []error{nil, nil}, engine.ctxErrs)
}

func TestDispatchFullSyncForWideTypes(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(fakeLinks{newLink("t1", dbHyphenated, mapping.Tracking)}, engine, []mapping.LogicalType{mapping.Todos})

	_, err := d.Dispatch(context.Background(), Event{Kind: KindUpdated, DatabaseID: dbHyphenated, RecordID: pageID})
	require.NoError(t, err)
	assert.Equal(t, []call{{"full", "t1", ""}}, engine.calls)
}

func TestDispatchSchemaUpdateRefreshesThenSyncs(t *testing.T) {
	link := newLink("t1", dbHyphenated, mapping.Todos)
	refreshed := link
	refreshed.TenantID = "t1"
	refreshed.LogicalType = mapping.People
	engine := &fakeEngine{refreshed: &refreshed}
	d := NewDispatcher(fakeLinks{link}, engine, nil)

	results, err := d.Dispatch(context.Background(), Event{Kind: KindSchemaUpdated, DatabaseID: dbCompact})
	require.NoError(t, err)
	assert.Equal(t, []call{{"refresh", "t1", ""}, {"full", "t1", ""}}, engine.calls)
	assert.Equal(t, mapping.People, results[0].Type)
}

func TestDispatchReportsFailure(t *testing.T) {
	engine := &fakeEngine{failNarrow: true, failFull: true}
	d := NewDispatcher(fakeLinks{newLink("t1", dbHyphenated, mapping.Todos)}, engine, nil)

	results, err := d.Dispatch(context.Background(), Event{Kind: KindUpdated, DatabaseID: dbHyphenated, RecordID: pageID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sync.ErrSourceUnavailable))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestDispatchUnknownDatabaseIsIgnored(t *testing.T) {
	engine := &fakeEngine{}
	d := NewDispatcher(fakeLinks{}, engine, nil)

	results, err := d.Dispatch(context.Background(), Event{Kind: KindDeleted, DatabaseID: dbHyphenated, RecordID: "r1"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = d.Dispatch(context.Background(), Event{Kind: KindDeleted, RecordID: "r1"})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, engine.calls)
}
