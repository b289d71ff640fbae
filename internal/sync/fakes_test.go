package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/notionsync-pg/internal/db"
	"github.com/vonshlovens/notionsync-pg/internal/mapping"
	"github.com/vonshlovens/notionsync-pg/internal/source"
)

type storedRecord struct {
	ref        db.RecordRef
	tenantID   string
	databaseID string
	row        db.Row
}

type fakeStore struct {
	mu      gosync.Mutex
	tables  map[string]map[string]*storedRecord
	links   []db.Link
	upserts int
	deletes int

	failDelete   error
	failSetAsset error
}

func newFakeStore(links ...db.Link) *fakeStore {
	return &fakeStore{tables: make(map[string]map[string]*storedRecord), links: links}
}

func recordKey(tenantID, externalID string) string {
	return tenantID + "/" + externalID
}

func (s *fakeStore) table(name string) map[string]*storedRecord {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]*storedRecord)
		s.tables[name] = t
	}
	return t
}

func (s *fakeStore) ExistingRecords(_ context.Context, tbl *mapping.Table, tenantID, databaseID string) (map[string]db.RecordRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]db.RecordRef)
	for _, r := range s.table(tbl.Name) {
		if r.tenantID == tenantID && r.databaseID == databaseID {
			out[r.ref.ExternalID] = r.ref
		}
	}
	return out, nil
}

func (s *fakeStore) GetRecord(_ context.Context, tbl *mapping.Table, tenantID, externalID string) (*db.RecordRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.table(tbl.Name)[recordKey(tenantID, externalID)]
	if !ok {
		return nil, nil
	}
	ref := r.ref
	return &ref, nil
}

func (s *fakeStore) UpsertRecords(_ context.Context, tbl *mapping.Table, tenantID, databaseID string, rows []db.Row, _ int) (map[string]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[string]uuid.UUID, len(rows))
	t := s.table(tbl.Name)
	for _, row := range rows {
		s.upserts++
		key := recordKey(tenantID, row.ExternalID)
		r, ok := t[key]
		if !ok {
			r = &storedRecord{ref: db.RecordRef{ID: uuid.New(), ExternalID: row.ExternalID}, tenantID: tenantID}
			t[key] = r
		}
		r.databaseID = databaseID
		r.ref.SourceAssetKey = row.SourceAssetKey
		r.row = row
		ids[row.ExternalID] = r.ref.ID
	}
	return ids, nil
}

func (s *fakeStore) DeleteRecords(_ context.Context, tbl *mapping.Table, tenantID string, externalIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete != nil {
		return 0, s.failDelete
	}
	var n int64
	t := s.table(tbl.Name)
	for _, id := range externalIDs {
		key := recordKey(tenantID, id)
		if _, ok := t[key]; ok {
			delete(t, key)
			s.deletes++
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) SetAssetURL(_ context.Context, tbl *mapping.Table, id uuid.UUID, assetURL *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSetAsset != nil {
		return s.failSetAsset
	}
	for _, r := range s.table(tbl.Name) {
		if r.ref.ID == id {
			r.ref.AssetURL = assetURL
			return nil
		}
	}
	return errors.New("record not found")
}

func (s *fakeStore) ListLinks(_ context.Context, tenantID string) ([]db.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Link
	for _, l := range s.links {
		if tenantID == "" || l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) LinksByDatabaseKey(_ context.Context, databaseKey string) ([]db.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.Link
	for _, l := range s.links {
		if l.DatabaseKey == databaseKey {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *fakeStore) GetLink(_ context.Context, tenantID, databaseKey string) (*db.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.TenantID == tenantID && l.DatabaseKey == databaseKey {
			link := l
			return &link, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) SaveLink(_ context.Context, link *db.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
		link.CreatedAt = time.Now()
	}
	link.UpdatedAt = time.Now()
	for i, l := range s.links {
		if l.TenantID == link.TenantID && l.DatabaseKey == link.DatabaseKey {
			s.links[i] = *link
			return nil
		}
	}
	s.links = append(s.links, *link)
	return nil
}

func (s *fakeStore) MarkLinkSynced(_ context.Context, linkID uuid.UUID, schema source.Schema, schemaHash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.links {
		if s.links[i].ID == linkID {
			s.links[i].DeclaredSchema = schema
			s.links[i].SchemaHash = schemaHash
			s.links[i].LastSyncAt = &at
			return nil
		}
	}
	return nil
}

func (s *fakeStore) ids(table, tenantID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.table(table) {
		if r.tenantID == tenantID {
			out = append(out, r.ref.ExternalID)
		}
	}
	sort.Strings(out)
	return out
}

func (s *fakeStore) record(table, tenantID, externalID string) *storedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table(table)[recordKey(tenantID, externalID)]
}

type fakeSource struct {
	mu       gosync.Mutex
	database source.Database
	pages    [][]source.Page
	failPage int
	stall    bool
	endless  bool
	records  map[string]*source.Page
	queries  int

	created     map[string]any
	createdPage *source.Page
}

func (f *fakeSource) RetrieveDatabase(_ context.Context, _ string) (*source.Database, error) {
	d := f.database
	return &d, nil
}

func (f *fakeSource) QueryDatabase(_ context.Context, _ string, cursor string) (*source.QueryPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	if f.stall {
		return &source.QueryPage{HasMore: true, NextCursor: "stuck"}, nil
	}
	idx := 0
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "c%d", &idx); err != nil {
			return nil, err
		}
	}
	if f.failPage == idx+1 {
		return nil, &source.APIError{Status: http.StatusBadGateway, Message: "upstream down"}
	}

	page := &source.QueryPage{}
	if idx < len(f.pages) {
		page.Records = f.pages[idx]
	}
	if f.endless || idx < len(f.pages)-1 {
		page.HasMore = true
		page.NextCursor = fmt.Sprintf("c%d", idx+1)
	}
	return page, nil
}

func (f *fakeSource) GetRecord(_ context.Context, _ string, recordID string) (*source.Page, error) {
	p, ok := f.records[recordID]
	if !ok {
		return nil, &source.APIError{Status: http.StatusNotFound, Code: "object_not_found"}
	}
	return p, nil
}

func (f *fakeSource) CreateRecord(_ context.Context, _ string, properties map[string]any) (*source.Page, error) {
	f.created = properties
	return f.createdPage, nil
}

type fakeAssets struct {
	mu          gosync.Mutex
	mirrored    []string
	released    []string
	fail        map[string]bool
	failRelease map[string]bool
}

const cdnBase = "https://cdn.test/assets/"

func (a *fakeAssets) Mirror(_ context.Context, sourceURL, tenantID, recordID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mirrored = append(a.mirrored, sourceURL)
	if a.fail[sourceURL] {
		return ""
	}
	return cdnBase + tenantID + "/" + recordID + ".jpg"
}

func (a *fakeAssets) Release(_ context.Context, assetURL string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failRelease[assetURL] {
		return errors.New("storage unavailable")
	}
	a.released = append(a.released, assetURL)
	return nil
}

func (a *fakeAssets) KeyOf(assetURL string) (string, bool) {
	return strings.CutPrefix(assetURL, cdnBase)
}

func (a *fakeAssets) mirrorCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.mirrored)
}
