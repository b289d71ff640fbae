package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

type scriptedPager struct {
	responses []*source.QueryPage
	cursors   []string
}

func (p *scriptedPager) QueryDatabase(_ context.Context, _ string, cursor string) (*source.QueryPage, error) {
	p.cursors = append(p.cursors, cursor)
	resp := p.responses[len(p.cursors)-1]
	return resp, nil
}

func TestWalkCollectsEveryPage(t *testing.T) {
	src := &fakeSource{pages: [][]source.Page{pages("a", "b"), pages("c"), pages("d")}}

	records, err := Walk(context.Background(), src, "db1", 10)
	require.NoError(t, err)
	var ids []string
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	assert.Equal(t, 3, src.queries)
}

func TestWalkEmptyDatabase(t *testing.T) {
	records, err := Walk(context.Background(), &fakeSource{}, "db1", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestWalkStopsAtPageCeiling(t *testing.T) {
	src := &fakeSource{endless: true}

	records, err := Walk(context.Background(), src, "db1", 5)
	assert.ErrorIs(t, err, ErrPaginationProtocol)
	assert.Nil(t, records)
	assert.Equal(t, 5, src.queries)
}

func TestWalkDetectsStalledCursor(t *testing.T) {
	src := &fakeSource{stall: true}

	_, err := Walk(context.Background(), src, "db1", 1000)
	assert.ErrorIs(t, err, ErrPaginationProtocol)
	assert.Equal(t, 2, src.queries)
}

func TestWalkDetectsCursorCycle(t *testing.T) {
	pager := &scriptedPager{responses: []*source.QueryPage{
		{HasMore: true, NextCursor: "x"},
		{HasMore: true, NextCursor: "y"},
		{HasMore: true, NextCursor: "x"},
	}}

	_, err := Walk(context.Background(), pager, "db1", 100)
	assert.ErrorIs(t, err, ErrPaginationProtocol)
	assert.Equal(t, []string{"", "x", "y"}, pager.cursors)
}

func TestWalkRejectsMissingCursor(t *testing.T) {
	pager := &scriptedPager{responses: []*source.QueryPage{{HasMore: true}}}

	_, err := Walk(context.Background(), pager, "db1", 100)
	assert.ErrorIs(t, err, ErrPaginationProtocol)
}

func TestWalkAbortsOnPageError(t *testing.T) {
	src := &fakeSource{pages: [][]source.Page{pages("a"), pages("b"), pages("c")}, failPage: 3}

	records, err := Walk(context.Background(), src, "db1", 10)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.NotErrorIs(t, err, ErrPaginationProtocol)
	assert.Nil(t, records, "a partial walk is never returned")

	var apiErr *source.APIError
	assert.ErrorAs(t, err, &apiErr)
}
