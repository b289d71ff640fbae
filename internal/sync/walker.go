package sync

import (
	"context"
	"fmt"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

// Pager fetches one page of a database query.
type Pager interface {
	QueryDatabase(ctx context.Context, databaseID, cursor string) (*source.QueryPage, error)
}

// Walk fetches every record of a database. It either returns the complete
// record set or an error; a partial set is never returned.
func Walk(ctx context.Context, pager Pager, databaseID string, maxPages int) ([]source.Page, error) {
	if maxPages <= 0 {
		maxPages = 1000
	}

	var records []source.Page
	seen := make(map[string]bool)
	cursor := ""
	for pages := 0; ; pages++ {
		if pages >= maxPages {
			return nil, fmt.Errorf("%w: database %s has more than %d pages", ErrPaginationProtocol, databaseID, maxPages)
		}

		page, err := pager.QueryDatabase(ctx, databaseID, cursor)
		if err != nil {
			return nil, sourceErr(fmt.Sprintf("query page %d of %s", pages+1, databaseID), err)
		}
		records = append(records, page.Records...)

		if !page.HasMore {
			return records, nil
		}
		next := page.NextCursor
		switch {
		case next == "":
			return nil, fmt.Errorf("%w: database %s reported more pages without a cursor", ErrPaginationProtocol, databaseID)
		case next == cursor || seen[next]:
			return nil, fmt.Errorf("%w: database %s cursor stalled at %q", ErrPaginationProtocol, databaseID, next)
		}
		seen[next] = true
		cursor = next
	}
}
