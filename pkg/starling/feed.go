package starling

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"roundup/pkg/roundup"
)

// FetchBetween returns the feed items of the category with a transaction time
// between from and to.
func (c *Client) FetchBetween(ctx context.Context, accountID, categoryID uuid.UUID, from, to time.Time) ([]roundup.FeedItem, error) {
	path := "/api/v2/feed/account/" + accountID.String() + "/category/" + categoryID.String() + "/transactions-between"
	query := url.Values{}
	query.Set("minTransactionTimestamp", from.UTC().Format(timestampLayout))
	query.Set("maxTransactionTimestamp", to.UTC().Format(timestampLayout))

	var resp feedItemsResponse
	if err := c.do(ctx, http.MethodGet, path, query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.FeedItems == nil {
		return nil, malformed("feed: missing feedItems")
	}

	items := make([]roundup.FeedItem, 0, len(*resp.FeedItems))
	for _, dto := range *resp.FeedItems {
		items = append(items, dto.toFeedItem())
	}
	return items, nil
}
