// Package marketaclient implements the rate-limited client (C2) for
// marketplace A: paginated GET reads against a catalogue endpoint that
// reports total_pages up front.
package marketaclient

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/transport"
)

// rawItem mirrors marketplace A's catalogue JSON shape for one listing.
type rawItem struct {
	Key         string  `json:"market_hash_name"`
	DisplayName string  `json:"display_name"`
	Price       *string `json:"price"`
	SellCount   *int    `json:"sell_count"`
	SourceLink  string  `json:"source_link"`
}

type pageResponse struct {
	Items      []rawItem `json:"items"`
	TotalPages int       `json:"total_pages"`
}

// Client fetches paginated catalogue pages from marketplace A over a
// shared transport.Client. Credential freshness is transport's concern
// (see transport.CredentialsFunc); this client only shapes requests.
type Client struct {
	transport *transport.Client
}

// New builds a Client backed by an already-configured transport.Client
// (pacing, retries, and circuit breaker are transport's concern).
func New(t *transport.Client) *Client {
	return &Client{transport: t}
}

// FetchPage requests one page and reports the advertised total page
// count alongside the decoded items.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) ([]marketplace.Item, int, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("cache_buster", strconv.FormatInt(time.Now().UnixNano(), 10))

	var resp pageResponse
	if err := c.transport.Get(ctx, "/catalogue", q, &resp); err != nil {
		return nil, 0, err
	}

	fetchedAt := time.Now().UTC()
	items := make([]marketplace.Item, 0, len(resp.Items))
	for _, raw := range resp.Items {
		if raw.Price == nil {
			continue
		}
		price, err := decimal.NewFromString(*raw.Price)
		if err != nil {
			return nil, 0, skerrors.Wrap(skerrors.CodeValidationFailed, fmt.Sprintf("parse price for %s", raw.Key), err)
		}
		items = append(items, marketplace.Item{
			Key:         raw.Key,
			DisplayName: raw.DisplayName,
			Price:       price,
			SellCount:   raw.SellCount,
			SourceLink:  raw.SourceLink,
			FetchedAt:   fetchedAt,
		})
	}
	return items, resp.TotalPages, nil
}
