// Package marketbclient implements the rate-limited client (C2) for
// marketplace B: paginated POST reads against a query endpoint that
// does not advertise a total page count, so end-of-stream is inferred
// from an empty page.
package marketbclient

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	skerrors "github.com/skinarb/skinarb/pkg/errors"
	"github.com/skinarb/skinarb/pkg/marketplace"
	"github.com/skinarb/skinarb/pkg/transport"
)

// queryRequest mirrors marketplace B's catalogue-query POST body.
type queryRequest struct {
	ListSortType int `json:"listSortType"`
	SortType     int `json:"sortType"`
	PageSize     int `json:"pageSize"`
	PageIndex    int `json:"pageIndex"`
}

type rawItem struct {
	Key         string  `json:"hashName"`
	DisplayName string  `json:"displayName"`
	Price       *string `json:"sellPrice"`
	SellCount   *int    `json:"sellCount"`
	SourceLink  string  `json:"sourceLink"`
}

type queryResponse struct {
	Data struct {
		Items []rawItem `json:"items"`
	} `json:"data"`
}

const (
	defaultListSortType = 3
	defaultSortType     = 0
)

// Client fetches paginated catalogue pages from marketplace B over a
// shared transport.Client.
type Client struct {
	transport *transport.Client
}

// New builds a Client backed by an already-configured transport.Client.
func New(t *transport.Client) *Client {
	return &Client{transport: t}
}

// FetchPage requests one page. An empty item list signals end-of-stream
// to the caller (marketplace B does not advertise a total page count).
func (c *Client) FetchPage(ctx context.Context, pageIndex, pageSize int) ([]marketplace.Item, error) {
	body := queryRequest{
		ListSortType: defaultListSortType,
		SortType:     defaultSortType,
		PageSize:     pageSize,
		PageIndex:    pageIndex,
	}

	var resp queryResponse
	if err := c.transport.Post(ctx, "/query", body, &resp); err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	items := make([]marketplace.Item, 0, len(resp.Data.Items))
	for _, raw := range resp.Data.Items {
		if raw.Price == nil {
			continue
		}
		price, err := decimal.NewFromString(*raw.Price)
		if err != nil {
			return nil, skerrors.Wrap(skerrors.CodeValidationFailed, fmt.Sprintf("parse price for %s", raw.Key), err)
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
	return items, nil
}
