package fetcher

import (
	"context"

	"github.com/skinarb/skinarb/pkg/marketplace"
)

// bPageFetcher is the subset of marketbclient.Client's signature this
// package adapts to PageFetcher: B never advertises a total page count.
type bPageFetcher interface {
	FetchPage(ctx context.Context, pageIndex, pageSize int) ([]marketplace.Item, error)
}

// AdaptB wraps a marketbclient.Client as a PageFetcher, reporting
// totalPages=0 on every call so Run relies on the empty-page stop rule
// instead.
func AdaptB(c bPageFetcher) PageFetcher {
	return bAdapter{c}
}

type bAdapter struct {
	client bPageFetcher
}

func (a bAdapter) FetchPage(ctx context.Context, page, pageSize int) ([]marketplace.Item, int, error) {
	items, err := a.client.FetchPage(ctx, page-1, pageSize)
	return items, 0, err
}
