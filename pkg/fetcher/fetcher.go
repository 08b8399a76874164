// Package fetcher implements the Catalogue Fetcher (C3): it drives one
// marketplace's client across its pages, sequentially so the global
// pacing clock inside the client stays authoritative, and aggregates
// the result into a flat item list plus page counters.
package fetcher

import (
	"context"

	"github.com/skinarb/skinarb/pkg/marketplace"
)

// PageFetcher is the per-page contract both marketplace clients
// satisfy through a thin adapter. totalPages is the advertised page
// count on the first call; a PageFetcher that cannot advertise one
// (marketplace B) returns 0 and signals end-of-stream with an empty
// item slice instead.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, pageSize int) (items []marketplace.Item, totalPages int, err error)
}

// Result is the outcome of one fetch across all pages of a catalogue.
type Result struct {
	Items          []marketplace.Item
	SuccessfulPages int
	FailedPages     int
	TotalItems      int
	Cancelled       bool
}

// Run fetches page 1 to learn the advertised total (if any), then pages
// 2..min(advertised, maxPages) sequentially. ctx cancellation stops the
// loop immediately with whatever has been collected so far; a failed
// page after the client's own retries are exhausted is counted and
// skipped rather than aborting the whole fetch.
func Run(ctx context.Context, pf PageFetcher, maxPages, pageSize int) (Result, error) {
	var out Result

	items, totalPages, err := pf.FetchPage(ctx, 1, pageSize)
	if ctx.Err() != nil {
		out.Cancelled = true
		return out, nil
	}
	if err != nil {
		out.FailedPages++
	} else {
		out.SuccessfulPages++
		out.Items = append(out.Items, items...)
		out.TotalItems += len(items)
		if len(items) == 0 {
			return out, nil
		}
	}

	pages := maxPages
	if totalPages > 0 && totalPages < maxPages {
		pages = totalPages
	}

	for page := 2; page <= pages; page++ {
		select {
		case <-ctx.Done():
			out.Cancelled = true
			return out, nil
		default:
		}

		pageItems, _, pageErr := pf.FetchPage(ctx, page, pageSize)
		if ctx.Err() != nil {
			out.Cancelled = true
			return out, nil
		}
		if pageErr != nil {
			out.FailedPages++
			continue
		}

		out.SuccessfulPages++
		out.TotalItems += len(pageItems)
		out.Items = append(out.Items, pageItems...)

		if totalPages == 0 && len(pageItems) == 0 {
			break
		}
	}

	return out, nil
}
