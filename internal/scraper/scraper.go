package scraper

import (
	"context"
	"fmt"
	"net/url"

	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"docdex/internal/logging"
	"docdex/internal/model"
)

// ProgressFunc receives one snapshot per counted page. Returning an
// error aborts the scrape; the worker uses this for cancellation and
// for fatal store failures.
type ProgressFunc func(model.ProgressSnapshot) error

// Scraper runs a breadth-first crawl over one source, dispatching each
// frontier item to the strategy that claims its URL.
type Scraper struct {
	strategies *Registry
	logger     log.Logger
}

func New(strategies *Registry) *Scraper {
	return &Scraper{
		strategies: strategies,
		logger:     logging.Component("scraper"),
	}
}

func (s *Scraper) Cleanup() error { return s.strategies.Cleanup() }

// batchOutcome pairs a frontier item with its processing result.
type batchOutcome struct {
	item model.QueueItem
	res  *ItemResult
	err  error
}

// Scrape crawls from opts.URL (plus any refresh initialQueue) until the
// frontier empties, the page budget is spent, or the context is
// cancelled. Counting rule: an item counts against the budget iff it
// has a persistent identity (pageId) or produced content; pure
// discovery visits are free.
func (s *Scraper) Scrape(ctx context.Context, opts model.ScraperOptions, onProgress ProgressFunc) error {
	opts = opts.Normalized()

	filter, err := NewFilter(opts.URL, opts)
	if err != nil {
		return fmt.Errorf("%w: bad root url %q: %v", model.ErrValidation, opts.URL, err)
	}
	norm := DefaultNormalizeOptions()

	visited := map[string]bool{}
	var queue []model.QueueItem

	for _, item := range opts.InitialQueue {
		key := NormalizeURL(item.URL, norm)
		if !visited[key] {
			visited[key] = true
			queue = append(queue, item)
		}
	}
	if rootKey := NormalizeURL(opts.URL, norm); !visited[rootKey] {
		visited[rootKey] = true
		queue = append([]model.QueueItem{{URL: opts.URL, Depth: 0}}, queue...)
	}

	pagesScraped := 0
	totalDiscovered := len(queue)
	effectiveTotal := len(queue)
	if opts.MaxPages > 0 && effectiveTotal > opts.MaxPages {
		effectiveTotal = opts.MaxPages
	}

	for len(queue) > 0 {
		if opts.MaxPages > 0 && pagesScraped >= opts.MaxPages {
			break
		}
		if err := model.CheckCancelled(ctx); err != nil {
			return err
		}

		n := opts.MaxConcurrency
		if opts.MaxPages > 0 && opts.MaxPages-pagesScraped < n {
			n = opts.MaxPages - pagesScraped
		}
		if len(queue) < n {
			n = len(queue)
		}
		batch := queue[:n]
		queue = queue[n:]

		outcomes := make([]batchOutcome, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, item := range batch {
			i, item := i, item
			g.Go(func() error {
				outcomes[i] = s.processOne(gctx, item, opts)
				return nil
			})
		}
		_ = g.Wait()

		var discovered []model.QueueItem
		for _, out := range outcomes {
			if out.res == nil && out.err == nil {
				continue // dropped (over max depth)
			}
			if out.err != nil {
				if model.IsCancelled(out.err) {
					return model.CancelledError(out.err)
				}
				if opts.IgnoreErrors {
					s.logger.Warn().Err(out.err).Str("url", out.item.URL).Msg("Page failed, continuing")
					continue
				}
				return out.err
			}

			counted, snapshot := s.applyOutcome(out, opts, filter, pagesScraped, effectiveTotal, totalDiscovered)
			if counted {
				pagesScraped++
				snapshot.PagesScraped = pagesScraped
				if err := onProgress(snapshot); err != nil {
					return err
				}
			}

			nextDepth := out.item.Depth + 1
			if nextDepth > opts.MaxDepth {
				continue
			}
			base := out.res.URL
			if base == "" {
				base = out.item.URL
			}
			for _, link := range out.res.Links {
				resolved := resolveLink(base, link)
				if resolved == "" || !filter.ShouldProcess(resolved) {
					continue
				}
				discovered = append(discovered, model.QueueItem{URL: resolved, Depth: nextDepth})
			}
		}

		// Dedup once per batch so parallel items cannot double-queue the
		// same URL.
		for _, item := range discovered {
			key := NormalizeURL(item.URL, norm)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, item)
			totalDiscovered++
			if opts.MaxPages <= 0 || effectiveTotal < opts.MaxPages {
				effectiveTotal++
			}
		}
	}

	return nil
}

func (s *Scraper) processOne(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) batchOutcome {
	if item.Depth > opts.MaxDepth {
		return batchOutcome{item: item}
	}
	if err := model.CheckCancelled(ctx); err != nil {
		return batchOutcome{item: item, err: err}
	}

	strategy := s.strategies.Resolve(item.URL)
	if strategy == nil {
		return batchOutcome{item: item, err: fmt.Errorf("%w: no strategy for %q", model.ErrValidation, item.URL)}
	}

	res, err := strategy.ProcessItem(ctx, item, opts)
	return batchOutcome{item: item, res: res, err: err}
}

// applyOutcome translates one strategy result into the counting rule
// and a progress snapshot. The root item's final URL becomes the new
// canonical base for scope checks.
func (s *Scraper) applyOutcome(out batchOutcome, opts model.ScraperOptions, filter *Filter, pagesScraped, effectiveTotal, totalDiscovered int) (bool, model.ProgressSnapshot) {
	snapshot := model.ProgressSnapshot{
		PagesScraped:    pagesScraped,
		TotalPages:      effectiveTotal,
		TotalDiscovered: totalDiscovered,
		CurrentURL:      out.item.URL,
		Depth:           out.item.Depth,
		MaxDepth:        opts.MaxDepth,
		PageID:          out.item.PageID,
	}

	switch out.res.Status {
	case model.FetchNotModified:
		return out.item.PageID != 0 || out.res.Content != nil, snapshot
	case model.FetchNotFound:
		snapshot.Deleted = true
		return out.item.PageID != 0 || out.res.Content != nil, snapshot
	}

	if out.item.Depth == 0 && out.res.URL != "" {
		filter.SetBase(out.res.URL)
	}

	if out.res.Content == nil {
		return out.item.PageID != 0, snapshot
	}

	snapshot.Result = &model.ScrapeResult{
		URL:          out.res.URL,
		Title:        out.res.Content.Title,
		ContentType:  out.res.Content.ContentType,
		TextContent:  out.res.Content.TextContent,
		ETag:         out.res.ETag,
		LastModified: out.res.LastModified,
		Links:        out.res.Content.Links,
		Errors:       out.res.Content.Errors,
		Chunks:       out.res.Content.Chunks,
	}
	if snapshot.Result.URL == "" {
		snapshot.Result.URL = out.item.URL
	}
	if snapshot.Result.Title == "" {
		snapshot.Result.Title = out.res.Title
	}
	return true, snapshot
}

// resolveLink makes a discovered link absolute against the page's final
// URL. Already-absolute links pass through.
func resolveLink(base, link string) string {
	l, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if l.IsAbs() {
		return link
	}
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" {
		// Local path bases: links from file strategies are absolute
		// paths already.
		return link
	}
	return b.ResolveReference(l).String()
}
