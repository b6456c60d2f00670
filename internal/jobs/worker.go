package jobs

import (
	"context"
	"fmt"

	"github.com/phuslu/log"

	"docdex/internal/logging"
	"docdex/internal/model"
	"docdex/internal/scraper"
	"docdex/internal/store"
)

// Worker executes one job end to end: it clears stale documents, runs
// the crawl and mirrors every page outcome into the store.
type Worker struct {
	store   store.Store
	scraper *scraper.Scraper
	logger  log.Logger
}

func NewWorker(st store.Store, sc *scraper.Scraper) *Worker {
	return &Worker{
		store:   st,
		scraper: sc,
		logger:  logging.Component("jobs.worker"),
	}
}

// Execute runs the crawl for job. onProgress is invoked for every page
// outcome; onError reports per-page store failures that do not abort
// the job. Deletions that fail abort the job: a page the caller was
// told is gone must actually be gone.
func (w *Worker) Execute(ctx context.Context, job *model.Job, onProgress func(model.ProgressSnapshot), onError func(error)) error {
	opts := job.Options

	if !opts.IsRefresh {
		if err := w.store.RemoveAllDocuments(ctx, job.Library, job.Version); err != nil {
			return fmt.Errorf("clearing previous documents: %w", err)
		}
	}

	err := w.scraper.Scrape(ctx, opts, func(p model.ProgressSnapshot) error {
		if err := model.CheckCancelled(ctx); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(p)
		}

		switch {
		case p.Deleted && p.PageID != 0:
			if err := w.store.DeletePage(ctx, p.PageID); err != nil {
				return fmt.Errorf("deleting page %d: %w", p.PageID, err)
			}
			w.logger.Debug().Str("url", p.CurrentURL).Int64("page_id", p.PageID).Msg("Page removed")

		case p.Result != nil:
			// A refresh replaces the stored page under its original
			// url. The old row goes first so a page whose final url
			// changed after redirects does not leave a duplicate.
			if p.PageID != 0 {
				if err := w.store.DeletePage(ctx, p.PageID); err != nil {
					return fmt.Errorf("replacing page %d: %w", p.PageID, err)
				}
			}
			if err := w.store.AddScrapeResult(ctx, job.Library, job.Version, p.Depth, p.Result); err != nil {
				if onError != nil {
					onError(fmt.Errorf("storing %s: %w", p.Result.URL, err))
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return model.CheckCancelled(ctx)
}
