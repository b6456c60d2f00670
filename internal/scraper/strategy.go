package scraper

import (
	"context"

	"docdex/internal/model"
	"docdex/internal/pipeline"
)

// ItemResult is what a strategy reports for one frontier item. Content
// is nil for discovery-only visits (directory listings, repo roots) and
// for conditional fetches that came back unchanged.
type ItemResult struct {
	URL          string // final URL after redirects
	Title        string
	ContentType  string
	ETag         string
	LastModified string
	Content      *pipeline.Result
	Links        []string
	Status       model.FetchStatus
}

// Strategy handles one family of sources (web, local files, GitHub).
type Strategy interface {
	Name() string
	CanHandle(url string) bool
	ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error)
	Cleanup() error
}

// Registry resolves the first strategy that claims a URL. Registration
// order is the match order, so specific strategies go before the
// general web strategy.
type Registry struct {
	strategies []Strategy
}

func NewStrategyRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

func (r *Registry) Resolve(url string) Strategy {
	for _, s := range r.strategies {
		if s.CanHandle(url) {
			return s
		}
	}
	return nil
}

func (r *Registry) Cleanup() error {
	var first error
	for _, s := range r.strategies {
		if err := s.Cleanup(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
