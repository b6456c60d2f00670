package scraper

import (
	"context"
	"net/url"
	"time"

	"github.com/phuslu/log"

	"docdex/internal/fetch"
	"docdex/internal/logging"
	"docdex/internal/model"
	"docdex/internal/pipeline"
)

// WebStrategyConfig tunes the web strategy.
type WebStrategyConfig struct {
	UserAgent     string
	Timeout       time.Duration
	MaxRetries    int
	RespectRobots bool
}

// WebStrategy fetches http(s) URLs through the auto-detecting fetcher
// and routes the bytes through the content pipelines.
type WebStrategy struct {
	fetcher   fetch.Fetcher
	pipelines *pipeline.Registry
	robots    *robotsCache
	cfg       WebStrategyConfig
	logger    log.Logger
}

func NewWebStrategy(fetcher fetch.Fetcher, pipelines *pipeline.Registry, cfg WebStrategyConfig) *WebStrategy {
	s := &WebStrategy{
		fetcher:   fetcher,
		pipelines: pipelines,
		cfg:       cfg,
		logger:    logging.Component("scraper.web"),
	}
	if cfg.RespectRobots {
		s.robots = newRobotsCache(cfg.UserAgent)
	}
	return s
}

func (s *WebStrategy) Name() string { return "web" }

func (s *WebStrategy) CanHandle(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (s *WebStrategy) ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error) {
	if s.robots != nil && !s.robots.Allowed(ctx, item.URL) {
		s.logger.Debug().Str("url", item.URL).Msg("Disallowed by robots.txt")
		return &ItemResult{URL: item.URL, Status: model.FetchSuccess}, nil
	}

	raw, err := s.fetcher.Fetch(ctx, item.URL, &fetch.Options{
		ETag:            item.ETag,
		Headers:         opts.Headers,
		FollowRedirects: opts.FollowRedirects,
		Timeout:         s.cfg.Timeout,
		MaxRetries:      s.cfg.MaxRetries,
		Mode:            opts.ScrapeMode,
	})
	if err != nil {
		return nil, err
	}

	switch raw.Status {
	case model.FetchNotModified, model.FetchNotFound:
		return &ItemResult{URL: raw.Source, ETag: raw.ETag, Status: raw.Status}, nil
	}

	p := s.pipelines.Route(raw)
	if p == nil {
		s.logger.Debug().Str("url", item.URL).Str("mime", raw.MimeType).Msg("No pipeline accepts content, skipping")
		return &ItemResult{URL: raw.Source, Status: model.FetchSuccess}, nil
	}

	result, err := p.Process(ctx, raw, opts)
	if err != nil {
		return nil, err
	}

	return &ItemResult{
		URL:          raw.Source,
		Title:        result.Title,
		ContentType:  result.ContentType,
		ETag:         raw.ETag,
		LastModified: raw.LastModified,
		Content:      result,
		Links:        result.Links,
		Status:       model.FetchSuccess,
	}, nil
}

func (s *WebStrategy) Cleanup() error {
	if err := s.fetcher.Close(); err != nil {
		return err
	}
	return s.pipelines.Close()
}
