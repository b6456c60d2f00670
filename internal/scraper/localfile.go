package scraper

import (
	"context"
	"net/url"
	"strings"

	"docdex/internal/fetch"
	"docdex/internal/model"
	"docdex/internal/pipeline"
)

// LocalFileStrategy ingests documentation trees on disk. Directories
// contribute their children as links; files flow through the pipelines.
// Links found inside file content are never followed.
type LocalFileStrategy struct {
	fetcher   *fetch.FileFetcher
	pipelines *pipeline.Registry
}

func NewLocalFileStrategy(pipelines *pipeline.Registry) *LocalFileStrategy {
	return &LocalFileStrategy{
		fetcher:   fetch.NewFileFetcher(),
		pipelines: pipelines,
	}
}

func (s *LocalFileStrategy) Name() string { return "local-file" }

func (s *LocalFileStrategy) CanHandle(raw string) bool {
	if strings.HasPrefix(raw, "file://") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasPrefix(raw, "/")
	}
	return u.Scheme == ""
}

func (s *LocalFileStrategy) ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error) {
	raw, err := s.fetcher.Fetch(ctx, item.URL, &fetch.Options{ETag: item.ETag})
	if err != nil {
		return nil, err
	}

	switch raw.Status {
	case model.FetchNotModified, model.FetchNotFound:
		return &ItemResult{URL: item.URL, ETag: raw.ETag, Status: raw.Status}, nil
	}

	if raw.MimeType == fetch.MimeDirectory {
		var links []string
		for _, child := range strings.Split(string(raw.Content), "\n") {
			if child != "" {
				links = append(links, child)
			}
		}
		return &ItemResult{URL: item.URL, Links: links, Status: model.FetchSuccess}, nil
	}

	p := s.pipelines.Route(raw)
	if p == nil {
		return &ItemResult{URL: item.URL, Status: model.FetchSuccess}, nil
	}

	result, err := p.Process(ctx, raw, opts)
	if err != nil {
		return nil, err
	}
	result.Links = nil

	return &ItemResult{
		URL:          item.URL,
		Title:        result.Title,
		ContentType:  result.ContentType,
		ETag:         raw.ETag,
		LastModified: raw.LastModified,
		Content:      result,
		Status:       model.FetchSuccess,
	}, nil
}

func (s *LocalFileStrategy) Cleanup() error { return s.fetcher.Close() }
