package fetch

import (
	"context"
	"time"

	"docdex/internal/model"
)

// DefaultTimeout bounds a single fetch when the caller does not say
// otherwise.
const DefaultTimeout = 30 * time.Second

// Options tune a single Fetch call.
type Options struct {
	// ETag enables a conditional request (If-None-Match for HTTP,
	// mtime-hash comparison for files).
	ETag string
	// Headers are sent verbatim on HTTP requests.
	Headers map[string]string
	// FollowRedirects controls whether 3xx responses are chased. The
	// final URL always lands in RawContent.Source.
	FollowRedirects bool
	Timeout         time.Duration
	MaxRetries      int
	// Mode selects the engine for http(s) sources when routed through
	// the auto fetcher.
	Mode model.ScrapeMode
}

func (o *Options) timeout() time.Duration {
	if o == nil || o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Fetcher retrieves raw bytes for one source. Implementations map 304
// responses to FetchNotModified and 404/ENOENT to FetchNotFound instead
// of returning an error, because both are expected crawl outcomes.
type Fetcher interface {
	CanFetch(source string) bool
	Fetch(ctx context.Context, source string, opts *Options) (*model.RawContent, error)
	Close() error
}
