package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/phuslu/log"

	"docdex/internal/logging"
	"docdex/internal/model"
)

// HTTPFetcher retrieves http(s) URLs with conditional-request support
// and exponential-backoff retries for transient failures.
type HTTPFetcher struct {
	UserAgent  string
	MaxRetries int
	logger     log.Logger
}

func NewHTTPFetcher(userAgent string, maxRetries int) *HTTPFetcher {
	if maxRetries <= 0 {
		maxRetries = 4
	}
	return &HTTPFetcher{
		UserAgent:  userAgent,
		MaxRetries: maxRetries,
		logger:     logging.Component("fetch.http"),
	}
}

func (f *HTTPFetcher) CanFetch(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (f *HTTPFetcher) Fetch(ctx context.Context, source string, opts *Options) (*model.RawContent, error) {
	if opts == nil {
		opts = &Options{FollowRedirects: true}
	}

	client := &http.Client{Timeout: opts.timeout()}
	if !opts.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = f.MaxRetries
	}

	var out *model.RawContent
	operation := func() error {
		if err := model.CheckCancelled(ctx); err != nil {
			return backoff.Permanent(err)
		}
		raw, err := f.fetchOnce(ctx, client, source, opts)
		if err != nil {
			return err
		}
		out = raw
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if model.IsCancelled(err) {
			return nil, model.CancelledError(err)
		}
		return nil, err
	}
	return out, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, client *http.Client, source string, opts *Options) (*model.RawContent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", model.ErrFetch, err))
	}

	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if f.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	if opts.ETag != "" {
		req.Header.Set("If-None-Match", opts.ETag)
	}

	resp, err := client.Do(req)
	if err != nil {
		if model.IsCancelled(err) {
			return nil, backoff.Permanent(model.CancelledError(err))
		}
		// Network-level errors are worth retrying.
		return nil, fmt.Errorf("%w: %v", model.ErrFetch, err)
	}
	defer resp.Body.Close()

	finalURL := source
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &model.RawContent{
			Source: finalURL,
			ETag:   opts.ETag,
			Status: model.FetchNotModified,
		}, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return &model.RawContent{
			Source: finalURL,
			Status: model.FetchNotFound,
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s returned status %d", model.ErrFetch, source, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s returned status %d", model.ErrFetch, source, resp.StatusCode))
	case resp.StatusCode >= 300:
		// Redirect with FollowRedirects disabled: surface the target so
		// the caller can decide.
		return nil, backoff.Permanent(fmt.Errorf("%w: %s redirected (status %d)", model.ErrFetch, source, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body of %s: %v", model.ErrFetch, source, err)
	}

	mimeType, charset := parseContentType(resp.Header.Get("Content-Type"), body)

	return &model.RawContent{
		Content:      body,
		MimeType:     mimeType,
		Charset:      charset,
		Source:       finalURL,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		Status:       model.FetchSuccess,
	}, nil
}

// parseContentType extracts the media type and charset from a
// Content-Type header, sniffing the body when the header is missing or
// a generic octet-stream.
func parseContentType(header string, body []byte) (string, string) {
	mimeType := ""
	charset := ""
	if header != "" {
		if mt, params, err := mime.ParseMediaType(header); err == nil {
			mimeType = mt
			charset = params["charset"]
		}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		if detected := mimetype.Detect(body); detected != nil {
			mimeType = strings.SplitN(detected.String(), ";", 2)[0]
		}
	}
	return mimeType, charset
}

func (f *HTTPFetcher) Close() error { return nil }
