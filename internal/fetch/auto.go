package fetch

import (
	"bytes"
	"context"
	"strings"

	"github.com/phuslu/log"

	"docdex/internal/logging"
	"docdex/internal/model"
)

// AutoFetcher routes each source to the right engine. Local paths go to
// the file fetcher; http(s) goes to plain HTTP unless the options force
// the browser, or auto mode detects an unrendered client-side app and
// escalates.
type AutoFetcher struct {
	HTTP    *HTTPFetcher
	File    *FileFetcher
	Browser *BrowserFetcher

	logger log.Logger
}

func NewAutoFetcher(httpF *HTTPFetcher, fileF *FileFetcher, browserF *BrowserFetcher) *AutoFetcher {
	return &AutoFetcher{
		HTTP:    httpF,
		File:    fileF,
		Browser: browserF,
		logger:  logging.Component("fetch.auto"),
	}
}

func (f *AutoFetcher) CanFetch(source string) bool {
	return f.HTTP.CanFetch(source) || f.File.CanFetch(source)
}

func (f *AutoFetcher) Fetch(ctx context.Context, source string, opts *Options) (*model.RawContent, error) {
	if !f.HTTP.CanFetch(source) {
		return f.File.Fetch(ctx, source, opts)
	}

	mode := model.ScrapeModeAuto
	if opts != nil && opts.Mode != "" {
		mode = opts.Mode
	}

	if mode == model.ScrapeModeBrowser && f.Browser != nil {
		return f.Browser.Fetch(ctx, source, opts)
	}

	raw, err := f.HTTP.Fetch(ctx, source, opts)
	if err != nil {
		return nil, err
	}

	if mode == model.ScrapeModeAuto && f.Browser != nil && needsRendering(raw) {
		f.logger.Debug().Str("url", source).Msg("Escalating to browser rendering")
		rendered, rerr := f.Browser.Fetch(ctx, source, opts)
		if rerr != nil {
			// The plain fetch already succeeded; keep it.
			f.logger.Warn().Err(rerr).Str("url", source).Msg("Browser escalation failed, using plain fetch")
			return raw, nil
		}
		rendered.ETag = raw.ETag
		rendered.LastModified = raw.LastModified
		return rendered, nil
	}

	return raw, nil
}

// needsRendering guesses whether an HTML response is a client-side app
// shell that carries no usable content until scripts run.
func needsRendering(raw *model.RawContent) bool {
	if raw.Status != model.FetchSuccess || !strings.Contains(raw.MimeType, "html") {
		return false
	}

	lower := bytes.ToLower(raw.Content)
	if bytes.Contains(lower, []byte("<noscript")) &&
		(bytes.Contains(lower, []byte("enable javascript")) || bytes.Contains(lower, []byte("javascript is required"))) {
		return true
	}

	// A near-empty body together with script tags is the classic SPA
	// shell shape.
	start := bytes.Index(lower, []byte("<body"))
	end := bytes.LastIndex(lower, []byte("</body>"))
	if start < 0 || end <= start {
		return false
	}
	body := lower[start:end]
	stripped := len(body) - countScriptBytes(body)
	return stripped < 512 && bytes.Contains(body, []byte("<script"))
}

func countScriptBytes(body []byte) int {
	total := 0
	for {
		open := bytes.Index(body, []byte("<script"))
		if open < 0 {
			return total
		}
		rel := bytes.Index(body[open:], []byte("</script>"))
		if rel < 0 {
			return total + len(body) - open
		}
		total += rel + len("</script>")
		body = body[open+rel+len("</script>"):]
	}
}

func (f *AutoFetcher) Close() error {
	var first error
	if f.HTTP != nil {
		if err := f.HTTP.Close(); err != nil && first == nil {
			first = err
		}
	}
	if f.File != nil {
		if err := f.File.Close(); err != nil && first == nil {
			first = err
		}
	}
	if f.Browser != nil {
		if err := f.Browser.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
