package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/phuslu/log"

	"docdex/internal/logging"
	"docdex/internal/model"
)

// BrowserFetcher renders JS-heavy pages with a real browser via rod.
// The browser connects lazily on first use and is shared across fetches;
// each fetch gets its own page.
type BrowserFetcher struct {
	BrowserURL string

	mu      sync.Mutex
	browser *rod.Browser
	logger  log.Logger
}

// NewBrowserFetcher prepares a fetcher against an optional remote
// browser control URL. Empty means launch a local browser.
func NewBrowserFetcher(browserURL string) *BrowserFetcher {
	return &BrowserFetcher{
		BrowserURL: browserURL,
		logger:     logging.Component("fetch.browser"),
	}
}

func (f *BrowserFetcher) CanFetch(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (f *BrowserFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser != nil {
		return f.browser, nil
	}

	browser := rod.New()
	if f.BrowserURL != "" {
		browser = browser.ControlURL(f.BrowserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: browser connect: %v", model.ErrFetch, err)
	}
	f.browser = browser
	return browser, nil
}

func (f *BrowserFetcher) Fetch(ctx context.Context, source string, opts *Options) (*model.RawContent, error) {
	if err := model.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	browser, err := f.connect()
	if err != nil {
		return nil, err
	}

	page, err := browser.Context(ctx).Timeout(opts.timeout()).Page(proto.TargetCreateTarget{URL: source})
	if err != nil {
		if model.IsCancelled(err) {
			return nil, model.CancelledError(err)
		}
		return nil, fmt.Errorf("%w: open page %s: %v", model.ErrFetch, source, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			f.logger.Warn().Err(cerr).Str("url", source).Msg("Page close failed")
		}
	}()

	if err := page.WaitLoad(); err != nil {
		if model.IsCancelled(err) {
			return nil, model.CancelledError(err)
		}
		return nil, fmt.Errorf("%w: wait load %s: %v", model.ErrFetch, source, err)
	}

	htmlStr, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: read dom %s: %v", model.ErrFetch, source, err)
	}

	finalURL := source
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	return &model.RawContent{
		Content:  []byte(htmlStr),
		MimeType: "text/html",
		Charset:  "utf-8",
		Source:   finalURL,
		Status:   model.FetchSuccess,
	}, nil
}

// Close shuts down the shared browser if one was started.
func (f *BrowserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.browser = nil
	return err
}
