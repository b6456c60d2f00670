package scraper

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/temoto/robotstxt"

	"docdex/internal/logging"
)

// robotsCache fetches and caches robots.txt per host. A host whose
// robots.txt cannot be fetched is treated as allow-all.
type robotsCache struct {
	agent  string
	client *http.Client
	logger log.Logger

	mu    sync.Mutex
	hosts map[string]*robotstxt.RobotsData
}

func newRobotsCache(agent string) *robotsCache {
	return &robotsCache{
		agent:  agent,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logging.Component("scraper.robots"),
		hosts:  map[string]*robotstxt.RobotsData{},
	}
}

func (r *robotsCache) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}

	data := r.dataFor(ctx, u)
	if data == nil {
		return true
	}
	return data.TestAgent(u.Path, r.agent)
}

func (r *robotsCache) dataFor(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	if data, ok := r.hosts[key]; ok {
		r.mu.Unlock()
		return data
	}
	r.mu.Unlock()

	data := r.fetch(ctx, key+"/robots.txt")

	r.mu.Lock()
	r.hosts[key] = data
	r.mu.Unlock()
	return data
}

func (r *robotsCache) fetch(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	if r.agent != "" {
		req.Header.Set("User-Agent", r.agent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt fetch failed, allowing all")
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		r.logger.Debug().Err(err).Str("url", robotsURL).Msg("robots.txt parse failed, allowing all")
		return nil
	}
	return data
}
