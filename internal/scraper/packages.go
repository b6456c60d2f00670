package scraper

import (
	"context"
	"net/url"
	"strings"

	"docdex/internal/model"
)

// NpmStrategy scrapes package pages on npmjs.com. It is a thin wrapper
// over the web strategy that keeps the crawl inside the package's own
// pages and registry metadata.
type NpmStrategy struct {
	web *WebStrategy
}

func NewNpmStrategy(web *WebStrategy) *NpmStrategy {
	return &NpmStrategy{web: web}
}

func (s *NpmStrategy) Name() string { return "npm" }

func (s *NpmStrategy) CanHandle(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "www.npmjs.com" || host == "npmjs.com" || host == "registry.npmjs.org"
}

func (s *NpmStrategy) ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error) {
	res, err := s.web.ProcessItem(ctx, item, opts)
	if err != nil {
		return nil, err
	}
	res.Links = keepWithPrefix(res.Links, packagePrefix(item.URL, "/package/"))
	return res, nil
}

func (s *NpmStrategy) Cleanup() error { return nil }

// PyPiStrategy scrapes project pages on pypi.org, keeping links inside
// the same project.
type PyPiStrategy struct {
	web *WebStrategy
}

func NewPyPiStrategy(web *WebStrategy) *PyPiStrategy {
	return &PyPiStrategy{web: web}
}

func (s *PyPiStrategy) Name() string { return "pypi" }

func (s *PyPiStrategy) CanHandle(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "pypi.org" || host == "www.pypi.org"
}

func (s *PyPiStrategy) ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error) {
	res, err := s.web.ProcessItem(ctx, item, opts)
	if err != nil {
		return nil, err
	}
	res.Links = keepWithPrefix(res.Links, packagePrefix(item.URL, "/project/"))
	return res, nil
}

func (s *PyPiStrategy) Cleanup() error { return nil }

// packagePrefix returns the URL prefix covering one package's pages,
// e.g. https://www.npmjs.com/package/react for any URL under it. Falls
// back to the item URL when the marker segment is absent.
func packagePrefix(raw, marker string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	i := strings.Index(u.Path, marker)
	if i < 0 {
		return raw
	}
	rest := u.Path[i+len(marker):]
	name := rest
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		name = rest[:j]
	}
	// Scoped npm packages keep their @scope/name two-segment form.
	if strings.HasPrefix(name, "@") {
		if j := strings.IndexByte(rest[len(name)+1:], '/'); j >= 0 {
			name = rest[:len(name)+1+j]
		} else {
			name = rest
		}
	}
	return u.Scheme + "://" + u.Host + u.Path[:i] + marker + name
}

func keepWithPrefix(links []string, prefix string) []string {
	var out []string
	for _, l := range links {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}
