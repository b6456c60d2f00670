package scraper

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
	"github.com/phuslu/log"
	"golang.org/x/net/publicsuffix"

	"docdex/internal/logging"
	"docdex/internal/model"
)

// DefaultExcludePatterns filter out pages that waste the crawl budget:
// archived or versioned doc trees, non-English locales, and repository
// boilerplate. They apply only when the caller supplies no excludes of
// their own. Entries wrapped in slashes are regular expressions, the
// rest are globs.
var DefaultExcludePatterns = []string{
	"**/archive/**",
	"**/archived/**",
	"**/deprecated/**",
	"**/generated/**",
	"**/CHANGELOG*",
	"**/changelog*",
	"**/LICENSE*",
	"**/license*",
	"**/CODE_OF_CONDUCT*",
	"**/node_modules/**",
	`/\/(zh|zh-cn|zh-tw|ja|ko|fr|de|es|pt|pt-br|ru|it|pl|tr|ar|hi|id|vi|th|nl|sv|uk)\//`,
	`/\/v\d+(\.\d+)+\//`,
}

// NormalizeOptions tune URL canonicalization for the visited set.
type NormalizeOptions struct {
	IgnoreCase          bool
	RemoveHash          bool
	RemoveTrailingSlash bool
	RemoveQuery         bool
}

// DefaultNormalizeOptions are used for crawl dedup: fragments never
// denote distinct pages and trailing slashes rarely do.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{RemoveHash: true, RemoveTrailingSlash: true}
}

// NormalizeURL canonicalizes a URL for the visited set. The host is
// always lower-cased; the remaining transforms follow opts. Unparseable
// input comes back unchanged so it can still be deduplicated verbatim.
func NormalizeURL(raw string, opts NormalizeOptions) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Host = strings.ToLower(u.Host)
	if opts.RemoveHash {
		u.Fragment = ""
	}
	if opts.RemoveQuery {
		u.RawQuery = ""
	}
	if opts.RemoveTrailingSlash && len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	out := u.String()
	if opts.IgnoreCase {
		out = strings.ToLower(out)
	}
	return out
}

// patternSet is a compiled list of glob and regex URL patterns.
type patternSet struct {
	globs   []glob.Glob
	regexps []*regexp.Regexp
}

func compilePatterns(patterns []string, logger log.Logger) *patternSet {
	set := &patternSet{}
	for _, p := range patterns {
		if len(p) > 1 && strings.HasPrefix(p, "/") && strings.HasSuffix(p, "/") {
			re, err := regexp.Compile(p[1 : len(p)-1])
			if err != nil {
				logger.Warn().Str("pattern", p).Err(err).Msg("Skipping invalid regex pattern")
				continue
			}
			set.regexps = append(set.regexps, re)
			continue
		}
		g, err := glob.Compile(p, '/')
		if err != nil {
			logger.Warn().Str("pattern", p).Err(err).Msg("Skipping invalid glob pattern")
			continue
		}
		set.globs = append(set.globs, g)
	}
	return set
}

func (s *patternSet) empty() bool {
	return s == nil || (len(s.globs) == 0 && len(s.regexps) == 0)
}

// matches reports whether any candidate string matches any pattern.
func (s *patternSet) matches(candidates ...string) bool {
	if s == nil {
		return false
	}
	for _, c := range candidates {
		for _, g := range s.globs {
			if g.Match(c) {
				return true
			}
		}
		for _, re := range s.regexps {
			if re.MatchString(c) {
				return true
			}
		}
	}
	return false
}

// Filter decides which discovered URLs enter the crawl frontier.
type Filter struct {
	base     *url.URL
	scope    model.Scope
	includes *patternSet
	excludes *patternSet
	logger   log.Logger
}

func NewFilter(baseURL string, opts model.ScraperOptions) (*Filter, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	logger := logging.Component("scraper.filter")
	excludes := opts.ExcludePatterns
	if len(excludes) == 0 {
		excludes = DefaultExcludePatterns
	}

	return &Filter{
		base:     base,
		scope:    opts.Scope,
		includes: compilePatterns(opts.IncludePatterns, logger),
		excludes: compilePatterns(excludes, logger),
		logger:   logger,
	}, nil
}

// SetBase replaces the canonical base, used once when the root fetch
// lands on a different URL after redirects.
func (f *Filter) SetBase(baseURL string) {
	if u, err := url.Parse(baseURL); err == nil {
		f.base = u
	}
}

// ShouldProcess applies scope first, then patterns. Exclude wins over
// include; with no include patterns everything in scope is included.
func (f *Filter) ShouldProcess(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	candidates := []string{raw, u.Path}
	if u.Scheme == "" || u.Scheme == "file" {
		candidates = append(candidates, path.Base(u.Path))
	} else {
		if f.scope != "" && !f.inScope(u) {
			return false
		}
	}

	if f.excludes.matches(candidates...) {
		return false
	}
	if f.includes.empty() {
		return true
	}
	return f.includes.matches(candidates...)
}

func (f *Filter) inScope(u *url.URL) bool {
	switch f.scope {
	case model.ScopeSubpages:
		if !strings.EqualFold(u.Scheme, f.base.Scheme) || !strings.EqualFold(u.Host, f.base.Host) {
			return false
		}
		return strings.HasPrefix(u.Path, baseDir(f.base.Path))
	case model.ScopeHostname:
		return strings.EqualFold(u.Hostname(), f.base.Hostname())
	case model.ScopeDomain:
		baseDomain, err1 := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(f.base.Hostname()))
		urlDomain, err2 := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(u.Hostname()))
		if err1 != nil || err2 != nil {
			return strings.EqualFold(u.Hostname(), f.base.Hostname())
		}
		return baseDomain == urlDomain
	}
	return true
}

// baseDir reduces a path to its directory segment: /docs/intro.html
// scopes the crawl to /docs/.
func baseDir(p string) string {
	if p == "" {
		return "/"
	}
	if strings.HasSuffix(p, "/") {
		return p
	}
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "/"
	}
	return p[:i+1]
}
