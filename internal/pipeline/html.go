package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/phuslu/log"

	"docdex/internal/logging"
	"docdex/internal/model"
	"docdex/internal/splitter"
)

// trackerDomains are stripped from image sources. Matching is a
// case-insensitive substring test; data: URIs are never stripped.
var trackerDomains = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"doubleclick.net",
	"facebook.com/tr",
	"scorecardresearch.com",
	"quantserve.com",
	"hotjar.com",
	"mixpanel.com",
	"segment.io",
	"pixel.wp.com",
}

// HTMLPipeline parses HTML, extracts metadata and links, sanitizes the
// DOM, converts to markdown and splits the markdown semantically.
type HTMLPipeline struct {
	splitter *splitter.MarkdownSplitter
	sizes    splitter.Sizes
	logger   log.Logger
}

func NewHTMLPipeline(sizes splitter.Sizes) *HTMLPipeline {
	return &HTMLPipeline{
		splitter: splitter.NewMarkdownSplitter(sizes),
		sizes:    sizes,
		logger:   logging.Component("pipeline.html"),
	}
}

func (p *HTMLPipeline) Name() string { return "html" }

func (p *HTMLPipeline) CanProcess(raw *model.RawContent) bool {
	switch baseMime(raw.MimeType) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

func (p *HTMLPipeline) Process(ctx context.Context, raw *model.RawContent, opts model.ScraperOptions) (*Result, error) {
	if err := model.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	chain := &Chain{
		Content:     raw.Content,
		ContentType: raw.MimeType,
		Source:      raw.Source,
		Options:     opts,
	}
	RunChain(chain, []Middleware{
		parseDOM,
		extractMetadata,
		extractLinks,
		sanitizeDOM,
		normalizeImages,
		normalizeAnchors,
		convertToMarkdown,
	})

	if chain.Markdown == "" && chain.Doc == nil {
		return nil, fmt.Errorf("%w: unparseable html from %s", model.ErrProcessing, raw.Source)
	}

	chunks := splitter.MergeGreedy(p.splitter.Split([]byte(chain.Markdown)), p.sizes)

	return &Result{
		Title:       chain.Title,
		ContentType: "text/html",
		TextContent: chain.Markdown,
		Links:       chain.Links,
		Errors:      chain.Errors,
		Chunks:      chunks,
	}, nil
}

func (p *HTMLPipeline) Close() error { return nil }

func parseDOM(c *Chain, next func()) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(c.Content))
	if err != nil {
		c.Errors = append(c.Errors, fmt.Sprintf("html parse: %v", err))
		return
	}
	c.Doc = doc
	next()
}

func extractMetadata(c *Chain, next func()) {
	title := strings.TrimSpace(c.Doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(c.Doc.Find("meta[property='og:title']").AttrOr("content", ""))
	}
	if title == "" {
		title = strings.TrimSpace(c.Doc.Find("h1").First().Text())
	}
	c.Title = title
	next()
}

func extractLinks(c *Chain, next func()) {
	base, err := url.Parse(c.Source)
	if err != nil {
		c.Errors = append(c.Errors, fmt.Sprintf("bad source url %q: %v", c.Source, err))
		next()
		return
	}

	seen := map[string]bool{}
	c.Doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		link, err := url.Parse(href)
		if err != nil {
			return
		}
		if !link.IsAbs() {
			link = base.ResolveReference(link)
		}
		if link.Scheme != "http" && link.Scheme != "https" {
			return
		}
		link.Fragment = ""
		s := link.String()
		if !seen[s] {
			seen[s] = true
			c.Links = append(c.Links, s)
		}
	})
	next()
}

func sanitizeDOM(c *Chain, next func()) {
	c.Doc.Find("script, style, noscript, iframe, form, button").Remove()
	next()
}

func normalizeImages(c *Chain, next func()) {
	base, err := url.Parse(c.Source)
	if err != nil {
		next()
		return
	}

	c.Doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" {
			sel.Remove()
			return
		}
		if strings.HasPrefix(src, "data:") {
			return
		}
		u, err := url.Parse(src)
		if err != nil {
			sel.Remove()
			return
		}
		if !u.IsAbs() {
			u = base.ResolveReference(u)
		}
		resolved := u.String()
		lower := strings.ToLower(resolved)
		for _, tracker := range trackerDomains {
			if strings.Contains(lower, tracker) {
				sel.Remove()
				return
			}
		}
		sel.SetAttr("src", resolved)
	})
	next()
}

func normalizeAnchors(c *Chain, next func()) {
	base, err := url.Parse(c.Source)
	if err != nil {
		next()
		return
	}

	c.Doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		unwrap := func() {
			if inner, err := sel.Html(); err == nil {
				sel.ReplaceWithHtml(inner)
			} else {
				sel.Remove()
			}
		}
		if href == "" || strings.HasPrefix(href, "#") {
			unwrap()
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			unwrap()
			return
		}
		if !u.IsAbs() {
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			unwrap()
			return
		}
		sel.SetAttr("href", u.String())
	})
	next()
}

func convertToMarkdown(c *Chain, next func()) {
	domain := ""
	if base, err := url.Parse(c.Source); err == nil {
		domain = base.Hostname()
	}

	converter := htmlmd.NewConverter(domain, true, nil)

	html, err := c.Doc.Html()
	if err != nil {
		c.Errors = append(c.Errors, fmt.Sprintf("dom serialize: %v", err))
		return
	}
	markdown, err := converter.ConvertString(html)
	if err != nil {
		c.Errors = append(c.Errors, fmt.Sprintf("markdown convert: %v", err))
		markdown = c.Doc.Text()
	}
	c.Markdown = strings.TrimSpace(markdown) + "\n"
	next()
}
