package pipeline

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"docdex/internal/model"
	"docdex/internal/splitter"
)

// MarkdownPipeline splits raw markdown semantically. Its middleware
// only extracts the title and outgoing links; the content itself is
// passed through untouched.
type MarkdownPipeline struct {
	splitter *splitter.MarkdownSplitter
	sizes    splitter.Sizes
	md       goldmark.Markdown
}

func NewMarkdownPipeline(sizes splitter.Sizes) *MarkdownPipeline {
	return &MarkdownPipeline{
		splitter: splitter.NewMarkdownSplitter(sizes),
		sizes:    sizes,
		md:       goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (p *MarkdownPipeline) Name() string { return "markdown" }

func (p *MarkdownPipeline) CanProcess(raw *model.RawContent) bool {
	switch baseMime(raw.MimeType) {
	case "text/markdown", "text/x-markdown":
		return true
	}
	switch strings.ToLower(filepath.Ext(raw.Source)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

func (p *MarkdownPipeline) Process(ctx context.Context, raw *model.RawContent, opts model.ScraperOptions) (*Result, error) {
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
		p.extractMarkdownMetadata,
		p.extractMarkdownLinks,
	})

	chunks := splitter.MergeGreedy(p.splitter.Split(raw.Content), p.sizes)

	return &Result{
		Title:       chain.Title,
		ContentType: "text/markdown",
		TextContent: string(raw.Content),
		Links:       chain.Links,
		Errors:      chain.Errors,
		Chunks:      chunks,
	}, nil
}

func (p *MarkdownPipeline) Close() error { return nil }

// extractMarkdownMetadata takes the first top-level heading as the
// document title.
func (p *MarkdownPipeline) extractMarkdownMetadata(c *Chain, next func()) {
	doc := p.md.Parser().Parse(text.NewReader(c.Content))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			c.Title = headingString(h, c.Content)
			break
		}
	}
	next()
}

func (p *MarkdownPipeline) extractMarkdownLinks(c *Chain, next func()) {
	base, baseErr := url.Parse(c.Source)

	doc := p.md.Parser().Parse(text.NewReader(c.Content))
	seen := map[string]bool{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		link, ok := n.(*ast.Link)
		if !ok {
			return ast.WalkContinue, nil
		}
		dest := strings.TrimSpace(string(link.Destination))
		if dest == "" || strings.HasPrefix(dest, "#") {
			return ast.WalkContinue, nil
		}
		u, err := url.Parse(dest)
		if err != nil {
			return ast.WalkContinue, nil
		}
		if !u.IsAbs() {
			if baseErr != nil {
				return ast.WalkContinue, nil
			}
			u = base.ResolveReference(u)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return ast.WalkContinue, nil
		}
		u.Fragment = ""
		s := u.String()
		if !seen[s] {
			seen[s] = true
			c.Links = append(c.Links, s)
		}
		return ast.WalkContinue, nil
	})
	next()
}

func headingString(h *ast.Heading, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := n.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
