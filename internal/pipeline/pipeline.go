package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"docdex/internal/model"
	"docdex/internal/splitter"
)

// Result is the processed output of one pipeline run.
type Result struct {
	Title       string
	ContentType string
	TextContent string
	Links       []string
	Errors      []string
	Chunks      []model.Chunk
}

// Pipeline turns raw fetched bytes into a Result. CanProcess decides
// routing from the MIME type, with an optional peek at the bytes.
type Pipeline interface {
	Name() string
	CanProcess(raw *model.RawContent) bool
	Process(ctx context.Context, raw *model.RawContent, opts model.ScraperOptions) (*Result, error)
	Close() error
}

// Chain state threaded through the middleware of one run. Middleware
// mutates it in place.
type Chain struct {
	Content     []byte
	ContentType string
	Source      string
	Options     model.ScraperOptions
	Title       string
	Links       []string
	Errors      []string
	Doc         *goquery.Document
	Markdown    string
}

// Middleware processes the chain state and calls next to hand off to
// the rest of the chain. Skipping next short-circuits the run.
type Middleware func(c *Chain, next func())

// RunChain executes middleware in order. Calling next more than once is
// recorded as a chain error without aborting; a panic is captured as an
// error and stops the remaining middleware, like a thrown exception.
func RunChain(c *Chain, chain []Middleware) {
	var exec func(i int)
	exec = func(i int) {
		if i >= len(chain) {
			return
		}
		called := false
		next := func() {
			if called {
				c.Errors = append(c.Errors, "middleware called next() more than once")
				return
			}
			called = true
			exec(i + 1)
		}
		defer func() {
			if r := recover(); r != nil {
				c.Errors = append(c.Errors, fmt.Sprintf("middleware failure: %v", r))
			}
		}()
		chain[i](c, next)
	}
	exec(0)
}

// Registry routes content to the first pipeline that accepts it. Order
// is fixed: JSON, source code, HTML, markdown, then the text fallback.
type Registry struct {
	pipelines []Pipeline
}

func NewRegistry(pipelines ...Pipeline) *Registry {
	return &Registry{pipelines: pipelines}
}

// DefaultRegistry wires the standard routing order.
func DefaultRegistry(sizes splitter.Sizes) *Registry {
	return NewRegistry(
		NewJSONPipeline(sizes),
		NewSourceCodePipeline(sizes),
		NewHTMLPipeline(sizes),
		NewMarkdownPipeline(sizes),
		NewTextPipeline(sizes),
	)
}

// Route returns the pipeline for the given content, or nil when even
// the fallback refuses it (binary data).
func (r *Registry) Route(raw *model.RawContent) Pipeline {
	for _, p := range r.pipelines {
		if p.CanProcess(raw) {
			return p
		}
	}
	return nil
}

func (r *Registry) Close() error {
	var first error
	for _, p := range r.pipelines {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// baseMime strips any parameters from a MIME string.
func baseMime(mimeType string) string {
	return strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
}
