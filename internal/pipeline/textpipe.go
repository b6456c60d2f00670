package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"docdex/internal/model"
	"docdex/internal/splitter"
)

// TextPipeline is the universal fallback for anything textual. Binary
// content is refused so it never lands in the store as garbage.
type TextPipeline struct {
	sizes splitter.Sizes
}

func NewTextPipeline(sizes splitter.Sizes) *TextPipeline {
	return &TextPipeline{sizes: sizes}
}

func (p *TextPipeline) Name() string { return "text" }

func (p *TextPipeline) CanProcess(raw *model.RawContent) bool {
	return !isBinary(raw)
}

func (p *TextPipeline) Process(ctx context.Context, raw *model.RawContent, opts model.ScraperOptions) (*Result, error) {
	if err := model.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	if isBinary(raw) {
		return nil, fmt.Errorf("%w: binary content from %s", model.ErrProcessing, raw.Source)
	}

	text := string(raw.Content)
	chunks := splitter.MergeGreedy(
		splitter.SplitTextChunks(text, model.SectionInfo{}, p.sizes),
		p.sizes,
	)

	return &Result{
		Title:       filepath.Base(raw.Source),
		ContentType: "text/plain",
		TextContent: text,
		Chunks:      chunks,
	}, nil
}

func (p *TextPipeline) Close() error { return nil }

// isBinary flags content we refuse to chunk: a null byte in the first
// few KB, or a MIME type that is known non-text.
func isBinary(raw *model.RawContent) bool {
	if mt := baseMime(raw.MimeType); mt != "" && !textualMime(mt) {
		return true
	}
	sample := raw.Content
	if len(sample) > 8192 {
		sample = sample[:8192]
	}
	return bytes.IndexByte(sample, 0) >= 0
}

func textualMime(mt string) bool {
	return strings.HasPrefix(mt, "text/") ||
		mt == "application/json" || strings.HasSuffix(mt, "+json") ||
		mt == "application/xml" || strings.HasSuffix(mt, "+xml") ||
		mt == "application/javascript" || mt == "application/x-sh"
}
