package pipeline

import (
	"context"
	"path/filepath"

	"docdex/internal/model"
	"docdex/internal/splitter"
)

// SourceCodePipeline chunks source files along declaration boundaries.
// No greedy merging afterwards: packing chunks across declarations
// would blur the structural boundaries the splitter just found.
type SourceCodePipeline struct {
	splitter *splitter.CodeSplitter
}

func NewSourceCodePipeline(sizes splitter.Sizes) *SourceCodePipeline {
	return &SourceCodePipeline{splitter: splitter.NewCodeSplitter(sizes)}
}

func (p *SourceCodePipeline) Name() string { return "source-code" }

func (p *SourceCodePipeline) CanProcess(raw *model.RawContent) bool {
	return p.splitter.Supports(filepath.Base(raw.Source), baseMime(raw.MimeType))
}

func (p *SourceCodePipeline) Process(ctx context.Context, raw *model.RawContent, opts model.ScraperOptions) (*Result, error) {
	if err := model.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	chunks, err := p.splitter.Split(ctx, raw.Content, filepath.Base(raw.Source), baseMime(raw.MimeType))
	if err != nil {
		return nil, err
	}

	return &Result{
		Title:       filepath.Base(raw.Source),
		ContentType: raw.MimeType,
		TextContent: string(raw.Content),
		Chunks:      chunks,
	}, nil
}

func (p *SourceCodePipeline) Close() error { return nil }
