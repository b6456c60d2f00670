package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"

	"docdex/internal/model"
	"docdex/internal/splitter"
)

// JSONPipeline chunks JSON documents along their structure. It never
// extracts links: URLs inside JSON values are data, not navigation.
type JSONPipeline struct {
	sizes splitter.Sizes
}

func NewJSONPipeline(sizes splitter.Sizes) *JSONPipeline {
	return &JSONPipeline{sizes: sizes}
}

func (p *JSONPipeline) Name() string { return "json" }

func (p *JSONPipeline) CanProcess(raw *model.RawContent) bool {
	mt := baseMime(raw.MimeType)
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		return true
	}
	return strings.ToLower(filepath.Ext(raw.Source)) == ".json"
}

func (p *JSONPipeline) Process(ctx context.Context, raw *model.RawContent, opts model.ScraperOptions) (*Result, error) {
	if err := model.CheckCancelled(ctx); err != nil {
		return nil, err
	}

	chunks, err := splitter.SplitJSON(raw.Content, p.sizes)
	if err != nil {
		return nil, err
	}

	title := jsonTitle(raw)

	return &Result{
		Title:       title,
		ContentType: "application/json",
		TextContent: string(raw.Content),
		Chunks:      chunks,
	}, nil
}

func (p *JSONPipeline) Close() error { return nil }

// jsonTitle prefers a top-level "name" field (package manifests), then
// the file name.
func jsonTitle(raw *model.RawContent) string {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw.Content, &head); err == nil && head.Name != "" {
		return head.Name
	}
	return filepath.Base(raw.Source)
}
