package splitter

import (
	"encoding/json"
	"fmt"
	"sort"

	"docdex/internal/model"
)

// SplitJSON chunks a JSON document along its top-level structure: one
// chunk per object key (or per run of array elements), each labelled
// with the key as its section path. Values that still exceed the hard
// max fall back to the character splitter.
func SplitJSON(data []byte, sizes Sizes) ([]model.Chunk, error) {
	sizes = sizes.normalized()

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", model.ErrProcessing, err)
	}

	switch v := doc.(type) {
	case map[string]any:
		return splitJSONObject(v, sizes)
	case []any:
		return splitJSONArray(v, sizes)
	default:
		return jsonValueChunks(doc, 0, nil, sizes)
	}
}

func splitJSONObject(obj map[string]any, sizes Sizes) ([]model.Chunk, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []model.Chunk
	for _, k := range keys {
		rendered, err := renderJSONEntry(k, obj[k])
		if err != nil {
			return nil, err
		}
		out = append(out, jsonTextChunks(rendered, 1, []string{k}, sizes)...)
	}
	return out, nil
}

func splitJSONArray(arr []any, sizes Sizes) ([]model.Chunk, error) {
	var out []model.Chunk
	var buf string

	flush := func() {
		if buf != "" {
			out = append(out, jsonTextChunks(buf, 0, nil, sizes)...)
			buf = ""
		}
	}

	for _, el := range arr {
		raw, err := json.MarshalIndent(el, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrProcessing, err)
		}
		piece := string(raw) + "\n"
		if buf != "" && len(buf)+len(piece) > sizes.Preferred {
			flush()
		}
		buf += piece
	}
	flush()
	return out, nil
}

func jsonValueChunks(v any, level int, path []string, sizes Sizes) ([]model.Chunk, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrProcessing, err)
	}
	return jsonTextChunks(string(raw), level, path, sizes), nil
}

func jsonTextChunks(s string, level int, path []string, sizes Sizes) []model.Chunk {
	pieces := SplitText(s, sizes)
	out := make([]model.Chunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, model.Chunk{
			Types:   []model.ChunkType{model.ChunkText},
			Content: p,
			Section: section(level, path),
		})
	}
	return out
}

func renderJSONEntry(key string, v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrProcessing, err)
	}
	return fmt.Sprintf("%q: %s\n", key, raw), nil
}
