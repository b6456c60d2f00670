package splitter

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"docdex/internal/model"
)

// CodeSplitter chunks source files along declaration boundaries found
// by tree-sitter. Output is lossless: concatenating the chunk contents
// in order reproduces the input bytes exactly.
type CodeSplitter struct {
	Sizes Sizes
}

func NewCodeSplitter(sizes Sizes) *CodeSplitter {
	return &CodeSplitter{Sizes: sizes.normalized()}
}

// languageSpec binds a grammar to the node types treated as chunk
// boundaries. Structural boundaries are named declarations that open a
// section; content boundaries group lines without opening one.
type languageSpec struct {
	lang       *sitter.Language
	structural map[string]bool
	content    map[string]bool
}

var languageSpecs = map[string]*languageSpec{
	"go": {
		lang: golang.GetLanguage(),
		structural: map[string]bool{
			"function_declaration": true,
			"method_declaration":   true,
			"type_declaration":     true,
		},
		content: map[string]bool{
			"import_declaration": true,
			"const_declaration":  true,
			"var_declaration":    true,
		},
	},
	"javascript": {
		lang: javascript.GetLanguage(),
		structural: map[string]bool{
			"class_declaration":              true,
			"function_declaration":           true,
			"generator_function_declaration": true,
			"method_definition":              true,
		},
		content: map[string]bool{
			"import_statement": true,
		},
	},
	"typescript": {
		lang: typescript.GetLanguage(),
		structural: map[string]bool{
			"class_declaration":              true,
			"abstract_class_declaration":     true,
			"function_declaration":           true,
			"generator_function_declaration": true,
			"method_definition":              true,
			"interface_declaration":          true,
			"enum_declaration":               true,
			"type_alias_declaration":         true,
		},
		content: map[string]bool{
			"import_statement": true,
		},
	},
	"tsx": {
		lang: tsx.GetLanguage(),
		structural: map[string]bool{
			"class_declaration":          true,
			"abstract_class_declaration": true,
			"function_declaration":       true,
			"method_definition":          true,
			"interface_declaration":      true,
			"enum_declaration":           true,
			"type_alias_declaration":     true,
		},
		content: map[string]bool{
			"import_statement": true,
		},
	},
	"python": {
		lang: python.GetLanguage(),
		structural: map[string]bool{
			"function_definition": true,
			"class_definition":    true,
		},
		content: map[string]bool{
			"import_statement":      true,
			"import_from_statement": true,
		},
	},
}

var extensionLanguages = map[string]string{
	".go":  "go",
	".js":  "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".jsx": "javascript",
	".ts":  "typescript",
	".tsx": "tsx",
	".py":  "python",
	".pyi": "python",
}

var mimeLanguages = map[string]string{
	"text/x-go":            "go",
	"text/javascript":      "javascript",
	"text/x-typescript":    "typescript",
	"text/x-python":        "python",
	"text/x-script.python": "python",
}

// LanguageFor resolves a grammar key from a filename or MIME type, or
// "" when the file is not a supported language.
func LanguageFor(filename, mimeType string) string {
	if key, ok := extensionLanguages[strings.ToLower(filepath.Ext(filename))]; ok {
		return key
	}
	if key, ok := mimeLanguages[mimeType]; ok {
		return key
	}
	return ""
}

func (c *CodeSplitter) Supports(filename, mimeType string) bool {
	return LanguageFor(filename, mimeType) != ""
}

// boundary is one extracted declaration span, in 0-based lines.
type boundary struct {
	name       string
	startLine  int
	endLine    int
	structural bool
	parent     *boundary
	depth      int
}

func (c *CodeSplitter) Split(ctx context.Context, source []byte, filename, mimeType string) ([]model.Chunk, error) {
	key := LanguageFor(filename, mimeType)
	spec, ok := languageSpecs[key]
	if !ok {
		return nil, fmt.Errorf("%w: no grammar for %q", model.ErrProcessing, filename)
	}

	parser := sitter.NewParser()
	parser.SetLanguage(spec.lang)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", model.ErrProcessing, filename, err)
	}
	defer tree.Close()

	boundaries := collectBoundaries(tree.RootNode(), spec, nil, source)
	lines := splitLinesKeepEnds(string(source))
	return c.assemble(lines, boundaries), nil
}

func collectBoundaries(n *sitter.Node, spec *languageSpec, parent *boundary, source []byte) []*boundary {
	var out []*boundary

	var walk func(n *sitter.Node, parent *boundary)
	walk = func(n *sitter.Node, parent *boundary) {
		cur := parent
		t := n.Type()
		if spec.structural[t] || spec.content[t] {
			b := &boundary{
				name:       boundaryName(n, source),
				startLine:  int(n.StartPoint().Row),
				endLine:    int(n.EndPoint().Row),
				structural: spec.structural[t],
				parent:     parent,
			}
			if parent != nil {
				b.depth = parent.depth + 1
			}
			out = append(out, b)
			cur = b
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i), cur)
		}
	}
	walk(n, parent)
	return out
}

// boundaryName digs out the declared identifier. Go type declarations
// keep the name one level down in the type_spec.
func boundaryName(n *sitter.Node, source []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "type_spec" {
			if name := child.ChildByFieldName("name"); name != nil {
				return name.Content(source)
			}
		}
	}
	return ""
}

// assemble cuts the file into linear segments at boundary edges, then
// emits one chunk per segment with the innermost boundary's path.
func (c *CodeSplitter) assemble(lines []string, boundaries []*boundary) []model.Chunk {
	total := len(lines)
	if total == 0 {
		return nil
	}

	cutSet := map[int]bool{0: true, total: true}
	for _, b := range boundaries {
		if b.startLine < total {
			cutSet[b.startLine] = true
		}
		if b.endLine+1 <= total {
			cutSet[b.endLine+1] = true
		}
	}
	cuts := make([]int, 0, len(cutSet))
	for cut := range cutSet {
		cuts = append(cuts, cut)
	}
	sort.Ints(cuts)

	var out []model.Chunk
	structuralDone := map[*boundary]bool{}
	pending := "" // whitespace-only run waiting to attach to the next chunk

	for i := 0; i+1 < len(cuts); i++ {
		start, end := cuts[i], cuts[i+1]
		content := strings.Join(lines[start:end], "")
		if content == "" {
			continue
		}

		if strings.TrimSpace(content) == "" {
			pending += content
			continue
		}

		inner := innermostBoundary(boundaries, start, end-1)
		path, level := boundaryPath(inner)
		isStructural := inner != nil && inner.structural && !structuralDone[inner]
		if inner != nil {
			structuralDone[inner] = true
		}

		full := pending + content
		pending = ""

		pieces := SplitText(full, c.Sizes)
		for j, p := range pieces {
			types := []model.ChunkType{model.ChunkCode}
			if isStructural && j == 0 {
				types = append(types, model.ChunkStructural)
			}
			out = append(out, model.Chunk{
				Types:   types,
				Content: p,
				Section: section(level, path),
			})
		}
	}

	if pending != "" {
		if len(out) > 0 {
			out[len(out)-1].Content += pending
		} else {
			out = append(out, model.Chunk{
				Types:   []model.ChunkType{model.ChunkCode},
				Content: pending,
				Section: section(0, nil),
			})
		}
	}

	return out
}

func innermostBoundary(boundaries []*boundary, startLine, endLine int) *boundary {
	var best *boundary
	for _, b := range boundaries {
		if b.startLine <= startLine && endLine <= b.endLine {
			if best == nil || b.depth > best.depth {
				best = b
			}
		}
	}
	return best
}

func boundaryPath(b *boundary) ([]string, int) {
	var rev []string
	for cur := b; cur != nil; cur = cur.parent {
		if cur.name != "" {
			rev = append(rev, cur.name)
		}
	}
	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path, len(path)
}
