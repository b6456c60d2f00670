package splitter

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"docdex/internal/model"
)

// MarkdownSplitter splits markdown into heading/text/code/table chunks
// carrying the heading-trail section path. Chunk boundaries are byte
// offsets into the source, so concatenating the output reconstructs the
// input exactly unless an oversize code block or table had to be
// re-fenced into smaller pieces.
type MarkdownSplitter struct {
	Sizes Sizes

	md goldmark.Markdown
}

func NewMarkdownSplitter(sizes Sizes) *MarkdownSplitter {
	return &MarkdownSplitter{
		Sizes: sizes.normalized(),
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

func (m *MarkdownSplitter) Split(source []byte) []model.Chunk {
	if len(source) == 0 {
		return nil
	}

	doc := m.md.Parser().Parse(text.NewReader(source))

	var out []model.Chunk
	var path []string
	prev := 0

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		end := nodeEndByte(n, source)
		if end <= prev {
			continue
		}
		end = extendToLineEnd(source, end)
		if _, ok := n.(*ast.FencedCodeBlock); ok {
			end = extendPastClosingFence(source, end)
		}

		content := string(source[prev:end])
		prev = end

		switch node := n.(type) {
		case *ast.Heading:
			level := node.Level
			if level-1 < len(path) {
				path = path[:level-1]
			}
			path = append(path, plainText(node, source))
			out = append(out, m.sized(model.ChunkHeading, content, len(path), path)...)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			out = append(out, m.sizedCode(content, len(path), path)...)
		case *east.Table:
			out = append(out, m.sizedTable(content, len(path), path)...)
		default:
			out = append(out, m.sized(model.ChunkText, content, len(path), path)...)
		}
	}

	// Trailing bytes past the last block (blank lines, stray text) stay
	// attached to the final chunk so nothing is lost.
	if prev < len(source) && len(out) > 0 {
		out[len(out)-1].Content += string(source[prev:])
	} else if prev < len(source) {
		out = append(out, model.Chunk{
			Types:   []model.ChunkType{model.ChunkText},
			Content: string(source[prev:]),
			Section: section(0, nil),
		})
	}

	return out
}

func (m *MarkdownSplitter) sized(t model.ChunkType, content string, level int, path []string) []model.Chunk {
	pieces := SplitText(content, m.Sizes)
	out := make([]model.Chunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, model.Chunk{
			Types:   []model.ChunkType{t},
			Content: p,
			Section: section(level, path),
		})
	}
	return out
}

// sizedCode splits an oversize fenced block into pieces that each carry
// the opening language fence and the closing fence again.
func (m *MarkdownSplitter) sizedCode(content string, level int, path []string) []model.Chunk {
	if len(content) <= m.Sizes.Max {
		return []model.Chunk{{
			Types:   []model.ChunkType{model.ChunkCode},
			Content: content,
			Section: section(level, path),
		}}
	}

	lines := splitLinesKeepEnds(content)
	open, body, closing := splitFence(lines)
	if open == "" {
		// Indented code block: plain size split.
		return m.sized(model.ChunkCode, content, level, path)
	}

	// The extra newline slot covers pieces that end mid-line.
	budget := m.Sizes.Max - len(open) - len(closing) - 1
	if budget < 256 {
		budget = 256
	}
	pieces := SplitText(body, Sizes{Preferred: budget, Max: budget})

	out := make([]model.Chunk, 0, len(pieces))
	for _, p := range pieces {
		if !strings.HasSuffix(p, "\n") {
			p += "\n"
		}
		out = append(out, model.Chunk{
			Types:   []model.ChunkType{model.ChunkCode},
			Content: open + p + closing,
			Section: section(level, path),
		})
	}
	return out
}

// sizedTable splits an oversize table by rows, re-prepending the header
// row and separator to every piece.
func (m *MarkdownSplitter) sizedTable(content string, level int, path []string) []model.Chunk {
	if len(content) <= m.Sizes.Max {
		return []model.Chunk{{
			Types:   []model.ChunkType{model.ChunkTable},
			Content: content,
			Section: section(level, path),
		}}
	}

	lines := splitLinesKeepEnds(content)
	if len(lines) < 3 {
		return m.sized(model.ChunkTable, content, level, path)
	}
	header := lines[0] + lines[1]
	body := strings.Join(lines[2:], "")

	budget := m.Sizes.Max - len(header)
	if budget < 256 {
		budget = 256
	}
	pieces := SplitText(body, Sizes{Preferred: budget, Max: budget})

	out := make([]model.Chunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, model.Chunk{
			Types:   []model.ChunkType{model.ChunkTable},
			Content: header + p,
			Section: section(level, path),
		})
	}
	return out
}

// splitFence separates a fenced block into its opening fence line, body
// and closing fence line. Returns an empty open string when the block
// does not start with a fence.
func splitFence(lines []string) (open, body, closing string) {
	if len(lines) == 0 || !isFenceLine(lines[0]) {
		return "", strings.Join(lines, ""), ""
	}
	open = lines[0]
	rest := lines[1:]
	if len(rest) > 0 && isFenceLine(rest[len(rest)-1]) {
		closing = rest[len(rest)-1]
		rest = rest[:len(rest)-1]
	}
	return open, strings.Join(rest, ""), closing
}

func isFenceLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// nodeEndByte walks a node's blocks and inline text to find the last
// source byte it covers.
func nodeEndByte(n ast.Node, source []byte) int {
	end := 0
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if c.Type() == ast.TypeBlock {
			lines := c.Lines()
			if lines != nil && lines.Len() > 0 {
				if stop := lines.At(lines.Len() - 1).Stop; stop > end {
					end = stop
				}
			}
		}
		if t, ok := c.(*ast.Text); ok {
			if t.Segment.Stop > end {
				end = t.Segment.Stop
			}
		}
		return ast.WalkContinue, nil
	})
	return end
}

// extendToLineEnd advances pos to just past the current line's newline,
// unless pos already sits on a line boundary.
func extendToLineEnd(source []byte, pos int) int {
	if pos > 0 && pos <= len(source) && source[pos-1] == '\n' {
		return pos
	}
	for pos < len(source) {
		if source[pos] == '\n' {
			return pos + 1
		}
		pos++
	}
	return pos
}

// extendPastClosingFence includes the closing fence line of a fenced
// code block, which goldmark does not report in the block's Lines.
func extendPastClosingFence(source []byte, pos int) int {
	end := pos
	for end < len(source) && source[end] != '\n' {
		end++
	}
	if end < len(source) {
		end++
	}
	if isFenceLine(string(source[pos:end])) {
		return end
	}
	return pos
}

func plainText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := c.(*ast.Text); ok {
				sb.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
