package splitter

import (
	"strings"

	"docdex/internal/model"
)

// SplitText breaks s into chunks no larger than sizes.Max. Splitting
// prefers line boundaries and falls back to raw character runs for
// single oversize lines. Concatenating the returned pieces reproduces s
// exactly.
func SplitText(s string, sizes Sizes) []string {
	sizes = sizes.normalized()
	if len(s) <= sizes.Max {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	lines := splitLinesKeepEnds(s)

	var out []string
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}

	for _, line := range lines {
		if len(line) > sizes.Max {
			flush()
			out = append(out, splitChars(line, sizes.Max)...)
			continue
		}
		if buf.Len()+len(line) > sizes.Max {
			flush()
		}
		buf.WriteString(line)
	}
	flush()
	return out
}

// SplitTextChunks wraps SplitText output as text chunks carrying the
// given section.
func SplitTextChunks(s string, sec model.SectionInfo, sizes Sizes) []model.Chunk {
	pieces := SplitText(s, sizes)
	out := make([]model.Chunk, 0, len(pieces))
	for _, p := range pieces {
		out = append(out, model.Chunk{
			Types:   []model.ChunkType{model.ChunkText},
			Content: p,
			Section: section(sec.Level, sec.Path),
		})
	}
	return out
}

// splitLinesKeepEnds splits s after every newline, keeping the newline
// attached so the pieces concatenate back to s.
func splitLinesKeepEnds(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

func splitChars(s string, max int) []string {
	var out []string
	for len(s) > max {
		out = append(out, s[:max])
		s = s[max:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
