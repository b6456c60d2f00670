package splitter

import "docdex/internal/model"

// MergeGreedy packs consecutive chunks that share a section path into
// larger blocks, stopping a merge once the block would pass the
// preferred size. It never merges across a section change and never
// produces a chunk above the hard max. Source-code chunks are not run
// through this: merging would blur structural boundaries.
func MergeGreedy(chunks []model.Chunk, sizes Sizes) []model.Chunk {
	sizes = sizes.normalized()
	if len(chunks) <= 1 {
		return chunks
	}

	out := make([]model.Chunk, 0, len(chunks))
	cur := chunks[0]

	for _, next := range chunks[1:] {
		merged := len(cur.Content) + len(next.Content)
		if samePath(cur.Section.Path, next.Section.Path) &&
			merged <= sizes.Preferred && merged <= sizes.Max {
			cur = model.Chunk{
				Types:   unionTypes(cur.Types, next.Types),
				Content: cur.Content + next.Content,
				Section: cur.Section,
			}
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func unionTypes(a, b []model.ChunkType) []model.ChunkType {
	out := append([]model.ChunkType(nil), a...)
	for _, t := range b {
		seen := false
		for _, have := range out {
			if have == t {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, t)
		}
	}
	return out
}
