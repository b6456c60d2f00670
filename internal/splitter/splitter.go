package splitter

import "docdex/internal/model"

// Chunk sizing in characters. Preferred is the soft target the greedy
// merger packs toward; Max is the hard bound no emitted chunk exceeds.
const (
	DefaultPreferredSize = 1500
	DefaultMaxSize       = 4000
)

// Sizes carries the soft and hard chunk bounds through every splitter.
type Sizes struct {
	Preferred int
	Max       int
}

func DefaultSizes() Sizes {
	return Sizes{Preferred: DefaultPreferredSize, Max: DefaultMaxSize}
}

func (s Sizes) normalized() Sizes {
	if s.Preferred <= 0 {
		s.Preferred = DefaultPreferredSize
	}
	if s.Max <= 0 {
		s.Max = DefaultMaxSize
	}
	if s.Max < s.Preferred {
		s.Max = s.Preferred
	}
	return s
}

func section(level int, path []string) model.SectionInfo {
	return model.SectionInfo{Level: level, Path: append([]string(nil), path...)}
}
