package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"docdex/internal/model"
	"docdex/internal/store"
)

// Store is an in-memory store.Store used by tests and by single-shot
// runs without a database.
type Store struct {
	mu sync.Mutex

	nextLibraryID int64
	nextVersionID int64
	nextPageID    int64

	libraries map[int64]*store.Library
	versions  map[int64]*store.Version
	pages     map[int64]*store.Page
	chunks    map[int64][]model.Chunk // by page id
}

func New() *Store {
	return &Store{
		libraries: map[int64]*store.Library{},
		versions:  map[int64]*store.Version{},
		pages:     map[int64]*store.Page{},
		chunks:    map[int64][]model.Chunk{},
	}
}

func (s *Store) EnsureLibraryAndVersion(ctx context.Context, library, version string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(library, version), nil
}

func (s *Store) ensureLocked(library, version string) int64 {
	library, version = model.NormalizeIdentity(library, version)

	var lib *store.Library
	for _, l := range s.libraries {
		if l.Name == library {
			lib = l
			break
		}
	}
	if lib == nil {
		s.nextLibraryID++
		lib = &store.Library{ID: s.nextLibraryID, Name: library, CreatedAt: time.Now()}
		s.libraries[lib.ID] = lib
	}

	for _, v := range s.versions {
		if v.LibraryID == lib.ID && v.Name == version {
			return v.ID
		}
	}
	s.nextVersionID++
	v := &store.Version{
		ID:        s.nextVersionID,
		LibraryID: lib.ID,
		Library:   library,
		Name:      version,
		Status:    model.StatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.versions[v.ID] = v
	return v.ID
}

func (s *Store) SaveVersionMeta(ctx context.Context, versionID int64, sourceURL string, opts model.ScraperOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("%w: version %d", model.ErrNotFound, versionID)
	}
	v.SourceURL = sourceURL
	optsCopy := opts
	v.Options = &optsCopy
	v.UpdatedAt = time.Now()
	return nil
}

func (s *Store) UpdateVersionStatus(ctx context.Context, versionID int64, status model.JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("%w: version %d", model.ErrNotFound, versionID)
	}
	v.Status = status
	v.ErrorMessage = errMsg
	v.UpdatedAt = time.Now()
	return nil
}

func (s *Store) UpdateVersionProgress(ctx context.Context, versionID int64, pages, maxPages int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return fmt.Errorf("%w: version %d", model.ErrNotFound, versionID)
	}
	v.ProgressPages = pages
	v.ProgressMaxPages = maxPages
	v.UpdatedAt = time.Now()
	return nil
}

func (s *Store) GetVersionsByStatus(ctx context.Context, statuses ...model.JobStatus) ([]store.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[model.JobStatus]bool{}
	for _, st := range statuses {
		want[st] = true
	}

	var out []store.Version
	for _, v := range s.versions {
		if want[v.Status] {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetVersionByID(ctx context.Context, versionID int64) (*store.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", model.ErrNotFound, versionID)
	}
	out := *v
	return &out, nil
}

func (s *Store) GetLibraryByID(ctx context.Context, libraryID int64) (*store.Library, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.libraries[libraryID]
	if !ok {
		return nil, fmt.Errorf("%w: library %d", model.ErrNotFound, libraryID)
	}
	out := *l
	return &out, nil
}

func (s *Store) FindVersion(ctx context.Context, library, version string) (*store.Version, error) {
	library, version = model.NormalizeIdentity(library, version)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.Library == library && v.Name == version {
			out := *v
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s@%s", model.ErrNotFound, library, version)
}

func (s *Store) GetScraperOptions(ctx context.Context, versionID int64) (*model.ScraperOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, fmt.Errorf("%w: version %d", model.ErrNotFound, versionID)
	}
	if v.Options == nil {
		return nil, nil
	}
	out := *v.Options
	return &out, nil
}

func (s *Store) GetPagesByVersionID(ctx context.Context, versionID int64) ([]store.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.Page
	for _, p := range s.pages {
		if p.VersionID == versionID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AddScrapeResult(ctx context.Context, library, version string, depth int, result *model.ScrapeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versionID := s.ensureLocked(library, version)

	// Idempotent by (version, url): replace the existing page.
	for id, p := range s.pages {
		if p.VersionID == versionID && p.URL == result.URL {
			delete(s.pages, id)
			delete(s.chunks, id)
		}
	}

	s.nextPageID++
	page := &store.Page{
		ID:        s.nextPageID,
		VersionID: versionID,
		URL:       result.URL,
		Title:     result.Title,
		Depth:     depth,
		ETag:      result.ETag,
		CreatedAt: time.Now(),
	}
	s.pages[page.ID] = page
	s.chunks[page.ID] = append([]model.Chunk(nil), result.Chunks...)
	return nil
}

func (s *Store) DeletePage(ctx context.Context, pageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[pageID]; !ok {
		return fmt.Errorf("%w: page %d", model.ErrNotFound, pageID)
	}
	delete(s.pages, pageID)
	delete(s.chunks, pageID)
	return nil
}

func (s *Store) RemoveAllDocuments(ctx context.Context, library, version string) error {
	library, version = model.NormalizeIdentity(library, version)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.versions {
		if v.Library != library || v.Name != version {
			continue
		}
		for id, p := range s.pages {
			if p.VersionID == v.ID {
				delete(s.pages, id)
				delete(s.chunks, id)
			}
		}
	}
	return nil
}

func (s *Store) DeleteExpiredVersions(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped int64
	for id, v := range s.versions {
		if !v.Status.IsTerminal() || !v.UpdatedAt.Before(olderThan) {
			continue
		}
		for pid, p := range s.pages {
			if p.VersionID == id {
				delete(s.pages, pid)
				delete(s.chunks, pid)
			}
		}
		delete(s.versions, id)
		dropped++
	}
	return dropped, nil
}

// ChunksForPage exposes stored chunks for assertions in tests.
func (s *Store) ChunksForPage(pageID int64) []model.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Chunk(nil), s.chunks[pageID]...)
}

func (s *Store) Close() error { return nil }
