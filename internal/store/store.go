package store

import (
	"context"
	"time"

	"docdex/internal/model"
)

// Library is one documented library.
type Library struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Version is one ingested version of a library. Name "" means
// unversioned. Status mirrors the job lifecycle so the engine can
// recover queued and running work after a restart.
type Version struct {
	ID               int64
	LibraryID        int64
	Library          string
	Name             string
	Status           model.JobStatus
	ErrorMessage     string
	ProgressPages    int
	ProgressMaxPages int
	SourceURL        string
	Options          *model.ScraperOptions
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Page is one stored page of a version.
type Page struct {
	ID        int64
	VersionID int64
	URL       string
	Title     string
	Depth     int
	ETag      string
	CreatedAt time.Time
}

// Store persists libraries, versions, pages and chunks. Page writes are
// idempotent by (version, url): re-adding a URL replaces the page and
// its chunks.
type Store interface {
	// EnsureLibraryAndVersion creates the library and version rows if
	// missing and returns the version id. Identity is normalized before
	// storage.
	EnsureLibraryAndVersion(ctx context.Context, library, version string) (int64, error)

	// SaveVersionMeta records the source URL and scraper options used
	// for a version, for later refresh.
	SaveVersionMeta(ctx context.Context, versionID int64, sourceURL string, opts model.ScraperOptions) error

	UpdateVersionStatus(ctx context.Context, versionID int64, status model.JobStatus, errMsg string) error
	UpdateVersionProgress(ctx context.Context, versionID int64, pages, maxPages int) error

	GetVersionsByStatus(ctx context.Context, statuses ...model.JobStatus) ([]Version, error)
	GetVersionByID(ctx context.Context, versionID int64) (*Version, error)
	GetLibraryByID(ctx context.Context, libraryID int64) (*Library, error)
	FindVersion(ctx context.Context, library, version string) (*Version, error)
	GetScraperOptions(ctx context.Context, versionID int64) (*model.ScraperOptions, error)

	// GetPagesByVersionID returns the pages of a version, used to seed
	// the refresh queue with urls, etags and depths.
	GetPagesByVersionID(ctx context.Context, versionID int64) ([]Page, error)

	AddScrapeResult(ctx context.Context, library, version string, depth int, result *model.ScrapeResult) error
	DeletePage(ctx context.Context, pageID int64) error
	RemoveAllDocuments(ctx context.Context, library, version string) error

	// DeleteExpiredVersions removes terminal versions not updated since
	// the cutoff, returning how many were dropped.
	DeleteExpiredVersions(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
