package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an ingestion job. The same string
// values are persisted in the versions table (versions.status), so they
// must never be renamed without a migration.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusRunning    JobStatus = "running"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelling JobStatus = "cancelling"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never change again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Scope is the URL reachability rule applied during a crawl.
type Scope string

const (
	ScopeSubpages Scope = "subpages"
	ScopeHostname Scope = "hostname"
	ScopeDomain   Scope = "domain"
)

// ScrapeMode selects the fetch engine for http(s) sources.
type ScrapeMode string

const (
	ScrapeModeFetch   ScrapeMode = "fetch"
	ScrapeModeBrowser ScrapeMode = "browser"
	ScrapeModeAuto    ScrapeMode = "auto"
)

// Defaults applied by ScraperOptions.Normalized.
const (
	DefaultMaxPages       = 1000
	DefaultMaxDepth       = 3
	DefaultMaxConcurrency = 3
)

// ScraperOptions is the configuration bundle for one scrape job.
//
// MaxPages <= 0 means unlimited; callers that want the default must go
// through Normalized. MaxDepth < 0 selects the default; 0 is a valid
// value meaning "root page only".
type ScraperOptions struct {
	URL             string            `json:"url"`
	Library         string            `json:"library"`
	Version         string            `json:"version"`
	MaxPages        int               `json:"maxPages"`
	MaxDepth        int               `json:"maxDepth"`
	MaxConcurrency  int               `json:"maxConcurrency"`
	Scope           Scope             `json:"scope"`
	FollowRedirects bool              `json:"followRedirects"`
	IncludePatterns []string          `json:"includePatterns,omitempty"`
	ExcludePatterns []string          `json:"excludePatterns,omitempty"`
	ScrapeMode      ScrapeMode        `json:"scrapeMode"`
	IgnoreErrors    bool              `json:"ignoreErrors"`
	Headers         map[string]string `json:"headers,omitempty"`
	InitialQueue    []QueueItem       `json:"initialQueue,omitempty"`
	IsRefresh       bool              `json:"isRefresh"`
}

// DefaultScraperOptions returns an options bundle with all defaults set.
func DefaultScraperOptions() ScraperOptions {
	return ScraperOptions{
		MaxPages:        DefaultMaxPages,
		MaxDepth:        DefaultMaxDepth,
		MaxConcurrency:  DefaultMaxConcurrency,
		Scope:           ScopeSubpages,
		FollowRedirects: true,
		ScrapeMode:      ScrapeModeAuto,
		IgnoreErrors:    true,
	}
}

// Normalized fills zero-valued fields with defaults. Refresh jobs keep
// MaxPages at 0 (unlimited) so that newly discovered pages are not cut
// off by the original page budget.
func (o ScraperOptions) Normalized() ScraperOptions {
	out := o
	if out.MaxPages == 0 && !out.IsRefresh {
		out.MaxPages = DefaultMaxPages
	}
	if out.MaxDepth < 0 {
		out.MaxDepth = DefaultMaxDepth
	}
	if out.MaxConcurrency <= 0 {
		out.MaxConcurrency = DefaultMaxConcurrency
	}
	if out.Scope == "" {
		out.Scope = ScopeSubpages
	}
	if out.ScrapeMode == "" {
		out.ScrapeMode = ScrapeModeAuto
	}
	return out
}

// QueueItem is one entry in the crawl frontier. PageID and ETag are only
// set for refresh items carried over from persisted pages; PageID 0
// means the item has no persistent identity yet.
type QueueItem struct {
	URL    string `json:"url"`
	Depth  int    `json:"depth"`
	PageID int64  `json:"pageId,omitempty"`
	ETag   string `json:"etag,omitempty"`
}

// ProgressSnapshot reports the state of a crawl after one page completes.
type ProgressSnapshot struct {
	PagesScraped    int
	TotalPages      int
	TotalDiscovered int
	CurrentURL      string
	Depth           int
	MaxDepth        int
	PageID          int64
	Deleted         bool
	Result          *ScrapeResult
}

// ScrapeResult is the processed output for one page.
type ScrapeResult struct {
	URL          string   `json:"url"`
	Title        string   `json:"title"`
	ContentType  string   `json:"contentType"`
	TextContent  string   `json:"textContent"`
	ETag         string   `json:"etag,omitempty"`
	LastModified string   `json:"lastModified,omitempty"`
	Links        []string `json:"links"`
	Errors       []string `json:"errors,omitempty"`
	Chunks       []Chunk  `json:"chunks"`
}

// ChunkType labels the kind of content inside a chunk. A chunk can carry
// several labels (a code chunk that opens a declaration is both "code"
// and "structural").
type ChunkType string

const (
	ChunkText       ChunkType = "text"
	ChunkCode       ChunkType = "code"
	ChunkTable      ChunkType = "table"
	ChunkHeading    ChunkType = "heading"
	ChunkStructural ChunkType = "structural"
)

// SectionInfo places a chunk in the document hierarchy. For markdown the
// path is the heading trail; for source code it is the sequence of
// enclosing named boundaries.
type SectionInfo struct {
	Level int      `json:"level"`
	Path  []string `json:"path"`
}

// Chunk is one unit of splittable content, sized for later embedding.
type Chunk struct {
	Types   []ChunkType `json:"types"`
	Content string      `json:"content"`
	Section SectionInfo `json:"section"`
}

// HasType reports whether the chunk carries the given label.
func (c Chunk) HasType(t ChunkType) bool {
	for _, ct := range c.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// FetchStatus classifies the outcome of a single fetch.
type FetchStatus string

const (
	FetchSuccess     FetchStatus = "success"
	FetchNotModified FetchStatus = "not_modified"
	FetchNotFound    FetchStatus = "not_found"
)

// RawContent is the byte-level result of fetching one source. Source
// holds the final URL after redirects.
type RawContent struct {
	Content      []byte
	MimeType     string
	Charset      string
	Source       string
	ETag         string
	LastModified string
	Status       FetchStatus
}

// Job is the in-memory record of one ingestion job. The Manager owns all
// mutations; other readers only see snapshots.
type Job struct {
	ID         uuid.UUID
	Library    string
	Version    string
	Status     JobStatus
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	SourceURL  string
	Options    ScraperOptions
	VersionID  int64
	Progress   *ProgressSnapshot
	Error      string
}

// Clone returns a copy safe to hand to readers outside the Manager.
func (j *Job) Clone() *Job {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Progress != nil {
		p := *j.Progress
		out.Progress = &p
	}
	return &out
}

// NormalizeIdentity maps a (library, version) pair to its canonical
// form: lower-cased, with nil and "" versions collapsing to "".
func NormalizeIdentity(library, version string) (string, string) {
	return strings.ToLower(strings.TrimSpace(library)), strings.ToLower(strings.TrimSpace(version))
}
