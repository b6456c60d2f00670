package scraper

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/phuslu/log"

	"docdex/internal/fetch"
	"docdex/internal/logging"
	"docdex/internal/model"
	"docdex/internal/pipeline"
)

// textFileExtensions whitelists repo files worth ingesting. Unknown
// extensions fall back to a text/* MIME sniff at fetch time.
var textFileExtensions = map[string]bool{
	".md": true, ".mdx": true, ".markdown": true, ".rst": true, ".txt": true,
	".html": true, ".htm": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".go": true, ".py": true, ".js": true, ".mjs": true,
	".cjs": true, ".jsx": true, ".ts": true, ".tsx": true,
}

// githubRef is a parsed GitHub URL.
type githubRef struct {
	owner   string
	repo    string
	branch  string // empty means default branch
	subPath string
	kind    string // repo, blob, wiki
}

// GitHubStrategy ingests repositories: the repo URL expands into blob
// URLs via the Git tree API plus the wiki; blob URLs fetch raw file
// contents and route them through the pipelines.
type GitHubStrategy struct {
	client    *github.Client
	raw       *fetch.HTTPFetcher
	web       *WebStrategy
	pipelines *pipeline.Registry
	logger    log.Logger
}

func NewGitHubStrategy(token string, raw *fetch.HTTPFetcher, web *WebStrategy, pipelines *pipeline.Registry) *GitHubStrategy {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHubStrategy{
		client:    client,
		raw:       raw,
		web:       web,
		pipelines: pipelines,
		logger:    logging.Component("scraper.github"),
	}
}

func (s *GitHubStrategy) Name() string { return "github" }

func (s *GitHubStrategy) CanHandle(raw string) bool {
	if strings.HasPrefix(raw, "github-file://") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), "github.com")
}

func (s *GitHubStrategy) ProcessItem(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error) {
	// Stale identifiers from older ingests: report them gone so refresh
	// deletes the rows.
	if strings.HasPrefix(item.URL, "github-file://") {
		return &ItemResult{URL: item.URL, Status: model.FetchNotFound}, nil
	}

	ref, err := parseGitHubURL(item.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	switch ref.kind {
	case "wiki":
		return s.processWiki(ctx, item, opts)
	case "blob":
		return s.processBlob(ctx, item, ref, opts)
	default:
		return s.discoverRepo(ctx, item, ref)
	}
}

// discoverRepo lists the repository tree and emits one blob URL per
// text file, plus the wiki root. A pure discovery visit: no content.
func (s *GitHubStrategy) discoverRepo(ctx context.Context, item model.QueueItem, ref githubRef) (*ItemResult, error) {
	branch := ref.branch
	if branch == "" {
		repo, _, err := s.client.Repositories.Get(ctx, ref.owner, ref.repo)
		if err != nil {
			return nil, fmt.Errorf("%w: repo lookup %s/%s: %v", model.ErrFetch, ref.owner, ref.repo, err)
		}
		branch = repo.GetDefaultBranch()
	}

	tree, _, err := s.client.Git.GetTree(ctx, ref.owner, ref.repo, branch, true)
	if err != nil {
		return nil, fmt.Errorf("%w: tree %s/%s@%s: %v", model.ErrFetch, ref.owner, ref.repo, branch, err)
	}

	var links []string
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()
		if ref.subPath != "" && !strings.HasPrefix(path, strings.TrimSuffix(ref.subPath, "/")+"/") && path != ref.subPath {
			continue
		}
		if !textFileExtensions[strings.ToLower(filepath.Ext(path))] {
			continue
		}
		links = append(links, fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", ref.owner, ref.repo, branch, path))
	}
	links = append(links, fmt.Sprintf("https://github.com/%s/%s/wiki", ref.owner, ref.repo))

	s.logger.Debug().Str("repo", ref.owner+"/"+ref.repo).Int("files", len(links)-1).Msg("Repository tree discovered")
	return &ItemResult{URL: item.URL, Links: links, Status: model.FetchSuccess}, nil
}

// processBlob fetches the raw file behind a blob URL and routes it
// through the pipelines. Blob items never contribute links: the repo
// listing is the single source of discovery.
func (s *GitHubStrategy) processBlob(ctx context.Context, item model.QueueItem, ref githubRef, opts model.ScraperOptions) (*ItemResult, error) {
	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", ref.owner, ref.repo, ref.branch, ref.subPath)

	raw, err := s.raw.Fetch(ctx, rawURL, &fetch.Options{
		ETag:            item.ETag,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, err
	}

	switch raw.Status {
	case model.FetchNotModified, model.FetchNotFound:
		return &ItemResult{URL: item.URL, ETag: raw.ETag, Status: raw.Status}, nil
	}

	// Raw endpoints serve text/plain for everything; let the extension
	// decide so markdown and source files route correctly.
	raw.Source = item.URL
	if mt := mimeFromExtension(ref.subPath); mt != "" {
		raw.MimeType = mt
	}

	p := s.pipelines.Route(raw)
	if p == nil {
		return &ItemResult{URL: item.URL, Status: model.FetchSuccess}, nil
	}
	result, err := p.Process(ctx, raw, opts)
	if err != nil {
		return nil, err
	}
	result.Links = nil

	return &ItemResult{
		URL:          item.URL,
		Title:        result.Title,
		ContentType:  result.ContentType,
		ETag:         raw.ETag,
		LastModified: raw.LastModified,
		Content:      result,
		Status:       model.FetchSuccess,
	}, nil
}

// processWiki scrapes wiki pages over plain HTTP, keeping only links
// that stay inside the same wiki.
func (s *GitHubStrategy) processWiki(ctx context.Context, item model.QueueItem, opts model.ScraperOptions) (*ItemResult, error) {
	res, err := s.web.ProcessItem(ctx, item, opts)
	if err != nil {
		return nil, err
	}

	wikiBase := wikiRoot(item.URL)
	var links []string
	for _, link := range res.Links {
		if strings.HasPrefix(link, wikiBase) {
			links = append(links, link)
		}
	}
	res.Links = links
	return res, nil
}

func (s *GitHubStrategy) Cleanup() error { return s.raw.Close() }

// parseGitHubURL classifies github.com URLs into repo, blob and wiki
// references.
func parseGitHubURL(raw string) (githubRef, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return githubRef{}, err
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return githubRef{}, fmt.Errorf("not a repository url: %s", raw)
	}

	ref := githubRef{owner: parts[0], repo: parts[1], kind: "repo"}
	if len(parts) == 2 {
		return ref, nil
	}

	switch parts[2] {
	case "wiki":
		ref.kind = "wiki"
	case "blob":
		if len(parts) < 5 {
			return githubRef{}, fmt.Errorf("incomplete blob url: %s", raw)
		}
		ref.kind = "blob"
		ref.branch = parts[3]
		ref.subPath = strings.Join(parts[4:], "/")
	case "tree":
		if len(parts) >= 4 {
			ref.branch = parts[3]
		}
		if len(parts) >= 5 {
			ref.subPath = strings.Join(parts[4:], "/")
		}
	default:
		// Other repo sub-pages (issues, pulls) scope to the repo root.
	}
	return ref, nil
}

func wikiRoot(raw string) string {
	if i := strings.Index(raw, "/wiki"); i >= 0 {
		return raw[:i+len("/wiki")]
	}
	return raw
}

func mimeFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".mdx", ".markdown":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	case ".json":
		return "application/json"
	case ".rst", ".txt":
		return "text/plain"
	case ".go":
		return "text/x-go"
	case ".py":
		return "text/x-python"
	case ".js", ".mjs", ".cjs":
		return "text/javascript"
	case ".ts", ".tsx", ".jsx":
		return "text/x-typescript"
	case ".yaml", ".yml", ".toml":
		return "text/plain"
	}
	return ""
}
