package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"docdex/internal/model"
	"docdex/internal/store"
)

// Store is the Postgres-backed store.Store. All SQL lives here; callers
// only see the typed methods.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres using a pgx stdlib handle with pooling.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", model.ErrStore, err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureLibraryAndVersion(ctx context.Context, library, version string) (int64, error) {
	library, version = model.NormalizeIdentity(library, version)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin", err)
	}
	defer tx.Rollback()

	id, err := ensureVersionTx(ctx, tx, library, version)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit", err)
	}
	return id, nil
}

func ensureVersionTx(ctx context.Context, tx *sql.Tx, library, version string) (int64, error) {
	var libID int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO libraries (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, library).Scan(&libID)
	if err != nil {
		return 0, storeErr("ensure library", err)
	}

	var verID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO versions (library_id, name) VALUES ($1, $2)
		ON CONFLICT (library_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`, libID, version).Scan(&verID)
	if err != nil {
		return 0, storeErr("ensure version", err)
	}
	return verID, nil
}

func (s *Store) SaveVersionMeta(ctx context.Context, versionID int64, sourceURL string, opts model.ScraperOptions) error {
	payload, err := json.Marshal(opts)
	if err != nil {
		return storeErr("marshal options", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE versions
		SET source_url = $2, scraper_options = $3, updated_at = now()
		WHERE id = $1`,
		versionID, sourceURL, pqtype.NullRawMessage{RawMessage: payload, Valid: true})
	return storeErrOrNil("save version meta", err)
}

func (s *Store) UpdateVersionStatus(ctx context.Context, versionID int64, status model.JobStatus, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE versions
		SET status = $2, error_message = NULLIF($3, ''), updated_at = now()
		WHERE id = $1`,
		versionID, string(status), errMsg)
	return storeErrOrNil("update version status", err)
}

func (s *Store) UpdateVersionProgress(ctx context.Context, versionID int64, pages, maxPages int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE versions
		SET progress_pages = $2, progress_max_pages = $3, updated_at = now()
		WHERE id = $1`,
		versionID, pages, maxPages)
	return storeErrOrNil("update version progress", err)
}

const versionColumns = `
	v.id, v.library_id, l.name, v.name, v.status,
	COALESCE(v.error_message, ''), v.progress_pages, v.progress_max_pages,
	COALESCE(v.source_url, ''), v.scraper_options, v.created_at, v.updated_at`

func scanVersion(row interface{ Scan(...any) error }) (*store.Version, error) {
	var v store.Version
	var status string
	var opts pqtype.NullRawMessage
	err := row.Scan(&v.ID, &v.LibraryID, &v.Library, &v.Name, &status,
		&v.ErrorMessage, &v.ProgressPages, &v.ProgressMaxPages,
		&v.SourceURL, &opts, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = model.JobStatus(status)
	if opts.Valid {
		var so model.ScraperOptions
		if err := json.Unmarshal(opts.RawMessage, &so); err == nil {
			v.Options = &so
		}
	}
	return &v, nil
}

func (s *Store) GetVersionsByStatus(ctx context.Context, statuses ...model.JobStatus) ([]store.Version, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return nil, storeErr("marshal statuses", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v
		JOIN libraries l ON l.id = v.library_id
		WHERE v.status IN (SELECT jsonb_array_elements_text($1::jsonb))
		ORDER BY v.created_at`, raw)
	if err != nil {
		return nil, storeErr("versions by status", err)
	}
	defer rows.Close()

	var out []store.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storeErr("scan version", err)
		}
		out = append(out, *v)
	}
	return out, storeErrOrNil("versions by status", rows.Err())
}

func (s *Store) GetVersionByID(ctx context.Context, versionID int64) (*store.Version, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v JOIN libraries l ON l.id = v.library_id
		WHERE v.id = $1`, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %d", model.ErrNotFound, versionID)
	}
	if err != nil {
		return nil, storeErr("version by id", err)
	}
	return v, nil
}

func (s *Store) GetLibraryByID(ctx context.Context, libraryID int64) (*store.Library, error) {
	var l store.Library
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM libraries WHERE id = $1`, libraryID).
		Scan(&l.ID, &l.Name, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: library %d", model.ErrNotFound, libraryID)
	}
	if err != nil {
		return nil, storeErr("library by id", err)
	}
	return &l, nil
}

func (s *Store) FindVersion(ctx context.Context, library, version string) (*store.Version, error) {
	library, version = model.NormalizeIdentity(library, version)

	row := s.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions v JOIN libraries l ON l.id = v.library_id
		WHERE l.name = $1 AND v.name = $2`, library, version)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s@%s", model.ErrNotFound, library, version)
	}
	if err != nil {
		return nil, storeErr("find version", err)
	}
	return v, nil
}

func (s *Store) GetScraperOptions(ctx context.Context, versionID int64) (*model.ScraperOptions, error) {
	v, err := s.GetVersionByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	return v.Options, nil
}

func (s *Store) GetPagesByVersionID(ctx context.Context, versionID int64) ([]store.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version_id, url, COALESCE(title, ''), depth, COALESCE(etag, ''), created_at
		FROM pages WHERE version_id = $1 ORDER BY id`, versionID)
	if err != nil {
		return nil, storeErr("pages by version", err)
	}
	defer rows.Close()

	var out []store.Page
	for rows.Next() {
		var p store.Page
		if err := rows.Scan(&p.ID, &p.VersionID, &p.URL, &p.Title, &p.Depth, &p.ETag, &p.CreatedAt); err != nil {
			return nil, storeErr("scan page", err)
		}
		out = append(out, p)
	}
	return out, storeErrOrNil("pages by version", rows.Err())
}

func (s *Store) AddScrapeResult(ctx context.Context, library, version string, depth int, result *model.ScrapeResult) error {
	library, version = model.NormalizeIdentity(library, version)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin", err)
	}
	defer tx.Rollback()

	versionID, err := ensureVersionTx(ctx, tx, library, version)
	if err != nil {
		return err
	}

	var pageID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO pages (version_id, url, title, depth, etag, content_type, text_content)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
		ON CONFLICT (version_id, url) DO UPDATE SET
			title = EXCLUDED.title, depth = EXCLUDED.depth,
			etag = EXCLUDED.etag, content_type = EXCLUDED.content_type,
			text_content = EXCLUDED.text_content, updated_at = now()
		RETURNING id`,
		versionID, result.URL, result.Title, depth, result.ETag, result.ContentType, result.TextContent).
		Scan(&pageID)
	if err != nil {
		return storeErr("upsert page", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE page_id = $1`, pageID); err != nil {
		return storeErr("clear chunks", err)
	}

	for i, chunk := range result.Chunks {
		types, err := json.Marshal(chunk.Types)
		if err != nil {
			return storeErr("marshal chunk types", err)
		}
		section, err := json.Marshal(chunk.Section)
		if err != nil {
			return storeErr("marshal chunk section", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (page_id, ord, content, types, section)
			VALUES ($1, $2, $3, $4, $5)`,
			pageID, i, chunk.Content,
			pqtype.NullRawMessage{RawMessage: types, Valid: true},
			pqtype.NullRawMessage{RawMessage: section, Valid: true}); err != nil {
			return storeErr("insert chunk", err)
		}
	}

	return storeErrOrNil("commit", tx.Commit())
}

func (s *Store) DeletePage(ctx context.Context, pageID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pages WHERE id = $1`, pageID)
	if err != nil {
		return storeErr("delete page", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: page %d", model.ErrNotFound, pageID)
	}
	return nil
}

func (s *Store) RemoveAllDocuments(ctx context.Context, library, version string) error {
	library, version = model.NormalizeIdentity(library, version)

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pages
		WHERE version_id IN (
			SELECT v.id FROM versions v
			JOIN libraries l ON l.id = v.library_id
			WHERE l.name = $1 AND v.name = $2
		)`, library, version)
	return storeErrOrNil("remove all documents", err)
}

func (s *Store) DeleteExpiredVersions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM versions
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, storeErr("delete expired versions", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", model.ErrStore, op, err)
}

func storeErrOrNil(op string, err error) error {
	if err == nil {
		return nil
	}
	return storeErr(op, err)
}
