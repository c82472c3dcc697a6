package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"storyslip/api/internal/export"
)

// recordRetries bounds how many times a version insert is retried when two
// writers race to the same version number.
const recordRetries = 3

// RecordContentVersion appends an immutable version row and advances the
// content watermark in one transaction. The version number is always
// MAX(version_number)+1 at commit time; a unique constraint on
// (content_id, version_number) catches concurrent writers and the losing
// transaction retries with a fresh number.
func (s *PostgresStore) RecordContentVersion(ctx context.Context, version ContentVersion) (ContentVersion, error) {
	var lastErr error
	for attempt := 0; attempt < recordRetries; attempt++ {
		recorded, err := s.recordVersionOnce(ctx, version)
		if err == nil {
			return recorded, nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			lastErr = err
			continue
		}
		return ContentVersion{}, err
	}
	return ContentVersion{}, fmt.Errorf("record version: concurrent writers exhausted retries: %w", lastErr)
}

func (s *PostgresStore) recordVersionOnce(ctx context.Context, version ContentVersion) (ContentVersion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ContentVersion{}, fmt.Errorf("begin version tx: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM content_versions WHERE content_id=$1
	`, version.ContentID).Scan(&next); err != nil {
		return ContentVersion{}, fmt.Errorf("next version number: %w", err)
	}

	version.VersionNumber = next
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO content_versions (id, content_id, version_number, title, body, excerpt, author_id, change_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, version.ID, version.ContentID, version.VersionNumber, version.Title, version.Body,
		version.Excerpt, version.AuthorID, version.ChangeSummary).Scan(&version.CreatedAt); err != nil {
		return ContentVersion{}, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE content
		SET title=$2, body=$3, excerpt=$4, updated_by=$5, version_number=$6, updated_at=NOW()
		WHERE id=$1
	`, version.ContentID, version.Title, version.Body, version.Excerpt, version.AuthorID, version.VersionNumber); err != nil {
		return ContentVersion{}, fmt.Errorf("advance content watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ContentVersion{}, fmt.Errorf("commit version tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) GetContentVersion(ctx context.Context, contentID string, versionNumber int) (ContentVersion, error) {
	var version ContentVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_id, version_number, title, body, excerpt, author_id, change_summary, created_at
		FROM content_versions
		WHERE content_id=$1 AND version_number=$2
	`, contentID, versionNumber).Scan(
		&version.ID, &version.ContentID, &version.VersionNumber,
		&version.Title, &version.Body, &version.Excerpt,
		&version.AuthorID, &version.ChangeSummary, &version.CreatedAt,
	)
	if err != nil {
		return ContentVersion{}, err
	}
	return version, nil
}

// ListContentVersions returns versions newest first.
func (s *PostgresStore) ListContentVersions(ctx context.Context, contentID string, limit, offset int) ([]ContentVersion, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_id, version_number, title, body, excerpt, author_id, change_summary, created_at
		FROM content_versions
		WHERE content_id=$1
		ORDER BY version_number DESC
		LIMIT $2 OFFSET $3
	`, contentID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []ContentVersion
	for rows.Next() {
		var version ContentVersion
		if err := rows.Scan(
			&version.ID, &version.ContentID, &version.VersionNumber,
			&version.Title, &version.Body, &version.Excerpt,
			&version.AuthorID, &version.ChangeSummary, &version.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) LatestContentVersion(ctx context.Context, contentID string) (ContentVersion, error) {
	var version ContentVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content_id, version_number, title, body, excerpt, author_id, change_summary, created_at
		FROM content_versions
		WHERE content_id=$1
		ORDER BY version_number DESC
		LIMIT 1
	`, contentID).Scan(
		&version.ID, &version.ContentID, &version.VersionNumber,
		&version.Title, &version.Body, &version.Excerpt,
		&version.AuthorID, &version.ChangeSummary, &version.CreatedAt,
	)
	if err != nil {
		return ContentVersion{}, err
	}
	return version, nil
}

func (s *PostgresStore) CountContentVersions(ctx context.Context, contentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM content_versions WHERE content_id=$1
	`, contentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count versions: %w", err)
	}
	return count, nil
}

// GetVersionInfo assembles everything an export of one version needs in a
// single query. versionNumber <= 0 selects the latest version.
func (s *PostgresStore) GetVersionInfo(ctx context.Context, websiteID, contentID string, versionNumber int) (export.VersionInfo, error) {
	var info export.VersionInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT cv.title, cv.excerpt, cv.body, COALESCE(u.display_name, ''), w.name, cv.version_number, cv.created_at
		FROM content_versions cv
		JOIN content c ON c.id = cv.content_id
		JOIN websites w ON w.id = c.website_id
		LEFT JOIN users u ON u.id = cv.author_id
		WHERE c.website_id=$1 AND cv.content_id=$2
		  AND ($3 <= 0 OR cv.version_number = $3)
		ORDER BY cv.version_number DESC
		LIMIT 1
	`, websiteID, contentID, versionNumber).Scan(
		&info.Title, &info.Excerpt, &info.BodyHTML,
		&info.AuthorName, &info.WebsiteName, &info.Version, &info.CreatedAt,
	)
	if err != nil {
		return export.VersionInfo{}, err
	}
	return info, nil
}

// CleanupContentVersions deletes all but the newest keep versions for every
// content row and reports how many rows were removed. The current watermark
// version always survives because it is, by construction, the newest.
func (s *PostgresStore) CleanupContentVersions(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM content_versions
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (
					PARTITION BY content_id ORDER BY version_number DESC
				) AS rank
				FROM content_versions
			) ranked
			WHERE ranked.rank > $1
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("cleanup versions: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup versions rows: %w", err)
	}
	return deleted, nil
}
