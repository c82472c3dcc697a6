package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ── Users ──

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, is_email_verified
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ── Sessions ──

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ── Websites & memberships ──

func (s *PostgresStore) InsertWebsite(ctx context.Context, website Website) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin website tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO websites (id, name, domain, owner_id)
		VALUES ($1, $2, $3, $4)
	`, website.ID, website.Name, website.Domain, website.OwnerID); err != nil {
		return fmt.Errorf("insert website: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO website_memberships (website_id, user_id, role)
		VALUES ($1, $2, 'owner')
	`, website.ID, website.OwnerID); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}

	return tx.Commit()
}

func (s *PostgresStore) GetWebsite(ctx context.Context, websiteID string) (Website, error) {
	var website Website
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, owner_id, created_at, updated_at
		FROM websites WHERE id=$1
	`, websiteID).Scan(&website.ID, &website.Name, &website.Domain, &website.OwnerID, &website.CreatedAt, &website.UpdatedAt)
	if err != nil {
		return Website{}, err
	}
	return website, nil
}

func (s *PostgresStore) ListWebsitesForUser(ctx context.Context, userID string) ([]Website, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.domain, w.owner_id, w.created_at, w.updated_at
		FROM websites w
		JOIN website_memberships m ON m.website_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var websites []Website
	for rows.Next() {
		var website Website
		if err := rows.Scan(&website.ID, &website.Name, &website.Domain, &website.OwnerID, &website.CreatedAt, &website.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan website: %w", err)
		}
		websites = append(websites, website)
	}
	return websites, rows.Err()
}

// MembershipRole returns the caller's role on a website, or "" when the user
// is not a member.
func (s *PostgresStore) MembershipRole(ctx context.Context, websiteID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM website_memberships WHERE website_id=$1 AND user_id=$2
	`, websiteID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read membership role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, websiteID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO website_memberships (website_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (website_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, websiteID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// ── Content ──

func (s *PostgresStore) InsertContent(ctx context.Context, item Content) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content (id, website_id, slug, title, body, excerpt, status, author_id, updated_by, version_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0)
	`, item.ID, item.WebsiteID, item.Slug, item.Title, item.Body, item.Excerpt, item.Status, item.AuthorID, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert content: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContent(ctx context.Context, websiteID, contentID string) (Content, error) {
	var item Content
	err := s.db.QueryRowContext(ctx, `
		SELECT id, website_id, slug, title, body, excerpt, status, author_id, updated_by,
			published_at, created_at, updated_at, version_number
		FROM content WHERE id=$1 AND website_id=$2
	`, contentID, websiteID).Scan(
		&item.ID, &item.WebsiteID, &item.Slug, &item.Title, &item.Body, &item.Excerpt,
		&item.Status, &item.AuthorID, &item.UpdatedBy,
		&item.PublishedAt, &item.CreatedAt, &item.UpdatedAt, &item.VersionNumber,
	)
	if err != nil {
		return Content{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListContent(ctx context.Context, websiteID string, limit, offset int) ([]Content, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, website_id, slug, title, excerpt, status, author_id, updated_by,
			published_at, created_at, updated_at, version_number
		FROM content
		WHERE website_id=$1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`, websiteID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()

	var items []Content
	for rows.Next() {
		var item Content
		if err := rows.Scan(
			&item.ID, &item.WebsiteID, &item.Slug, &item.Title, &item.Excerpt,
			&item.Status, &item.AuthorID, &item.UpdatedBy,
			&item.PublishedAt, &item.CreatedAt, &item.UpdatedAt, &item.VersionNumber,
		); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) PublishContent(ctx context.Context, websiteID, contentID, updatedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE content SET status='published', published_at=NOW(), updated_by=$3, updated_at=NOW()
		WHERE id=$1 AND website_id=$2
	`, contentID, websiteID, updatedBy)
	if err != nil {
		return fmt.Errorf("publish content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("publish content rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteContent removes a content row; versions, locks, and attachments go
// with it through the ON DELETE CASCADE constraints.
func (s *PostgresStore) DeleteContent(ctx context.Context, websiteID, contentID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM content WHERE id=$1 AND website_id=$2
	`, contentID, websiteID)
	if err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete content rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ── Media attachments ──

func (s *PostgresStore) InsertAttachment(ctx context.Context, attachment Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_media (id, content_id, filename, object_key, size_bytes, content_type, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attachment.ID, attachment.ContentID, attachment.Filename, attachment.ObjectKey,
		attachment.SizeBytes, attachment.ContentType, attachment.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, contentID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_id, filename, object_key, size_bytes, content_type, uploaded_by, created_at
		FROM content_media
		WHERE content_id=$1
		ORDER BY created_at DESC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var attachment Attachment
		if err := rows.Scan(
			&attachment.ID, &attachment.ContentID, &attachment.Filename, &attachment.ObjectKey,
			&attachment.SizeBytes, &attachment.ContentType, &attachment.UploadedBy, &attachment.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, attachment)
	}
	return attachments, rows.Err()
}
