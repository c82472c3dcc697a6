package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"storyslip/api/internal/archive"
	"storyslip/api/internal/conflicts"
	"storyslip/api/internal/export"
	"storyslip/api/internal/locks"
	"storyslip/api/internal/rbac"
	"storyslip/api/internal/store"
	"storyslip/api/internal/util"
	"storyslip/api/internal/versions"
)

// SaveInput is a save attempt against a content item. BaseVersion is the
// version the client last saw; nil means the client opted out of conflict
// detection.
type SaveInput struct {
	BaseVersion   *int   `json:"baseVersion"`
	Title         string `json:"title"`
	Body          string `json:"body"`
	Excerpt       string `json:"excerpt"`
	ChangeSummary string `json:"changeSummary"`
}

// SaveContent runs the conflict detector and, when the save is clean,
// records a new version. Conflicts come back as 409 and never write
// anything; the server does not merge.
func (s *Service) SaveContent(ctx context.Context, session Session, websiteID, contentID string, input SaveInput) (store.ContentVersion, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return store.ContentVersion{}, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return store.ContentVersion{}, err
	}

	result, err := s.detector.Check(ctx, contentID, session.UserID, input.BaseVersion)
	if err != nil {
		return store.ContentVersion{}, err
	}
	if result.State != conflicts.StateClean {
		return store.ContentVersion{}, conflictError(result)
	}

	author := versions.Author{ID: session.UserID, Name: session.UserName}
	snapshot := store.Snapshot{Title: input.Title, Body: input.Body, Excerpt: input.Excerpt}
	recorded, err := s.versions.Record(ctx, contentID, snapshot, author, input.ChangeSummary)
	if err != nil {
		return store.ContentVersion{}, err
	}

	if item, err := s.store.GetContent(ctx, websiteID, contentID); err == nil {
		s.indexContent(item)
	}
	return recorded, nil
}

// CheckConflicts reports what a save with the given base version would
// collide with, without writing anything.
func (s *Service) CheckConflicts(ctx context.Context, session Session, websiteID, contentID string, baseVersion *int) (conflicts.Result, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return conflicts.Result{}, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return conflicts.Result{}, err
	}
	return s.detector.Check(ctx, contentID, session.UserID, baseVersion)
}

func conflictError(result conflicts.Result) *DomainError {
	switch result.State {
	case conflicts.StateVersionConflict:
		return domainError(http.StatusConflict, "VERSION_CONFLICT", "Newer versions exist for this content", result)
	case conflicts.StateLockConflict:
		return domainError(http.StatusConflict, "LOCK_CONFLICT", "Another user holds the edit lock", result)
	}
	return domainError(http.StatusConflict, "CONFLICT", "Save conflict", result)
}

// ── Versions ──

func (s *Service) ListVersions(ctx context.Context, session Session, websiteID, contentID string, limit, offset int) ([]store.ContentVersion, int, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return nil, 0, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return nil, 0, err
	}
	return s.versions.List(ctx, contentID, limit, offset)
}

func (s *Service) GetVersion(ctx context.Context, session Session, websiteID, contentID string, versionNumber int) (store.ContentVersion, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return store.ContentVersion{}, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return store.ContentVersion{}, err
	}
	return s.versions.Get(ctx, contentID, versionNumber)
}

func (s *Service) CompareVersions(ctx context.Context, session Session, websiteID, contentID string, version1, version2 int) (versions.Comparison, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return versions.Comparison{}, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return versions.Comparison{}, err
	}
	return s.versions.Compare(ctx, contentID, version1, version2)
}

// ContentHistory lists the git mirror commits behind a content item.
func (s *Service) ContentHistory(ctx context.Context, session Session, websiteID, contentID string, limit int) ([]archive.CommitInfo, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return nil, err
	}
	return s.versions.History(contentID, limit)
}

// RestoreVersion appends the snapshot of an older version as a new version.
// A live lock held by someone else blocks the restore the same way it blocks
// a save.
func (s *Service) RestoreVersion(ctx context.Context, session Session, websiteID, contentID string, versionNumber int) (store.ContentVersion, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return store.ContentVersion{}, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return store.ContentVersion{}, err
	}

	lock, err := s.locks.Get(ctx, contentID)
	if err == nil && lock.HolderID != session.UserID {
		return store.ContentVersion{}, domainError(http.StatusConflict, "LOCK_CONFLICT", "Another user holds the edit lock", conflicts.Result{
			State: conflicts.StateLockConflict,
			Lock:  &lock,
		})
	}
	if err != nil && !errors.Is(err, locks.ErrNotFound) {
		return store.ContentVersion{}, err
	}

	author := versions.Author{ID: session.UserID, Name: session.UserName}
	restored, err := s.versions.Restore(ctx, contentID, versionNumber, author)
	if err != nil {
		return store.ContentVersion{}, err
	}

	if item, err := s.store.GetContent(ctx, websiteID, contentID); err == nil {
		s.indexContent(item)
	}
	return restored, nil
}

// CleanupVersions trims histories to the newest keep versions. keep <= 0
// falls back to the configured retention.
func (s *Service) CleanupVersions(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = s.cfg.VersionRetain
	}
	return s.versions.Cleanup(ctx, keep)
}

// ── Edit locks ──

func (s *Service) AcquireLock(ctx context.Context, session Session, websiteID, contentID string) (locks.Lock, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return locks.Lock{}, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return locks.Lock{}, err
	}

	holder := locks.Holder{ID: session.UserID, Name: session.UserName}
	lock, err := s.locks.Acquire(ctx, contentID, holder, s.cfg.LockTTL)
	var conflict *locks.ConflictError
	if errors.As(err, &conflict) {
		return locks.Lock{}, domainError(http.StatusConflict, "LOCK_CONFLICT", "Another user holds the edit lock", conflicts.Result{
			State: conflicts.StateLockConflict,
			Lock:  &conflict.Lock,
		})
	}
	if err != nil {
		return locks.Lock{}, err
	}
	return lock, nil
}

// ExtendLock refreshes the holder's lock for minutes from now; minutes <= 0
// falls back to the configured TTL.
func (s *Service) ExtendLock(ctx context.Context, session Session, websiteID, contentID string, minutes int) (locks.Lock, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return locks.Lock{}, err
	}

	ttl := s.cfg.LockTTL
	if minutes > 0 {
		ttl = time.Duration(minutes) * time.Minute
	}
	lock, err := s.locks.Extend(ctx, contentID, session.UserID, ttl)
	if errors.Is(err, locks.ErrNotFound) {
		return locks.Lock{}, domainError(http.StatusNotFound, "LOCK_NOT_FOUND", "No active lock to extend", nil)
	}
	if errors.Is(err, locks.ErrNotHolder) {
		return locks.Lock{}, domainError(http.StatusForbidden, "NOT_LOCK_HOLDER", "Only the lock holder may extend it", nil)
	}
	if err != nil {
		return locks.Lock{}, err
	}
	return lock, nil
}

func (s *Service) ReleaseLock(ctx context.Context, session Session, websiteID, contentID string) error {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return err
	}

	err := s.locks.Release(ctx, contentID, session.UserID)
	if errors.Is(err, locks.ErrNotHolder) {
		return domainError(http.StatusForbidden, "NOT_LOCK_HOLDER", "Only the lock holder may release it", nil)
	}
	return err
}

func (s *Service) GetLock(ctx context.Context, session Session, websiteID, contentID string) (*locks.Lock, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}

	lock, err := s.locks.Get(ctx, contentID)
	if errors.Is(err, locks.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// ── Export ──

func (s *Service) ExportVersion(ctx context.Context, session Session, websiteID, contentID string, versionNumber int, format export.Format) (*export.Result, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if s.export == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export service not configured", nil)
	}
	return s.export.Export(ctx, export.Request{
		WebsiteID:     websiteID,
		ContentID:     contentID,
		VersionNumber: versionNumber,
		Format:        format,
	})
}

// ── Media attachments ──

func (s *Service) UploadAttachment(ctx context.Context, session Session, websiteID, contentID, filename, contentType string, size int64, body io.Reader) (store.Attachment, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionWrite); err != nil {
		return store.Attachment{}, err
	}
	if s.media == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return store.Attachment{}, err
	}

	attachment := store.Attachment{
		ID:          util.NewUUID(),
		ContentID:   contentID,
		Filename:    filename,
		ObjectKey:   fmt.Sprintf("%s/%s/%s", websiteID, contentID, util.NewUUID()),
		SizeBytes:   size,
		ContentType: contentType,
		UploadedBy:  session.UserID,
	}
	if err := s.media.Upload(ctx, attachment.ObjectKey, body, size, contentType); err != nil {
		return store.Attachment{}, err
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		return store.Attachment{}, err
	}
	return attachment, nil
}

func (s *Service) ListAttachments(ctx context.Context, session Session, websiteID, contentID string) ([]store.Attachment, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if _, err := s.store.GetContent(ctx, websiteID, contentID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, contentID)
}

func (s *Service) AttachmentURL(ctx context.Context, session Session, websiteID, contentID, attachmentID string) (string, error) {
	if _, err := s.authorize(ctx, websiteID, session.UserID, rbac.ActionRead); err != nil {
		return "", err
	}
	if s.media == nil {
		return "", domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Media storage not configured", nil)
	}
	attachments, err := s.store.ListAttachments(ctx, contentID)
	if err != nil {
		return "", err
	}
	for _, attachment := range attachments {
		if attachment.ID == attachmentID {
			return s.media.PresignedGet(ctx, attachment.ObjectKey, attachment.Filename, 15*time.Minute)
		}
	}
	return "", domainError(http.StatusNotFound, "NOT_FOUND", "Attachment not found", nil)
}
