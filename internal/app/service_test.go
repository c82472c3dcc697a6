package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"storyslip/api/internal/archive"
	"storyslip/api/internal/config"
	"storyslip/api/internal/conflicts"
	"storyslip/api/internal/locks"
	"storyslip/api/internal/store"
	"storyslip/api/internal/versions"
)

type fakeStore struct {
	getUserByIDFn         func(context.Context, string) (store.User, error)
	getUserByEmailFn      func(context.Context, string) (store.User, error)
	revokeAccessTokenFn   func(context.Context, string, time.Time) error
	isAccessRevokedFn     func(context.Context, string) (bool, error)
	insertWebsiteFn       func(context.Context, store.Website) error
	getWebsiteFn          func(context.Context, string) (store.Website, error)
	listWebsitesForUserFn func(context.Context, string) ([]store.Website, error)
	membershipRoleFn      func(context.Context, string, string) (string, error)
	upsertMembershipFn    func(context.Context, string, string, string) error
	insertContentFn       func(context.Context, store.Content) error
	getContentFn          func(context.Context, string, string) (store.Content, error)
	listContentFn         func(context.Context, string, int, int) ([]store.Content, error)
	publishContentFn      func(context.Context, string, string, string) error
	deleteContentFn       func(context.Context, string, string) error
	insertAttachmentFn    func(context.Context, store.Attachment) error
	listAttachmentsFn     func(context.Context, string) ([]store.Attachment, error)
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery"}, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessTokenFn != nil {
		return f.revokeAccessTokenFn(ctx, jti, exp)
	}
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessRevokedFn != nil {
		return f.isAccessRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) InsertWebsite(ctx context.Context, website store.Website) error {
	if f.insertWebsiteFn != nil {
		return f.insertWebsiteFn(ctx, website)
	}
	return nil
}

func (f *fakeStore) GetWebsite(ctx context.Context, websiteID string) (store.Website, error) {
	if f.getWebsiteFn != nil {
		return f.getWebsiteFn(ctx, websiteID)
	}
	return store.Website{ID: websiteID, Name: "Site"}, nil
}

func (f *fakeStore) ListWebsitesForUser(ctx context.Context, userID string) ([]store.Website, error) {
	if f.listWebsitesForUserFn != nil {
		return f.listWebsitesForUserFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) MembershipRole(ctx context.Context, websiteID, userID string) (string, error) {
	if f.membershipRoleFn != nil {
		return f.membershipRoleFn(ctx, websiteID, userID)
	}
	return "editor", nil
}

func (f *fakeStore) UpsertMembership(ctx context.Context, websiteID, userID, role string) error {
	if f.upsertMembershipFn != nil {
		return f.upsertMembershipFn(ctx, websiteID, userID, role)
	}
	return nil
}

func (f *fakeStore) InsertContent(ctx context.Context, item store.Content) error {
	if f.insertContentFn != nil {
		return f.insertContentFn(ctx, item)
	}
	return nil
}

func (f *fakeStore) GetContent(ctx context.Context, websiteID, contentID string) (store.Content, error) {
	if f.getContentFn != nil {
		return f.getContentFn(ctx, websiteID, contentID)
	}
	return store.Content{ID: contentID, WebsiteID: websiteID, Title: "Post", VersionNumber: 1}, nil
}

func (f *fakeStore) ListContent(ctx context.Context, websiteID string, limit, offset int) ([]store.Content, error) {
	if f.listContentFn != nil {
		return f.listContentFn(ctx, websiteID, limit, offset)
	}
	return nil, nil
}

func (f *fakeStore) PublishContent(ctx context.Context, websiteID, contentID, updatedBy string) error {
	if f.publishContentFn != nil {
		return f.publishContentFn(ctx, websiteID, contentID, updatedBy)
	}
	return nil
}

func (f *fakeStore) DeleteContent(ctx context.Context, websiteID, contentID string) error {
	if f.deleteContentFn != nil {
		return f.deleteContentFn(ctx, websiteID, contentID)
	}
	return nil
}

func (f *fakeStore) InsertAttachment(ctx context.Context, attachment store.Attachment) error {
	if f.insertAttachmentFn != nil {
		return f.insertAttachmentFn(ctx, attachment)
	}
	return nil
}

func (f *fakeStore) ListAttachments(ctx context.Context, contentID string) ([]store.Attachment, error) {
	if f.listAttachmentsFn != nil {
		return f.listAttachmentsFn(ctx, contentID)
	}
	return nil, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

type fakeSessions struct {
	saveFn   func(context.Context, string, string, time.Time) error
	lookupFn func(context.Context, string) (store.User, error)
	revokeFn func(context.Context, string) error
}

func (f *fakeSessions) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveFn != nil {
		return f.saveFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}

func (f *fakeSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeFn != nil {
		return f.revokeFn(ctx, tokenHash)
	}
	return nil
}

type fakeVersionService struct {
	recordFn  func(context.Context, string, store.Snapshot, versions.Author, string) (store.ContentVersion, error)
	getFn     func(context.Context, string, int) (store.ContentVersion, error)
	listFn    func(context.Context, string, int, int) ([]store.ContentVersion, int, error)
	latestFn  func(context.Context, string) (store.ContentVersion, error)
	compareFn func(context.Context, string, int, int) (versions.Comparison, error)
	restoreFn func(context.Context, string, int, versions.Author) (store.ContentVersion, error)
	historyFn func(string, int) ([]archive.CommitInfo, error)
	cleanupFn func(context.Context, int) (int64, error)
}

func (f *fakeVersionService) Record(ctx context.Context, contentID string, snapshot store.Snapshot, author versions.Author, changeSummary string) (store.ContentVersion, error) {
	if f.recordFn != nil {
		return f.recordFn(ctx, contentID, snapshot, author, changeSummary)
	}
	return store.ContentVersion{ContentID: contentID, VersionNumber: 1, Title: snapshot.Title}, nil
}

func (f *fakeVersionService) Get(ctx context.Context, contentID string, versionNumber int) (store.ContentVersion, error) {
	if f.getFn != nil {
		return f.getFn(ctx, contentID, versionNumber)
	}
	return store.ContentVersion{}, sql.ErrNoRows
}

func (f *fakeVersionService) List(ctx context.Context, contentID string, limit, offset int) ([]store.ContentVersion, int, error) {
	if f.listFn != nil {
		return f.listFn(ctx, contentID, limit, offset)
	}
	return nil, 0, nil
}

func (f *fakeVersionService) Latest(ctx context.Context, contentID string) (store.ContentVersion, error) {
	if f.latestFn != nil {
		return f.latestFn(ctx, contentID)
	}
	return store.ContentVersion{}, sql.ErrNoRows
}

func (f *fakeVersionService) Compare(ctx context.Context, contentID string, version1, version2 int) (versions.Comparison, error) {
	if f.compareFn != nil {
		return f.compareFn(ctx, contentID, version1, version2)
	}
	return versions.Comparison{}, nil
}

func (f *fakeVersionService) Restore(ctx context.Context, contentID string, versionNumber int, author versions.Author) (store.ContentVersion, error) {
	if f.restoreFn != nil {
		return f.restoreFn(ctx, contentID, versionNumber, author)
	}
	return store.ContentVersion{}, sql.ErrNoRows
}

func (f *fakeVersionService) History(contentID string, limit int) ([]archive.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(contentID, limit)
	}
	return []archive.CommitInfo{}, nil
}

func (f *fakeVersionService) Cleanup(ctx context.Context, keep int) (int64, error) {
	if f.cleanupFn != nil {
		return f.cleanupFn(ctx, keep)
	}
	return 0, nil
}

type fakeDetector struct {
	checkFn func(context.Context, string, string, *int) (conflicts.Result, error)
}

func (f *fakeDetector) Check(ctx context.Context, contentID, userID string, baseVersion *int) (conflicts.Result, error) {
	if f.checkFn != nil {
		return f.checkFn(ctx, contentID, userID, baseVersion)
	}
	return conflicts.Result{State: conflicts.StateClean}, nil
}

type fakeLockManager struct {
	acquireFn func(context.Context, string, locks.Holder, time.Duration) (locks.Lock, error)
	extendFn  func(context.Context, string, string, time.Duration) (locks.Lock, error)
	releaseFn func(context.Context, string, string) error
	getFn     func(context.Context, string) (locks.Lock, error)
}

func (f *fakeLockManager) Acquire(ctx context.Context, contentID string, holder locks.Holder, ttl time.Duration) (locks.Lock, error) {
	if f.acquireFn != nil {
		return f.acquireFn(ctx, contentID, holder, ttl)
	}
	return locks.Lock{ContentID: contentID, HolderID: holder.ID, HolderName: holder.Name}, nil
}

func (f *fakeLockManager) Extend(ctx context.Context, contentID, holderID string, ttl time.Duration) (locks.Lock, error) {
	if f.extendFn != nil {
		return f.extendFn(ctx, contentID, holderID, ttl)
	}
	return locks.Lock{}, locks.ErrNotFound
}

func (f *fakeLockManager) Release(ctx context.Context, contentID, holderID string) error {
	if f.releaseFn != nil {
		return f.releaseFn(ctx, contentID, holderID)
	}
	return nil
}

func (f *fakeLockManager) Get(ctx context.Context, contentID string) (locks.Lock, error) {
	if f.getFn != nil {
		return f.getFn(ctx, contentID)
	}
	return locks.Lock{}, locks.ErrNotFound
}

func newTestService(fs *fakeStore, fv *fakeVersionService, fd *fakeDetector, fl *fakeLockManager) *Service {
	return &Service{
		cfg: config.Config{
			LockTTL:       10 * time.Minute,
			VersionRetain: 50,
		},
		store:    fs,
		sessions: &fakeSessions{},
		locks:    fl,
		versions: fv,
		detector: fd,
	}
}

func editorSession() Session {
	return Session{UserID: "user-1", UserName: "Avery"}
}

func TestSaveContentRecordsVersionWhenClean(t *testing.T) {
	recorded := 0
	fv := &fakeVersionService{
		recordFn: func(_ context.Context, contentID string, snapshot store.Snapshot, author versions.Author, changeSummary string) (store.ContentVersion, error) {
			recorded++
			if contentID != "content-1" {
				t.Fatalf("expected record for content-1, got %q", contentID)
			}
			if author.ID != "user-1" {
				t.Fatalf("expected author user-1, got %q", author.ID)
			}
			if changeSummary != "Tweaked intro" {
				t.Fatalf("unexpected change summary %q", changeSummary)
			}
			return store.ContentVersion{ContentID: contentID, VersionNumber: 4, Title: snapshot.Title, ChangeSummary: changeSummary}, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, &fakeDetector{}, &fakeLockManager{})

	base := 3
	version, err := svc.SaveContent(context.Background(), editorSession(), "site-1", "content-1", SaveInput{
		BaseVersion:   &base,
		Title:         "Post",
		Body:          "body",
		ChangeSummary: "Tweaked intro",
	})
	if err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	if recorded != 1 {
		t.Fatalf("expected 1 record call, got %d", recorded)
	}
	if version.VersionNumber != 4 {
		t.Fatalf("expected version 4, got %d", version.VersionNumber)
	}
}

func TestSaveContentVersionConflictDoesNotWrite(t *testing.T) {
	fv := &fakeVersionService{
		recordFn: func(context.Context, string, store.Snapshot, versions.Author, string) (store.ContentVersion, error) {
			t.Fatal("record must not be called on conflict")
			return store.ContentVersion{}, nil
		},
	}
	fd := &fakeDetector{
		checkFn: func(_ context.Context, _, _ string, baseVersion *int) (conflicts.Result, error) {
			return conflicts.Result{
				State:         conflicts.StateVersionConflict,
				BaseVersion:   baseVersion,
				LatestVersion: 7,
			}, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, fd, &fakeLockManager{})

	base := 5
	_, err := svc.SaveContent(context.Background(), editorSession(), "site-1", "content-1", SaveInput{BaseVersion: &base, Title: "Post"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusConflict || domainErr.Code != "VERSION_CONFLICT" {
		t.Fatalf("expected 409 VERSION_CONFLICT, got %d %s", domainErr.Status, domainErr.Code)
	}
	result, ok := domainErr.Details.(conflicts.Result)
	if !ok {
		t.Fatalf("expected conflict result details, got %T", domainErr.Details)
	}
	if result.LatestVersion != 7 {
		t.Fatalf("expected latest version 7 in details, got %d", result.LatestVersion)
	}
}

func TestSaveContentLockConflict(t *testing.T) {
	fd := &fakeDetector{
		checkFn: func(context.Context, string, string, *int) (conflicts.Result, error) {
			return conflicts.Result{
				State: conflicts.StateLockConflict,
				Lock:  &locks.Lock{ContentID: "content-1", HolderID: "user-2", HolderName: "Blair"},
			}, nil
		},
	}
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, fd, &fakeLockManager{})

	_, err := svc.SaveContent(context.Background(), editorSession(), "site-1", "content-1", SaveInput{Title: "Post"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "LOCK_CONFLICT" {
		t.Fatalf("expected LOCK_CONFLICT, got %s", domainErr.Code)
	}
}

func TestSaveContentRequiresWriteRole(t *testing.T) {
	fs := &fakeStore{
		membershipRoleFn: func(context.Context, string, string) (string, error) {
			return "viewer", nil
		},
	}
	svc := newTestService(fs, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	_, err := svc.SaveContent(context.Background(), editorSession(), "site-1", "content-1", SaveInput{Title: "Post"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestSaveContentMissingMembershipIsForbidden(t *testing.T) {
	fs := &fakeStore{
		membershipRoleFn: func(context.Context, string, string) (string, error) {
			return "", nil
		},
	}
	svc := newTestService(fs, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	_, err := svc.SaveContent(context.Background(), editorSession(), "site-1", "content-1", SaveInput{Title: "Post"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403 for missing membership, got %v", err)
	}
}

func TestAcquireLockMapsConflict(t *testing.T) {
	held := locks.Lock{ContentID: "content-1", HolderID: "user-2", HolderName: "Blair", ExpiresAt: time.Now().Add(5 * time.Minute)}
	fl := &fakeLockManager{
		acquireFn: func(context.Context, string, locks.Holder, time.Duration) (locks.Lock, error) {
			return locks.Lock{}, &locks.ConflictError{Lock: held}
		},
	}
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, &fakeDetector{}, fl)

	_, err := svc.AcquireLock(context.Background(), editorSession(), "site-1", "content-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusConflict || domainErr.Code != "LOCK_CONFLICT" {
		t.Fatalf("expected 409 LOCK_CONFLICT, got %d %s", domainErr.Status, domainErr.Code)
	}
	result, ok := domainErr.Details.(conflicts.Result)
	if !ok || result.Lock == nil || result.Lock.HolderID != "user-2" {
		t.Fatalf("expected holder details in conflict result, got %#v", domainErr.Details)
	}
}

func TestAcquireLockUsesConfiguredTTL(t *testing.T) {
	fl := &fakeLockManager{
		acquireFn: func(_ context.Context, contentID string, holder locks.Holder, ttl time.Duration) (locks.Lock, error) {
			if ttl != 10*time.Minute {
				t.Fatalf("expected configured 10m TTL, got %v", ttl)
			}
			return locks.Lock{ContentID: contentID, HolderID: holder.ID}, nil
		},
	}
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, &fakeDetector{}, fl)

	lock, err := svc.AcquireLock(context.Background(), editorSession(), "site-1", "content-1")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	if lock.HolderID != "user-1" {
		t.Fatalf("expected holder user-1, got %q", lock.HolderID)
	}
}

func TestExtendLockMissingIsNotFound(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	_, err := svc.ExtendLock(context.Background(), editorSession(), "site-1", "content-1", 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != http.StatusNotFound || domainErr.Code != "LOCK_NOT_FOUND" {
		t.Fatalf("expected 404 LOCK_NOT_FOUND, got %d %s", domainErr.Status, domainErr.Code)
	}
}

func TestExtendLockHonorsRequestedMinutes(t *testing.T) {
	fl := &fakeLockManager{
		extendFn: func(_ context.Context, contentID, holderID string, ttl time.Duration) (locks.Lock, error) {
			if ttl != 30*time.Minute {
				t.Fatalf("expected 30m TTL, got %v", ttl)
			}
			return locks.Lock{ContentID: contentID, HolderID: holderID}, nil
		},
	}
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, &fakeDetector{}, fl)

	if _, err := svc.ExtendLock(context.Background(), editorSession(), "site-1", "content-1", 30); err != nil {
		t.Fatalf("ExtendLock() error = %v", err)
	}
}

func TestReleaseLockOtherHolderIsForbidden(t *testing.T) {
	fl := &fakeLockManager{
		releaseFn: func(context.Context, string, string) error {
			return locks.ErrNotHolder
		},
	}
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, &fakeDetector{}, fl)

	err := svc.ReleaseLock(context.Background(), editorSession(), "site-1", "content-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden || domainErr.Code != "NOT_LOCK_HOLDER" {
		t.Fatalf("expected 403 NOT_LOCK_HOLDER, got %v", err)
	}
}

func TestGetLockAbsentReturnsNil(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	lock, err := svc.GetLock(context.Background(), editorSession(), "site-1", "content-1")
	if err != nil {
		t.Fatalf("GetLock() error = %v", err)
	}
	if lock != nil {
		t.Fatalf("expected nil lock, got %#v", lock)
	}
}

func TestRestoreVersionBlockedByForeignLock(t *testing.T) {
	fl := &fakeLockManager{
		getFn: func(context.Context, string) (locks.Lock, error) {
			return locks.Lock{ContentID: "content-1", HolderID: "user-2", HolderName: "Blair"}, nil
		},
	}
	fv := &fakeVersionService{
		restoreFn: func(context.Context, string, int, versions.Author) (store.ContentVersion, error) {
			t.Fatal("restore must not run while someone else holds the lock")
			return store.ContentVersion{}, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, &fakeDetector{}, fl)

	_, err := svc.RestoreVersion(context.Background(), editorSession(), "site-1", "content-1", 2)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "LOCK_CONFLICT" {
		t.Fatalf("expected LOCK_CONFLICT, got %v", err)
	}
}

func TestRestoreVersionOwnLockIsAllowed(t *testing.T) {
	fl := &fakeLockManager{
		getFn: func(context.Context, string) (locks.Lock, error) {
			return locks.Lock{ContentID: "content-1", HolderID: "user-1"}, nil
		},
	}
	fv := &fakeVersionService{
		restoreFn: func(_ context.Context, contentID string, versionNumber int, author versions.Author) (store.ContentVersion, error) {
			return store.ContentVersion{ContentID: contentID, VersionNumber: 5, ChangeSummary: "Restored from version 2"}, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, &fakeDetector{}, fl)

	restored, err := svc.RestoreVersion(context.Background(), editorSession(), "site-1", "content-1", 2)
	if err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if restored.VersionNumber != 5 {
		t.Fatalf("expected restored version 5, got %d", restored.VersionNumber)
	}
}

func TestCleanupVersionsFallsBackToRetention(t *testing.T) {
	fv := &fakeVersionService{
		cleanupFn: func(_ context.Context, keep int) (int64, error) {
			if keep != 50 {
				t.Fatalf("expected configured retention 50, got %d", keep)
			}
			return 12, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, &fakeDetector{}, &fakeLockManager{})

	deleted, err := svc.CleanupVersions(context.Background(), 0)
	if err != nil {
		t.Fatalf("CleanupVersions() error = %v", err)
	}
	if deleted != 12 {
		t.Fatalf("expected 12 deleted, got %d", deleted)
	}
}

func TestAddMemberRejectsOwnerRole(t *testing.T) {
	fs := &fakeStore{
		membershipRoleFn: func(context.Context, string, string) (string, error) {
			return "owner", nil
		},
	}
	svc := newTestService(fs, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	err := svc.AddMember(context.Background(), editorSession(), "site-1", "blair@example.com", "owner")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for owner role, got %v", err)
	}
}

func TestCreateContentRecordsInitialVersion(t *testing.T) {
	var recordedSummary string
	fv := &fakeVersionService{
		recordFn: func(_ context.Context, contentID string, snapshot store.Snapshot, _ versions.Author, changeSummary string) (store.ContentVersion, error) {
			recordedSummary = changeSummary
			return store.ContentVersion{ContentID: contentID, VersionNumber: 1, Title: snapshot.Title}, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, &fakeDetector{}, &fakeLockManager{})

	item, err := svc.CreateContent(context.Background(), editorSession(), "site-1", ContentInput{Title: "Hello World"})
	if err != nil {
		t.Fatalf("CreateContent() error = %v", err)
	}
	if recordedSummary != "Initial version" {
		t.Fatalf("expected initial version summary, got %q", recordedSummary)
	}
	if item.WebsiteID != "site-1" {
		t.Fatalf("expected website site-1, got %q", item.WebsiteID)
	}
}

func TestDeleteContentRemovesRow(t *testing.T) {
	deleted := false
	fs := &fakeStore{
		deleteContentFn: func(_ context.Context, websiteID, contentID string) error {
			if websiteID != "site-1" || contentID != "content-1" {
				t.Fatalf("unexpected delete target %s/%s", websiteID, contentID)
			}
			deleted = true
			return nil
		},
	}
	svc := newTestService(fs, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	if err := svc.DeleteContent(context.Background(), editorSession(), "site-1", "content-1"); err != nil {
		t.Fatalf("DeleteContent() error = %v", err)
	}
	if !deleted {
		t.Fatal("expected the store delete to run")
	}
}

func TestDeleteContentRequiresWriteRole(t *testing.T) {
	fs := &fakeStore{
		membershipRoleFn: func(context.Context, string, string) (string, error) {
			return "viewer", nil
		},
		deleteContentFn: func(context.Context, string, string) error {
			t.Fatal("viewer must not reach the store delete")
			return nil
		},
	}
	svc := newTestService(fs, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	err := svc.DeleteContent(context.Background(), editorSession(), "site-1", "content-1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestContentHistoryListsMirrorCommits(t *testing.T) {
	fv := &fakeVersionService{
		historyFn: func(contentID string, limit int) ([]archive.CommitInfo, error) {
			if contentID != "content-1" || limit != 25 {
				t.Fatalf("unexpected history call %s limit=%d", contentID, limit)
			}
			return []archive.CommitInfo{{Hash: "abc123", Message: "Version 2"}, {Hash: "def456", Message: "Version 1"}}, nil
		},
	}
	svc := newTestService(&fakeStore{}, fv, &fakeDetector{}, &fakeLockManager{})

	commits, err := svc.ContentHistory(context.Background(), editorSession(), "site-1", "content-1", 25)
	if err != nil {
		t.Fatalf("ContentHistory() error = %v", err)
	}
	if len(commits) != 2 || commits[0].Hash != "abc123" {
		t.Fatalf("expected newest-first mirror commits, got %+v", commits)
	}
}

func TestSlugifyFallsBackFromTitle(t *testing.T) {
	var inserted store.Content
	fs := &fakeStore{
		insertContentFn: func(_ context.Context, item store.Content) error {
			inserted = item
			return nil
		},
	}
	svc := newTestService(fs, &fakeVersionService{}, &fakeDetector{}, &fakeLockManager{})

	if _, err := svc.CreateContent(context.Background(), editorSession(), "site-1", ContentInput{Title: "Hello, World! 2x"}); err != nil {
		t.Fatalf("CreateContent() error = %v", err)
	}
	if inserted.Slug != "hello-world-2x" {
		t.Fatalf("expected slug hello-world-2x, got %q", inserted.Slug)
	}
}
