// Package versions owns the content version history: recording saves,
// reading and comparing past versions, restoring, and retention cleanup.
package versions

import (
	"context"
	"fmt"
	"log"
	"sort"

	"storyslip/api/internal/archive"
	"storyslip/api/internal/store"
	"storyslip/api/internal/util"
)

// Author identifies who is recording a version.
type Author struct {
	ID   string
	Name string
}

// FieldChange describes one changed snapshot field between two versions.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Comparison is the result of comparing two versions of the same content.
// Serialization is the HTTP layer's job; the snapshots here carry no tags.
type Comparison struct {
	From    store.ContentVersion
	To      store.ContentVersion
	Changes []FieldChange
}

type versionStore interface {
	RecordContentVersion(ctx context.Context, version store.ContentVersion) (store.ContentVersion, error)
	GetContentVersion(ctx context.Context, contentID string, versionNumber int) (store.ContentVersion, error)
	ListContentVersions(ctx context.Context, contentID string, limit, offset int) ([]store.ContentVersion, error)
	LatestContentVersion(ctx context.Context, contentID string) (store.ContentVersion, error)
	CountContentVersions(ctx context.Context, contentID string) (int, error)
	CleanupContentVersions(ctx context.Context, keep int) (int64, error)
}

type archiveMirror interface {
	EnsureContentRepo(contentID string) error
	CommitVersion(contentID string, version store.ContentVersion, authorName string) (archive.CommitInfo, error)
	TagRestore(contentID string, fromVersion, newVersion int) error
	History(contentID string, limit int) ([]archive.CommitInfo, error)
}

// Service records and serves content versions. The archive mirror is
// optional; when present it is strictly best effort and never fails a save.
type Service struct {
	store   versionStore
	archive archiveMirror
}

func New(store versionStore, archive archiveMirror) *Service {
	return &Service{store: store, archive: archive}
}

// Record appends a new version of the content and advances the watermark.
func (s *Service) Record(ctx context.Context, contentID string, snapshot store.Snapshot, author Author, changeSummary string) (store.ContentVersion, error) {
	version := store.ContentVersion{
		ID:            util.NewUUID(),
		ContentID:     contentID,
		Title:         snapshot.Title,
		Body:          snapshot.Body,
		Excerpt:       snapshot.Excerpt,
		AuthorID:      author.ID,
		ChangeSummary: changeSummary,
	}

	recorded, err := s.store.RecordContentVersion(ctx, version)
	if err != nil {
		return store.ContentVersion{}, err
	}

	s.mirror(contentID, recorded, author.Name)
	return recorded, nil
}

func (s *Service) Get(ctx context.Context, contentID string, versionNumber int) (store.ContentVersion, error) {
	return s.store.GetContentVersion(ctx, contentID, versionNumber)
}

func (s *Service) List(ctx context.Context, contentID string, limit, offset int) ([]store.ContentVersion, int, error) {
	items, err := s.store.ListContentVersions(ctx, contentID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.CountContentVersions(ctx, contentID)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) Latest(ctx context.Context, contentID string) (store.ContentVersion, error) {
	return s.store.LatestContentVersion(ctx, contentID)
}

// Compare returns the field-level changes between two versions. The order of
// the arguments does not matter; changes always read from the older to the
// newer version.
func (s *Service) Compare(ctx context.Context, contentID string, version1, version2 int) (Comparison, error) {
	if version1 == version2 {
		return Comparison{}, fmt.Errorf("cannot compare a version with itself")
	}
	older, newer := version1, version2
	if older > newer {
		older, newer = newer, older
	}

	from, err := s.store.GetContentVersion(ctx, contentID, older)
	if err != nil {
		return Comparison{}, err
	}
	to, err := s.store.GetContentVersion(ctx, contentID, newer)
	if err != nil {
		return Comparison{}, err
	}

	return Comparison{From: from, To: to, Changes: diffSnapshots(from.Snapshot(), to.Snapshot())}, nil
}

// Restore records the snapshot of an older version as a brand new version.
// History is never rewritten; restoring version 3 on top of version 9
// produces version 10 with version 3's content.
func (s *Service) Restore(ctx context.Context, contentID string, versionNumber int, author Author) (store.ContentVersion, error) {
	historical, err := s.store.GetContentVersion(ctx, contentID, versionNumber)
	if err != nil {
		return store.ContentVersion{}, err
	}

	summary := fmt.Sprintf("Restored from version %d", versionNumber)
	restored, err := s.Record(ctx, contentID, historical.Snapshot(), author, summary)
	if err != nil {
		return store.ContentVersion{}, err
	}

	if s.archive != nil {
		if err := s.archive.TagRestore(contentID, versionNumber, restored.VersionNumber); err != nil {
			log.Printf("archive: tag restore for %s: %v", contentID, err)
		}
	}
	return restored, nil
}

// History lists the git mirror commits for a content item, newest first.
// Without a configured mirror the history is empty, not an error.
func (s *Service) History(contentID string, limit int) ([]archive.CommitInfo, error) {
	if s.archive == nil {
		return []archive.CommitInfo{}, nil
	}
	return s.archive.History(contentID, limit)
}

// Cleanup trims every content item's history down to the newest keep
// versions and returns the number of deleted rows.
func (s *Service) Cleanup(ctx context.Context, keep int) (int64, error) {
	return s.store.CleanupContentVersions(ctx, keep)
}

func (s *Service) mirror(contentID string, version store.ContentVersion, authorName string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.EnsureContentRepo(contentID); err != nil {
		log.Printf("archive: ensure repo for %s: %v", contentID, err)
		return
	}
	if _, err := s.archive.CommitVersion(contentID, version, authorName); err != nil {
		log.Printf("archive: commit version %d for %s: %v", version.VersionNumber, contentID, err)
	}
}

func diffSnapshots(from, to store.Snapshot) []FieldChange {
	type pair struct {
		field  string
		before string
		after  string
	}
	pairs := []pair{
		{field: "title", before: from.Title, after: to.Title},
		{field: "body", before: from.Body, after: to.Body},
		{field: "excerpt", before: from.Excerpt, after: to.Excerpt},
	}
	changes := make([]FieldChange, 0)
	for _, item := range pairs {
		if item.before == item.after {
			continue
		}
		changes = append(changes, FieldChange{Field: item.field, Before: item.before, After: item.after})
	}
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Field < changes[j].Field
	})
	return changes
}
