// Package conflicts decides whether a save attempt is safe. It never merges
// anything; it only reports what the writer is about to collide with so the
// client can resolve it.
package conflicts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storyslip/api/internal/locks"
	"storyslip/api/internal/store"
)

// State classifies a save attempt.
type State string

const (
	// StateClean means the save can proceed.
	StateClean State = "clean"
	// StateVersionConflict means newer versions were recorded after the
	// writer's base version.
	StateVersionConflict State = "version_conflict"
	// StateLockConflict means another user holds the edit lock.
	StateLockConflict State = "lock_conflict"
)

// Result carries the detector's verdict plus whatever the client needs to
// resolve it: the latest snapshot for version conflicts, the competing lock
// for lock conflicts.
type Result struct {
	State         State           `json:"state"`
	BaseVersion   *int            `json:"baseVersion,omitempty"`
	LatestVersion int             `json:"latestVersion"`
	Latest        *store.Snapshot `json:"latest,omitempty"`
	Lock          *locks.Lock     `json:"lock,omitempty"`
}

type versionReader interface {
	LatestContentVersion(ctx context.Context, contentID string) (store.ContentVersion, error)
}

type lockReader interface {
	Get(ctx context.Context, contentID string) (locks.Lock, error)
}

// Detector checks save attempts against the version history and the edit
// lock. Version conflicts take precedence over lock conflicts: a stale base
// is reported even when the writer also lacks the lock.
type Detector struct {
	versions versionReader
	locks    lockReader
}

func NewDetector(versions versionReader, locks lockReader) *Detector {
	return &Detector{versions: versions, locks: locks}
}

// Check evaluates a save of contentID by userID against baseVersion. A nil
// baseVersion skips the version check entirely; a baseVersion at or above
// the latest recorded version is treated as current.
func (d *Detector) Check(ctx context.Context, contentID, userID string, baseVersion *int) (Result, error) {
	result := Result{State: StateClean, BaseVersion: baseVersion}

	latest, err := d.versions.LatestContentVersion(ctx, contentID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No history yet; nothing to be stale against.
	case err != nil:
		return Result{}, fmt.Errorf("latest version: %w", err)
	default:
		result.LatestVersion = latest.VersionNumber
		if baseVersion != nil && *baseVersion < latest.VersionNumber {
			snapshot := latest.Snapshot()
			result.State = StateVersionConflict
			result.Latest = &snapshot
			return result, nil
		}
	}

	lock, err := d.locks.Get(ctx, contentID)
	switch {
	case errors.Is(err, locks.ErrNotFound):
		// Unlocked.
	case err != nil:
		return Result{}, fmt.Errorf("read lock: %w", err)
	case lock.HolderID != userID:
		result.State = StateLockConflict
		result.Lock = &lock
		return result, nil
	}

	return result, nil
}
