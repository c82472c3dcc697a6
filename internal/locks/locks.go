// Package locks implements exclusive edit locks on content items. A lock has
// a single holder and a TTL; expired locks are never deleted eagerly, the
// next acquire simply claims over them.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Lock describes the active lock on a content item.
type Lock struct {
	ContentID  string    `json:"contentId"`
	HolderID   string    `json:"holderId"`
	HolderName string    `json:"holderName"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Holder identifies who is asking for a lock.
type Holder struct {
	ID   string
	Name string
}

// ErrNotHolder is returned when a caller tries to extend or release a lock
// that a different user currently holds.
var ErrNotHolder = errors.New("lock held by another user")

// ErrNotFound is returned when no active lock exists on the content.
var ErrNotFound = errors.New("no active lock")

// ConflictError reports a failed acquire. It carries the competing lock so
// handlers can tell the caller who has it and until when.
type ConflictError struct {
	Lock Lock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("content locked by %s until %s", e.Lock.HolderName, e.Lock.ExpiresAt.Format(time.RFC3339))
}

// Manager is the lock backend. Both the Postgres and the Redis
// implementations satisfy it; which one runs is a deployment choice.
type Manager interface {
	// Acquire takes the lock for holder, succeeding when the content is
	// unlocked, the lock is expired, or holder already owns it (the TTL is
	// then refreshed). A live lock by someone else yields *ConflictError.
	Acquire(ctx context.Context, contentID string, holder Holder, ttl time.Duration) (Lock, error)

	// Extend pushes the expiry of a lock the holder already owns. Returns
	// ErrNotFound when no active lock exists, ErrNotHolder when someone
	// else holds it.
	Extend(ctx context.Context, contentID, holderID string, ttl time.Duration) (Lock, error)

	// Release drops the holder's lock. Releasing an absent or expired lock
	// is a no-op; releasing someone else's live lock is ErrNotHolder.
	Release(ctx context.Context, contentID, holderID string) error

	// Get returns the active lock, or ErrNotFound when there is none or it
	// has expired.
	Get(ctx context.Context, contentID string) (Lock, error)
}
