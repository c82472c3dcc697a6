package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresManager stores locks in the edit_locks table. The primary key on
// content_id guarantees a single row per content item; acquires over expired
// rows are expressed as an upsert with a guard clause.
type PostgresManager struct {
	db *sql.DB
}

func NewPostgresManager(db *sql.DB) *PostgresManager {
	return &PostgresManager{db: db}
}

func (m *PostgresManager) Acquire(ctx context.Context, contentID string, holder Holder, ttl time.Duration) (Lock, error) {
	var lock Lock
	err := m.db.QueryRowContext(ctx, `
		INSERT INTO edit_locks (content_id, holder_id, holder_name, acquired_at, expires_at)
		VALUES ($1, $2, $3, NOW(), NOW() + $4::interval)
		ON CONFLICT (content_id) DO UPDATE
		SET holder_id=EXCLUDED.holder_id,
			holder_name=EXCLUDED.holder_name,
			acquired_at=NOW(),
			expires_at=NOW() + $4::interval
		WHERE edit_locks.holder_id = $2 OR edit_locks.expires_at <= NOW()
		RETURNING content_id, holder_id, holder_name, acquired_at, expires_at
	`, contentID, holder.ID, holder.Name, interval(ttl)).Scan(
		&lock.ContentID, &lock.HolderID, &lock.HolderName, &lock.AcquiredAt, &lock.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		// The guard clause blocked the upsert: someone else holds a live lock.
		current, getErr := m.Get(ctx, contentID)
		if getErr != nil {
			if errors.Is(getErr, ErrNotFound) {
				// Lost a race with a release; let the caller retry.
				return Lock{}, fmt.Errorf("acquire lock: lock state changed, retry")
			}
			return Lock{}, getErr
		}
		return Lock{}, &ConflictError{Lock: current}
	}
	if err != nil {
		return Lock{}, fmt.Errorf("acquire lock: %w", err)
	}
	return lock, nil
}

func (m *PostgresManager) Extend(ctx context.Context, contentID, holderID string, ttl time.Duration) (Lock, error) {
	var lock Lock
	err := m.db.QueryRowContext(ctx, `
		UPDATE edit_locks
		SET expires_at = NOW() + $3::interval
		WHERE content_id=$1 AND holder_id=$2 AND expires_at > NOW()
		RETURNING content_id, holder_id, holder_name, acquired_at, expires_at
	`, contentID, holderID, interval(ttl)).Scan(
		&lock.ContentID, &lock.HolderID, &lock.HolderName, &lock.AcquiredAt, &lock.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := m.Get(ctx, contentID); getErr == nil {
			return Lock{}, ErrNotHolder
		}
		return Lock{}, ErrNotFound
	}
	if err != nil {
		return Lock{}, fmt.Errorf("extend lock: %w", err)
	}
	return lock, nil
}

func (m *PostgresManager) Release(ctx context.Context, contentID, holderID string) error {
	result, err := m.db.ExecContext(ctx, `
		DELETE FROM edit_locks
		WHERE content_id=$1 AND (holder_id=$2 OR expires_at <= NOW())
	`, contentID, holderID)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lock rows: %w", err)
	}
	if affected == 0 {
		// Either no lock at all (fine, release is idempotent) or a live
		// lock held by someone else.
		if _, getErr := m.Get(ctx, contentID); getErr == nil {
			return ErrNotHolder
		}
	}
	return nil
}

func (m *PostgresManager) Get(ctx context.Context, contentID string) (Lock, error) {
	var lock Lock
	err := m.db.QueryRowContext(ctx, `
		SELECT content_id, holder_id, holder_name, acquired_at, expires_at
		FROM edit_locks
		WHERE content_id=$1 AND expires_at > NOW()
	`, contentID).Scan(
		&lock.ContentID, &lock.HolderID, &lock.HolderName, &lock.AcquiredAt, &lock.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Lock{}, ErrNotFound
	}
	if err != nil {
		return Lock{}, fmt.Errorf("get lock: %w", err)
	}
	return lock, nil
}

func interval(ttl time.Duration) string {
	return fmt.Sprintf("%d milliseconds", ttl.Milliseconds())
}
