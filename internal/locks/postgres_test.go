package locks

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

// lockScript scripts the single-statement answers the Postgres manager sees.
// A nil lock means the statement matched no row, which is how the guarded
// upsert and the holder-only update report contention.
type lockScript struct {
	upsertRow *Lock
	extendRow *Lock
	getRow    *Lock
	deleted   int64
	gets      int
}

type lockConnector struct{ script *lockScript }

func (c lockConnector) Connect(context.Context) (driver.Conn, error) {
	return &lockConn{script: c.script}, nil
}

func (c lockConnector) Driver() driver.Driver { return lockDriver{} }

type lockDriver struct{}

func (lockDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open through the connector")
}

type lockConn struct{ script *lockScript }

func (c *lockConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *lockConn) Close() error { return nil }

func (c *lockConn) Begin() (driver.Tx, error) { return nil, errors.New("no transactions") }

func (c *lockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	switch {
	case strings.Contains(query, "INSERT INTO edit_locks"):
		return lockRows(c.script.upsertRow), nil
	case strings.Contains(query, "UPDATE edit_locks"):
		return lockRows(c.script.extendRow), nil
	case strings.Contains(query, "FROM edit_locks"):
		c.script.gets++
		return lockRows(c.script.getRow), nil
	}
	return nil, fmt.Errorf("unexpected query: %s", query)
}

func (c *lockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	if strings.Contains(query, "DELETE FROM edit_locks") {
		return driver.RowsAffected(c.script.deleted), nil
	}
	return nil, fmt.Errorf("unexpected exec: %s", query)
}

func lockRows(lock *Lock) driver.Rows {
	rows := &scriptRows{columns: []string{"content_id", "holder_id", "holder_name", "acquired_at", "expires_at"}}
	if lock != nil {
		rows.values = []driver.Value{lock.ContentID, lock.HolderID, lock.HolderName, lock.AcquiredAt, lock.ExpiresAt}
	}
	return rows
}

type scriptRows struct {
	columns []string
	values  []driver.Value
	done    bool
}

func (r *scriptRows) Columns() []string { return r.columns }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.done || r.values == nil {
		return io.EOF
	}
	copy(dest, r.values)
	r.done = true
	return nil
}

func newScriptedManager(script *lockScript) *PostgresManager {
	return NewPostgresManager(sql.OpenDB(lockConnector{script: script}))
}

func liveLock(holderID string) *Lock {
	now := time.Now()
	return &Lock{
		ContentID:  "content-1",
		HolderID:   holderID,
		HolderName: "Blake",
		AcquiredAt: now,
		ExpiresAt:  now.Add(10 * time.Minute),
	}
}

func TestPostgresAcquireReturnsLock(t *testing.T) {
	m := newScriptedManager(&lockScript{upsertRow: liveLock("user-1")})

	lock, err := m.Acquire(context.Background(), "content-1", Holder{ID: "user-1", Name: "Blake"}, 10*time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lock.HolderID != "user-1" {
		t.Fatalf("expected holder user-1, got %q", lock.HolderID)
	}
}

func TestPostgresAcquireBlockedReportsHolder(t *testing.T) {
	script := &lockScript{getRow: liveLock("user-2")}
	m := newScriptedManager(script)

	_, err := m.Acquire(context.Background(), "content-1", Holder{ID: "user-1"}, 10*time.Minute)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Lock.HolderID != "user-2" {
		t.Fatalf("conflict must carry the current holder, got %q", conflict.Lock.HolderID)
	}
	if script.gets != 1 {
		t.Fatalf("expected one holder lookup, got %d", script.gets)
	}
}

func TestPostgresAcquireRaceWithRelease(t *testing.T) {
	// Guard blocked the upsert but the lock vanished before the lookup.
	m := newScriptedManager(&lockScript{})

	_, err := m.Acquire(context.Background(), "content-1", Holder{ID: "user-1"}, 10*time.Minute)
	if err == nil {
		t.Fatal("expected a retryable error")
	}
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		t.Fatalf("a vanished lock is not a conflict, got %v", err)
	}
}

func TestPostgresExtendByHolder(t *testing.T) {
	m := newScriptedManager(&lockScript{extendRow: liveLock("user-1")})

	lock, err := m.Extend(context.Background(), "content-1", "user-1", 10*time.Minute)
	if err != nil {
		t.Fatalf("Extend() error = %v", err)
	}
	if lock.ContentID != "content-1" {
		t.Fatalf("unexpected lock %+v", lock)
	}
}

func TestPostgresExtendByOtherHolder(t *testing.T) {
	m := newScriptedManager(&lockScript{getRow: liveLock("user-2")})

	_, err := m.Extend(context.Background(), "content-1", "user-1", 10*time.Minute)
	if !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
}

func TestPostgresExtendExpiredLock(t *testing.T) {
	// The update matches nothing and the follow-up read sees no live row.
	m := newScriptedManager(&lockScript{})

	_, err := m.Extend(context.Background(), "content-1", "user-1", 10*time.Minute)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresReleaseByHolder(t *testing.T) {
	script := &lockScript{deleted: 1}
	m := newScriptedManager(script)

	if err := m.Release(context.Background(), "content-1", "user-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if script.gets != 0 {
		t.Fatal("a successful delete needs no holder lookup")
	}
}

func TestPostgresReleaseAbsentIsIdempotent(t *testing.T) {
	m := newScriptedManager(&lockScript{})

	if err := m.Release(context.Background(), "content-1", "user-1"); err != nil {
		t.Fatalf("releasing an absent lock must be a no-op, got %v", err)
	}
}

func TestPostgresReleaseByOtherHolder(t *testing.T) {
	m := newScriptedManager(&lockScript{getRow: liveLock("user-2")})

	err := m.Release(context.Background(), "content-1", "user-1")
	if !errors.Is(err, ErrNotHolder) {
		t.Fatalf("expected ErrNotHolder, got %v", err)
	}
}

func TestPostgresGetAbsent(t *testing.T) {
	m := newScriptedManager(&lockScript{})

	_, err := m.Get(context.Background(), "content-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
