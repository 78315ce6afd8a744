package blobstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is the SQLite-backed Store implementation.
type DB struct {
	sql *sql.DB

	namesMu sync.Mutex
	names   map[string]*sync.Mutex

	watchMu   sync.Mutex
	watchers  map[string]map[int]chan string
	nextWatch int
}

var _ Store = (*DB)(nil)

// Open creates a SQLite connection with WAL mode and recommended pragmas.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{
		sql:      db,
		names:    make(map[string]*sync.Mutex),
		watchers: make(map[string]map[int]chan string),
	}, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.sql.Close()
}

// Get returns the value for name.
func (db *DB) Get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := db.sql.QueryRowContext(ctx, `SELECT value FROM named_values WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", name, err)
	}
	return value, true, nil
}

// Put replaces the value for name and notifies watchers.
func (db *DB) Put(ctx context.Context, name, value string) error {
	lock := db.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if err := db.write(ctx, name, value); err != nil {
		return err
	}
	db.notify(name, value)
	return nil
}

// Edit atomically applies fn under the per-name lock. The read and the write
// of one edit never interleave with another edit of the same name.
func (db *DB) Edit(ctx context.Context, name string, fn EditFunc) error {
	lock := db.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	current, exists, err := db.Get(ctx, name)
	if err != nil {
		return err
	}
	next, err := fn(current, exists)
	if err == ErrNoChange {
		return nil
	}
	if err != nil {
		return fmt.Errorf("edit %q: %w", name, err)
	}
	if err := db.write(ctx, name, next); err != nil {
		return err
	}
	db.notify(name, next)
	return nil
}

// Delete removes the value for name and notifies watchers with an empty value.
func (db *DB) Delete(ctx context.Context, name string) error {
	lock := db.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	if _, err := db.sql.ExecContext(ctx, `DELETE FROM named_values WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	db.notify(name, "")
	return nil
}

// Watch registers a latest-wins change feed for name.
func (db *DB) Watch(name string) (<-chan string, func()) {
	ch := make(chan string, 16)
	db.watchMu.Lock()
	id := db.nextWatch
	db.nextWatch++
	if db.watchers[name] == nil {
		db.watchers[name] = make(map[int]chan string)
	}
	db.watchers[name][id] = ch
	db.watchMu.Unlock()

	return ch, func() {
		db.watchMu.Lock()
		if m := db.watchers[name]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(db.watchers, name)
			}
		}
		db.watchMu.Unlock()
	}
}

func (db *DB) write(ctx context.Context, name, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO named_values (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		name, value, now)
	if err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	return nil
}

func (db *DB) nameLock(name string) *sync.Mutex {
	db.namesMu.Lock()
	defer db.namesMu.Unlock()
	lock, ok := db.names[name]
	if !ok {
		lock = &sync.Mutex{}
		db.names[name] = lock
	}
	return lock
}

// notify delivers value to every watcher of name. When a watcher's buffer is
// full the oldest pending value is discarded so the feed stays current.
func (db *DB) notify(name, value string) {
	db.watchMu.Lock()
	defer db.watchMu.Unlock()
	for _, ch := range db.watchers[name] {
		select {
		case ch <- value:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- value:
			default:
			}
		}
	}
}
