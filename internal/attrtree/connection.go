// Package attrtree is the companion SQLite store used to persist the
// attribute tree alongside a tile file. The core history package never
// reads or writes it directly; it exists because the on-disk tile
// format (§3) intentionally omits the tree, leaving its persistence to
// the owning framework.
package attrtree

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	once sync.Once
	db   *sqlx.DB
)

type hooks struct{}

func (hooks) Before(ctx context.Context, query string, args ...any) (context.Context, error) {
	return ctx, nil
}

func (hooks) After(ctx context.Context, query string, args ...any) (context.Context, error) {
	return ctx, nil
}

// openDB returns the process-wide connection to the attribute-tree
// database at path, creating and migrating it on first use. SQLite
// only tolerates one writer, so the pool is capped at a single
// connection; callers serialise writes themselves.
func openDB(path string) (*sqlx.DB, error) {
	var err error
	once.Do(func() {
		driverName := "sqlite3-hooked"
		sql.Register(driverName, sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &hooks{}))

		db, err = sqlx.Open(driverName, path)
		if err != nil {
			return
		}
		db.SetMaxOpenConns(1)

		err = migrateTo(db, path)
	})
	if err != nil {
		return nil, fmt.Errorf("attrtree: opening %q: %w", path, err)
	}
	return db, nil
}
