package attrtree

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// rootParent marks a top-level attribute; no row ever has this as its
// own quark, so it is safe to use as a non-existent parent id.
const rootParent = -1

// Tree is a SQLite-backed attribute tree: it maps hierarchical string
// paths to small integer quarks, assigning quarks on first creation
// and caching the mapping in memory for fast repeat lookups.
type Tree struct {
	mu sync.RWMutex
	db *sqlx.DB

	byPath map[string]int32
	count  int
}

// Open opens (creating and migrating as needed) the attribute tree
// database at path.
func Open(path string) (*Tree, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	t := &Tree{db: db, byPath: make(map[string]int32)}
	if err := t.preload(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tree) preload() error {
	rows, err := t.db.Queryx("SELECT quark, parent, name FROM attribute")
	if err != nil {
		return err
	}
	defer rows.Close()

	type row struct {
		Quark  int32
		Parent int32
		Name   string
	}
	byQuark := make(map[int32]row)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.Quark, &r.Parent, &r.Name); err != nil {
			return err
		}
		byQuark[r.Quark] = r
	}

	var pathOf func(q int32) string
	pathOf = func(q int32) string {
		r, ok := byQuark[q]
		if !ok {
			return ""
		}
		if r.Parent == rootParent {
			return "/" + r.Name
		}
		return pathOf(r.Parent) + "/" + r.Name
	}

	for q := range byQuark {
		t.byPath[pathOf(q)] = q
	}
	t.count = len(byQuark)
	return nil
}

func joinPath(path []string) string {
	s := ""
	for _, p := range path {
		s += "/" + p
	}
	return s
}

// NumberOfAttributes returns the total number of attributes created so
// far.
func (t *Tree) NumberOfAttributes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// QuarkForPath resolves path without creating it.
func (t *Tree) QuarkForPath(path []string) (int32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	q, ok := t.byPath[joinPath(path)]
	return q, ok
}

// QuarkForPathOrCreate resolves path, creating every missing segment
// along the way.
func (t *Tree) QuarkForPathOrCreate(path []string) (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent := int32(rootParent)
	built := ""
	var quark int32

	for _, name := range path {
		built += "/" + name
		if q, ok := t.byPath[built]; ok {
			quark = q
			parent = q
			continue
		}

		q, err := t.insertAttribute(parent, name)
		if err != nil {
			return 0, err
		}
		t.byPath[built] = q
		t.count++
		quark = q
		parent = q
	}

	return quark, nil
}

func (t *Tree) insertAttribute(parent int32, name string) (int32, error) {
	query, args, err := sq.Insert("attribute").
		Columns("parent", "name").
		Values(parent, name).
		ToSql()
	if err != nil {
		return 0, err
	}

	res, err := t.db.Exec(query, args...)
	if err != nil {
		// Concurrent creator may have won the UNIQUE(parent, name) race.
		if existing, ok2 := t.lookupExisting(parent, name); ok2 {
			return existing, nil
		}
		return 0, fmt.Errorf("attrtree: inserting (%d,%q): %w", parent, name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int32(id), nil
}

func (t *Tree) lookupExisting(parent int32, name string) (int32, bool) {
	query, args, err := sq.Select("quark").
		From("attribute").
		Where(sq.Eq{"parent": parent, "name": name}).
		ToSql()
	if err != nil {
		return 0, false
	}
	var quark int32
	if err := t.db.Get(&quark, query, args...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false
		}
		return 0, false
	}
	return quark, true
}
