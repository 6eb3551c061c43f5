package history

import (
	"fmt"
	"iter"
	"os"
	"sync"

	"github.com/tracekeep/statehist/pkg/lrucache"
)

type tileKey struct {
	level int
	idx   int
}

// TiledBackend is the write and read path over a TileFile: incoming
// intervals are distributed to every resolution's open tile; queries
// descend from the finest resolution to the coarsest until every
// requested quark is resolved.
type TiledBackend struct {
	mu sync.RWMutex

	path    string
	tf      *TileFile
	storage Storage

	open     []*Tile // open[level]: the tile still accepting inserts, or nil
	endTime  int64
	finished bool
	disposed bool

	cache *lrucache.Cache[tileKey, *Tile]
}

// OpenNewTiledBackend creates a brand-new, empty tiled back-end.
func OpenNewTiledBackend(storage Storage, path string, providerVersion uint32, startTime int64, nPixels uint32, resolutions []int64) (*TiledBackend, error) {
	tf := CreateTileFile(storage, providerVersion, startTime, nPixels, resolutions)
	// Reserve the header's bytes at offset 0 so no tile is ever appended
	// there; FinishedBuilding rewrites the same bytes in place.
	if err := tf.WriteHeader(); err != nil {
		return nil, err
	}
	b := &TiledBackend{
		path:    path,
		tf:      tf,
		storage: storage,
		open:    make([]*Tile, len(resolutions)),
		endTime: startTime,
		cache:   lrucache.New[tileKey, *Tile](4 * len(resolutions)),
	}
	return b, nil
}

// OpenExistingTiledBackend opens a previously finished tile file for
// reading.
func OpenExistingTiledBackend(storage Storage, path string, providerVersion uint32) (*TiledBackend, error) {
	tf, err := ReadHeader(storage, providerVersion)
	if err != nil {
		return nil, err
	}
	b := &TiledBackend{
		path:     path,
		tf:       tf,
		storage:  storage,
		open:     make([]*Tile, len(tf.Resolutions)),
		finished: true,
		cache:    lrucache.New[tileKey, *Tile](4 * len(tf.Resolutions)),
	}
	return b, nil
}

// Insert offers one interval to every resolution level, flushing and
// rotating any tile it overflows.
func (b *TiledBackend) Insert(start, end int64, quark Quark, value Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return ErrDisposed
	}
	if b.finished {
		return fmt.Errorf("%w: insert after finished_building", ErrDisposed)
	}
	if end < start {
		return fmt.Errorf("%w: end %d < start %d", ErrTimeRange, end, start)
	}

	if end > b.endTime {
		b.endTime = end
	}

	for level, r := range b.tf.Resolutions {
		span := r * int64(b.tf.NPixels)
		if b.open[level] == nil {
			b.open[level] = NewTile(r, start, start+span, level == 0)
		}

		tile := b.open[level]
		if err := tile.Insert(start, end, quark, value); err != nil {
			return err
		}

		if tile.Finished {
			if err := b.flushLocked(tile); err != nil {
				return err
			}
			next := NewTile(r, tile.End+1, tile.End+1+span, level == 0)
			if err := next.Insert(start, end, quark, value); err != nil {
				return err
			}
			b.open[level] = next
		}
	}

	return nil
}

func (b *TiledBackend) flushLocked(tile *Tile) error {
	if err := b.tf.AppendTile(tile); err != nil {
		return err
	}
	return nil
}

// FinishedBuilding flushes every open tile and writes the header. A
// second call with the same endTime is a no-op.
func (b *TiledBackend) FinishedBuilding(endTime int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return ErrDisposed
	}
	if b.finished {
		return nil
	}

	for level, tile := range b.open {
		if tile == nil {
			continue
		}
		if err := b.flushLocked(tile); err != nil {
			return err
		}
		b.open[level] = nil
	}

	if err := b.tf.WriteHeader(); err != nil {
		return err
	}
	b.finished = true
	b.endTime = endTime
	return nil
}

// PointQuery resolves every quark's state at t, descending from the
// finest resolution to the coarsest until nothing is missing.
func (b *TiledBackend) PointQuery(t int64, quarks []Quark) (map[Quark]Interval, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.disposed {
		return nil, ErrDisposed
	}

	result := make(map[Quark]Interval)
	nLevels := len(b.tf.Resolutions)

	for level := nLevels - 1; level >= 0; level-- {
		tile, err := b.tileAtLocked(level, t)
		if err != nil {
			return nil, err
		}
		for q, iv := range tile.PointQuery(t) {
			if _, have := result[q]; !have {
				result[q] = iv
			}
		}

		if level > 0 {
			idx := b.tf.tileIndex(level, tile.Start)
			if idx+1 < int64(len(b.tf.offsets[level])) {
				forward, err := b.tileAtIndexLocked(level, int(idx+1))
				if err == nil {
					for q, iv := range forward.PointQuery(t) {
						if _, have := result[q]; !have {
							result[q] = iv
						}
					}
				}
			}
		}

		if allPresent(result, quarks) {
			break
		}
	}

	return result, nil
}

func allPresent(result map[Quark]Interval, quarks []Quark) bool {
	for _, q := range quarks {
		if _, ok := result[q]; !ok {
			return false
		}
	}
	return true
}

// SingularQuery resolves one quark's state at t, short-circuiting at
// the first non-null match found while descending resolutions.
func (b *TiledBackend) SingularQuery(t int64, quark Quark) (Interval, bool, error) {
	res, err := b.PointQuery(t, []Quark{quark})
	if err != nil {
		return Interval{}, false, err
	}
	iv, ok := res[quark]
	return iv, ok, nil
}

// RangeQuery picks the coarsest resolution level whose resolution is
// still ≤ the requested pixel step (the finest level if none is), then
// lazily walks every tile that level's window intersects.
func (b *TiledBackend) RangeQuery(quarks []Quark, from, to, step int64) (iter.Seq[Interval], error) {
	b.mu.RLock()
	if b.disposed {
		b.mu.RUnlock()
		return nil, ErrDisposed
	}

	level := len(b.tf.Resolutions) - 1
	for i, r := range b.tf.Resolutions {
		if r <= step {
			level = i
			break
		}
	}

	startIdx := b.tf.tileIndex(level, from)
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := b.tf.tileIndex(level, to)
	nTiles := int64(len(b.tf.offsets[level]))
	if endIdx >= nTiles {
		endIdx = nTiles - 1
	}
	b.mu.RUnlock()

	return func(yield func(Interval) bool) {
		var lastTile *Tile
		for idx := startIdx; idx <= endIdx; idx++ {
			b.mu.RLock()
			tile, err := b.tileAtIndexLocked(level, int(idx))
			b.mu.RUnlock()
			if err != nil {
				return
			}
			lastTile = tile
			for iv := range tile.RangeQuery(quarks, from, to) {
				if !yield(iv) {
					return
				}
			}
		}

		if lastTile == nil {
			return
		}
		missing := lastTile.Missing(quarks, to)
		if len(missing) == 0 {
			return
		}
		topUp := make([]Quark, 0, len(missing))
		for q := range missing {
			topUp = append(topUp, q)
		}
		result, err := b.PointQuery(to, topUp)
		if err != nil {
			return
		}
		for _, iv := range result {
			if !yield(iv) {
				return
			}
		}
	}, nil
}

// tileAtLocked returns the tile at level covering timestamp t.
func (b *TiledBackend) tileAtLocked(level int, t int64) (*Tile, error) {
	idx := b.tf.tileIndex(level, t)
	if idx < 0 {
		idx = 0
	}
	if idx >= int64(len(b.tf.offsets[level])) {
		idx = int64(len(b.tf.offsets[level])) - 1
	}
	return b.tileAtIndexLocked(level, int(idx))
}

func (b *TiledBackend) tileAtIndexLocked(level, idx int) (*Tile, error) {
	if !b.finished && b.open[level] != nil {
		want := b.tf.StartTime + b.tf.span(level)*int64(idx)
		if b.open[level].Start == want {
			return b.open[level], nil
		}
	}

	key := tileKey{level: level, idx: idx}
	if b.finished {
		return b.cache.ComputeIfAbsent(key, func() (*Tile, error) {
			return b.tf.ReadTile(level, idx)
		})
	}
	return b.tf.ReadTile(level, idx)
}

// Dispose releases the back-end. If finishedBuilding was never called
// successfully the underlying file is deleted.
func (b *TiledBackend) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil
	}
	b.disposed = true

	incomplete := !b.finished
	err := b.storage.Close()
	if incomplete && b.path != "" {
		os.Remove(b.path)
	}
	return err
}

// RemoveFiles deletes the backing file outright.
func (b *TiledBackend) RemoveFiles() error {
	if b.path == "" {
		return nil
	}
	return os.Remove(b.path)
}
