// Package partial implements the checkpoint+replay front-end: it
// wraps any full history back-end, persisting only the intervals that
// cross a checkpoint boundary, and answers arbitrary-timestamp queries
// by restoring the nearest earlier checkpoint and replaying trace
// events through an in-memory shadow state-system.
package partial

import (
	"iter"

	"github.com/tracekeep/statehist/internal/history"
)

// Backend is the storage contract any inner history implementation
// (tiled or otherwise) must satisfy. history.TiledBackend implements
// this directly.
type Backend interface {
	Insert(start, end int64, quark history.Quark, value history.Value) error
	FinishedBuilding(endTime int64) error
	PointQuery(t int64, quarks []history.Quark) (map[history.Quark]history.Interval, error)
	SingularQuery(t int64, quark history.Quark) (history.Interval, bool, error)
	RangeQuery(quarks []history.Quark, from, to, step int64) (iter.Seq[history.Interval], error)
	Dispose() error
	RemoveFiles() error
}
