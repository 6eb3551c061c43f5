package shadow

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/tracekeep/statehist/internal/history"
)

// StateSystem is the shadow state-system: a facade over one primary
// attribute tree, forbidding attribute creation except for the
// checkpoint-partial back-end's synthetic checkpoint attribute, and
// serialising replays behind a single exclusive lock.
//
// Internally it keeps its current/ongoing state (and everything
// replayed into it since the last ReplaceOngoing) in one unbounded
// history.Tile with ignoreResolutionCutOff set, so it never coalesces
// away a short-lived toggle.
type StateSystem struct {
	mu       sync.Mutex
	upstream AttributeTree
	ready    chan struct{}

	checkpointPath  []string
	checkpointQuark int32
	haveCheckpoint  bool

	tile *history.Tile

	lock chan struct{} // 1-buffered: held token == lock taken
}

// New builds an unassigned shadow state-system.
func New() *StateSystem {
	s := &StateSystem{
		ready: make(chan struct{}),
		tile:  history.NewTile(1, math.MinInt64/2, math.MaxInt64/2, true),
		lock:  make(chan struct{}, 1),
	}
	s.lock <- struct{}{}
	return s
}

// SetCheckpointPath records the attribute path the owning back-end
// uses for its synthetic checkpoint index. Must be called before any
// GetQuarkAbsoluteAndAdd.
func (s *StateSystem) SetCheckpointPath(path []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointPath = path
}

// AssignUpstream completes the one-shot handshake with the primary
// state-system's attribute tree. Safe to call exactly once; a second
// call is a no-op so idempotent callers don't need to guard it.
func (s *StateSystem) AssignUpstream(tree AttributeTree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upstream != nil {
		return
	}
	s.upstream = tree
	close(s.ready)
}

// AttributeTree blocks until upstream is assigned, then returns it.
func (s *StateSystem) AttributeTree(ctx context.Context) (AttributeTree, error) {
	select {
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.upstream, nil
	case <-ctx.Done():
		return nil, history.ErrCancelled
	}
}

// TakeQueryLock acquires the single exclusive replay lock, blocking
// until it is free or ctx is cancelled.
func (s *StateSystem) TakeQueryLock(ctx context.Context) error {
	select {
	case <-s.lock:
		return nil
	case <-ctx.Done():
		return history.ErrCancelled
	}
}

// ReleaseQueryLock releases the lock taken by TakeQueryLock. Callers
// must release on every exit path (scoped acquisition).
func (s *StateSystem) ReleaseQueryLock() {
	select {
	case s.lock <- struct{}{}:
	default:
		panic("shadow: ReleaseQueryLock called without a matching TakeQueryLock")
	}
}

// ReplaceOngoing atomically substitutes the shadow's current state
// with the given per-quark intervals (typically a checkpoint
// snapshot), discarding anything replayed since the previous baseline.
// It never touches the attribute tree.
func (s *StateSystem) ReplaceOngoing(intervals map[history.Quark]history.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tile.Clear()
	for q, iv := range intervals {
		s.tile.SetList(q, []history.Interval{iv})
	}
}

// Insert records one replayed interval into the shadow's state, called
// back by the state provider while processing trace events.
func (s *StateSystem) Insert(start, end int64, quark history.Quark, value history.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tile.Insert(start, end, quark, value)
}

// State returns the shadow's current per-quark state, as of the most
// recent Insert or ReplaceOngoing.
func (s *StateSystem) State() map[history.Quark]history.Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make(map[history.Quark]history.Interval)
	for _, q := range s.tile.Quarks() {
		list := s.tile.List(q)
		if len(list) > 0 {
			result[q] = list[len(list)-1]
		}
	}
	return result
}

// RangeQuery delegates to the shadow's underlying tile.
func (s *StateSystem) RangeQuery(quarks []history.Quark, from, to int64) []history.Interval {
	s.mu.Lock()
	tile := s.tile
	s.mu.Unlock()

	var out []history.Interval
	for iv := range tile.RangeQuery(quarks, from, to) {
		out = append(out, iv)
	}
	return out
}

// GetQuarkAbsoluteAndAdd resolves path to a quark. For the synthetic
// checkpoint attribute this may create it (delegating to the
// upstream's creating variant); any other path is resolved read-only,
// and a miss is reported as AttributeTreeImmutable.
func (s *StateSystem) GetQuarkAbsoluteAndAdd(ctx context.Context, path []string) (history.Quark, error) {
	tree, err := s.AttributeTree(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	isCheckpoint := samePath(path, s.checkpointPath)
	s.mu.Unlock()

	if isCheckpoint {
		q, err := tree.QuarkForPathOrCreate(path)
		if err != nil {
			return 0, err
		}
		return history.Quark(q), nil
	}

	q, ok := tree.QuarkForPath(path)
	if !ok {
		return 0, fmt.Errorf("%w: path %v not found", history.ErrAttributeTreeImmutable, path)
	}
	return history.Quark(q), nil
}

// AddEmptyAttribute always fails: the shadow never creates attributes
// directly, only through GetQuarkAbsoluteAndAdd's checkpoint-attribute
// carve-out.
func (s *StateSystem) AddEmptyAttribute(path []string) error {
	return fmt.Errorf("%w: path %v", history.ErrAttributeTreeImmutable, path)
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
