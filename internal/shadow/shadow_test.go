package shadow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tracekeep/statehist/internal/history"
)

type memTree struct {
	next  int32
	paths map[string]int32
}

func newMemTree() *memTree { return &memTree{paths: make(map[string]int32)} }

func key(path []string) string {
	s := ""
	for _, p := range path {
		s += "/" + p
	}
	return s
}

func (t *memTree) NumberOfAttributes() int { return len(t.paths) }

func (t *memTree) QuarkForPath(path []string) (int32, bool) {
	q, ok := t.paths[key(path)]
	return q, ok
}

func (t *memTree) QuarkForPathOrCreate(path []string) (int32, error) {
	k := key(path)
	if q, ok := t.paths[k]; ok {
		return q, nil
	}
	q := t.next
	t.next++
	t.paths[k] = q
	return q, nil
}

func TestAttributeTreeBlocksUntilAssigned(t *testing.T) {
	s := New()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.AttributeTree(ctx)
	require.ErrorIs(t, err, history.ErrCancelled)

	s.AssignUpstream(newMemTree())
	tree, err := s.AttributeTree(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tree)
}

func TestAssignUpstreamIsOneShot(t *testing.T) {
	s := New()
	first := newMemTree()
	second := newMemTree()

	s.AssignUpstream(first)
	s.AssignUpstream(second) // must be a no-op

	tree, err := s.AttributeTree(context.Background())
	require.NoError(t, err)
	require.Same(t, first, tree)
}

func TestQueryLockIsExclusive(t *testing.T) {
	s := New()
	require.NoError(t, s.TakeQueryLock(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.TakeQueryLock(ctx), history.ErrCancelled)

	s.ReleaseQueryLock()
	require.NoError(t, s.TakeQueryLock(context.Background()))
	s.ReleaseQueryLock()
}

func TestReleaseQueryLockWithoutHoldingPanics(t *testing.T) {
	s := New()
	require.Panics(t, func() { s.ReleaseQueryLock() })
}

func TestReplaceOngoingThenInsert(t *testing.T) {
	s := New()
	q := history.Quark(0)

	s.ReplaceOngoing(map[history.Quark]history.Interval{
		q: {Start: 0, End: 9, Quark: q, Value: history.Int32Value(1)},
	})
	state := s.State()
	require.True(t, state[q].Value.Equal(history.Int32Value(1)))

	require.NoError(t, s.Insert(10, 19, q, history.Int32Value(2)))
	state = s.State()
	require.True(t, state[q].Value.Equal(history.Int32Value(2)))

	// A later ReplaceOngoing must discard everything replayed since the
	// previous baseline, not merge with it.
	s.ReplaceOngoing(map[history.Quark]history.Interval{
		q: {Start: 0, End: 29, Quark: q, Value: history.Int32Value(3)},
	})
	state = s.State()
	require.True(t, state[q].Value.Equal(history.Int32Value(3)))
}

func TestGetQuarkAbsoluteAndAddCheckpointCarveOut(t *testing.T) {
	s := New()
	checkpointPath := []string{"internal", "checkpoint"}
	s.SetCheckpointPath(checkpointPath)
	s.AssignUpstream(newMemTree())

	q, err := s.GetQuarkAbsoluteAndAdd(context.Background(), checkpointPath)
	require.NoError(t, err)

	q2, err := s.GetQuarkAbsoluteAndAdd(context.Background(), checkpointPath)
	require.NoError(t, err)
	require.Equal(t, q, q2, "resolving the checkpoint path twice must yield the same quark")
}

func TestGetQuarkAbsoluteAndAddOtherPathIsReadOnly(t *testing.T) {
	s := New()
	s.SetCheckpointPath([]string{"internal", "checkpoint"})
	s.AssignUpstream(newMemTree())

	_, err := s.GetQuarkAbsoluteAndAdd(context.Background(), []string{"unknown", "path"})
	require.ErrorIs(t, err, history.ErrAttributeTreeImmutable)
}

func TestAddEmptyAttributeAlwaysFails(t *testing.T) {
	s := New()
	require.ErrorIs(t, s.AddEmptyAttribute([]string{"x"}), history.ErrAttributeTreeImmutable)
}
