package partial

import (
	"context"
	"iter"
	"math"

	"github.com/tracekeep/statehist/internal/history"
)

// fakeBackend is an in-memory Backend used both as the "hypothetical
// full history back-end" oracle in tests and as inner for the partial
// back-end under test. It reuses a single unbounded history.Tile, the
// same trick the shadow state-system uses, since tests never exercise
// tiling/resolution behaviour.
type fakeBackend struct {
	tile *history.Tile
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{tile: history.NewTile(1, math.MinInt64/2, math.MaxInt64/2, true)}
}

func (f *fakeBackend) Insert(start, end int64, quark history.Quark, value history.Value) error {
	return f.tile.Insert(start, end, quark, value)
}

func (f *fakeBackend) FinishedBuilding(endTime int64) error { return nil }

func (f *fakeBackend) PointQuery(t int64, quarks []history.Quark) (map[history.Quark]history.Interval, error) {
	all := f.tile.PointQuery(t)
	if quarks == nil {
		return all, nil
	}
	out := make(map[history.Quark]history.Interval)
	for _, q := range quarks {
		if iv, ok := all[q]; ok {
			out[q] = iv
		}
	}
	return out, nil
}

func (f *fakeBackend) SingularQuery(t int64, quark history.Quark) (history.Interval, bool, error) {
	res, err := f.PointQuery(t, []history.Quark{quark})
	if err != nil {
		return history.Interval{}, false, err
	}
	iv, ok := res[quark]
	return iv, ok, nil
}

func (f *fakeBackend) RangeQuery(quarks []history.Quark, from, to, step int64) (iter.Seq[history.Interval], error) {
	return f.tile.RangeQuery(quarks, from, to), nil
}

func (f *fakeBackend) Dispose() error    { return nil }
func (f *fakeBackend) RemoveFiles() error { return nil }

// fakeEvent is one raw trace event: quark's value changes to Value at
// timestamp Ts. A closeOut event carries no quark change; it just
// tells the provider to flush every attribute's ongoing interval up to
// Ts-1, mirroring "close the shadow's history at t" at the trace tail.
type fakeEvent struct {
	Ts       int64
	Quark    history.Quark
	Value    history.Value
	closeOut bool
}

// fakeEventSource replays a fixed, pre-recorded event log.
type fakeEventSource struct {
	events []fakeEvent
}

func (s *fakeEventSource) Replay(ctx context.Context, from, to int64, onEvent func(ctx context.Context, event any) error) error {
	for _, ev := range s.events {
		if ev.Ts > from && ev.Ts <= to {
			if err := onEvent(ctx, ev); err != nil {
				return err
			}
		}
	}
	return onEvent(ctx, fakeEvent{Ts: to + 1, closeOut: true})
}

type ongoingState struct {
	start int64
	value history.Value
}

// fakeProvider turns a stream of fakeEvents into closed intervals,
// tracking the last-seen (start, value) per quark so each new event
// can close out the interval that just ended.
type fakeProvider struct {
	ongoing map[history.Quark]ongoingState
	insert  func(start, end int64, quark history.Quark, value history.Value) error
}

func newFakeProvider(insert func(start, end int64, quark history.Quark, value history.Value) error) *fakeProvider {
	return &fakeProvider{ongoing: make(map[history.Quark]ongoingState), insert: insert}
}

func (p *fakeProvider) ProcessEvent(ctx context.Context, event any) error {
	ev := event.(fakeEvent)

	if ev.closeOut {
		for q, st := range p.ongoing {
			if err := p.insert(st.start, ev.Ts-1, q, st.value); err != nil {
				return err
			}
		}
		p.ongoing = make(map[history.Quark]ongoingState)
		return nil
	}

	if st, ok := p.ongoing[ev.Quark]; ok {
		if err := p.insert(st.start, ev.Ts-1, ev.Quark, st.value); err != nil {
			return err
		}
	}
	p.ongoing[ev.Quark] = ongoingState{start: ev.Ts, value: ev.Value}
	return nil
}

func (p *fakeProvider) StartTime() int64                           { return 0 }
func (p *fakeProvider) WaitForEmptyQueue(ctx context.Context) error { return nil }
func (p *fakeProvider) Dispose() error                             { return nil }

// fakeTree is a minimal in-memory AttributeTree.
type fakeTree struct {
	next  int32
	paths map[string]int32
}

func newFakeTree() *fakeTree { return &fakeTree{paths: make(map[string]int32)} }

func pathKey(path []string) string {
	s := ""
	for _, p := range path {
		s += "/" + p
	}
	return s
}

func (t *fakeTree) NumberOfAttributes() int { return len(t.paths) }

func (t *fakeTree) QuarkForPath(path []string) (int32, bool) {
	q, ok := t.paths[pathKey(path)]
	return q, ok
}

func (t *fakeTree) QuarkForPathOrCreate(path []string) (int32, error) {
	k := pathKey(path)
	if q, ok := t.paths[k]; ok {
		return q, nil
	}
	q := t.next
	t.next++
	t.paths[k] = q
	return q, nil
}
