package partial

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/tracekeep/statehist/internal/history"
	"github.com/tracekeep/statehist/internal/shadow"
)

// checkpointPath is the attribute path the synthetic checkpoint
// counter is filed under in the shared attribute tree.
var checkpointPath = []string{"internal", "checkpoint"}

// CheckpointPartialBackend wraps an inner Backend with a checkpoint
// cadence and a shadow state-system used to replay the gaps between
// checkpoints.
type CheckpointPartialBackend struct {
	mu sync.Mutex

	inner    Backend
	shadow   *shadow.StateSystem
	provider shadow.StateProvider
	source   shadow.EventSource

	granularity int64
	traceStart  int64
	checkpoints checkpointSet
	checkpoint  int64 // last-written checkpoint
	index       int64 // next checkpoint's index value
	endTime     int64
	haveQuark   bool
	quark       history.Quark
}

// New builds a checkpoint-partial back-end over inner. provider and
// source are the trace-framework collaborators used only during
// replay; shadowSys must already be wired to provider's assigned
// state-system.
func New(inner Backend, shadowSys *shadow.StateSystem, provider shadow.StateProvider, source shadow.EventSource, granularity, traceStart int64) *CheckpointPartialBackend {
	shadowSys.SetCheckpointPath(checkpointPath)
	return &CheckpointPartialBackend{
		inner:       inner,
		shadow:      shadowSys,
		provider:    provider,
		source:      source,
		granularity: granularity,
		traceStart:  traceStart,
		checkpoint:  traceStart,
	}
}

func (b *CheckpointPartialBackend) ensureCheckpointQuark(ctx context.Context) (history.Quark, error) {
	if b.haveQuark {
		return b.quark, nil
	}
	q, err := b.shadow.GetQuarkAbsoluteAndAdd(ctx, checkpointPath)
	if err != nil {
		return 0, err
	}
	b.quark = q
	b.haveQuark = true
	b.checkpoints.add(b.traceStart)
	return q, nil
}

// Insert forwards start..end to the inner back-end only if it crosses
// a checkpoint boundary, first synthesising any checkpoint intervals
// the observed endTime has newly crossed.
func (b *CheckpointPartialBackend) Insert(ctx context.Context, start, end int64, quark history.Quark, value history.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cpQuark, err := b.ensureCheckpointQuark(ctx)
	if err != nil {
		return err
	}
	if quark == cpQuark {
		return nil
	}
	if end > b.endTime {
		b.endTime = end
	}

	for b.endTime >= b.checkpoint+b.granularity {
		next := b.checkpoint + b.granularity
		if err := b.inner.Insert(b.checkpoint, next-1, cpQuark, history.Int64Value(b.index)); err != nil {
			return err
		}
		b.checkpoints.add(next)
		b.checkpoint = next
		b.index++
	}

	floor, _ := b.checkpoints.floor(end)
	if start <= floor {
		return b.inner.Insert(start, end, quark, value)
	}
	return nil
}

// FinishedBuilding writes one final checkpoint interval covering the
// tail of the trace, then finalises the inner back-end.
func (b *CheckpointPartialBackend) FinishedBuilding(ctx context.Context, endTime int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cpQuark, err := b.ensureCheckpointQuark(ctx)
	if err != nil {
		return err
	}
	if endTime > b.checkpoint {
		if err := b.inner.Insert(b.checkpoint, endTime, cpQuark, history.Int64Value(b.index)); err != nil {
			return err
		}
		b.checkpoints.add(endTime)
		b.checkpoint = endTime
		b.index++
	}
	b.endTime = endTime
	return b.inner.FinishedBuilding(endTime)
}

func coversAll(buf map[history.Quark]history.Interval, quarks []history.Quark, t int64) bool {
	for _, q := range quarks {
		iv, ok := buf[q]
		if !ok || !iv.Covers(t) {
			return false
		}
	}
	return true
}

// doQuery implements the §4.6 restore-then-replay protocol for an
// arbitrary set of quarks at timestamp t.
func (b *CheckpointPartialBackend) doQuery(ctx context.Context, t int64, quarks []history.Quark) (map[history.Quark]history.Interval, error) {
	b.mu.Lock()
	endTime := b.endTime
	b.mu.Unlock()

	cp, ok := b.checkpoints.floor(t)
	if !ok {
		cp = b.traceStart
	}
	buf, err := b.inner.PointQuery(cp, quarks)
	if err != nil {
		return nil, err
	}

	if !coversAll(buf, quarks, t) && t >= endTime {
		if cp2, ok := b.checkpoints.floor(t - 1); ok && cp2 != cp {
			cp = cp2
			buf, err = b.inner.PointQuery(cp, quarks)
			if err != nil {
				return nil, err
			}
		}
	}

	if coversAll(buf, quarks, t) {
		return buf, nil
	}

	baseline := make(map[history.Quark]history.Interval, len(buf))
	for q, iv := range buf {
		baseline[q] = iv
	}

	if cpPlus, ok := b.checkpoints.next(cp); ok {
		plus, err := b.inner.PointQuery(cpPlus, quarks)
		if err == nil {
			for q, iv := range plus {
				cur, have := buf[q]
				if (!have || cur.End < t) && iv.Start > t {
					buf[q] = iv
				}
			}
		}
		if coversAll(buf, quarks, t) {
			return buf, nil
		}

		if err := b.replayInto(ctx, baseline, cp, cpPlus, t, t >= endTime); err != nil {
			return nil, err
		}
	} else {
		if err := b.replayInto(ctx, baseline, cp, t, t, t >= endTime); err != nil {
			return nil, err
		}
	}

	for _, iv := range b.shadow.RangeQuery(quarks, t, t) {
		buf[iv.Quark] = iv
	}
	for q, iv := range buf {
		if !iv.Covers(t) {
			delete(buf, q)
		}
	}
	return buf, nil
}

// replayInto acquires the shadow's exclusive query lock, seeds it with
// baseline, and streams events in (cp, upper] through the state
// provider. atTail is accepted for parity with the design notes but is
// otherwise advisory: this shadow has no explicit "close history"
// operation, so closing out the trace tail falls out naturally from
// the replay simply stopping at upper.
func (b *CheckpointPartialBackend) replayInto(ctx context.Context, baseline map[history.Quark]history.Interval, cp, upper, _ int64, atTail bool) error {
	if err := b.shadow.TakeQueryLock(ctx); err != nil {
		return err
	}
	defer b.shadow.ReleaseQueryLock()

	b.shadow.ReplaceOngoing(baseline)

	if err := b.source.Replay(ctx, cp, upper, func(ctx context.Context, event any) error {
		return b.provider.ProcessEvent(ctx, event)
	}); err != nil {
		return fmt.Errorf("replay (%d,%d]: %w", cp, upper, err)
	}
	return b.provider.WaitForEmptyQueue(ctx)
}

// PointQuery resolves every requested quark's state at t.
func (b *CheckpointPartialBackend) PointQuery(ctx context.Context, t int64, quarks []history.Quark) (map[history.Quark]history.Interval, error) {
	return b.doQuery(ctx, t, quarks)
}

// SingularQuery resolves one quark's state at t.
func (b *CheckpointPartialBackend) SingularQuery(ctx context.Context, t int64, quark history.Quark) (history.Interval, bool, error) {
	res, err := b.doQuery(ctx, t, []history.Quark{quark})
	if err != nil {
		return history.Interval{}, false, err
	}
	iv, ok := res[quark]
	return iv, ok, nil
}

// RangeQuery serves coarse steps straight from the inner back-end
// (checkpoints alone are precise enough); finer steps replay the
// bracketing checkpoint pair through the shadow.
func (b *CheckpointPartialBackend) RangeQuery(ctx context.Context, quarks []history.Quark, from, to, step int64) (iter.Seq[history.Interval], error) {
	if step >= 2*b.granularity {
		rewritten := (step / b.granularity) * b.granularity
		if rewritten == 0 {
			rewritten = b.granularity // §9: clamp to avoid an empty iterator
		}
		return b.inner.RangeQuery(quarks, from, to, rewritten)
	}

	lower, ok := b.checkpoints.floor(from)
	if !ok {
		lower = b.traceStart
	}
	upper, ok := b.checkpoints.next(lower)
	if !ok {
		upper = to
	}

	baseline, err := b.inner.PointQuery(lower, quarks)
	if err != nil {
		return nil, err
	}

	if err := b.replayInto(ctx, baseline, lower, upper, to, to >= b.endTime); err != nil {
		return nil, err
	}

	result := b.shadow.RangeQuery(quarks, from, to)
	return func(yield func(history.Interval) bool) {
		for _, iv := range result {
			if !yield(iv) {
				return
			}
		}
	}, nil
}

func (b *CheckpointPartialBackend) Dispose() error    { return b.inner.Dispose() }
func (b *CheckpointPartialBackend) RemoveFiles() error { return b.inner.RemoveFiles() }
