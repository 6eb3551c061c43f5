// Package shadow implements the in-memory state-system facade the
// checkpoint-partial back-end replays trace events through: it shares
// its upstream's attribute tree but never mutates it.
package shadow

import "context"

// AttributeTree is the read surface of the attribute tree owned by the
// trace framework. The shadow never calls any mutating method on it
// except QuarkForPathOrCreate, and only for the synthetic checkpoint
// attribute.
type AttributeTree interface {
	NumberOfAttributes() int
	QuarkForPath(path []string) (quark int32, ok bool)
	QuarkForPathOrCreate(path []string) (quark int32, err error)
}

// StateProvider is the trace-framework collaborator that turns raw
// events into interval inserts against whatever state-system it is
// currently bound to.
type StateProvider interface {
	ProcessEvent(ctx context.Context, event any) error
	StartTime() int64
	WaitForEmptyQueue(ctx context.Context) error
	Dispose() error
}

// EventSource drives one replay: it delivers every event in
// (from, to] to onEvent, in timestamp order, then reports completion.
// A caller cancels an in-flight replay via ctx.
type EventSource interface {
	Replay(ctx context.Context, from, to int64, onEvent func(ctx context.Context, event any) error) error
}
