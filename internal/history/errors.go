package history

import "errors"

// ErrorKind classifies the sentinel errors this package and
// internal/partial return. Callers should use errors.Is against the
// package-level Err* values rather than switching on ErrorKind directly.
type ErrorKind int

const (
	// KindTimeRange: t is outside [startTime, endTime], or endTime < startTime.
	KindTimeRange ErrorKind = iota
	// KindAttributeTreeImmutable: attempt to add attributes through a shadow.
	KindAttributeTreeImmutable
	// KindCorrupt: bad magic, bad version, unknown value type, truncated tile.
	KindCorrupt
	// KindDisposed: operation after dispose, or before the upstream latch
	// is reached when upstream is never assigned.
	KindDisposed
	// KindCancelled: replay or latch wait was interrupted.
	KindCancelled
)

var (
	ErrTimeRange              = errors.New("[HISTORY]> timestamp outside of trace range")
	ErrAttributeTreeImmutable = errors.New("[HISTORY]> attribute tree is immutable through this handle")
	ErrCorrupt                = errors.New("[HISTORY]> corrupt history file")
	ErrDisposed               = errors.New("[HISTORY]> back-end has been disposed")
	ErrCancelled              = errors.New("[HISTORY]> operation cancelled")
	ErrUnknownMetric          = errors.New("[HISTORY]> unknown quark")
	ErrNoData                 = errors.New("[HISTORY]> no data for this quark")
)
