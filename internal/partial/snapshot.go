package partial

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linkedin/goavro/v2"

	"github.com/tracekeep/statehist/internal/history"
)

// SnapshotFormat selects how periodic restart snapshots of a
// checkpoint-partial back-end's bookkeeping (not the authoritative
// inner store) are encoded on disk.
type SnapshotFormat int

const (
	SnapshotJSON SnapshotFormat = iota
	SnapshotAvro
)

const snapshotAvroSchema = `{
  "type": "record",
  "name": "PartialSnapshot",
  "fields": [
    {"name": "checkpoint", "type": "long"},
    {"name": "index", "type": "long"},
    {"name": "endTime", "type": "long"},
    {"name": "checkpoints", "type": {"type": "array", "items": "long"}}
  ]
}`

type snapshotRecord struct {
	Checkpoint  int64   `json:"checkpoint"`
	Index       int64   `json:"index"`
	EndTime     int64   `json:"endTime"`
	Checkpoints []int64 `json:"checkpoints"`
}

// WriteSnapshot persists the back-end's checkpoint bookkeeping (not
// interval data, which lives entirely in the inner back-end) so that a
// restarted process can resume without rescanning the inner store for
// the checkpoint set. This is a restart optimisation, not part of the
// query path.
func (b *CheckpointPartialBackend) WriteSnapshot(dir string, format SnapshotFormat) (string, error) {
	b.mu.Lock()
	rec := snapshotRecord{
		Checkpoint:  b.checkpoint,
		Index:       b.index,
		EndTime:     b.endTime,
		Checkpoints: append([]int64(nil), b.checkpoints.ts...),
	}
	b.mu.Unlock()

	var (
		body []byte
		err  error
		ext  string
	)
	switch format {
	case SnapshotJSON:
		body, err = json.Marshal(rec)
		ext = "json"
	case SnapshotAvro:
		body, err = encodeAvroSnapshot(rec)
		ext = "avro"
	default:
		return "", fmt.Errorf("partial: unknown snapshot format %d", format)
	}
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("checkpoint-%d.%s", rec.EndTime, ext))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadSnapshot restores a CheckpointPartialBackend's bookkeeping from a
// file written by WriteSnapshot. The inner back-end and shadow must
// already be constructed and passed to New; LoadSnapshot only
// repopulates the checkpoint set, index and watermark.
func (b *CheckpointPartialBackend) LoadSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var rec snapshotRecord
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: decoding json snapshot: %v", history.ErrCorrupt, err)
		}
	case ".avro":
		if err := decodeAvroSnapshot(raw, &rec); err != nil {
			return fmt.Errorf("%w: decoding avro snapshot: %v", history.ErrCorrupt, err)
		}
	default:
		return fmt.Errorf("partial: unrecognised snapshot extension in %q", path)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkpoint = rec.Checkpoint
	b.index = rec.Index
	b.endTime = rec.EndTime
	b.checkpoints = checkpointSet{ts: append([]int64(nil), rec.Checkpoints...)}
	b.haveQuark = false // re-resolved lazily; the tree already has the attribute
	return nil
}

func encodeAvroSnapshot(rec snapshotRecord) ([]byte, error) {
	codec, err := goavro.NewCodec(snapshotAvroSchema)
	if err != nil {
		return nil, err
	}
	cps := make([]any, len(rec.Checkpoints))
	for i, v := range rec.Checkpoints {
		cps[i] = v
	}
	native := map[string]any{
		"checkpoint":  rec.Checkpoint,
		"index":       rec.Index,
		"endTime":     rec.EndTime,
		"checkpoints": cps,
	}
	return codec.BinaryFromNative(nil, native)
}

func decodeAvroSnapshot(raw []byte, rec *snapshotRecord) error {
	codec, err := goavro.NewCodec(snapshotAvroSchema)
	if err != nil {
		return err
	}
	native, _, err := codec.NativeFromBinary(raw)
	if err != nil {
		return err
	}
	m, ok := native.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected avro native type %T", native)
	}
	rec.Checkpoint = m["checkpoint"].(int64)
	rec.Index = m["index"].(int64)
	rec.EndTime = m["endTime"].(int64)
	for _, v := range m["checkpoints"].([]any) {
		rec.Checkpoints = append(rec.Checkpoints, v.(int64))
	}
	return nil
}
