package history

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"sort"

	"github.com/tracekeep/statehist/pkg/varint"
)

// Tile is a bounded time window at one resolution, holding per-quark
// ordered interval lists. It is the atomic unit of on-disk I/O.
type Tile struct {
	Resolution             int64
	Start                  int64
	End                    int64
	Finished               bool
	IgnoreResolutionCutOff bool
	ContentSize            int32

	lists map[Quark][]Interval
}

// NewTile builds an empty, open tile spanning [start, end]; Insert
// accepts intervals whose endTime is at most end.
// ignoreResolutionCutOff should be true only for the coarsest level,
// which must never coalesce away short runs.
func NewTile(resolution, start, end int64, ignoreResolutionCutOff bool) *Tile {
	return &Tile{
		Resolution:             resolution,
		Start:                  start,
		End:                    end,
		IgnoreResolutionCutOff: ignoreResolutionCutOff,
		lists:                  make(map[Quark][]Interval),
	}
}

// Insert offers one interval to the tile. If the interval's endTime
// exceeds the tile's window the tile marks itself Finished and the
// caller must flush it and rotate to a successor tile (re-offering the
// same interval there); Insert itself performs no discarding of data in
// that case — the interval is simply not absorbed.
func (t *Tile) Insert(start, end int64, quark Quark, value Value) error {
	if end < start {
		return fmt.Errorf("%w: end %d < start %d", ErrTimeRange, end, start)
	}
	if end < t.Start {
		return nil
	}
	if end > t.End {
		t.Finished = true
		return nil
	}

	list := t.lists[quark]
	short := end-start < t.Resolution
	if len(list) > 0 {
		last := &list[len(list)-1]
		lastShort := last.End-last.Start < t.Resolution
		// A Null value on either side breaks the run (§8 invariant 4):
		// it must never be silently absorbed into a neighbour, and a
		// neighbour must never be silently absorbed into it.
		if short && lastShort && !last.Value.IsNull() && !value.IsNull() && !t.IgnoreResolutionCutOff {
			oldSize := t.encodedSize(*last, t.startDeltaFor(list, len(list)-1))
			last.End = end
			newSize := t.encodedSize(*last, t.startDeltaFor(list, len(list)-1))
			t.ContentSize += int32(newSize - oldSize)
			return nil
		}
	}

	iv := Interval{Start: start, End: end, Quark: quark, Value: value}
	list = append(list, iv)
	t.lists[quark] = list
	t.ContentSize += int32(t.encodedSize(iv, t.startDeltaFor(list, len(list)-1)))
	return nil
}

// startDeltaFor returns the wire startDelta for list[idx]: 0 for the
// first entry (its absolute start is carried as the list's firstStart),
// else the gap between it and the previous entry's end.
func (t *Tile) startDeltaFor(list []Interval, idx int) uint64 {
	if idx == 0 {
		return 0
	}
	prevEnd := list[idx-1].End
	gap := list[idx].Start - (prevEnd + 1)
	if gap < 0 {
		gap = 0
	}
	return uint64(gap)
}

func (t *Tile) encodedSize(iv Interval, startDelta uint64) int {
	n := 1 // type byte
	switch iv.Value.Kind() {
	case KindNull:
	case KindInt32:
		n += 4
	case KindInt64, KindFloat64:
		n += 8
	case KindUtf8:
		n += 2 + len(iv.Value.String()) + 1
	case KindCustom:
		n += 2 + len(iv.Value.Bytes())
	}
	n += varint.Size(startDelta)
	n += varint.Size(uint64(iv.Duration()))
	return n
}

// PointQuery returns, for each quark with a covering interval, that
// interval. t beyond the tile's window yields nothing.
func (t *Tile) PointQuery(at int64) map[Quark]Interval {
	result := make(map[Quark]Interval)
	if at > t.End {
		return result
	}
	for q, list := range t.lists {
		for _, iv := range list {
			if iv.Covers(at) {
				result[q] = iv
				break
			}
		}
	}
	return result
}

// Missing returns the subset of quarks whose list is empty or whose
// last interval ends before at.
func (t *Tile) Missing(quarks []Quark, at int64) map[Quark]bool {
	missing := make(map[Quark]bool)
	for _, q := range quarks {
		list := t.lists[q]
		if len(list) == 0 || list[len(list)-1].End < at {
			missing[q] = true
		}
	}
	return missing
}

// RangeQuery lazily yields intervals for the given quarks intersecting
// [from, to], in quark order then start order.
func (t *Tile) RangeQuery(quarks []Quark, from, to int64) iter.Seq[Interval] {
	wanted := make(map[Quark]bool, len(quarks))
	for _, q := range quarks {
		wanted[q] = true
	}
	return func(yield func(Interval) bool) {
		for _, q := range t.sortedQuarks() {
			if !wanted[q] {
				continue
			}
			for _, iv := range t.lists[q] {
				if !iv.Intersects(from, to) {
					continue
				}
				if !yield(iv) {
					return
				}
			}
		}
	}
}

// List returns quark's raw interval list (not a copy).
func (t *Tile) List(quark Quark) []Interval { return t.lists[quark] }

// SetList replaces quark's entire interval list, bypassing coalescing.
// Used by the shadow state-system to splice in a checkpoint snapshot.
func (t *Tile) SetList(quark Quark, list []Interval) { t.lists[quark] = list }

// Quarks returns every quark with a non-empty list, in ascending order.
func (t *Tile) Quarks() []Quark { return t.sortedQuarks() }

// Clear drops every quark's list, leaving the tile's window untouched.
func (t *Tile) Clear() { t.lists = make(map[Quark][]Interval) }

func (t *Tile) sortedQuarks() []Quark {
	qs := make([]Quark, 0, len(t.lists))
	for q := range t.lists {
		qs = append(qs, q)
	}
	sort.Slice(qs, func(i, j int) bool { return qs[i] < qs[j] })
	return qs
}

// Serialise writes the tile payload (tileSize | nAttributes | per
// attribute: intervalCount | quark | firstStart | intervals) to w.
func (t *Tile) Serialise(w io.Writer) error {
	var body bytes.Buffer

	quarks := t.sortedQuarks()
	var nAttrs [4]byte
	binary.LittleEndian.PutUint32(nAttrs[:], uint32(len(quarks)))
	body.Write(nAttrs[:])

	for _, q := range quarks {
		list := t.lists[q]

		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(list)))
		body.Write(countBuf[:])

		var quarkBuf [4]byte
		binary.LittleEndian.PutUint32(quarkBuf[:], uint32(int32(q)))
		body.Write(quarkBuf[:])

		firstStart := varint.ZigZag(list[0].Start)
		body.Write(varint.Encode(nil, firstStart))

		for i, iv := range list {
			startDelta := t.startDeltaFor(list, i)
			enc, err := EncodeInterval(nil, iv.Value, startDelta, uint64(iv.Duration()))
			if err != nil {
				return err
			}
			body.Write(enc)
		}
	}

	total := body.Len() + 4 // tileSize field counts itself
	var sizeBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], uint32(total))
	if _, err := w.Write(sizeBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body.Bytes())
	return err
}

// DeserialiseTile reads a tile payload previously written by Serialise.
// The caller supplies the window and resolution metadata recovered from
// the tile directory, since those are not repeated in the payload.
func DeserialiseTile(r io.Reader, resolution, start, end int64, ignoreResolutionCutOff bool) (*Tile, error) {
	br := bufio.NewReader(r)

	var sizeBuf [4]byte
	if _, err := io.ReadFull(br, sizeBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading tileSize: %v", ErrCorrupt, err)
	}
	tileSize := binary.LittleEndian.Uint32(sizeBuf[:])

	var nAttrsBuf [4]byte
	if _, err := io.ReadFull(br, nAttrsBuf[:]); err != nil {
		return nil, fmt.Errorf("%w: reading nAttributes: %v", ErrCorrupt, err)
	}
	nAttrs := binary.LittleEndian.Uint32(nAttrsBuf[:])

	t := NewTile(resolution, start, end, ignoreResolutionCutOff)
	t.ContentSize = int32(tileSize)

	for a := uint32(0); a < nAttrs; a++ {
		var countBuf [4]byte
		if _, err := io.ReadFull(br, countBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: reading intervalCount: %v", ErrCorrupt, err)
		}
		count := binary.LittleEndian.Uint32(countBuf[:])

		var quarkBuf [4]byte
		if _, err := io.ReadFull(br, quarkBuf[:]); err != nil {
			return nil, fmt.Errorf("%w: reading quark: %v", ErrCorrupt, err)
		}
		quark := Quark(int32(binary.LittleEndian.Uint32(quarkBuf[:])))

		rawFirstStart, err := varint.Read(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading firstStart: %v", ErrCorrupt, err)
		}
		firstStart := varint.UnZigZag(rawFirstStart)

		list := make([]Interval, 0, count)
		prevEnd := firstStart - 1
		for i := uint32(0); i < count; i++ {
			value, startDelta, duration, err := DecodeInterval(br)
			if err != nil {
				return nil, err
			}
			var ivStart int64
			if i == 0 {
				ivStart = firstStart
			} else {
				ivStart = prevEnd + 1 + int64(startDelta)
			}
			iv := Interval{
				Start: ivStart,
				End:   ivStart + int64(duration),
				Quark: quark,
				Value: value,
			}
			list = append(list, iv)
			prevEnd = iv.End
		}
		t.lists[quark] = list
	}

	return t, nil
}
