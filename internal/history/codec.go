package history

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tracekeep/statehist/pkg/varint"
)

// Wire form of one interval inside a tile, per quark list:
//
//	type(u8) | value(variable) | startDelta(varint) | duration(varint)
//
// startDelta and duration are resolved-open-question additions (see
// SPEC_FULL.md, Expansion D): startDelta is the gap, in time units,
// between this interval's start and the previous interval's end + 1
// (zero for the common, truly contiguous case); duration is
// endTime - startTime. The first interval in a list carries
// startDelta == 0 by convention and its absolute start is carried once,
// out of band, as the list's firstStart (see tile.go).
func EncodeInterval(dst []byte, v Value, startDelta, duration uint64) ([]byte, error) {
	dst = append(dst, byte(v.kind))
	var err error
	dst, err = encodeValueBody(dst, v)
	if err != nil {
		return nil, err
	}
	dst = varint.Encode(dst, startDelta)
	dst = varint.Encode(dst, duration)
	return dst, nil
}

func encodeValueBody(dst []byte, v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return dst, nil
	case KindInt32:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v.i32))
		return append(dst, buf[:]...), nil
	case KindInt64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v.i64))
		return append(dst, buf[:]...), nil
	case KindFloat64:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.f64))
		return append(dst, buf[:]...), nil
	case KindUtf8:
		b := []byte(v.str)
		if len(b) > MaxBlobLen {
			return nil, fmt.Errorf("%w: utf8 value of %d bytes exceeds %d", ErrCorrupt, len(b), MaxBlobLen)
		}
		var lbuf [2]byte
		binary.LittleEndian.PutUint16(lbuf[:], uint16(len(b)))
		dst = append(dst, lbuf[:]...)
		dst = append(dst, b...)
		dst = append(dst, 0x00)
		return dst, nil
	case KindCustom:
		if len(v.bytes) > MaxBlobLen {
			return nil, fmt.Errorf("%w: custom value of %d bytes exceeds %d", ErrCorrupt, len(v.bytes), MaxBlobLen)
		}
		var lbuf [2]byte
		binary.LittleEndian.PutUint16(lbuf[:], uint16(len(v.bytes)))
		dst = append(dst, lbuf[:]...)
		dst = append(dst, v.bytes...)
		return dst, nil
	default:
		return nil, fmt.Errorf("%w: unknown value kind 0x%02x", ErrCorrupt, v.kind)
	}
}

// DecodeInterval reads one interval body back from r.
func DecodeInterval(r *bufio.Reader) (v Value, startDelta, duration uint64, err error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Value{}, 0, 0, err
	}

	v, err = decodeValueBody(Kind(kindByte), r)
	if err != nil {
		return Value{}, 0, 0, err
	}

	startDelta, err = varint.Read(r)
	if err != nil {
		return Value{}, 0, 0, fmt.Errorf("%w: reading startDelta: %v", ErrCorrupt, err)
	}

	duration, err = varint.Read(r)
	if err != nil {
		return Value{}, 0, 0, fmt.Errorf("%w: reading duration: %v", ErrCorrupt, err)
	}

	return v, startDelta, duration, nil
}

func decodeValueBody(kind Kind, r *bufio.Reader) (Value, error) {
	switch kind {
	case KindNull:
		return NullValue(), nil
	case KindInt32:
		var buf [4]byte
		if _, err := readFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return Int32Value(int32(binary.LittleEndian.Uint32(buf[:]))), nil
	case KindInt64:
		var buf [8]byte
		if _, err := readFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return Int64Value(int64(binary.LittleEndian.Uint64(buf[:]))), nil
	case KindFloat64:
		var buf [8]byte
		if _, err := readFull(r, buf[:]); err != nil {
			return Value{}, err
		}
		return Float64Value(math.Float64frombits(binary.LittleEndian.Uint64(buf[:]))), nil
	case KindUtf8:
		var lbuf [2]byte
		if _, err := readFull(r, lbuf[:]); err != nil {
			return Value{}, err
		}
		n := binary.LittleEndian.Uint16(lbuf[:])
		b := make([]byte, n)
		if _, err := readFull(r, b); err != nil {
			return Value{}, err
		}
		trailer, err := r.ReadByte()
		if err != nil {
			return Value{}, fmt.Errorf("%w: truncated utf8 trailer: %v", ErrCorrupt, err)
		}
		if trailer != 0x00 {
			return Value{}, fmt.Errorf("%w: missing trailing 0x00 after utf8 value", ErrCorrupt)
		}
		return StringValue(string(b)), nil
	case KindCustom:
		var lbuf [2]byte
		if _, err := readFull(r, lbuf[:]); err != nil {
			return Value{}, err
		}
		n := binary.LittleEndian.Uint16(lbuf[:])
		b := make([]byte, n)
		if _, err := readFull(r, b); err != nil {
			return Value{}, err
		}
		return CustomValue(b), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value type 0x%02x", ErrCorrupt, kind)
	}
}

func readFull(r *bufio.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			return n, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return n, nil
}
