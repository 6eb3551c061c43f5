package history

// Quark identifies an attribute. Valid quarks are >= 0; a negative quark
// is never produced by the attribute tree collaborator and is used
// internally as a "no such attribute" sentinel where convenient.
type Quark int32

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull    Kind = 0xFF
	KindInt32   Kind = 0x00
	KindUtf8    Kind = 0x01
	KindInt64   Kind = 0x02
	KindFloat64 Kind = 0x03
	KindCustom  Kind = 0x14
)

// MaxBlobLen is the largest encodable length, in bytes, of a Utf8 or
// Custom value (a u16 length prefix).
const MaxBlobLen = 32767

// Value is the tagged union a quark's state can hold at any instant.
type Value struct {
	kind  Kind
	i32   int32
	i64   int64
	f64   float64
	str   string
	bytes []byte
}

func NullValue() Value           { return Value{kind: KindNull} }
func Int32Value(v int32) Value   { return Value{kind: KindInt32, i32: v} }
func Int64Value(v int64) Value   { return Value{kind: KindInt64, i64: v} }
func Float64Value(v float64) Value { return Value{kind: KindFloat64, f64: v} }

// StringValue builds a Utf8 value. It does not itself enforce MaxBlobLen;
// the codec rejects oversized strings at encode time.
func StringValue(s string) Value { return Value{kind: KindUtf8, str: s} }

// CustomValue builds an opaque Custom value from caller-owned bytes; the
// slice is not copied.
func CustomValue(b []byte) Value { return Value{kind: KindCustom, bytes: b} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Int32() int32 { return v.i32 }
func (v Value) Int64() int64 { return v.i64 }
func (v Value) Float64() float64 { return v.f64 }
func (v Value) String() string   { return v.str }
func (v Value) Bytes() []byte    { return v.bytes }

// Equal reports whether two values have the same kind and payload. It is
// only used by tests, not by coalescing or any wire-format code.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt32:
		return v.i32 == o.i32
	case KindInt64:
		return v.i64 == o.i64
	case KindFloat64:
		return v.f64 == o.f64
	case KindUtf8:
		return v.str == o.str
	case KindCustom:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
