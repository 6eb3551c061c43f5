package history

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeIntervalRoundTrip(t *testing.T) {
	cases := []Value{
		NullValue(),
		Int32Value(-7),
		Int64Value(1 << 40),
		Float64Value(3.25),
		StringValue("running"),
		CustomValue([]byte{0x01, 0x02, 0x03}),
	}

	for _, v := range cases {
		enc, err := EncodeInterval(nil, v, 5, 17)
		require.NoError(t, err)

		got, startDelta, duration, err := DecodeInterval(bufio.NewReader(bytes.NewReader(enc)))
		require.NoError(t, err)
		require.True(t, v.Equal(got))
		require.Equal(t, uint64(5), startDelta)
		require.Equal(t, uint64(17), duration)
	}
}

func TestEncodeIntervalRejectsOversizedString(t *testing.T) {
	big := make([]byte, MaxBlobLen+1)
	_, err := EncodeInterval(nil, StringValue(string(big)), 0, 0)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeIntervalRejectsUnknownType(t *testing.T) {
	_, _, _, err := DecodeInterval(bufio.NewReader(bytes.NewReader([]byte{0x7E})))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeIntervalRejectsMissingStringTrailer(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(KindUtf8))
	buf.Write([]byte{3, 0}) // length = 3
	buf.WriteString("abc")
	// no trailing 0x00
	_, _, _, err := DecodeInterval(bufio.NewReader(&buf))
	require.Error(t, err)
}
