package varint

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 300, 16384, 1 << 34, ^uint64(0)}
	for _, v := range values {
		enc := Encode(nil, v)
		require.Equal(t, Size(v), len(enc))

		got, err := Read(bufio.NewReader(bytes.NewReader(enc)))
		require.NoError(t, err)
		require.Equal(t, v, got)

		got2, n, err := ReadFrom(enc)
		require.NoError(t, err)
		require.Equal(t, v, got2)
		require.Equal(t, len(enc), n)
	}
}

func TestZigZagRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40)} {
		require.Equal(t, v, UnZigZag(ZigZag(v)))
	}
}

func TestReadTruncated(t *testing.T) {
	_, err := Read(bufio.NewReader(bytes.NewReader([]byte{0x80})))
	require.Error(t, err)
}
