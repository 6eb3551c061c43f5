package history

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTileBasicRoundTripS1(t *testing.T) {
	tile := NewTile(1, 0, 100, false)

	require.NoError(t, tile.Insert(0, 10, 0, StringValue("A")))
	require.NoError(t, tile.Insert(10, 20, 0, StringValue("B")))
	require.NoError(t, tile.Insert(0, 5, 1, Int32Value(42)))
	require.NoError(t, tile.Insert(5, 30, 1, Int32Value(99)))

	at7 := tile.PointQuery(7)
	require.True(t, at7[0].Value.Equal(StringValue("A")))
	require.True(t, at7[1].Value.Equal(Int32Value(99)))

	at15 := tile.PointQuery(15)
	require.True(t, at15[0].Value.Equal(StringValue("B")))
	require.True(t, at15[1].Value.Equal(Int32Value(99)))

	at30 := tile.PointQuery(30)
	require.True(t, at30[0].Value.Equal(StringValue("B")))
	require.True(t, at30[1].Value.Equal(Int32Value(99)))
}

func TestTileSerialiseDeserialiseRoundTrip(t *testing.T) {
	tile := NewTile(5, 0, 1000, false)
	require.NoError(t, tile.Insert(0, 10, 0, StringValue("A")))
	require.NoError(t, tile.Insert(11, 40, 0, Int64Value(7)))
	require.NoError(t, tile.Insert(0, 3, 1, Float64Value(1.5)))

	var buf bytes.Buffer
	require.NoError(t, tile.Serialise(&buf))

	got, err := DeserialiseTile(bytes.NewReader(buf.Bytes()), tile.Resolution, tile.Start, tile.End, false)
	require.NoError(t, err)

	for _, q := range []Quark{0, 1} {
		want := tile.List(q)
		have := got.List(q)
		require.Len(t, have, len(want))
		for i := range want {
			require.Equal(t, want[i].Start, have[i].Start)
			require.Equal(t, want[i].End, have[i].End)
			require.True(t, want[i].Value.Equal(have[i].Value))
		}
	}
}

func TestTileCoalescingInvariant(t *testing.T) {
	tile := NewTile(100, 0, 10000, false) // non-coarsest: resolution cut-off applies
	q := Quark(0)

	end := int64(0)
	for i := 0; i < 20; i++ {
		start := end
		end = start + 3 // well under resolution=100
		require.NoError(t, tile.Insert(start, end, q, Int32Value(1)))
	}

	list := tile.List(q)
	require.Len(t, list, 1)
	require.Equal(t, end, list[0].End)
}

func TestTileCoalescingStopsOnNull(t *testing.T) {
	tile := NewTile(100, 0, 10000, false)
	q := Quark(0)

	require.NoError(t, tile.Insert(0, 3, q, Int32Value(1)))
	require.NoError(t, tile.Insert(3, 6, q, NullValue()))
	require.NoError(t, tile.Insert(6, 9, q, Int32Value(2)))

	require.Len(t, tile.List(q), 3)
}

func TestTileCoarsestNeverCoalesces(t *testing.T) {
	tile := NewTile(100, 0, 10000, true) // ignoreResolutionCutOff
	q := Quark(0)

	require.NoError(t, tile.Insert(0, 3, q, Int32Value(1)))
	require.NoError(t, tile.Insert(3, 6, q, Int32Value(1)))

	require.Len(t, tile.List(q), 2)
}

func TestTileOverflowMarksFinished(t *testing.T) {
	tile := NewTile(1, 0, 10, false)
	require.NoError(t, tile.Insert(5, 20, 0, Int32Value(1)))
	require.True(t, tile.Finished)
}
