package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadHeaderBadMagicS6(t *testing.T) {
	storage, _ := openTestStorage(t)

	tf := CreateTileFile(storage, 1, 0, 2000, []int64{1000})
	require.NoError(t, tf.WriteHeader())

	// Corrupt the magic word in place.
	var bad [4]byte
	_, err := storage.WriteAt(bad[:], 0)
	require.NoError(t, err)

	_, err = ReadHeader(storage, 1)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestReadHeaderProviderVersionMismatch(t *testing.T) {
	storage, _ := openTestStorage(t)

	tf := CreateTileFile(storage, 7, 0, 2000, []int64{1000})
	require.NoError(t, tf.WriteHeader())

	_, err := ReadHeader(storage, 8)
	require.ErrorIs(t, err, ErrCorrupt)

	reopened, err := ReadHeader(storage, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(7), reopened.ProviderVersion)
}
