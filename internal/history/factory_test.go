package history

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveResolutionsStopsAtMinimum(t *testing.T) {
	resolutions := DeriveResolutions(0, 1_000_000_000, DefaultNPixels)
	require.NotEmpty(t, resolutions)
	for i := 1; i < len(resolutions); i++ {
		require.Less(t, resolutions[i], resolutions[i-1])
	}
	require.LessOrEqual(t, resolutions[len(resolutions)-1], int64(MinResolution))
}
