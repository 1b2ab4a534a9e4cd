package bitmap

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/require"
)

func TestToBytesFromBytesRoundTrip(t *testing.T) {
	bm := roaring.New()
	bm.Add(1)
	bm.Add(100)
	bm.Add(1_000_000)

	b, err := ToBytes(bm)
	require.NoError(t, err)
	require.NotEmpty(t, b)

	restored, err := FromBytes(b)
	require.NoError(t, err)
	require.True(t, bm.Equals(restored))
}

func TestFromBytesEmptyBitmap(t *testing.T) {
	bm := roaring.New()
	b, err := ToBytes(bm)
	require.NoError(t, err)

	restored, err := FromBytes(b)
	require.NoError(t, err)
	require.Equal(t, uint64(0), restored.GetCardinality())
}
