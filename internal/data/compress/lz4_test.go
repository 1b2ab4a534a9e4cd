package compress

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLZ4CompressDecompressRoundTrip(t *testing.T) {
	c := NewLZ4()
	src := bytes.Repeat([]byte("abcdefgh"), 256)

	compressed, err := c.Compress(src)
	require.NoError(t, err)
	require.Less(t, len(compressed), len(src))

	decompressed, err := c.Decompress(compressed, len(src))
	require.NoError(t, err)
	require.Equal(t, src, decompressed)
}

func TestLZ4CompressIncompressibleData(t *testing.T) {
	c := NewLZ4()
	tiny := []byte{1}

	_, err := c.Compress(tiny)
	if err != nil {
		require.True(t, errors.Is(err, ErrIncompressible))
	}
}

func TestLZ4Type(t *testing.T) {
	c := NewLZ4()
	require.Equal(t, TypeLZ4, c.Type())
}
