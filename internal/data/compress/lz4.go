package compress

import (
	"errors"

	"github.com/pierrec/lz4/v4"
)

// ErrIncompressible is returned by Compress when the input would not shrink
// under LZ4; callers should store the segment uncompressed in that case.
var ErrIncompressible = errors.New("compress: data is incompressible")

// LZ4 implements the Compressor interface using the LZ4 block algorithm.
type LZ4 struct{}

// NewLZ4 creates a new LZ4 compressor.
func NewLZ4() *LZ4 {
	return &LZ4{}
}

func (c *LZ4) Type() Type { return TypeLZ4 }

// Compress compresses src using LZ4. It returns ErrIncompressible if the
// block codec could not shrink the input (small or high-entropy data).
func (c *LZ4) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrIncompressible
	}
	return dst[:n], nil
}

// Decompress expands src, which must have been produced by Compress, into
// a buffer of exactly rawSize bytes. The original size must be carried by
// the caller (the segment header stores it) because the LZ4 block format
// does not self-describe its uncompressed length.
func (c *LZ4) Decompress(src []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
