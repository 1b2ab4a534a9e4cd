package compress

// Type identifies which compression algorithm was used to store a segment.
type Type uint8

const (
	TypeNone Type = iota
	TypeLZ4
)

// Compressor defines the interface for compressing and decompressing byte slices.
type Compressor interface {
	// Type reports which Type this compressor implements, for the segment header.
	Type() Type

	// Compress compresses the source byte slice and returns the compressed data.
	Compress(src []byte) ([]byte, error)

	// Decompress decompresses src into a buffer of rawSize bytes.
	Decompress(src []byte, rawSize int) ([]byte, error)
}
