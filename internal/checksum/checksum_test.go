package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumDeterministicAndContentSensitive(t *testing.T) {
	a := Sum([]byte("hello world"))
	b := Sum([]byte("hello world"))
	require.Equal(t, a, b)

	c := Sum([]byte("hello worlD"))
	require.NotEqual(t, a, c)
}

// noopCompressor never shrinks input, exercising the compression_failed path.
type noopCompressor struct{}

func (noopCompressor) Compress(dst, src []byte) (int, bool, error) {
	return 0, true, nil
}
func (noopCompressor) Decompress(dst, src []byte) (int, error) { return 0, nil }
func (noopCompressor) MaxCompressed(n int) int                 { return n }

func TestCodecCompressionFailedFallsBackToPlain(t *testing.T) {
	codec := Codec{Compressor: noopCompressor{}}
	src := make([]byte, 128)
	for i := range src {
		src[i] = byte(i)
	}
	res, err := codec.Encode(src)
	require.NoError(t, err)
	require.Zero(t, res.Flags&FlagCompressed)
	require.Equal(t, src, res.Payload)
}
