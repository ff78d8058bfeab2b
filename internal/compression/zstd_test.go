package compression

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamingRoundTrip(t *testing.T) {
	for _, level := range []int{1, 2, 3, 0} {
		c, err := NewCompressor(level)
		require.NoError(t, err)

		input := []byte(strings.Repeat("build output ", 10_000))
		var buf bytes.Buffer
		w, err := c.Writer(&buf, 4)
		require.NoError(t, err)
		_, err = w.Write(input)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.Less(t, buf.Len(), len(input))

		out, err := c.Decompress(buf.Bytes())
		require.NoError(t, err)
		require.Equal(t, input, out)
		require.NoError(t, c.Close())
	}
}

func TestDecompressCorrupt(t *testing.T) {
	c, err := NewCompressor(2)
	require.NoError(t, err)
	defer c.Close()

	var buf bytes.Buffer
	w, err := c.Writer(&buf, 1)
	require.NoError(t, err)
	_, err = w.Write([]byte(strings.Repeat("a", 4096)))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	good := buf.Bytes()

	_, err = c.Decompress([]byte("definitely not zstd"))
	require.Error(t, err)

	_, err = c.Decompress(good[:len(good)/2])
	require.Error(t, err)
}
