// Package compression wraps zstd for the archive stream.
package compression

import (
	"fmt"
	"io"
	"runtime"

	"github.com/klauspost/compress/zstd"
)

// Encoding is the Content-Encoding token for compressed archives.
const Encoding = "zstd"

// Compressor produces zstd streams at a fixed level and decodes them back.
type Compressor struct {
	level   zstd.EncoderLevel
	decoder *zstd.Decoder
}

// NewCompressor maps level 1..3 to fastest, default and better compression.
// Any other value selects the default level.
func NewCompressor(level int) (*Compressor, error) {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case 1:
		encoderLevel = zstd.SpeedFastest
	case 2:
		encoderLevel = zstd.SpeedDefault
	case 3:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Compressor{level: encoderLevel, decoder: decoder}, nil
}

// Writer returns a streaming encoder writing to w. Concurrency above one
// splits the input across that many encoder goroutines; zero uses GOMAXPROCS.
// The caller must Close the encoder to flush the final frame.
func (c *Compressor) Writer(w io.Writer, concurrency int) (*zstd.Encoder, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderConcurrency(concurrency),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return enc, nil
}

// Decompress decodes a complete zstd stream into memory.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

func (c *Compressor) Close() error {
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
