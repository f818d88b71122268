package compression

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// minSize is the smallest payload worth compressing.
const minSize = 128

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Level selects the encoder speed/ratio trade-off.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 2
	LevelBetter  Level = 3
)

type Compressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	enabled bool
}

func NewCompressor(level Level, enabled bool) (*Compressor, error) {
	if !enabled {
		return &Compressor{enabled: false}, nil
	}

	var encoderLevel zstd.EncoderLevel
	switch level {
	case LevelFastest:
		encoderLevel = zstd.SpeedFastest
	case LevelBetter:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	encoder, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(encoderLevel),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &Compressor{
		encoder: encoder,
		decoder: decoder,
		enabled: true,
	}, nil
}

// Compress returns data unchanged when it is small or does not shrink.
// Payloads that already look like a zstd frame are always wrapped so that
// Decompress can tell them apart.
func (c *Compressor) Compress(data []byte) []byte {
	if !c.enabled {
		return data
	}
	framed := IsCompressed(data)
	if len(data) < minSize && !framed {
		return data
	}

	compressed := c.encoder.EncodeAll(data, make([]byte, 0, len(data)))
	if len(compressed) >= len(data) && !framed {
		return data
	}
	return compressed
}

// Decompress reverses Compress. Payloads stored uncompressed pass through.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	if !c.enabled || !IsCompressed(data) {
		return data, nil
	}

	decompressed, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return decompressed, nil
}

// IsCompressed reports whether data starts with a zstd frame header.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

func (c *Compressor) Close() error {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	return nil
}
