// Package ros implements Tier-5 of the storage hierarchy (spec.md §4.5):
// a read-optimized columnar file store. compress.go wires the four
// configurable compression codecs.
package ros

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/vela-db/vela/config"
	"github.com/vela-db/vela/pkg/errors"
)

// clampZSTDLevel clamps a requested ZSTD level into [1, 22].
func clampZSTDLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 22 {
		return 22
	}
	return level
}

// clampBrotliLevel clamps a requested Brotli level into [0, 11].
func clampBrotliLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 11 {
		return 11
	}
	return level
}

// Compress encodes b using the given algorithm and level (level is only
// consulted for ZSTD/Brotli, clamped to each codec's valid range).
func Compress(algo config.Compression, level int, b []byte) ([]byte, error) {
	switch algo {
	case config.CompressionNone:
		return b, nil
	case config.CompressionSnappy:
		return snappy.Encode(nil, b), nil
	case config.CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "lz4 compress")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "lz4 close")
		}
		return buf.Bytes(), nil
	case config.CompressionZSTD:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(clampZSTDLevel(level))))
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "zstd encoder init")
		}
		defer enc.Close()
		return enc.EncodeAll(b, nil), nil
	case config.CompressionBrotli:
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, clampBrotliLevel(level))
		if _, err := w.Write(b); err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "brotli compress")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "brotli close")
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Newf(errors.Serialization, "unknown compression algorithm %d", algo)
	}
}

// Decompress reverses Compress for the given algorithm.
func Decompress(algo config.Compression, b []byte) ([]byte, error) {
	switch algo {
	case config.CompressionNone:
		return b, nil
	case config.CompressionSnappy:
		out, err := snappy.Decode(nil, b)
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "snappy decompress")
		}
		return out, nil
	case config.CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(b))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "lz4 decompress")
		}
		return out, nil
	case config.CompressionZSTD:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "zstd decoder init")
		}
		defer dec.Close()
		out, err := dec.DecodeAll(b, nil)
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "zstd decompress")
		}
		return out, nil
	case config.CompressionBrotli:
		r := brotli.NewReader(bytes.NewReader(b))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, errors.Wrap(errors.Serialization, err, "brotli decompress")
		}
		return out, nil
	default:
		return nil, errors.Newf(errors.Serialization, "unknown compression algorithm %d", algo)
	}
}
