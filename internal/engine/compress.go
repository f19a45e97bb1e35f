package engine

// compress.go provides block compression for archived transaction log
// records and backup payloads.
//
// Each compressed block is stored with a 1-byte codec indicator followed by
// the compressed data, mirroring the RocksDB block format. The codec values
// match the RocksDB compression type numbering.

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression algorithm.
type Codec uint8

const (
	// NoCompression stores blocks uncompressed.
	NoCompression Codec = 0x0

	// SnappyCodec uses Google Snappy compression.
	SnappyCodec Codec = 0x1

	// LZ4Codec uses LZ4 frame compression.
	LZ4Codec Codec = 0x4

	// ZstdCodec uses Zstandard compression.
	ZstdCodec Codec = 0x7
)

// String returns the human-readable name of the codec.
func (c Codec) String() string {
	switch c {
	case NoCompression:
		return "NoCompression"
	case SnappyCodec:
		return "Snappy"
	case LZ4Codec:
		return "LZ4"
	case ZstdCodec:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// IsSupported returns true if the codec is supported.
func (c Codec) IsSupported() bool {
	switch c {
	case NoCompression, SnappyCodec, LZ4Codec, ZstdCodec:
		return true
	default:
		return false
	}
}

// compress compresses data with the given codec.
func compress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil

	case SnappyCodec:
		return snappy.Encode(nil, data), nil

	case LZ4Codec:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return buf.Bytes(), nil

	case ZstdCodec:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		defer func() { _ = encoder.Close() }()
		return encoder.EncodeAll(data, nil), nil

	default:
		return nil, fmt.Errorf("unsupported codec: %s", c)
	}
}

// decompress decompresses data with the given codec.
func decompress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil

	case SnappyCodec:
		return snappy.Decode(nil, data)

	case LZ4Codec:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)

	case ZstdCodec:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unsupported codec: %s", c)
	}
}
