package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects how a segment body is compressed on disk.
type Codec uint8

const (
	CodecNone Codec = 0
	CodecLZ4  Codec = 1
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "none":
		return CodecNone, nil
	default:
		return 0, fmt.Errorf("unknown segment codec %q", name)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block layout: [uncompressed uint32][compressed uint32][data...].
// A compressed size of 0 means the data is stored as is.
const blockHeaderSize = 8

var errShortBlock = errors.New("segment block truncated")

func compressBlock(data []byte, codec Codec) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	stored := compressed
	if len(compressed) == 0 || len(compressed) >= len(data) {
		stored = data
		compressed = nil
	}
	out := make([]byte, blockHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(compressed)))
	copy(out[blockHeaderSize:], stored)
	return out, nil
}

func decompressBlock(block []byte, codec Codec) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, errShortBlock
	}
	rawSize := binary.LittleEndian.Uint32(block[0:4])
	compSize := binary.LittleEndian.Uint32(block[4:8])
	payload := block[blockHeaderSize:]
	if compSize == 0 {
		if uint32(len(payload)) < rawSize {
			return nil, errShortBlock
		}
		return payload[:rawSize], nil
	}
	if uint32(len(payload)) < compSize {
		return nil, errShortBlock
	}
	payload = payload[:compSize]

	switch codec {
	case CodecLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint32(n) != rawSize {
			return nil, errors.New("lz4 decompress: size mismatch")
		}
		return out, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(payload, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint32(len(out)) != rawSize {
			return nil, errors.New("zstd decompress: size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("compressed block with codec %s", codec)
	}
}
