package cache

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression applied to a stored payload.
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

// ParseCodec maps a configuration value to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd":
		return CodecZstd, nil
	default:
		return 0, fmt.Errorf("unknown cache compression %q (expected none, lz4 or zstd)", s)
	}
}

// Frame layout: [version][codec][xxhash64 of payload][payload length uint32][body].
const (
	frameVersion    = 1
	frameHeaderSize = 1 + 1 + 8 + 4
	maxPayloadSize  = 256 << 20
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodeFrame compresses payload with codec and prepends the frame header.
// Payloads that do not compress are stored uncompressed.
func encodeFrame(codec Codec, payload []byte) ([]byte, error) {
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds limit", len(payload))
	}

	body := payload
	if len(payload) == 0 {
		codec = CodecNone
	}
	switch codec {
	case CodecNone:
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(payload)))
		n, err := lz4.CompressBlock(payload, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(payload) {
			codec = CodecNone
		} else {
			body = buf[:n]
		}
	case CodecZstd:
		body = zstdEncoder.EncodeAll(payload, nil)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}

	frame := make([]byte, frameHeaderSize+len(body))
	frame[0] = frameVersion
	frame[1] = byte(codec)
	binary.BigEndian.PutUint64(frame[2:10], xxhash.Sum64(payload))
	binary.BigEndian.PutUint32(frame[10:14], uint32(len(payload)))
	copy(frame[frameHeaderSize:], body)
	return frame, nil
}

// decodeFrame validates and decompresses a frame. Every failure wraps ErrCorrupt.
func decodeFrame(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ErrCorrupt, len(frame))
	}
	if frame[0] != frameVersion {
		return nil, fmt.Errorf("%w: unsupported frame version %d", ErrCorrupt, frame[0])
	}

	codec := Codec(frame[1])
	sum := binary.BigEndian.Uint64(frame[2:10])
	size := binary.BigEndian.Uint32(frame[10:14])
	if size > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload length %d exceeds limit", ErrCorrupt, size)
	}
	body := frame[frameHeaderSize:]

	var payload []byte
	switch codec {
	case CodecNone:
		payload = body
	case CodecLZ4:
		payload = make([]byte, size)
		n, err := lz4.UncompressBlock(body, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		payload = payload[:n]
	case CodecZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		payload = out
	default:
		return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
	}

	if uint32(len(payload)) != size {
		return nil, fmt.Errorf("%w: length mismatch", ErrCorrupt)
	}
	if xxhash.Sum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return payload, nil
}
