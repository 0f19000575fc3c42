package sstable

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to each block payload. The codec byte
// is stored per block, so tables written with different codecs remain
// readable side by side.
type Compression uint8

const (
	NoCompression     Compression = 0
	SnappyCompression Compression = 1
	ZstdCompression   Compression = 2
	LZ4Compression    Compression = 3
)

func (me Compression) IsValid() bool {
	return me <= LZ4Compression
}

func (me Compression) String() string {
	switch me {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case ZstdCompression:
		return "zstd"
	case LZ4Compression:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(me))
	}
}

func compress(codec Compression, data []byte) ([]byte, error) {
	switch codec {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Encode(nil, data), nil

	case ZstdCompression:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		defer encoder.Close()
		return encoder.EncodeAll(data, nil), nil

	case LZ4Compression:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil

	default:
		return nil, fmt.Errorf("unsupported compression codec: %s", codec)
	}
}

func decompress(codec Compression, data []byte) ([]byte, error) {
	switch codec {
	case NoCompression:
		return data, nil

	case SnappyCompression:
		return snappy.Decode(nil, data)

	case ZstdCompression:
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer decoder.Close()
		return decoder.DecodeAll(data, nil)

	case LZ4Compression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	default:
		return nil, fmt.Errorf("unsupported compression codec: %s", codec)
	}
}
