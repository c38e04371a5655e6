package ingest

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec：数据源的压缩格式，按文件头魔数识别
type Codec int

const (
	CodecNone Codec = iota
	CodecGzip
	CodecZstd
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecGzip:
		return "gzip"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	}
	return "none"
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect：识别压缩格式；纯文本 CSV 返回 CodecNone
func Detect(data []byte) Codec {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return CodecGzip
	case bytes.HasPrefix(data, zstdMagic):
		return CodecZstd
	case bytes.HasPrefix(data, lz4Magic):
		return CodecLZ4
	}
	return CodecNone
}

// Decode：按魔数解压；解压后的大小同样受 limit 约束，防止压缩炸弹
func Decode(data []byte, limit int64) ([]byte, error) {
	var r io.Reader
	switch Detect(data) {
	case CodecGzip:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case CodecZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	case CodecLZ4:
		r = lz4.NewReader(bytes.NewReader(data))
	default:
		return data, nil
	}
	return readAllLimit(r, limit)
}
