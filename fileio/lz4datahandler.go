package fileio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/pierrec/lz4/v4"
)

// lz4FrameMagic starts every LZ4 frame
const lz4FrameMagic = 0x184D2204

// ErrInflateLimit is returned when decompressed data grows past the allowed size
var ErrInflateLimit = errors.New("inflated data exceeds limit")

// IsLZ4Frame reports whether header starts an LZ4 frame
func IsLZ4Frame(header []byte) bool {
	return len(header) >= 4 && binary.LittleEndian.Uint32(header) == lz4FrameMagic
}

// CompressFrame compresses a whole image into a single LZ4 frame
func CompressFrame(image []byte) ([]byte, error) {
	buffer := new(bytes.Buffer)
	zw := lz4.NewWriter(buffer)
	if _, err := zw.Write(image); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// InflateFrame decompresses an LZ4 frame from src into dst, writing at most limit bytes
func InflateFrame(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	zr := lz4.NewReader(src)
	n, err := io.Copy(dst, io.LimitReader(zr, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrInflateLimit
	}
	return n, nil
}
