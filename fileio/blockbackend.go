package fileio

import (
	"crypto/md5"
	"encoding/hex"
	"go_ota/networking/response"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/golang/glog"
)

// BlockBackend writes the image straight to a raw device (or a preallocated image file)
type BlockBackend struct {
	device string

	file     *os.File
	md5Hash  hash.Hash
	expected string
	declared uint32
	written  uint64
}

func (b *BlockBackend) Begin(size uint32) response.Code {
	file, err := os.OpenFile(b.device, os.O_WRONLY, 0)
	if err != nil {
		glog.Warningf("Could not open %s: %v", b.device, err)
		return response.ErrorNoUpdatePartition
	}
	capacity, err := file.Seek(0, io.SeekEnd)
	if err == nil {
		_, err = file.Seek(0, io.SeekStart)
	}
	if err != nil {
		file.Close()
		glog.Warningf("Could not size %s: %v", b.device, err)
		return response.ErrorUpdatePrepare
	}
	if capacity < int64(size) {
		file.Close()
		glog.Warningf("Image of %d bytes does not fit into %s (%d bytes)", size, b.device, capacity)
		return response.ErrorNotEnoughSpace
	}
	b.file = file
	b.md5Hash = md5.New()
	b.declared = size
	b.written = 0
	return response.OK
}

func (b *BlockBackend) SetExpectedChecksum(md5hex string) response.Code {
	if b.file == nil {
		return response.ErrorUnknown
	}
	b.expected = strings.ToLower(md5hex)
	return response.OK
}

func (b *BlockBackend) Write(data []byte) response.Code {
	if b.file == nil || b.written+uint64(len(data)) > uint64(b.declared) {
		return response.ErrorWritingFlash
	}
	if _, err := b.file.Write(data); err != nil {
		glog.Warningf("Device write failed: %v", err)
		return response.ErrorWritingFlash
	}
	progressiveChecksumMD5(b.md5Hash, data)
	b.written += uint64(len(data))
	return response.OK
}

func (b *BlockBackend) End() response.Code {
	if b.file == nil {
		return response.ErrorUpdateEnd
	}
	err := syncDevice(b.file)
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	b.file = nil
	if err != nil {
		glog.Warningf("Could not sync %s: %v", b.device, err)
		return response.ErrorUpdateEnd
	}
	if b.expected != "" {
		if computed := hex.EncodeToString(b.md5Hash.Sum(nil)); computed != b.expected {
			glog.Warningf("MD5 mismatch: expected %s, computed %s", b.expected, computed)
			return response.ErrorMD5Mismatch
		}
	}
	return response.OK
}

// Abort closes the device. Partially written blocks are left behind.
func (b *BlockBackend) Abort() {
	if b.file != nil {
		b.file.Close()
		b.file = nil
	}
}

func (b *BlockBackend) SupportsCompression() bool {
	return false
}

func (b *BlockBackend) SetCompressed(bool) {}
