package fileio

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"go_ota/constants"
	"go_ota/networking/response"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
)

// SlotBackend stages the image next to the installed one and swaps them on End
type SlotBackend struct {
	root        string
	maxSize     int64
	compression bool
	compressed  bool // Negotiated for the current session

	file     *os.File
	writer   *bufio.Writer
	md5Hash  hash.Hash
	expected string
	declared uint32
	written  uint64
}

func (b *SlotBackend) imagePath() string {
	return filepath.Join(b.root, constants.FIRMWARE_IMAGE_NAME)
}

func (b *SlotBackend) stagingPath() string {
	return b.imagePath() + constants.FIRMWARE_STAGING_SUFFIX
}

// Begin creates the staging file for a new image
func (b *SlotBackend) Begin(size uint32) response.Code {
	if b.maxSize > 0 && int64(size) > b.maxSize {
		glog.Warningf("Image of %d bytes exceeds slot capacity %d", size, b.maxSize)
		return response.ErrorPartitionNoSpace
	}
	file, err := os.Create(b.stagingPath())
	if err != nil {
		glog.Warningf("Could not create staging image: %v", err)
		return response.ErrorUpdatePrepare
	}
	b.file = file
	// New buffered writer.
	b.writer = bufio.NewWriterSize(b.file, constants.OTA_BLOCK_SIZE)
	b.md5Hash = md5.New()
	b.declared = size
	b.written = 0
	return response.OK
}

func (b *SlotBackend) SetExpectedChecksum(md5hex string) response.Code {
	if b.file == nil {
		return response.ErrorUnknown
	}
	b.expected = strings.ToLower(md5hex)
	return response.OK
}

// Write appends a chunk of received payload to the staging file
func (b *SlotBackend) Write(data []byte) response.Code {
	if b.file == nil {
		return response.ErrorWritingFlash
	}
	if b.written+uint64(len(data)) > uint64(b.declared) {
		glog.Warningf("Write of %d bytes overruns declared size %d", len(data), b.declared)
		return response.ErrorWritingFlash
	}
	if _, err := b.writer.Write(data); err != nil {
		glog.Warningf("Staging write failed: %v", err)
		return response.ErrorWritingFlash
	}
	// Update hash.
	progressiveChecksumMD5(b.md5Hash, data)
	b.written += uint64(len(data))
	return response.OK
}

// End verifies the staged image, inflates it if it was sent compressed and installs it
func (b *SlotBackend) End() response.Code {
	if b.file == nil {
		return response.ErrorUpdateEnd
	}
	// Write any remaining bytes.
	err := b.writer.Flush()
	if err == nil {
		err = b.file.Sync()
	}
	if cerr := b.file.Close(); err == nil {
		err = cerr
	}
	b.file = nil
	if err != nil {
		glog.Warningf("Could not persist staging image: %v", err)
		b.removeStaging()
		return response.ErrorUpdateEnd
	}

	if b.expected != "" {
		computed := hex.EncodeToString(b.md5Hash.Sum(nil))
		if computed != b.expected {
			glog.Warningf("MD5 mismatch: expected %s, computed %s", b.expected, computed)
			b.removeStaging()
			return response.ErrorMD5Mismatch
		}
	}

	if b.compressed {
		if code := b.inflateStaging(); code != response.OK {
			b.removeStaging()
			return code
		}
	}

	if err := b.install(); err != nil {
		glog.Warningf("Could not install image: %v", err)
		b.removeStaging()
		return response.ErrorUpdateEnd
	}
	return response.OK
}

// inflateStaging replaces an LZ4 framed staging file with its decompressed content
func (b *SlotBackend) inflateStaging() response.Code {
	staged, err := os.Open(b.stagingPath())
	if err != nil {
		return response.ErrorUpdateEnd
	}
	defer staged.Close()

	header := make([]byte, 4)
	if _, err := io.ReadFull(staged, header); err != nil || !IsLZ4Frame(header) {
		// Plain image.
		return response.OK
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return response.ErrorUpdateEnd
	}

	inflatedPath := b.stagingPath() + ".lz4"
	out, err := os.Create(inflatedPath)
	if err != nil {
		return response.ErrorUpdateEnd
	}
	limit := b.maxSize
	if limit <= 0 {
		limit = constants.DEFAULT_MAX_IMAGE_SIZE
	}
	n, err := InflateFrame(out, staged, limit)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(inflatedPath)
		if errors.Is(err, ErrInflateLimit) {
			glog.Warningf("Inflated image exceeds slot capacity %d", limit)
			return response.ErrorImageTooLarge
		}
		glog.Warningf("Could not inflate compressed image: %v", err)
		return response.ErrorUpdateEnd
	}
	glog.V(2).Infof("Inflated image from %d to %d bytes", b.written, n)
	if err := os.Rename(inflatedPath, b.stagingPath()); err != nil {
		os.Remove(inflatedPath)
		return response.ErrorUpdateEnd
	}
	return response.OK
}

// install keeps the running image as the previous one and moves the staged one in place
func (b *SlotBackend) install() error {
	image := b.imagePath()
	if _, err := os.Stat(image); err == nil {
		if err := os.Rename(image, image+constants.FIRMWARE_PREVIOUS_SUFFIX); err != nil {
			return err
		}
	}
	return os.Rename(b.stagingPath(), image)
}

// Abort drops the staging file
func (b *SlotBackend) Abort() {
	if b.file != nil {
		b.file.Close()
		b.file = nil
	}
	b.removeStaging()
}

func (b *SlotBackend) removeStaging() {
	if err := os.Remove(b.stagingPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		glog.Warningf("Could not remove staging image: %v", err)
	}
}

func (b *SlotBackend) SupportsCompression() bool {
	return b.compression
}

// SetCompressed enables inflating the staged image at End. A plain session is installed as received.
func (b *SlotBackend) SetCompressed(compressed bool) {
	b.compressed = compressed && b.compression
}
