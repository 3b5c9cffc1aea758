package networking

import (
	"bytes"
	"encoding/binary"
	"errors"
	"go_ota/constants"
)

// Features is the capability bitmask sent by the client after the version greeting
type Features uint8

// Compression reports whether the client can send a compressed image
func (f Features) Compression() bool {
	return f&constants.FEATURE_SUPPORTS_COMPRESSION != 0
}

// SHA256Auth reports whether the client can answer a SHA-256 challenge
func (f Features) SHA256Auth() bool {
	return f&constants.FEATURE_SUPPORTS_SHA256_AUTH != 0
}

// MatchMagic reports whether buf holds exactly the session magic
func MatchMagic(buf []byte) bool {
	return bytes.Equal(buf, constants.MAGIC_BYTES[:])
}

// EncodeSize encodes payload size as sent on the wire, most significant byte first
func EncodeSize(size uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, 4), size)
}

// DecodeSize decodes the 4 byte payload size field
func DecodeSize(message []byte) (uint32, error) {
	if len(message) != 4 {
		return 0, errors.New("size field should always be 4 bytes")
	}
	return binary.BigEndian.Uint32(message), nil
}

// ChunkAcks returns how many chunk acknowledgements a v2 transfer of size bytes produces
func ChunkAcks(size uint32) int {
	return int((uint64(size) + constants.OTA_BLOCK_SIZE - 1) / constants.OTA_BLOCK_SIZE)
}
