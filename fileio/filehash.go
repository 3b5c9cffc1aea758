package fileio

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// GetFileChecksumMD5 returns hex MD5 of given file
func GetFileChecksumMD5(file string) (string, error) {
	handle, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer handle.Close()

	hash := md5.New()
	if _, err := io.CopyBuffer(hash, handle, make([]byte, 64*1024)); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// ChecksumMD5 returns hex MD5 of data
func ChecksumMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// progressiveChecksumMD5 incrementally calculates MD5 checksum
func progressiveChecksumMD5(md5Hash hash.Hash, data []byte) hash.Hash {
	if md5Hash == nil {
		md5Hash = md5.New()
	}
	if len(data) > 0 {
		md5Hash.Write(data)
	}
	return md5Hash
}
