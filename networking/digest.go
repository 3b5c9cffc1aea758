package networking

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"hash"
)

// Hasher is an incremental digest used by the challenge-response exchange
type Hasher interface {
	Init()
	Add(data []byte)
	Calculate()
	// Size is the digest length in bytes.
	Size() int
	// Hex returns the last calculated digest, lowercase hex.
	Hex() string
	// EqualsHex compares hex against the last calculated digest.
	EqualsHex(hex []byte) bool
	Name() string
}

// Digest adapts a hash.Hash constructor to Hasher
type Digest struct {
	name    string
	newHash func() hash.Hash
	state   hash.Hash
	sum     []byte
}

// NewMD5 returns the legacy 128 bit hasher
func NewMD5() *Digest {
	return &Digest{name: "MD5", newHash: md5.New}
}

// NewSHA256 returns the 256 bit hasher
func NewSHA256() *Digest {
	return &Digest{name: "SHA256", newHash: sha256.New}
}

func (d *Digest) Init() {
	d.state = d.newHash()
	d.sum = nil
}

func (d *Digest) Add(data []byte) {
	if d.state == nil {
		d.Init()
	}
	d.state.Write(data)
}

func (d *Digest) Calculate() {
	if d.state == nil {
		d.Init()
	}
	d.sum = d.state.Sum(nil)
}

func (d *Digest) Size() int {
	return d.newHash().Size()
}

func (d *Digest) Hex() string {
	return hex.EncodeToString(d.sum)
}

func (d *Digest) EqualsHex(expected []byte) bool {
	if d.sum == nil {
		return false
	}
	computed := []byte(hex.EncodeToString(d.sum))
	return subtle.ConstantTimeCompare(computed, expected) == 1
}

func (d *Digest) Name() string {
	return d.name
}
