package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"go_ota/constants"
	"io"
	"time"

	"github.com/golang/glog"
)

// Config is read from the device configuration layer
type Config struct {
	Address  string // Listen address, empty for all interfaces
	Port     int
	Password string // Shared secret, empty disables authentication
	Version  uint8  // Protocol version announced to clients

	SHA256Supported bool // Platform can run SHA-256 auth
	MD5Supported    bool // Platform can run MD5 auth

	// AllowLegacyMD5 lets clients without SHA-256 support authenticate with
	// MD5 until LegacyMD5Sunset. Deprecated.
	AllowLegacyMD5  bool
	LegacyMD5Sunset time.Time

	DSCP int // IP TOS for accepted connections, 0 leaves it untouched

	HandshakeTimeoutMS uint32
	DataTimeoutMS      uint32

	Entropy io.Reader        // Nonce source, crypto/rand when nil
	Now     func() time.Time // Wall clock for the sunset check, time.Now when nil
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	sunset, _ := time.Parse(time.RFC3339, constants.LEGACY_MD5_SUNSET)
	return Config{
		Port:               constants.DEFAULT_PORT,
		Version:            constants.OTA_VERSION_2_0,
		SHA256Supported:    true,
		MD5Supported:       true,
		AllowLegacyMD5:     true,
		LegacyMD5Sunset:    sunset,
		HandshakeTimeoutMS: constants.HANDSHAKE_TIMEOUT_MS,
		DataTimeoutMS:      constants.DATA_TIMEOUT_MS,
	}
}

// Validate checks the configuration before the listener is created
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Version != constants.OTA_VERSION_1_0 && c.Version != constants.OTA_VERSION_2_0 {
		return fmt.Errorf("unsupported protocol version %d", c.Version)
	}
	if c.Password != "" && !c.SHA256Supported && !c.MD5Supported {
		return errors.New("password configured but no authentication hash is available")
	}
	if c.DSCP < 0 || c.DSCP > 255 {
		return fmt.Errorf("invalid DSCP value %d", c.DSCP)
	}
	if c.HandshakeTimeoutMS == 0 || c.DataTimeoutMS == 0 {
		return errors.New("timeouts must be positive")
	}
	return nil
}

func (c *Config) entropy() io.Reader {
	if c.Entropy == nil {
		return rand.Reader
	}
	return c.Entropy
}

// legacyMD5Allowed reports whether the MD5 fallback is still in effect
func (c *Config) legacyMD5Allowed() bool {
	if !c.AllowLegacyMD5 {
		return false
	}
	if c.LegacyMD5Sunset.IsZero() {
		return true
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if !now().Before(c.LegacyMD5Sunset) {
		glog.Warningf("MD5 auth compatibility ended on %s, ignoring allow-md5-auth", c.LegacyMD5Sunset.Format(time.DateOnly))
		return false
	}
	return true
}
