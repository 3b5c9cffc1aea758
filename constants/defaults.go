package constants

import "time"

const Title = "Over-the-air firmware update receiver"

const (
	DEFAULT_PORT             = 3232                   // Default OTA listening port
	HANDSHAKE_TIMEOUT_MS     = 10000                  // Magic bytes must arrive within this window
	DATA_TIMEOUT_MS          = 90000                  // Per read/write attempt during data transfer
	SOCKET_POLL_INTERVAL     = time.Millisecond       // Deadline used to emulate non-blocking socket I/O
	OTA_BLOCK_SIZE           = 8192                   // Protocol v2 chunk acknowledgement granularity
	RECEIVE_BUFFER_SIZE      = 1024                   // Payload read buffer
	MAGIC_LENGTH             = 5                      // Handshake magic length
	MD5_HEX_LENGTH           = 32                     // Legacy checksum field length
	PROGRESS_INTERVAL_MS     = 1000                   // Progress log/event throttle
	ERROR_STATUS_DURATION_MS = 5000                   // Momentary error indicator auto-clear
	LOOP_INTERVAL            = 16 * time.Millisecond  // Scheduler tick pacing
	WATCHDOG_TIMEOUT         = 30 * time.Second       // Software watchdog expiry
	CLIENT_CHUNK_SIZE        = OTA_BLOCK_SIZE         // Upload client write size
	DEFAULT_CLIENT_RETRIES   = 5                      // Upload client connect attempts
	DEFAULT_MAX_IMAGE_SIZE   = 16 * 1024 * 1024       // Slot backend capacity
	FIRMWARE_IMAGE_NAME      = "firmware.bin"         // Installed image in slot directory
	FIRMWARE_STAGING_SUFFIX  = ".part"                // Image being received
	FIRMWARE_PREVIOUS_SUFFIX = ".prev"                // Image replaced by the last update
	LEGACY_MD5_SUNSET        = "2027-01-01T00:00:00Z" // MD5 auth fallback is ignored after this
)

const (
	OTA_VERSION_1_0 = 1 // No chunk acknowledgements
	OTA_VERSION_2_0 = 2 // Chunk acknowledgement every OTA_BLOCK_SIZE bytes
)

const (
	FEATURE_SUPPORTS_COMPRESSION = 0x01
	FEATURE_SUPPORTS_SHA256_AUTH = 0x02
)

// MAGIC_BYTES opens every update session.
var MAGIC_BYTES = [MAGIC_LENGTH]byte{0x6C, 0x26, 0xF7, 0x5C, 0x45}
