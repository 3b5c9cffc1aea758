package response

import "fmt"

// Code is the single byte the device answers with at every protocol step
type Code uint8

const (
	OK                  Code = 0x00 // Generic OK, also the version greeting prefix
	RequestAuth         Code = 0x01 // MD5 challenge follows
	RequestSHA256Auth   Code = 0x02 // SHA-256 challenge follows
	HeaderOK            Code = 0x40 // Features accepted
	AuthOK              Code = 0x41 // Authentication passed or not required
	UpdatePrepareOK     Code = 0x42 // Flash prepared for the declared size
	BinMD5OK            Code = 0x43 // Image checksum accepted
	ReceiveOK           Code = 0x44 // All payload bytes received
	UpdateEndOK         Code = 0x45 // Image committed
	SupportsCompression Code = 0x46 // Features accepted, compressed payload allowed
	ChunkOK             Code = 0x47 // One block of payload acknowledged (v2)

	ErrorMagic                 Code = 0x80
	ErrorUpdatePrepare         Code = 0x81
	ErrorAuthInvalid           Code = 0x82
	ErrorWritingFlash          Code = 0x83
	ErrorUpdateEnd             Code = 0x84
	ErrorInvalidBootstrapping  Code = 0x85
	ErrorWrongCurrentFlashConf Code = 0x86
	ErrorWrongNewFlashConf     Code = 0x87
	ErrorNotEnoughSpace        Code = 0x88
	ErrorPartitionNoSpace      Code = 0x89
	ErrorNoUpdatePartition     Code = 0x8A
	ErrorMD5Mismatch           Code = 0x8B
	ErrorImageTooLarge         Code = 0x8C
	ErrorConnectionClosed      Code = 0x90
	ErrorUnknown               Code = 0xFF
)

var names = map[Code]string{
	OK:                         "OK",
	RequestAuth:                "REQUEST_AUTH",
	RequestSHA256Auth:          "REQUEST_SHA256_AUTH",
	HeaderOK:                   "HEADER_OK",
	AuthOK:                     "AUTH_OK",
	UpdatePrepareOK:            "UPDATE_PREPARE_OK",
	BinMD5OK:                   "BIN_MD5_OK",
	ReceiveOK:                  "RECEIVE_OK",
	UpdateEndOK:                "UPDATE_END_OK",
	SupportsCompression:        "SUPPORTS_COMPRESSION",
	ChunkOK:                    "CHUNK_OK",
	ErrorMagic:                 "ERROR_MAGIC",
	ErrorUpdatePrepare:         "ERROR_UPDATE_PREPARE",
	ErrorAuthInvalid:           "ERROR_AUTH_INVALID",
	ErrorWritingFlash:          "ERROR_WRITING_FLASH",
	ErrorUpdateEnd:             "ERROR_UPDATE_END",
	ErrorInvalidBootstrapping:  "ERROR_INVALID_BOOTSTRAPPING",
	ErrorWrongCurrentFlashConf: "ERROR_WRONG_CURRENT_FLASH_CONFIG",
	ErrorWrongNewFlashConf:     "ERROR_WRONG_NEW_FLASH_CONFIG",
	ErrorNotEnoughSpace:        "ERROR_NOT_ENOUGH_SPACE",
	ErrorPartitionNoSpace:      "ERROR_PARTITION_NO_SPACE",
	ErrorNoUpdatePartition:     "ERROR_NO_UPDATE_PARTITION",
	ErrorMD5Mismatch:           "ERROR_MD5_MISMATCH",
	ErrorImageTooLarge:         "ERROR_IMAGE_TOO_LARGE",
	ErrorConnectionClosed:      "ERROR_CONNECTION_CLOSED",
	ErrorUnknown:               "ERROR_UNKNOWN",
}

var descriptions = map[Code]string{
	ErrorMagic:                 "Error: Invalid magic byte",
	ErrorUpdatePrepare:         "Error: Couldn't prepare flash memory for update. Is the binary too big?",
	ErrorAuthInvalid:           "Error: Authentication invalid. Is the password correct?",
	ErrorWritingFlash:          "Error: Writing flash memory failed. Check flash health",
	ErrorUpdateEnd:             "Error: Finishing update failed",
	ErrorInvalidBootstrapping:  "Error: Please press the reset button on the device. A manual reset is required on the first OTA update after flashing via USB",
	ErrorWrongCurrentFlashConf: "Error: Device has wrong flash size configured",
	ErrorWrongNewFlashConf:     "Error: New image has wrong flash size configured",
	ErrorNotEnoughSpace:        "Error: Not enough space on device for OTA update",
	ErrorPartitionNoSpace:      "Error: The OTA partition is too small for this image",
	ErrorNoUpdatePartition:     "Error: No OTA partition was found",
	ErrorMD5Mismatch:           "Error: Application MD5 code mismatch",
	ErrorImageTooLarge:         "Error: Image does not fit into device storage",
	ErrorConnectionClosed:      "Error: Connection closed before the transfer completed",
	ErrorUnknown:               "Unknown error from device",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(c))
}

// IsError reports whether the code belongs to the error range
func (c Code) IsError() bool {
	return c >= ErrorMagic
}

// Describe returns a human readable message for error codes
func Describe(c Code) string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	if c.IsError() {
		return descriptions[ErrorUnknown]
	}
	return "Unexpected response from device: " + c.String()
}
