package fileio

import "go_ota/networking/response"

// Backend installs one firmware image into device storage.
// Every method reports the outcome as the code sent back to the client.
type Backend interface {
	// Begin prepares storage for an image of size bytes.
	Begin(size uint32) response.Code
	// SetExpectedChecksum takes the hex MD5 of the full image, verified by End.
	SetExpectedChecksum(md5hex string) response.Code
	Write(data []byte) response.Code
	// End commits the image.
	End() response.Code
	// Abort releases anything Begin acquired. Safe to call more than once.
	Abort()
	SupportsCompression() bool
	// SetCompressed reports whether this session negotiated compression. Called before Begin.
	SetCompressed(compressed bool)
}

// BackendFactory creates a fresh Backend for every transfer
type BackendFactory interface {
	NewBackend() Backend
}
