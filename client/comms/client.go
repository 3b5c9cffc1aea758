package comms

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"go_ota/client/worker"
	"go_ota/constants"
	"go_ota/networking"
	"go_ota/networking/response"
	"io"
	"net"
	"slices"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"golang.org/x/net/ipv4"
)

// DefaultTimeout bounds every single send or receive
const DefaultTimeout = 20 * time.Second

var (
	ErrUnsupportedVersion = errors.New("unsupported OTA version")
	ErrPasswordRequired   = errors.New("device requires a password")
)

// DeviceError is an unexpected or error response from the device
type DeviceError struct {
	Step string
	Code response.Code
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("error %s: %s", e.Step, response.Describe(e.Code))
}

// Options control a single upload
type Options struct {
	Password string
	Compress bool
	// LegacyAuth advertises MD5 only, like clients predating SHA-256 support.
	LegacyAuth bool
	// Progress is called after every chunk.
	Progress func(sent, total int)
	// Entropy seeds the cnonce, crypto/rand when nil.
	Entropy io.Reader
}

// Client talks to one device
type Client struct {
	socket  net.Conn
	Timeout time.Duration
	version uint8
}

// Connect opens TCP connection to target host address, retrying with backoff
func Connect(ctx context.Context, address string, dscp int, retries uint64) (*Client, error) {
	var conn net.Conn
	operation := func() error {
		dial := new(net.Dialer)
		c, err := dial.DialContext(ctx, "tcp", address)
		if err != nil {
			glog.Warningf("Connecting to %s failed: %v", address, err)
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}

	// Set TCP_NODELAY to always immediately send.
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	if dscp > 0 {
		// Set DSCP. NOTE: On Windows by default it will not apply the value.
		ipv4.NewConn(conn).SetTOS(dscp)
	}
	return &Client{socket: conn, Timeout: DefaultTimeout}, nil
}

// Close closes socket
func (c *Client) Close() error {
	return c.socket.Close()
}

// Version returns the protocol version announced by the device
func (c *Client) Version() uint8 {
	return c.version
}

// Upload runs one complete update session for image
func (c *Client) Upload(image []byte, opts Options) error {
	if err := c.send(constants.MAGIC_BYTES[:], "magic bytes"); err != nil {
		return err
	}

	greeting, err := c.receive(2, "version")
	if err != nil {
		return err
	}
	if code := response.Code(greeting[0]); code != response.OK {
		return &DeviceError{Step: "version", Code: code}
	}
	c.version = greeting[1]
	if c.version != constants.OTA_VERSION_1_0 && c.version != constants.OTA_VERSION_2_0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, c.version)
	}
	glog.V(1).Infof("Device speaks protocol version %d", c.version)

	var features networking.Features
	if opts.Compress {
		features |= constants.FEATURE_SUPPORTS_COMPRESSION
	}
	if !opts.LegacyAuth {
		features |= constants.FEATURE_SUPPORTS_SHA256_AUTH
	}
	if err := c.send([]byte{byte(features)}, "features"); err != nil {
		return err
	}
	header, err := c.receiveCode("features", response.HeaderOK, response.SupportsCompression)
	if err != nil {
		return err
	}

	payload, err := worker.Prepare(image, header == response.SupportsCompression)
	if err != nil {
		return err
	}
	if payload.Compressed {
		glog.Infof("Compressed to %d bytes", len(payload.Data))
	}

	auth, err := c.receiveCode("auth", response.AuthOK, response.RequestAuth, response.RequestSHA256Auth)
	if err != nil {
		return err
	}
	if auth != response.AuthOK {
		if err := c.authenticate(auth, opts); err != nil {
			return err
		}
	}

	if err := c.send(networking.EncodeSize(payload.Size()), "binary size"); err != nil {
		return err
	}
	if _, err := c.receiveCode("binary size", response.UpdatePrepareOK); err != nil {
		return err
	}

	if err := c.send([]byte(payload.MD5), "MD5 checksum"); err != nil {
		return err
	}
	if _, err := c.receiveCode("MD5 checksum", response.BinMD5OK); err != nil {
		return err
	}

	glog.Info("Uploading image")
	sent := 0
	for _, chunk := range payload.Chunks(constants.CLIENT_CHUNK_SIZE) {
		if err := c.send(chunk, "chunk"); err != nil {
			return err
		}
		if c.version >= constants.OTA_VERSION_2_0 {
			if _, err := c.receiveCode("chunk OK", response.ChunkOK); err != nil {
				return err
			}
		}
		sent += len(chunk)
		if opts.Progress != nil {
			opts.Progress(sent, len(payload.Data))
		}
	}

	if _, err := c.receiveCode("receive OK", response.ReceiveOK); err != nil {
		return err
	}
	if _, err := c.receiveCode("update end", response.UpdateEndOK); err != nil {
		return err
	}
	return c.send([]byte{byte(response.OK)}, "end acknowledgement")
}

// authenticate answers the device challenge for the requested hash
func (c *Client) authenticate(request response.Code, opts Options) error {
	if opts.Password == "" {
		return ErrPasswordRequired
	}
	var h networking.Hasher = networking.NewMD5()
	if request == response.RequestSHA256Auth {
		h = networking.NewSHA256()
	}

	nonce, err := c.receive(networking.HexLength(h), "authentication nonce")
	if err != nil {
		return err
	}

	entropy := opts.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	seed := make([]byte, 32)
	if _, err := io.ReadFull(entropy, seed); err != nil {
		return fmt.Errorf("generating cnonce: %w", err)
	}
	cnonce := []byte(networking.HexDigest(h, seed))
	if err := c.send(cnonce, "auth cnonce"); err != nil {
		return err
	}

	result := networking.ChallengeResponse(h, opts.Password, nonce, cnonce)
	if err := c.send([]byte(result), "auth result"); err != nil {
		return err
	}
	_, err = c.receiveCode("auth result", response.AuthOK)
	return err
}

func (c *Client) send(data []byte, what string) error {
	c.socket.SetWriteDeadline(time.Now().Add(c.Timeout))
	if _, err := c.socket.Write(data); err != nil {
		return fmt.Errorf("error sending %s: %w", what, err)
	}
	return nil
}

func (c *Client) receive(n int, what string) ([]byte, error) {
	c.socket.SetReadDeadline(time.Now().Add(c.Timeout))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.socket, buf); err != nil {
		return nil, fmt.Errorf("error receiving %s: %w", what, err)
	}
	return buf, nil
}

// receiveCode reads one response byte and checks it against the allowed codes
func (c *Client) receiveCode(what string, expected ...response.Code) (response.Code, error) {
	buf, err := c.receive(1, what)
	if err != nil {
		return 0, err
	}
	code := response.Code(buf[0])
	if !slices.Contains(expected, code) {
		return code, &DeviceError{Step: what, Code: code}
	}
	return code, nil
}
