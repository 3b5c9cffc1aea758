package comms

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go_ota/constants"
	"go_ota/networking"
	"go_ota/networking/response"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// device runs script against the first connection and reports its result
func device(t *testing.T, script func(conn net.Conn) error) (string, <-chan error) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	done := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		conn.SetDeadline(time.Now().Add(10 * time.Second))
		done <- script(conn)
	}()
	return l.Addr().String(), done
}

func read(conn net.Conn, n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	return buf, err
}

func write(conn net.Conn, codes ...response.Code) error {
	buf := make([]byte, len(codes))
	for i, c := range codes {
		buf[i] = byte(c)
	}
	_, err := conn.Write(buf)
	return err
}

// greet consumes magic and features and answers with version and ack
func greet(conn net.Conn, version uint8, ack response.Code) (networking.Features, error) {
	magic, err := read(conn, constants.MAGIC_LENGTH)
	if err != nil {
		return 0, err
	}
	if !networking.MatchMagic(magic) {
		return 0, fmt.Errorf("bad magic % X", magic)
	}
	if _, err := conn.Write([]byte{byte(response.OK), version}); err != nil {
		return 0, err
	}
	features, err := read(conn, 1)
	if err != nil {
		return 0, err
	}
	return networking.Features(features[0]), write(conn, ack)
}

func connect(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := Connect(context.Background(), addr, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	c.Timeout = 5 * time.Second
	return c
}

func testImage(size int) []byte {
	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i*7 + i/251)
	}
	return image
}

// receiveImage plays the device side from the size field to the final ack
func receiveImage(conn net.Conn, version uint8) ([]byte, string, int, error) {
	sizeField, err := read(conn, 4)
	if err != nil {
		return nil, "", 0, err
	}
	size, err := networking.DecodeSize(sizeField)
	if err != nil {
		return nil, "", 0, err
	}
	if err := write(conn, response.UpdatePrepareOK); err != nil {
		return nil, "", 0, err
	}
	md5hex, err := read(conn, constants.MD5_HEX_LENGTH)
	if err != nil {
		return nil, "", 0, err
	}
	if err := write(conn, response.BinMD5OK); err != nil {
		return nil, "", 0, err
	}

	var image bytes.Buffer
	acks := 0
	for image.Len() < int(size) {
		block, err := read(conn, min(constants.OTA_BLOCK_SIZE, int(size)-image.Len()))
		if err != nil {
			return nil, "", 0, err
		}
		image.Write(block)
		if version >= constants.OTA_VERSION_2_0 {
			acks++
			if err := write(conn, response.ChunkOK); err != nil {
				return nil, "", 0, err
			}
		}
	}
	if err := write(conn, response.ReceiveOK, response.UpdateEndOK); err != nil {
		return nil, "", 0, err
	}
	final, err := read(conn, 1)
	if err != nil {
		return nil, "", 0, err
	}
	if response.Code(final[0]) != response.OK {
		return nil, "", 0, fmt.Errorf("final ack %v", response.Code(final[0]))
	}
	return image.Bytes(), string(md5hex), acks, nil
}

func TestUploadWithoutAuth(t *testing.T) {
	for _, version := range []uint8{constants.OTA_VERSION_1_0, constants.OTA_VERSION_2_0} {
		t.Run(fmt.Sprintf("v%d", version), func(t *testing.T) {
			image := testImage(3*constants.OTA_BLOCK_SIZE + 100)
			var got []byte
			var gotMD5 string
			var acks int
			var features networking.Features
			addr, done := device(t, func(conn net.Conn) error {
				var err error
				if features, err = greet(conn, version, response.HeaderOK); err != nil {
					return err
				}
				if err := write(conn, response.AuthOK); err != nil {
					return err
				}
				got, gotMD5, acks, err = receiveImage(conn, version)
				return err
			})

			var progress []int
			c := connect(t, addr)
			err := c.Upload(image, Options{Progress: func(sent, total int) { progress = append(progress, sent) }})
			if err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if err := <-done; err != nil {
				t.Fatalf("device: %v", err)
			}

			if c.Version() != version {
				t.Errorf("Version() = %d, want %d", c.Version(), version)
			}
			if !features.SHA256Auth() || features.Compression() {
				t.Errorf("features = 0x%02X, want SHA-256 only", byte(features))
			}
			if diff := cmp.Diff(image, got); diff != "" {
				t.Errorf("image mismatch (-want +got):\n%s", diff)
			}
			if gotMD5 != networking.HexDigest(networking.NewMD5(), image) {
				t.Errorf("MD5 field = %s", gotMD5)
			}
			wantAcks := 0
			if version >= constants.OTA_VERSION_2_0 {
				wantAcks = networking.ChunkAcks(uint32(len(image)))
			}
			if acks != wantAcks {
				t.Errorf("chunk acks = %d, want %d", acks, wantAcks)
			}
			want := []int{8192, 16384, 24576, len(image)}
			if diff := cmp.Diff(want, progress); diff != "" {
				t.Errorf("progress mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUploadCompressed(t *testing.T) {
	image := bytes.Repeat([]byte("firmware "), 4000)
	var got []byte
	var features networking.Features
	addr, done := device(t, func(conn net.Conn) error {
		var err error
		if features, err = greet(conn, constants.OTA_VERSION_2_0, response.SupportsCompression); err != nil {
			return err
		}
		if err := write(conn, response.AuthOK); err != nil {
			return err
		}
		got, _, _, err = receiveImage(conn, constants.OTA_VERSION_2_0)
		return err
	})

	c := connect(t, addr)
	if err := c.Upload(image, Options{Compress: true}); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("device: %v", err)
	}
	if !features.Compression() {
		t.Error("compression not advertised")
	}
	if len(got) >= len(image) {
		t.Errorf("sent %d bytes for a %d byte image", len(got), len(image))
	}
}

func TestUploadAuthenticates(t *testing.T) {
	for _, tc := range []struct {
		name    string
		legacy  bool
		request response.Code
		hasher  func() *networking.Digest
	}{
		{name: "sha256", request: response.RequestSHA256Auth, hasher: networking.NewSHA256},
		{name: "md5", legacy: true, request: response.RequestAuth, hasher: networking.NewMD5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const password = "hunter2"
			addr, done := device(t, func(conn net.Conn) error {
				features, err := greet(conn, constants.OTA_VERSION_2_0, response.HeaderOK)
				if err != nil {
					return err
				}
				if features.SHA256Auth() == tc.legacy {
					return fmt.Errorf("unexpected features 0x%02X", byte(features))
				}
				h := tc.hasher()
				if err := write(conn, tc.request); err != nil {
					return err
				}
				nonce := []byte(networking.HexDigest(h, []byte("seed")))
				if _, err := conn.Write(nonce); err != nil {
					return err
				}
				cnonce, err := read(conn, networking.HexLength(h))
				if err != nil {
					return err
				}
				result, err := read(conn, networking.HexLength(h))
				if err != nil {
					return err
				}
				if string(result) != networking.ChallengeResponse(h, password, nonce, cnonce) {
					return write(conn, response.ErrorAuthInvalid)
				}
				if err := write(conn, response.AuthOK); err != nil {
					return err
				}
				if _, err := read(conn, 4); err != nil {
					return err
				}
				return write(conn, response.ErrorPartitionNoSpace)
			})

			c := connect(t, addr)
			err := c.Upload(testImage(100), Options{Password: password, LegacyAuth: tc.legacy})
			if err := <-done; err != nil {
				t.Fatalf("device: %v", err)
			}
			var de *DeviceError
			if !errors.As(err, &de) {
				t.Fatalf("Upload error = %v, want DeviceError", err)
			}
			if de.Code != response.ErrorPartitionNoSpace || de.Step != "binary size" {
				t.Errorf("DeviceError = %+v", de)
			}
		})
	}
}

func TestUploadWrongPassword(t *testing.T) {
	addr, done := device(t, func(conn net.Conn) error {
		if _, err := greet(conn, constants.OTA_VERSION_2_0, response.HeaderOK); err != nil {
			return err
		}
		h := networking.NewSHA256()
		if err := write(conn, response.RequestSHA256Auth); err != nil {
			return err
		}
		if _, err := conn.Write([]byte(networking.HexDigest(h, []byte("seed")))); err != nil {
			return err
		}
		if _, err := read(conn, 2*networking.HexLength(h)); err != nil {
			return err
		}
		return write(conn, response.ErrorAuthInvalid)
	})

	c := connect(t, addr)
	err := c.Upload(testImage(10), Options{Password: "wrong"})
	if err := <-done; err != nil {
		t.Fatalf("device: %v", err)
	}
	var de *DeviceError
	if !errors.As(err, &de) || de.Code != response.ErrorAuthInvalid {
		t.Fatalf("Upload error = %v, want auth invalid", err)
	}
}

func TestUploadNeedsPassword(t *testing.T) {
	addr, done := device(t, func(conn net.Conn) error {
		if _, err := greet(conn, constants.OTA_VERSION_2_0, response.HeaderOK); err != nil {
			return err
		}
		return write(conn, response.RequestSHA256Auth)
	})

	c := connect(t, addr)
	err := c.Upload(testImage(10), Options{})
	if err := <-done; err != nil {
		t.Fatalf("device: %v", err)
	}
	if !errors.Is(err, ErrPasswordRequired) {
		t.Errorf("Upload error = %v, want %v", err, ErrPasswordRequired)
	}
}

func TestUploadRejectsUnknownVersion(t *testing.T) {
	addr, done := device(t, func(conn net.Conn) error {
		if _, err := read(conn, constants.MAGIC_LENGTH); err != nil {
			return err
		}
		_, err := conn.Write([]byte{byte(response.OK), 3})
		return err
	})

	c := connect(t, addr)
	err := c.Upload(testImage(10), Options{})
	if err := <-done; err != nil {
		t.Fatalf("device: %v", err)
	}
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Upload error = %v, want %v", err, ErrUnsupportedVersion)
	}
}

func TestUploadMagicRejected(t *testing.T) {
	addr, done := device(t, func(conn net.Conn) error {
		if _, err := read(conn, constants.MAGIC_LENGTH); err != nil {
			return err
		}
		return write(conn, response.ErrorMagic)
	})

	c := connect(t, addr)
	err := c.Upload(testImage(10), Options{})
	if err := <-done; err != nil {
		t.Fatalf("device: %v", err)
	}
	// The device sends a single byte before closing.
	if err == nil {
		t.Fatal("Upload succeeded against a rejecting device")
	}
}

func TestDeviceErrorDescribesCode(t *testing.T) {
	err := &DeviceError{Step: "MD5 checksum", Code: response.ErrorMD5Mismatch}
	want := "error MD5 checksum: " + response.Describe(response.ErrorMD5Mismatch)
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestConnectGivesUp(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Connect(ctx, addr, 0, 1); err == nil {
		t.Error("Connect to a closed port succeeded")
	}
}
