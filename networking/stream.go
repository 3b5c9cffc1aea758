package networking

import (
	"errors"
	"go_ota/constants"
	"io"
	"net"
	"os"
	"time"
)

// ErrWouldBlock is returned when a socket has no data (or no buffer space) right now
var ErrWouldBlock = errors.New("operation would block")

// TryRead reads whatever is available without waiting for more.
// A closed peer yields io.EOF, no data yet yields ErrWouldBlock.
func TryRead(conn net.Conn, buf []byte) (int, error) {
	if err := conn.SetReadDeadline(time.Now().Add(constants.SOCKET_POLL_INTERVAL)); err != nil {
		return 0, err
	}
	read, err := conn.Read(buf)
	if read > 0 {
		// Any error will be reported again by the next read.
		return read, nil
	}
	switch {
	case err == nil:
		return 0, ErrWouldBlock
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0, ErrWouldBlock
	case errors.Is(err, io.EOF):
		return 0, io.EOF
	}
	return 0, err
}

// TryWrite writes as much as the socket accepts without waiting
func TryWrite(conn net.Conn, buf []byte) (int, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(constants.SOCKET_POLL_INTERVAL)); err != nil {
		return 0, err
	}
	written, err := conn.Write(buf)
	if written > 0 {
		return written, nil
	}
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return 0, ErrWouldBlock
	}
	return 0, err
}
