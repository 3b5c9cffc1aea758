package networking

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"
)

func TestTryReadWouldBlock(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	buf := make([]byte, 4)
	if _, err := TryRead(server, buf); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TryRead on idle pipe: err = %v, want ErrWouldBlock", err)
	}

	go client.Write([]byte{1, 2})
	var got []byte
	for len(got) < 2 {
		n, err := TryRead(server, buf)
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		if err != nil {
			t.Fatalf("TryRead: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("TryRead read % X", got)
	}
}

// tcpPair returns both ends of a loopback TCP connection
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server, err := l.Accept()
	if err != nil {
		client.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestTryReadPeerClosed(t *testing.T) {
	server, client := tcpPair(t)
	client.Write([]byte{7})
	client.Close()

	buf := make([]byte, 4)
	var got []byte
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("peer close never reported")
		}
		n, err := TryRead(server, buf)
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("TryRead after close: err = %v, want io.EOF", err)
		}
		got = append(got, buf[:n]...)
	}
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("data sent before close = % X, want 07", got)
	}
}

func TestTryWriteWouldBlock(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// Nobody reads from the pipe, so the write cannot complete.
	if _, err := TryWrite(server, []byte{1}); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("TryWrite without reader: err = %v, want ErrWouldBlock", err)
	}
}
