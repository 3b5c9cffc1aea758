package server

import (
	"bytes"
	"go_ota/constants"
	"go_ota/fileio"
	"go_ota/networking/response"
	"go_ota/server/scheduler"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type event struct {
	State    response.State
	Progress float32
	Code     response.Code
}

type fakeBackend struct {
	mu          sync.Mutex
	beginCode   response.Code
	writeCode   response.Code
	endCode     response.Code
	compression bool
	compressed  bool

	begins, ends, aborts int
	size                 uint32
	checksum             string
	data                 bytes.Buffer
}

func (b *fakeBackend) Begin(size uint32) response.Code {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.begins++
	b.size = size
	return b.beginCode
}

func (b *fakeBackend) SetExpectedChecksum(md5hex string) response.Code {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checksum = md5hex
	return response.OK
}

func (b *fakeBackend) Write(data []byte) response.Code {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeCode != response.OK {
		return b.writeCode
	}
	b.data.Write(data)
	return response.OK
}

func (b *fakeBackend) End() response.Code {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ends++
	return b.endCode
}

func (b *fakeBackend) Abort() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborts++
}

func (b *fakeBackend) SupportsCompression() bool {
	return b.compression
}

func (b *fakeBackend) SetCompressed(compressed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compressed = compressed
}

func (b *fakeBackend) negotiated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compressed
}

func (b *fakeBackend) counts() (begins, ends, aborts int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.begins, b.ends, b.aborts
}

func (b *fakeBackend) received() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.data.Bytes())
}

func (b *fakeBackend) expected() (uint32, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size, b.checksum
}

type fakeFactory struct {
	backend *fakeBackend
	created atomic.Int32
}

func (f *fakeFactory) NewBackend() fileio.Backend {
	f.created.Add(1)
	return f.backend
}

type recordingRebooter struct {
	calls atomic.Int32
}

func (r *recordingRebooter) Reboot() error {
	r.calls.Add(1)
	return nil
}

// harness runs a Server on loopback, ticked by its own goroutine like the device loop
type harness struct {
	t        *testing.T
	cfg      Config
	app      *scheduler.App
	srv      *Server
	status   *scheduler.Status
	backend  *fakeBackend
	factory  *fakeFactory
	rebooter *recordingRebooter

	mu     sync.Mutex
	events []event

	stop    chan struct{}
	stopped chan struct{}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func newHarness(t *testing.T, cfg Config, backend *fakeBackend) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		cfg:      cfg,
		backend:  backend,
		factory:  &fakeFactory{backend: backend},
		rebooter: &recordingRebooter{},
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	h.app = scheduler.New(scheduler.NewSystemClock(), nil, h.rebooter)
	h.status = h.app.NewStatus("ota")
	h.srv = NewServer(cfg, h.app, h.status, h.factory)
	h.srv.AddStateListener(func(state response.State, progress float32, code response.Code) {
		if state == response.StateInProgress {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, event{State: state, Progress: progress, Code: code})
	})
	h.app.Register(h.srv, h.status)
	h.app.Setup()
	if h.status.IsFailed() {
		t.Fatal("server setup failed")
	}

	go func() {
		defer close(h.stopped)
		for {
			select {
			case <-h.stop:
				return
			default:
			}
			if !h.app.Rebooting() {
				h.app.Tick()
			}
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		close(h.stop)
		<-h.stopped
		h.srv.Close()
	})
	return h
}

func (h *harness) dial() net.Conn {
	h.t.Helper()
	conn, err := net.Dial("tcp", h.srv.Addr().String())
	if err != nil {
		h.t.Fatal(err)
	}
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	h.t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) recorded() []event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]event(nil), h.events...)
}

// finished reports whether the last session produced its terminal event
func (h *harness) finished() bool {
	events := h.recorded()
	if len(events) == 0 {
		return false
	}
	last := events[len(events)-1].State
	return last == response.StateCompleted || last == response.StateError
}

func (h *harness) rebooted() bool {
	return h.rebooter.calls.Load() > 0
}

func (h *harness) waitFor(what string, cond func() bool) {
	h.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func send(t *testing.T, conn net.Conn, data []byte) {
	t.Helper()
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readByte(t *testing.T, conn net.Conn) byte {
	t.Helper()
	buf := make([]byte, 1)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[0]
}

func expect(t *testing.T, conn net.Conn, want ...response.Code) {
	t.Helper()
	for _, code := range want {
		if got := response.Code(readByte(t, conn)); got != code {
			t.Fatalf("got %v, want %v", got, code)
		}
	}
}

// expectClosed checks the server dropped the connection without sending anything more
func expectClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if err == nil {
		t.Fatalf("read %d unexpected bytes: % X", n, buf[:n])
	}
	if err != io.EOF {
		t.Logf("connection ended with %v", err)
	}
}

// handshake sends magic and features and returns the header ack
func handshake(t *testing.T, conn net.Conn, version uint8, features byte) response.Code {
	t.Helper()
	send(t, conn, constants.MAGIC_BYTES[:])
	greeting := make([]byte, 2)
	if _, err := io.ReadFull(conn, greeting); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if greeting[0] != byte(response.OK) || greeting[1] != version {
		t.Fatalf("greeting = % X, want 00 %02X", greeting, version)
	}
	send(t, conn, []byte{features})
	return response.Code(readByte(t, conn))
}

func testImage(size int) []byte {
	image := make([]byte, size)
	for i := range image {
		image[i] = byte(i*31 + i/127)
	}
	return image
}
