package server

import (
	"context"
	"errors"
	"fmt"
	"go_ota/constants"
	"go_ota/fileio"
	"go_ota/networking"
	"go_ota/networking/response"
	"go_ota/server/scheduler"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/ipv4"
)

// Runtime is what the update server needs from the cooperative run loop
type Runtime interface {
	// LoopStartTime is the millisecond clock sampled at the start of this tick.
	LoopStartTime() uint32
	Millis() uint32
	// Yield feeds the watchdog and lets other work run.
	Yield()
	Delay(d time.Duration)
	SafeReboot()
}

// Server accepts one update client at a time and installs the image it sends
type Server struct {
	cfg      Config
	rt       Runtime
	status   *scheduler.Status
	backends fileio.BackendFactory

	listener          *net.TCPListener
	client            *net.TCPConn
	clientConnectTime uint32
	magicBuf          [constants.MAGIC_LENGTH]byte
	magicBufPos       int

	listeners []StateListener
}

// NewServer creates the update server. Call Setup before the first Loop.
func NewServer(cfg Config, rt Runtime, status *scheduler.Status, backends fileio.BackendFactory) *Server {
	return &Server{
		cfg:      cfg,
		rt:       rt,
		status:   status,
		backends: backends,
	}
}

func (s *Server) Name() string {
	return "ota"
}

// Setup binds the listening socket. Any failure here is permanent.
func (s *Server) Setup() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	lc := net.ListenConfig{Control: listenControl}
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		s.logSocketError("bind", err)
		return fmt.Errorf("could not bind listening socket on %s: %w", addr, err)
	}
	tl, ok := l.(*net.TCPListener)
	if !ok {
		l.Close()
		return errors.New("listener is not a TCP listener")
	}
	s.listener = tl
	s.DumpConfig()
	return nil
}

// DumpConfig logs the effective configuration
func (s *Server) DumpConfig() {
	glog.Infof("Over-The-Air updates:\n  Address: %s\n  Version: %d", s.Addr(), s.cfg.Version)
	if s.cfg.Password != "" {
		glog.Info("  Password configured")
	}
}

// Addr returns the bound listening address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close releases the listener and any active connection
func (s *Server) Close() error {
	if s.client != nil {
		s.cleanupConnection()
	}
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Loop is called every tick. Nothing happens unless a client is connected or waiting.
func (s *Server) Loop() {
	if s.listener == nil {
		return
	}
	if s.client == nil {
		conn := s.pollAccept()
		if conn == nil {
			return
		}
		if !s.configureClient(conn) {
			return
		}
	}
	s.handleHandshake()
}

// pollAccept accepts one pending connection if there is one
func (s *Server) pollAccept() *net.TCPConn {
	if err := s.listener.SetDeadline(time.Now().Add(constants.SOCKET_POLL_INTERVAL)); err != nil {
		s.logSocketError("deadline", err)
		return nil
	}
	conn, err := s.listener.AcceptTCP()
	if err != nil {
		if !errors.Is(err, os.ErrDeadlineExceeded) {
			s.logSocketError("accept", err)
		}
		return nil
	}
	return conn
}

func (s *Server) configureClient(conn *net.TCPConn) bool {
	s.client = conn
	// Set TCP_NODELAY to always immediately send.
	if err := conn.SetNoDelay(true); err != nil {
		s.logSocketError("nodelay", err)
		s.cleanupConnection()
		return false
	}
	if s.cfg.DSCP > 0 {
		if err := ipv4.NewConn(conn).SetTOS(s.cfg.DSCP); err != nil {
			s.logSocketError("tos", err)
			s.cleanupConnection()
			return false
		}
	}
	s.logStart("handshake")
	s.clientConnectTime = s.rt.LoopStartTime()
	s.magicBufPos = 0
	return true
}

// handleHandshake collects the magic bytes without blocking, then runs the transfer
func (s *Server) handleHandshake() {
	now := s.rt.LoopStartTime()
	if now-s.clientConnectTime > s.cfg.HandshakeTimeoutMS {
		glog.Warning("Handshake timeout")
		s.cleanupConnection()
		return
	}

	if s.magicBufPos < constants.MAGIC_LENGTH {
		read, err := networking.TryRead(s.client, s.magicBuf[s.magicBufPos:])
		if errors.Is(err, networking.ErrWouldBlock) {
			// No data yet, try again next loop.
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				glog.Warning("Remote closed during handshake")
			} else {
				s.logSocketError("reading magic bytes", err)
			}
			s.cleanupConnection()
			return
		}
		s.magicBufPos += read
	}

	if s.magicBufPos == constants.MAGIC_LENGTH {
		if !networking.MatchMagic(s.magicBuf[:]) {
			glog.Warningf("Magic bytes mismatch! % X", s.magicBuf)
			// Best effort, the connection is dropped either way.
			networking.TryWrite(s.client, []byte{byte(response.ErrorMagic)})
			s.cleanupConnection()
			return
		}
		s.handleData()
	}
}

func (s *Server) cleanupConnection() {
	if s.client != nil {
		s.client.Close()
	}
	s.client = nil
	s.clientConnectTime = 0
	s.magicBufPos = 0
}

func (s *Server) logSocketError(what string, err error) {
	glog.Warningf("Socket %s: %v", what, err)
}

func (s *Server) logStart(phase string) {
	glog.V(1).Infof("Starting %s from %s", phase, s.client.RemoteAddr())
}
