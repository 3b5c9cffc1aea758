package server

import (
	"errors"
	"fmt"
	"go_ota/networking"
	"io"

	"github.com/golang/glog"
)

var (
	errReadTimeout  = errors.New("read timed out")
	errWriteTimeout = errors.New("write timed out")
	errPeerClosed   = errors.New("remote closed connection")
	errNoClient     = errors.New("no active connection")
)

// readAll fills buf, yielding between attempts. The data timeout counts from this call.
func (s *Server) readAll(buf []byte) error {
	if s.client == nil {
		return errNoClient
	}
	start := s.rt.Millis()
	at := 0
	for at < len(buf) {
		if s.rt.Millis()-start > s.cfg.DataTimeoutMS {
			glog.Warningf("Timeout reading %d bytes", len(buf))
			return errReadTimeout
		}

		read, err := networking.TryRead(s.client, buf[at:])
		switch {
		case errors.Is(err, networking.ErrWouldBlock):
		case errors.Is(err, io.EOF):
			glog.Warning("Remote closed connection")
			return errPeerClosed
		case err != nil:
			glog.Warningf("Error reading %d bytes: %v", len(buf), err)
			return fmt.Errorf("read %d bytes: %w", len(buf), err)
		default:
			at += read
		}
		s.rt.Yield()
	}
	return nil
}

// writeAll sends buf, yielding between attempts. The data timeout counts from this call.
func (s *Server) writeAll(buf []byte) error {
	if s.client == nil {
		return errNoClient
	}
	start := s.rt.Millis()
	at := 0
	for at < len(buf) {
		if s.rt.Millis()-start > s.cfg.DataTimeoutMS {
			glog.Warningf("Timeout writing %d bytes", len(buf))
			return errWriteTimeout
		}

		written, err := networking.TryWrite(s.client, buf[at:])
		switch {
		case errors.Is(err, networking.ErrWouldBlock):
		case err != nil:
			glog.Warningf("Error writing %d bytes: %v", len(buf), err)
			return fmt.Errorf("write %d bytes: %w", len(buf), err)
		default:
			at += written
		}
		s.rt.Yield()
	}
	return nil
}

func (s *Server) writeByte(b byte) error {
	return s.writeAll([]byte{b})
}

func (s *Server) logReadError(what string) {
	glog.Warningf("Read %s failed", what)
}
