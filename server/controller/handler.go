package server

import (
	"errors"
	"fmt"
	"go_ota/constants"
	"go_ota/fileio"
	"go_ota/networking"
	"go_ota/networking/response"
	"io"
	"time"

	"github.com/golang/glog"
)

// codeError carries the response code reported to the client for a failed step
type codeError struct {
	code response.Code
	err  error
}

func (e *codeError) Error() string {
	return fmt.Sprintf("%v (%v)", e.err, e.code)
}

func (e *codeError) Unwrap() error {
	return e.err
}

func withCode(code response.Code, err error) error {
	return &codeError{code: code, err: err}
}

// codeOf picks the byte sent back to the client for err
func codeOf(err error) response.Code {
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, errPeerClosed) {
		return response.ErrorConnectionClosed
	}
	return response.ErrorUnknown
}

// transfer is the state of one data stage, dropped when it ends
type transfer struct {
	backend       fileio.Backend
	updateStarted bool
	features      networking.Features
	size          uint32
	total         uint64
	acknowledged  uint64
	buf           [constants.RECEIVE_BUFFER_SIZE]byte
}

// handleData runs the whole update once the magic has been validated.
// It blocks until the update is installed, fails or times out.
func (s *Server) handleData() {
	t := &transfer{backend: s.backends.NewBackend()}
	if err := s.receiveUpdate(t); err != nil {
		glog.Warningf("Update failed: %v", err)
		s.fail(t, codeOf(err))
		return
	}

	s.cleanupConnection()
	s.rt.Delay(10 * time.Millisecond)
	glog.Info("Update complete")
	s.status.ClearWarning()
	s.notify(response.StateCompleted, 100, response.OK)
	s.rt.Delay(100 * time.Millisecond)
	s.rt.SafeReboot()
}

// fail is the single error exit of the data stage
func (s *Server) fail(t *transfer, code response.Code) {
	// Best effort, the client may be gone or not reading.
	if s.client != nil {
		networking.TryWrite(s.client, []byte{byte(code)})
	}
	s.cleanupConnection()

	if t.updateStarted {
		t.backend.Abort()
	}

	s.status.MomentaryError("onerror", constants.ERROR_STATUS_DURATION_MS)
	s.notify(response.StateError, 0, code)
}

func (s *Server) receiveUpdate(t *transfer) error {
	// Send OK and version.
	if err := s.writeAll([]byte{byte(response.OK), s.cfg.Version}); err != nil {
		return fmt.Errorf("version greeting: %w", err)
	}

	if err := s.readFeatures(t); err != nil {
		return err
	}

	ack := response.HeaderOK
	if t.features.Compression() && t.backend.SupportsCompression() {
		ack = response.SupportsCompression
	}
	if err := s.writeByte(byte(ack)); err != nil {
		return fmt.Errorf("header ack: %w", err)
	}
	t.backend.SetCompressed(ack == response.SupportsCompression)

	if err := s.authenticate(t); err != nil {
		return err
	}
	if err := s.writeByte(byte(response.AuthOK)); err != nil {
		return fmt.Errorf("auth ack: %w", err)
	}

	if err := s.readSize(t); err != nil {
		return err
	}

	// Only now that the client passed authentication and is actually sending
	// an image does the update become visible. Port scanners stop before this.
	s.logStart("update")
	s.status.SetWarning()
	s.notify(response.StateStarted, 0, response.OK)

	// This may block for a while as flash is prepared.
	if code := t.backend.Begin(t.size); code != response.OK {
		return withCode(code, errors.New("prepare storage"))
	}
	t.updateStarted = true

	if err := s.writeByte(byte(response.UpdatePrepareOK)); err != nil {
		return fmt.Errorf("prepare ack: %w", err)
	}

	if err := s.readChecksum(t); err != nil {
		return err
	}
	if err := s.writeByte(byte(response.BinMD5OK)); err != nil {
		return fmt.Errorf("checksum ack: %w", err)
	}

	if err := s.receivePayload(t); err != nil {
		return err
	}

	if err := s.writeByte(byte(response.ReceiveOK)); err != nil {
		return fmt.Errorf("receive ack: %w", err)
	}

	if code := t.backend.End(); code != response.OK {
		glog.Warningf("Error ending update! code: %v", code)
		return withCode(code, errors.New("end update"))
	}

	if err := s.writeByte(byte(response.UpdateEndOK)); err != nil {
		return fmt.Errorf("end ack: %w", err)
	}

	// The image is committed, a missing final ack does not undo that.
	final := t.buf[:1]
	if err := s.readAll(final); err != nil || final[0] != byte(response.OK) {
		s.logReadError("ack")
	}
	return nil
}

func (s *Server) readFeatures(t *transfer) error {
	buf := t.buf[:1]
	if err := s.readAll(buf); err != nil {
		s.logReadError("features")
		return fmt.Errorf("features: %w", err)
	}
	t.features = networking.Features(buf[0])
	glog.V(2).Infof("Features: 0x%02X", buf[0])
	return nil
}

func (s *Server) readSize(t *transfer) error {
	buf := t.buf[:4]
	if err := s.readAll(buf); err != nil {
		s.logReadError("size")
		return fmt.Errorf("size: %w", err)
	}
	size, err := networking.DecodeSize(buf)
	if err != nil {
		return err
	}
	t.size = size
	glog.V(2).Infof("Size is %d bytes", t.size)
	return nil
}

// readChecksum forwards the legacy MD5 field, whatever hash authenticated the session
func (s *Server) readChecksum(t *transfer) error {
	buf := t.buf[:constants.MD5_HEX_LENGTH]
	if err := s.readAll(buf); err != nil {
		s.logReadError("MD5 checksum")
		return fmt.Errorf("checksum: %w", err)
	}
	md5hex := string(buf)
	glog.V(2).Infof("Update: Binary MD5 is %s", md5hex)
	if code := t.backend.SetExpectedChecksum(md5hex); code != response.OK {
		return withCode(code, errors.New("expected checksum rejected"))
	}
	return nil
}

// receivePayload streams exactly size bytes into the backend
func (s *Server) receivePayload(t *transfer) error {
	var lastProgress uint32
	lastData := s.rt.Millis()
	for t.total < uint64(t.size) {
		requested := min(uint64(len(t.buf)), uint64(t.size)-t.total)
		read, err := networking.TryRead(s.client, t.buf[:requested])
		if errors.Is(err, networking.ErrWouldBlock) {
			if s.rt.Millis()-lastData > s.cfg.DataTimeoutMS {
				glog.Warningf("Timeout reading payload at %d of %d bytes", t.total, t.size)
				return errReadTimeout
			}
			s.rt.Yield()
			continue
		}
		if errors.Is(err, io.EOF) {
			glog.Warning("Remote closed connection")
			return errPeerClosed
		}
		if err != nil {
			glog.Warningf("Read error: %v", err)
			return fmt.Errorf("payload: %w", err)
		}
		lastData = s.rt.Millis()

		if code := t.backend.Write(t.buf[:read]); code != response.OK {
			glog.Warningf("Flash write error, code: %v", code)
			return withCode(code, errors.New("write payload"))
		}
		t.total += uint64(read)

		if s.cfg.Version >= constants.OTA_VERSION_2_0 {
			if err := s.acknowledgeChunks(t); err != nil {
				return err
			}
		}

		now := s.rt.Millis()
		if now-lastProgress > constants.PROGRESS_INTERVAL_MS {
			lastProgress = now
			percentage := float32(t.total) * 100 / float32(t.size)
			glog.Infof("Progress: %0.1f%%", percentage)
			s.notify(response.StateInProgress, percentage, response.OK)
			// Feed watchdog and give other tasks a chance to run.
			s.rt.Yield()
		}
	}
	return nil
}

// acknowledgeChunks sends one CHUNK_OK per completed block, plus one for a trailing partial block
func (s *Server) acknowledgeChunks(t *transfer) error {
	size := uint64(t.size)
	for t.acknowledged+constants.OTA_BLOCK_SIZE <= t.total || (t.total == size && t.acknowledged < size) {
		if err := s.writeByte(byte(response.ChunkOK)); err != nil {
			return fmt.Errorf("chunk ack: %w", err)
		}
		t.acknowledged += constants.OTA_BLOCK_SIZE
	}
	return nil
}
