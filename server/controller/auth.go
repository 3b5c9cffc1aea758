package server

import (
	"errors"
	"go_ota/networking"
	"go_ota/networking/response"
	"io"

	"github.com/golang/glog"
)

var (
	errAuthFailed     = errors.New("authentication failed")
	errClientNoSHA256 = errors.New("client does not support SHA256 auth")
	errNoAuthHash     = errors.New("no authentication hash available")
)

// authenticate runs the challenge-response exchange when a password is configured
func (s *Server) authenticate(t *transfer) error {
	if s.cfg.Password == "" {
		return nil
	}
	hasher, request, err := s.selectHasher(t.features)
	if err != nil {
		return withCode(response.ErrorAuthInvalid, err)
	}
	if !s.performHashAuth(hasher, request) {
		return withCode(response.ErrorAuthInvalid, errAuthFailed)
	}
	return nil
}

// selectHasher prefers SHA-256 whenever the platform and the client both have it
func (s *Server) selectHasher(features networking.Features) (networking.Hasher, response.Code, error) {
	if s.cfg.SHA256Supported {
		if features.SHA256Auth() {
			return networking.NewSHA256(), response.RequestSHA256Auth, nil
		}
		if s.cfg.MD5Supported && s.cfg.legacyMD5Allowed() {
			glog.Warning("Using MD5 auth for compatibility (deprecated)")
			return networking.NewMD5(), response.RequestAuth, nil
		}
		glog.Warning("Client requires SHA256")
		return nil, 0, errClientNoSHA256
	}
	if s.cfg.MD5Supported {
		// Not a downgrade, the platform has nothing stronger.
		return networking.NewMD5(), response.RequestAuth, nil
	}
	return nil, 0, errNoAuthHash
}

// performHashAuth sends a nonce and checks the client's digest of password, nonce and cnonce
func (s *Server) performHashAuth(h networking.Hasher, request response.Code) bool {
	hexSize := networking.HexLength(h)
	nonceLen := networking.NonceLength(h)
	name := h.Name()

	if err := s.writeByte(byte(request)); err != nil {
		s.logAuthWarning("Writing auth request", name)
		return false
	}

	h.Init()
	seed := make([]byte, nonceLen)
	if _, err := io.ReadFull(s.cfg.entropy(), seed); err != nil {
		s.logAuthWarning("Random bytes generation", name)
		return false
	}
	h.Add(seed)
	h.Calculate()

	nonce := []byte(h.Hex())
	glog.V(2).Infof("Auth: %s Nonce is %s", name, nonce)
	if err := s.writeAll(nonce); err != nil {
		s.logAuthWarning("Writing nonce", name)
		return false
	}

	// Challenge is password + nonce + cnonce.
	h.Init()
	h.Add([]byte(s.cfg.Password))
	h.Add(nonce)

	cnonce := make([]byte, hexSize)
	if err := s.readAll(cnonce); err != nil {
		s.logAuthWarning("Reading cnonce", name)
		return false
	}
	glog.V(2).Infof("Auth: %s CNonce is %s", name, cnonce)

	h.Add(cnonce)
	h.Calculate()
	glog.V(2).Infof("Auth: %s Result is %s", name, h.Hex())

	resp := make([]byte, hexSize)
	if err := s.readAll(resp); err != nil {
		s.logAuthWarning("Reading response", name)
		return false
	}
	glog.V(2).Infof("Auth: %s Response is %s", name, resp)

	if !h.EqualsHex(resp) {
		s.logAuthWarning("Password mismatch", name)
		return false
	}
	return true
}

func (s *Server) logAuthWarning(action, hashName string) {
	glog.Warningf("Auth: %s %s failed", action, hashName)
}
