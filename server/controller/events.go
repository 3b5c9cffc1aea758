package server

import "go_ota/networking/response"

// StateListener receives update lifecycle events. progress is a percentage,
// code is set for StateError.
type StateListener func(state response.State, progress float32, code response.Code)

// AddStateListener registers l for every following update
func (s *Server) AddStateListener(l StateListener) {
	s.listeners = append(s.listeners, l)
}

func (s *Server) notify(state response.State, progress float32, code response.Code) {
	for _, l := range s.listeners {
		l(state, progress, code)
	}
}
