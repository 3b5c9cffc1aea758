package response

// State is reported to lifecycle listeners while an update runs
type State uint8

const (
	StateCompleted State = iota
	StateStarted
	StateInProgress
	StateError
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateStarted:
		return "started"
	case StateInProgress:
		return "in progress"
	case StateError:
		return "error"
	}
	return "unknown"
}
