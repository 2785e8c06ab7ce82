package broker

// State is a broker lifecycle state.
type State int

const (
	// StateUnbound is the state of a new broker.
	StateUnbound State = iota

	// StateBound means both endpoints are bound and the relay can run.
	StateBound

	// StateRelaying means the relay loop is running.
	StateRelaying

	// StateClosed means the endpoints were released. It is terminal.
	StateClosed

	// StateAborted means binding failed and the relay never started. It
	// is terminal.
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome describes how a start attempt ended.
type Outcome int

const (
	// OutcomeStarted means both endpoints were bound.
	OutcomeStarted Outcome = iota

	// OutcomeAlreadyRunning means an endpoint is already in use, most
	// likely by another broker instance.
	OutcomeAlreadyRunning

	// OutcomeBindFailed means an endpoint couldn't be bound for any other
	// reason, e.g. a malformed address.
	OutcomeBindFailed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeStarted:
		return "started"
	case OutcomeAlreadyRunning:
		return "already running"
	case OutcomeBindFailed:
		return "bind failed"
	default:
		return "unknown"
	}
}

// Result is the result of a start attempt.
type Result struct {
	// Outcome is the start outcome.
	Outcome Outcome

	// Err is the bind error for every outcome but OutcomeStarted.
	Err error
}

// Started returns true if the broker was started.
func (r Result) Started() bool {
	return r.Outcome == OutcomeStarted
}
