package gateway

// connState is the supervisor's coarse connection state.
type connState uint8

const (
	// StateInactive: no control connection.
	StateInactive connState = iota
	// StateConnecting: websocket upgrade requested.
	StateConnecting
	// StateActive: control connection established; handshake phases
	// and steady state both live here.
	StateActive
	// StateShuttingDown: terminal intent set, waiting for both
	// transports to finish.
	StateShuttingDown
)

// handshakePhase distinguishes the sub-states within StateActive.
type handshakePhase uint8

const (
	phaseAwaitingHello handshakePhase = iota
	phaseAwaitingReady
	phaseAwaitingSessionDescription
	phaseOperational
)

// joinState tracks which of the two independently-failing sides have
// reported completion. The supervisor may only stop once both sides
// are done, and may only start a new login once the previous epoch has
// fully drained.
type joinState uint8

const (
	joinNeitherDone joinState = iota
	joinControlDone
	joinDataDone
	joinBothDone
)

func (j joinState) withControlDone() joinState {
	switch j {
	case joinNeitherDone:
		return joinControlDone
	case joinDataDone:
		return joinBothDone
	}
	return j
}

func (j joinState) withDataDone() joinState {
	switch j {
	case joinNeitherDone:
		return joinDataDone
	case joinControlDone:
		return joinBothDone
	}
	return j
}

func (j joinState) String() string {
	switch j {
	case joinNeitherDone:
		return "neitherDone"
	case joinControlDone:
		return "controlDone"
	case joinDataDone:
		return "dataDone"
	case joinBothDone:
		return "bothDone"
	}
	return "invalid"
}
