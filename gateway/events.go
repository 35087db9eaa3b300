package gateway

import "time"

// eventKind enumerates everything that can wake the supervisor's event
// loop: external commands, inbound frames, timer ticks, and lifecycle
// notifications from the queue and the two transports.
type eventKind uint8

const (
	evLogin eventKind = iota
	evLogout
	evRestart
	evSetSpeaking
	evInboundFrame
	evControlError
	evControlClosed
	evQueueDone
	evHeartbeatTick
	evReconnectTick
	evCandidate
	evTransportTerminated
)

// event is one message on the supervisor's loop. gen ties connection-
// scoped events to the connection attempt that produced them, so a
// notification from a dead epoch can never act on a newer one.
type event struct {
	kind eventKind
	gen  uint64

	// evInboundFrame
	binary bool
	data   []byte

	// evControlError
	err error

	// evSetSpeaking
	speaking bool

	// evRestart
	fresh bool
	delay time.Duration

	// evCandidate
	address string
	port    uint16

	// evLogin
	reply chan error
}
