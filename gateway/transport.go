package gateway

import "github.com/opd-ai/voicegate/transport"

// DataTransport is the slice of the UDP data plane the supervisor
// consumes. The transport fails independently of the control channel;
// its termination is reported through the listener registered at
// creation time.
type DataTransport interface {
	// Discover runs the IP discovery exchange. The resulting candidate
	// is delivered through the candidate listener.
	Discover() error

	// StartEncryptedSession arms encrypted audio transmission with the
	// secret delivered in the session description.
	StartEncryptedSession(secret [32]byte) error

	// Disconnect closes the data socket. The terminated listener fires
	// once teardown finishes.
	Disconnect() error
}

// TransportFactory creates a data transport bound to the server's data
// endpoint and the assigned ssrc. Injectable for tests.
type TransportFactory func(address string, port uint16, ssrc uint32, onCandidate func(address string, port uint16), onTerminated func()) (DataTransport, error)

// dialDataTransport is the production factory.
func dialDataTransport(address string, port uint16, ssrc uint32, onCandidate func(string, uint16), onTerminated func()) (DataTransport, error) {
	return transport.Dial(address, port, ssrc, transport.Listeners{
		Candidate:  onCandidate,
		Terminated: onTerminated,
	})
}
