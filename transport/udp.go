package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Listeners carries the callbacks a transport owner registers at dial
// time. Either callback may be nil.
type Listeners struct {
	// Candidate is invoked once per discovery exchange with the
	// externally reachable address and port of the local socket.
	Candidate func(address string, port uint16)

	// Terminated is invoked exactly once, after the socket is closed
	// and the receive loop has exited.
	Terminated func()
}

// UDPTransport is the data-plane connection for one voice session.
// It owns the UDP socket, runs the discovery exchange, and transmits
// encrypted audio once a session secret has been installed.
type UDPTransport struct {
	conn      net.PacketConn
	remote    net.Addr
	ssrc      uint32
	listeners Listeners

	mu        sync.Mutex
	secret    [32]byte
	secretSet bool
	sequence  uint16
	timestamp uint32

	ctx      context.Context
	cancel   context.CancelFunc
	doneOnce sync.Once
	done     chan struct{}
}

var (
	// ErrSessionNotStarted is returned by Send before a session secret
	// has been installed.
	ErrSessionNotStarted = errors.New("encrypted session not started")

	// ErrTransportClosed is returned by operations on a disconnected
	// transport.
	ErrTransportClosed = errors.New("transport closed")
)

// Dial opens a UDP socket to the voice server's data endpoint and
// starts the receive loop. The ssrc is the server-assigned stream
// identifier used in discovery and audio framing.
func Dial(address string, port uint16, ssrc uint32, listeners Listeners) (*UDPTransport, error) {
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data endpoint: %w", err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open data socket: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		conn:      conn,
		remote:    remote,
		ssrc:      ssrc,
		listeners: listeners,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dial",
		"remote":   remote.String(),
		"local":    conn.LocalAddr().String(),
		"ssrc":     ssrc,
	}).Info("Data transport opened")

	go t.receiveLoop()

	return t, nil
}

// Discover sends an IP discovery request to the voice server. The
// discovered candidate is delivered asynchronously through the
// Candidate listener when the response arrives.
func (t *UDPTransport) Discover() error {
	select {
	case <-t.ctx.Done():
		return ErrTransportClosed
	default:
	}

	packet := buildDiscoveryRequest(t.ssrc)
	if _, err := t.conn.WriteTo(packet, t.remote); err != nil {
		return fmt.Errorf("failed to send discovery request: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Discover",
		"ssrc":     t.ssrc,
	}).Debug("Discovery request sent")

	return nil
}

// StartEncryptedSession installs the session secret and arms the
// encrypted send path. Audio may not be transmitted before this call.
func (t *UDPTransport) StartEncryptedSession(secret [32]byte) error {
	select {
	case <-t.ctx.Done():
		return ErrTransportClosed
	default:
	}

	t.mu.Lock()
	t.secret = secret
	t.secretSet = true
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "StartEncryptedSession",
		"ssrc":     t.ssrc,
	}).Info("Encrypted audio session armed")

	return nil
}

// Disconnect closes the socket and stops the receive loop. The
// Terminated listener fires once the loop has fully exited. Safe to
// call more than once.
func (t *UDPTransport) Disconnect() error {
	t.cancel()
	return t.conn.Close()
}

// Done returns a channel closed once the transport has fully
// terminated.
func (t *UDPTransport) Done() <-chan struct{} {
	return t.done
}

// LocalAddr returns the local address of the data socket.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// receiveLoop reads datagrams until the socket closes. Discovery
// responses are parsed and delivered; anything else is inbound audio
// or keepalive traffic, which this layer ignores.
func (t *UDPTransport) receiveLoop() {
	defer t.terminate()

	buffer := make([]byte, 2048)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := t.conn.ReadFrom(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function": "receiveLoop",
				"error":    err.Error(),
			}).Debug("Data socket read failed, terminating")
			return
		}

		t.handleDatagram(buffer[:n])
	}
}

// handleDatagram inspects one inbound datagram for a discovery
// response.
func (t *UDPTransport) handleDatagram(data []byte) {
	candidate, err := parseDiscoveryResponse(data, t.ssrc)
	if err != nil {
		// Not a discovery response for this stream.
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleDatagram",
		"address":  candidate.Address,
		"port":     candidate.Port,
	}).Info("Discovered local candidate")

	if t.listeners.Candidate != nil {
		t.listeners.Candidate(candidate.Address, candidate.Port)
	}
}

// terminate fires the Terminated listener and closes Done exactly once.
func (t *UDPTransport) terminate() {
	t.doneOnce.Do(func() {
		t.cancel()
		_ = t.conn.Close()
		close(t.done)
		if t.listeners.Terminated != nil {
			t.listeners.Terminated()
		}
		logrus.WithFields(logrus.Fields{
			"function": "terminate",
			"ssrc":     t.ssrc,
		}).Info("Data transport terminated")
	})
}
