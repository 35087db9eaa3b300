package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opd-ai/voicegate/protocol"
)

// fakeSocket is a scripted control socket. Tests push inbound frames
// and observe outbound writes.
type fakeSocket struct {
	inbound chan fakeInbound
	writes  chan []byte
	closed  chan struct{}
	once    sync.Once
}

type fakeInbound struct {
	msgType int
	data    []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan fakeInbound, 16),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case in := <-s.inbound:
		return in.msgType, in.data, nil
	case <-s.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (s *fakeSocket) WriteMessage(msgType int, data []byte) error {
	select {
	case s.writes <- data:
		return nil
	case <-s.closed:
		return errors.New("use of closed connection")
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// deliver pushes one inbound text frame.
func (s *fakeSocket) deliver(t *testing.T, raw string) {
	t.Helper()
	select {
	case s.inbound <- fakeInbound{msgType: websocket.TextMessage, data: []byte(raw)}:
	case <-time.After(time.Second):
		t.Fatal("Timed out delivering inbound frame")
	}
}

// nextFrame waits for the next outbound frame and decodes it.
func (s *fakeSocket) nextFrame(t *testing.T) *protocol.Frame {
	t.Helper()
	select {
	case data := <-s.writes:
		frame, err := protocol.Unmarshal(data, false)
		if err != nil {
			t.Fatalf("Failed to decode outbound frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for outbound frame")
		return nil
	}
}

// fakeDataTransport records supervisor calls. Discover answers with a
// canned candidate; Disconnect fires the terminated listener, both
// asynchronously like the real transport.
type fakeDataTransport struct {
	candidate     protocol.SelectProtocolData
	onCandidate   func(string, uint16)
	onTerminated  func()
	discoverCount atomic.Int32
	starts        chan [32]byte
	once          sync.Once
}

func (f *fakeDataTransport) Discover() error {
	f.discoverCount.Add(1)
	go f.onCandidate(f.candidate.Address, f.candidate.Port)
	return nil
}

func (f *fakeDataTransport) StartEncryptedSession(secret [32]byte) error {
	f.starts <- secret
	return nil
}

func (f *fakeDataTransport) Disconnect() error {
	f.terminate()
	return nil
}

func (f *fakeDataTransport) terminate() {
	f.once.Do(func() { go f.onTerminated() })
}

// harness wires a Manager to scripted fakes. Every dial produces a new
// fakeSocket; every transport start produces a new fakeDataTransport.
type harness struct {
	m          *Manager
	sockets    chan *fakeSocket
	transports chan *fakeDataTransport
	dialErr    error
	dialMu     sync.Mutex
}

type transportDial struct {
	address string
	port    uint16
	ssrc    uint32
}

func newHarness(t *testing.T) (*harness, chan transportDial) {
	t.Helper()

	h := &harness{
		sockets:    make(chan *fakeSocket, 8),
		transports: make(chan *fakeDataTransport, 8),
	}
	dials := make(chan transportDial, 8)

	m, err := NewManager(Session{
		ServerID:  "41771983423143937",
		UserID:    "104694319306248192",
		SessionID: "test_session",
		Token:     "test_token",
		Endpoint:  "voice.example.com",
	})
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	m.dial = func(url string) (controlSocket, error) {
		h.dialMu.Lock()
		derr := h.dialErr
		h.dialMu.Unlock()
		if derr != nil {
			return nil, derr
		}
		sock := newFakeSocket()
		h.sockets <- sock
		return sock, nil
	}

	m.newTransport = func(address string, port uint16, ssrc uint32, onCandidate func(string, uint16), onTerminated func()) (DataTransport, error) {
		dials <- transportDial{address: address, port: port, ssrc: ssrc}
		tr := &fakeDataTransport{
			candidate:    protocol.SelectProtocolData{Address: "10.0.0.5", Port: 4000},
			onCandidate:  onCandidate,
			onTerminated: onTerminated,
			starts:       make(chan [32]byte, 4),
		}
		h.transports <- tr
		return tr, nil
	}

	h.m = m
	t.Cleanup(func() {
		m.Logout()
		select {
		case <-m.Done():
		case <-time.After(5 * time.Second):
			t.Error("Manager failed to stop during cleanup")
		}
	})

	return h, dials
}

func (h *harness) setDialErr(err error) {
	h.dialMu.Lock()
	h.dialErr = err
	h.dialMu.Unlock()
}

// currentSocket waits for the socket of the most recent dial.
func (h *harness) currentSocket(t *testing.T) *fakeSocket {
	t.Helper()
	select {
	case sock := <-h.sockets:
		return sock
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for control dial")
		return nil
	}
}

// currentTransport waits for the transport of the most recent Ready.
func (h *harness) currentTransport(t *testing.T) *fakeDataTransport {
	t.Helper()
	select {
	case tr := <-h.transports:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for data transport start")
		return nil
	}
}

// decodePayload unmarshals a frame payload into out.
func decodePayload(t *testing.T, frame *protocol.Frame, out any) {
	t.Helper()
	if err := json.Unmarshal(frame.Data, out); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", frame.Op, err)
	}
}

// handshake drives a full login through session description and
// returns the live socket and transport.
func (h *harness) handshake(t *testing.T, helloIntervalMs float64) (*fakeSocket, *fakeDataTransport) {
	t.Helper()

	if err := h.m.Login(); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	sock := h.currentSocket(t)

	if frame := sock.nextFrame(t); frame.Op != protocol.OpIdentify {
		t.Fatalf("Expected Identify, got %s", frame.Op)
	}

	sock.deliver(t, `{"op":8,"d":{"heartbeat_interval":`+jsonNumber(helloIntervalMs)+`}}`)
	if frame := sock.nextFrame(t); frame.Op != protocol.OpHeartbeat {
		t.Fatalf("Expected immediate Heartbeat after Hello, got %s", frame.Op)
	}

	sock.deliver(t, `{"op":2,"d":{"ssrc":777,"ip":"198.51.100.4","port":5555,"modes":["xsalsa20_poly1305"]}}`)
	tr := h.currentTransport(t)

	if frame := sock.nextFrame(t); frame.Op != protocol.OpSelectProtocol {
		t.Fatalf("Expected SelectProtocol, got %s", frame.Op)
	}

	sock.deliver(t, `{"op":4,"d":{"mode":"xsalsa20_poly1305","secret_key":[`+secretKeyJSON+`]}}`)
	select {
	case <-tr.starts:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for encrypted session start")
	}

	return sock, tr
}

const secretKeyJSON = `1,2,3,4,5,6,7,8,9,10,11,12,13,14,15,16,17,18,19,20,21,22,23,24,25,26,27,28,29,30,31,32`

func jsonNumber(f float64) string {
	data, _ := json.Marshal(f)
	return string(data)
}
