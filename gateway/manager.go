package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voicegate/protocol"
)

// Session is the immutable identity of one voice session, supplied at
// construction and used to build both Identify and Resume payloads.
type Session struct {
	ServerID  string
	UserID    string
	SessionID string
	Token     string
	Endpoint  string // host[:port] of the voice server
	Version   int    // signalling protocol version for the connection URI
}

// resumeToken is the snapshot needed to resume a session across
// reconnects. Captured on every successful identify or resume; cleared
// only by a fresh restart.
type resumeToken struct {
	serverID  string
	sessionID string
	token     string
}

// Heartbeat and restart policy constants.
const (
	// heartbeatSafety scales the server's nominal heartbeat interval
	// down so scheduling jitter cannot produce a false missed ack.
	heartbeatSafety = 0.75

	delayTransportError = time.Second
	delayDecodeError    = time.Second
	delayMissedAck      = 0 * time.Millisecond
	delayNonceMismatch  = 500 * time.Millisecond
)

var (
	// ErrManagerStopped is returned by calls made after the supervisor
	// has fully stopped.
	ErrManagerStopped = errors.New("voice connection stopped")

	// ErrLoginInProgress is returned when a login is requested while a
	// previous connection or queue is still live.
	ErrLoginInProgress = errors.New("voice login already in progress")

	// ErrShuttingDown is returned when a login is requested after
	// logout.
	ErrShuttingDown = errors.New("voice connection shutting down")
)

// SpeakingFunc receives per-user speaking-state change notifications.
// It is called from the supervisor's event loop and must not block.
type SpeakingFunc func(userID string, ssrc uint32, speaking bool)

// Manager is the connection supervisor: the protocol state machine
// that owns the control websocket, the outbound queue, the heartbeat
// scheduler, and the data transport handle for one voice session.
//
// A Manager runs a single event loop goroutine. All fields below the
// marker are owned by that loop and never touched elsewhere.
type Manager struct {
	session Session

	dial         socketDialer
	newTransport TransportFactory

	events  chan event
	stopped chan struct{}

	onSpeaking SpeakingFunc

	// Loop-owned state. No locks: mutation happens only on the event
	// loop goroutine.
	state          connState
	phase          handshakePhase
	gen            uint64
	attemptID      string
	sock           controlSocket
	queue          *outboundQueue
	data           DataTransport
	resume         *resumeToken
	ssrc           uint32
	lastNonce      int64
	ackPending     bool
	interval       time.Duration
	shuttingDown   bool
	join           joinState
	reloginPending bool
	finished       bool
	timers         *timerSet
}

// NewManager validates the session identity and starts the supervisor
// event loop in the Inactive state. Call Login to open the control
// connection.
func NewManager(session Session) (*Manager, error) {
	if session.ServerID == "" || session.UserID == "" {
		return nil, errors.New("session server and user IDs cannot be empty")
	}
	if session.SessionID == "" || session.Token == "" {
		return nil, errors.New("session ID and token cannot be empty")
	}
	if session.Endpoint == "" {
		return nil, errors.New("session endpoint cannot be empty")
	}
	if session.Version == 0 {
		session.Version = 4
	}

	m := &Manager{
		session:      session,
		dial:         dialControlSocket,
		newTransport: dialDataTransport,
		events:       make(chan event, 64),
		stopped:      make(chan struct{}),
		state:        StateInactive,
		join:         joinBothDone,
		timers:       newTimerSet(),
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewManager",
		"server_id": session.ServerID,
		"endpoint":  session.Endpoint,
	}).Info("Voice connection supervisor created")

	go m.run()

	return m, nil
}

// OnSpeaking registers the subscriber for speaking-state notifications.
// Must be called before Login.
func (m *Manager) OnSpeaking(fn SpeakingFunc) {
	m.onSpeaking = fn
}

// Login opens the control connection and begins the handshake. It
// blocks until the websocket upgrade either succeeds or is rejected; a
// rejected upgrade is fatal for the attempt and is not retried.
func (m *Manager) Login() error {
	reply := make(chan error, 1)
	select {
	case m.events <- event{kind: evLogin, reply: reply}:
	case <-m.stopped:
		return ErrManagerStopped
	}
	select {
	case err := <-reply:
		return err
	case <-m.stopped:
		return ErrManagerStopped
	}
}

// Logout requests a graceful shutdown. The supervisor stops only after
// both the control channel and the data transport have reported
// completion; Wait blocks until then.
func (m *Manager) Logout() {
	m.post(event{kind: evLogout})
}

// Restart requests a reconnect after delay. A fresh restart discards
// the resume token so the next handshake is a full Identify.
func (m *Manager) Restart(fresh bool, delay time.Duration) {
	m.post(event{kind: evRestart, fresh: fresh, delay: delay})
}

// SetSpeaking forwards the local user's speaking state to the server.
// A no-op while no control connection or ssrc is established.
func (m *Manager) SetSpeaking(speaking bool) {
	m.post(event{kind: evSetSpeaking, speaking: speaking})
}

// Wait blocks until the supervisor has fully stopped.
func (m *Manager) Wait() {
	<-m.stopped
}

// Done returns a channel closed once the supervisor has fully stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.stopped
}

// post delivers an event to the loop unless the supervisor has already
// stopped.
func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.stopped:
	}
}

// run is the supervisor's event loop. It is the only goroutine that
// touches loop-owned state.
func (m *Manager) run() {
	for ev := range m.events {
		m.handle(ev)
		if m.finished {
			m.timers.CancelAll()
			close(m.stopped)
			return
		}
	}
}

func (m *Manager) handle(ev event) {
	switch ev.kind {
	case evLogin:
		m.handleLogin(ev.reply)
	case evLogout:
		m.handleLogout()
	case evRestart:
		if !m.shuttingDown {
			m.restart(ev.fresh, ev.delay, "requested")
		}
	case evSetSpeaking:
		m.handleSetSpeaking(ev.speaking)
	case evInboundFrame:
		if ev.gen == m.gen && m.sock != nil {
			m.handleFrame(ev.data, ev.binary)
		}
	case evControlError:
		if ev.gen == m.gen && m.sock != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "handle",
				"attempt_id": m.attemptID,
				"error":      ev.err.Error(),
			}).Warn("Control channel error")
			m.restart(true, delayTransportError, "transport_error")
		}
	case evControlClosed:
		if ev.gen == m.gen {
			m.join = m.join.withControlDone()
			m.afterCompletion()
		}
	case evQueueDone:
		if ev.gen == m.gen && m.queue != nil {
			// The pump only exits on its own when a write failed.
			m.restart(true, delayTransportError, "queue_failure")
		}
	case evHeartbeatTick:
		if ev.gen == m.gen && m.sock != nil {
			m.handleHeartbeatTick()
		}
	case evReconnectTick:
		if ev.gen == m.gen && !m.shuttingDown {
			if m.join == joinBothDone {
				m.doLogin(nil)
			} else {
				// Previous epoch still draining; log in once both
				// completions are observed.
				m.reloginPending = true
			}
		}
	case evCandidate:
		if ev.gen == m.gen && m.sock != nil {
			m.handleCandidate(ev.address, ev.port)
		}
	case evTransportTerminated:
		if ev.gen == m.gen {
			m.data = nil
			m.join = m.join.withDataDone()
			m.afterCompletion()
		}
	}
}

func (m *Manager) handleLogin(reply chan error) {
	if m.shuttingDown {
		reply <- ErrShuttingDown
		return
	}
	if m.state != StateInactive || m.queue != nil {
		reply <- ErrLoginInProgress
		return
	}
	m.doLogin(reply)
}

// doLogin opens a new control connection epoch. reply is nil for
// internally scheduled re-logins.
func (m *Manager) doLogin(reply chan error) {
	m.state = StateConnecting
	m.gen++
	m.attemptID = uuid.New().String()

	url := fmt.Sprintf("wss://%s/?v=%d", m.session.Endpoint, m.session.Version)

	logrus.WithFields(logrus.Fields{
		"function":   "doLogin",
		"attempt_id": m.attemptID,
		"url":        url,
		"resuming":   m.resume != nil,
	}).Info("Opening control connection")

	sock, err := m.dial(url)
	if err != nil {
		m.state = StateInactive
		logrus.WithFields(logrus.Fields{
			"function":   "doLogin",
			"attempt_id": m.attemptID,
			"error":      err.Error(),
		}).Error("Control connection upgrade rejected")
		if reply != nil {
			reply <- fmt.Errorf("voice login failed: %w", err)
		}
		return
	}

	m.sock = sock
	m.state = StateActive
	m.phase = phaseAwaitingHello
	m.join = joinDataDone // data plane not started yet
	m.ackPending = false
	m.lastNonce = 0
	m.queue = newOutboundQueue(sock)

	gen := m.gen
	go m.readPump(sock, gen)
	go m.watchQueue(m.queue, gen)

	if m.resume != nil {
		m.send(protocol.OpResume, protocol.ResumePayload{
			ServerID:  m.resume.serverID,
			SessionID: m.resume.sessionID,
			Token:     m.resume.token,
		})
	} else {
		m.send(protocol.OpIdentify, protocol.IdentifyPayload{
			ServerID:  m.session.ServerID,
			UserID:    m.session.UserID,
			SessionID: m.session.SessionID,
			Token:     m.session.Token,
		})
	}

	if reply != nil {
		reply <- nil
	}
}

func (m *Manager) handleLogout() {
	if m.shuttingDown {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":   "handleLogout",
		"attempt_id": m.attemptID,
	}).Info("Logout requested")

	m.shuttingDown = true
	m.state = StateShuttingDown
	m.timers.CancelAll()
	m.teardown()
	m.maybeStop()
}

func (m *Manager) handleSetSpeaking(speaking bool) {
	if m.queue == nil || m.ssrc == 0 {
		// No control connection or no assigned stream yet.
		return
	}
	m.send(protocol.OpSpeaking, protocol.SpeakingPayload{
		Speaking: speaking,
		SSRC:     m.ssrc,
		UserID:   m.session.UserID,
	})
}

// handleFrame decodes one inbound frame and dispatches on its opcode.
// A decode failure is not fatal for the process, but partial protocol
// state cannot be resynchronized frame-by-frame, so the connection is
// restarted keeping the resume token.
func (m *Manager) handleFrame(data []byte, binary bool) {
	frame, err := protocol.Unmarshal(data, binary)
	if err != nil {
		m.decodeFailure(err)
		return
	}

	switch frame.Op {
	case protocol.OpHello:
		m.handleHello(frame)
	case protocol.OpReady:
		m.handleReady(frame)
	case protocol.OpSessionDescription:
		m.handleSessionDescription(frame)
	case protocol.OpHeartbeatACK:
		m.handleHeartbeatACK(frame)
	case protocol.OpSpeaking:
		m.handleSpeakingFrame(frame)
	case protocol.OpResumed:
		m.captureResumeToken()
		m.phase = phaseOperational
	case protocol.OpClientConnect, protocol.OpClientDisconnect:
		// Informational, ignored.
	default:
		logrus.WithFields(logrus.Fields{
			"function":   "handleFrame",
			"attempt_id": m.attemptID,
			"opcode":     int(frame.Op),
		}).Debug("Ignoring unhandled opcode")
	}
}

func (m *Manager) decodeFailure(err error) {
	decodeErrorsTotal.Inc()
	logrus.WithFields(logrus.Fields{
		"function":   "decodeFailure",
		"attempt_id": m.attemptID,
		"error":      err.Error(),
	}).Warn("Inbound frame decode failed")
	m.restart(false, delayDecodeError, "decode_error")
}

func (m *Manager) handleHello(frame *protocol.Frame) {
	var hello protocol.HelloPayload
	if err := json.Unmarshal(frame.Data, &hello); err != nil {
		m.decodeFailure(err)
		return
	}
	if hello.HeartbeatInterval <= 0 {
		m.decodeFailure(errors.New("invalid heartbeat interval"))
		return
	}

	m.interval = time.Duration(hello.HeartbeatInterval * heartbeatSafety * float64(time.Millisecond))

	logrus.WithFields(logrus.Fields{
		"function":   "handleHello",
		"attempt_id": m.attemptID,
		"nominal_ms": hello.HeartbeatInterval,
		"interval":   m.interval,
	}).Debug("Heartbeat interval negotiated")

	// One heartbeat goes out immediately; the first scheduled tick
	// then finds the acknowledgement slot satisfied.
	m.sendHeartbeat()
	m.ackPending = false
	m.armHeartbeat()

	if m.phase == phaseAwaitingHello {
		m.phase = phaseAwaitingReady
	}
}

func (m *Manager) handleReady(frame *protocol.Frame) {
	if m.phase != phaseAwaitingReady {
		// A duplicate or out-of-order Ready must not dial a second
		// data transport over the live one.
		logrus.WithFields(logrus.Fields{
			"function":   "handleReady",
			"attempt_id": m.attemptID,
			"phase":      int(m.phase),
		}).Warn("Ignoring out-of-phase Ready")
		return
	}

	var ready protocol.ReadyPayload
	if err := json.Unmarshal(frame.Data, &ready); err != nil {
		m.decodeFailure(err)
		return
	}

	m.ssrc = ready.SSRC
	m.captureResumeToken()

	address := ready.IP
	if address == "" {
		address = hostOnly(m.session.Endpoint)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "handleReady",
		"attempt_id": m.attemptID,
		"ssrc":       ready.SSRC,
		"address":    address,
		"port":       ready.Port,
	}).Info("Session ready, starting data transport")

	gen := m.gen
	data, err := m.newTransport(address, ready.Port, ready.SSRC,
		func(addr string, port uint16) {
			m.post(event{kind: evCandidate, gen: gen, address: addr, port: port})
		},
		func() {
			m.post(event{kind: evTransportTerminated, gen: gen})
		},
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleReady",
			"attempt_id": m.attemptID,
			"error":      err.Error(),
		}).Error("Failed to start data transport")
		m.restart(false, delayTransportError, "data_dial_error")
		return
	}

	m.data = data
	m.join = joinNeitherDone
	m.phase = phaseAwaitingSessionDescription

	if err := data.Discover(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "handleReady",
			"attempt_id": m.attemptID,
			"error":      err.Error(),
		}).Error("IP discovery request failed")
		m.restart(false, delayTransportError, "discovery_error")
	}
}

// handleCandidate answers a discovered candidate with SelectProtocol.
// The candidate is never stored; it exists only inside this event.
func (m *Manager) handleCandidate(address string, port uint16) {
	logrus.WithFields(logrus.Fields{
		"function":   "handleCandidate",
		"attempt_id": m.attemptID,
		"address":    address,
		"port":       port,
	}).Debug("Selecting data protocol")

	m.send(protocol.OpSelectProtocol, protocol.SelectProtocolPayload{
		Protocol: "udp",
		Data: protocol.SelectProtocolData{
			Address: address,
			Port:    port,
			Mode:    protocol.TransportMode,
		},
	})
}

func (m *Manager) handleSessionDescription(frame *protocol.Frame) {
	if m.phase != phaseAwaitingSessionDescription {
		logrus.WithFields(logrus.Fields{
			"function":   "handleSessionDescription",
			"attempt_id": m.attemptID,
			"phase":      int(m.phase),
		}).Warn("Ignoring out-of-phase session description")
		return
	}

	var desc protocol.SessionDescriptionPayload
	if err := json.Unmarshal(frame.Data, &desc); err != nil {
		m.decodeFailure(err)
		return
	}

	if m.data != nil {
		if err := m.data.StartEncryptedSession(desc.SecretKey); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "handleSessionDescription",
				"attempt_id": m.attemptID,
				"error":      err.Error(),
			}).Error("Failed to arm encrypted session")
		}
	}
	m.phase = phaseOperational

	logrus.WithFields(logrus.Fields{
		"function":   "handleSessionDescription",
		"attempt_id": m.attemptID,
		"ssrc":       m.ssrc,
	}).Info("Voice session operational")
}

func (m *Manager) handleHeartbeatACK(frame *protocol.Frame) {
	var nonce int64
	if err := json.Unmarshal(frame.Data, &nonce); err != nil {
		m.decodeFailure(err)
		return
	}

	if nonce != m.lastNonce {
		livenessFailuresTotal.WithLabelValues("nonce_mismatch").Inc()
		logrus.WithFields(logrus.Fields{
			"function":   "handleHeartbeatACK",
			"attempt_id": m.attemptID,
			"expected":   m.lastNonce,
			"received":   nonce,
		}).Warn("Heartbeat nonce mismatch")
		m.restart(false, delayNonceMismatch, "nonce_mismatch")
		return
	}

	m.ackPending = false
	heartbeatAcksTotal.Inc()
}

func (m *Manager) handleSpeakingFrame(frame *protocol.Frame) {
	var speaking protocol.SpeakingPayload
	if err := json.Unmarshal(frame.Data, &speaking); err != nil {
		m.decodeFailure(err)
		return
	}

	if m.onSpeaking != nil {
		m.onSpeaking(speaking.UserID, speaking.SSRC, speaking.Speaking)
	}
}

// handleHeartbeatTick fires on each scheduler tick: a still-pending
// acknowledgement is a liveness failure, otherwise a new heartbeat
// goes out.
func (m *Manager) handleHeartbeatTick() {
	if m.ackPending {
		livenessFailuresTotal.WithLabelValues("missed_ack").Inc()
		logrus.WithFields(logrus.Fields{
			"function":   "handleHeartbeatTick",
			"attempt_id": m.attemptID,
			"nonce":      m.lastNonce,
		}).Warn("Heartbeat acknowledgement missed")
		m.restart(false, delayMissedAck, "missed_ack")
		return
	}

	m.sendHeartbeat()
	m.armHeartbeat()
}

// sendHeartbeat emits a heartbeat with a fresh millisecond-time nonce
// and marks the acknowledgement pending.
func (m *Manager) sendHeartbeat() {
	nonce := time.Now().UnixMilli()
	m.lastNonce = nonce
	m.ackPending = true
	m.send(protocol.OpHeartbeat, nonce)
	heartbeatsSentTotal.Inc()
}

func (m *Manager) armHeartbeat() {
	gen := m.gen
	m.timers.Arm(timerHeartbeat, m.interval, func() {
		m.post(event{kind: evHeartbeatTick, gen: gen})
	})
}

// captureResumeToken snapshots the resumable identity after a
// successful identify or resume.
func (m *Manager) captureResumeToken() {
	m.resume = &resumeToken{
		serverID:  m.session.ServerID,
		sessionID: m.session.SessionID,
		token:     m.session.Token,
	}
}

// restart is the single recovery path for transport errors, decode
// errors, and liveness failures: tear down both transports, then
// schedule a re-login after delay. A fresh restart drops the resume
// token so the next handshake is a full Identify.
func (m *Manager) restart(fresh bool, delay time.Duration, reason string) {
	reconnectsTotal.WithLabelValues(reason).Inc()

	logrus.WithFields(logrus.Fields{
		"function":   "restart",
		"attempt_id": m.attemptID,
		"fresh":      fresh,
		"delay":      delay,
		"reason":     reason,
	}).Info("Restarting voice connection")

	if fresh {
		m.resume = nil
	}

	m.teardown()

	if m.shuttingDown {
		return
	}

	gen := m.gen
	m.timers.Arm(timerReconnect, delay, func() {
		m.post(event{kind: evReconnectTick, gen: gen})
	})
}

// teardown closes the current epoch's queue, socket, and data
// transport. Completion events from each side flow back into the loop
// and advance the join state.
func (m *Manager) teardown() {
	m.timers.Cancel(timerHeartbeat)

	if m.queue != nil {
		m.queue.Complete()
		m.queue = nil
	}
	if m.sock != nil {
		_ = m.sock.Close()
		m.sock = nil
	}
	if m.data != nil {
		_ = m.data.Disconnect()
		m.data = nil
	}

	m.ssrc = 0
	m.ackPending = false
	m.lastNonce = 0
	m.phase = phaseAwaitingHello
	if !m.shuttingDown {
		m.state = StateInactive
	}
}

// afterCompletion runs when either side reports completion: finish the
// shutdown if one was requested, or start the deferred re-login once
// the previous epoch has fully drained.
func (m *Manager) afterCompletion() {
	logrus.WithFields(logrus.Fields{
		"function":   "afterCompletion",
		"attempt_id": m.attemptID,
		"join":       m.join.String(),
	}).Debug("Observed transport completion")

	if m.shuttingDown {
		m.maybeStop()
		return
	}
	if m.reloginPending && m.join == joinBothDone {
		m.reloginPending = false
		m.doLogin(nil)
	}
}

// maybeStop finishes the supervisor once a shutdown was requested and
// both sides have completed.
func (m *Manager) maybeStop() {
	if m.shuttingDown && m.join == joinBothDone {
		logrus.WithFields(logrus.Fields{
			"function":   "maybeStop",
			"attempt_id": m.attemptID,
		}).Info("Both transports complete, stopping supervisor")
		m.finished = true
	}
}

// send encodes and enqueues one outbound frame.
func (m *Manager) send(op protocol.Opcode, payload any) {
	if m.queue == nil {
		return
	}

	frame, err := protocol.Marshal(op, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "send",
			"attempt_id": m.attemptID,
			"opcode":     op.String(),
			"error":      err.Error(),
		}).Error("Failed to encode outbound frame")
		return
	}

	if err := m.queue.Enqueue(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "send",
			"attempt_id": m.attemptID,
			"opcode":     op.String(),
			"error":      err.Error(),
		}).Warn("Failed to enqueue outbound frame")
	}
}

// readPump delivers inbound frames and the control channel's
// completion into the event loop. Runs once per connection epoch.
func (m *Manager) readPump(sock controlSocket, gen uint64) {
	for {
		msgType, data, err := sock.ReadMessage()
		if err != nil {
			m.post(event{kind: evControlError, gen: gen, err: err})
			m.post(event{kind: evControlClosed, gen: gen})
			return
		}
		m.post(event{
			kind:   evInboundFrame,
			gen:    gen,
			binary: msgType == websocket.BinaryMessage,
			data:   data,
		})
	}
}

// watchQueue surfaces the outbound queue's completion signal.
func (m *Manager) watchQueue(q *outboundQueue, gen uint64) {
	<-q.Done()
	m.post(event{kind: evQueueDone, gen: gen})
}

// hostOnly strips an optional port from an endpoint string.
func hostOnly(endpoint string) string {
	if host, _, err := net.SplitHostPort(endpoint); err == nil {
		return host
	}
	return endpoint
}
