package protocol

// Opcode identifies a voice signalling message variant.
type Opcode int

// Signalling opcodes.
const (
	// Name					Code	Sent by			Description
	OpIdentify           Opcode = iota // client	begin a voice websocket session
	OpSelectProtocol                   // client	select the data-plane protocol
	OpReady                            // server	complete the websocket handshake
	OpHeartbeat                        // client	keep the connection alive
	OpSessionDescription               // server	deliver the session secret
	OpSpeaking                         // both		indicate which users are speaking
	OpHeartbeatACK                     // server	acknowledge a client heartbeat
	OpResume                           // client	resume a prior session
	OpHello                            // server	announce the heartbeat interval
	OpResumed                          // server	acknowledge a resume
	_
	_
	OpClientConnect    // server	informational, ignored
	OpClientDisconnect // server	informational, ignored
)

// String returns a human-readable opcode name for logging.
func (op Opcode) String() string {
	switch op {
	case OpIdentify:
		return "Identify"
	case OpSelectProtocol:
		return "SelectProtocol"
	case OpReady:
		return "Ready"
	case OpHeartbeat:
		return "Heartbeat"
	case OpSessionDescription:
		return "SessionDescription"
	case OpSpeaking:
		return "Speaking"
	case OpHeartbeatACK:
		return "HeartbeatACK"
	case OpResume:
		return "Resume"
	case OpHello:
		return "Hello"
	case OpResumed:
		return "Resumed"
	case OpClientConnect:
		return "ClientConnect"
	case OpClientDisconnect:
		return "ClientDisconnect"
	default:
		return "Unknown"
	}
}
