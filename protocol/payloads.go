package protocol

// TransportMode is the only encryption mode the data plane supports.
const TransportMode = "xsalsa20_poly1305"

// IdentifyPayload opens a fresh session on the voice server.
type IdentifyPayload struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// ResumePayload continues a previously established session after a
// reconnect. It deliberately omits the user ID; the server resolves it
// from the session.
type ResumePayload struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

// SelectProtocolPayload tells the server which data-plane endpoint and
// encryption mode the client selected after IP discovery.
type SelectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

// SelectProtocolData carries the discovered candidate.
type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// SpeakingPayload is sent in both directions: outbound to flag the
// local user's speaking state, inbound to relay other users' states.
type SpeakingPayload struct {
	Speaking bool   `json:"speaking"`
	Delay    int    `json:"delay,omitempty"`
	SSRC     uint32 `json:"ssrc"`
	UserID   string `json:"user_id,omitempty"`
}

// HelloPayload announces the server's nominal heartbeat interval in
// milliseconds.
type HelloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

// ReadyPayload completes the handshake: the server assigns the ssrc and
// names the UDP endpoint for the data plane. Remaining fields on the
// wire are ignored.
type ReadyPayload struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  uint16   `json:"port"`
	Modes []string `json:"modes"`
}

// SessionDescriptionPayload delivers the symmetric key for the
// encrypted data session.
type SessionDescriptionPayload struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}
