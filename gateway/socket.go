package gateway

import (
	"fmt"

	"github.com/gorilla/websocket"
)

// controlSocket is the slice of a websocket connection the supervisor
// consumes. *websocket.Conn satisfies it; tests substitute a scripted
// fake.
type controlSocket interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// socketDialer opens the control-plane websocket. Injectable so the
// state machine can be driven without a network.
type socketDialer func(url string) (controlSocket, error)

// dialControlSocket is the production dialer.
func dialControlSocket(url string) (controlSocket, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return conn, nil
}
