// Package voicegate implements a client-side state machine for a
// real-time voice signalling channel.
//
// A Client maintains a persistent control-plane websocket connection
// to a voice server, performs the identify/resume handshake, keeps the
// connection alive with heartbeats, and hands off to a UDP data plane
// for IP discovery and encrypted audio transport. Transient failures
// are recovered transparently by reconnecting with either a fresh or a
// resumed session.
//
// Example:
//
//	options := voicegate.NewOptions()
//	options.ServerID = "41771983423143937"
//	options.UserID = "104694319306248192"
//	options.SessionID = sessionID
//	options.Token = token
//	options.Endpoint = "voice.example.com"
//
//	client, err := voicegate.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.OnSpeaking(func(userID string, ssrc uint32, speaking bool) {
//	    fmt.Printf("%s speaking=%t (ssrc %d)\n", userID, speaking, ssrc)
//	})
//
//	if err := client.Login(); err != nil {
//	    log.Fatal(err)
//	}
//
//	client.SetSpeaking(true)
//
//	// ... later
//	client.Logout()
//	client.Wait()
package voicegate

import (
	"errors"
	"time"

	"github.com/opd-ai/voicegate/gateway"
)

// Options contains the session identity and connection settings for a
// voice client. All identity fields are required.
type Options struct {
	// ServerID identifies the guild or room on the voice server.
	ServerID string

	// UserID is the connecting user's identifier.
	UserID string

	// SessionID is the signalling session established out of band.
	SessionID string

	// Token authenticates against the voice server.
	Token string

	// Endpoint is the voice server's host, with an optional port.
	Endpoint string

	// Version selects the signalling protocol version in the
	// connection URI.
	Version int
}

// NewOptions creates Options with default settings.
func NewOptions() *Options {
	return &Options{
		Version: 4,
	}
}

// Client is one voice connection instance. Multiple clients may run
// concurrently, one per voice server.
type Client struct {
	manager *gateway.Manager
}

// New validates the options and creates a client in the inactive
// state. Call Login to connect.
func New(options *Options) (*Client, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}

	manager, err := gateway.NewManager(gateway.Session{
		ServerID:  options.ServerID,
		UserID:    options.UserID,
		SessionID: options.SessionID,
		Token:     options.Token,
		Endpoint:  options.Endpoint,
		Version:   options.Version,
	})
	if err != nil {
		return nil, err
	}

	return &Client{manager: manager}, nil
}

// OnSpeaking registers the callback notified of per-user
// speaking-state changes. Must be called before Login. The callback
// runs on the connection's event loop and must not block.
func (c *Client) OnSpeaking(fn func(userID string, ssrc uint32, speaking bool)) {
	c.manager.OnSpeaking(fn)
}

// Login opens the control connection and starts the handshake. A
// rejected websocket upgrade is returned as an error and is not
// retried.
func (c *Client) Login() error {
	return c.manager.Login()
}

// Logout gracefully shuts the connection down. The client stops once
// both the control channel and the data transport have completed; use
// Wait to block until then.
func (c *Client) Logout() {
	c.manager.Logout()
}

// Restart forces a reconnect after delay. A fresh restart discards the
// resume state so the next handshake is a full Identify.
func (c *Client) Restart(fresh bool, delay time.Duration) {
	c.manager.Restart(fresh, delay)
}

// SetSpeaking forwards the local user's speaking state. A no-op until
// the handshake has assigned a stream.
func (c *Client) SetSpeaking(speaking bool) {
	c.manager.SetSpeaking(speaking)
}

// Wait blocks until the client has fully stopped after Logout.
func (c *Client) Wait() {
	c.manager.Wait()
}

// Done returns a channel closed once the client has fully stopped.
func (c *Client) Done() <-chan struct{} {
	return c.manager.Done()
}
