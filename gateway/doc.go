// Package gateway implements the connection supervisor for the voice
// signalling channel.
//
// A Manager owns one control-plane websocket connection to a voice
// server, drives the identify/resume handshake, supervises liveness
// through heartbeats, starts the UDP data plane once the server has
// assigned a stream, and recovers from transient failures by
// reconnecting with either a fresh or a resumed session.
//
// All protocol state is owned by a single event loop goroutine per
// Manager. Timers, the websocket read pump, the outbound queue, and
// the data transport all report back into that loop, so no state is
// ever mutated concurrently.
package gateway
